package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/logic"
	"github.com/patrickwarner/adselection/internal/logic/predicates"
	"github.com/patrickwarner/adselection/internal/models"
)

var (
	// ErrNilRedisStore is returned when a lookup is attempted without a client.
	ErrNilRedisStore = errors.New("redis store is not configured")
	// ErrCatalogMissing is returned, wrapped in logic.ErrDataUnavailable, when
	// no synced catalog is present (expired, flushed or never written).
	ErrCatalogMissing = errors.New("catalog snapshot missing")
)

const (
	contentsKeyPrefix = "adsel:contents:"
	groupsKeyPrefix   = "adsel:groups:"
	// keyIndex lists every key written by the last SyncCatalog. It always
	// contains itself, so an empty catalog still leaves the index behind.
	keyIndex = "adsel:keys"
)

func contentsKey(marketplaceID string) string { return contentsKeyPrefix + marketplaceID }
func groupsKey(contentID string) string       { return groupsKeyPrefix + contentID }

// RedisStore serves catalog lookups from Redis. Content lists are stored per
// marketplace and targeting group records per content item, both as JSON.
type RedisStore struct {
	Client *redis.Client
	ttl    time.Duration
}

// InitRedis initializes a Redis client and returns a RedisStore whose
// snapshots expire after ttl (zero keeps them forever).
func InitRedis(addr string, ttl time.Duration) (*RedisStore, error) {
	rs := NewRedisStore(redis.NewClient(&redis.Options{Addr: addr}), ttl)

	// Add OpenTelemetry instrumentation to Redis client
	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{Client: client, ttl: ttl}
}

// SyncCatalog replaces the catalog held in Redis with cat in one
// transaction. Keys from the previous sync that are no longer part of the
// catalog are removed.
func (r *RedisStore) SyncCatalog(ctx context.Context, cat Catalog) error {
	if r == nil || r.Client == nil {
		return ErrNilRedisStore
	}

	byMarketplace := make(map[string][]models.AdvertisementContent)
	for _, c := range cat.Contents {
		byMarketplace[c.MarketplaceID] = append(byMarketplace[c.MarketplaceID], c)
	}
	byContent := make(map[string][]models.TargetingGroupRecord)
	for _, g := range cat.Groups {
		byContent[g.ContentID] = append(byContent[g.ContentID], g)
	}

	previous, err := r.Client.SMembers(ctx, keyIndex).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("list previous catalog keys: %w", err)
	}

	values := make(map[string][]byte, len(byMarketplace)+len(byContent))
	for id, contents := range byMarketplace {
		b, err := json.Marshal(contents)
		if err != nil {
			return fmt.Errorf("marshal contents for %s: %w", id, err)
		}
		values[contentsKey(id)] = b
	}
	for id, groups := range byContent {
		b, err := json.Marshal(groups)
		if err != nil {
			return fmt.Errorf("marshal groups for %s: %w", id, err)
		}
		values[groupsKey(id)] = b
	}

	_, err = r.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range previous {
			if _, keep := values[k]; !keep && k != keyIndex {
				pipe.Del(ctx, k)
			}
		}
		pipe.Del(ctx, keyIndex)
		pipe.SAdd(ctx, keyIndex, keyIndex)
		for k, v := range values {
			pipe.Set(ctx, k, v, r.ttl)
			pipe.SAdd(ctx, keyIndex, k)
		}
		if r.ttl > 0 {
			pipe.Expire(ctx, keyIndex, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return nil
}

// GetContents implements models.ContentLookup. A marketplace without a key
// in a live catalog has no content.
func (r *RedisStore) GetContents(ctx context.Context, marketplaceID string) ([]models.AdvertisementContent, error) {
	raw, err := r.get(ctx, contentsKey(marketplaceID))
	if err != nil || raw == nil {
		return nil, err
	}
	var contents []models.AdvertisementContent
	if err := json.Unmarshal(raw, &contents); err != nil {
		return nil, fmt.Errorf("%w: decode contents for %s: %w", logic.ErrDataUnavailable, marketplaceID, err)
	}
	return contents, nil
}

// GetTargetingGroups implements models.TargetingGroupLookup. Stored
// predicate specs are compiled on every read.
func (r *RedisStore) GetTargetingGroups(ctx context.Context, contentID string) ([]models.TargetingGroup, error) {
	raw, err := r.get(ctx, groupsKey(contentID))
	if err != nil || raw == nil {
		return nil, err
	}
	var recs []models.TargetingGroupRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("%w: decode groups for %s: %w", logic.ErrDataUnavailable, contentID, err)
	}
	groups, err := predicates.BuildGroups(recs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", logic.ErrDataUnavailable, err)
	}
	return groups, nil
}

// get returns nil, nil for a key missing from a live catalog. When the
// catalog index is gone too, the lookup fails with ErrCatalogMissing.
func (r *RedisStore) get(ctx context.Context, key string) ([]byte, error) {
	if r == nil || r.Client == nil {
		return nil, fmt.Errorf("%w: %w", logic.ErrDataUnavailable, ErrNilRedisStore)
	}
	raw, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, r.checkCatalog(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: redis get %s: %w", logic.ErrDataUnavailable, key, err)
	}
	return raw, nil
}

func (r *RedisStore) checkCatalog(ctx context.Context) error {
	n, err := r.Client.Exists(ctx, keyIndex).Result()
	if err != nil {
		return fmt.Errorf("%w: redis exists %s: %w", logic.ErrDataUnavailable, keyIndex, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %w", logic.ErrDataUnavailable, ErrCatalogMissing)
	}
	return nil
}

// CatalogUpdateChannel carries reload notifications between instances. The
// payload is the id of the publishing instance.
const CatalogUpdateChannel = "adsel:catalog-updates"

// PublishCatalogUpdate announces that origin reloaded the catalog.
func (r *RedisStore) PublishCatalogUpdate(ctx context.Context, origin string) error {
	if r == nil || r.Client == nil {
		return ErrNilRedisStore
	}
	return r.Client.Publish(ctx, CatalogUpdateChannel, origin).Err()
}

// SubscribeCatalogUpdates calls fn with the origin of every catalog update
// until ctx is done.
func (r *RedisStore) SubscribeCatalogUpdates(ctx context.Context, fn func(origin string)) error {
	if r == nil || r.Client == nil {
		return ErrNilRedisStore
	}
	sub := r.Client.Subscribe(ctx, CatalogUpdateChannel)
	defer func() {
		_ = sub.Close()
	}()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", CatalogUpdateChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn(msg.Payload)
		}
	}
}

// Ping checks the connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return ErrNilRedisStore
	}
	return r.Client.Ping(ctx).Err()
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
