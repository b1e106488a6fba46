package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/models"
)

// ErrDuplicateID is returned when an insert collides with an existing id.
var ErrDuplicateID = errors.New("id already exists")

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Postgres wraps a postgres DB connection.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the necessary tables if they don't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS advertisement_contents (
    content_id TEXT PRIMARY KEY,
    marketplace_id TEXT NOT NULL,
    renderable_content TEXT NOT NULL,
    position INT NOT NULL DEFAULT 0,
    active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS targeting_groups (
    group_id TEXT PRIMARY KEY,
    content_id TEXT NOT NULL REFERENCES advertisement_contents(content_id) ON DELETE CASCADE,
    click_through_rate DOUBLE PRECISION NOT NULL CHECK (click_through_rate >= 0 AND click_through_rate <= 1),
    predicates JSONB NOT NULL DEFAULT '[]',
    position INT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_contents_marketplace ON advertisement_contents (marketplace_id, position) WHERE active;
CREATE INDEX IF NOT EXISTS idx_targeting_groups_content ON targeting_groups (content_id, position);
`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	// Register the otelsql wrapper for postgres
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// ensureSchema creates the required tables if they do not exist.
func (p *Postgres) ensureSchema(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

// LoadContents retrieves active content ordered by marketplace and position.
// When marketplaceIDs is non-empty only those marketplaces are loaded.
func (p *Postgres) LoadContents(ctx context.Context, marketplaceIDs ...string) ([]models.AdvertisementContent, error) {
	query := `SELECT content_id, marketplace_id, renderable_content FROM advertisement_contents WHERE active`
	var args []interface{}
	if len(marketplaceIDs) > 0 {
		query += ` AND marketplace_id = ANY($1)`
		args = append(args, pq.Array(marketplaceIDs))
	}
	query += ` ORDER BY marketplace_id, position, content_id`

	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query contents: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var contents []models.AdvertisementContent
	for rows.Next() {
		var c models.AdvertisementContent
		if err := rows.Scan(&c.ContentID, &c.MarketplaceID, &c.RenderableContent); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		contents = append(contents, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return contents, nil
}

// LoadTargetingGroups retrieves the targeting groups of active content in
// declaration order.
func (p *Postgres) LoadTargetingGroups(ctx context.Context) ([]models.TargetingGroupRecord, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT g.group_id, g.content_id, g.click_through_rate, g.predicates, g.position
FROM targeting_groups g
JOIN advertisement_contents c ON c.content_id = g.content_id
WHERE c.active
ORDER BY g.content_id, g.position, g.group_id`)
	if err != nil {
		return nil, fmt.Errorf("query targeting groups: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var groups []models.TargetingGroupRecord
	for rows.Next() {
		var g models.TargetingGroupRecord
		var preds sql.NullString
		if err := rows.Scan(&g.ID, &g.ContentID, &g.ClickThroughRate, &preds, &g.Position); err != nil {
			return nil, fmt.Errorf("scan targeting group: %w", err)
		}
		if preds.Valid {
			specs, err := decodePredicates([]byte(preds.String))
			if err != nil {
				return nil, fmt.Errorf("targeting group %s: %w", g.ID, err)
			}
			g.Predicates = specs
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return groups, nil
}

// decodePredicates parses the JSONB predicate column.
func decodePredicates(raw []byte) ([]models.PredicateSpec, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var specs []models.PredicateSpec
	if err := json.Unmarshal(raw, &specs); err != nil {
		return nil, fmt.Errorf("parse predicates: %w", err)
	}
	return specs, nil
}

// InsertContent stores a content item at the given position.
func (p *Postgres) InsertContent(ctx context.Context, c models.AdvertisementContent, position int) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO advertisement_contents (content_id, marketplace_id, renderable_content, position) VALUES ($1,$2,$3,$4)`,
		c.ContentID, c.MarketplaceID, c.RenderableContent, position)
	if err != nil {
		return fmt.Errorf("insert content %s: %w", c.ContentID, classify(err))
	}
	return nil
}

// InsertTargetingGroup stores a targeting group with its predicate specs.
func (p *Postgres) InsertTargetingGroup(ctx context.Context, g models.TargetingGroupRecord) error {
	if err := (models.TargetingGroup{ID: g.ID, ClickThroughRate: g.ClickThroughRate}).Validate(); err != nil {
		return err
	}
	specs := g.Predicates
	if specs == nil {
		specs = []models.PredicateSpec{}
	}
	preds, err := json.Marshal(specs)
	if err != nil {
		return fmt.Errorf("marshal predicates: %w", err)
	}
	_, err = p.DB.ExecContext(ctx, `INSERT INTO targeting_groups (group_id, content_id, click_through_rate, predicates, position) VALUES ($1,$2,$3,$4,$5)`,
		g.ID, g.ContentID, g.ClickThroughRate, string(preds), g.Position)
	if err != nil {
		return fmt.Errorf("insert targeting group %s: %w", g.ID, classify(err))
	}
	return nil
}

// DeleteContents removes content items and, by cascade, their groups.
func (p *Postgres) DeleteContents(ctx context.Context, contentIDs []string) error {
	if len(contentIDs) == 0 {
		return nil
	}
	_, err := p.DB.ExecContext(ctx, `DELETE FROM advertisement_contents WHERE content_id = ANY($1)`, pq.Array(contentIDs))
	if err != nil {
		return fmt.Errorf("delete contents: %w", err)
	}
	return nil
}

// classify maps driver errors onto package sentinels.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicateID, pqErr.Message)
	}
	return err
}
