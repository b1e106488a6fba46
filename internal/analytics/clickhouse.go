package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/adselection/internal/models"
	"github.com/patrickwarner/adselection/internal/observability"
)

// Event types written to the events table.
const (
	EventAdSelected = "ad_selected"
	EventNoAd       = "no_ad"
)

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = errors.New("analytics unavailable")

// AnalyticsService defines the interface for analytics operations.
// Implementations should handle cases where underlying storage is unavailable
// by returning ErrUnavailable.
type AnalyticsService interface {
	// RecordSelection records the outcome of one selection request.
	RecordSelection(ctx context.Context, ev SelectionEvent) error
}

// SelectionEvent describes a served (or unserved) selection.
type SelectionEvent struct {
	RequestID     string
	CustomerID    string
	MarketplaceID string
	// ContentID is empty when nothing was selected.
	ContentID string
	Targeting models.TargetingContext
}

// EventType returns ad_selected or no_ad.
func (e SelectionEvent) EventType() string {
	if e.ContentID == "" {
		return EventNoAd
	}
	return EventAdSelected
}

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB      *sql.DB
	Metrics observability.MetricsRegistry
}

// EventRecord mirrors a row in the events table.
type EventRecord struct {
	Timestamp     time.Time         `json:"timestamp"`
	EventType     string            `json:"event_type"`
	RequestID     string            `json:"request_id"`
	CustomerID    string            `json:"customer_id"`
	MarketplaceID string            `json:"marketplace_id"`
	ContentID     *string           `json:"content_id"`
	DeviceType    *string           `json:"device_type"`
	Country       *string           `json:"country"`
	KeyValues     map[string]string `json:"key_values,omitempty"`
}

const createEventsTable = `CREATE TABLE IF NOT EXISTS selection_events (
       timestamp      DateTime,
       event_type     String,
       request_id     String,
       customer_id    String,
       marketplace_id String,
       content_id     Nullable(String),
       device_type    Nullable(String),
       country        Nullable(String),
       key_values     Map(String, String)
   ) ENGINE=MergeTree() ORDER BY (event_type, marketplace_id, timestamp)`

// InitClickHouse connects to ClickHouse and ensures the events table exists.
func InitClickHouse(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration, metrics observability.MetricsRegistry) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), createEventsTable); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}

	zap.L().Info("Connected to ClickHouse")
	return &Analytics{DB: db, Metrics: metrics}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// RecordSelection inserts a single event row.
func (a *Analytics) RecordSelection(ctx context.Context, ev SelectionEvent) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	keyValues := ev.Targeting.KeyValues
	if keyValues == nil {
		keyValues = map[string]string{}
	}

	eventType := ev.EventType()
	stmt := `INSERT INTO selection_events (timestamp, event_type, request_id, customer_id, marketplace_id, content_id, device_type, country, key_values) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := a.DB.ExecContext(ctx, stmt, time.Now(), eventType, ev.RequestID, ev.CustomerID, ev.MarketplaceID,
		nullString(ev.ContentID), nullString(ev.Targeting.DeviceType), nullString(ev.Targeting.Country), keyValues); err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("event_type", eventType))
		return fmt.Errorf("insert %s event: %w", eventType, err)
	}
	if a.Metrics != nil {
		a.Metrics.IncrementEvent(eventType)
	}
	return nil
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}

// GetEventsByRequestID returns all events for a given request ID ordered by timestamp.
func (a *Analytics) GetEventsByRequestID(ctx context.Context, id string) ([]EventRecord, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT timestamp, event_type, request_id, customer_id, marketplace_id, content_id, device_type, country, key_values FROM selection_events WHERE request_id=? ORDER BY timestamp`
	rows, err := a.DB.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var events []EventRecord
	for rows.Next() {
		var ev EventRecord
		if err := rows.Scan(&ev.Timestamp, &ev.EventType, &ev.RequestID, &ev.CustomerID, &ev.MarketplaceID, &ev.ContentID, &ev.DeviceType, &ev.Country, &ev.KeyValues); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}
