// Package indexer archives committed ledger events into a relational store so
// they can be queried and exported after the fact.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"charityledger/core/events"
)

const (
	// DefaultLimit caps a query that does not ask for a page size.
	DefaultLimit = 100
	// MaxLimit is the largest page a single query may return.
	MaxLimit = 1000
)

// ErrUnknownDriver is returned for a driver name other than sqlite or postgres.
var ErrUnknownDriver = errors.New("indexer: unknown driver")

// EventRecord is one archived event row.
type EventRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Sequence   uint64    `gorm:"index" json:"sequence"`
	Receipt    string    `gorm:"size:64;index" json:"receipt"`
	Type       string    `gorm:"size:96;index" json:"type"`
	CampaignID *uint64   `gorm:"index" json:"campaignId,omitempty"`
	Timestamp  int64     `json:"timestamp"`
	Attributes string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName pins the table name regardless of gorm naming strategy.
func (EventRecord) TableName() string { return "donation_events" }

// Attrs decodes the stored attribute map.
func (r EventRecord) Attrs() map[string]string {
	out := map[string]string{}
	if strings.TrimSpace(r.Attributes) == "" {
		return out
	}
	_ = json.Unmarshal([]byte(r.Attributes), &out)
	return out
}

// Query filters archived events. Zero values match everything.
type Query struct {
	Type          string
	CampaignID    *uint64
	AfterSequence uint64
	AfterID       uint64
	Limit         int
}

// Archive stores events through gorm. It implements events.Emitter so it can
// sit directly behind the node.
type Archive struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the archive database and migrates the schema.
func Open(driver, dsn string, log *slog.Logger) (*Archive, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	return New(db, log)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, log *slog.Logger) (*Archive, error) {
	if db == nil {
		return nil, errors.New("indexer: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Archive{db: db, logger: log}, nil
}

// Emit implements events.Emitter. Failures are logged; the ledger has already
// committed by the time events arrive here.
func (a *Archive) Emit(evt events.Event) {
	if err := a.Record(context.Background(), evt); err != nil {
		a.logger.Error("archive event", "type", evt.Type, "error", err)
	}
}

// Record persists evt.
func (a *Archive) Record(ctx context.Context, evt events.Event) error {
	record, err := recordFromEvent(evt)
	if err != nil {
		return err
	}
	return a.db.WithContext(ctx).Create(&record).Error
}

func recordFromEvent(evt events.Event) (EventRecord, error) {
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return EventRecord{}, fmt.Errorf("indexer: encode attributes: %w", err)
	}
	record := EventRecord{
		Type:       evt.Type,
		Receipt:    evt.Attributes["receipt"],
		Attributes: string(attrs),
	}
	if raw, ok := evt.Attributes["sequence"]; ok {
		record.Sequence, _ = strconv.ParseUint(raw, 10, 64)
	}
	if raw, ok := evt.Attributes["timestamp"]; ok {
		record.Timestamp, _ = strconv.ParseInt(raw, 10, 64)
	}
	if raw, ok := evt.Attributes["campaignId"]; ok {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			record.CampaignID = &id
		}
	}
	return record, nil
}

// Query returns archived events in the order they were recorded.
func (a *Archive) Query(ctx context.Context, q Query) ([]EventRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	tx := a.db.WithContext(ctx).Model(&EventRecord{})
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	if q.CampaignID != nil {
		tx = tx.Where("campaign_id = ?", *q.CampaignID)
	}
	if q.AfterSequence > 0 {
		tx = tx.Where("sequence > ?", q.AfterSequence)
	}
	if q.AfterID > 0 {
		tx = tx.Where("id > ?", q.AfterID)
	}
	var out []EventRecord
	if err := tx.Order("id ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
