package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"protocolreserve/core/events"
	"protocolreserve/core/types"
	"protocolreserve/observability/logging"
)

// Record is the persisted form of a committed treasury event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"index;not null"`
	Attributes string    `gorm:"type:text"`
	RecordedAt time.Time `gorm:"index"`
}

// TableName pins the table used for event records.
func (Record) TableName() string { return "treasury_events" }

// Entry is a decoded journal record.
type Entry struct {
	ID         uuid.UUID         `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Query filters List results. Zero values match everything.
type Query struct {
	Type  string
	After uint64
	Limit int
}

// Journal appends committed events to a SQL table. It implements
// events.Emitter so it can be installed as an executor sink.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	seq uint64
}

var errNilDB = errors.New("journal: database required")

// Open connects to the sqlite database at dsn and prepares the schema.
func Open(dsn string, logger *slog.Logger) (*Journal, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", logging.MaskDSN(dsn), err)
	}
	return New(db, logger)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, logger *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errNilDB
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	var last Record
	res := db.Order("sequence desc").Limit(1).Find(&last)
	if res.Error != nil {
		return nil, fmt.Errorf("journal: load sequence: %w", res.Error)
	}
	return &Journal{
		db:     db,
		logger: logging.Component(logger, "journal"),
		now:    time.Now,
		seq:    last.Sequence,
	}, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type renderable interface {
	Event() *types.Event
}

// Emit persists ev. Write failures are logged since events are only
// published after the call that raised them committed.
func (j *Journal) Emit(ev events.Event) {
	if ev == nil {
		return
	}
	if err := j.Append(context.Background(), ev); err != nil {
		j.logger.Error("journal append failed", "event", ev.EventType(), "error", err)
	}
}

// Append persists ev and returns once it is stored.
func (j *Journal) Append(ctx context.Context, ev events.Event) error {
	rec := Record{ID: uuid.New(), Type: ev.EventType()}
	if r, ok := ev.(renderable); ok {
		if rendered := r.Event(); rendered != nil && len(rendered.Attributes) > 0 {
			raw, err := json.Marshal(rendered.Attributes)
			if err != nil {
				return fmt.Errorf("journal: encode %s: %w", rec.Type, err)
			}
			rec.Attributes = string(raw)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	rec.Sequence = j.seq + 1
	rec.RecordedAt = j.now().UTC()
	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return err
	}
	j.seq = rec.Sequence
	return nil
}

// List returns records matching q in sequence order.
func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	tx := j.db.WithContext(ctx).Model(&Record{}).Order("sequence asc")
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	if q.After > 0 {
		tx = tx.Where("sequence > ?", q.After)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var records []Record
	if err := tx.Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(records))
	for _, rec := range records {
		entry := Entry{ID: rec.ID, Sequence: rec.Sequence, Type: rec.Type, RecordedAt: rec.RecordedAt}
		if rec.Attributes != "" {
			if err := json.Unmarshal([]byte(rec.Attributes), &entry.Attributes); err != nil {
				return nil, fmt.Errorf("journal: decode record %d: %w", rec.Sequence, err)
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// Count reports the number of stored records.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n int64
	err := j.db.WithContext(ctx).Model(&Record{}).Count(&n).Error
	return n, err
}
