package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/park285/cheese-arena/internal/domain"
)

type sessionRow struct {
	ID        string    `gorm:"primaryKey;size:64;index:idx_arena_sessions_open_id,priority:2"`
	Status    string    `gorm:"size:16;not null;index:idx_arena_sessions_open_id,priority:1"`
	EventSeq  int64     `gorm:"not null;default:0"`
	Data      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (sessionRow) TableName() string { return "arena_sessions" }

func rowFromSession(s *domain.Session) (sessionRow, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return sessionRow{}, fmt.Errorf("marshal session: %w", err)
	}
	return sessionRow{
		ID:        s.ID,
		Status:    string(s.Status),
		EventSeq:  s.EventSeq,
		Data:      string(raw),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}, nil
}

func (r sessionRow) toSession() (*domain.Session, error) {
	var s domain.Session
	if err := json.Unmarshal([]byte(r.Data), &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", r.ID, err)
	}
	return &s, nil
}

// OpenGorm opens a gorm connection for driver "postgres" or "sqlite".
func OpenGorm(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
		if dir := filepath.Dir(dsn); dir != "" && dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		db, err := gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, err
		}
		// sqlite has no row locks; one connection serializes transactions instead
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported gorm driver %q", driver)
	}
}

// Gorm is the ORM-backed Store (Postgres in production, SQLite for local runs and tests).
type Gorm struct {
	db *gorm.DB
}

func NewGorm(driver, dsn string) (*Gorm, error) {
	db, err := OpenGorm(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open gorm store: %w", err)
	}
	if err := db.AutoMigrate(&sessionRow{}); err != nil {
		return nil, fmt.Errorf("migrate arena_sessions: %w", err)
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) Create(ctx context.Context, s *domain.Session) error {
	if s == nil || strings.TrimSpace(s.ID) == "" {
		return errMissingID
	}
	row, err := rowFromSession(s)
	if err != nil {
		return err
	}
	res := g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("create session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrExists
	}
	return nil
}

func (g *Gorm) Get(ctx context.Context, id string) (*domain.Session, error) {
	return takeSession(g.db.WithContext(ctx), id)
}

func (g *Gorm) ListOpen(ctx context.Context, after string, limit int) ([]*domain.Session, error) {
	q := g.db.WithContext(ctx).
		Where("status IN ?", []string{string(domain.StatusPending), string(domain.StatusActive)}).
		Where("id > ?", after).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []sessionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	out := make([]*domain.Session, 0, len(rows))
	for _, r := range rows {
		s, err := r.toSession()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (g *Gorm) Begin(ctx context.Context) (Tx, error) {
	tx := g.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin: %w", tx.Error)
	}
	return &gormTx{tx: tx}, nil
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}

type gormTx struct {
	tx   *gorm.DB
	done bool
}

func (t *gormTx) GetForUpdate(ctx context.Context, id string) (*domain.Session, error) {
	return takeSession(t.tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (t *gormTx) Save(ctx context.Context, s *domain.Session) error {
	row, err := rowFromSession(s)
	if err != nil {
		return err
	}
	res := t.tx.WithContext(ctx).Model(&sessionRow{}).
		Where("id = ? AND event_seq <= ?", row.ID, row.EventSeq).
		Updates(map[string]any{
			"status":     row.Status,
			"event_seq":  row.EventSeq,
			"data":       row.Data,
			"updated_at": row.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("update session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := t.GetForUpdate(ctx, s.ID); err != nil {
			return err
		}
		return ErrStale
	}
	return nil
}

func (t *gormTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Commit().Error
}

func (t *gormTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback().Error
}

func takeSession(db *gorm.DB, id string) (*domain.Session, error) {
	var row sessionRow
	if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return row.toSession()
}
