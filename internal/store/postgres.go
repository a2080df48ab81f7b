package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/cheese-arena/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS arena_sessions (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	event_seq  BIGINT NOT NULL DEFAULT 0,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS arena_sessions_open_id_idx ON arena_sessions (status, id);`

// Postgres is the lib/pq backed Store. Row locks use SELECT ... FOR UPDATE.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens the pool, pings and ensures the schema.
func NewPostgres(databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate arena_sessions: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) Create(ctx context.Context, s *domain.Session) error {
	if s == nil || strings.TrimSpace(s.ID) == "" {
		return errMissingID
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO arena_sessions (id, status, event_seq, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		s.ID, string(s.Status), s.EventSeq, string(raw), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrExists
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*domain.Session, error) {
	return scanSession(p.db.QueryRowContext(ctx, `SELECT data FROM arena_sessions WHERE id = $1`, id))
}

func (p *Postgres) ListOpen(ctx context.Context, after string, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT data FROM arena_sessions
		WHERE status IN ($1, $2) AND id > $3
		ORDER BY id ASC
		LIMIT $4`, string(domain.StatusPending), string(domain.StatusActive), after, limit)
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetForUpdate(ctx context.Context, id string) (*domain.Session, error) {
	return scanSession(t.tx.QueryRowContext(ctx, `SELECT data FROM arena_sessions WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) Save(ctx context.Context, s *domain.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE arena_sessions
		SET status = $2, event_seq = $3, data = $4::jsonb, updated_at = $5
		WHERE id = $1 AND event_seq <= $3`,
		s.ID, string(s.Status), s.EventSeq, string(raw), s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := t.GetForUpdate(ctx, s.ID); err != nil {
			return err
		}
		return ErrStale
	}
	return nil
}

func (t *pgTx) Commit() error { return t.tx.Commit() }

func (t *pgTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}
