package hooks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS arena_results (
	session_id    TEXT PRIMARY KEY,
	white_id      TEXT NOT NULL,
	white_name    TEXT NOT NULL DEFAULT '',
	black_id      TEXT NOT NULL,
	black_name    TEXT NOT NULL DEFAULT '',
	mode          TEXT NOT NULL,
	time_control  TEXT NOT NULL,
	rated         BOOLEAN NOT NULL DEFAULT FALSE,
	status        TEXT NOT NULL,
	result        TEXT NOT NULL,
	result_method TEXT NOT NULL,
	moves_uci     JSONB NOT NULL,
	moves_san     JSONB NOT NULL,
	pgn           TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL
);`

// Archive stores finished sessions with PGN in arena_results.
type Archive struct {
	db *sql.DB
}

func NewArchive(databaseURL string) (*Archive, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, archiveSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate arena_results: %w", err)
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// SessionFinished upserts the result; retries of the same session overwrite the row.
func (a *Archive) SessionFinished(ctx context.Context, f Finished) error {
	if a == nil || a.db == nil {
		return nil
	}
	movesUCI, _ := json.Marshal(nonNil(f.MovesUCI))
	movesSAN, _ := json.Marshal(nonNil(f.MovesSAN))
	duration := f.FinishedAt.Sub(f.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	const q = `INSERT INTO arena_results (
		session_id, white_id, white_name, black_id, black_name,
		mode, time_control, rated, status,
		result, result_method, moves_uci, moves_san, pgn,
		started_at, ended_at, duration_ms
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12::jsonb,$13::jsonb,$14,$15,$16,$17
	) ON CONFLICT (session_id) DO UPDATE SET
		status=EXCLUDED.status,
		result=EXCLUDED.result,
		result_method=EXCLUDED.result_method,
		moves_uci=EXCLUDED.moves_uci,
		moves_san=EXCLUDED.moves_san,
		pgn=EXCLUDED.pgn,
		ended_at=EXCLUDED.ended_at,
		duration_ms=EXCLUDED.duration_ms`

	_, err := a.db.ExecContext(ctx, q,
		f.SessionID,
		f.White.ID, f.White.Name,
		f.Black.ID, f.Black.Name,
		string(f.Mode), f.TimeControl.Name, f.Rated, string(f.Status),
		string(f.Result), string(f.Reason), string(movesUCI), string(movesSAN), BuildPGN(f),
		f.CreatedAt, f.FinishedAt, duration,
	)
	if err != nil {
		return fmt.Errorf("archive %s: %w", f.SessionID, err)
	}
	return nil
}

// BuildPGN renders a PGN from the SAN move list.
func BuildPGN(f Finished) string {
	var b strings.Builder
	date := f.FinishedAt
	if date.IsZero() {
		date = time.Now()
	}
	result := f.Result.PGN()
	b.WriteString("[Event \"Arena\"]\n")
	b.WriteString("[Site \"cheese-arena\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(displayName(f.White.Name, f.White.ID))))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(displayName(f.Black.Name, f.Black.ID))))
	if tc := pgnTimeControl(f); tc != "" {
		b.WriteString(fmt.Sprintf("[TimeControl \"%s\"]\n", tc))
	}
	if f.Reason != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(string(f.Reason))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	for i := 0; i < len(f.MovesSAN); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(f.MovesSAN[i])))
		if i+1 < len(f.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(f.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func pgnTimeControl(f Finished) string {
	tc := f.TimeControl
	if tc.Unlimited() {
		return "-"
	}
	if tc.WhiteInitial == 0 && tc.BlackInitial == 0 {
		return ""
	}
	// PGN has no asymmetric form; white's control is recorded
	return fmt.Sprintf("%d+%d", tc.WhiteInitial, tc.WhiteIncrement)
}

func displayName(name, id string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return id
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
