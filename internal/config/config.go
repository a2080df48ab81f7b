package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig is everything cmd/arena needs to wire a process.
type AppConfig struct {
	HTTPAddr string
	// WSOriginPatterns lists cross-origin hosts allowed on the websocket. Empty means same origin only.
	WSOriginPatterns []string

	RedisURL    string
	DatabaseURL string
	StoreDriver string
	SQLitePath  string

	LockTTL     time.Duration
	EventLogCap int64
	EventLogTTL time.Duration

	FlushDelay    time.Duration
	FlushInterval time.Duration
	FlushParallel int

	SweepInterval  time.Duration
	SweepParallel  int64
	SweepBatch     int
	FirstMoveGrace time.Duration

	BotMoveDelay    time.Duration
	BotMoveTime     time.Duration
	StockfishPath   string
	StockfishPerElo int

	LegalMovesLimit  int
	DefaultPreset    string
	TimeControlsFile string

	FinishWebhookURL string
	ArchiveResults   bool

	// ChallengeTTL bounds how long an unanswered lobby challenge stays open.
	ChallengeTTL time.Duration
}

// Load reads the environment. Malformed optional values fall back to defaults; missing required ones fail.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:        ":8080",
		StoreDriver:     "postgres",
		SQLitePath:      "data/arena.db",
		LockTTL:         5 * time.Second,
		EventLogCap:     500,
		EventLogTTL:     48 * time.Hour,
		FlushDelay:      2 * time.Second,
		FlushInterval:   time.Second,
		FlushParallel:   8,
		SweepInterval:   time.Second,
		SweepParallel:   16,
		SweepBatch:      500,
		FirstMoveGrace:  30 * time.Second,
		BotMoveDelay:    300 * time.Millisecond,
		BotMoveTime:     500 * time.Millisecond,
		StockfishPerElo: 2,
		LegalMovesLimit: 64,
		DefaultPreset:   "blitz-5+3",
		ChallengeTTL:    24 * time.Hour,
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if v := strings.TrimSpace(os.Getenv("STORE_DRIVER")); v != "" {
		cfg.StoreDriver = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("SQLITE_PATH")); v != "" {
		cfg.SQLitePath = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"LOCK_TTL", &cfg.LockTTL},
		{"EVENT_LOG_TTL", &cfg.EventLogTTL},
		{"FLUSH_DELAY", &cfg.FlushDelay},
		{"FLUSH_INTERVAL", &cfg.FlushInterval},
		{"SWEEP_INTERVAL", &cfg.SweepInterval},
		{"FIRST_MOVE_GRACE", &cfg.FirstMoveGrace},
		{"BOT_MOVE_DELAY", &cfg.BotMoveDelay},
		{"BOT_MOVE_TIME", &cfg.BotMoveTime},
		{"CHALLENGE_TTL", &cfg.ChallengeTTL},
	}
	for _, d := range durations {
		if v := strings.TrimSpace(os.Getenv(d.key)); v != "" {
			if parsed, ok := parseDuration(v); ok {
				*d.dst = parsed
			}
		}
	}

	if v := strings.TrimSpace(os.Getenv("EVENT_LOG_CAP")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.EventLogCap = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("FLUSH_PARALLEL")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FlushParallel = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SWEEP_PARALLEL")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.SweepParallel = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SWEEP_BATCH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SweepBatch = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("LEGAL_MOVES_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.LegalMovesLimit = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("STOCKFISH_PER_ELO")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StockfishPerElo = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ARCHIVE_RESULTS")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ArchiveResults = b
		}
	}

	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	if v := strings.TrimSpace(os.Getenv("DEFAULT_TIME_CONTROL")); v != "" {
		cfg.DefaultPreset = v
	}
	cfg.TimeControlsFile = strings.TrimSpace(os.Getenv("TIME_CONTROLS_FILE"))
	cfg.FinishWebhookURL = strings.TrimSpace(os.Getenv("FINISH_WEBHOOK_URL"))
	cfg.WSOriginPatterns = splitList(os.Getenv("WS_ORIGIN_PATTERNS"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	switch c.StoreDriver {
	case "memory", "gorm-sqlite":
	case "postgres", "gorm-postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORE_DRIVER=%s", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.ArchiveResults && c.DatabaseURL == "" {
		return errors.New("ARCHIVE_RESULTS requires DATABASE_URL")
	}
	return nil
}

// parseDuration accepts Go durations ("1500ms") or bare seconds ("30").
func parseDuration(v string) (time.Duration, bool) {
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

// splitList parses a comma separated list, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
