package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 5*time.Second, cfg.LockTTL)
	require.EqualValues(t, 500, cfg.EventLogCap)
	require.Equal(t, 30*time.Second, cfg.FirstMoveGrace)
	require.Equal(t, 64, cfg.LegalMovesLimit)
	require.Equal(t, 2, cfg.StockfishPerElo)
	require.Equal(t, 24*time.Hour, cfg.ChallengeTTL)
	require.Empty(t, cfg.StockfishPath)
	require.Empty(t, cfg.WSOriginPatterns)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("STORE_DRIVER", "GORM-SQLITE")
	t.Setenv("LOCK_TTL", "1500ms")
	t.Setenv("FIRST_MOVE_GRACE", "45")
	t.Setenv("EVENT_LOG_CAP", "not-a-number")
	t.Setenv("LEGAL_MOVES_LIMIT", "0")
	t.Setenv("WS_ORIGIN_PATTERNS", " app.example, ,*.cheese.dev ")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "gorm-sqlite", cfg.StoreDriver)
	require.Equal(t, 1500*time.Millisecond, cfg.LockTTL)
	require.Equal(t, 45*time.Second, cfg.FirstMoveGrace)
	require.EqualValues(t, 500, cfg.EventLogCap)
	require.Equal(t, 0, cfg.LegalMovesLimit)
	require.Equal(t, []string{"app.example", "*.cheese.dev"}, cfg.WSOriginPatterns)
}

func TestLoad_Required(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	_, err := Load()
	require.ErrorContains(t, err, "REDIS_URL")

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	_, err = Load()
	require.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("STORE_DRIVER", "mongo")
	_, err = Load()
	require.ErrorContains(t, err, "unknown STORE_DRIVER")
}
