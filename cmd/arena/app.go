package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/bot"
	"github.com/park285/cheese-arena/internal/bot/uci"
	"github.com/park285/cheese-arena/internal/broadcast"
	appcfg "github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/engine"
	"github.com/park285/cheese-arena/internal/eventlog"
	"github.com/park285/cheese-arena/internal/hooks"
	"github.com/park285/cheese-arena/internal/lock"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/redisconn"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/park285/cheese-arena/internal/timecontrol"
)

// app holds everything a subcommand may need. close releases it in reverse order.
type app struct {
	cfg       *appcfg.AppConfig
	log       *zap.Logger
	rdb       *redis.Client
	store     store.Store
	broadcast *broadcast.Redis
	presets   *timecontrol.Catalog
	engine    *engine.Engine

	closers []func() error
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := appcfg.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, log: obslog.L()}
	a.closers = append(a.closers, func() error { _ = a.log.Sync(); return nil })

	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	if a.rdb, err = redisconn.Open(ctx, cfg.RedisURL); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.rdb.Close)

	if a.store, err = store.Open(cfg.StoreDriver, cfg.DatabaseURL, cfg.SQLitePath); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	if a.presets, err = timecontrol.New(cfg.TimeControlsFile, cfg.DefaultPreset); err != nil {
		return nil, fmt.Errorf("time controls: %w", err)
	}

	hook, err := a.hooks()
	if err != nil {
		return nil, err
	}
	bots, err := a.bots()
	if err != nil {
		return nil, err
	}

	a.broadcast = broadcast.NewRedis(a.rdb, a.log.Named("broadcast"))
	a.engine, err = engine.New(engine.Deps{
		Store:     a.store,
		Locker:    lock.NewRedis(a.rdb, cfg.LockTTL),
		Events:    eventlog.New(a.rdb, int(cfg.EventLogCap), cfg.EventLogTTL),
		Rules:     rules.New(),
		Presets:   a.presets,
		Publisher: a.broadcast,
		Hook:      hook,
		Bots:      bots,
		Logger:    a.log.Named("engine"),
	}, engine.Config{
		FirstMoveGrace:  cfg.FirstMoveGrace,
		BotMoveDelay:    cfg.BotMoveDelay,
		LegalMovesLimit: cfg.LegalMovesLimit,
		FlushDelay:      cfg.FlushDelay,
		FlushParallel:   cfg.FlushParallel,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	a.log.Info("arena_ready",
		zap.String("store", cfg.StoreDriver),
		zap.Int64("event_log_cap", cfg.EventLogCap),
		zap.String("default_preset", cfg.DefaultPreset),
		zap.Bool("stockfish", cfg.StockfishPath != ""),
	)
	ok = true
	return a, nil
}

func (a *app) hooks() (hooks.Hook, error) {
	var multi hooks.Multi
	if a.cfg.ArchiveResults {
		arch, err := hooks.NewArchive(a.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		a.closers = append(a.closers, arch.Close)
		multi = append(multi, arch)
	}
	if a.cfg.FinishWebhookURL != "" {
		multi = append(multi, hooks.NewWebhook(a.cfg.FinishWebhookURL, hooks.WithRetry(3), hooks.WithTimeout(5*time.Second)))
	}
	if len(multi) == 0 {
		return nil, nil
	}
	return multi, nil
}

// bots prefers a Stockfish pool and falls back to random legal moves when it is absent or failing.
func (a *app) bots() (bot.Provider, error) {
	var provider bot.Provider = bot.NewRandom(rules.New(), time.Now().UnixNano())
	if a.cfg.StockfishPath == "" {
		a.log.Warn("stockfish_disabled", zap.String("reason", "STOCKFISH_PATH not set"))
	} else {
		pool, err := uci.NewPool(uci.PoolConfig{
			BinaryPath:     a.cfg.StockfishPath,
			PerEloCapacity: a.cfg.StockfishPerElo,
			Logger:         a.log.Named("uci"),
		})
		if err != nil {
			return nil, fmt.Errorf("stockfish: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		provider = bot.Fallback{
			Primary:   bot.NewStockfish(pool, a.cfg.BotMoveTime, a.log.Named("bot")),
			Secondary: provider,
			Log:       a.log,
		}
	}
	return provider, nil
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
