package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/httpapi"
	"github.com/park285/cheese-arena/internal/lobby"
	"github.com/park285/cheese-arena/internal/render"
	"github.com/park285/cheese-arena/internal/sweeper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and websocket push channel, with the sweeper and flusher",
	RunE:  runServe,
}

var serveNoSweep bool

func init() {
	serveCmd.Flags().BoolVar(&serveNoSweep, "no-sweep", false, "leave deadlines and stalled bots to a separate sweep worker")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var wg sync.WaitGroup
	a.background(ctx, &wg, !serveNoSweep)

	challenges := lobby.New(a.rdb, a.engine, lobby.Options{
		TTL:     a.cfg.ChallengeTTL,
		Presets: a.presets,
		Logger:  a.log.Named("lobby"),
	})
	api := httpapi.New(httpapi.Options{
		Engine:         a.engine,
		Subscriber:     a.broadcast,
		Renderer:       render.New(),
		Presets:        a.presets,
		Lobby:          challenges,
		Logger:         a.log.Named("http"),
		OriginPatterns: a.cfg.WSOriginPatterns,
	})
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http_listen", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		a.log.Warn("http_shutdown", zap.Error(serr))
	}
	// the flusher makes its final pass once ctx is done
	wg.Wait()
	a.log.Info("arena_stopped")
	return err
}

// background starts the periodic flusher and, optionally, the sweeper. Both stop with ctx.
func (a *app) background(ctx context.Context, wg *sync.WaitGroup, sweep bool) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.engine.Buffer().Run(ctx, a.cfg.FlushInterval)
	}()
	if !sweep {
		return
	}
	sw := sweeper.New(a.store, a.engine, sweeper.Options{
		Batch:    a.cfg.SweepBatch,
		Parallel: a.cfg.SweepParallel,
		Logger:   a.log.Named("sweeper"),
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sw.Run(ctx, a.cfg.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("sweeper_stopped", zap.Error(err))
		}
	}()
}
