package main

import (
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run only the sweeper and the flusher",
	Long:  "Expires overdue sessions, restarts stalled bot turns and flushes buffered rows. Serves no API.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		var wg sync.WaitGroup
		a.background(ctx, &wg, true)
		<-ctx.Done()
		wg.Wait()
		a.log.Info("sweep_worker_stopped")
		return nil
	},
}

func init() { rootCmd.AddCommand(sweepCmd) }
