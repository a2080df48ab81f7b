package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/park285/cheese-arena/pkg/arenaclient"
)

var watchFlags struct {
	url   string
	user  string
	since int64
}

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Stream a session's events from a running server as JSON lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client := arenaclient.New(watchFlags.url, watchFlags.user)
		enc := json.NewEncoder(cmd.OutOrStdout())
		err := client.Watch(ctx, args[0], arenaclient.WatchOptions{Since: watchFlags.since, MaxReconnects: 5}, func(f arenaclient.Frame) error {
			return enc.Encode(f)
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchFlags.url, "url", "http://localhost:8080", "server base URL")
	watchCmd.Flags().StringVar(&watchFlags.user, "user", "", "player id sent as "+arenaclient.UserHeader)
	watchCmd.Flags().Int64Var(&watchFlags.since, "since", 0, "last event sequence already seen")
	rootCmd.AddCommand(watchCmd)
}
