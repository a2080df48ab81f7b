package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <session-id>",
	Short: "Replay a session's moves and check the stored state agrees",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		rep, err := a.engine.Verify(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
		if !rep.Consistent {
			return fmt.Errorf("session %s is inconsistent: %s", args[0], rep.Problem)
		}
		return nil
	},
}

func init() { rootCmd.AddCommand(verifyCmd) }
