package cmd

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/timvw/sweepmux/internal/mux"
)

var killCmd = &cobra.Command{
	Use:   "kill <target> <session>",
	Short: "Stop a sweep session and every worker in it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, ch, err := openTarget(args[0])
		if err != nil {
			return err
		}
		defer ch.Close()

		ctx := cmd.Context()
		tm := mux.NewTmux(ch)
		ok, err := tm.HasSession(ctx, args[1])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no session %q on %s", args[1], args[0])
		}
		if err := tm.KillSession(ctx, args[1]); err != nil {
			return err
		}
		log.FromContext(ctx).Info("session killed", "target", args[0], "session", args[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(killCmd)
}
