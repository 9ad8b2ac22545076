package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/timvw/sweepmux/internal/mux"
	"github.com/timvw/sweepmux/internal/session"
)

var (
	flagFilter    string
	flagPanesTree bool
	flagPanesJSON bool
)

var panesCmd = &cobra.Command{
	Use:     "panes <target> [session]",
	Aliases: []string{"list"},
	Short:   "List tmux panes on a target",
	Long: `List the tmux panes of one session, or of every sweep session on the
target when no session is named. --filter overrides the default session
name pattern; --tree adds each pane's process tree.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, ch, err := openTarget(args[0])
		if err != nil {
			return err
		}
		defer ch.Close()

		var name string
		filter := flagFilter
		if len(args) == 2 {
			name = args[1]
		} else if filter == "" {
			filter = session.NamePattern
		}

		ctx := cmd.Context()
		panes, err := mux.NewTmux(ch).ListPanes(ctx, name, filter)
		if err != nil && !mux.IsNoServer(err) {
			return fmt.Errorf("failed to list panes: %w", err)
		}
		if flagPanesTree {
			mux.ProcessTrees(ctx, ch, panes)
		}

		if flagPanesJSON {
			if panes == nil {
				panes = []mux.Pane{}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(panes)
		}
		printer.Panes(args[0], panes)
		return nil
	},
}

func init() {
	panesCmd.Flags().StringVar(&flagFilter, "filter", "", "regex pattern to filter by session name")
	panesCmd.Flags().BoolVar(&flagPanesTree, "tree", false, "include each pane's process tree")
	panesCmd.Flags().BoolVar(&flagPanesJSON, "json", false, "print panes as JSON")
	rootCmd.AddCommand(panesCmd)
}
