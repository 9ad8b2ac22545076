package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/timvw/sweepmux/internal/mux"
)

var flagCaptureLines int

var captureCmd = &cobra.Command{
	Use:   "capture <target> <pane>",
	Short: "Print the visible content of a worker pane",
	Long: `Capture the visible content of a tmux pane on a target and print it to
stdout. The pane is a tmux target such as "abc123_10191530:0.2" or a pane
id such as "%3". --lines includes that much scrollback.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, ch, err := openTarget(args[0])
		if err != nil {
			return err
		}
		defer ch.Close()

		content, err := mux.NewTmux(ch).CapturePane(cmd.Context(), args[1], flagCaptureLines)
		if err != nil {
			return fmt.Errorf("failed to capture pane %q: %w", args[1], err)
		}

		fmt.Fprint(os.Stdout, content)
		return nil
	},
}

func init() {
	captureCmd.Flags().IntVar(&flagCaptureLines, "lines", 0, "lines of scrollback to include")
	rootCmd.AddCommand(captureCmd)
}
