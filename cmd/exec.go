package cmd

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/timvw/sweepmux/internal/channel"
)

var (
	flagExecPTY       bool
	flagExecNoWorkDir bool
)

var execCmd = &cobra.Command{
	Use:   "exec <target> -- <command>...",
	Short: "Run a command on a target, streaming its output",
	Long: `Run a shell command on a target and stream its output as it arrives.

The command runs in the target's work directory unless --no-workdir is set.
Use --pty for installers that draw progress bars. sweepmux exits with the
command's exit status.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, ch, err := openTarget(args[0])
		if err != nil {
			return err
		}
		defer ch.Close()

		command := strings.Join(args[1:], " ")
		ct := ch.Target()
		start := time.Now()
		res, err := ch.Execute(cmd.Context(), command, channel.Options{
			PTY:       flagExecPTY,
			NoWorkDir: flagExecNoWorkDir,
			Stream:    os.Stdout,
			Sensitive: []string{ct.SecretToken},
		})

		log.FromContext(cmd.Context()).Info("command finished",
			"target", ct.Name,
			"exit", res.ExitCode,
			"stdout", humanize.Bytes(uint64(len(res.Stdout))),
			"stderr", humanize.Bytes(uint64(len(res.Stderr))),
			"took", time.Since(start).Round(time.Millisecond),
		)
		if err != nil {
			if errors.Is(err, channel.ErrInterrupted) {
				return &exitCodeError{code: 130}
			}
			return err
		}
		if res.ExitCode != 0 {
			return &exitCodeError{code: res.ExitCode}
		}
		return nil
	},
}

func init() {
	execCmd.Flags().BoolVar(&flagExecPTY, "pty", false, "allocate a pseudo-terminal")
	execCmd.Flags().BoolVar(&flagExecNoWorkDir, "no-workdir", false, "do not cd into the target's work directory")
	rootCmd.AddCommand(execCmd)
}
