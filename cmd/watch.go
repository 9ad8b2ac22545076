package cmd

import (
	"github.com/spf13/cobra"

	"github.com/timvw/sweepmux/internal/channel"
	"github.com/timvw/sweepmux/internal/monitor"
	"github.com/timvw/sweepmux/internal/mux"
	"github.com/timvw/sweepmux/internal/report"
	"github.com/timvw/sweepmux/internal/session"
)

var (
	flagWatchAll    bool
	flagWatchFilter string
)

var watchCmd = &cobra.Command{
	Use:   "watch [target...]",
	Short: "Interactive view of worker panes across targets",
	Long: `Launch a terminal UI listing the worker panes of sweep sessions on the
given targets (every configured target when none are named), with the
last line each worker printed. The view refreshes every "refresh"
interval from the config; set it to "off" to refresh only on r.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := resolveTargets(args, len(args) == 0 || flagWatchAll)
		if err != nil {
			return err
		}

		var sources []monitor.Source
		var channels []channel.Channel
		defer func() {
			for _, ch := range channels {
				ch.Close()
			}
		}()
		for _, t := range targets {
			_, ch, err := openTarget(t.Name)
			if err != nil {
				return err
			}
			channels = append(channels, ch)
			sources = append(sources, monitor.Source{Name: t.Name, Tmux: mux.NewTmux(ch)})
		}

		filter := flagWatchFilter
		if filter == "" {
			filter = session.NamePattern
		}
		w := &monitor.Watch{
			Sources:         sources,
			Filter:          filter,
			RefreshInterval: cfg.RefreshDuration,
			Theme:           report.ThemeByName(flagTheme),
		}
		return w.Run(cmd.Context())
	},
}

func init() {
	watchCmd.Flags().BoolVar(&flagWatchAll, "all", false, "watch every configured target")
	watchCmd.Flags().StringVar(&flagWatchFilter, "filter", "", "regex pattern to filter by session name (default: sweep sessions)")
	rootCmd.AddCommand(watchCmd)
}
