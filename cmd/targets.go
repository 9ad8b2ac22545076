package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List configured targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.Targets) == 0 {
			fmt.Fprintln(os.Stderr, "no targets configured")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTRANSPORT\tADDRESS\tDEVICES\tPER DEVICE\tWORK DIR")
		for _, t := range cfg.Targets {
			ct := cfg.Channel(t)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				t.Name, ct.Transport, ct.Address(), t.DeviceConfig(), t.PerDevice(), ct.WorkDir)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(targetsCmd)
}
