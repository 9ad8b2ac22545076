package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sweepmux version",
	Args:  cobra.NoArgs,
	// No config or telemetry needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("sweepmux", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
