package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/timvw/sweepmux/internal/placement"
)

// planOutput is the JSON document printed by "sweepmux plan".
type planOutput struct {
	Target    string            `json:"target"`
	Address   string            `json:"address"`
	Devices   string            `json:"devices"`
	PerDevice int               `json:"per_device"`
	Panes     []placement.Entry `json:"panes"`
}

var flagPlanJSON bool

var planCmd = &cobra.Command{
	Use:   "plan <target>",
	Short: "Print the placement table for a target without starting anything",
	Long: `Discover the target's GPUs and print which pane would run on which
device. No tmux session is created. --json prints the table as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagPlanJSON {
			progressToStderr()
		}

		t, ch, err := openTarget(args[0])
		if err != nil {
			return err
		}
		defer ch.Close()

		devices, perDevice := placementFor(cmd, t)
		table, err := discoverAndPlan(cmd.Context(), ch, t.Name, devices, perDevice)
		if err != nil {
			return err
		}

		if !flagPlanJSON {
			printer.Plan(t.Name, table)
			return nil
		}

		out := planOutput{
			Target:    t.Name,
			Address:   ch.Target().Address(),
			Devices:   devices.String(),
			PerDevice: perDevice,
			Panes:     append([]placement.Entry{}, table...),
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	addPlacementFlags(planCmd)
	planCmd.Flags().BoolVar(&flagPlanJSON, "json", false, "print the placement table as JSON")
	rootCmd.AddCommand(planCmd)
}
