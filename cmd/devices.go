package cmd

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/timvw/sweepmux/internal/device"
)

var flagDevicesAll bool

var devicesCmd = &cobra.Command{
	Use:   "devices [target...]",
	Short: "Show the GPUs discovered on targets",
	Long: `Query each target for its GPUs and show which device ids a sweep
would use given the target's devices setting. Without arguments every
configured target is queried, concurrently.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := resolveTargets(args, len(args) == 0 || flagDevicesAll)
		if err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		for _, t := range targets {
			g.Go(func() error {
				_, ch, err := openTarget(t.Name)
				if err != nil {
					printer.Failed(t.Name, err)
					return nil
				}
				defer ch.Close()

				d, err := (&device.Discoverer{Command: cfg.DeviceCommand, Metrics: metrics()}).Discover(ctx, ch)
				if err != nil {
					printer.Failed(t.Name, err)
					return nil
				}
				printer.Devices(t.Name, t.DeviceConfig(), d)
				return nil
			})
		}
		return g.Wait()
	},
}

func init() {
	devicesCmd.Flags().BoolVar(&flagDevicesAll, "all", false, "query every configured target")
	rootCmd.AddCommand(devicesCmd)
}
