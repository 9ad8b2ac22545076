package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/timvw/sweepmux/internal/channel"
	"github.com/timvw/sweepmux/internal/config"
	"github.com/timvw/sweepmux/internal/device"
	telem "github.com/timvw/sweepmux/internal/otel"
	"github.com/timvw/sweepmux/internal/placement"
	"github.com/timvw/sweepmux/internal/session"
	"github.com/timvw/sweepmux/internal/sweep"
)

var (
	flagStartAll  bool
	flagSweep     string
	flagPerDevice int
	flagDevices   string
	flagStartJSON bool
)

var startCmd = &cobra.Command{
	Use:   "start <target>...",
	Short: "Start sweep workers in a new tmux session on each target",
	Long: `Start one worker per planned pane in a new tmux session on every named
target (or every configured target with --all).

The sweep id comes from --sweep or from the wandb sweep log (sweep_file).
For each target sweepmux discovers its GPUs, plans processes_per_device
workers on each selected device (or CPU-only workers when there are none),
and types the worker command into one pane per worker. Workers keep
running after sweepmux exits; attach and stop commands are printed.

Targets are started concurrently. A failure on one target does not stop
the others.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&flagStartAll, "all", false, "start on every configured target")
	startCmd.Flags().StringVar(&flagSweep, "sweep", "", "sweep id (default: read from sweep_file)")
	addPlacementFlags(startCmd)
	startCmd.Flags().BoolVar(&flagStartJSON, "json", false, "print session handles as JSON")
	rootCmd.AddCommand(startCmd)
}

// addPlacementFlags registers the per-invocation placement overrides.
func addPlacementFlags(c *cobra.Command) {
	c.Flags().IntVar(&flagPerDevice, "per-device", 0, "workers per device (default: processes_per_device of the target)")
	c.Flags().StringVar(&flagDevices, "devices", "", `device ids to use, e.g. "0,2" or "auto" (default: devices of the target)`)
}

// placementFor applies command-line overrides to a target's settings.
func placementFor(c *cobra.Command, t config.Target) (placement.DeviceConfig, int) {
	devices := t.DeviceConfig()
	if c.Flags().Changed("devices") {
		devices = placement.ParseDeviceConfig(flagDevices)
	}
	perDevice := t.PerDevice()
	if c.Flags().Changed("per-device") {
		perDevice = flagPerDevice
	}
	return devices, perDevice
}

func runStart(cmd *cobra.Command, args []string) error {
	targets, err := resolveTargets(args, flagStartAll)
	if err != nil {
		return err
	}
	if flagPerDevice < 0 {
		return fmt.Errorf("--per-device must not be negative")
	}
	if flagStartJSON {
		progressToStderr()
	}

	sweepID := flagSweep
	if sweepID == "" {
		sweepID, err = sweep.ReadID(cfg.SweepFile)
		if err != nil {
			return fmt.Errorf("no --sweep given and %w", err)
		}
	}
	spec := session.Spec{Token: sweepID, Command: cfg.WorkerCommandFor(sweepID)}

	logger := log.FromContext(cmd.Context()).With("run", runID[:8])
	ctx := log.WithContext(cmd.Context(), logger)
	logger.Info("starting sweep", "sweep", sweepID, "targets", len(targets))

	ctx, span := telem.Tracer().Start(ctx, "start", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("sweep.id", sweepID),
		attribute.Int("targets", len(targets)),
	))
	defer span.End()

	var (
		mu      sync.Mutex
		handles []*session.Handle
		failed  atomic.Int32
		g       errgroup.Group
	)
	for _, t := range targets {
		g.Go(func() error {
			h, err := startTarget(ctx, cmd, t, spec)
			if h != nil {
				mu.Lock()
				handles = append(handles, h)
				mu.Unlock()
			}
			if err != nil {
				failed.Add(1)
				if !session.IsDegraded(err) {
					printer.Failed(t.Name, err)
				}
				logger.Error("start failed", "target", t.Name, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if flagStartJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(handles); err != nil {
			return err
		}
	}

	if n := failed.Load(); n > 0 {
		err := fmt.Errorf("%d of %d targets did not start cleanly", n, len(targets))
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// startTarget discovers devices, plans and starts the session on one target.
func startTarget(ctx context.Context, cmd *cobra.Command, t config.Target, spec session.Spec) (*session.Handle, error) {
	_, ch, err := openTarget(t.Name)
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	devices, perDevice := placementFor(cmd, t)
	table, err := discoverAndPlan(ctx, ch, t.Name, devices, perDevice)
	if err != nil {
		return nil, err
	}
	if len(table) == 0 {
		printer.Warn(t.Name, "no workers planned, the session will be empty")
	}

	o := &session.Orchestrator{
		TokenEnv:  cfg.TokenEnv,
		DeviceEnv: cfg.DeviceEnv,
		PathDirs:  cfg.PathDirs,
		Progress:  printer.Event,
		Metrics:   metrics(),
	}
	h, err := o.Start(ctx, ch, table, spec)
	if h != nil {
		printer.Started(ch.Target(), h)
	}
	return h, err
}

// discoverAndPlan runs device discovery on ch and turns it into a
// placement table.
func discoverAndPlan(ctx context.Context, ch channel.Channel, name string, devices placement.DeviceConfig, perDevice int) (placement.Table, error) {
	d, err := (&device.Discoverer{Command: cfg.DeviceCommand, Metrics: metrics()}).Discover(ctx, ch)
	if err != nil {
		return nil, err
	}
	printer.Devices(name, devices, d)
	return placement.Plan(devices, d.Count, perDevice), nil
}
