// Package device counts the accelerator devices available on a target.
package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/timvw/sweepmux/internal/channel"
	"github.com/timvw/sweepmux/internal/otel"
)

// DefaultCommand lists one GPU per output line.
const DefaultCommand = "nvidia-smi --list-gpus"

// exitNotFound is the shell's status for an unknown command.
const exitNotFound = 127

// Discovery is the outcome of one device query.
type Discovery struct {
	// Count is 0 for CPU-only targets.
	Count int `json:"count"`
	// ToolMissing is set when the enumeration tool is not installed.
	ToolMissing bool `json:"tool_missing"`
}

// Discoverer queries a target for its device count.
type Discoverer struct {
	// Command is run on the target; each non-empty output line is one
	// device. Defaults to DefaultCommand.
	Command string
	Metrics *otel.Metrics
}

// Discover runs the enumeration command through ch.
//
// A missing tool, a tool that reports nothing, and a tool that fails (no
// driver loaded) all yield Count 0 with a nil error: the target is simply
// CPU-only. Only transport failures and interruptions are errors.
func (d *Discoverer) Discover(ctx context.Context, ch channel.Channel) (Discovery, error) {
	target := ch.Target()
	logger := log.FromContext(ctx).With("target", target.Name)

	ctx, span := otel.Tracer().Start(ctx, "discover_devices")
	defer span.End()

	command := d.Command
	if command == "" {
		command = DefaultCommand
	}

	res, err := ch.Execute(ctx, command, channel.Options{NoWorkDir: true})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Discovery{}, fmt.Errorf("discover devices on %s: %w", target.Address(), err)
	}

	var disc Discovery
	switch {
	case toolMissing(res):
		disc.ToolMissing = true
		logger.Info("device tool not found, running CPU-only", "command", command)
	case res.ExitCode != 0:
		logger.Warn("device query failed, running CPU-only",
			"command", command, "exit", res.ExitCode, "stderr", strings.TrimSpace(string(res.Stderr)))
	default:
		disc.Count = countLines(string(res.Stdout))
		logger.Debug("devices discovered", "count", disc.Count)
	}

	span.SetAttributes(
		attribute.Int("devices.count", disc.Count),
		attribute.Bool("devices.tool_missing", disc.ToolMissing),
	)
	d.Metrics.RecordDevices(ctx, target.Name, disc.Count)
	return disc, nil
}

func toolMissing(res channel.Result) bool {
	if res.ExitCode == exitNotFound {
		return true
	}
	if res.ExitCode == 0 {
		return false
	}
	out := strings.ToLower(string(res.Stderr) + string(res.Stdout))
	return strings.Contains(out, "not found") || strings.Contains(out, "no such file")
}

func countLines(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
