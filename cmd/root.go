package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/timvw/sweepmux/internal/channel"
	"github.com/timvw/sweepmux/internal/config"
	telem "github.com/timvw/sweepmux/internal/otel"
	"github.com/timvw/sweepmux/internal/report"
)

// Version is set at build time with -ldflags "-X github.com/timvw/sweepmux/cmd.Version=...".
var Version = "dev"

var (
	// Global flags.
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
	flagTheme     string
)

// Loaded once per invocation by the root PersistentPreRunE.
var (
	cfg     *config.Config
	tel     *telem.Telemetry
	printer *report.Printer
	// runID tags this invocation's logs and telemetry.
	runID string
)

var rootCmd = &cobra.Command{
	Use:   "sweepmux",
	Short: "Start sweep workers in tmux sessions on GPU hosts",
	Long: `sweepmux starts hyperparameter sweep workers on local, SSH and Kubernetes
targets. For each target it discovers the available GPUs, plans how many
workers go on which device, and starts them in panes of a new tmux session
that keeps running after sweepmux exits.

Configuration is loaded from --config, .sweepmux.yaml or
~/.config/sweepmux/config.yaml; SWEEPMUX_* environment variables override it.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// exitCodeError ends the process with a specific status, without printing.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, nil); err != nil {
		var ec *exitCodeError
		if errors.As(err, &ec) {
			os.Exit(ec.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run executes the command line (os.Args when args is nil) and flushes
// telemetry, failed commands included.
func run(ctx context.Context, args []string) error {
	if args != nil {
		rootCmd.SetArgs(args)
	}
	err := rootCmd.ExecuteContext(ctx)
	shutdownTelemetry(ctx)
	return err
}

// shutdownTelemetry flushes spans and metrics even after an interrupt.
var shutdownTelemetry = func(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	tel.Shutdown(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: .sweepmux.yaml or ~/.config/sweepmux/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", envOrDefault("SWEEPMUX_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", envOrDefault("SWEEPMUX_LOG_FORMAT", "text"), "log format: text, json")
	rootCmd.PersistentFlags().StringVar(&flagTheme, "theme", "dark", "color theme: dark, light")
}

// setup builds the logger, loads configuration and starts telemetry.
func setup(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(flagLogLevel, flagLogFormat)
	if err != nil {
		return err
	}
	ctx := log.WithContext(cmd.Context(), logger)
	cmd.SetContext(ctx)

	printer = report.New(os.Stdout, report.ThemeByName(flagTheme))

	cfg, err = config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.ConfigFile != "" {
		logger.Debug("config loaded", "file", cfg.ConfigFile)
	}

	runID = uuid.NewString()
	telem.Version = Version
	tel, err = telem.Init(ctx, telem.OTELConfig{
		Endpoint: cfg.OTELEndpoint,
		Headers:  cfg.OTELHeaders,
		RunID:    runID,
		Command:  cmd.Name(),
	})
	if err != nil {
		logger.Warn("otel init failed", "err", err)
	}
	return nil
}

func newLogger(level, format string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	opts := log.Options{Level: lvl, ReportTimestamp: true, Prefix: "sweepmux"}
	switch format {
	case "", "text":
		opts.Formatter = log.TextFormatter
	case "json":
		opts.Formatter = log.JSONFormatter
	default:
		return nil, fmt.Errorf("invalid --log-format %q (supported: text, json)", format)
	}
	return log.NewWithOptions(os.Stderr, opts), nil
}

// progressToStderr keeps stdout free for machine-readable output.
func progressToStderr() {
	printer = report.New(os.Stderr, report.ThemeByName(flagTheme))
}

func metrics() *telem.Metrics {
	if tel == nil {
		return nil
	}
	return tel.Metrics
}

// openTarget resolves a configured target and opens an instrumented channel
// to it. The caller closes the channel.
func openTarget(name string) (config.Target, channel.Channel, error) {
	t, err := cfg.Target(name)
	if err != nil {
		return config.Target{}, nil, err
	}
	ch, err := channel.New(cfg.Channel(t))
	if err != nil {
		return config.Target{}, nil, fmt.Errorf("target %q: %w", name, err)
	}
	return t, telem.InstrumentChannel(ch, telem.Tracer(), metrics()), nil
}

// resolveTargets returns the named targets, or every configured target when
// all is set.
func resolveTargets(names []string, all bool) ([]config.Target, error) {
	if all {
		if len(names) > 0 {
			return nil, fmt.Errorf("--all cannot be combined with target names")
		}
		if len(cfg.Targets) == 0 {
			return nil, fmt.Errorf("no targets configured")
		}
		return cfg.Targets, nil
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("name at least one target or pass --all (configured: %s)", targetNames())
	}
	out := make([]config.Target, 0, len(names))
	for _, n := range names {
		t, err := cfg.Target(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func targetNames() string {
	names := make([]string, len(cfg.Targets))
	for i, t := range cfg.Targets {
		names[i] = t.Name
	}
	return strings.Join(names, ", ")
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
