package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/timvw/sweepmux/internal/channel"
	"github.com/timvw/sweepmux/internal/config"
	"github.com/timvw/sweepmux/internal/device"
	"github.com/timvw/sweepmux/internal/mux"
	"github.com/timvw/sweepmux/internal/report"
	"github.com/timvw/sweepmux/internal/shell"
)

var flagCheckAll bool

var checkCmd = &cobra.Command{
	Use:   "check [target...]",
	Short: "Check that targets are reachable and ready",
	Long: `Run a set of probes against each target: the connection itself, the
work directory, tmux, GPU discovery and the secret token.

Without arguments every configured target is checked. Exits non-zero when
any probe fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := resolveTargets(args, len(args) == 0 || flagCheckAll)
		if err != nil {
			return err
		}

		var failed atomic.Int32
		var g errgroup.Group
		for _, t := range targets {
			g.Go(func() error {
				checks := checkTarget(cmd.Context(), t)
				for _, c := range checks {
					if !c.OK {
						failed.Add(1)
						break
					}
				}
				printer.Checks(t.Name, checks)
				return nil
			})
		}
		_ = g.Wait()

		if n := failed.Load(); n > 0 {
			return fmt.Errorf("%d of %d targets failed checks", n, len(targets))
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&flagCheckAll, "all", false, "check every configured target")
	rootCmd.AddCommand(checkCmd)
}

// checkTarget runs the probes in order and stops at the first transport
// failure, since later probes would only repeat it.
func checkTarget(ctx context.Context, t config.Target) []report.Check {
	_, ch, err := openTarget(t.Name)
	if err != nil {
		return []report.Check{{Name: "connect", Detail: err.Error()}}
	}
	defer ch.Close()

	ct := ch.Target()
	res, err := ch.Execute(ctx, "echo ok", channel.Options{NoWorkDir: true})
	if err != nil {
		return []report.Check{{Name: "connect", Detail: err.Error()}}
	}
	checks := []report.Check{{
		Name:   "connect",
		OK:     res.OK() && strings.TrimSpace(string(res.Stdout)) == "ok",
		Detail: ct.Address(),
	}}

	if ct.WorkDir != "" {
		res, err := ch.Execute(ctx, "test -d "+shell.Quote(ct.WorkDir), channel.Options{NoWorkDir: true})
		if err != nil {
			return append(checks, report.Check{Name: "work dir", Detail: err.Error()})
		}
		c := report.Check{Name: "work dir", OK: res.OK(), Detail: ct.WorkDir}
		if !c.OK {
			c.Detail += " does not exist"
		}
		checks = append(checks, c)
	}

	ok, err := mux.NewTmux(ch).Available(ctx)
	if err != nil {
		return append(checks, report.Check{Name: "tmux", Detail: err.Error()})
	}
	c := report.Check{Name: "tmux", OK: ok}
	if !ok {
		c.Detail = "not installed"
	}
	checks = append(checks, c)

	d, err := (&device.Discoverer{Command: cfg.DeviceCommand, Metrics: metrics()}).Discover(ctx, ch)
	switch {
	case err != nil:
		checks = append(checks, report.Check{Name: "devices", Detail: err.Error()})
	case d.ToolMissing:
		checks = append(checks, report.Check{Name: "devices", OK: true, Detail: "no enumeration tool, cpu only"})
	default:
		checks = append(checks, report.Check{Name: "devices", OK: true, Detail: strconv.Itoa(d.Count) + " found"})
	}

	token := report.Check{Name: "token", OK: ct.SecretToken != ""}
	if token.OK {
		token.Detail = cfg.TokenEnv + "=" + shell.Mask(ct.SecretToken)
	} else {
		token.Detail = "not set (secret_token, SWEEPMUX_SECRET_TOKEN or " + cfg.TokenEnv + ")"
	}
	return append(checks, token)
}
