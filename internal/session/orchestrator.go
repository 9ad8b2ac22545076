// Package session starts worker processes in a tmux session, one pane per
// placement entry.
//
// Creating the session is all-or-nothing: if tmux cannot create it, no
// pane is attempted. Once it exists, a pane that fails to split or to
// receive its command is recorded and the remaining panes are still set
// up. Workers are typed into pane shells and outlive the call; nothing
// here waits for them or tears the session down.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/timvw/sweepmux/internal/channel"
	"github.com/timvw/sweepmux/internal/mux"
	"github.com/timvw/sweepmux/internal/otel"
	"github.com/timvw/sweepmux/internal/placement"
	"github.com/timvw/sweepmux/internal/shell"
)

// Defaults for Orchestrator fields left empty.
const (
	DefaultTokenEnv  = "WANDB_API_KEY"
	DefaultDeviceEnv = "CUDA_VISIBLE_DEVICES"
)

// Spec is what to run in every pane.
type Spec struct {
	// Token names the session (e.g. a sweep id). Only its last "/"
	// segment is used.
	Token string
	// Command is the resolved worker command line, already shell-safe.
	// The target's command runner is prepended to it.
	Command string
	// Env is exported after the target's own variables.
	Env []channel.EnvVar
}

// Handle identifies a started session.
type Handle struct {
	Name   string `json:"name"`
	Target string `json:"target"`
	// PaneCount is the number of panes whose command was dispatched.
	PaneCount int `json:"pane_count"`
	// Panes records every dispatched pane in pane order.
	Panes     []Pane    `json:"panes"`
	CreatedAt time.Time `json:"created_at"`
	// Failed lists pane indices that could not be set up.
	Failed []int `json:"failed,omitempty"`
}

// Pane is one dispatched worker.
type Pane struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	DeviceID string `json:"device_id,omitempty"`
}

// EventKind classifies progress events.
type EventKind int

const (
	EventSessionCreated EventKind = iota
	EventPaneDispatched
	EventPaneFailed
)

// Event is a progress notification for human-readable output.
type Event struct {
	Kind     EventKind
	Target   string
	Session  string
	Pane     int
	DeviceID string
	Err      error
}

// Orchestrator creates sessions. The zero value is usable.
type Orchestrator struct {
	// TokenEnv receives the target's secret token. Default WANDB_API_KEY.
	TokenEnv string
	// DeviceEnv selects a worker's device. Default CUDA_VISIBLE_DEVICES.
	DeviceEnv string
	// PathDirs are prepended to PATH in every pane (e.g. "~/.local/bin").
	PathDirs []string
	// Layout is applied after every split. Default tiled.
	Layout string

	Now      func() time.Time
	Progress func(Event)
	Metrics  *otel.Metrics
}

// Start creates the session and dispatches one worker per table entry.
//
// Errors:
//   - invalid Env names: plain error, nothing is sent to the target.
//   - session creation failed: (nil, *SessionError).
//   - some panes failed to split or dispatch: (handle, *DegradedError).
//   - transport failure or cancellation after the session exists:
//     (handle, err); the session is left in place.
func (o *Orchestrator) Start(ctx context.Context, ch channel.Channel, table placement.Table, spec Spec) (*Handle, error) {
	target := ch.Target()
	if err := validateEnv(target.Env, spec.Env); err != nil {
		return nil, err
	}
	if err := o.validateNames(); err != nil {
		return nil, err
	}

	createdAt := o.now()
	name := Name(spec.Token, createdAt)
	logger := log.FromContext(ctx).With("target", target.Name, "session", name)

	ctx, span := otel.Tracer().Start(ctx, "start_session", trace.WithAttributes(
		attribute.String("target.name", target.Name),
		attribute.String("target.address", target.Address()),
		attribute.String("session.name", name),
		attribute.Int("session.panes_planned", len(table)),
	))
	defer span.End()

	tm := mux.NewTmux(ch)
	first, err := tm.NewSession(ctx, name, target.WorkDir)
	if err != nil {
		if errors.Is(err, mux.ErrDuplicateSession) {
			err = fmt.Errorf("%w: %w", ErrSessionExists, err)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, &SessionError{Target: target.Address(), Session: name, Err: err}
	}
	if first == "" {
		first = name
	}
	logger.Info("session created", "panes", len(table))
	o.Metrics.RecordSession(ctx, target.Name)
	o.emit(Event{Kind: EventSessionCreated, Target: target.Name, Session: name})

	h := &Handle{Name: name, Target: target.Name, CreatedAt: createdAt, Panes: []Pane{}}
	var failures []PaneFailure
	secrets := []string{target.SecretToken}

	for i, entry := range table {
		pane := first
		if i > 0 {
			pane, err = o.split(ctx, tm, name, target.WorkDir)
			if err != nil {
				if fatal(err) {
					return o.abort(span, h, failures, err)
				}
				failures = append(failures, o.fail(ctx, logger, target.Name, name, entry, StageSplit, err))
				continue
			}
		}

		if err := o.dispatch(ctx, tm, pane, o.Line(target, spec, entry), secrets); err != nil {
			if fatal(err) {
				return o.abort(span, h, failures, err)
			}
			failures = append(failures, o.fail(ctx, logger, target.Name, name, entry, StageDispatch, err))
			continue
		}

		h.Panes = append(h.Panes, Pane{Index: entry.PaneIndex, ID: pane, DeviceID: entry.DeviceID})
		h.PaneCount++
		logger.Debug("pane dispatched", "pane", entry.PaneIndex, "id", pane, "device", entry.DeviceID)
		o.Metrics.RecordPane(ctx, target.Name, true)
		o.emit(Event{Kind: EventPaneDispatched, Target: target.Name, Session: name, Pane: entry.PaneIndex, DeviceID: entry.DeviceID})
	}

	span.SetAttributes(attribute.Int("session.panes_dispatched", h.PaneCount))
	if len(failures) > 0 {
		de := &DegradedError{Session: name, Total: len(table), Failures: failures}
		h.Failed = de.Indices()
		span.SetStatus(codes.Error, de.Error())
		return h, de
	}
	return h, nil
}

// split adds a pane and re-tiles the window. A failed layout only costs
// cosmetics, so it is logged and ignored unless the channel itself broke.
func (o *Orchestrator) split(ctx context.Context, tm *mux.Tmux, session, dir string) (string, error) {
	ctx, span := otel.Tracer().Start(ctx, "split_pane")
	defer span.End()

	pane, err := tm.SplitWindow(ctx, session, dir)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if pane == "" {
		pane = session
	}
	if err := tm.SelectLayout(ctx, session, o.layout()); err != nil {
		if fatal(err) {
			return "", err
		}
		log.FromContext(ctx).Warn("select-layout failed", "session", session, "err", err)
	}
	return pane, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, tm *mux.Tmux, pane, line string, secrets []string) error {
	ctx, span := otel.Tracer().Start(ctx, "dispatch_pane", trace.WithAttributes(
		attribute.String("pane.id", pane),
	))
	defer span.End()

	// The leading space keeps the line, token included, out of the history
	// of shells that ignore space-prefixed commands (bash ignorespace,
	// zsh HIST_IGNORE_SPACE).
	if err := tm.SendLine(ctx, pane, " "+line, secrets...); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, logger *log.Logger, target, session string, entry placement.Entry, stage Stage, err error) PaneFailure {
	logger.Warn("pane failed", "pane", entry.PaneIndex, "stage", stage, "err", err)
	o.Metrics.RecordPane(ctx, target, false)
	o.emit(Event{Kind: EventPaneFailed, Target: target, Session: session, Pane: entry.PaneIndex, DeviceID: entry.DeviceID, Err: err})
	return PaneFailure{PaneIndex: entry.PaneIndex, DeviceID: entry.DeviceID, Stage: stage, Err: err}
}

// abort ends the call after the session exists. Panes already dispatched
// keep running.
func (o *Orchestrator) abort(span trace.Span, h *Handle, failures []PaneFailure, err error) (*Handle, error) {
	for _, f := range failures {
		h.Failed = append(h.Failed, f.PaneIndex)
	}
	span.SetStatus(codes.Error, err.Error())
	return h, fmt.Errorf("session %s left with %d panes: %w", h.Name, h.PaneCount, err)
}

// fatal reports errors that mean the channel can no longer be trusted.
func fatal(err error) bool {
	return channel.IsTransport(err) ||
		errors.Is(err, channel.ErrInterrupted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (o *Orchestrator) emit(e Event) {
	if o.Progress != nil {
		o.Progress(e)
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) layout() string {
	if o.Layout != "" {
		return o.Layout
	}
	return mux.LayoutTiled
}

func (o *Orchestrator) tokenEnv() string {
	if o.TokenEnv != "" {
		return o.TokenEnv
	}
	return DefaultTokenEnv
}

func (o *Orchestrator) deviceEnv() string {
	if o.DeviceEnv != "" {
		return o.DeviceEnv
	}
	return DefaultDeviceEnv
}

func (o *Orchestrator) validateNames() error {
	for _, n := range []string{o.tokenEnv(), o.deviceEnv()} {
		if !shell.ValidEnvName(n) {
			return fmt.Errorf("invalid environment variable name %q", n)
		}
	}
	return nil
}

func validateEnv(lists ...[]channel.EnvVar) error {
	for _, list := range lists {
		for _, v := range list {
			if !shell.ValidEnvName(v.Name) {
				return fmt.Errorf("invalid environment variable name %q", v.Name)
			}
		}
	}
	return nil
}
