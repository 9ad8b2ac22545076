package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "sweepmux"

// Metrics holds all OTEL metric instruments for sweepmux.
// All counters are cumulative (monotonic) and safe for concurrent use.
// A nil *Metrics records nothing.
type Metrics struct {
	// Commands executed through a channel (partitioned by transport + outcome)
	CommandsExecuted metric.Int64Counter

	// Session lifecycle
	SessionsCreated metric.Int64Counter
	PanesDispatched metric.Int64Counter
	PanesFailed     metric.Int64Counter

	// Devices found by discovery (partitioned by target)
	DevicesDiscovered metric.Int64Counter
}

// NewMetrics creates all metric instruments. Returns no-op instruments
// when no MeterProvider is registered (safe to call unconditionally).
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.CommandsExecuted, err = meter.Int64Counter("commands.executed",
		metric.WithDescription("Commands executed on targets, partitioned by transport and outcome (ok, exit, transport, interrupted)"))
	if err != nil {
		return nil, err
	}

	m.SessionsCreated, err = meter.Int64Counter("sessions.created",
		metric.WithDescription("tmux sessions created"))
	if err != nil {
		return nil, err
	}

	m.PanesDispatched, err = meter.Int64Counter("panes.dispatched",
		metric.WithDescription("Worker command lines typed into panes"),
		metric.WithUnit("{pane}"))
	if err != nil {
		return nil, err
	}

	m.PanesFailed, err = meter.Int64Counter("panes.failed",
		metric.WithDescription("Panes whose split or dispatch command failed"),
		metric.WithUnit("{pane}"))
	if err != nil {
		return nil, err
	}

	m.DevicesDiscovered, err = meter.Int64Counter("devices.discovered",
		metric.WithDescription("Accelerator devices reported by discovery"),
		metric.WithUnit("{device}"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCommand records one executed command.
func (m *Metrics) RecordCommand(ctx context.Context, transport, outcome string) {
	if m == nil {
		return
	}
	m.CommandsExecuted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target.transport", transport),
		attribute.String("command.outcome", outcome),
	))
}

// RecordSession records a created session.
func (m *Metrics) RecordSession(ctx context.Context, target string) {
	if m == nil {
		return
	}
	m.SessionsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("target.name", target)))
}

// RecordPane records the outcome of one pane dispatch.
func (m *Metrics) RecordPane(ctx context.Context, target string, ok bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("target.name", target))
	if ok {
		m.PanesDispatched.Add(ctx, 1, attrs)
		return
	}
	m.PanesFailed.Add(ctx, 1, attrs)
}

// RecordDevices records a discovery result.
func (m *Metrics) RecordDevices(ctx context.Context, target string, count int) {
	if m == nil {
		return
	}
	m.DevicesDiscovered.Add(ctx, int64(count), metric.WithAttributes(attribute.String("target.name", target)))
}
