package otel

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/timvw/sweepmux/internal/channel"
	"github.com/timvw/sweepmux/internal/shell"
)

// Outcome labels for the commands.executed counter.
const (
	OutcomeOK          = "ok"
	OutcomeExit        = "exit"
	OutcomeTransport   = "transport"
	OutcomeInterrupted = "interrupted"
)

// instrumented wraps a Channel with an "execute" span and a command counter.
type instrumented struct {
	channel.Channel
	tracer  trace.Tracer
	metrics *Metrics
}

// InstrumentChannel returns ch with every Execute traced and counted.
// A nil tracer uses the global one.
func InstrumentChannel(ch channel.Channel, tracer trace.Tracer, metrics *Metrics) channel.Channel {
	if tracer == nil {
		tracer = Tracer()
	}
	return &instrumented{Channel: ch, tracer: tracer, metrics: metrics}
}

func (c *instrumented) Execute(ctx context.Context, command string, opts channel.Options) (channel.Result, error) {
	target := c.Target()
	ctx, span := c.tracer.Start(ctx, "execute", trace.WithAttributes(
		attribute.String("target.name", target.Name),
		attribute.String("target.address", target.Address()),
		attribute.String("target.transport", string(target.Transport)),
		attribute.String("command", shell.Redact(command, opts.Sensitive...)),
		attribute.Bool("command.pty", opts.PTY),
	))
	defer span.End()

	res, err := c.Channel.Execute(ctx, command, opts)

	outcome := Outcome(res, err)
	span.SetAttributes(
		attribute.Int("command.exit_code", res.ExitCode),
		attribute.String("command.outcome", outcome),
	)
	if err != nil {
		span.SetStatus(codes.Error, shell.Redact(err.Error(), opts.Sensitive...))
	}
	c.metrics.RecordCommand(ctx, string(target.Transport), outcome)
	return res, err
}

// Outcome classifies an Execute result for metrics.
func Outcome(res channel.Result, err error) string {
	switch {
	case errors.Is(err, channel.ErrInterrupted):
		return OutcomeInterrupted
	case err != nil:
		return OutcomeTransport
	case res.ExitCode != 0:
		return OutcomeExit
	default:
		return OutcomeOK
	}
}
