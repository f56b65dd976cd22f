package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	dispatchScopeName = "github.com/ccbridge/ccbridge/dispatch"
	queueScopeName    = "github.com/ccbridge/ccbridge/queue"
)

// DispatchInstruments records a span and ccbridge.dispatch.* metrics for every
// dispatched command. Instruments resolve against the global providers, so
// they are no-ops until Init enables telemetry.
type DispatchInstruments struct {
	tracer   trace.Tracer
	commands metric.Int64Counter
	dur      metric.Float64Histogram
}

// NewDispatchInstruments creates the dispatcher instruments.
func NewDispatchInstruments() *DispatchInstruments {
	m := Meter(dispatchScopeName)
	commands, _ := m.Int64Counter("ccbridge.dispatch.commands",
		metric.WithDescription("Commands dispatched, by command and outcome"),
	)
	dur, _ := m.Float64Histogram("ccbridge.dispatch.duration",
		metric.WithDescription("Command handling duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &DispatchInstruments{
		tracer:   Tracer(dispatchScopeName),
		commands: commands,
		dur:      dur,
	}
}

// Start opens the span for one dispatch.
func (d *DispatchInstruments) Start(ctx context.Context, command, platform string) (context.Context, trace.Span, time.Time) {
	ctx, span := d.tracer.Start(ctx, "dispatch."+command,
		trace.WithAttributes(
			attribute.String("ccbridge.command", command),
			attribute.String("ccbridge.platform", platform),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
	return ctx, span, time.Now()
}

// Finish ends the span and records the outcome ("ok", "unknown", "denied", "error").
func (d *DispatchInstruments) Finish(ctx context.Context, span trace.Span, start time.Time, command, outcome string, err error) {
	attrs := metric.WithAttributes(
		attribute.String("ccbridge.command", command),
		attribute.String("ccbridge.outcome", outcome),
	)
	d.commands.Add(ctx, 1, attrs)
	d.dur.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// QueueInstruments records ccbridge.queue.* metrics.
type QueueInstruments struct {
	tasks metric.Int64Counter
	wait  metric.Float64Histogram
	run   metric.Float64Histogram
}

// NewQueueInstruments creates the command queue instruments.
func NewQueueInstruments() *QueueInstruments {
	m := Meter(queueScopeName)
	tasks, _ := m.Int64Counter("ccbridge.queue.tasks",
		metric.WithDescription("Queued tasks executed, by outcome"),
	)
	wait, _ := m.Float64Histogram("ccbridge.queue.wait",
		metric.WithDescription("Time a task spent waiting behind earlier tasks for its key"),
		metric.WithUnit("ms"),
	)
	run, _ := m.Float64Histogram("ccbridge.queue.run",
		metric.WithDescription("Task execution time"),
		metric.WithUnit("ms"),
	)
	return &QueueInstruments{tasks: tasks, wait: wait, run: run}
}

// Task records one executed task of the named queue.
func (q *QueueInstruments) Task(ctx context.Context, queue string, waited, ran time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	name := attribute.String("ccbridge.queue", queue)
	q.tasks.Add(ctx, 1, metric.WithAttributes(name, attribute.String("ccbridge.outcome", outcome)))
	q.wait.Record(ctx, float64(waited.Milliseconds()), metric.WithAttributes(name))
	q.run.Record(ctx, float64(ran.Milliseconds()), metric.WithAttributes(name))
}
