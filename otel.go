package mailstore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/virtmail/mailstore"

// Instrumented operation names.
const (
	opSend    = "send"
	opFile    = "file"
	opGet     = "get"
	opList    = "list"
	opSearch  = "search"
	opUpdate  = "update"
	opMove    = "move"
	opPurge   = "purge"
	opCleanup = "cleanup"
)

var instrumentedOps = []string{
	opSend, opFile, opGet, opList, opSearch, opUpdate, opMove, opPurge, opCleanup,
}

// opInstruments holds the instrument triple for one operation.
type opInstruments struct {
	latency metric.Float64Histogram
	count   metric.Int64Counter
	errors  metric.Int64Counter
}

// otelInstrumentation holds OpenTelemetry instrumentation for the service.
type otelInstrumentation struct {
	enabled bool

	tracingEnabled bool
	tracer         trace.Tracer

	metricsEnabled bool
	ops            map[string]opInstruments
}

// newOtelInstrumentation creates instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}
	if !o.enabled {
		return o, nil
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// initMetrics creates the per-operation instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)
	o.ops = make(map[string]opInstruments, len(instrumentedOps))
	for _, op := range instrumentedOps {
		latency, err := meter.Float64Histogram(
			"mailstore."+op+".duration",
			metric.WithDescription("Duration of "+op+" operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			return err
		}
		count, err := meter.Int64Counter(
			"mailstore."+op+".count",
			metric.WithDescription("Number of "+op+" operations"),
		)
		if err != nil {
			return err
		}
		errCount, err := meter.Int64Counter(
			"mailstore."+op+".errors",
			metric.WithDescription("Number of "+op+" errors"),
		)
		if err != nil {
			return err
		}
		o.ops[op] = opInstruments{latency: latency, count: count, errors: errCount}
	}
	return nil
}

// startSpan starts a span if tracing is enabled and returns a finish
// function that records the outcome.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// record reports one completed operation.
func (o *otelInstrumentation) record(ctx context.Context, op string, start time.Time, err error, attrs ...attribute.KeyValue) {
	if !o.metricsEnabled {
		return
	}
	inst, ok := o.ops[op]
	if !ok {
		return
	}
	set := metric.WithAttributes(attrs...)
	inst.latency.Record(ctx, time.Since(start).Seconds(), set)
	inst.count.Add(ctx, 1, set)
	if err != nil {
		inst.errors.Add(ctx, 1, set)
	}
}
