// Package otel provides OpenTelemetry instrumentation for blob stores.
package otel

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/virtmail/mailstore/store"
)

const (
	instrumentationName = "github.com/virtmail/mailstore/store/attachment/otel"
)

// Store wraps a store.FileStore with OpenTelemetry instrumentation.
type Store struct {
	backend store.FileStore
	opts    *options

	tracer trace.Tracer

	putLatency  metric.Float64Histogram
	putCount    metric.Int64Counter
	putBytes    metric.Int64Counter
	putErrors   metric.Int64Counter
	getLatency  metric.Float64Histogram
	getCount    metric.Int64Counter
	getBytes    metric.Int64Counter
	getErrors   metric.Int64Counter
	delLatency  metric.Float64Histogram
	delCount    metric.Int64Counter
	delErrors   metric.Int64Counter
	existsCount metric.Int64Counter
}

var _ store.FileStore = (*Store)(nil)

// New creates an instrumented blob store wrapping the given backend.
func New(backend store.FileStore, opts ...Option) (*Store, error) {
	o := &options{
		tracingEnabled: true,
		metricsEnabled: true,
		serviceName:    "mailstore",
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Store{
		backend: backend,
		opts:    o,
	}

	if o.tracingEnabled {
		s.tracer = o.tracerProvider.Tracer(instrumentationName)
	}
	if o.metricsEnabled {
		if err := s.initMetrics(o.meterProvider); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}

	return s, nil
}

// initMetrics initializes all metric instruments.
func (s *Store) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	s.putLatency, err = meter.Float64Histogram(
		"blob.put.duration",
		metric.WithDescription("Duration of blob put operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	s.putCount, err = meter.Int64Counter(
		"blob.put.count",
		metric.WithDescription("Number of blob put operations"),
	)
	if err != nil {
		return err
	}
	s.putBytes, err = meter.Int64Counter(
		"blob.put.bytes",
		metric.WithDescription("Total bytes written"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}
	s.putErrors, err = meter.Int64Counter(
		"blob.put.errors",
		metric.WithDescription("Number of put errors"),
	)
	if err != nil {
		return err
	}

	s.getLatency, err = meter.Float64Histogram(
		"blob.get.duration",
		metric.WithDescription("Duration of blob get operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	s.getCount, err = meter.Int64Counter(
		"blob.get.count",
		metric.WithDescription("Number of blob get operations"),
	)
	if err != nil {
		return err
	}
	s.getBytes, err = meter.Int64Counter(
		"blob.get.bytes",
		metric.WithDescription("Total bytes read"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}
	s.getErrors, err = meter.Int64Counter(
		"blob.get.errors",
		metric.WithDescription("Number of get errors"),
	)
	if err != nil {
		return err
	}

	s.delLatency, err = meter.Float64Histogram(
		"blob.delete.duration",
		metric.WithDescription("Duration of blob delete operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	s.delCount, err = meter.Int64Counter(
		"blob.delete.count",
		metric.WithDescription("Number of blob delete operations"),
	)
	if err != nil {
		return err
	}
	s.delErrors, err = meter.Int64Counter(
		"blob.delete.errors",
		metric.WithDescription("Number of delete errors"),
	)
	if err != nil {
		return err
	}

	s.existsCount, err = meter.Int64Counter(
		"blob.exists.count",
		metric.WithDescription("Number of blob existence checks"),
	)
	if err != nil {
		return err
	}

	return nil
}

func (s *Store) keyAttrs(key string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("blob.key", key),
		attribute.String("service.name", s.opts.serviceName),
	}
}

// Put writes the blob with tracing and metrics.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	attrs := append(s.keyAttrs(key), attribute.String("blob.content_type", contentType))

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "blob.put",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()
	}

	start := time.Now()
	counting := &countingReader{reader: r}
	err := s.backend.Put(ctx, key, counting, size, contentType)
	duration := time.Since(start).Seconds()

	if s.opts.metricsEnabled {
		metricAttrs := metric.WithAttributes(attrs...)
		s.putLatency.Record(ctx, duration, metricAttrs)
		s.putCount.Add(ctx, 1, metricAttrs)
		s.putBytes.Add(ctx, counting.bytes, metricAttrs)
		if err != nil {
			s.putErrors.Add(ctx, 1, metricAttrs)
		}
	}

	if s.tracer != nil {
		span := trace.SpanFromContext(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int64("blob.bytes", counting.bytes))
			span.SetStatus(codes.Ok, "")
		}
	}

	return err
}

// Get returns a reader for the blob with tracing and metrics. The span
// stays open until the returned reader is closed.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	attrs := s.keyAttrs(key)

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "blob.get",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
	}

	start := time.Now()
	reader, err := s.backend.Get(ctx, key)
	duration := time.Since(start).Seconds()

	if s.opts.metricsEnabled {
		metricAttrs := metric.WithAttributes(attrs...)
		s.getLatency.Record(ctx, duration, metricAttrs)
		s.getCount.Add(ctx, 1, metricAttrs)
		if err != nil {
			s.getErrors.Add(ctx, 1, metricAttrs)
		}
	}

	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
		}
		return nil, err
	}

	return &instrumentedReader{
		reader: reader,
		span:   span,
		store:  s,
		ctx:    ctx,
		attrs:  attrs,
	}, nil
}

// Delete removes the blob with tracing and metrics.
func (s *Store) Delete(ctx context.Context, key string) error {
	attrs := s.keyAttrs(key)

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "blob.delete",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()
	}

	start := time.Now()
	err := s.backend.Delete(ctx, key)
	duration := time.Since(start).Seconds()

	if s.opts.metricsEnabled {
		metricAttrs := metric.WithAttributes(attrs...)
		s.delLatency.Record(ctx, duration, metricAttrs)
		s.delCount.Add(ctx, 1, metricAttrs)
		if err != nil {
			s.delErrors.Add(ctx, 1, metricAttrs)
		}
	}

	if s.tracer != nil {
		span := trace.SpanFromContext(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	return err
}

// Exists checks blob existence with metrics.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.backend.Exists(ctx, key)
	if s.opts.metricsEnabled {
		s.existsCount.Add(ctx, 1, metric.WithAttributes(s.keyAttrs(key)...))
	}
	return ok, err
}

// countingReader wraps an io.Reader and counts bytes read.
type countingReader struct {
	reader io.Reader
	bytes  int64
}

func (r *countingReader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	r.bytes += int64(n)
	return n, err
}

// instrumentedReader wraps an io.ReadCloser, recording bytes read and
// ending the span on close.
type instrumentedReader struct {
	reader io.ReadCloser
	span   trace.Span
	store  *Store
	ctx    context.Context
	attrs  []attribute.KeyValue
	bytes  int64
	closed bool
}

func (r *instrumentedReader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	r.bytes += int64(n)
	return n, err
}

func (r *instrumentedReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.reader.Close()

	if r.store.opts.metricsEnabled {
		r.store.getBytes.Add(r.ctx, r.bytes, metric.WithAttributes(r.attrs...))
	}

	if r.span != nil {
		r.span.SetAttributes(attribute.Int64("blob.bytes", r.bytes))
		if err != nil {
			r.span.RecordError(err)
			r.span.SetStatus(codes.Error, err.Error())
		} else {
			r.span.SetStatus(codes.Ok, "")
		}
		r.span.End()
	}

	return err
}
