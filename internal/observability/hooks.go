// Package observability wraps every Flight dispatch entry point with
// OpenTelemetry tracing and metrics, adapted from the teacher's
// DispatchHook/CallStatistics pattern to Arrow Flight's per-RPC-call shape
// (there is no lockstep producer/exchange loop here to hook per-batch).
package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/menuet/ustore/internal/ustoreerr"
)

const instrumentationName = "ustore_flight"

// CallStatistics holds per-call I/O counters, computed from the Arrow
// batches actually read/written by a handler.
type CallStatistics struct {
	InputBatches  int64
	OutputBatches int64
	InputRows     int64
	OutputRows    int64
	InputBytes    int64
	OutputBytes   int64
}

// RecordInput records one input batch.
func (s *CallStatistics) RecordInput(batch arrow.RecordBatch) {
	s.InputBatches++
	s.InputRows += batch.NumRows()
	s.InputBytes += batchBufferSize(batch)
}

// RecordOutput records one output batch.
func (s *CallStatistics) RecordOutput(batch arrow.RecordBatch) {
	s.OutputBatches++
	s.OutputRows += batch.NumRows()
	s.OutputBytes += batchBufferSize(batch)
}

func batchBufferSize(batch arrow.RecordBatch) int64 {
	var total int64
	for i := int64(0); i < batch.NumCols(); i++ {
		col := batch.Column(int(i))
		for _, buf := range col.Data().Buffers() {
			if buf != nil {
				total += int64(buf.Len())
			}
		}
	}
	return total
}

// CallInfo carries per-call metadata passed to Hook.
type CallInfo struct {
	Verb              string
	SessionID         string
	ServerID          string
	TransportMetadata map[string]string
}

// Config configures the OpenTelemetry hook. Mirrors the teacher's
// vgiotel.OtelConfig, minus the vgi_rpc-specific fields that have no
// Flight equivalent (this protocol is unary-per-call, not streaming).
type Config struct {
	TracerProvider   trace.TracerProvider
	MeterProvider    metric.MeterProvider
	Propagator       propagation.TextMapPropagator
	EnableTracing    bool
	EnableMetrics    bool
	RecordExceptions bool
	ServiceName      string
}

// DefaultConfig returns a Config with tracing and metrics enabled,
// resolving providers from the global OTel SDK at hook construction time.
func DefaultConfig() Config {
	return Config{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
		ServiceName:      "ustore-flight-server",
	}
}

// Hook is the dispatcher's single observability entry point: one Start/End
// pair per DoAction/DoPut/DoExchange/DoGet call. GetFlightInfo and the
// list_actions action are not wrapped.
type Hook struct {
	cfg               Config
	tracer            trace.Tracer
	requestCounter    metric.Int64Counter
	durationHistogram metric.Float64Histogram
}

// NewHook builds a Hook, resolving any unset provider from the global OTel
// SDK, matching the teacher's InstrumentServer defaulting behavior.
func NewHook(cfg Config) *Hook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.Propagator == nil {
		cfg.Propagator = otel.GetTextMapPropagator()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "ustore-flight-server"
	}

	h := &Hook{cfg: cfg, tracer: cfg.TracerProvider.Tracer(instrumentationName)}
	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		h.requestCounter, _ = meter.Int64Counter("rpc.server.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of RPC requests"),
		)
		h.durationHistogram, _ = meter.Float64Histogram("rpc.server.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of RPC requests"),
		)
	}
	return h
}

// Span is the opaque token returned by Start and passed back to End.
type Span struct {
	span      trace.Span
	startTime time.Time
}

// Start extracts any incoming trace context from transport metadata and
// opens a server span for the call.
func (h *Hook) Start(ctx context.Context, info CallInfo) (context.Context, *Span) {
	if h.cfg.Propagator != nil && info.TransportMetadata != nil {
		ctx = h.cfg.Propagator.Extract(ctx, propagation.MapCarrier(info.TransportMetadata))
	}
	if !h.cfg.EnableTracing {
		return ctx, &Span{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "ustore_flight"),
		attribute.String("rpc.service", h.cfg.ServiceName),
		attribute.String("rpc.method", info.Verb),
		attribute.String("rpc.ustore.session_id", info.SessionID),
		attribute.String("rpc.ustore.server_id", info.ServerID),
	}
	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("ustore_flight/%s", info.Verb),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return ctx, &Span{span: span, startTime: time.Now()}
}

// End records span attributes/status and metrics for a completed call.
func (h *Hook) End(ctx context.Context, span *Span, info CallInfo, stats *CallStatistics, err error) {
	if span == nil {
		return
	}
	duration := time.Since(span.startTime)

	status := "ok"
	if err != nil {
		status = "error"
	}

	if h.cfg.EnableMetrics {
		attrs := metric.WithAttributes(
			attribute.String("rpc.system", "ustore_flight"),
			attribute.String("rpc.service", h.cfg.ServiceName),
			attribute.String("rpc.method", info.Verb),
			attribute.String("status", status),
		)
		if h.requestCounter != nil {
			h.requestCounter.Add(ctx, 1, attrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, duration.Seconds(), attrs)
		}
	}

	if span.span == nil || !span.span.IsRecording() {
		return
	}
	if stats != nil {
		span.span.SetAttributes(
			attribute.Int64("rpc.ustore.input_batches", stats.InputBatches),
			attribute.Int64("rpc.ustore.output_batches", stats.OutputBatches),
			attribute.Int64("rpc.ustore.input_rows", stats.InputRows),
			attribute.Int64("rpc.ustore.output_rows", stats.OutputRows),
			attribute.Int64("rpc.ustore.input_bytes", stats.InputBytes),
			attribute.Int64("rpc.ustore.output_bytes", stats.OutputBytes),
		)
	}
	if err != nil {
		span.span.SetStatus(otelcodes.Error, err.Error())
		if h.cfg.RecordExceptions {
			span.span.RecordError(err)
		}
		errType := fmt.Sprintf("%T", err)
		if uerr, ok := err.(*ustoreerr.Error); ok {
			errType = string(uerr.Code)
		}
		span.span.SetAttributes(attribute.String("rpc.ustore.error_type", errType))
	} else {
		span.span.SetStatus(otelcodes.Ok, "")
	}
	span.span.End()
}
