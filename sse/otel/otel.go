// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package sseotel provides OpenTelemetry instrumentation for SSE engines. It
// implements the [sse.DispatchHook] interface to add tracing and metrics to
// execute calls.
//
// Usage:
//
//	hook := sseotel.NewHook(sseotel.DefaultConfig())
//	engine, err := sse.NewEngine(info, fns, sse.WithDispatchHook(hook))
package sseotel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Query-farm/sse-plugin/sse"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "qlik_sse"

// Config configures OpenTelemetry instrumentation.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// Propagator extracts trace context from transport metadata.
	// Defaults to otel.GetTextMapPropagator().
	Propagator propagation.TextMapPropagator
	// EnableTracing enables span creation.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording.
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span of failed calls.
	RecordExceptions bool
	// ServiceName is the rpc.service attribute value. Defaults to
	// "qlik.sse.Connector".
	ServiceName string
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig enables tracing, metrics and exception recording over the
// global providers.
func DefaultConfig() Config {
	return Config{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// NewHook returns a dispatch hook recording spans and metrics per call.
func NewHook(cfg Config) sse.DispatchHook {
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
		cfg.ServiceName = "qlik.sse.Connector"
	}

	h := &hook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}
	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		h.calls, _ = meter.Int64Counter("sse.server.calls",
			metric.WithUnit("{call}"),
			metric.WithDescription("Number of execute calls"),
		)
		h.rows, _ = meter.Int64Counter("sse.server.rows",
			metric.WithUnit("{row}"),
			metric.WithDescription("Rows received and sent by execute calls"),
		)
		h.duration, _ = meter.Float64Histogram("sse.server.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of execute calls"),
		)
	}
	return h
}

type hook struct {
	cfg      Config
	tracer   trace.Tracer
	calls    metric.Int64Counter
	rows     metric.Int64Counter
	duration metric.Float64Histogram
}

type spanToken struct {
	span  trace.Span
	start time.Time
}

func (h *hook) OnDispatchStart(ctx context.Context, info sse.DispatchInfo) (context.Context, sse.HookToken) {
	if h.cfg.Propagator != nil && info.TransportMetadata != nil {
		ctx = h.cfg.Propagator.Extract(ctx, propagation.MapCarrier(info.TransportMetadata))
	}
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{start: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "qlik_sse"),
		attribute.String("rpc.service", h.cfg.ServiceName),
		attribute.String("rpc.method", "ExecuteFunction"),
		attribute.Int("sse.function_id", int(info.FunctionID)),
		attribute.String("sse.function", info.Function),
		attribute.String("sse.kind", info.Kind),
		attribute.String("sse.transport", info.Transport),
		attribute.String("sse.request_id", info.RequestID),
	}
	if info.ServerID != "" {
		attrs = append(attrs, attribute.String("sse.server_id", info.ServerID))
	}
	if v := info.TransportMetadata["remote_addr"]; v != "" {
		attrs = append(attrs, attribute.String("net.peer.ip", v))
	}
	if v := info.TransportMetadata["user_agent"]; v != "" {
		attrs = append(attrs, attribute.String("user_agent.original", v))
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(ctx, spanName(info),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, start: time.Now()}
}

func (h *hook) OnDispatchEnd(ctx context.Context, token sse.HookToken, info sse.DispatchInfo, stats *sse.CallStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}
	elapsed := time.Since(st.start)
	errType := errorType(err)

	if h.cfg.EnableMetrics {
		attrs := metric.WithAttributes(
			attribute.String("rpc.service", h.cfg.ServiceName),
			attribute.String("sse.function", info.Function),
			attribute.String("sse.transport", info.Transport),
			attribute.String("status", errType),
		)
		if h.calls != nil {
			h.calls.Add(ctx, 1, attrs)
		}
		if h.duration != nil {
			h.duration.Record(ctx, elapsed.Seconds(), attrs)
		}
		if h.rows != nil && stats != nil {
			h.rows.Add(ctx, stats.InputRows, metric.WithAttributes(
				attribute.String("sse.function", info.Function),
				attribute.String("direction", "in")))
			h.rows.Add(ctx, stats.OutputRows, metric.WithAttributes(
				attribute.String("sse.function", info.Function),
				attribute.String("direction", "out")))
		}
	}

	if st.span == nil || !st.span.IsRecording() {
		return
	}
	if stats != nil {
		st.span.SetAttributes(
			attribute.Int64("sse.input_bundles", stats.InputBundles),
			attribute.Int64("sse.output_bundles", stats.OutputBundles),
			attribute.Int64("sse.input_rows", stats.InputRows),
			attribute.Int64("sse.output_rows", stats.OutputRows),
		)
	}
	if err != nil {
		st.span.SetStatus(codes.Error, err.Error())
		if h.cfg.RecordExceptions {
			st.span.RecordError(err)
		}
		st.span.SetAttributes(attribute.String("sse.error_type", errType))
	} else {
		st.span.SetStatus(codes.Ok, "")
	}
	st.span.End()
}

func spanName(info sse.DispatchInfo) string {
	if info.Function == "" {
		return fmt.Sprintf("qlik_sse/%d", info.FunctionID)
	}
	return "qlik_sse/" + info.Function
}

// errorType returns "ok" for nil, the error type of engine errors and the Go
// type name otherwise.
func errorType(err error) string {
	if err == nil {
		return "ok"
	}
	var e *sse.Error
	if errors.As(err, &e) {
		return string(e.Type)
	}
	return fmt.Sprintf("%T", err)
}

// Instrument returns an engine option installing the OpenTelemetry hook.
func Instrument(cfg Config) sse.Option {
	return sse.WithDispatchHook(NewHook(cfg))
}
