// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/Query-farm/sse-plugin/functions"
	"github.com/Query-farm/sse-plugin/internal/config"
	"github.com/Query-farm/sse-plugin/locale"
	"github.com/Query-farm/sse-plugin/sse"
	sseotel "github.com/Query-farm/sse-plugin/sse/otel"
	sseprom "github.com/Query-farm/sse-plugin/sse/prom"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// buildEngine assembles the function table and hooks. reg may be nil when no
// metrics endpoint is served.
func buildEngine(cfg config.Config, reg prometheus.Registerer) (*sse.Engine, error) {
	matcher, err := locale.NewMatcher(locale.DefaultCatalog(), cfg.Locale.CacheSize)
	if err != nil {
		return nil, err
	}
	serverID := cfg.Engine.ServerID
	if serverID == "" {
		serverID = uuid.NewString()
	}
	counter := sse.NewCallCounter(0)
	opts := []sse.Option{
		sse.WithCounter(counter),
		sse.WithUnknownFunctionPolicy(cfg.UnknownFunctionPolicy()),
		sse.WithLogger(slog.Default()),
		sse.WithServerID(serverID),
	}
	if reg != nil {
		hook, err := sseprom.NewHook(reg, counter)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sse.WithDispatchHook(hook))
	}
	if cfg.Telemetry.Stdout {
		opts = append(opts, sseotel.Instrument(sseotel.DefaultConfig()))
	}
	return functions.Register(functions.DefaultInfo, functions.Config{Matcher: matcher}, opts...)
}

// setupTelemetry installs stdout trace and metric exporters as the global
// providers when telemetry.stdout is set. The exporters write to stderr.
func setupTelemetry(ctx context.Context, cfg config.Config) (func(), error) {
	if !cfg.Telemetry.Stdout {
		return func() {}, nil
	}
	traceExp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, err
	}
	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func() {
		shutdownCtx := context.WithoutCancel(ctx)
		if err := errors.Join(tp.Shutdown(shutdownCtx), mp.Shutdown(shutdownCtx)); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}, nil
}
