// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package sseprom exports SSE call metrics to Prometheus.
package sseprom

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/Query-farm/sse-plugin/sse"
	"github.com/prometheus/client_golang/prometheus"
)

// Hook is a dispatch hook maintaining Prometheus collectors.
type Hook struct {
	calls    *prometheus.CounterVec
	rows     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

var _ sse.DispatchHook = (*Hook)(nil)

// NewHook registers the SSE collectors on reg. When counter is not nil its
// value is exported as sse_call_counter.
func NewHook(reg prometheus.Registerer, counter *sse.CallCounter) (*Hook, error) {
	h := &Hook{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sse",
			Name:      "calls_total",
			Help:      "Execute calls by function and outcome.",
		}, []string{"function_id", "function", "transport", "outcome"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sse",
			Name:      "rows_total",
			Help:      "Rows received and sent by execute calls.",
		}, []string{"function", "direction"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sse",
			Name:      "call_duration_seconds",
			Help:      "Duration of execute calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"function", "transport"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sse",
			Name:      "calls_in_flight",
			Help:      "Execute calls currently running.",
		}),
	}
	collectors := []prometheus.Collector{h.calls, h.rows, h.duration, h.inFlight}
	if counter != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "sse",
			Name:      "call_counter",
			Help:      "Current value of the CallCounter function's counter.",
		}, func() float64 { return float64(counter.Load()) }))
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hook) OnDispatchStart(ctx context.Context, _ sse.DispatchInfo) (context.Context, sse.HookToken) {
	h.inFlight.Inc()
	return ctx, time.Now()
}

func (h *Hook) OnDispatchEnd(_ context.Context, token sse.HookToken, info sse.DispatchInfo, stats *sse.CallStatistics, err error) {
	h.inFlight.Dec()
	fn := info.Function
	if fn == "" {
		fn = "unknown"
	}
	h.calls.WithLabelValues(strconv.Itoa(int(info.FunctionID)), fn, info.Transport, outcome(err)).Inc()
	if start, ok := token.(time.Time); ok {
		h.duration.WithLabelValues(fn, info.Transport).Observe(time.Since(start).Seconds())
	}
	if stats != nil {
		h.rows.WithLabelValues(fn, "in").Add(float64(stats.InputRows))
		h.rows.WithLabelValues(fn, "out").Add(float64(stats.OutputRows))
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var e *sse.Error
	if errors.As(err, &e) {
		return string(e.Type)
	}
	return string(sse.FunctionError)
}
