// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sseprom

import (
	"context"
	"testing"

	"github.com/Query-farm/sse-plugin/sse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookCountsCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := sse.NewCallCounter(0)
	hook, err := NewHook(reg, counter)
	require.NoError(t, err)

	fn := sse.Function{
		Descriptor: sse.FunctionDescriptor{
			ID: 3, Name: "CallCounter", Kind: sse.KindStatefulRowMap,
			Params:     []sse.Parameter{{Name: "d", Type: sse.DualData}},
			ReturnType: sse.Numeric,
		},
		Strategy: sse.StatefulRowMap{Map: func(n int64, _ sse.Row) (sse.Row, error) {
			return sse.Row{sse.Number(float64(n))}, nil
		}},
	}
	e, err := sse.NewEngine(sse.PluginInfo{}, []sse.Function{fn}, sse.WithCounter(counter), sse.WithDispatchHook(hook))
	require.NoError(t, err)

	ctx := context.Background()
	for range 2 {
		s := sse.NewBufferedStream(sse.RowBundle{{{}}, {{}}})
		require.NoError(t, e.Execute(ctx, sse.Call{Header: &sse.CallHeader{FunctionID: 3}, Transport: "grpc"}, s))
	}
	require.Error(t, e.Execute(ctx, sse.Call{Header: &sse.CallHeader{FunctionID: 8}, Transport: "grpc"}, sse.NewBufferedStream()))

	assert.Equal(t, 2.0, testutil.ToFloat64(hook.calls.WithLabelValues("3", "CallCounter", "grpc", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(hook.calls.WithLabelValues("8", "unknown", "grpc", "UnknownFunction")))
	assert.Equal(t, 4.0, testutil.ToFloat64(hook.rows.WithLabelValues("CallCounter", "out")))
	assert.Equal(t, 0.0, testutil.ToFloat64(hook.inFlight))

	n, err := testutil.GatherAndCount(reg, "sse_call_counter")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "sse_call_counter" {
			assert.Equal(t, 2.0, mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
}

func TestNewHookRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewHook(reg, nil)
	require.NoError(t, err)
	_, err = NewHook(reg, nil)
	assert.Error(t, err)
}
