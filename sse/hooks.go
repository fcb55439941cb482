// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sse

import (
	"context"
	"log/slog"
)

// DispatchHook provides observability callpoints around each execute call.
// Implementations must be safe for concurrent use.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error)
}

// HookToken is an opaque value returned by OnDispatchStart and passed back to
// OnDispatchEnd. Only meaningful to the DispatchHook that created it.
type HookToken interface{}

// DispatchInfo carries call metadata passed to hooks. Function is empty when
// the call had no header or named an unknown id.
type DispatchInfo struct {
	FunctionID        int32
	Function          string
	Kind              string
	ServerID          string
	RequestID         string
	Transport         string
	TransportMetadata map[string]string
}

// CallStatistics holds per-call I/O counters.
type CallStatistics struct {
	InputBundles  int64
	OutputBundles int64
	InputRows     int64
	OutputRows    int64
}

// RecordInput records one input bundle with the given row count.
func (s *CallStatistics) RecordInput(numRows int) {
	s.InputBundles++
	s.InputRows += int64(numRows)
}

// RecordOutput records one output bundle with the given row count.
func (s *CallStatistics) RecordOutput(numRows int) {
	s.OutputBundles++
	s.OutputRows += int64(numRows)
}

// MultiHook fans out to several hooks in order.
type MultiHook []DispatchHook

type multiToken []HookToken

func (m MultiHook) OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken) {
	tokens := make(multiToken, len(m))
	for i, h := range m {
		var next context.Context
		next, tokens[i] = h.OnDispatchStart(ctx, info)
		if next != nil {
			ctx = next
		}
	}
	return ctx, tokens
}

func (m MultiHook) OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error) {
	tokens, _ := token.(multiToken)
	for i := len(m) - 1; i >= 0; i-- {
		var t HookToken
		if i < len(tokens) {
			t = tokens[i]
		}
		m[i].OnDispatchEnd(ctx, t, info, stats, err)
	}
}

// startHook runs OnDispatchStart, recovering panics.
func startHook(ctx context.Context, hook DispatchHook, info DispatchInfo, log *slog.Logger) (context.Context, HookToken, bool) {
	if hook == nil {
		return ctx, nil, false
	}
	var token HookToken
	active := false
	func() {
		defer func() {
			if rv := recover(); rv != nil {
				log.Error("dispatch hook start panic", "err", rv)
			}
		}()
		var hookCtx context.Context
		hookCtx, token = hook.OnDispatchStart(ctx, info)
		if hookCtx != nil {
			ctx = hookCtx
		}
		active = true
	}()
	return ctx, token, active
}

// endHook runs OnDispatchEnd, recovering panics.
func endHook(ctx context.Context, hook DispatchHook, token HookToken, info DispatchInfo, stats *CallStatistics, err error, log *slog.Logger) {
	defer func() {
		if rv := recover(); rv != nil {
			log.Error("dispatch hook end panic", "err", rv)
		}
	}()
	hook.OnDispatchEnd(ctx, token, info, stats, err)
}
