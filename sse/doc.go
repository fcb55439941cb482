// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package sse implements the core of a server-side extension plugin: a host
// analytics engine streams bundles of rows to the plugin and receives bundles
// of result rows back.
//
// # Model
//
// A [Dual] carries a numeric and a string slot at the same time. A [Row] is an
// ordered list of duals, one per function parameter, and a [RowBundle] is the
// unit of streaming transfer.
//
// # Functions
//
// Every exposed function is a [Function]: an immutable [FunctionDescriptor]
// (id, name, kind, parameter types, return type) paired with one of three
// execution strategies:
//
//   - [RowMap] transforms each row independently and emits one output bundle
//     per input bundle.
//   - [FullReduce] consumes the whole input stream and emits exactly one row.
//   - [StatefulRowMap] increments the engine's [CallCounter] once per call and
//     maps every row with the new value.
//
// # Engine
//
// An [Engine] owns the capability table, the call counter and the dispatch
// hooks. [Engine.Describe] returns the [Capabilities] table.
// [Engine.Execute] drives one call: it validates the [Call] header, selects
// the strategy, and pumps bundles between a [BundleStream] and the strategy.
//
//	engine, err := sse.NewEngine(sse.PluginInfo{Identifier: "demo", Version: "1.0.0"},
//	    []sse.Function{{
//	        Descriptor: sse.FunctionDescriptor{ID: 0, Name: "Add42", Kind: sse.KindRowMap,
//	            Params: []sse.Parameter{{Name: "n", Type: sse.Numeric}}, ReturnType: sse.Numeric},
//	        Strategy: sse.RowMap{Map: func(r sse.Row) (sse.Row, error) {
//	            return sse.Row{sse.Number(r[0].Num + 42)}, nil
//	        }},
//	    }})
//
// # Transports
//
// The same engine is served over three transports:
//
//   - gRPC, wire compatible with the qlik.sse.Connector service (package
//     grpcsse).
//   - Arrow IPC streams over any reader/writer pair ([Server.Serve],
//     [Server.RunStdio]).
//   - HTTP with Arrow IPC bodies ([NewHttpServer]).
//
// All transports carry the same binary call headers, keyed by
// [MetaFunctionHeader] and [MetaCommonHeader].
package sse
