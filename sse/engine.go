// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// UnknownFunctionPolicy decides what Execute does with a function id that is
// not in the table.
type UnknownFunctionPolicy int

const (
	// UnknownStrict fails the call with an [UnknownFunction] error.
	UnknownStrict UnknownFunctionPolicy = iota
	// UnknownDrain consumes and discards the input stream and ends the call
	// successfully without output.
	UnknownDrain
)

func (p UnknownFunctionPolicy) String() string {
	if p == UnknownDrain {
		return "drain"
	}
	return "strict"
}

// ParseUnknownFunctionPolicy parses "strict" or "drain".
func ParseUnknownFunctionPolicy(s string) (UnknownFunctionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return UnknownStrict, nil
	case "drain":
		return UnknownDrain, nil
	}
	return UnknownStrict, fmt.Errorf("unknown function policy %q (want strict or drain)", s)
}

// Engine executes calls against an immutable function table. It is safe for
// concurrent use; the call counter is the only state shared between calls.
type Engine struct {
	caps     Capabilities
	fns      map[int32]Function
	counter  *CallCounter
	unknown  UnknownFunctionPolicy
	hook     DispatchHook
	logger   *slog.Logger
	serverID string
}

// Option configures an Engine.
type Option func(*Engine)

// WithCounter sets the counter used by StatefulRowMap functions. By default
// each engine owns a fresh counter starting at zero.
func WithCounter(c *CallCounter) Option {
	return func(e *Engine) { e.counter = c }
}

// WithUnknownFunctionPolicy sets the policy for unknown function ids.
func WithUnknownFunctionPolicy(p UnknownFunctionPolicy) Option {
	return func(e *Engine) { e.unknown = p }
}

// WithDispatchHook registers a hook called around every execute call.
// Registering more than one hook chains them.
func WithDispatchHook(h DispatchHook) Option {
	return func(e *Engine) {
		switch cur := e.hook.(type) {
		case nil:
			e.hook = h
		case MultiHook:
			e.hook = append(cur, h)
		default:
			e.hook = MultiHook{cur, h}
		}
	}
}

// WithLogger sets the process logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithServerID sets the server identifier reported to hooks and transports.
func WithServerID(id string) Option {
	return func(e *Engine) { e.serverID = id }
}

// NewEngine builds an engine over fns. Descriptors are advertised in the given
// order. Duplicate ids, missing strategies and strategies that do not match
// the declared kind are rejected.
func NewEngine(info PluginInfo, fns []Function, opts ...Option) (*Engine, error) {
	e := &Engine{
		fns: make(map[int32]Function, len(fns)),
		caps: Capabilities{
			PluginIdentifier: info.Identifier,
			PluginVersion:    info.Version,
			AllowScript:      false,
		},
	}
	for _, fn := range fns {
		d := fn.Descriptor
		if fn.Strategy == nil {
			return nil, fmt.Errorf("sse: function %d (%s) has no strategy", d.ID, d.Name)
		}
		if k := fn.Strategy.kind(); k != d.Kind {
			return nil, fmt.Errorf("sse: function %d (%s) declared %s but strategy is %s", d.ID, d.Name, d.Kind, k)
		}
		if _, dup := e.fns[d.ID]; dup {
			return nil, fmt.Errorf("sse: duplicate function id %d (%s)", d.ID, d.Name)
		}
		d.Params = slices.Clone(d.Params)
		fn.Descriptor = d
		e.fns[d.ID] = fn
		e.caps.Functions = append(e.caps.Functions, d)
	}
	for _, o := range opts {
		o(e)
	}
	if e.counter == nil {
		e.counter = NewCallCounter(0)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// Describe returns the capability table. The result is a copy.
func (e *Engine) Describe() Capabilities {
	caps := e.caps
	caps.Functions = make([]FunctionDescriptor, len(e.caps.Functions))
	for i, d := range e.caps.Functions {
		d.Params = slices.Clone(d.Params)
		caps.Functions[i] = d
	}
	return caps
}

// Counter returns the engine's call counter.
func (e *Engine) Counter() *CallCounter { return e.counter }

// ServerID returns the configured server identifier.
func (e *Engine) ServerID() string { return e.serverID }

// Logger returns the engine's process logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// Function returns the table entry for id.
func (e *Engine) Function(id int32) (Function, bool) {
	fn, ok := e.fns[id]
	return fn, ok
}

// Execute runs one call to completion. Input bundles are consumed in arrival
// order and output bundles are sent in the corresponding order. The returned
// error is nil or an *Error:
//
//   - ProtocolViolation when the call has no function header, a row does
//     not match the declared parameter count, or a typed stream declares a
//     column that cannot carry its parameter; nothing has been sent for the
//     offending bundle.
//   - UnknownFunction when the id is not in the table and the policy is
//     strict.
//   - StreamCancelled when ctx is cancelled or the stream fails; in-flight
//     aggregation state is dropped.
//   - FunctionError when a strategy fails or panics.
func (e *Engine) Execute(ctx context.Context, call Call, stream BundleStream) (err error) {
	if call.RequestID == "" {
		call.RequestID = uuid.NewString()
	}
	log := e.logger.With("request_id", call.RequestID, "transport", call.Transport)
	log.Debug("call: awaiting header")

	info := DispatchInfo{
		FunctionID:        -1,
		ServerID:          e.serverID,
		RequestID:         call.RequestID,
		Transport:         call.Transport,
		TransportMetadata: call.Metadata,
	}
	var fn Function
	var known bool
	if call.Header != nil {
		info.FunctionID = call.Header.FunctionID
		if fn, known = e.fns[call.Header.FunctionID]; known {
			info.Function = fn.Descriptor.Name
			info.Kind = fn.Descriptor.Kind.String()
		}
	}

	stats := &CallStatistics{}
	ctx, token, hookActive := startHook(ctx, e.hook, info, log)
	if hookActive {
		defer func() { endHook(ctx, e.hook, token, info, stats, err, log) }()
	}

	if call.Header == nil {
		err = protocolErrorf("execute call without %s", MetaFunctionHeader)
		log.Debug("call: rejected", "err", err)
		return err
	}
	id := call.Header.FunctionID
	log = log.With("function_id", id)
	if call.Common != nil {
		log.Debug("call: security context",
			"app_id", call.Common.AppID,
			"user_id", call.Common.UserID,
			"cardinality", call.Common.Cardinality)
	}

	r := &callRun{ctx: ctx, stream: stream, stats: stats, id: id}
	if !known {
		return e.unknownFunction(log, r, call.Header)
	}

	log = log.With("function", fn.Descriptor.Name)
	log.Debug("call: dispatched", "kind", fn.Descriptor.Kind, "version", call.Header.Version)
	r.params = fn.Descriptor.Params
	if !fn.VariableWidth {
		r.width = len(fn.Descriptor.Params)
	}

	if fn.NoCache {
		if err := stream.SetHeader(MetaCache, CacheNoStore); err != nil {
			return r.streamErr(err)
		}
	}

	log.Debug("call: streaming")
	switch s := fn.Strategy.(type) {
	case RowMap:
		err = r.rowMap(s.Map)
	case FullReduce:
		err = r.reduce(s.New)
	case StatefulRowMap:
		n := e.counter.Increment()
		log.Debug("call: counter incremented", "value", n)
		err = r.rowMap(func(row Row) (Row, error) { return s.Map(n, row) })
	default:
		err = &Error{Type: FunctionError, Message: fmt.Sprintf("unsupported strategy %T", s), FunctionID: id}
	}
	if err != nil {
		if typeOf(err) == StreamCancelled {
			log.Debug("call: cancelled", "err", err)
		} else {
			log.Debug("call: failed", "err", err)
		}
		return err
	}
	log.Debug("call: completed",
		"input_rows", stats.InputRows,
		"output_rows", stats.OutputRows,
		"output_bundles", stats.OutputBundles)
	return nil
}

func (e *Engine) unknownFunction(log *slog.Logger, r *callRun, h *CallHeader) error {
	if e.unknown == UnknownStrict {
		err := &Error{
			Type:       UnknownFunction,
			Message:    fmt.Sprintf("no function with id %d", h.FunctionID),
			FunctionID: h.FunctionID,
		}
		log.Debug("call: rejected", "err", err)
		return err
	}
	log.Warn("call: unknown function, draining input")
	for {
		_, err := r.recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// callRun is the streaming state of one dispatched call.
type callRun struct {
	ctx    context.Context
	stream BundleStream
	stats  *CallStatistics
	id     int32
	// width is the declared parameter count; rows must match it.
	width int
	// params are checked once against the column types of a typed stream.
	params       []Parameter
	typesChecked bool
}

func (r *callRun) recv() (RowBundle, error) {
	if err := r.ctx.Err(); err != nil {
		return nil, cancelled(r.id, err)
	}
	b, err := r.stream.Recv()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, r.streamErr(err)
	}
	r.stats.RecordInput(len(b))
	if r.width > 0 {
		for i, row := range b {
			if len(row) != r.width {
				return nil, &Error{
					Type:       ProtocolViolation,
					Message:    fmt.Sprintf("row %d has %d values, function takes %d", i, len(row), r.width),
					FunctionID: r.id,
				}
			}
		}
	}
	if len(b) > 0 && !r.typesChecked {
		r.typesChecked = true
		if ts, ok := r.stream.(TypedStream); ok {
			if err := checkColumnTypes(r.params, ts.ColumnTypes()); err != nil {
				err.FunctionID = r.id
				return nil, err
			}
		}
	}
	return b, nil
}

// checkColumnTypes verifies that every column can carry the parameter it
// binds to. Columns past the declared parameters bind to the last one. A
// dual column carries any parameter type; a plain column only its own.
func checkColumnTypes(params []Parameter, cols []DataType) *Error {
	if len(params) == 0 {
		return nil
	}
	for i, col := range cols {
		p := params[min(i, len(params)-1)]
		if col != DualData && col != p.Type {
			return protocolErrorf("column %d is %s, parameter %q is %s", i, col, p.Name, p.Type)
		}
	}
	return nil
}

func (r *callRun) send(b RowBundle) error {
	if err := r.ctx.Err(); err != nil {
		return cancelled(r.id, err)
	}
	for i, row := range b {
		if len(row) != 1 {
			return &Error{
				Type:       FunctionError,
				Message:    fmt.Sprintf("result row %d has %d values, want 1", i, len(row)),
				FunctionID: r.id,
			}
		}
	}
	if err := r.stream.Send(b); err != nil {
		return r.streamErr(err)
	}
	r.stats.RecordOutput(len(b))
	return nil
}

// streamErr classifies a transport error. *Error values raised by the
// transport (e.g. undecodable bundles) are kept; anything else means the peer
// is gone.
func (r *callRun) streamErr(err error) error {
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		if cp.FunctionID == 0 {
			cp.FunctionID = r.id
		}
		return &cp
	}
	if isCancellation(err) || r.ctx.Err() != nil {
		return cancelled(r.id, err)
	}
	return &Error{Type: StreamCancelled, Message: "stream closed: " + err.Error(), FunctionID: r.id, Err: err}
}

func (r *callRun) rowMap(fn func(Row) (Row, error)) error {
	for {
		in, err := r.recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		out := make(RowBundle, len(in))
		for i, row := range in {
			res, err := r.guard(func() (Row, error) { return fn(row) })
			if err != nil {
				return err
			}
			out[i] = res
		}
		if err := r.send(out); err != nil {
			return err
		}
	}
}

func (r *callRun) reduce(newReducer func() Reducer) error {
	var red Reducer
	if _, err := r.guard(func() (Row, error) { red = newReducer(); return nil, nil }); err != nil {
		return err
	}
	for {
		in, err := r.recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		for _, row := range in {
			if _, err := r.guard(func() (Row, error) { return nil, red.Add(row) }); err != nil {
				return err
			}
		}
	}
	res, err := r.guard(red.Result)
	if err != nil {
		return err
	}
	return r.send(RowBundle{res})
}

// guard runs fn, turning errors and panics into FunctionError.
func (r *callRun) guard(fn func() (Row, error)) (row Row, err error) {
	defer func() {
		if rv := recover(); rv != nil {
			row, err = nil, &Error{Type: FunctionError, Message: fmt.Sprintf("panic: %v", rv), FunctionID: r.id}
		}
	}()
	row, err = fn()
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return nil, e
		}
		return nil, &Error{Type: FunctionError, Message: err.Error(), FunctionID: r.id, Err: err}
	}
	return row, nil
}
