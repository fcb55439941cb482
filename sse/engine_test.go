// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	fnAdd42 int32 = iota
	fnSum
	fnConcat
	fnCounter
	fnPanic
	fnFail
	fnWide
)

func numParam(name string) Parameter { return Parameter{Name: name, Type: Numeric} }

func testFunctions() []Function {
	return []Function{
		{
			Descriptor: FunctionDescriptor{ID: fnAdd42, Name: "Add42", Kind: KindRowMap, Params: []Parameter{numParam("x")}, ReturnType: Numeric},
			Strategy: RowMap{Map: func(r Row) (Row, error) {
				return Row{Number(r[0].Num + 42)}, nil
			}},
		},
		{
			Descriptor: FunctionDescriptor{ID: fnSum, Name: "Sum", Kind: KindReduce, Params: []Parameter{numParam("x")}, ReturnType: Numeric},
			Strategy: FullReduce{New: ReducerFunc(
				func() float64 { return 0 },
				func(acc float64, r Row) (float64, error) {
					for _, d := range r {
						acc += d.Num
					}
					return acc, nil
				},
				func(acc float64) Row { return Row{Number(acc)} },
			)},
			VariableWidth: true,
		},
		{
			Descriptor: FunctionDescriptor{ID: fnConcat, Name: "Concat", Kind: KindReduce, Params: []Parameter{{Name: "s", Type: StringType}}, ReturnType: StringType},
			Strategy: FullReduce{New: ReducerFunc(
				func() []string { return nil },
				func(acc []string, r Row) ([]string, error) { return append(acc, r[0].Str), nil },
				func(acc []string) Row { return Row{String(strings.Join(acc, ", "))} },
			)},
		},
		{
			Descriptor: FunctionDescriptor{ID: fnCounter, Name: "Counter", Kind: KindStatefulRowMap, Params: []Parameter{{Name: "d", Type: DualData}}, ReturnType: Numeric},
			Strategy: StatefulRowMap{Map: func(n int64, _ Row) (Row, error) {
				return Row{Number(float64(n))}, nil
			}},
			NoCache: true,
		},
		{
			Descriptor: FunctionDescriptor{ID: fnPanic, Name: "Panic", Kind: KindRowMap, Params: []Parameter{numParam("x")}, ReturnType: Numeric},
			Strategy: RowMap{Map: func(Row) (Row, error) { panic("boom") }},
		},
		{
			Descriptor: FunctionDescriptor{ID: fnFail, Name: "Fail", Kind: KindReduce, Params: []Parameter{numParam("x")}, ReturnType: Numeric},
			Strategy: FullReduce{New: ReducerFunc(
				func() int { return 0 },
				func(int, Row) (int, error) { return 0, fmt.Errorf("cannot add") },
				func(int) Row { return Row{Number(0)} },
			)},
		},
		{
			Descriptor: FunctionDescriptor{ID: fnWide, Name: "Wide", Kind: KindRowMap, Params: []Parameter{numParam("x")}, ReturnType: Numeric},
			Strategy: RowMap{Map: func(r Row) (Row, error) { return Row{r[0], r[0]}, nil }},
		},
	}
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(PluginInfo{Identifier: "test", Version: "0.1"}, testFunctions(), opts...)
	require.NoError(t, err)
	return e
}

func nums(vs ...float64) RowBundle {
	b := make(RowBundle, len(vs))
	for i, v := range vs {
		b[i] = Row{Number(v)}
	}
	return b
}

func strs(vs ...string) RowBundle {
	b := make(RowBundle, len(vs))
	for i, v := range vs {
		b[i] = Row{String(v)}
	}
	return b
}

func callFor(id int32) Call {
	return Call{Header: &CallHeader{FunctionID: id}, Transport: "test"}
}

func run(t *testing.T, e *Engine, id int32, in ...RowBundle) (*BufferedStream, error) {
	t.Helper()
	s := NewBufferedStream(in...)
	return s, e.Execute(context.Background(), callFor(id), s)
}

func TestExecuteRowMap(t *testing.T) {
	e := newTestEngine(t)

	s, err := run(t, e, fnAdd42, nums(1, 2))
	require.NoError(t, err)
	assert.Equal(t, []RowBundle{nums(43, 44)}, s.Output())

	t.Run("one output bundle per input bundle", func(t *testing.T) {
		s, err := run(t, e, fnAdd42, nums(1), RowBundle{}, nums(2, 3))
		require.NoError(t, err)
		out := s.Output()
		require.Len(t, out, 3)
		assert.Equal(t, nums(43), out[0])
		assert.Empty(t, out[1])
		assert.Equal(t, nums(44, 45), out[2])
	})

	t.Run("no input no output", func(t *testing.T) {
		s, err := run(t, e, fnAdd42)
		require.NoError(t, err)
		assert.Empty(t, s.Output())
	})
}

func TestExecuteReduceIgnoresBundling(t *testing.T) {
	e := newTestEngine(t)
	splits := [][]RowBundle{
		{nums(1, 2, 3.5)},
		{nums(1), nums(2), nums(3.5)},
		{nums(1, 2), RowBundle{}, nums(3.5)},
	}
	for i, in := range splits {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			s, err := run(t, e, fnSum, in...)
			require.NoError(t, err)
			assert.Equal(t, []RowBundle{nums(6.5)}, s.Output())
		})
	}

	t.Run("empty input yields one row", func(t *testing.T) {
		s, err := run(t, e, fnSum)
		require.NoError(t, err)
		assert.Equal(t, []RowBundle{nums(0)}, s.Output())
	})

	t.Run("variable width", func(t *testing.T) {
		s, err := run(t, e, fnSum, RowBundle{{Number(1), Number(2), Number(3)}})
		require.NoError(t, err)
		assert.Equal(t, []Row{{Number(6)}}, s.Rows())
	})
}

func TestExecuteConcatKeepsStreamOrder(t *testing.T) {
	e := newTestEngine(t)
	s, err := run(t, e, fnConcat, strs("a"), strs("b", "c"))
	require.NoError(t, err)
	assert.Equal(t, []Row{{String("a, b, c")}}, s.Rows())
}

func TestCallCounter(t *testing.T) {
	e := newTestEngine(t, WithCounter(NewCallCounter(10)))

	s, err := run(t, e, fnCounter, RowBundle{{{}}, {{}}}, RowBundle{{{}}})
	require.NoError(t, err)
	assert.Equal(t, []Row{{Number(11)}, {Number(11)}, {Number(11)}}, s.Rows(), "one value per call")
	v, ok := s.Header(MetaCache)
	assert.True(t, ok)
	assert.Equal(t, CacheNoStore, v)

	s, err = run(t, e, fnCounter, RowBundle{{{}}})
	require.NoError(t, err)
	assert.Equal(t, []Row{{Number(12)}}, s.Rows())
	assert.Equal(t, int64(12), e.Counter().Load())
}

func TestCallCounterConcurrentCallsGetDistinctValues(t *testing.T) {
	e := newTestEngine(t)
	const calls = 64

	var mu sync.Mutex
	var seen []int
	var wg sync.WaitGroup
	for range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := NewBufferedStream(RowBundle{{{}}})
			if err := e.Execute(context.Background(), callFor(fnCounter), s); err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			seen = append(seen, int(s.Rows()[0][0].Num))
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Ints(seen)
	require.Len(t, seen, calls)
	for i, v := range seen {
		assert.Equal(t, i+1, v)
	}
}

func TestExecuteMissingHeader(t *testing.T) {
	e := newTestEngine(t)
	s := NewBufferedStream(nums(1))
	err := e.Execute(context.Background(), Call{}, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.Empty(t, s.Output())
}

func TestExecuteUnknownFunction(t *testing.T) {
	t.Run("strict", func(t *testing.T) {
		e := newTestEngine(t)
		s, err := run(t, e, 99, nums(1))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownFunction)
		var se *Error
		require.True(t, errors.As(err, &se))
		assert.Equal(t, int32(99), se.FunctionID)
		assert.Empty(t, s.Output())
	})

	t.Run("drain", func(t *testing.T) {
		e := newTestEngine(t, WithUnknownFunctionPolicy(UnknownDrain))
		s, err := run(t, e, 99, nums(1), nums(2))
		require.NoError(t, err)
		assert.Empty(t, s.Output())
		_, err = s.Recv()
		assert.Equal(t, io.EOF, err, "input consumed")
	})
}

func TestParseUnknownFunctionPolicy(t *testing.T) {
	for in, want := range map[string]UnknownFunctionPolicy{"": UnknownStrict, "strict": UnknownStrict, " Drain ": UnknownDrain} {
		got, err := ParseUnknownFunctionPolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseUnknownFunctionPolicy("ignore")
	assert.Error(t, err)
}

func TestExecuteRowWidthMismatch(t *testing.T) {
	e := newTestEngine(t)
	s, err := run(t, e, fnAdd42, RowBundle{{Number(1), Number(2)}})
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.Empty(t, s.Output())
}

func TestExecuteColumnTypes(t *testing.T) {
	e := newTestEngine(t)
	tests := []struct {
		name  string
		id    int32
		types []DataType
		in    RowBundle
		ok    bool
	}{
		{"numeric column for numeric param", fnAdd42, []DataType{Numeric}, nums(1), true},
		{"dual column for numeric param", fnAdd42, []DataType{DualData}, nums(1), true},
		{"string column for numeric param", fnAdd42, []DataType{StringType}, strs("1"), false},
		{"numeric column for string param", fnConcat, []DataType{Numeric}, nums(1, 2), false},
		{"numeric column for dual param", fnCounter, []DataType{Numeric}, nums(1), false},
		{"variable width repeats last param", fnSum, []DataType{Numeric, DualData, Numeric}, RowBundle{{Number(1), Number(2), Number(3)}}, true},
		{"variable width wrong column", fnSum, []DataType{Numeric, StringType}, RowBundle{{Number(1), String("x")}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewBufferedStream(tt.in)
			s.SetColumnTypes(tt.types)
			err := e.Execute(context.Background(), callFor(tt.id), s)
			if tt.ok {
				require.NoError(t, err)
				assert.NotEmpty(t, s.Output())
				return
			}
			assert.ErrorIs(t, err, ErrProtocolViolation)
			assert.Empty(t, s.Output())
		})
	}
}

// eofGuardStream fails the test when a bundle is sent before the input has
// been read to the end.
type eofGuardStream struct {
	*BufferedStream
	t   *testing.T
	eof bool
}

func (s *eofGuardStream) Recv() (RowBundle, error) {
	b, err := s.BufferedStream.Recv()
	if err == io.EOF {
		s.eof = true
	}
	return b, err
}

func (s *eofGuardStream) Send(b RowBundle) error {
	if !s.eof {
		s.t.Errorf("bundle %v sent before end of input", b)
	}
	return s.BufferedStream.Send(b)
}

func TestExecuteReduceEmitsAfterEndOfInput(t *testing.T) {
	e := newTestEngine(t)
	for _, id := range []int32{fnSum, fnConcat} {
		s := &eofGuardStream{BufferedStream: NewBufferedStream(nums(1, 2), nums(3.5)), t: t}
		require.NoError(t, e.Execute(context.Background(), callFor(id), s))
		assert.Len(t, s.Rows(), 1)
	}
}

// cancelAfterFirst cancels the call once the first bundle has been received.
type cancelAfterFirst struct {
	*BufferedStream
	cancel context.CancelFunc
	n      int
}

func (s *cancelAfterFirst) Recv() (RowBundle, error) {
	b, err := s.BufferedStream.Recv()
	s.n++
	if s.n == 1 {
		s.cancel()
	}
	return b, err
}

func TestExecuteCancelledMidStream(t *testing.T) {
	e := newTestEngine(t)
	for _, id := range []int32{fnSum, fnConcat} {
		ctx, cancel := context.WithCancel(context.Background())
		s := &cancelAfterFirst{BufferedStream: NewBufferedStream(nums(1, 2), nums(3), nums(4)), cancel: cancel}
		err := e.Execute(ctx, callFor(id), s)
		cancel()
		assert.ErrorIs(t, err, ErrStreamCancelled)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, s.n, "no bundle is read after cancellation")
		assert.Empty(t, s.Output(), "in-flight aggregation is dropped")
	}
}

func TestExecuteCancelled(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewBufferedStream(nums(1, 2))
	err := e.Execute(ctx, callFor(fnSum), s)
	assert.ErrorIs(t, err, ErrStreamCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.Output(), "partial aggregation is dropped")
}

// failingStream fails Recv after the given number of bundles.
type failingStream struct {
	*BufferedStream
	after int
}

func (f *failingStream) Recv() (RowBundle, error) {
	if f.after == 0 {
		return nil, errors.New("connection reset by peer")
	}
	f.after--
	return f.BufferedStream.Recv()
}

func TestExecuteBrokenStream(t *testing.T) {
	e := newTestEngine(t)
	s := &failingStream{BufferedStream: NewBufferedStream(nums(1), nums(2)), after: 1}
	err := e.Execute(context.Background(), callFor(fnSum), s)
	assert.ErrorIs(t, err, ErrStreamCancelled)
	assert.Empty(t, s.Output())
}

func TestExecuteFunctionErrors(t *testing.T) {
	e := newTestEngine(t)
	for _, id := range []int32{fnPanic, fnFail, fnWide} {
		t.Run(fmt.Sprint(id), func(t *testing.T) {
			_, err := run(t, e, id, nums(1))
			assert.ErrorIs(t, err, ErrFunction)
		})
	}
}

// orderStream records the order of SetHeader and Send calls.
type orderStream struct {
	*BufferedStream
	ops []string
}

func (o *orderStream) Send(b RowBundle) error {
	o.ops = append(o.ops, "send")
	return o.BufferedStream.Send(b)
}

func (o *orderStream) SetHeader(k, v string) error {
	o.ops = append(o.ops, "header:"+k+"="+v)
	return o.BufferedStream.SetHeader(k, v)
}

func TestNoCacheHeaderPrecedesFirstBundle(t *testing.T) {
	e := newTestEngine(t)
	s := &orderStream{BufferedStream: NewBufferedStream(nums(1), nums(2))}
	require.NoError(t, e.Execute(context.Background(), callFor(fnCounter), s))
	assert.Equal(t, []string{"header:qlik-cache=no-store", "send", "send"}, s.ops)

	s = &orderStream{BufferedStream: NewBufferedStream(nums(1))}
	require.NoError(t, e.Execute(context.Background(), callFor(fnAdd42), s))
	assert.Equal(t, []string{"send"}, s.ops, "cacheable functions set no header")
}

func TestNewEngineRejectsBadTables(t *testing.T) {
	info := PluginInfo{Identifier: "test"}
	good := testFunctions()[0]

	_, err := NewEngine(info, []Function{good, good})
	assert.ErrorContains(t, err, "duplicate")

	mismatched := good
	mismatched.Descriptor.Kind = KindReduce
	_, err = NewEngine(info, []Function{mismatched})
	assert.ErrorContains(t, err, "declared")

	missing := good
	missing.Strategy = nil
	_, err = NewEngine(info, []Function{missing})
	assert.ErrorContains(t, err, "no strategy")
}

func TestDescribe(t *testing.T) {
	e := newTestEngine(t)
	caps := e.Describe()
	assert.Equal(t, "test", caps.PluginIdentifier)
	assert.Equal(t, "0.1", caps.PluginVersion)
	assert.False(t, caps.AllowScript)
	require.Len(t, caps.Functions, len(testFunctions()))
	for i, f := range caps.Functions {
		assert.Equal(t, int32(i), f.ID, "advertised in table order")
	}
	assert.Equal(t, WireAggregation, caps.Functions[fnSum].Kind.WireType())
	assert.Equal(t, WireScalar, caps.Functions[fnCounter].Kind.WireType())

	caps.Functions[0].Params[0].Name = "changed"
	assert.Equal(t, "x", e.Describe().Functions[0].Params[0].Name, "Describe returns a copy")

	d, ok := caps.Lookup(fnConcat)
	require.True(t, ok)
	assert.Equal(t, "Concat", d.Name)
}

type recordingHook struct {
	mu    sync.Mutex
	infos []DispatchInfo
	stats []CallStatistics
	errs  []error
	panic bool
}

func (h *recordingHook) OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken) {
	if h.panic {
		panic("hook")
	}
	return ctx, "token"
}

func (h *recordingHook) OnDispatchEnd(_ context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if token != "token" {
		panic("unexpected token")
	}
	h.infos = append(h.infos, info)
	h.stats = append(h.stats, *stats)
	h.errs = append(h.errs, err)
}

func TestDispatchHooks(t *testing.T) {
	a, b := &recordingHook{}, &recordingHook{}
	e := newTestEngine(t, WithDispatchHook(a), WithDispatchHook(b), WithServerID("srv"))

	_, err := run(t, e, fnAdd42, nums(1, 2), nums(3))
	require.NoError(t, err)
	err = e.Execute(context.Background(), Call{}, NewBufferedStream())
	require.Error(t, err)

	for _, h := range []*recordingHook{a, b} {
		require.Len(t, h.infos, 2)
		assert.Equal(t, "Add42", h.infos[0].Function)
		assert.Equal(t, "row-map", h.infos[0].Kind)
		assert.Equal(t, "srv", h.infos[0].ServerID)
		assert.NotEmpty(t, h.infos[0].RequestID)
		assert.Equal(t, CallStatistics{InputBundles: 2, OutputBundles: 2, InputRows: 3, OutputRows: 3}, h.stats[0])
		assert.NoError(t, h.errs[0])

		assert.Equal(t, int32(-1), h.infos[1].FunctionID)
		assert.ErrorIs(t, h.errs[1], ErrProtocolViolation)
	}
}

func TestPanickingHookDoesNotFailCall(t *testing.T) {
	e := newTestEngine(t, WithDispatchHook(&recordingHook{panic: true}))
	s, err := run(t, e, fnAdd42, nums(1))
	require.NoError(t, err)
	assert.Equal(t, []Row{{Number(43)}}, s.Rows())
}
