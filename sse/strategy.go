// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sse

// Strategy is the execution strategy of a function. The set is closed:
// [RowMap], [FullReduce] and [StatefulRowMap].
type Strategy interface {
	kind() FunctionKind
}

// RowMap maps each input row to one output row. Output bundles mirror input
// bundles one to one and are emitted as soon as their input bundle is read.
type RowMap struct {
	Map func(Row) (Row, error)
}

func (RowMap) kind() FunctionKind { return KindRowMap }

// Reducer accumulates rows for a [FullReduce] call. A new reducer is created
// for every call and discarded when the call ends.
type Reducer interface {
	Add(Row) error
	Result() (Row, error)
}

// FullReduce consumes the entire input stream and emits exactly one bundle
// with exactly one row after the input ends, also when the input was empty.
type FullReduce struct {
	New func() Reducer
}

func (FullReduce) kind() FunctionKind { return KindReduce }

// StatefulRowMap increments the engine's call counter once per call and maps
// every input row with the new counter value.
type StatefulRowMap struct {
	Map func(n int64, r Row) (Row, error)
}

func (StatefulRowMap) kind() FunctionKind { return KindStatefulRowMap }

// Function is one entry of the engine's function table.
type Function struct {
	Descriptor FunctionDescriptor
	Strategy   Strategy
	// NoCache attaches the no-store cache directive to every call before the
	// first result is sent.
	NoCache bool
	// VariableWidth accepts input rows of any width instead of exactly one
	// value per declared parameter.
	VariableWidth bool
}

// ReducerFunc adapts a fold over rows into a Reducer factory. init is the
// initial accumulator, step folds one row into it and result renders the
// final row.
func ReducerFunc[A any](init func() A, step func(A, Row) (A, error), result func(A) Row) func() Reducer {
	return func() Reducer {
		return &foldReducer[A]{acc: init(), step: step, result: result}
	}
}

type foldReducer[A any] struct {
	acc    A
	step   func(A, Row) (A, error)
	result func(A) Row
}

func (r *foldReducer[A]) Add(row Row) error {
	acc, err := r.step(r.acc, row)
	if err != nil {
		return err
	}
	r.acc = acc
	return nil
}

func (r *foldReducer[A]) Result() (Row, error) { return r.result(r.acc), nil }
