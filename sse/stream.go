// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sse

import (
	"io"
	"sync"
)

// BundleStream is the bidirectional bundle stream of one execute call, as
// seen by the engine. Recv returns io.EOF when the peer has finished sending.
// SetHeader attaches a response metadata entry; transports that send headers
// before the body must deliver it ahead of the first bundle.
type BundleStream interface {
	Recv() (RowBundle, error)
	Send(RowBundle) error
	SetHeader(key, value string) error
}

// TypedStream is implemented by streams whose wire format declares the type
// of every input column. The engine rejects columns that cannot carry the
// declared parameter type.
type TypedStream interface {
	BundleStream
	// ColumnTypes returns the input column types, or nil when unknown.
	ColumnTypes() []DataType
}

// BufferedStream is a BundleStream over in-memory bundles. It is used by the
// HTTP transport, which receives the whole request before executing, and by
// tests.
type BufferedStream struct {
	mu      sync.Mutex
	in      []RowBundle
	out     []RowBundle
	headers map[string]string
	types   []DataType
}

// NewBufferedStream returns a stream that yields in and then io.EOF.
func NewBufferedStream(in ...RowBundle) *BufferedStream {
	return &BufferedStream{in: in, headers: map[string]string{}}
}

func (s *BufferedStream) Recv() (RowBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.in) == 0 {
		return nil, io.EOF
	}
	b := s.in[0]
	s.in = s.in[1:]
	return b, nil
}

func (s *BufferedStream) Send(b RowBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, b)
	return nil
}

func (s *BufferedStream) SetHeader(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers[key] = value
	return nil
}

// SetColumnTypes declares the column types of the input bundles.
func (s *BufferedStream) SetColumnTypes(types []DataType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = types
}

func (s *BufferedStream) ColumnTypes() []DataType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.types
}

// Output returns the bundles sent so far.
func (s *BufferedStream) Output() []RowBundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RowBundle(nil), s.out...)
}

// Rows returns all rows sent so far, flattened in order.
func (s *BufferedStream) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []Row
	for _, b := range s.out {
		rows = append(rows, b...)
	}
	return rows
}

// Header returns a response header set by the engine.
func (s *BufferedStream) Header(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.headers[key]
	return v, ok
}

// Headers returns a copy of all response headers.
func (s *BufferedStream) Headers() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.headers))
	for k, v := range s.headers {
		out[k] = v
	}
	return out
}
