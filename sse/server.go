// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// Server serves an Engine over Arrow IPC streams on a reader/writer pair,
// one call after another. Each call is one request IPC stream answered by
// one response IPC stream.
//
// The response stream starts with a zero-row batch holding the response
// headers (e.g. qlik-cache), followed by one batch per result bundle, and
// ends with a zero-row error batch when the call failed.
type Server struct {
	engine *Engine
}

// NewServer creates an Arrow IPC server for engine.
func NewServer(engine *Engine) *Server {
	return &Server{engine: engine}
}

// RunStdio runs the server loop reading from stdin and writing to stdout.
func (s *Server) RunStdio() {
	// Writes to a closed stdout must fail instead of killing the process.
	signal.Ignore(syscall.SIGPIPE)

	if isTerminal(os.Stdin) || isTerminal(os.Stdout) {
		fmt.Fprintln(os.Stderr,
			"WARNING: This process communicates via Arrow IPC on stdin/stdout "+
				"and is not intended to be run interactively.")
	}
	s.Serve(os.Stdin, os.Stdout)
}

// isTerminal reports whether f is connected to a terminal.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// Serve runs the server loop on the given reader/writer pair.
func (s *Server) Serve(r io.Reader, w io.Writer) {
	s.ServeWithContext(context.Background(), r, w)
}

// ServeWithContext runs the server loop until r is exhausted, the transport
// fails or ctx is cancelled.
func (s *Server) ServeWithContext(ctx context.Context, r io.Reader, w io.Writer) {
	log := s.engine.Logger()
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.serveOne(ctx, r, w)
		if err != nil {
			if err == io.EOF {
				return
			}
			if !isTransportClosed(err) {
				log.Error("serve loop error", "err", err)
			}
			return
		}
	}
}

// serveOne handles one complete request/response cycle.
func (s *Server) serveOne(ctx context.Context, r io.Reader, w io.Writer) error {
	reader, err := ipc.NewReader(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("reading request IPC stream: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return fmt.Errorf("reading request batch: %w", err)
		}
		_ = writeErrorResponse(w, protocolErrorf("request stream has no batches"), s.engine.ServerID(), "")
		return nil
	}
	first := reader.RecordBatch()
	meta := batchMetadata(first)
	requestID, _ := meta.GetValue(MetaRequestID)

	method, ok := meta.GetValue(MetaMethod)
	if !ok {
		method = MethodExecute
	}
	switch method {
	case MethodDescribe:
		drain(reader)
		return writeDescribe(w, s.engine.Describe(), s.engine.ServerID())
	case MethodExecute:
	default:
		drain(reader)
		_ = writeErrorResponse(w, protocolErrorf("unknown method %q", method), s.engine.ServerID(), requestID)
		return nil
	}

	call, callErr := ReadCall(TextMetadata(meta.GetValue))
	call.RequestID = requestID
	call.Transport = "ipc"
	call.Metadata = metadataMap(meta)

	stream := &ipcStream{
		reader:    reader,
		writer:    ipc.NewWriter(w, ipc.WithSchema(ResultSchema())),
		schema:    ResultSchema(),
		serverID:  s.engine.ServerID(),
		requestID: requestID,
	}
	if callErr == nil {
		stream.types, callErr = ColumnTypes(reader.Schema())
	}
	if callErr == nil && first.NumRows() > 0 {
		b, err := RecordToBundle(first)
		if err != nil {
			callErr = err
		} else {
			stream.pending = &b
		}
	}

	if callErr == nil {
		callErr = s.engine.Execute(ctx, call, stream)
	}
	if err := stream.finish(callErr); err != nil {
		return err
	}

	// Leave the transport clean for the next request.
	drain(reader)
	return nil
}

// ipcStream adapts one request/response IPC stream pair to BundleStream.
type ipcStream struct {
	reader    *ipc.Reader
	writer    *ipc.Writer
	schema    *arrow.Schema
	pending   *RowBundle
	types     []DataType
	keys      []string
	vals      []string
	flushed   bool
	serverID  string
	requestID string
}

func (s *ipcStream) Recv() (RowBundle, error) {
	if s.pending != nil {
		b := *s.pending
		s.pending = nil
		return b, nil
	}
	if !s.reader.Next() {
		if err := s.reader.Err(); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, io.EOF
	}
	return RecordToBundle(s.reader.RecordBatch())
}

func (s *ipcStream) ColumnTypes() []DataType { return s.types }

func (s *ipcStream) Send(b RowBundle) error {
	if err := s.flushHeaders(); err != nil {
		return err
	}
	rec, err := BundleToRecord(nil, s.schema, b)
	if err != nil {
		return err
	}
	defer rec.Release()
	if err := s.writer.Write(rec); err != nil {
		return fmt.Errorf("writing output batch: %w", err)
	}
	return nil
}

func (s *ipcStream) SetHeader(key, value string) error {
	if s.flushed {
		return fmt.Errorf("header %q set after the first bundle", key)
	}
	s.keys = append(s.keys, key)
	s.vals = append(s.vals, value)
	return nil
}

func (s *ipcStream) flushHeaders() error {
	if s.flushed {
		return nil
	}
	s.flushed = true
	keys, vals := s.keys, s.vals
	if s.serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, s.serverID)
	}
	if s.requestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, s.requestID)
	}
	if err := writeMetaBatch(s.writer, s.schema, arrow.NewMetadata(keys, vals)); err != nil {
		return fmt.Errorf("writing header batch: %w", err)
	}
	return nil
}

// finish writes the headers if nothing was sent, the error batch if callErr
// is set, and closes the response stream.
func (s *ipcStream) finish(callErr error) error {
	err := s.flushHeaders()
	if err == nil && callErr != nil {
		err = writeErrorBatch(s.writer, s.schema, callErr, s.serverID, s.requestID)
	}
	if cerr := s.writer.Close(); err == nil {
		err = cerr
	}
	return err
}

func drain(reader *ipc.Reader) {
	for reader.Next() {
		// discard
	}
}

func metadataMap(meta arrow.Metadata) map[string]string {
	out := make(map[string]string, meta.Len())
	for i := range meta.Len() {
		out[meta.Keys()[i]] = meta.Values()[i]
	}
	return out
}

// isTransportClosed returns true for errors that indicate the transport was closed normally.
func isTransportClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF")
}
