// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sse

import (
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Metadata keys of the Arrow IPC and HTTP transports. Call headers use the
// keys of header.go with base64 values.
const (
	MetaMethod           = "sse-method"
	MetaServerID         = "sse-server-id"
	MetaErrorType        = "sse-error-type"
	MetaErrorMessage     = "sse-error-message"
	MetaPluginIdentifier = "sse-plugin-identifier"
	MetaPluginVersion    = "sse-plugin-version"
	MetaAllowScript      = "sse-allow-script"

	MethodExecute  = "execute"
	MethodDescribe = "describe"
)

// Request is one call on the Arrow IPC transport: a single IPC stream whose
// first batch carries the call metadata and whose batches are the input
// bundles.
type Request struct {
	Method    string
	Header    *CallHeader
	Common    *CommonHeader
	RequestID string
	// Width is the column count of the input schema. Zero means the width of
	// the first bundle.
	Width   int
	Bundles []RowBundle
}

// WriteRequest writes req as one IPC stream. The first batch is a zero-row
// batch holding the metadata, followed by one batch per bundle.
func WriteRequest(w io.Writer, req Request) error {
	method := req.Method
	if method == "" {
		method = MethodExecute
	}
	keys := []string{MetaMethod}
	vals := []string{method}
	if req.Header != nil {
		keys = append(keys, MetaFunctionHeader)
		vals = append(vals, EncodeBinaryValue(MarshalCallHeader(*req.Header)))
	}
	if req.Common != nil {
		keys = append(keys, MetaCommonHeader)
		vals = append(vals, EncodeBinaryValue(MarshalCommonHeader(*req.Common)))
	}
	if req.RequestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, req.RequestID)
	}

	width := req.Width
	if width == 0 {
		for _, b := range req.Bundles {
			if b.Width() > 0 {
				width = b.Width()
				break
			}
		}
	}
	schema := BundleSchema(width)

	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	if err := writeMetaBatch(writer, schema, arrow.NewMetadata(keys, vals)); err != nil {
		writer.Close()
		return fmt.Errorf("writing request header batch: %w", err)
	}
	for _, b := range req.Bundles {
		rec, err := BundleToRecord(nil, schema, b)
		if err != nil {
			writer.Close()
			return err
		}
		err = writer.Write(rec)
		rec.Release()
		if err != nil {
			writer.Close()
			return fmt.Errorf("writing request bundle: %w", err)
		}
	}
	return writer.Close()
}

// Response is a decoded execute response.
type Response struct {
	Headers map[string]string
	Bundles []RowBundle
	// Err is set when the stream ended with an error batch.
	Err *Error
}

// Rows returns all result rows in order.
func (r *Response) Rows() []Row {
	var rows []Row
	for _, b := range r.Bundles {
		rows = append(rows, b...)
	}
	return rows
}

// ReadResponse reads one execute response stream.
func ReadResponse(r io.Reader) (*Response, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading response IPC stream: %w", err)
	}
	defer reader.Release()

	resp := &Response{Headers: map[string]string{}}
	first := true
	for reader.Next() {
		batch := reader.RecordBatch()
		meta := batchMetadata(batch)
		if t, ok := meta.GetValue(MetaErrorType); ok {
			msg, _ := meta.GetValue(MetaErrorMessage)
			resp.Err = &Error{Type: ErrorType(t), Message: msg}
			continue
		}
		if first && batch.NumRows() == 0 {
			for i := range meta.Len() {
				resp.Headers[meta.Keys()[i]] = meta.Values()[i]
			}
			first = false
			continue
		}
		first = false
		b, err := RecordToBundle(batch)
		if err != nil {
			return nil, err
		}
		resp.Bundles = append(resp.Bundles, b)
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading response batch: %w", err)
	}
	return resp, nil
}

func batchMetadata(batch arrow.RecordBatch) arrow.Metadata {
	if rb, ok := batch.(arrow.RecordBatchWithMetadata); ok {
		return rb.Metadata()
	}
	return arrow.Metadata{}
}

// emptyBatch creates a zero-row batch with the given schema.
func emptyBatch(schema *arrow.Schema) arrow.RecordBatch {
	mem := memory.NewGoAllocator()
	cols := make([]arrow.Array, schema.NumFields())
	for i, f := range schema.Fields() {
		b := array.NewBuilder(mem, f.Type)
		cols[i] = b.NewArray()
		b.Release()
	}
	batch := array.NewRecordBatch(schema, cols, 0)
	for _, c := range cols {
		c.Release()
	}
	return batch
}

// writeMetaBatch writes a zero-row batch carrying meta.
func writeMetaBatch(w *ipc.Writer, schema *arrow.Schema, meta arrow.Metadata) error {
	batch := emptyBatch(schema)
	defer batch.Release()

	batchWithMeta := array.NewRecordBatchWithMetadata(schema, batch.Columns(), 0, meta)
	defer batchWithMeta.Release()

	return w.Write(batchWithMeta)
}

// writeErrorBatch writes a zero-row batch describing err.
func writeErrorBatch(w *ipc.Writer, schema *arrow.Schema, err error, serverID, requestID string) error {
	keys := []string{MetaErrorType, MetaErrorMessage}
	vals := []string{string(typeOf(err)), errorMessage(err)}
	if serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, serverID)
	}
	if requestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, requestID)
	}
	return writeMetaBatch(w, schema, arrow.NewMetadata(keys, vals))
}

// writeErrorResponse writes a complete IPC stream holding only an error batch.
func writeErrorResponse(w io.Writer, err error, serverID, requestID string) error {
	schema := ResultSchema()
	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	defer writer.Close()
	return writeErrorBatch(writer, schema, err, serverID, requestID)
}

func errorMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
