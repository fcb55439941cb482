// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/klauspost/compress/zstd"
)

const (
	arrowContentType   = "application/vnd.apache.arrow.stream"
	defaultMaxBodySize = 64 << 20
)

// HttpServer serves an Engine over HTTP. Request and response bodies are
// Arrow IPC streams in the format of the stream transport. The whole request
// is read before the call executes and the whole response is buffered.
//
// Routes, relative to the prefix (default "/sse"):
//
//	POST /describe  capability table
//	POST /execute   one execute call
//	GET  /          HTML landing page listing the functions
//
// Call headers may be sent as HTTP headers or as custom metadata of the first
// request batch, base64 encoded in both cases.
type HttpServer struct {
	engine      *Engine
	prefix      string
	mux         *http.ServeMux
	limiter     *clientLimiter
	zstdLevel   zstd.EncoderLevel
	maxBodySize int64
	now         func() time.Time
}

// HttpOption configures an HttpServer.
type HttpOption func(*HttpServer)

// WithPrefix sets the URL prefix of all routes.
func WithPrefix(prefix string) HttpOption {
	return func(h *HttpServer) { h.prefix = strings.TrimRight(prefix, "/") }
}

// WithRateLimit limits calls per client address. A non-positive rps or burst
// disables limiting.
func WithRateLimit(rps float64, burst int) HttpOption {
	return func(h *HttpServer) { h.limiter = newClientLimiter(rps, burst, 0) }
}

// WithCompressionLevel sets the zstd level (1 fastest to 4 best) used when
// the client accepts zstd responses.
func WithCompressionLevel(level int) HttpOption {
	return func(h *HttpServer) {
		if level > 0 {
			h.zstdLevel = zstd.EncoderLevelFromZstd(level)
		}
	}
}

// WithMaxBodySize caps the request body size.
func WithMaxBodySize(n int64) HttpOption {
	return func(h *HttpServer) {
		if n > 0 {
			h.maxBodySize = n
		}
	}
}

// NewHttpServer creates an HTTP server wrapping engine.
func NewHttpServer(engine *Engine, opts ...HttpOption) *HttpServer {
	h := &HttpServer{
		engine:      engine,
		prefix:      "/sse",
		zstdLevel:   zstd.SpeedDefault,
		maxBodySize: defaultMaxBodySize,
		now:         time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	h.mux = http.NewServeMux()
	h.mux.HandleFunc(fmt.Sprintf("POST %s/describe", h.prefix), h.handleDescribe)
	h.mux.HandleFunc(fmt.Sprintf("POST %s/execute", h.prefix), h.handleExecute)
	h.mux.HandleFunc(fmt.Sprintf("GET %s/{$}", h.prefix), h.handleLandingPage)
	h.mux.HandleFunc("/", h.handleNotFound)
	return h
}

// ServeHTTP implements http.Handler.
func (h *HttpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *HttpServer) handleDescribe(w http.ResponseWriter, r *http.Request) {
	if !h.admit(w, r) {
		return
	}
	var buf bytes.Buffer
	if err := writeDescribe(&buf, h.engine.Describe(), h.engine.ServerID()); err != nil {
		h.writeHttpError(w, r, http.StatusInternalServerError, err, "")
		return
	}
	h.writeArrow(w, r, http.StatusOK, buf.Bytes())
}

func (h *HttpServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	if !h.admit(w, r) {
		return
	}
	body, err := h.readBody(w, r)
	if err != nil {
		h.writeHttpError(w, r, http.StatusBadRequest, protocolErrorf("reading body: %v", err), "")
		return
	}

	reader, err := ipc.NewReader(bytes.NewReader(body))
	if err != nil {
		h.writeHttpError(w, r, http.StatusBadRequest, protocolErrorf("reading request IPC stream: %v", err), "")
		return
	}
	defer reader.Release()
	types, err := ColumnTypes(reader.Schema())
	if err != nil {
		h.writeHttpError(w, r, http.StatusBadRequest, err, "")
		return
	}

	var meta arrow.Metadata
	var bundles []RowBundle
	first := true
	for reader.Next() {
		batch := reader.RecordBatch()
		if first {
			first = false
			meta = batchMetadata(batch)
			if batch.NumRows() == 0 {
				continue
			}
		}
		b, err := RecordToBundle(batch)
		if err != nil {
			h.writeHttpError(w, r, http.StatusBadRequest, err, "")
			return
		}
		bundles = append(bundles, b)
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		h.writeHttpError(w, r, http.StatusBadRequest, protocolErrorf("reading request batch: %v", err), "")
		return
	}

	lookup := func(key string) (string, bool) {
		if v := r.Header.Get(key); v != "" {
			return v, true
		}
		return meta.GetValue(key)
	}
	requestID, _ := lookup(MetaRequestID)

	call, err := ReadCall(TextMetadata(lookup))
	if err != nil {
		h.writeHttpError(w, r, statusFor(err), err, requestID)
		return
	}
	call.RequestID = requestID
	call.Transport = "http"
	call.Metadata = metadataMap(meta)

	stream := NewBufferedStream(bundles...)
	stream.SetColumnTypes(types)
	callErr := h.engine.Execute(r.Context(), call, stream)

	var buf bytes.Buffer
	if err := h.writeResult(&buf, stream, callErr, requestID); err != nil {
		h.engine.Logger().Error("http: encoding response", "err", err)
		h.writeHttpError(w, r, http.StatusInternalServerError, err, requestID)
		return
	}
	if v, ok := stream.Header(MetaCache); ok {
		w.Header().Set(MetaCache, v)
		if v == CacheNoStore {
			w.Header().Set("Cache-Control", "no-store")
		}
	}
	status := http.StatusOK
	if callErr != nil {
		status = statusFor(callErr)
	}
	h.writeArrow(w, r, status, buf.Bytes())
}

// writeResult encodes a finished buffered call as a response stream.
func (h *HttpServer) writeResult(w io.Writer, stream *BufferedStream, callErr error, requestID string) error {
	schema := ResultSchema()
	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	out := &ipcStream{
		writer:    writer,
		schema:    schema,
		serverID:  h.engine.ServerID(),
		requestID: requestID,
	}
	for k, v := range stream.Headers() {
		_ = out.SetHeader(k, v)
	}
	for _, b := range stream.Output() {
		if err := out.Send(b); err != nil {
			writer.Close()
			return err
		}
	}
	return out.finish(callErr)
}

func (h *HttpServer) admit(w http.ResponseWriter, r *http.Request) bool {
	if ct := r.Header.Get("Content-Type"); ct != arrowContentType {
		h.writeHttpError(w, r, http.StatusUnsupportedMediaType,
			protocolErrorf("unsupported content type: %s", ct), "")
		return false
	}
	if !h.limiter.allow(clientKey(r), h.now()) {
		w.Header().Set("Retry-After", "1")
		h.writeHttpError(w, r, http.StatusTooManyRequests,
			&Error{Type: ProtocolViolation, Message: "rate limit exceeded"}, "")
		return false
	}
	return true
}

func (h *HttpServer) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "zstd") {
		return h.decompress(body)
	}
	return body, nil
}

// decompress decodes a zstd body. The decoded size is held to the same cap
// as the raw body.
func (h *HttpServer) decompress(body []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(body),
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(uint64(h.maxBodySize)))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := io.ReadAll(io.LimitReader(dec, h.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing body: %w", err)
	}
	if int64(len(out)) > h.maxBodySize {
		return nil, fmt.Errorf("decompressed body exceeds %d bytes", h.maxBodySize)
	}
	return out, nil
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	switch typeOf(err) {
	case ProtocolViolation:
		return http.StatusBadRequest
	case UnknownFunction:
		return http.StatusNotFound
	case StreamCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *HttpServer) writeHttpError(w http.ResponseWriter, r *http.Request, statusCode int, err error, requestID string) {
	var buf bytes.Buffer
	_ = writeErrorResponse(&buf, err, h.engine.ServerID(), requestID)
	h.writeArrow(w, r, statusCode, buf.Bytes())
}

func (h *HttpServer) writeArrow(w http.ResponseWriter, r *http.Request, statusCode int, data []byte) {
	w.Header().Set("Content-Type", arrowContentType)
	if acceptsZstd(r) {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(h.zstdLevel))
		if err == nil {
			data = enc.EncodeAll(data, nil)
			_ = enc.Close()
			w.Header().Set("Content-Encoding", "zstd")
		}
	}
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}

func acceptsZstd(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(name, "zstd") {
			return true
		}
	}
	return false
}
