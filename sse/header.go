// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sse

import (
	"encoding/base64"
	"fmt"

	"github.com/Query-farm/sse-plugin/internal/pbwire"
	"google.golang.org/protobuf/encoding/protowire"
)

// Well-known call metadata keys. The same keys are used by every transport:
// gRPC metadata, Arrow IPC custom metadata and HTTP headers.
const (
	MetaFunctionHeader = "qlik-functionrequestheader-bin"
	MetaCommonHeader   = "qlik-commonrequestheader-bin"
	MetaCache          = "qlik-cache"
	MetaRequestID      = "sse-request-id"

	// CacheNoStore is the MetaCache value telling the host not to cache the
	// result of the call.
	CacheNoStore = "no-store"
)

// CallHeader identifies the function invoked by an execute call.
type CallHeader struct {
	FunctionID int32
	Version    string
}

// CommonHeader is the security context attached to a call by the host. It is
// read and logged, never enforced.
type CommonHeader struct {
	AppID       string
	UserID      string
	Cardinality int64
}

// MarshalCallHeader encodes h in protobuf wire format.
func MarshalCallHeader(h CallHeader) []byte {
	var b []byte
	if h.FunctionID != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(h.FunctionID)))
	}
	if h.Version != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, h.Version)
	}
	return b
}

// UnmarshalCallHeader decodes a protobuf wire format call header. Unknown
// fields are skipped.
func UnmarshalCallHeader(b []byte) (CallHeader, error) {
	var h CallHeader
	err := pbwire.Walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			h.FunctionID = int32(x)
			return n, true, nil
		case num == 2 && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			h.Version = s
			return n, true, nil
		}
		return 0, false, nil
	})
	if err != nil {
		return CallHeader{}, fmt.Errorf("decoding call header: %w", err)
	}
	return h, nil
}

// MarshalCommonHeader encodes h in protobuf wire format.
func MarshalCommonHeader(h CommonHeader) []byte {
	var b []byte
	if h.AppID != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, h.AppID)
	}
	if h.UserID != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, h.UserID)
	}
	if h.Cardinality != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(h.Cardinality))
	}
	return b
}

// UnmarshalCommonHeader decodes a protobuf wire format common header.
func UnmarshalCommonHeader(b []byte) (CommonHeader, error) {
	var h CommonHeader
	err := pbwire.Walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			h.AppID = s
			return n, true, nil
		case num == 2 && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			h.UserID = s
			return n, true, nil
		case num == 3 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			h.Cardinality = int64(x)
			return n, true, nil
		}
		return 0, false, nil
	})
	if err != nil {
		return CommonHeader{}, fmt.Errorf("decoding common header: %w", err)
	}
	return h, nil
}


// EncodeBinaryValue encodes a binary header for text-only carriers (Arrow
// custom metadata, HTTP headers).
func EncodeBinaryValue(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBinaryValue reverses EncodeBinaryValue. Unpadded input is accepted.
func DecodeBinaryValue(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// Call is the per-call context decoded by a transport.
type Call struct {
	Header    *CallHeader
	Common    *CommonHeader
	RequestID string
	// Transport names the carrier: "grpc", "ipc" or "http".
	Transport string
	// Metadata holds transport metadata, exposed to dispatch hooks.
	Metadata map[string]string
}

// ReadCall decodes the call headers through get, which returns the raw binary
// value stored under a metadata key. A missing or undecodable function header
// is a [ProtocolViolation]. The common header is optional.
func ReadCall(get func(key string) ([]byte, bool)) (Call, error) {
	var call Call
	raw, ok := get(MetaFunctionHeader)
	if !ok {
		return call, protocolErrorf("missing %s in call metadata", MetaFunctionHeader)
	}
	h, err := UnmarshalCallHeader(raw)
	if err != nil {
		return call, &Error{Type: ProtocolViolation, Message: err.Error(), Err: err}
	}
	call.Header = &h

	if raw, ok := get(MetaCommonHeader); ok {
		c, err := UnmarshalCommonHeader(raw)
		if err != nil {
			return call, &Error{Type: ProtocolViolation, Message: err.Error(), Err: err}
		}
		call.Common = &c
	}
	return call, nil
}

// TextMetadata adapts a map of text metadata values, as found in Arrow custom
// metadata and HTTP headers, to the getter taken by ReadCall. Values are
// decoded with DecodeBinaryValue; an undecodable value is replaced by a
// truncated varint so that ReadCall fails on it.
func TextMetadata(lookup func(key string) (string, bool)) func(key string) ([]byte, bool) {
	return func(key string) ([]byte, bool) {
		v, ok := lookup(key)
		if !ok {
			return nil, false
		}
		b, err := DecodeBinaryValue(v)
		if err != nil {
			return []byte{0xff}, true
		}
		return b, true
	}
}
