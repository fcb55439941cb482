// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package grpcsse

import (
	"fmt"

	"github.com/Query-farm/sse-plugin/sse"
)

// Codec encodes the Connector messages in protobuf wire format. It handles
// *Empty, *sse.RowBundle and *sse.Capabilities.
//
// The codec registers under the "proto" name so that stock clients, which
// send application/grpc+proto, are served by it when the server is built with
// grpc.ForceServerCodec.
type Codec struct{}

// rawMessage defers decoding to the receiver, which keeps decode failures
// out of the transport's generic unmarshal error.
type rawMessage []byte

// Name implements encoding.Codec.
func (Codec) Name() string { return "proto" }

// Marshal implements encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *Empty:
		return []byte{}, nil
	case *sse.RowBundle:
		return appendBundle(nil, *m), nil
	case sse.RowBundle:
		return appendBundle(nil, m), nil
	case *sse.Capabilities:
		return appendCapabilities(nil, *m), nil
	case sse.Capabilities:
		return appendCapabilities(nil, m), nil
	}
	return nil, fmt.Errorf("grpcsse: cannot marshal %T", v)
}

// Unmarshal implements encoding.Codec. Malformed bundles are reported as
// protocol violations.
func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *Empty:
		return nil
	case *rawMessage:
		*m = append((*m)[:0], data...)
		return nil
	case *sse.RowBundle:
		b, err := consumeBundle(data)
		if err != nil {
			return &sse.Error{Type: sse.ProtocolViolation, Message: "malformed bundle: " + err.Error(), Err: err}
		}
		*m = b
		return nil
	case *sse.Capabilities:
		c, err := consumeCapabilities(data)
		if err != nil {
			return err
		}
		*m = c
		return nil
	}
	return fmt.Errorf("grpcsse: cannot unmarshal into %T", v)
}
