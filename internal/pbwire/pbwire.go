// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package pbwire walks protobuf wire format messages field by field.
package pbwire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// FieldFunc visits one field. v starts at the field value. A visitor that
// reads the value returns the number of bytes it consumed, or a negative
// protowire error code, with handled set. Fields left unhandled are skipped.
type FieldFunc func(num protowire.Number, typ protowire.Type, v []byte) (n int, handled bool, err error)

// Walk calls fn for every top-level field of the message in b.
func Walk(b []byte, fn FieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("decoding tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		used, handled, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if !handled {
			used = protowire.ConsumeFieldValue(num, typ, b)
		}
		if used < 0 {
			return fmt.Errorf("decoding field %d: %w", num, protowire.ParseError(used))
		}
		b = b[used:]
	}
	return nil
}
