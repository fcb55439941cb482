// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package grpcsse

import (
	"math"

	"github.com/Query-farm/sse-plugin/internal/pbwire"
	"github.com/Query-farm/sse-plugin/sse"
	"google.golang.org/protobuf/encoding/protowire"
)

// Empty is the request message of GetCapabilities.
type Empty struct{}

// Field numbers of the Connector messages.
const (
	bundleRows = 1
	rowDuals   = 1
	dualNum    = 1
	dualStr    = 2

	capsAllowScript = 1
	capsFunctions   = 2
	capsIdentifier  = 3
	capsVersion     = 4

	fnName       = 1
	fnType       = 2
	fnReturnType = 3
	fnParams     = 4
	fnID         = 5

	paramDataType = 1
	paramName     = 2
)

func appendBundle(b []byte, bundle sse.RowBundle) []byte {
	for _, row := range bundle {
		var rb []byte
		for _, d := range row {
			rb = protowire.AppendTag(rb, rowDuals, protowire.BytesType)
			rb = protowire.AppendBytes(rb, appendDual(nil, d))
		}
		b = protowire.AppendTag(b, bundleRows, protowire.BytesType)
		b = protowire.AppendBytes(b, rb)
	}
	return b
}

func appendDual(b []byte, d sse.Dual) []byte {
	if d.Num != 0 || math.Signbit(d.Num) {
		b = protowire.AppendTag(b, dualNum, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(d.Num))
	}
	if d.Str != "" {
		b = protowire.AppendTag(b, dualStr, protowire.BytesType)
		b = protowire.AppendString(b, d.Str)
	}
	return b
}

func consumeBundle(b []byte) (sse.RowBundle, error) {
	bundle := sse.RowBundle{}
	err := pbwire.Walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool, error) {
		if num != bundleRows || typ != protowire.BytesType {
			return 0, false, nil
		}
		raw, n := protowire.ConsumeBytes(v)
		if n < 0 {
			return n, true, nil
		}
		row, err := consumeRow(raw)
		if err != nil {
			return 0, true, err
		}
		bundle = append(bundle, row)
		return n, true, nil
	})
	return bundle, err
}

func consumeRow(b []byte) (sse.Row, error) {
	row := sse.Row{}
	err := pbwire.Walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool, error) {
		if num != rowDuals || typ != protowire.BytesType {
			return 0, false, nil
		}
		raw, n := protowire.ConsumeBytes(v)
		if n < 0 {
			return n, true, nil
		}
		d, err := consumeDual(raw)
		if err != nil {
			return 0, true, err
		}
		row = append(row, d)
		return n, true, nil
	})
	return row, err
}

func consumeDual(b []byte) (sse.Dual, error) {
	var d sse.Dual
	err := pbwire.Walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool, error) {
		switch {
		case num == dualNum && typ == protowire.Fixed64Type:
			x, n := protowire.ConsumeFixed64(v)
			d.Num = math.Float64frombits(x)
			return n, true, nil
		case num == dualStr && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			d.Str = s
			return n, true, nil
		}
		return 0, false, nil
	})
	return d, err
}

func appendCapabilities(b []byte, c sse.Capabilities) []byte {
	if c.AllowScript {
		b = protowire.AppendTag(b, capsAllowScript, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	for _, f := range c.Functions {
		b = protowire.AppendTag(b, capsFunctions, protowire.BytesType)
		b = protowire.AppendBytes(b, appendFunction(nil, f))
	}
	if c.PluginIdentifier != "" {
		b = protowire.AppendTag(b, capsIdentifier, protowire.BytesType)
		b = protowire.AppendString(b, c.PluginIdentifier)
	}
	if c.PluginVersion != "" {
		b = protowire.AppendTag(b, capsVersion, protowire.BytesType)
		b = protowire.AppendString(b, c.PluginVersion)
	}
	return b
}

func appendFunction(b []byte, f sse.FunctionDescriptor) []byte {
	if f.Name != "" {
		b = protowire.AppendTag(b, fnName, protowire.BytesType)
		b = protowire.AppendString(b, f.Name)
	}
	if t := f.Kind.WireType(); t != 0 {
		b = protowire.AppendTag(b, fnType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(t))
	}
	if f.ReturnType != 0 {
		b = protowire.AppendTag(b, fnReturnType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.ReturnType))
	}
	for _, p := range f.Params {
		var pb []byte
		if p.Type != 0 {
			pb = protowire.AppendTag(pb, paramDataType, protowire.VarintType)
			pb = protowire.AppendVarint(pb, uint64(p.Type))
		}
		if p.Name != "" {
			pb = protowire.AppendTag(pb, paramName, protowire.BytesType)
			pb = protowire.AppendString(pb, p.Name)
		}
		b = protowire.AppendTag(b, fnParams, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}
	if f.ID != 0 {
		b = protowire.AppendTag(b, fnID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(f.ID)))
	}
	return b
}

func consumeCapabilities(b []byte) (sse.Capabilities, error) {
	var c sse.Capabilities
	err := pbwire.Walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool, error) {
		switch {
		case num == capsAllowScript && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			c.AllowScript = x != 0
			return n, true, nil
		case num == capsFunctions && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, true, nil
			}
			f, err := consumeFunction(raw)
			if err != nil {
				return 0, true, err
			}
			c.Functions = append(c.Functions, f)
			return n, true, nil
		case num == capsIdentifier && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			c.PluginIdentifier = s
			return n, true, nil
		case num == capsVersion && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			c.PluginVersion = s
			return n, true, nil
		}
		return 0, false, nil
	})
	return c, err
}

// consumeFunction decodes a function definition. The wire carries only the
// function type, so aggregations decode as KindReduce and everything else as
// KindRowMap.
func consumeFunction(b []byte) (sse.FunctionDescriptor, error) {
	var f sse.FunctionDescriptor
	err := pbwire.Walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool, error) {
		switch {
		case num == fnName && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			f.Name = s
			return n, true, nil
		case num == fnType && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			if sse.WireFunctionType(x) == sse.WireAggregation {
				f.Kind = sse.KindReduce
			}
			return n, true, nil
		case num == fnReturnType && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			f.ReturnType = sse.DataType(x)
			return n, true, nil
		case num == fnParams && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, true, nil
			}
			var p sse.Parameter
			err := pbwire.Walk(raw, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool, error) {
				switch {
				case num == paramDataType && typ == protowire.VarintType:
					x, n := protowire.ConsumeVarint(v)
					p.Type = sse.DataType(x)
					return n, true, nil
				case num == paramName && typ == protowire.BytesType:
					s, n := protowire.ConsumeString(v)
					p.Name = s
					return n, true, nil
				}
				return 0, false, nil
			})
			if err != nil {
				return 0, true, err
			}
			f.Params = append(f.Params, p)
			return n, true, nil
		case num == fnID && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			f.ID = int32(x)
			return n, true, nil
		}
		return 0, false, nil
	})
	return f, err
}

