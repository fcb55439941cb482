// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sse

import "fmt"

// DataType is a wire data type of a parameter or return value.
type DataType int32

const (
	// StringType carries only the string slot.
	StringType DataType = 0
	// Numeric carries only the numeric slot (double precision).
	Numeric DataType = 1
	// DualData carries both slots; the receiver picks.
	DualData DataType = 2
)

func (t DataType) String() string {
	switch t {
	case StringType:
		return "STRING"
	case Numeric:
		return "NUMERIC"
	case DualData:
		return "DUAL"
	default:
		return fmt.Sprintf("DataType(%d)", int32(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t DataType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// WireFunctionType is the function type tag sent to the host.
type WireFunctionType int32

const (
	WireScalar      WireFunctionType = 0
	WireAggregation WireFunctionType = 1
	// WireTensor is the script-evaluation tag; no function kind maps to it.
	WireTensor WireFunctionType = 2
)

func (t WireFunctionType) String() string {
	switch t {
	case WireScalar:
		return "SCALAR"
	case WireAggregation:
		return "AGGREGATION"
	case WireTensor:
		return "TENSOR"
	default:
		return fmt.Sprintf("FunctionType(%d)", int32(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t WireFunctionType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// FunctionKind is the execution shape of a function.
type FunctionKind int

const (
	// KindRowMap is a scalar row-wise function.
	KindRowMap FunctionKind = iota
	// KindReduce is a full-table aggregation.
	KindReduce
	// KindStatefulRowMap is a row-wise function with a hidden side effect on
	// the call counter.
	KindStatefulRowMap
)

func (k FunctionKind) String() string {
	switch k {
	case KindRowMap:
		return "row-map"
	case KindReduce:
		return "reduce"
	case KindStatefulRowMap:
		return "stateful-row-map"
	default:
		return fmt.Sprintf("FunctionKind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k FunctionKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// WireType maps the kind to the tag advertised to the host. Both row-wise
// kinds are scalar.
func (k FunctionKind) WireType() WireFunctionType {
	if k == KindReduce {
		return WireAggregation
	}
	return WireScalar
}

// Parameter is one declared function parameter.
type Parameter struct {
	Name string   `yaml:"name"`
	Type DataType `yaml:"type"`
}

// FunctionDescriptor declares one exposed function.
type FunctionDescriptor struct {
	ID         int32        `yaml:"id"`
	Name       string       `yaml:"name"`
	Kind       FunctionKind `yaml:"kind"`
	Params     []Parameter  `yaml:"params"`
	ReturnType DataType     `yaml:"return_type"`
}

// PluginInfo identifies the plugin in the capability table.
type PluginInfo struct {
	Identifier string `yaml:"identifier"`
	Version    string `yaml:"version"`
}

// Capabilities is the table returned by the describe operation.
type Capabilities struct {
	PluginIdentifier string               `yaml:"plugin_identifier"`
	PluginVersion    string               `yaml:"plugin_version"`
	AllowScript      bool                 `yaml:"allow_script"`
	Functions        []FunctionDescriptor `yaml:"functions"`
}

// Lookup returns the descriptor with the given id.
func (c Capabilities) Lookup(id int32) (FunctionDescriptor, bool) {
	for _, f := range c.Functions {
		if f.ID == id {
			return f, true
		}
	}
	return FunctionDescriptor{}, false
}
