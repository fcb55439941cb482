// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Describe schema: one row per function, in capability table order.
var describeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "function_id", Type: arrow.PrimitiveTypes.Int32},
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: "kind", Type: arrow.BinaryTypes.String},
	{Name: "function_type", Type: arrow.BinaryTypes.String},
	{Name: "return_type", Type: arrow.BinaryTypes.String},
	{Name: "params_json", Type: arrow.BinaryTypes.String},
}, nil)

type describeParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// buildDescribeBatch builds the describe response batch and metadata.
func buildDescribeBatch(caps Capabilities, serverID string) (arrow.RecordBatch, arrow.Metadata, error) {
	mem := memory.NewGoAllocator()

	idBuilder := array.NewInt32Builder(mem)
	defer idBuilder.Release()
	nameBuilder := array.NewStringBuilder(mem)
	defer nameBuilder.Release()
	kindBuilder := array.NewStringBuilder(mem)
	defer kindBuilder.Release()
	typeBuilder := array.NewStringBuilder(mem)
	defer typeBuilder.Release()
	returnBuilder := array.NewStringBuilder(mem)
	defer returnBuilder.Release()
	paramsBuilder := array.NewStringBuilder(mem)
	defer paramsBuilder.Release()

	for _, f := range caps.Functions {
		idBuilder.Append(f.ID)
		nameBuilder.Append(f.Name)
		kindBuilder.Append(f.Kind.String())
		typeBuilder.Append(f.Kind.WireType().String())
		returnBuilder.Append(f.ReturnType.String())

		params := make([]describeParam, len(f.Params))
		for i, p := range f.Params {
			params[i] = describeParam{Name: p.Name, Type: p.Type.String()}
		}
		js, err := json.Marshal(params)
		if err != nil {
			return nil, arrow.Metadata{}, fmt.Errorf("marshalling params of %s: %w", f.Name, err)
		}
		paramsBuilder.Append(string(js))
	}

	cols := []arrow.Array{
		idBuilder.NewArray(),
		nameBuilder.NewArray(),
		kindBuilder.NewArray(),
		typeBuilder.NewArray(),
		returnBuilder.NewArray(),
		paramsBuilder.NewArray(),
	}
	for _, c := range cols {
		defer c.Release()
	}
	batch := array.NewRecordBatch(describeSchema, cols, int64(len(caps.Functions)))

	keys := []string{MetaPluginIdentifier, MetaPluginVersion, MetaAllowScript}
	vals := []string{caps.PluginIdentifier, caps.PluginVersion, strconv.FormatBool(caps.AllowScript)}
	if serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, serverID)
	}
	return batch, arrow.NewMetadata(keys, vals), nil
}

// writeDescribe writes the capability table as one IPC stream.
func writeDescribe(w io.Writer, caps Capabilities, serverID string) error {
	batch, meta, err := buildDescribeBatch(caps, serverID)
	if err != nil {
		return writeErrorResponse(w, err, serverID, "")
	}
	defer batch.Release()

	batchWithMeta := array.NewRecordBatchWithMetadata(
		describeSchema, batch.Columns(), batch.NumRows(), meta)
	defer batchWithMeta.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(describeSchema))
	defer writer.Close()

	return writer.Write(batchWithMeta)
}

// ReadDescribe decodes a describe response stream into a capability table.
func ReadDescribe(r io.Reader) (Capabilities, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		return Capabilities{}, fmt.Errorf("reading describe IPC stream: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return Capabilities{}, fmt.Errorf("reading describe batch: %w", err)
		}
		return Capabilities{}, fmt.Errorf("describe stream has no batches")
	}
	batch := reader.RecordBatch()
	meta := batchMetadata(batch)
	if t, ok := meta.GetValue(MetaErrorType); ok {
		msg, _ := meta.GetValue(MetaErrorMessage)
		return Capabilities{}, &Error{Type: ErrorType(t), Message: msg}
	}
	if !batch.Schema().Equal(describeSchema) {
		return Capabilities{}, fmt.Errorf("unexpected describe schema %s", batch.Schema())
	}

	var caps Capabilities
	caps.PluginIdentifier, _ = meta.GetValue(MetaPluginIdentifier)
	caps.PluginVersion, _ = meta.GetValue(MetaPluginVersion)
	if v, ok := meta.GetValue(MetaAllowScript); ok {
		caps.AllowScript, _ = strconv.ParseBool(v)
	}

	ids := batch.Column(0).(*array.Int32)
	names := batch.Column(1).(*array.String)
	kinds := batch.Column(2).(*array.String)
	returns := batch.Column(4).(*array.String)
	params := batch.Column(5).(*array.String)
	for i := range int(batch.NumRows()) {
		d := FunctionDescriptor{
			ID:         ids.Value(i),
			Name:       names.Value(i),
			Kind:       parseKind(kinds.Value(i)),
			ReturnType: parseDataType(returns.Value(i)),
		}
		var ps []describeParam
		if err := json.Unmarshal([]byte(params.Value(i)), &ps); err != nil {
			return Capabilities{}, fmt.Errorf("decoding params of %s: %w", d.Name, err)
		}
		for _, p := range ps {
			d.Params = append(d.Params, Parameter{Name: p.Name, Type: parseDataType(p.Type)})
		}
		caps.Functions = append(caps.Functions, d)
	}
	drain(reader)
	return caps, nil
}

func parseKind(s string) FunctionKind {
	for _, k := range []FunctionKind{KindRowMap, KindReduce, KindStatefulRowMap} {
		if k.String() == s {
			return k
		}
	}
	return KindRowMap
}

func parseDataType(s string) DataType {
	for _, t := range []DataType{StringType, Numeric, DualData} {
		if t.String() == s {
			return t
		}
	}
	return DualData
}
