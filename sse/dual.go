// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sse

import (
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Dual is a wire value carrying a numeric and a string slot. A function reads
// whichever slot it expects.
type Dual struct {
	Num float64
	Str string
}

// Number returns a dual with only the numeric slot set.
func Number(v float64) Dual { return Dual{Num: v} }

// String returns a dual with only the string slot set.
func String(s string) Dual { return Dual{Str: s} }

// Row is one row of duals, one per parameter.
type Row []Dual

// RowBundle is the unit of streaming transfer.
type RowBundle []Row

// NumRows returns the number of rows in the bundle.
func (b RowBundle) NumRows() int { return len(b) }

// Width returns the number of columns of the bundle, taken from its first row.
func (b RowBundle) Width() int {
	if len(b) == 0 {
		return 0
	}
	return len(b[0])
}

// DualType is the Arrow type of one dual column.
var DualType = arrow.StructOf(
	arrow.Field{Name: "num", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	arrow.Field{Name: "str", Type: arrow.BinaryTypes.String, Nullable: true},
)

var resultSchema = arrow.NewSchema([]arrow.Field{
	{Name: "result", Type: DualType},
}, nil)

// ResultSchema returns the Arrow schema of result bundles: one dual column.
func ResultSchema() *arrow.Schema { return resultSchema }

// BundleSchema returns an Arrow schema of width dual columns named arg0..argN.
func BundleSchema(width int) *arrow.Schema {
	fields := make([]arrow.Field, width)
	for i := range fields {
		fields[i] = arrow.Field{Name: "arg" + strconv.Itoa(i), Type: DualType}
	}
	return arrow.NewSchema(fields, nil)
}

// BundleToRecord encodes bundle as a record batch with the given schema. Every
// field of schema must be of [DualType] and every row must have exactly one
// dual per field.
func BundleToRecord(mem memory.Allocator, schema *arrow.Schema, bundle RowBundle) (arrow.RecordBatch, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	width := schema.NumFields()
	for i, row := range bundle {
		if len(row) != width {
			return nil, protocolErrorf("row %d has %d values, schema has %d columns", i, len(row), width)
		}
	}

	cols := make([]arrow.Array, width)
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()
	for c := range width {
		f := schema.Field(c)
		if !arrow.TypeEqual(f.Type, DualType) {
			return nil, fmt.Errorf("column %q has type %s, want %s", f.Name, f.Type, DualType)
		}
		sb := array.NewStructBuilder(mem, DualType)
		nums := sb.FieldBuilder(0).(*array.Float64Builder)
		strs := sb.FieldBuilder(1).(*array.StringBuilder)
		for _, row := range bundle {
			sb.Append(true)
			nums.Append(row[c].Num)
			strs.Append(row[c].Str)
		}
		cols[c] = sb.NewArray()
		sb.Release()
	}
	return array.NewRecordBatch(schema, cols, int64(len(bundle))), nil
}

// ColumnTypes returns the slot kind each column of schema carries: dual
// struct columns carry [DualData], float64 and int64 columns [Numeric], utf8
// columns [StringType]. Any other column type is a [ProtocolViolation].
func ColumnTypes(schema *arrow.Schema) ([]DataType, error) {
	types := make([]DataType, schema.NumFields())
	for i, f := range schema.Fields() {
		switch {
		case arrow.TypeEqual(f.Type, DualType):
			types[i] = DualData
		case f.Type.ID() == arrow.FLOAT64 || f.Type.ID() == arrow.INT64:
			types[i] = Numeric
		case f.Type.ID() == arrow.STRING:
			types[i] = StringType
		default:
			return nil, protocolErrorf("column %q: unsupported type %s", f.Name, f.Type)
		}
	}
	return types, nil
}

// RecordToBundle decodes a record batch into a bundle. Dual struct columns are
// read as is; float64 and int64 columns fill the numeric slot; utf8 columns
// fill the string slot. Nulls decode to the zero value of the slot. Any other
// column type is a [ProtocolViolation].
func RecordToBundle(rec arrow.RecordBatch) (RowBundle, error) {
	n := int(rec.NumRows())
	width := int(rec.NumCols())
	bundle := make(RowBundle, n)
	for i := range bundle {
		bundle[i] = make(Row, width)
	}

	for c := range width {
		col := rec.Column(c)
		switch arr := col.(type) {
		case *array.Struct:
			if !arrow.TypeEqual(arr.DataType(), DualType) {
				return nil, protocolErrorf("column %q: unsupported struct type %s", rec.ColumnName(c), arr.DataType())
			}
			nums := arr.Field(0).(*array.Float64)
			strs := arr.Field(1).(*array.String)
			for r := range n {
				if arr.IsNull(r) {
					continue
				}
				if nums.IsValid(r) {
					bundle[r][c].Num = nums.Value(r)
				}
				if strs.IsValid(r) {
					bundle[r][c].Str = strs.Value(r)
				}
			}
		case *array.Float64:
			for r := range n {
				if arr.IsValid(r) {
					bundle[r][c].Num = arr.Value(r)
				}
			}
		case *array.Int64:
			for r := range n {
				if arr.IsValid(r) {
					bundle[r][c].Num = float64(arr.Value(r))
				}
			}
		case *array.String:
			for r := range n {
				if arr.IsValid(r) {
					bundle[r][c].Str = arr.Value(r)
				}
			}
		default:
			return nil, protocolErrorf("column %q: unsupported type %s", rec.ColumnName(c), col.DataType())
		}
	}
	return bundle, nil
}
