// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sse

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundleRecordCodec(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	bundle := RowBundle{
		{Number(1), String("a")},
		{{Num: 2.5, Str: "2.5"}, {}},
	}
	rec, err := BundleToRecord(mem, BundleSchema(2), bundle)
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, int64(2), rec.NumRows())
	assert.Equal(t, "arg1", rec.ColumnName(1))

	got, err := RecordToBundle(rec)
	require.NoError(t, err)
	assert.Equal(t, bundle, got)
}

func TestBundleToRecordRejectsRaggedRows(t *testing.T) {
	_, err := BundleToRecord(nil, BundleSchema(2), RowBundle{{Number(1)}})
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestRecordToBundlePlainColumns(t *testing.T) {
	mem := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "f", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "i", Type: arrow.PrimitiveTypes.Int64},
		{Name: "s", Type: arrow.BinaryTypes.String},
	}, nil)
	fb := array.NewFloat64Builder(mem)
	fb.AppendValues([]float64{1.5, 0}, []bool{true, false})
	ib := array.NewInt64Builder(mem)
	ib.AppendValues([]int64{7, 8}, nil)
	sb := array.NewStringBuilder(mem)
	sb.AppendValues([]string{"x", "y"}, nil)
	cols := []arrow.Array{fb.NewArray(), ib.NewArray(), sb.NewArray()}
	rec := array.NewRecordBatch(schema, cols, 2)
	defer rec.Release()

	got, err := RecordToBundle(rec)
	require.NoError(t, err)
	assert.Equal(t, RowBundle{
		{Number(1.5), Number(7), String("x")},
		{Number(0), Number(8), String("y")},
	}, got)
}

func TestRecordToBundleRejectsOtherTypes(t *testing.T) {
	mem := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{{Name: "b", Type: arrow.FixedWidthTypes.Boolean}}, nil)
	bb := array.NewBooleanBuilder(mem)
	bb.Append(true)
	rec := array.NewRecordBatch(schema, []arrow.Array{bb.NewArray()}, 1)
	defer rec.Release()

	_, err := RecordToBundle(rec)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestColumnTypes(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "d", Type: DualType},
		{Name: "f", Type: arrow.PrimitiveTypes.Float64},
		{Name: "i", Type: arrow.PrimitiveTypes.Int64},
		{Name: "s", Type: arrow.BinaryTypes.String},
	}, nil)
	got, err := ColumnTypes(schema)
	require.NoError(t, err)
	assert.Equal(t, []DataType{DualData, Numeric, Numeric, StringType}, got)

	_, err = ColumnTypes(arrow.NewSchema([]arrow.Field{{Name: "b", Type: arrow.FixedWidthTypes.Boolean}}, nil))
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestBundleWidth(t *testing.T) {
	assert.Equal(t, 0, RowBundle{}.Width())
	assert.Equal(t, 3, RowBundle{{{}, {}, {}}}.Width())
	assert.Equal(t, 2, nums(1, 2).NumRows())
}
