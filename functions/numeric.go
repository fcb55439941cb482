// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package functions

import "github.com/Query-farm/sse-plugin/sse"

func add42() sse.Function {
	return sse.Function{
		Descriptor: sse.FunctionDescriptor{
			ID:         IDAdd42,
			Name:       "Add42",
			Kind:       sse.KindRowMap,
			Params:     []sse.Parameter{param("SingleNumericColumn", sse.Numeric)},
			ReturnType: sse.Numeric,
		},
		Strategy: sse.RowMap{Map: func(r sse.Row) (sse.Row, error) {
			return sse.Row{sse.Number(r[0].Num + 42)}, nil
		}},
	}
}

// sumOfAllNumbers adds the numeric slot of every value of every row.
func sumOfAllNumbers() sse.Function {
	return sse.Function{
		Descriptor: sse.FunctionDescriptor{
			ID:         IDSumOfAllNumbers,
			Name:       "SumOfAllNumbers",
			Kind:       sse.KindReduce,
			Params:     []sse.Parameter{param("AnyShapeOfTable", sse.Numeric)},
			ReturnType: sse.Numeric,
		},
		Strategy:      sse.FullReduce{New: sumReducer(allValues)},
		VariableWidth: true,
	}
}

func sumOfRows() sse.Function {
	return sse.Function{
		Descriptor: sse.FunctionDescriptor{
			ID:   IDSumOfRows,
			Name: "SumOfRows",
			Kind: sse.KindRowMap,
			Params: []sse.Parameter{
				param("col1", sse.Numeric),
				param("col2", sse.Numeric),
			},
			ReturnType: sse.Numeric,
		},
		Strategy: sse.RowMap{Map: func(r sse.Row) (sse.Row, error) {
			return sse.Row{sse.Number(allValues(r))}, nil
		}},
	}
}

func sumOfColumn() sse.Function {
	return sse.Function{
		Descriptor: sse.FunctionDescriptor{
			ID:         IDSumOfColumn,
			Name:       "SumOfColumn",
			Kind:       sse.KindReduce,
			Params:     []sse.Parameter{param("col1", sse.Numeric)},
			ReturnType: sse.Numeric,
		},
		Strategy: sse.FullReduce{New: sumReducer(func(r sse.Row) float64 { return r[0].Num })},
	}
}

func allValues(r sse.Row) float64 {
	var sum float64
	for _, d := range r {
		sum += d.Num
	}
	return sum
}

func sumReducer(value func(sse.Row) float64) func() sse.Reducer {
	return sse.ReducerFunc(
		func() float64 { return 0 },
		func(acc float64, r sse.Row) (float64, error) { return acc + value(r), nil },
		func(acc float64) sse.Row { return sse.Row{sse.Number(acc)} },
	)
}
