// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package functions

import (
	"fmt"
	"strings"
	"time"

	"github.com/Query-farm/sse-plugin/sse"
)

// ConcatSeparator joins the values of Concatenate.
const ConcatSeparator = ", "

// concatenate joins the string slot of every value in stream order.
func concatenate() sse.Function {
	return sse.Function{
		Descriptor: sse.FunctionDescriptor{
			ID:         IDConcatenate,
			Name:       "Concatenate",
			Kind:       sse.KindReduce,
			Params:     []sse.Parameter{param("ColumnarData", sse.DualData)},
			ReturnType: sse.StringType,
		},
		Strategy: sse.FullReduce{New: sse.ReducerFunc(
			func() []string { return nil },
			func(acc []string, r sse.Row) ([]string, error) {
				for _, d := range r {
					acc = append(acc, d.Str)
				}
				return acc, nil
			},
			func(acc []string) sse.Row { return sse.Row{sse.String(strings.Join(acc, ConcatSeparator))} },
		)},
		VariableWidth: true,
	}
}

func echoString() sse.Function {
	return sse.Function{
		Descriptor: sse.FunctionDescriptor{
			ID:         IDEchoString,
			Name:       "EchoString",
			Kind:       sse.KindRowMap,
			Params:     []sse.Parameter{param("str1", sse.StringType)},
			ReturnType: sse.StringType,
		},
		Strategy: sse.RowMap{Map: func(r sse.Row) (sse.Row, error) {
			return sse.Row{sse.String(r[0].Str)}, nil
		}},
	}
}

// stamp appends the current time to the input string. The no-cache variant
// makes the host re-evaluate it on every request.
func stamp(id int32, name string, now func() time.Time, noCache bool) sse.Function {
	return sse.Function{
		Descriptor: sse.FunctionDescriptor{
			ID:         id,
			Name:       name,
			Kind:       sse.KindRowMap,
			Params:     []sse.Parameter{param("str1", sse.StringType)},
			ReturnType: sse.StringType,
		},
		Strategy: sse.RowMap{Map: func(r sse.Row) (sse.Row, error) {
			return sse.Row{sse.String(fmt.Sprintf("%s (%s)", r[0].Str, now().Format(time.StampMilli)))}, nil
		}},
		NoCache: noCache,
	}
}
