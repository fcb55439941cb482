// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package functions

import (
	"github.com/Query-farm/sse-plugin/locale"
	"github.com/Query-farm/sse-plugin/sse"
)

// callCounter returns the counter value of the call for every row.
func callCounter(id int32, name string, noCache bool) sse.Function {
	return sse.Function{
		Descriptor: sse.FunctionDescriptor{
			ID:         id,
			Name:       name,
			Kind:       sse.KindStatefulRowMap,
			Params:     []sse.Parameter{param("DummyData", sse.DualData)},
			ReturnType: sse.Numeric,
		},
		Strategy: sse.StatefulRowMap{Map: func(n int64, _ sse.Row) (sse.Row, error) {
			return sse.Row{sse.Number(float64(n))}, nil
		}},
		NoCache: noCache,
	}
}

// smartGuessDate parses a date string in the locale closest to a free-text
// hint. The result carries the serial day number and the ISO date; strings
// that do not parse yield the epoch.
func smartGuessDate(m *locale.Matcher) sse.Function {
	return sse.Function{
		Descriptor: sse.FunctionDescriptor{
			ID:   IDSmartGuessDate,
			Name: "SmartGuessDate",
			Kind: sse.KindRowMap,
			Params: []sse.Parameter{
				param("DateString", sse.StringType),
				param("CultureString", sse.StringType),
			},
			ReturnType: sse.DualData,
		},
		Strategy: sse.RowMap{Map: func(r sse.Row) (sse.Row, error) {
			date, _, _ := m.GuessDate(r[0].Str, r[1].Str, locale.Epoch)
			return sse.Row{{
				Num: float64(locale.SerialDay(date)),
				Str: date.Format(locale.ISODate),
			}}, nil
		}},
	}
}
