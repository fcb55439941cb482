// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package locale

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Epoch is day zero of the spreadsheet serial date system used by the host.
var Epoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// ISODate is the layout of the string half of a date dual.
const ISODate = "2006-01-02"

// ErrUnparseableDate is returned by ParseDate when no layout of the locale
// matches the input.
var ErrUnparseableDate = errors.New("locale: unparseable date")

var (
	dmyLayouts = []string{"2/1/2006", "2.1.2006", "2-1-2006", "2/1/06", "2.1.06", "2-1-06"}
	mdyLayouts = []string{"1/2/2006", "1-2-2006", "1.2.2006", "1/2/06", "1-2-06"}
	ymdLayouts = []string{"2006-1-2", "2006/1/2", "2006.1.2", "2006. 1. 2.", "2006.1.2."}

	dmyNamed = []string{"2 January 2006", "2 Jan 2006", "2-Jan-2006", "2 January, 2006", "2. January 2006", "2. Jan 2006"}
	mdyNamed = []string{"January 2, 2006", "Jan 2, 2006", "January 2 2006", "Jan 2 2006"}

	// Accepted in every locale.
	commonLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}
)

// Layouts returns the layouts tried for c, most specific first.
func Layouts(c Candidate) []string {
	var out []string
	switch c.Order {
	case OrderMDY:
		out = append(out, mdyLayouts...)
		if c.MonthNames {
			out = append(out, mdyNamed...)
		}
		out = append(out, ymdLayouts[0])
	case OrderYMD:
		out = append(out, ymdLayouts...)
		if c.MonthNames {
			out = append(out, dmyNamed...)
		}
	default:
		out = append(out, dmyLayouts...)
		if c.MonthNames {
			out = append(out, dmyNamed...)
		}
		out = append(out, ymdLayouts[0])
	}
	return append(out, commonLayouts...)
}

// ParseDate parses text as a calendar date using the conventions of c. The
// result is midnight UTC of the parsed day. Native month names of c are
// understood in full or abbreviated. It returns an error wrapping
// ErrUnparseableDate when nothing matches.
func ParseDate(text string, c Candidate) (time.Time, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty input", ErrUnparseableDate)
	}
	layouts := Layouts(c)
	if t, ok := parseLayouts(s, layouts); ok {
		return t, nil
	}
	if en, ok := englishMonths(s, c.Months); ok {
		if t, ok := parseLayouts(en, layouts); ok {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q in locale %s", ErrUnparseableDate, text, c.ID)
}

func parseLayouts(s string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// dateFillers are words written between date fields, as in
// "23 de mayo de 2017".
var dateFillers = map[string]bool{"de": true, "del": true, "den": true}

// englishMonths rewrites the first native month name in s as its English
// name and drops filler words. ok is false when s names no month.
func englishMonths(s string, months []string) (string, bool) {
	if len(months) != 12 {
		return "", false
	}
	lower := cases.Lower(language.Und)
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	replaced := false
	for _, f := range fields {
		word := lower.String(strings.TrimRight(f, ".,"))
		if dateFillers[word] {
			continue
		}
		if !replaced {
			if m, ok := monthOf(word, months); ok {
				name := m.String()
				if strings.HasSuffix(f, ",") {
					name += ","
				}
				out = append(out, name)
				replaced = true
				continue
			}
		}
		out = append(out, f)
	}
	return strings.Join(out, " "), replaced
}

// monthOf matches word against a full month name, or else an abbreviation of
// at least three letters that prefixes exactly one name.
func monthOf(word string, months []string) (time.Month, bool) {
	if utf8.RuneCountInString(word) < 3 {
		return 0, false
	}
	for i, m := range months {
		if m == word {
			return time.Month(i + 1), true
		}
	}
	match := -1
	for i, m := range months {
		if strings.HasPrefix(m, word) {
			if match >= 0 {
				return 0, false
			}
			match = i
		}
	}
	if match < 0 {
		return 0, false
	}
	return time.Month(match + 1), true
}

// SerialDay returns the number of whole days between Epoch and the calendar
// day of t.
func SerialDay(t time.Time) int64 {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return (d.Unix() - Epoch.Unix()) / 86400
}
