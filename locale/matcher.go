// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package locale

import (
	"fmt"
	"math"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Matcher picks the catalog locale closest to a free-text hint.
//
// Scoring: a hint equal to one of a candidate's ISO codes scores 0; otherwise
// the score is the smallest edit distance between the lower-cased hint and any
// of the candidate's display names. Lowest score wins. On a tie, a generic
// candidate replaces a non-generic best; between candidates that are equally
// generic the earlier one in catalog order is kept.
//
// Results are cached per lower-cased hint in a bounded LRU. A Matcher is safe
// for concurrent use.
type Matcher struct {
	catalog *Catalog
	cache   *lru.Cache[string, int]
}

// NewMatcher creates a matcher over catalog. cacheSize bounds the number of
// memoized hints; zero or negative disables caching.
func NewMatcher(catalog *Catalog, cacheSize int) (*Matcher, error) {
	if catalog == nil || catalog.Len() == 0 {
		return nil, fmt.Errorf("locale: matcher needs a non-empty catalog")
	}
	m := &Matcher{catalog: catalog}
	if cacheSize > 0 {
		c, err := lru.New[string, int](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("locale: creating match cache: %w", err)
		}
		m.cache = c
	}
	return m, nil
}

// Catalog returns the catalog the matcher scores against.
func (m *Matcher) Catalog() *Catalog { return m.catalog }

// BestLocale returns the candidate closest to hint.
func (m *Matcher) BestLocale(hint string) Candidate {
	key := cases.Lower(language.Und).String(hint)
	if m.cache != nil {
		if idx, ok := m.cache.Get(key); ok {
			return m.catalog.At(idx)
		}
	}

	idx := m.best(key)
	if m.cache != nil {
		m.cache.Add(key, idx)
	}
	return m.catalog.At(idx)
}

func (m *Matcher) best(hint string) int {
	best := 0
	bestScore := score(hint, m.catalog.At(0))
	for i := 1; i < m.catalog.Len(); i++ {
		c := m.catalog.At(i)
		s := score(hint, c)
		switch {
		case s < bestScore:
			best, bestScore = i, s
		case s == bestScore && c.Generic && !m.catalog.At(best).Generic:
			best = i
		}
	}
	return best
}

func score(hint string, c Candidate) int {
	if slices.Contains(c.ISOCodes, hint) {
		return 0
	}
	s := math.MaxInt
	for _, name := range c.Names {
		s = min(s, Distance(hint, name))
	}
	return s
}

// GuessDate resolves hint to a locale and parses text with that locale's
// conventions. When text cannot be parsed, fallback is returned and ok is
// false; the failure is never reported as an error.
func (m *Matcher) GuessDate(text, hint string, fallback time.Time) (date time.Time, loc Candidate, ok bool) {
	loc = m.BestLocale(hint)
	date, err := ParseDate(text, loc)
	if err != nil {
		return fallback, loc, false
	}
	return date, loc, true
}
