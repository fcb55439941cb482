// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package locale

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// DateOrder is the field order a locale writes numeric dates in.
type DateOrder int

const (
	// OrderDMY is day, month, year (most of Europe, Latin America).
	OrderDMY DateOrder = iota
	// OrderMDY is month, day, year (United States).
	OrderMDY
	// OrderYMD is year, month, day (East Asia, Hungary, Sweden).
	OrderYMD
)

func (o DateOrder) String() string {
	switch o {
	case OrderMDY:
		return "MDY"
	case OrderYMD:
		return "YMD"
	default:
		return "DMY"
	}
}

// Candidate is one entry of the locale catalog.
type Candidate struct {
	// ID is the BCP 47 identifier, e.g. "de-AT".
	ID string
	// Names holds lower-cased display name variants: English and native.
	Names []string
	// ISOCodes holds lower-cased codes that match the locale exactly.
	ISOCodes []string
	// Generic marks a language-only locale with no region ("de" vs "de-AT").
	Generic bool
	// Order is the numeric date field order.
	Order DateOrder
	// MonthNames enables parsing of dates with written month names.
	MonthNames bool
	// Months holds the native month names, January first. Nil when the
	// locale writes months in English or has no table.
	Months []string
}

// Catalog is an immutable, ordered set of locale candidates. Iteration order
// is part of the matching contract: ties between equally generic candidates
// go to the one that comes first.
type Catalog struct {
	version string
	entries []Candidate
}

// NewCatalog builds a catalog from entries in the given order. Names and codes
// are lower-cased; entries are copied so later mutation of the argument has no
// effect.
func NewCatalog(version string, entries []Candidate) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("locale: catalog %q has no entries", version)
	}
	seen := make(map[string]bool, len(entries))
	out := make([]Candidate, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("locale: catalog entry %d has no identifier", i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("locale: duplicate catalog entry %q", e.ID)
		}
		seen[e.ID] = true
		e.Names = normalize(e.Names)
		e.ISOCodes = normalize(e.ISOCodes)
		if len(e.Months) != 0 && len(e.Months) != 12 {
			return nil, fmt.Errorf("locale: catalog entry %q has %d month names", e.ID, len(e.Months))
		}
		e.Months = lowerAll(e.Months)
		out[i] = e
	}
	return &Catalog{version: version, entries: out}, nil
}

// Version identifies the data the catalog was built from.
func (c *Catalog) Version() string { return c.version }

// Len returns the number of candidates.
func (c *Catalog) Len() int { return len(c.entries) }

// At returns the i-th candidate.
func (c *Catalog) At(i int) Candidate { return c.entries[i] }

// Lookup returns the candidate with the given identifier.
func (c *Catalog) Lookup(id string) (Candidate, bool) {
	for _, e := range c.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Candidate{}, false
}

// catalogTags is the shipped locale set. It is sorted when the default
// catalog is built, so generic tags precede their regional variants.
var catalogTags = []string{
	"ar", "ar-EG", "ar-SA",
	"cs", "cs-CZ",
	"da", "da-DK",
	"de", "de-AT", "de-CH", "de-DE",
	"el", "el-GR",
	"en", "en-AU", "en-CA", "en-GB", "en-IE", "en-IN", "en-NZ", "en-US", "en-ZA",
	"es", "es-AR", "es-ES", "es-MX",
	"fi", "fi-FI",
	"fr", "fr-BE", "fr-CA", "fr-CH", "fr-FR",
	"he", "he-IL",
	"hi", "hi-IN",
	"hu", "hu-HU",
	"id", "id-ID",
	"it", "it-CH", "it-IT",
	"ja", "ja-JP",
	"ko", "ko-KR",
	"nb", "nb-NO",
	"nl", "nl-BE", "nl-NL",
	"pl", "pl-PL",
	"pt", "pt-BR", "pt-PT",
	"ro", "ro-RO",
	"ru", "ru-RU",
	"sk", "sk-SK",
	"sv", "sv-FI", "sv-SE",
	"th", "th-TH",
	"tr", "tr-TR",
	"uk", "uk-UA",
	"vi", "vi-VN",
	"zh", "zh-CN", "zh-TW",
}

// Date order exceptions; everything else is day-first.
var (
	tagOrder = map[string]DateOrder{
		"en":    OrderMDY,
		"en-US": OrderMDY,
		"en-CA": OrderYMD,
		"en-ZA": OrderYMD,
		"sv-FI": OrderDMY,
	}
	baseOrder = map[string]DateOrder{
		"hu": OrderYMD,
		"ja": OrderYMD,
		"ko": OrderYMD,
		"sv": OrderYMD,
		"zh": OrderYMD,
	}
)

var defaultCatalog = sync.OnceValue(func() *Catalog {
	tags := slices.Clone(catalogTags)
	sort.Strings(tags)

	entries := make([]Candidate, 0, len(tags))
	for _, id := range tags {
		entries = append(entries, candidateFromTag(id))
	}
	c, err := NewCatalog("cldr-"+language.CLDRVersion, entries)
	if err != nil {
		panic(fmt.Sprintf("locale: building default catalog: %v", err))
	}
	return c
})

// DefaultCatalog returns the catalog shipped with the module. Display names
// come from the CLDR tables vendored in golang.org/x/text, so the result only
// changes when that dependency is upgraded.
func DefaultCatalog() *Catalog {
	return defaultCatalog()
}

func candidateFromTag(id string) Candidate {
	tag := language.MustParse(id)
	base, _, region := tag.Raw()
	generic := !strings.Contains(id, "-")

	names := []string{
		display.English.Tags().Name(tag),
		display.Self.Name(tag),
	}
	if !generic {
		names = append(names, fmt.Sprintf("%s (%s)",
			display.English.Languages().Name(base),
			display.English.Regions().Name(region)))
	}

	codes := []string{id, strings.ReplaceAll(id, "-", "_")}
	if generic {
		codes = append(codes, base.String(), base.ISO3())
	}

	order, ok := tagOrder[id]
	if !ok {
		order, ok = baseOrder[base.String()]
		if !ok {
			order = OrderDMY
		}
	}

	months := monthNames[base.String()]
	return Candidate{
		ID:         id,
		Names:      names,
		ISOCodes:   codes,
		Generic:    generic,
		Order:      order,
		MonthNames: base.String() == "en" || months != nil,
		Months:     months,
	}
}

// monthNames are the nominative month names of languages that write them in
// dates unchanged. Languages that inflect month names (Slavic, Finnish,
// Greek) parse numeric dates only.
var monthNames = map[string][]string{
	"da": {"januar", "februar", "marts", "april", "maj", "juni", "juli", "august", "september", "oktober", "november", "december"},
	"de": {"januar", "februar", "märz", "april", "mai", "juni", "juli", "august", "september", "oktober", "november", "dezember"},
	"es": {"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"},
	"fr": {"janvier", "février", "mars", "avril", "mai", "juin", "juillet", "août", "septembre", "octobre", "novembre", "décembre"},
	"id": {"januari", "februari", "maret", "april", "mei", "juni", "juli", "agustus", "september", "oktober", "november", "desember"},
	"it": {"gennaio", "febbraio", "marzo", "aprile", "maggio", "giugno", "luglio", "agosto", "settembre", "ottobre", "novembre", "dicembre"},
	"nb": {"januar", "februar", "mars", "april", "mai", "juni", "juli", "august", "september", "oktober", "november", "desember"},
	"nl": {"januari", "februari", "maart", "april", "mei", "juni", "juli", "augustus", "september", "oktober", "november", "december"},
	"pt": {"janeiro", "fevereiro", "março", "abril", "maio", "junho", "julho", "agosto", "setembro", "outubro", "novembro", "dezembro"},
	"ro": {"ianuarie", "februarie", "martie", "aprilie", "mai", "iunie", "iulie", "august", "septembrie", "octombrie", "noiembrie", "decembrie"},
	"sv": {"januari", "februari", "mars", "april", "maj", "juni", "juli", "augusti", "september", "oktober", "november", "december"},
	"tr": {"ocak", "şubat", "mart", "nisan", "mayıs", "haziran", "temmuz", "ağustos", "eylül", "ekim", "kasım", "aralık"},
}

func lowerAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	lower := cases.Lower(language.Und)
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.TrimSpace(lower.String(v))
	}
	return out
}

// normalize lower-cases, trims and de-duplicates, dropping empty values.
func normalize(values []string) []string {
	lower := cases.Lower(language.Und)
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(lower.String(v))
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}
