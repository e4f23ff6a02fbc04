package matcher

import (
	"sort"
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"contractflow/masterdata"
)

// tier orders how a label relates to the query; lower is better.
type tier int

const (
	tierExact tier = iota
	tierPrefix
	tierWordPrefix
	tierSubstring
	tierOther
)

type scored struct {
	rec      masterdata.Record
	tier     tier
	distance int
}

func classify(label, query string) tier {
	l := strings.ToLower(label)
	switch {
	case l == query:
		return tierExact
	case strings.HasPrefix(l, query):
		return tierPrefix
	}
	for _, word := range strings.FieldsFunc(l, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '/' || r == ','
	}) {
		if strings.HasPrefix(word, query) {
			return tierWordPrefix
		}
	}
	if strings.Contains(l, query) {
		return tierSubstring
	}
	// matched on a secondary column (description, CAGE code)
	return tierOther
}

// rank sorts records by tier, then edit distance to the query, then label.
func rank(records []masterdata.Record, query string) []masterdata.Record {
	q := strings.ToLower(strings.TrimSpace(query))
	qr := []rune(q)

	items := make([]scored, 0, len(records))
	for _, rec := range records {
		items = append(items, scored{
			rec:      rec,
			tier:     classify(rec.Label(), q),
			distance: levenshtein.DistanceForStrings([]rune(strings.ToLower(rec.Label())), qr, levenshtein.DefaultOptions),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.tier != b.tier {
			return a.tier < b.tier
		}
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		return strings.ToLower(a.rec.Label()) < strings.ToLower(b.rec.Label())
	})

	out := make([]masterdata.Record, len(items))
	for i, it := range items {
		out[i] = it.rec
	}
	return out
}
