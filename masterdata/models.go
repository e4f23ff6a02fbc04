package masterdata

import (
	"fmt"
	"strings"
)

// Kind names one canonical lookup table.
type Kind string

const (
	KindBuyer    Kind = "buyer"
	KindNSN      Kind = "nsn"
	KindSupplier Kind = "supplier"
	KindIDIQ     Kind = "idiq"
)

// Kinds lists every supported kind in display order.
var Kinds = []Kind{KindBuyer, KindNSN, KindSupplier, KindIDIQ}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindBuyer, KindNSN, KindSupplier, KindIDIQ:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Reference pairs the operator-visible text of a matchable field with the
// canonical record it resolved to. MatchedID is nil until matched. The two
// halves are only ever written together, by the matcher.
type Reference struct {
	Text      string  `json:"text"`
	MatchedID *string `json:"matchedId,omitempty"`
}

// Unmatched wraps free text that has not been resolved yet.
func Unmatched(text string) Reference {
	return Reference{Text: strings.TrimSpace(text)}
}

// Matched builds a resolved reference.
func Matched(text, id string) Reference {
	return Reference{Text: text, MatchedID: &id}
}

func (r Reference) IsMatched() bool {
	return r.MatchedID != nil && *r.MatchedID != ""
}

// ID returns the matched id or "".
func (r Reference) ID() string {
	if r.MatchedID == nil {
		return ""
	}
	return *r.MatchedID
}

// Record is a canonical row of any kind. Key is the natural key (buyer name,
// NSN code, supplier name, IDIQ contract number).
type Record struct {
	ID          string
	Kind        Kind
	Key         string
	Description string
	CageCode    string
}

// Label is the display text copied into a Reference on match.
func (r Record) Label() string {
	return r.Key
}

// NewRecord carries the fields accepted by Insert.
type NewRecord struct {
	Key         string
	Description string
	CageCode    string
	CreatedBy   string
}

func (n NewRecord) normalized() NewRecord {
	n.Key = strings.TrimSpace(n.Key)
	n.Description = strings.TrimSpace(n.Description)
	n.CageCode = strings.ToUpper(strings.TrimSpace(n.CageCode))
	return n
}
