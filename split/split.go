// Package split keeps a contract's value splits summing to its plan gross.
package split

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DifferenceCompany names the synthetic split that absorbs rounding drift.
const DifferenceCompany = "Calculation Difference"

// Tolerance is the largest drift left unbalanced.
var Tolerance = decimal.New(1, -2)

// Entry is one party's share.
type Entry struct {
	ID          string
	CompanyName string
	Value       decimal.Decimal
	Paid        decimal.Decimal
	Synthetic   bool
}

// Line is the pricing of one line item.
type Line struct {
	ItemValue  decimal.NullDecimal
	QuoteValue decimal.NullDecimal
}

// Totals derives contract value (sum of item values) and plan gross (sum of
// item value minus quote value). ok is false when no line carries an item value.
func Totals(lines []Line) (contractValue, planGross decimal.Decimal, ok bool) {
	contractValue = decimal.Zero
	planGross = decimal.Zero
	for _, l := range lines {
		if !l.ItemValue.Valid {
			continue
		}
		ok = true
		contractValue = contractValue.Add(l.ItemValue.Decimal)
		margin := l.ItemValue.Decimal
		if l.QuoteValue.Valid {
			margin = margin.Sub(l.QuoteValue.Decimal)
		}
		planGross = planGross.Add(margin)
	}
	return contractValue, planGross, ok
}

// Sum adds the values of the non-synthetic entries.
func Sum(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if e.Synthetic {
			continue
		}
		total = total.Add(e.Value)
	}
	return total
}

// Reconcile returns entries with the synthetic difference split added,
// adjusted or removed so the values sum to planGross within Tolerance.
// newID is called when a synthetic split has to be created.
func Reconcile(planGross decimal.Decimal, entries []Entry, newID func() string) []Entry {
	named := make([]Entry, 0, len(entries)+1)
	var synthetic *Entry
	for i := range entries {
		if entries[i].Synthetic {
			if synthetic == nil {
				e := entries[i]
				synthetic = &e
			}
			continue
		}
		named = append(named, entries[i])
	}

	diff := planGross.Sub(Sum(named))
	if diff.Abs().LessThanOrEqual(Tolerance) {
		return named
	}

	if synthetic == nil {
		synthetic = &Entry{ID: newID(), CompanyName: DifferenceCompany, Paid: decimal.Zero, Synthetic: true}
	}
	synthetic.Value = diff
	return append(named, *synthetic)
}

// Balanced reports whether entries sum to planGross within Tolerance.
func Balanced(planGross decimal.Decimal, entries []Entry) bool {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Value)
	}
	return planGross.Sub(total).Abs().LessThanOrEqual(Tolerance)
}

// IsReservedName reports whether name collides with the synthetic split.
func IsReservedName(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), DifferenceCompany)
}
