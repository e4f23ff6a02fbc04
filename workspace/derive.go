package workspace

import (
	"github.com/shopspring/decimal"

	"contractflow/split"
)

// valueScale matches the numeric(19,4) columns.
const valueScale = 4

// product is qty × price, or unset when either factor is missing.
func product(qty, price decimal.NullDecimal) decimal.NullDecimal {
	if !qty.Valid || !price.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: qty.Decimal.Mul(price.Decimal).Round(valueScale), Valid: true}
}

// rederive recomputes current after one factor changed from (oldQty,
// oldPrice) to (qty, price). The value moves only when either factor pair
// fully determines it, so an imported value with no factors is kept.
func rederive(current, oldQty, oldPrice, qty, price decimal.NullDecimal) decimal.NullDecimal {
	if (oldQty.Valid && oldPrice.Valid) || (qty.Valid && price.Valid) {
		return product(qty, price)
	}
	return current
}

// derive fills values whose factors are both present. Imported values with
// no factors are left alone; factor edits go through applyLineItemField.
func (li *LineItem) derive() {
	if li.OrderQty.Valid && li.UnitPrice.Valid {
		li.ItemValue = product(li.OrderQty, li.UnitPrice)
	}
	if li.OrderQty.Valid && li.PricePerUnit.Valid {
		li.QuoteValue = product(li.OrderQty, li.PricePerUnit)
	}
}

// Recompute re-derives line values, contract totals that are not operator
// overrides, and the synthetic difference split.
func Recompute(w *Workspace, newID func() string) {
	lines := make([]split.Line, 0, len(w.LineItems))
	for i := range w.LineItems {
		w.LineItems[i].derive()
		lines = append(lines, split.Line{
			ItemValue:  w.LineItems[i].ItemValue,
			QuoteValue: w.LineItems[i].QuoteValue,
		})
	}

	contractValue, planGross, ok := split.Totals(lines)
	if !w.ContractValueOverride {
		w.ContractValue = decimal.NullDecimal{Decimal: contractValue, Valid: ok}
	}
	if !w.PlanGrossOverride {
		w.PlanGross = decimal.NullDecimal{Decimal: planGross, Valid: ok}
	}

	entries := make([]split.Entry, 0, len(w.Splits))
	for _, s := range w.Splits {
		entries = append(entries, split.Entry{
			ID:          s.ID,
			CompanyName: s.CompanyName,
			Value:       s.Value,
			Paid:        s.Paid,
			Synthetic:   s.Synthetic,
		})
	}

	if w.PlanGross.Valid {
		entries = split.Reconcile(w.PlanGross.Decimal, entries, newID)
	} else {
		kept := entries[:0]
		for _, e := range entries {
			if !e.Synthetic {
				kept = append(kept, e)
			}
		}
		entries = kept
	}

	splits := make([]Split, 0, len(entries))
	for _, e := range entries {
		splits = append(splits, Split{
			ID:          e.ID,
			CompanyName: e.CompanyName,
			Value:       e.Value,
			Paid:        e.Paid,
			Synthetic:   e.Synthetic,
		})
	}
	w.Splits = splits
}
