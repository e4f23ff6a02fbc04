package finalize

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractflow/ledger"
	"contractflow/masterdata"
	"contractflow/sequence"
	"contractflow/workspace"
)

func money(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func readyWorkspace() workspace.Workspace {
	award := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	return workspace.Workspace{
		ID:             "ws-1",
		ContractNumber: "W52P1J-24-C-0001",
		Buyer:          masterdata.Matched("DLA LAND AND MARITIME", "buyer-1"),
		AwardDate:      &award,
		ContractValue:  money("100000"),
		PlanGross:      money("1000"),
		LineItems: []workspace.LineItem{{
			ID:         "l1",
			ItemNumber: "0001",
			NSN:        masterdata.Matched("5935-01-123-4567", "nsn-1"),
			Supplier:   masterdata.Matched("ACME", "sup-1"),
			ItemValue:  money("5000"),
			QuoteValue: money("4000"),
		}},
	}
}

func TestValidate_Ready(t *testing.T) {
	assert.Empty(t, Validate(readyWorkspace()))
}

func TestValidate_CollectsEveryReason(t *testing.T) {
	w := readyWorkspace()
	w.Buyer = masterdata.Unmatched("DLA")
	w.AwardDate = nil
	w.PlanGross = decimal.NullDecimal{}
	w.LineItems[0].Supplier = masterdata.Unmatched("acme")
	w.LineItems = append(w.LineItems, workspace.LineItem{ItemNumber: "0002", Supplier: masterdata.Matched("ACME", "sup-1")})

	want := []string{
		"buyer is not matched",
		"award date is missing",
		"plan gross is missing",
		"line item 0001: supplier is not matched",
		"line item 0002: NSN is not matched",
	}
	if diff := cmp.Diff(want, Validate(w)); diff != "" {
		t.Fatalf("reasons mismatch (-want +got):\n%s", diff)
	}

	empty := readyWorkspace()
	empty.LineItems = nil
	assert.Contains(t, Validate(empty), "contract has no line items")
}

func TestValidationError_Unwraps(t *testing.T) {
	err := error(&ValidationError{Reasons: []string{"buyer is not matched"}})
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Contains(t, err.Error(), "buyer is not matched")
}

func TestOpeningEntries(t *testing.T) {
	w := readyWorkspace()
	w.LineItems = append(w.LineItems, workspace.LineItem{ItemNumber: "0002", ItemValue: money("10")})

	entries := openingEntries(w, "c-1", []string{"clin-1", "clin-2"}, "alice")
	require.Len(t, entries, 5)

	type key struct {
		kind   ledger.EntityKind
		entity string
		typ    ledger.PaymentType
		amount string
	}
	var got []key
	for _, e := range entries {
		require.NoError(t, e.Validate())
		assert.Equal(t, *w.AwardDate, e.Date)
		assert.Equal(t, "alice", e.CreatedBy)
		got = append(got, key{e.Kind, e.EntityID, e.Type, e.Amount.String()})
	}
	want := []key{
		{ledger.KindContract, "c-1", ledger.TypeContractValue, "100000"},
		{ledger.KindContract, "c-1", ledger.TypePlanGross, "1000"},
		{ledger.KindClin, "clin-1", ledger.TypeItemValue, "5000"},
		{ledger.KindClin, "clin-1", ledger.TypeQuoteValue, "4000"},
		{ledger.KindClin, "clin-2", ledger.TypeItemValue, "10"},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(key{})); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestNotification(t *testing.T) {
	f := New(nil, nil, nil).
		WithRecipient("contracts@example.com").
		WithClock(func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) })

	n := f.notification(readyWorkspace(), sequence.Numbers{PO: 10000, Tab: 10001}, "alice")
	assert.Equal(t, "contracts@example.com", n.Recipient)
	assert.Equal(t, "Contract W52P1J-24-C-0001 finalized: PO 10000, Tab 10001", n.Subject)
	assert.Contains(t, n.Body, "Contract value: 100000.00")
	assert.Contains(t, n.Body, "Award date: 2024-01-15")
	assert.Contains(t, n.Body, "2024-03-01T12:00:00Z")
}

func TestClinPONumber(t *testing.T) {
	assert.Equal(t, "10042-0001", ClinPONumber(10042, "0001"))
}
