package matcher

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractflow/masterdata"
	"contractflow/workspace"
)

func labels(recs []masterdata.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Label()
	}
	return out
}

func TestRank_TiersThenDistanceThenLabel(t *testing.T) {
	recs := []masterdata.Record{
		{ID: "1", Key: "ACME DEFENSE SUPPLY"},
		{ID: "2", Key: "Northrop / ACME"},
		{ID: "3", Key: "ACME"},
		{ID: "4", Key: "PACMEN INDUSTRIES"},
		{ID: "5", Key: "ACME CORP"},
		{ID: "6", Key: "BOLT WORKS", CageCode: "ACME1"},
	}

	got := labels(rank(recs, "acme"))
	want := []string{
		"ACME",
		"ACME CORP",
		"ACME DEFENSE SUPPLY",
		"Northrop / ACME",
		"PACMEN INDUSTRIES",
		"BOLT WORKS",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("rank mismatch (-want +got):\n%s", diff)
	}
}

func TestRank_TiesBrokenByLabel(t *testing.T) {
	recs := []masterdata.Record{{Key: "ACME B"}, {Key: "acme a"}}
	assert.Equal(t, []string{"acme a", "ACME B"}, labels(rank(recs, "ACME")))
}

func TestCheckTarget(t *testing.T) {
	ws := Target{WorkspaceID: "w"}
	line := Target{WorkspaceID: "w", LineItemID: "l"}

	assert.NoError(t, checkTarget(masterdata.KindBuyer, ws))
	assert.NoError(t, checkTarget(masterdata.KindIDIQ, ws))
	assert.NoError(t, checkTarget(masterdata.KindNSN, line))
	assert.NoError(t, checkTarget(masterdata.KindSupplier, line))

	assert.ErrorIs(t, checkTarget(masterdata.KindBuyer, line), ErrTargetMismatch)
	assert.ErrorIs(t, checkTarget(masterdata.KindNSN, ws), ErrTargetMismatch)
	assert.ErrorIs(t, checkTarget("vendor", ws), masterdata.ErrUnknownKind)
}

func TestAssign_SetsTextAndIDTogether(t *testing.T) {
	w := &workspace.Workspace{
		Buyer:     masterdata.Unmatched("dla land"),
		LineItems: []workspace.LineItem{{ID: "l1", NSN: masterdata.Unmatched("5935011234567")}},
	}

	require.NoError(t, assign(w, Target{}, masterdata.Record{ID: "b1", Kind: masterdata.KindBuyer, Key: "DLA LAND AND MARITIME"}))
	assert.Equal(t, "DLA LAND AND MARITIME", w.Buyer.Text)
	assert.Equal(t, "b1", w.Buyer.ID())

	nsn := masterdata.Record{ID: "n1", Kind: masterdata.KindNSN, Key: "5935-01-123-4567", Description: "CONNECTOR, PLUG"}
	require.NoError(t, assign(w, Target{LineItemID: "l1"}, nsn))
	assert.Equal(t, "5935-01-123-4567", w.LineItems[0].NSN.Text)
	assert.Equal(t, "n1", w.LineItems[0].NSN.ID())
	assert.Equal(t, "CONNECTOR, PLUG", w.LineItems[0].NSNDescription)

	err := assign(w, Target{LineItemID: "missing"}, nsn)
	assert.ErrorIs(t, err, workspace.ErrLineItemNotFound)
}

func TestAssign_KeepsImportedDescriptionWhenCanonicalHasNone(t *testing.T) {
	w := &workspace.Workspace{
		LineItems: []workspace.LineItem{{ID: "l1", NSN: masterdata.Unmatched("5305009846210"), NSNDescription: "SCREW, CAP, HEX"}},
	}

	bare := masterdata.Record{ID: "n2", Kind: masterdata.KindNSN, Key: "5305-00-984-6210"}
	require.NoError(t, assign(w, Target{LineItemID: "l1"}, bare))
	assert.Equal(t, "n2", w.LineItems[0].NSN.ID())
	assert.Equal(t, "SCREW, CAP, HEX", w.LineItems[0].NSNDescription)
}
