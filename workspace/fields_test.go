package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseItemType(t *testing.T) {
	tests := map[string]string{
		"P":             "P",
		"production":    "P",
		"gfat":          "G",
		" m ":           "M",
		"Miscellaneous": "M",
		"":              "",
	}
	for in, want := range tests {
		got, err := ParseItemType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseItemType("X")
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestParseDecimal(t *testing.T) {
	v, err := ParseDecimal("contract_value", "$100,000.50")
	require.NoError(t, err)
	assert.Equal(t, "100000.5", v.Decimal.String())

	v, err = ParseDecimal("contract_value", " ")
	require.NoError(t, err)
	assert.False(t, v.Valid)

	_, err = ParseDecimal("contract_value", "lots")
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "contract_value", fe.Field)
}

func TestParseBool(t *testing.T) {
	for _, in := range []string{"yes", "TRUE", "1"} {
		b, err := ParseBool("nist", in)
		require.NoError(t, err)
		assert.True(t, *b)
	}
	for _, in := range []string{"no", "False", "0"} {
		b, err := ParseBool("nist", in)
		require.NoError(t, err)
		assert.False(t, *b)
	}
	_, err := ParseBool("nist", "maybe")
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestApplyContractField_DueBeforeAward(t *testing.T) {
	w := &Workspace{}
	require.NoError(t, applyContractField(w, "award_date", "2024-01-15"))
	err := applyContractField(w, "due_date", "2024-01-01")
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Nil(t, w.DueDate)
}

func TestApplyLineItemField_OriginDestination(t *testing.T) {
	li := &LineItem{}
	require.NoError(t, applyLineItemField(li, "IA", "origin"))
	require.NoError(t, applyLineItemField(li, "fob", "d"))
	assert.Equal(t, "O", li.IA)
	assert.Equal(t, "D", li.FOB)
	assert.ErrorIs(t, applyLineItemField(li, "fob", "x"), ErrInvalidValue)
	assert.ErrorIs(t, applyLineItemField(li, "order_qty", "-1"), ErrInvalidValue)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusDraft, StatusInProgress))
	assert.True(t, CanTransition(StatusInProgress, StatusReadyForReview))
	assert.True(t, CanTransition(StatusReadyForReview, StatusCompleted))
	assert.True(t, CanTransition(StatusDraft, StatusCancelled))
	assert.False(t, CanTransition(StatusDraft, StatusReadyForReview))
	assert.False(t, CanTransition(StatusCompleted, StatusInProgress))
	assert.False(t, CanTransition(StatusCancelled, StatusDraft))
	assert.True(t, StatusCancelled.Terminal())
}
