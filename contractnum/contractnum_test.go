package contractnum_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractflow/contractnum"
	"contractflow/test/infra"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "SPE7L3-24-P-1234", contractnum.Normalize("  SPE7L3-24-P-1234\t"))
}

func TestCheck(t *testing.T) {
	pool := infra.OpenTestDB(t)
	ctx := context.Background()

	var stagedID string
	require.NoError(t, pool.QueryRow(ctx, `
		INSERT INTO staged_contracts (contract_number, created_by)
		VALUES ('SPE7L3-24-P-1234', 'alice') RETURNING id::text`).Scan(&stagedID))

	require.NoError(t, contractnum.Check(ctx, pool, "SPE7L3-24-P-9999", ""))

	err := contractnum.Check(ctx, pool, " spe7l3-24-p-1234 ", "")
	require.ErrorIs(t, err, contractnum.ErrDuplicate)
	var dup *contractnum.DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "staging", dup.Where)
	assert.Equal(t, "spe7l3-24-p-1234", dup.Number)

	// the staged record may keep its own number
	assert.NoError(t, contractnum.Check(ctx, pool, "SPE7L3-24-P-1234", stagedID))
}

func TestLockAndCheck_Serializes(t *testing.T) {
	pool := infra.OpenTestDB(t)
	ctx := context.Background()

	first, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer first.Rollback(ctx)
	require.NoError(t, contractnum.LockAndCheck(ctx, first, "SPE4A6-24-C-0007", ""))

	done := make(chan error, 1)
	go func() {
		second, err := pool.Begin(ctx)
		if err != nil {
			done <- err
			return
		}
		defer second.Rollback(ctx)
		done <- contractnum.LockAndCheck(ctx, second, "spe4a6-24-c-0007", "")
	}()

	select {
	case err := <-done:
		t.Fatalf("second writer was not blocked: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	_, err = first.Exec(ctx, `INSERT INTO staged_contracts (contract_number, created_by) VALUES ('SPE4A6-24-C-0007', 'alice')`)
	require.NoError(t, err)
	require.NoError(t, first.Commit(ctx))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, contractnum.ErrDuplicate)
	case <-time.After(5 * time.Second):
		t.Fatal("second writer never acquired the lock")
	}
}
