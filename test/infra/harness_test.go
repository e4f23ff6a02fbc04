package infra

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReset_EmptiesMutableTables(t *testing.T) {
	pool := OpenTestDB(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `INSERT INTO buyers (name) VALUES ('DLA AVIATION')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO staged_contracts (contract_number, created_by) VALUES ('SPE4A6-24-C-0001', 'alice')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO sequence_counters (id, next_po_number, next_tab_number) VALUES (1, 10500, 10500)
		ON CONFLICT (id) DO UPDATE SET next_po_number = 10500, next_tab_number = 10500`)
	require.NoError(t, err)

	require.NoError(t, Reset(ctx, pool))

	for _, table := range []string{"buyers", "staged_contracts", "sequence_counters"} {
		var n int
		require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM "+table).Scan(&n))
		assert.Zero(t, n, table)
	}
}
