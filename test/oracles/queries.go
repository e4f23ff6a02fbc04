package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns queries that must come back empty at every instant.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_workspace_without_claim",
			SQL: `SELECT w.id, w.contract_number FROM workspaces w
                  JOIN staged_contracts s ON s.id = w.staged_contract_id
                  WHERE s.claimed_by IS NULL`,
		},
		{
			Name: "O2_claim_without_workspace",
			SQL: `SELECT s.id, s.contract_number, s.claimed_by FROM staged_contracts s
                  WHERE s.claimed_by IS NOT NULL
                    AND NOT EXISTS (SELECT 1 FROM workspaces w WHERE w.staged_contract_id = s.id)`,
		},
		{
			Name: "O3_contract_number_unique_across_tables",
			SQL: `SELECT lower(c.contract_number) FROM contracts c
                  WHERE EXISTS (SELECT 1 FROM staged_contracts s WHERE lower(s.contract_number) = lower(c.contract_number))
                     OR EXISTS (SELECT 1 FROM workspaces w WHERE lower(w.contract_number) = lower(c.contract_number))
                  UNION ALL
                  SELECT lower(w.contract_number) FROM workspaces w
                  JOIN staged_contracts s ON lower(s.contract_number) = lower(w.contract_number)
                  WHERE s.id <> w.staged_contract_id`,
		},
		{
			Name: "O4_numbers_below_counters",
			SQL: `SELECT c.id, c.po_number, c.tab_number FROM contracts c, sequence_counters n
                  WHERE c.po_number >= n.next_po_number OR c.tab_number >= n.next_tab_number`,
		},
		{
			Name: "O5_splits_sum_to_plan_gross",
			SQL: `SELECT c.id, c.plan_gross, COALESCE(SUM(s.split_value), 0) FROM contracts c
                  LEFT JOIN contract_splits s ON s.contract_id = c.id
                  GROUP BY c.id, c.plan_gross
                  HAVING abs(c.plan_gross - COALESCE(SUM(s.split_value), 0)) > 0.01`,
		},
		{
			Name: "O6_contract_ledger_opened",
			SQL: `SELECT c.id FROM contracts c
                  WHERE (SELECT count(*) FROM payment_history p
                         WHERE p.contract_id = c.id AND p.payment_type = 'contract_value'
                           AND p.payment_amount = c.contract_value) <> 1
                     OR (SELECT count(*) FROM payment_history p
                         WHERE p.contract_id = c.id AND p.payment_type = 'plan_gross'
                           AND p.payment_amount = c.plan_gross) <> 1`,
		},
		{
			Name: "O7_clin_ledger_matches",
			SQL: `SELECT cl.id FROM clins cl
                  WHERE cl.item_value IS NOT NULL
                    AND (SELECT count(*) FROM payment_history p
                         WHERE p.clin_id = cl.id AND p.payment_type = 'item_value'
                           AND p.payment_amount = cl.item_value) <> 1`,
		},
		{
			Name: "O8_contract_without_clins",
			SQL: `SELECT c.id FROM contracts c
                  WHERE NOT EXISTS (SELECT 1 FROM clins cl WHERE cl.contract_id = c.id)`,
		},
		{
			Name: "O9_synthetic_split_singleton",
			SQL: `SELECT workspace_id FROM workspace_splits WHERE synthetic
                  GROUP BY workspace_id HAVING count(*) > 1`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
