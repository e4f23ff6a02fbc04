// Package contractnum enforces that a contract number is used by at most one
// staged contract, workspace or contract at a time.
package contractnum

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"contractflow/db"
)

// ErrDuplicate signals a contract number already present in staging, a
// workspace or the contract table.
var ErrDuplicate = errors.New("contractnum: duplicate contract number")

// DuplicateError names the offending number and where it was found.
type DuplicateError struct {
	Number string
	Where  string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("contractnum: contract number %q already exists in %s", e.Number, e.Where)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

// Normalize trims surrounding whitespace. Comparisons are case-insensitive.
func Normalize(number string) string {
	return strings.TrimSpace(number)
}

// Lock serializes writers of the same contract number until tx ends.
func Lock(ctx context.Context, tx pgx.Tx, number string) error {
	return db.LockKey(ctx, tx, "contract_number", strings.ToLower(Normalize(number)))
}

// Check returns a *DuplicateError when number is in use by anything other
// than the staged contract exceptStagedID (and its workspace). Pass "" to
// check against everything. Call it after Lock.
func Check(ctx context.Context, q db.Querier, number, exceptStagedID string) error {
	const query = `
		SELECT where_found FROM (
			SELECT 'staging' AS where_found FROM staged_contracts
			 WHERE lower(contract_number) = lower($1) AND id::text <> $2
			UNION ALL
			SELECT 'workspace' FROM workspaces
			 WHERE lower(contract_number) = lower($1) AND staged_contract_id::text <> $2
			UNION ALL
			SELECT 'contract' FROM contracts
			 WHERE lower(contract_number) = lower($1)
		) found
		LIMIT 1
	`

	number = Normalize(number)
	var where string
	err := q.QueryRow(ctx, query, number, exceptStagedID).Scan(&where)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("contractnum: check %q: %w", number, err)
	}
	return &DuplicateError{Number: number, Where: where}
}

// LockAndCheck is Lock followed by Check inside tx.
func LockAndCheck(ctx context.Context, tx pgx.Tx, number, exceptStagedID string) error {
	if err := Lock(ctx, tx, number); err != nil {
		return err
	}
	return Check(ctx, tx, number, exceptStagedID)
}
