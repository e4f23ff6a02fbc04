package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"contractflow/db"
)

// DefaultStart seeds both counters when the row is first created.
const DefaultStart int64 = 10000

type Counter string

const (
	CounterPO  Counter = "po"
	CounterTab Counter = "tab"
)

var ErrUnknownCounter = errors.New("sequence: unknown counter")

// Numbers is a PO/Tab pair.
type Numbers struct {
	PO  int64
	Tab int64
}

// Pool is the subset of *pgxpool.Pool the allocator needs.
type Pool interface {
	db.TxBeginner
	db.Querier
}

// Allocator issues PO and Tab numbers from the single sequence_counters row.
// Every advance is one UPDATE ... RETURNING, so the row lock it takes is held
// until the surrounding transaction ends and concurrent callers serialize on it.
type Allocator struct {
	pool Pool
}

func NewAllocator(pool Pool) *Allocator {
	return &Allocator{pool: pool}
}

// Peek returns the next values without consuming them.
func (a *Allocator) Peek(ctx context.Context) (Numbers, error) {
	return peek(ctx, a.pool)
}

// PeekTx is Peek inside an existing transaction.
func (a *Allocator) PeekTx(ctx context.Context, tx pgx.Tx) (Numbers, error) {
	return peek(ctx, tx)
}

func peek(ctx context.Context, q db.Querier) (Numbers, error) {
	const query = `SELECT next_po_number, next_tab_number FROM sequence_counters WHERE id = 1`

	var n Numbers
	err := q.QueryRow(ctx, query).Scan(&n.PO, &n.Tab)
	if errors.Is(err, pgx.ErrNoRows) {
		return Numbers{PO: DefaultStart, Tab: DefaultStart}, nil
	}
	if err != nil {
		return Numbers{}, fmt.Errorf("sequence: peek: %w", err)
	}
	return n, nil
}

// Advance consumes one value of counter in its own transaction.
func (a *Allocator) Advance(ctx context.Context, counter Counter) (int64, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("sequence: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := a.AdvanceTx(ctx, tx, counter)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("sequence: commit: %w", err)
	}
	return v, nil
}

// AdvanceTx returns the current value of counter and increments it, inside tx.
// Rolling tx back restores the counter.
func (a *Allocator) AdvanceTx(ctx context.Context, tx pgx.Tx, counter Counter) (int64, error) {
	var query string
	switch counter {
	case CounterPO:
		query = `UPDATE sequence_counters
		         SET next_po_number = next_po_number + 1, updated_at = now()
		         WHERE id = 1
		         RETURNING next_po_number - 1`
	case CounterTab:
		query = `UPDATE sequence_counters
		         SET next_tab_number = next_tab_number + 1, updated_at = now()
		         WHERE id = 1
		         RETURNING next_tab_number - 1`
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCounter, counter)
	}

	if err := ensureRow(ctx, tx); err != nil {
		return 0, err
	}

	var v int64
	if err := tx.QueryRow(ctx, query).Scan(&v); err != nil {
		return 0, fmt.Errorf("sequence: advance %s: %w", counter, err)
	}
	return v, nil
}

// AdvanceBothTx consumes one PO and one Tab number in a single statement.
func (a *Allocator) AdvanceBothTx(ctx context.Context, tx pgx.Tx) (Numbers, error) {
	const query = `
		UPDATE sequence_counters
		SET next_po_number = next_po_number + 1,
		    next_tab_number = next_tab_number + 1,
		    updated_at = now()
		WHERE id = 1
		RETURNING next_po_number - 1, next_tab_number - 1
	`

	if err := ensureRow(ctx, tx); err != nil {
		return Numbers{}, err
	}

	var n Numbers
	if err := tx.QueryRow(ctx, query).Scan(&n.PO, &n.Tab); err != nil {
		return Numbers{}, fmt.Errorf("sequence: advance both: %w", err)
	}
	return n, nil
}

func ensureRow(ctx context.Context, tx pgx.Tx) error {
	const query = `
		INSERT INTO sequence_counters (id, next_po_number, next_tab_number)
		VALUES (1, $1, $1)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, query, DefaultStart); err != nil {
		return fmt.Errorf("sequence: ensure counter row: %w", err)
	}
	return nil
}
