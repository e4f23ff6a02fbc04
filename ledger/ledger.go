// Package ledger records payment history against contracts and CLINs.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"contractflow/db"
)

// EntityKind says which table an entry's EntityID points at.
type EntityKind string

const (
	KindContract EntityKind = "contract"
	KindClin     EntityKind = "clin"
)

type PaymentType string

const (
	TypeContractValue PaymentType = "contract_value"
	TypePlanGross     PaymentType = "plan_gross"
	TypeItemValue     PaymentType = "item_value"
	TypeQuoteValue    PaymentType = "quote_value"
)

// allowed mirrors the payment_history_kind_check constraint.
var allowed = map[EntityKind][]PaymentType{
	KindContract: {TypeContractValue, TypePlanGross},
	KindClin:     {TypeItemValue, TypeQuoteValue},
}

var (
	ErrUnknownKind     = errors.New("ledger: unknown entity kind")
	ErrTypeNotAllowed  = errors.New("ledger: payment type not allowed for entity kind")
	ErrMissingEntityID = errors.New("ledger: entity id is required")
)

// Entry is one payment-history row.
type Entry struct {
	ID        int64
	Kind      EntityKind
	EntityID  string
	Type      PaymentType
	Amount    decimal.Decimal
	Date      time.Time
	Info      string
	Reference string
	CreatedBy string
	CreatedAt time.Time
}

func ParseKind(s string) (EntityKind, error) {
	k := EntityKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := allowed[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Allowed reports whether t may be recorded against kind.
func Allowed(kind EntityKind, t PaymentType) bool {
	for _, a := range allowed[kind] {
		if a == t {
			return true
		}
	}
	return false
}

// Validate checks kind, type and entity before any write.
func (e Entry) Validate() error {
	if _, ok := allowed[e.Kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if !Allowed(e.Kind, e.Type) {
		return fmt.Errorf("%w: %s on %s", ErrTypeNotAllowed, e.Type, e.Kind)
	}
	if strings.TrimSpace(e.EntityID) == "" {
		return ErrMissingEntityID
	}
	return nil
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert writes e and returns its id.
func (r *Repository) Insert(ctx context.Context, q db.Querier, e Entry) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}

	var contractID, clinID any
	if e.Kind == KindContract {
		contractID = e.EntityID
	} else {
		clinID = e.EntityID
	}

	var id int64
	err := q.QueryRow(ctx, `
		INSERT INTO payment_history (
			entity_kind, contract_id, clin_id, payment_type, payment_amount,
			payment_date, payment_info, reference_number, created_by
		) VALUES ($1, $2::uuid, $3::uuid, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		string(e.Kind), contractID, clinID, string(e.Type), e.Amount,
		e.Date, e.Info, e.Reference, e.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert %s %s: %w", e.Kind, e.Type, err)
	}
	return id, nil
}

// Filter selects entries of one entity; Type is optional.
type Filter struct {
	Kind     EntityKind
	EntityID string
	Type     PaymentType
}

func (r *Repository) List(ctx context.Context, q db.Querier, f Filter) ([]Entry, error) {
	column, err := idColumn(f.Kind)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(f.EntityID) == "" {
		return nil, ErrMissingEntityID
	}

	query := fmt.Sprintf(`
		SELECT id, entity_kind, %s::text, payment_type, payment_amount, payment_date,
		       payment_info, reference_number, created_by, created_at
		FROM payment_history
		WHERE entity_kind = $1 AND %s::text = $2 AND ($3 = '' OR payment_type = $3)
		ORDER BY payment_date, id`, column, column)

	rows, err := q.Query(ctx, query, string(f.Kind), f.EntityID, string(f.Type))
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate: %w", err)
	}
	return out, nil
}

// Totals sums the amounts of one entity per payment type. Types with no
// entries are present with zero.
func (r *Repository) Totals(ctx context.Context, q db.Querier, kind EntityKind, entityID string) (map[PaymentType]decimal.Decimal, error) {
	entries, err := r.List(ctx, q, Filter{Kind: kind, EntityID: entityID})
	if err != nil {
		return nil, err
	}
	totals := make(map[PaymentType]decimal.Decimal, len(allowed[kind]))
	for _, t := range allowed[kind] {
		totals[t] = decimal.Zero
	}
	for _, e := range entries {
		totals[e.Type] = totals[e.Type].Add(e.Amount)
	}
	return totals, nil
}

func idColumn(kind EntityKind) (string, error) {
	switch kind {
	case KindContract:
		return "contract_id", nil
	case KindClin:
		return "clin_id", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e           Entry
		kind, ptype string
	)
	err := row.Scan(&e.ID, &kind, &e.EntityID, &ptype, &e.Amount, &e.Date,
		&e.Info, &e.Reference, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	e.Kind = EntityKind(kind)
	e.Type = PaymentType(ptype)
	return e, nil
}
