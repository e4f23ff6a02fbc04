package finalize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"contractflow/db"
	"contractflow/sequence"
	"contractflow/workspace"
)

var ErrContractNotFound = errors.New("finalize: contract not found")

// Contract is the system-of-record view of a finalized contract.
type Contract struct {
	ID               string
	ContractNumber   string
	PONumber         int64
	TabNumber        int64
	BuyerID          string
	IDIQID           *string
	AwardDate        time.Time
	DueDate          *time.Time
	ContractValue    decimal.Decimal
	PlanGross        decimal.Decimal
	ContractType     string
	SolicitationType string
	Description      string
	SalesClass       string
	NIST             *bool
	Status           string
	CreatedBy        string
	CreatedAt        time.Time
	Clins            []Clin
	Splits           []Split
}

type Clin struct {
	ID          string
	ItemNumber  string
	ItemType    string
	ClinPONum   string
	TabNumber   int64
	NSNID       string
	SupplierID  string
	OrderQty    decimal.NullDecimal
	UnitPrice   decimal.NullDecimal
	ItemValue   decimal.NullDecimal
	QuoteValue  decimal.NullDecimal
	DueDate     *time.Time
	Description string
}

type Split struct {
	ID          string
	CompanyName string
	Value       decimal.Decimal
	Paid        decimal.Decimal
}

// Store writes and reads the system-of-record tables.
type Store interface {
	InsertContract(ctx context.Context, tx pgx.Tx, w workspace.Workspace, nums sequence.Numbers, actor string) (string, error)
	InsertClin(ctx context.Context, tx pgx.Tx, contractID string, nums sequence.Numbers, li workspace.LineItem) (string, error)
	InsertSplit(ctx context.Context, tx pgx.Tx, contractID string, s workspace.Split) error
}

type PGStore struct{}

func NewStore() *PGStore {
	return &PGStore{}
}

func (s *PGStore) InsertContract(ctx context.Context, tx pgx.Tx, w workspace.Workspace, nums sequence.Numbers, actor string) (string, error) {
	var idiq any
	if w.IDIQ.IsMatched() {
		idiq = w.IDIQ.ID()
	}

	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO contracts (
			contract_number, po_number, tab_number, buyer_id, idiq_id, award_date, due_date,
			contract_value, plan_gross, contract_type, solicitation_type, description,
			sales_class, nist, created_by
		) VALUES ($1, $2, $3, $4::uuid, $5::uuid, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id::text`,
		w.ContractNumber, nums.PO, nums.Tab, w.Buyer.ID(), idiq, w.AwardDate, w.DueDate,
		w.ContractValue.Decimal, w.PlanGross.Decimal, w.ContractType, w.SolicitationType, w.Description,
		w.SalesClass, w.NIST, actor,
	).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return "", fmt.Errorf("finalize: insert contract %q: %w", w.ContractNumber, errDuplicateRecord)
		}
		return "", fmt.Errorf("finalize: insert contract: %w", err)
	}
	return id, nil
}

// errDuplicateRecord surfaces a unique violation on the system-of-record
// tables, which the advisory lock and Check should have prevented.
var errDuplicateRecord = errors.New("record already exists")

func (s *PGStore) InsertClin(ctx context.Context, tx pgx.Tx, contractID string, nums sequence.Numbers, li workspace.LineItem) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO clins (
			contract_id, item_number, item_type, po_num_ext, clin_po_num, tab_number,
			nsn_id, supplier_id, ia, fob, uom, description,
			order_qty, unit_price, item_value, price_per_unit, quote_value,
			due_date, supplier_due_date, supplier_payment_terms
		) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7::uuid, $8::uuid, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id::text`,
		contractID, li.ItemNumber, li.ItemType, li.ItemNumber, ClinPONumber(nums.PO, li.ItemNumber), nums.Tab,
		li.NSN.ID(), li.Supplier.ID(), li.IA, li.FOB, li.UOM, clinDescription(li),
		li.OrderQty, li.UnitPrice, li.ItemValue, li.PricePerUnit, li.QuoteValue,
		li.DueDate, li.SupplierDueDate, li.SupplierPaymentTerms,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("finalize: insert clin %s: %w", li.ItemNumber, err)
	}
	return id, nil
}

func (s *PGStore) InsertSplit(ctx context.Context, tx pgx.Tx, contractID string, sp workspace.Split) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO contract_splits (contract_id, company_name, split_value, split_paid)
		VALUES ($1::uuid, $2, $3, $4)`,
		contractID, sp.CompanyName, sp.Value, sp.Paid)
	if err != nil {
		return fmt.Errorf("finalize: insert split %q: %w", sp.CompanyName, err)
	}
	return nil
}

// ClinPONumber is the CLIN-level PO reference: the contract PO number and
// the item number.
func ClinPONumber(po int64, itemNumber string) string {
	return fmt.Sprintf("%d-%s", po, itemNumber)
}

func clinDescription(li workspace.LineItem) string {
	if li.Description != "" {
		return li.Description
	}
	return li.NSNDescription
}

// GetContract loads a finalized contract with its CLINs and splits.
func (s *PGStore) GetContract(ctx context.Context, q db.Querier, id string) (Contract, error) {
	var c Contract
	err := q.QueryRow(ctx, `
		SELECT id::text, contract_number, po_number, tab_number, buyer_id::text, idiq_id::text,
		       award_date, due_date, contract_value, plan_gross, contract_type, solicitation_type,
		       description, sales_class, nist, status, created_by, created_at
		FROM contracts WHERE id::text = $1`, id,
	).Scan(
		&c.ID, &c.ContractNumber, &c.PONumber, &c.TabNumber, &c.BuyerID, &c.IDIQID,
		&c.AwardDate, &c.DueDate, &c.ContractValue, &c.PlanGross, &c.ContractType, &c.SolicitationType,
		&c.Description, &c.SalesClass, &c.NIST, &c.Status, &c.CreatedBy, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contract{}, ErrContractNotFound
		}
		return Contract{}, fmt.Errorf("finalize: get contract: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id::text, item_number, item_type, clin_po_num, tab_number, nsn_id::text, supplier_id::text,
		       order_qty, unit_price, item_value, quote_value, due_date, description
		FROM clins WHERE contract_id::text = $1 ORDER BY item_number, id`, id)
	if err != nil {
		return Contract{}, fmt.Errorf("finalize: query clins: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cl Clin
		if err := rows.Scan(&cl.ID, &cl.ItemNumber, &cl.ItemType, &cl.ClinPONum, &cl.TabNumber, &cl.NSNID, &cl.SupplierID,
			&cl.OrderQty, &cl.UnitPrice, &cl.ItemValue, &cl.QuoteValue, &cl.DueDate, &cl.Description); err != nil {
			return Contract{}, fmt.Errorf("finalize: scan clin: %w", err)
		}
		c.Clins = append(c.Clins, cl)
	}
	if err := rows.Err(); err != nil {
		return Contract{}, fmt.Errorf("finalize: iterate clins: %w", err)
	}
	rows.Close()

	splitRows, err := q.Query(ctx, `
		SELECT id::text, company_name, split_value, split_paid
		FROM contract_splits WHERE contract_id::text = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return Contract{}, fmt.Errorf("finalize: query splits: %w", err)
	}
	defer splitRows.Close()
	for splitRows.Next() {
		var sp Split
		if err := splitRows.Scan(&sp.ID, &sp.CompanyName, &sp.Value, &sp.Paid); err != nil {
			return Contract{}, fmt.Errorf("finalize: scan split: %w", err)
		}
		c.Splits = append(c.Splits, sp)
	}
	if err := splitRows.Err(); err != nil {
		return Contract{}, fmt.Errorf("finalize: iterate splits: %w", err)
	}
	return c, nil
}
