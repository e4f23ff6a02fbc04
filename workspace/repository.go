package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"contractflow/db"
)

var (
	ErrNotFound         = errors.New("workspace: not found")
	ErrLineItemNotFound = errors.New("workspace: line item not found")
	ErrSplitNotFound    = errors.New("workspace: split not found")
)

type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, w Workspace) error
	Get(ctx context.Context, q db.Querier, id string) (Workspace, error)
	GetByStaged(ctx context.Context, q db.Querier, stagedID string) (Workspace, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Workspace, error)
	Save(ctx context.Context, tx pgx.Tx, w Workspace) error
	Delete(ctx context.Context, tx pgx.Tx, id string) error
	DeleteByStaged(ctx context.Context, tx pgx.Tx, stagedID string) (bool, error)
	RenewLease(ctx context.Context, tx pgx.Tx, stagedID string, until time.Time) error
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const headerColumns = `
	w.id::text, w.staged_contract_id::text, w.contract_number,
	w.buyer_text, w.buyer_id::text, w.idiq_text, w.idiq_id::text,
	w.award_date, w.due_date,
	w.contract_value, w.contract_value_override, w.plan_gross, w.plan_gross_override,
	w.contract_type, w.solicitation_type, w.description, w.sales_class, w.nist,
	w.po_number, w.tab_number, w.status,
	COALESCE(s.claimed_by, ''), s.claim_expires_at,
	w.created_by, w.modified_by, w.created_at, w.updated_at`

const lineColumns = `
	id::text, position, item_number, item_type,
	nsn_text, nsn_id::text, nsn_description, supplier_text, supplier_id::text,
	ia, fob, uom, description,
	order_qty, unit_price, item_value, price_per_unit, quote_value,
	due_date, supplier_due_date, supplier_unit_price, supplier_price, supplier_payment_terms`

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, w Workspace) error {
	const query = `
		INSERT INTO workspaces (id, staged_contract_id, contract_number, buyer_text, buyer_id, idiq_text, idiq_id,
			award_date, due_date, contract_value, contract_value_override, plan_gross, plan_gross_override,
			contract_type, solicitation_type, description, sales_class, nist, po_number, tab_number,
			status, created_by, modified_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6, NULLIF($7, '')::uuid,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $24)
	`

	_, err := tx.Exec(ctx, query,
		w.ID, w.StagedContractID, w.ContractNumber, w.Buyer.Text, w.Buyer.ID(), w.IDIQ.Text, w.IDIQ.ID(),
		w.AwardDate, w.DueDate, w.ContractValue, w.ContractValueOverride, w.PlanGross, w.PlanGrossOverride,
		w.ContractType, w.SolicitationType, w.Description, w.SalesClass, w.NIST, w.PONumber, w.TabNumber,
		w.Status, w.CreatedBy, w.ModifiedBy, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("workspace: insert: %w", err)
	}

	return r.saveChildren(ctx, tx, w)
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, id string) (Workspace, error) {
	query := `SELECT ` + headerColumns + `
		FROM workspaces w JOIN staged_contracts s ON s.id = w.staged_contract_id
		WHERE w.id::text = $1`
	return r.load(ctx, q, query, id)
}

func (r *PGRepository) GetByStaged(ctx context.Context, q db.Querier, stagedID string) (Workspace, error) {
	query := `SELECT ` + headerColumns + `
		FROM workspaces w JOIN staged_contracts s ON s.id = w.staged_contract_id
		WHERE w.staged_contract_id::text = $1`
	return r.load(ctx, q, query, stagedID)
}

// GetForUpdate locks the source staged row and then the workspace row, the
// same order claim uses, and loads the full aggregate.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Workspace, error) {
	var stagedID string
	err := tx.QueryRow(ctx, `SELECT staged_contract_id::text FROM workspaces WHERE id::text = $1`, id).Scan(&stagedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Workspace{}, ErrNotFound
		}
		return Workspace{}, fmt.Errorf("workspace: resolve staged id: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT 1 FROM staged_contracts WHERE id = $1 FOR UPDATE`, stagedID); err != nil {
		return Workspace{}, fmt.Errorf("workspace: lock staged row: %w", err)
	}

	query := `SELECT ` + headerColumns + `
		FROM workspaces w JOIN staged_contracts s ON s.id = w.staged_contract_id
		WHERE w.id::text = $1
		FOR UPDATE OF w`
	return r.load(ctx, tx, query, id)
}

func (r *PGRepository) load(ctx context.Context, q db.Querier, query, arg string) (Workspace, error) {
	w, err := scanHeader(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Workspace{}, ErrNotFound
		}
		return Workspace{}, fmt.Errorf("workspace: load: %w", err)
	}

	if w.LineItems, err = r.lineItems(ctx, q, w.ID); err != nil {
		return Workspace{}, err
	}
	if w.Splits, err = r.splits(ctx, q, w.ID); err != nil {
		return Workspace{}, err
	}
	return w, nil
}

func (r *PGRepository) lineItems(ctx context.Context, q db.Querier, workspaceID string) ([]LineItem, error) {
	rows, err := q.Query(ctx, `SELECT `+lineColumns+`
		FROM workspace_line_items WHERE workspace_id::text = $1 ORDER BY position, id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("workspace: query line items: %w", err)
	}
	defer rows.Close()

	items := []LineItem{}
	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, fmt.Errorf("workspace: scan line item: %w", err)
		}
		items = append(items, li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workspace: iterate line items: %w", err)
	}
	return items, nil
}

func (r *PGRepository) splits(ctx context.Context, q db.Querier, workspaceID string) ([]Split, error) {
	rows, err := q.Query(ctx, `SELECT id::text, company_name, split_value, split_paid, synthetic
		FROM workspace_splits WHERE workspace_id::text = $1 ORDER BY synthetic, created_at, id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("workspace: query splits: %w", err)
	}
	defer rows.Close()

	splits := []Split{}
	for rows.Next() {
		var s Split
		if err := rows.Scan(&s.ID, &s.CompanyName, &s.Value, &s.Paid, &s.Synthetic); err != nil {
			return nil, fmt.Errorf("workspace: scan split: %w", err)
		}
		splits = append(splits, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workspace: iterate splits: %w", err)
	}
	return splits, nil
}

// Save writes the header and replaces the line item and split sets with the
// ones on w.
func (r *PGRepository) Save(ctx context.Context, tx pgx.Tx, w Workspace) error {
	const query = `
		UPDATE workspaces
		SET contract_number = $2, buyer_text = $3, buyer_id = NULLIF($4, '')::uuid,
		    idiq_text = $5, idiq_id = NULLIF($6, '')::uuid,
		    award_date = $7, due_date = $8,
		    contract_value = $9, contract_value_override = $10,
		    plan_gross = $11, plan_gross_override = $12,
		    contract_type = $13, solicitation_type = $14, description = $15, sales_class = $16, nist = $17,
		    po_number = $18, tab_number = $19, status = $20, modified_by = $21, updated_at = now()
		WHERE id::text = $1
	`

	tag, err := tx.Exec(ctx, query,
		w.ID, w.ContractNumber, w.Buyer.Text, w.Buyer.ID(), w.IDIQ.Text, w.IDIQ.ID(),
		w.AwardDate, w.DueDate, w.ContractValue, w.ContractValueOverride, w.PlanGross, w.PlanGrossOverride,
		w.ContractType, w.SolicitationType, w.Description, w.SalesClass, w.NIST,
		w.PONumber, w.TabNumber, w.Status, w.ModifiedBy,
	)
	if err != nil {
		return fmt.Errorf("workspace: update header: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return r.saveChildren(ctx, tx, w)
}

func (r *PGRepository) saveChildren(ctx context.Context, tx pgx.Tx, w Workspace) error {
	lineIDs := make([]string, 0, len(w.LineItems))
	for _, li := range w.LineItems {
		lineIDs = append(lineIDs, li.ID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM workspace_line_items WHERE workspace_id::text = $1 AND NOT (id::text = ANY($2))`, w.ID, lineIDs); err != nil {
		return fmt.Errorf("workspace: prune line items: %w", err)
	}

	const upsertLine = `
		INSERT INTO workspace_line_items (id, workspace_id, position, item_number, item_type,
			nsn_text, nsn_id, nsn_description, supplier_text, supplier_id,
			ia, fob, uom, description,
			order_qty, unit_price, item_value, price_per_unit, quote_value,
			due_date, supplier_due_date, supplier_unit_price, supplier_price, supplier_payment_terms)
		VALUES ($1, $2, $3, $4, $5,
			$6, NULLIF($7, '')::uuid, $8, $9, NULLIF($10, '')::uuid,
			$11, $12, $13, $14,
			$15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24)
		ON CONFLICT (id) DO UPDATE SET
			position = EXCLUDED.position, item_number = EXCLUDED.item_number, item_type = EXCLUDED.item_type,
			nsn_text = EXCLUDED.nsn_text, nsn_id = EXCLUDED.nsn_id, nsn_description = EXCLUDED.nsn_description,
			supplier_text = EXCLUDED.supplier_text, supplier_id = EXCLUDED.supplier_id,
			ia = EXCLUDED.ia, fob = EXCLUDED.fob, uom = EXCLUDED.uom, description = EXCLUDED.description,
			order_qty = EXCLUDED.order_qty, unit_price = EXCLUDED.unit_price, item_value = EXCLUDED.item_value,
			price_per_unit = EXCLUDED.price_per_unit, quote_value = EXCLUDED.quote_value,
			due_date = EXCLUDED.due_date, supplier_due_date = EXCLUDED.supplier_due_date,
			supplier_unit_price = EXCLUDED.supplier_unit_price, supplier_price = EXCLUDED.supplier_price,
			supplier_payment_terms = EXCLUDED.supplier_payment_terms
	`
	for _, li := range w.LineItems {
		_, err := tx.Exec(ctx, upsertLine,
			li.ID, w.ID, li.Position, li.ItemNumber, li.ItemType,
			li.NSN.Text, li.NSN.ID(), li.NSNDescription, li.Supplier.Text, li.Supplier.ID(),
			li.IA, li.FOB, li.UOM, li.Description,
			li.OrderQty, li.UnitPrice, li.ItemValue, li.PricePerUnit, li.QuoteValue,
			li.DueDate, li.SupplierDueDate, li.SupplierUnitPrice, li.SupplierPrice, li.SupplierPaymentTerms,
		)
		if err != nil {
			return fmt.Errorf("workspace: upsert line item %s: %w", li.ID, err)
		}
	}

	splitIDs := make([]string, 0, len(w.Splits))
	for _, s := range w.Splits {
		splitIDs = append(splitIDs, s.ID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM workspace_splits WHERE workspace_id::text = $1 AND NOT (id::text = ANY($2))`, w.ID, splitIDs); err != nil {
		return fmt.Errorf("workspace: prune splits: %w", err)
	}

	const upsertSplit = `
		INSERT INTO workspace_splits (id, workspace_id, company_name, split_value, split_paid, synthetic)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			company_name = EXCLUDED.company_name, split_value = EXCLUDED.split_value,
			split_paid = EXCLUDED.split_paid, synthetic = EXCLUDED.synthetic
	`
	for _, s := range w.Splits {
		if _, err := tx.Exec(ctx, upsertSplit, s.ID, w.ID, s.CompanyName, s.Value, s.Paid, s.Synthetic); err != nil {
			return fmt.Errorf("workspace: upsert split %s: %w", s.ID, err)
		}
	}
	return nil
}

func (r *PGRepository) Delete(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM workspaces WHERE id::text = $1`, id)
	if err != nil {
		return fmt.Errorf("workspace: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByStaged removes the workspace of a staged contract, if any.
func (r *PGRepository) DeleteByStaged(ctx context.Context, tx pgx.Tx, stagedID string) (bool, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM workspaces WHERE staged_contract_id::text = $1`, stagedID)
	if err != nil {
		return false, fmt.Errorf("workspace: delete by staged: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RenewLease pushes the claim expiry of the source staged row forward.
func (r *PGRepository) RenewLease(ctx context.Context, tx pgx.Tx, stagedID string, until time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE staged_contracts SET claim_expires_at = $2, updated_at = now()
		WHERE id::text = $1 AND claimed_by IS NOT NULL`, stagedID, until)
	if err != nil {
		return fmt.Errorf("workspace: renew lease: %w", err)
	}
	return nil
}

func scanHeader(row pgx.Row) (Workspace, error) {
	var w Workspace
	err := row.Scan(
		&w.ID, &w.StagedContractID, &w.ContractNumber,
		&w.Buyer.Text, &w.Buyer.MatchedID, &w.IDIQ.Text, &w.IDIQ.MatchedID,
		&w.AwardDate, &w.DueDate,
		&w.ContractValue, &w.ContractValueOverride, &w.PlanGross, &w.PlanGrossOverride,
		&w.ContractType, &w.SolicitationType, &w.Description, &w.SalesClass, &w.NIST,
		&w.PONumber, &w.TabNumber, &w.Status,
		&w.ClaimedBy, &w.ClaimExpiresAt,
		&w.CreatedBy, &w.ModifiedBy, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return Workspace{}, err
	}
	return w, nil
}

func scanLineItem(row pgx.Row) (LineItem, error) {
	var li LineItem
	err := row.Scan(
		&li.ID, &li.Position, &li.ItemNumber, &li.ItemType,
		&li.NSN.Text, &li.NSN.MatchedID, &li.NSNDescription, &li.Supplier.Text, &li.Supplier.MatchedID,
		&li.IA, &li.FOB, &li.UOM, &li.Description,
		&li.OrderQty, &li.UnitPrice, &li.ItemValue, &li.PricePerUnit, &li.QuoteValue,
		&li.DueDate, &li.SupplierDueDate, &li.SupplierUnitPrice, &li.SupplierPrice, &li.SupplierPaymentTerms,
	)
	if err != nil {
		return LineItem{}, err
	}
	return li, nil
}
