package staging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"contractflow/db"
	"contractflow/masterdata"
)

type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, c Contract) (Contract, error)
	Get(ctx context.Context, q db.Querier, id string) (Contract, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Contract, error)
	List(ctx context.Context, q db.Querier, filters Filters) ([]Contract, int, error)
	SetClaim(ctx context.Context, tx pgx.Tx, id string, claim Claim) error
	ClearClaim(ctx context.Context, tx pgx.Tx, id string) error
	Delete(ctx context.Context, tx pgx.Tx, id string) error
	// LockExpiredClaims locks up to limit rows whose lease lapsed before now,
	// skipping rows other transactions hold.
	LockExpiredClaims(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]Contract, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const headerColumns = `
	id::text, contract_number, buyer_text, award_date, due_date, contract_value,
	contract_type, solicitation_type, description, source,
	claimed_by, claimed_at, claim_expires_at,
	created_by, created_at, updated_at`

const lineColumns = `
	id::text, position, item_number, item_type, nsn_text, nsn_description, ia, fob,
	due_date, order_qty, uom, item_value, unit_price, supplier_text, supplier_due_date,
	supplier_unit_price, supplier_price, supplier_payment_terms`

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, c Contract) (Contract, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO staged_contracts (
			contract_number, buyer_text, award_date, due_date, contract_value,
			contract_type, solicitation_type, description, source, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+headerColumns,
		c.ContractNumber, c.BuyerText, c.AwardDate, c.DueDate, c.ContractValue,
		c.ContractType, c.SolicitationType, c.Description, string(c.Source), c.CreatedBy,
	)
	created, err := scanContract(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Contract{}, fmt.Errorf("%w: %q", ErrDuplicateContractNumber, c.ContractNumber)
		}
		return Contract{}, fmt.Errorf("staging: insert contract: %w", err)
	}

	for i, li := range c.LineItems {
		li.Position = i + 1
		row := tx.QueryRow(ctx, `
			INSERT INTO staged_line_items (
				staged_contract_id, position, item_number, item_type, nsn_text, nsn_description,
				ia, fob, due_date, order_qty, uom, item_value, unit_price, supplier_text,
				supplier_due_date, supplier_unit_price, supplier_price, supplier_payment_terms
			) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			RETURNING `+lineColumns,
			created.ID, li.Position, li.ItemNumber, li.ItemType, li.NSNText, li.NSNDescription,
			li.IA, li.FOB, li.DueDate, li.OrderQty, li.UOM, li.ItemValue, li.UnitPrice, li.SupplierText,
			li.SupplierDueDate, li.SupplierUnitPrice, li.SupplierPrice, li.SupplierPaymentTerms,
		)
		saved, err := scanLineItem(row)
		if err != nil {
			return Contract{}, fmt.Errorf("staging: insert line item %d: %w", li.Position, err)
		}
		created.LineItems = append(created.LineItems, saved)
	}
	created.LineCount = len(created.LineItems)
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, id string) (Contract, error) {
	return r.load(ctx, q, `SELECT `+headerColumns+` FROM staged_contracts WHERE id::text = $1`, id)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Contract, error) {
	return r.load(ctx, tx, `SELECT `+headerColumns+` FROM staged_contracts WHERE id::text = $1 FOR UPDATE`, id)
}

func (r *PGRepository) load(ctx context.Context, q db.Querier, query, id string) (Contract, error) {
	c, err := scanContract(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contract{}, ErrNotFound
		}
		return Contract{}, fmt.Errorf("staging: get: %w", err)
	}

	rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM staged_line_items WHERE staged_contract_id::text = $1 ORDER BY position`, id)
	if err != nil {
		return Contract{}, fmt.Errorf("staging: query line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return Contract{}, fmt.Errorf("staging: scan line item: %w", err)
		}
		c.LineItems = append(c.LineItems, li)
	}
	if err := rows.Err(); err != nil {
		return Contract{}, fmt.Errorf("staging: iterate line items: %w", err)
	}
	c.LineCount = len(c.LineItems)
	return c, nil
}

func (r *PGRepository) List(ctx context.Context, q db.Querier, filters Filters) ([]Contract, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}
	if filters.SortOrder == "" {
		filters.SortOrder = "desc"
	}

	where := []string{"1=1"}
	args := []any{}

	if filters.Claimed != nil {
		if *filters.Claimed {
			where = append(where, "claimed_by IS NOT NULL")
		} else {
			where = append(where, "claimed_by IS NULL")
		}
	}
	if filters.ClaimedBy != "" {
		where = append(where, fmt.Sprintf("claimed_by = $%d", len(args)+1))
		args = append(args, filters.ClaimedBy)
	}
	if s := strings.TrimSpace(filters.Search); s != "" {
		where = append(where, fmt.Sprintf(`(contract_number ILIKE '%%' || $%d || '%%' ESCAPE '\' OR buyer_text ILIKE '%%' || $%d || '%%' ESCAPE '\')`, len(args)+1, len(args)+1))
		args = append(args, masterdata.EscapeLike(s))
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	sortOrder := strings.ToUpper(filters.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}
	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`
		SELECT %s, (SELECT count(*) FROM staged_line_items li WHERE li.staged_contract_id = sc.id)
		FROM staged_contracts sc%s ORDER BY %s %s, id LIMIT %d OFFSET %d`,
		headerColumns, whereClause, mapSortKey(filters.SortKey), sortOrder, limit, offset)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("staging: query list: %w", err)
	}
	defer rows.Close()

	list := []Contract{}
	for rows.Next() {
		c, err := scanListRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("staging: scan list: %w", err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("staging: iterate list: %w", err)
	}

	var total int
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM staged_contracts sc"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("staging: count list: %w", err)
	}
	return list, total, nil
}

func (r *PGRepository) SetClaim(ctx context.Context, tx pgx.Tx, id string, claim Claim) error {
	tag, err := tx.Exec(ctx, `
		UPDATE staged_contracts
		SET claimed_by = $2, claimed_at = $3, claim_expires_at = $4, updated_at = now()
		WHERE id::text = $1`, id, claim.By, claim.At, claim.ExpiresAt)
	if err != nil {
		return fmt.Errorf("staging: set claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) ClearClaim(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE staged_contracts
		SET claimed_by = NULL, claimed_at = NULL, claim_expires_at = NULL, updated_at = now()
		WHERE id::text = $1`, id)
	if err != nil {
		return fmt.Errorf("staging: clear claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) Delete(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM staged_contracts WHERE id::text = $1`, id)
	if err != nil {
		return fmt.Errorf("staging: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) LockExpiredClaims(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]Contract, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := tx.Query(ctx, `
		SELECT `+headerColumns+`
		FROM staged_contracts
		WHERE claimed_by IS NOT NULL AND claim_expires_at <= $1
		ORDER BY claim_expires_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("staging: query expired claims: %w", err)
	}
	defer rows.Close()

	var out []Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("staging: scan expired claim: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("staging: iterate expired claims: %w", err)
	}
	return out, nil
}

type claimColumns struct {
	by        *string
	at        *time.Time
	expiresAt *time.Time
}

func (cc claimColumns) claim() *Claim {
	if cc.by == nil || cc.at == nil || cc.expiresAt == nil {
		return nil
	}
	return &Claim{By: *cc.by, At: *cc.at, ExpiresAt: *cc.expiresAt}
}

func contractTargets(c *Contract, cc *claimColumns, source *string) []any {
	return []any{
		&c.ID, &c.ContractNumber, &c.BuyerText, &c.AwardDate, &c.DueDate, &c.ContractValue,
		&c.ContractType, &c.SolicitationType, &c.Description, source,
		&cc.by, &cc.at, &cc.expiresAt,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	}
}

func scanContract(row pgx.Row) (Contract, error) {
	var (
		c      Contract
		cc     claimColumns
		source string
	)
	if err := row.Scan(contractTargets(&c, &cc, &source)...); err != nil {
		return Contract{}, err
	}
	c.Source = Source(source)
	c.Claim = cc.claim()
	return c, nil
}

func scanListRow(row pgx.Row) (Contract, error) {
	var (
		c      Contract
		cc     claimColumns
		source string
	)
	targets := append(contractTargets(&c, &cc, &source), &c.LineCount)
	if err := row.Scan(targets...); err != nil {
		return Contract{}, err
	}
	c.Source = Source(source)
	c.Claim = cc.claim()
	return c, nil
}

func scanLineItem(row pgx.Row) (LineItem, error) {
	var li LineItem
	err := row.Scan(
		&li.ID, &li.Position, &li.ItemNumber, &li.ItemType, &li.NSNText, &li.NSNDescription, &li.IA, &li.FOB,
		&li.DueDate, &li.OrderQty, &li.UOM, &li.ItemValue, &li.UnitPrice, &li.SupplierText, &li.SupplierDueDate,
		&li.SupplierUnitPrice, &li.SupplierPrice, &li.SupplierPaymentTerms,
	)
	if err != nil {
		return LineItem{}, err
	}
	return li, nil
}

func mapSortKey(key string) string {
	switch key {
	case "contractNumber":
		return "contract_number"
	case "awardDate":
		return "award_date"
	case "dueDate":
		return "due_date"
	case "updatedAt":
		return "updated_at"
	case "createdAt":
		fallthrough
	default:
		return "created_at"
	}
}
