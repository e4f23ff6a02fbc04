package masterdata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"contractflow/db"
)

var (
	ErrUnknownKind = errors.New("masterdata: unknown kind")
	// ErrUnknownCanonicalReference signals an id that does not resolve to a canonical record.
	ErrUnknownCanonicalReference = errors.New("masterdata: unknown canonical reference")
	ErrDuplicateNaturalKey       = errors.New("masterdata: natural key already exists")
	ErrEmptyKey                  = errors.New("masterdata: natural key is required")
)

type table struct {
	name   string
	key    string
	selec  string
	search []string
}

var tables = map[Kind]table{
	KindBuyer: {
		name:   "buyers",
		key:    "name",
		selec:  `SELECT id::text, name, '', '' FROM buyers`,
		search: []string{"name"},
	},
	KindNSN: {
		name:   "nsns",
		key:    "code",
		selec:  `SELECT id::text, code, description, '' FROM nsns`,
		search: []string{"code", "description"},
	},
	KindSupplier: {
		name:   "suppliers",
		key:    "name",
		selec:  `SELECT id::text, name, '', COALESCE(cage_code, '') FROM suppliers`,
		search: []string{"name", "cage_code"},
	},
	KindIDIQ: {
		name:   "idiq_contracts",
		key:    "contract_number",
		selec:  `SELECT id::text, contract_number, '', '' FROM idiq_contracts`,
		search: []string{"contract_number"},
	},
}

func tableFor(kind Kind) (table, error) {
	t, ok := tables[kind]
	if !ok {
		return table{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return t, nil
}

// Repository reads and inserts canonical records. Every method takes the
// querier to run on so callers can stay inside their transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Get loads one record by id.
func (r *Repository) Get(ctx context.Context, q db.Querier, kind Kind, id string) (Record, error) {
	t, err := tableFor(kind)
	if err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(id) == "" {
		return Record{}, ErrUnknownCanonicalReference
	}

	rec, err := scanRecord(kind, q.QueryRow(ctx, t.selec+` WHERE id::text = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("%w: %s %s", ErrUnknownCanonicalReference, kind, id)
		}
		return Record{}, fmt.Errorf("masterdata: get %s: %w", kind, err)
	}
	return rec, nil
}

// FindByNaturalKey returns the id of the record whose key matches
// case-insensitively, or ok=false.
func (r *Repository) FindByNaturalKey(ctx context.Context, q db.Querier, kind Kind, key string) (string, bool, error) {
	t, err := tableFor(kind)
	if err != nil {
		return "", false, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, ErrEmptyKey
	}

	query := fmt.Sprintf(`SELECT id::text FROM %s WHERE lower(%s) = lower($1)`, t.name, t.key)
	return findID(ctx, q, query, key, kind)
}

// FindSupplierByCage looks a supplier up by CAGE code.
func (r *Repository) FindSupplierByCage(ctx context.Context, q db.Querier, cage string) (string, bool, error) {
	cage = strings.TrimSpace(cage)
	if cage == "" {
		return "", false, nil
	}
	return findID(ctx, q, `SELECT id::text FROM suppliers WHERE upper(cage_code) = upper($1)`, cage, KindSupplier)
}

func findID(ctx context.Context, q db.Querier, query, arg string, kind Kind) (string, bool, error) {
	var id string
	err := q.QueryRow(ctx, query, arg).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("masterdata: find %s: %w", kind, err)
	}
	return id, true, nil
}

// Insert creates a canonical record and returns its id.
func (r *Repository) Insert(ctx context.Context, q db.Querier, kind Kind, rec NewRecord) (string, error) {
	rec = rec.normalized()
	if rec.Key == "" {
		return "", ErrEmptyKey
	}

	var (
		query string
		args  []any
	)
	switch kind {
	case KindBuyer:
		query = `INSERT INTO buyers (name, created_by) VALUES ($1, $2) RETURNING id::text`
		args = []any{rec.Key, rec.CreatedBy}
	case KindNSN:
		query = `INSERT INTO nsns (code, description, created_by) VALUES ($1, $2, $3) RETURNING id::text`
		args = []any{rec.Key, rec.Description, rec.CreatedBy}
	case KindSupplier:
		query = `INSERT INTO suppliers (name, cage_code, created_by) VALUES ($1, NULLIF($2, ''), $3) RETURNING id::text`
		args = []any{rec.Key, rec.CageCode, rec.CreatedBy}
	case KindIDIQ:
		query = `INSERT INTO idiq_contracts (contract_number, created_by) VALUES ($1, $2) RETURNING id::text`
		args = []any{rec.Key, rec.CreatedBy}
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	var id string
	if err := q.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		if db.IsUniqueViolation(err) {
			return "", fmt.Errorf("%w: %s %q", ErrDuplicateNaturalKey, kind, rec.Key)
		}
		return "", fmt.Errorf("masterdata: insert %s: %w", kind, err)
	}
	return id, nil
}

// Search returns up to limit records whose searchable columns contain text,
// case-insensitively. Exact key matches come first, then key prefixes, word
// prefixes and other key hits; finer ranking is left to the caller.
func (r *Repository) Search(ctx context.Context, q db.Querier, kind Kind, text string, limit int) ([]Record, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}

	conds := make([]string, 0, len(t.search))
	for _, col := range t.search {
		conds = append(conds, fmt.Sprintf(`%s ILIKE '%%' || $1 || '%%' ESCAPE '\'`, col))
	}
	// relevance is ordered before the limit so a large substring match set
	// cannot push out the exact and prefix hits
	order := fmt.Sprintf(`lower(%[1]s) = lower($2::text) DESC,
		%[1]s ILIKE $1 || '%%' ESCAPE '\' DESC,
		%[1]s ILIKE '%% ' || $1 || '%%' ESCAPE '\' DESC,
		%[1]s ILIKE '%%' || $1 || '%%' ESCAPE '\' DESC,
		%[1]s`, t.key)
	query := fmt.Sprintf(`%s WHERE %s ORDER BY %s LIMIT %d`, t.selec, strings.Join(conds, " OR "), order, limit)

	text = strings.TrimSpace(text)
	rows, err := q.Query(ctx, query, EscapeLike(text), text)
	if err != nil {
		return nil, fmt.Errorf("masterdata: search %s: %w", kind, err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(kind, rows)
		if err != nil {
			return nil, fmt.Errorf("masterdata: scan %s: %w", kind, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("masterdata: iterate %s: %w", kind, err)
	}
	return out, nil
}

// EscapeLike escapes LIKE wildcards so user text matches literally.
func EscapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func scanRecord(kind Kind, row pgx.Row) (Record, error) {
	rec := Record{Kind: kind}
	if err := row.Scan(&rec.ID, &rec.Key, &rec.Description, &rec.CageCode); err != nil {
		return Record{}, err
	}
	return rec, nil
}
