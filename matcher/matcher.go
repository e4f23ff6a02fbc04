// Package matcher resolves free-text workspace fields to canonical master
// data records.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"contractflow/db"
	"contractflow/logger"
	"contractflow/masterdata"
	"contractflow/observability"
	"contractflow/workspace"
)

var (
	// ErrTargetMismatch is returned when a kind is applied to the wrong
	// target: buyer and idiq belong to the workspace, nsn and supplier to a
	// line item.
	ErrTargetMismatch = errors.New("matcher: kind does not apply to target")
	ErrEmptyQuery     = errors.New("matcher: query is required")
)

const (
	DefaultLimit = 20
	// fetchLimit bounds the candidate pool handed to the ranker.
	fetchLimit = 200
)

// Target addresses the field being matched. LineItemID is empty for
// workspace-level kinds.
type Target struct {
	WorkspaceID string
	LineItemID  string
}

// Candidate is one search hit.
type Candidate struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	CageCode    string `json:"cageCode,omitempty"`
}

// Match is the outcome of ApplyMatch or CreateAndMatch.
type Match struct {
	Record    masterdata.Record
	Created   bool
	Workspace workspace.Workspace
}

type Pool interface {
	db.TxBeginner
	db.Querier
}

type Matcher struct {
	pool       Pool
	master     *masterdata.Repository
	workspaces *workspace.Service
	limit      int
	log        *logger.Logger
	tracer     trace.Tracer
}

func New(pool Pool, workspaces *workspace.Service) *Matcher {
	return &Matcher{
		pool:       pool,
		master:     masterdata.NewRepository(),
		workspaces: workspaces,
		limit:      DefaultLimit,
		log:        logger.Nop(),
		tracer:     observability.Tracer("matcher"),
	}
}

// WithLimit sets the default number of candidates returned by Search.
func (m *Matcher) WithLimit(n int) *Matcher {
	if n > 0 {
		m.limit = n
	}
	return m
}

func (m *Matcher) WithLogger(l *logger.Logger) *Matcher {
	if l != nil {
		m.log = l
	}
	return m
}

// Search returns up to limit candidates of kind whose searchable text
// contains query, best first.
func (m *Matcher) Search(ctx context.Context, kind masterdata.Kind, query string, limit int) ([]Candidate, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = m.limit
	}

	records, err := m.master.Search(ctx, m.pool, kind, query, fetchLimit)
	if err != nil {
		return nil, err
	}
	records = rank(records, query)
	if len(records) > limit {
		records = records[:limit]
	}

	out := make([]Candidate, 0, len(records))
	for _, rec := range records {
		out = append(out, Candidate{ID: rec.ID, Label: rec.Label(), Description: rec.Description, CageCode: rec.CageCode})
	}
	return out, nil
}

// ApplyMatch binds the target field to an existing canonical record.
func (m *Matcher) ApplyMatch(ctx context.Context, target Target, kind masterdata.Kind, candidateID, actor string) (Match, error) {
	ctx, span := m.tracer.Start(ctx, "match.apply", trace.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("workspace.id", target.WorkspaceID),
	))
	defer span.End()

	if err := checkTarget(kind, target); err != nil {
		return Match{}, err
	}

	match, err := m.inTx(ctx, func(tx pgx.Tx) (Match, error) {
		rec, err := m.master.Get(ctx, tx, kind, candidateID)
		if err != nil {
			return Match{}, err
		}
		w, err := m.workspaces.Edit(ctx, tx, target.WorkspaceID, actor, func(w *workspace.Workspace) error {
			return assign(w, target, rec)
		})
		if err != nil {
			return Match{}, err
		}
		return Match{Record: rec, Workspace: w}, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Match{}, err
	}

	m.log.Info("match applied", "workspace_id", target.WorkspaceID, "line_item_id", target.LineItemID,
		"kind", kind, "canonical_id", match.Record.ID, "operator", actor)
	return match, nil
}

// CreateAndMatch finds or creates the canonical record for rec's natural key
// and binds the target to it, all in one transaction. Repeating the call
// with the same key reuses the record.
func (m *Matcher) CreateAndMatch(ctx context.Context, target Target, kind masterdata.Kind, rec masterdata.NewRecord, actor string) (Match, error) {
	ctx, span := m.tracer.Start(ctx, "match.create", trace.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("workspace.id", target.WorkspaceID),
	))
	defer span.End()

	if err := checkTarget(kind, target); err != nil {
		return Match{}, err
	}
	key := strings.TrimSpace(rec.Key)
	if key == "" {
		return Match{}, masterdata.ErrEmptyKey
	}
	rec.CreatedBy = actor

	match, err := m.inTx(ctx, func(tx pgx.Tx) (Match, error) {
		if err := db.LockKey(ctx, tx, "masterdata:"+string(kind), strings.ToLower(key)); err != nil {
			return Match{}, err
		}

		id, created, err := m.findOrInsert(ctx, tx, kind, rec)
		if err != nil {
			return Match{}, err
		}
		canonical, err := m.master.Get(ctx, tx, kind, id)
		if err != nil {
			return Match{}, err
		}

		w, err := m.workspaces.Edit(ctx, tx, target.WorkspaceID, actor, func(w *workspace.Workspace) error {
			return assign(w, target, canonical)
		})
		if err != nil {
			return Match{}, err
		}
		return Match{Record: canonical, Created: created, Workspace: w}, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Match{}, err
	}

	span.SetAttributes(attribute.Bool("created", match.Created))
	m.log.Info("match created", "workspace_id", target.WorkspaceID, "kind", kind,
		"canonical_id", match.Record.ID, "created", match.Created, "operator", actor)
	return match, nil
}

func (m *Matcher) findOrInsert(ctx context.Context, tx pgx.Tx, kind masterdata.Kind, rec masterdata.NewRecord) (string, bool, error) {
	if kind == masterdata.KindSupplier && strings.TrimSpace(rec.CageCode) != "" {
		id, ok, err := m.master.FindSupplierByCage(ctx, tx, rec.CageCode)
		if err != nil || ok {
			return id, false, err
		}
	}

	id, ok, err := m.master.FindByNaturalKey(ctx, tx, kind, rec.Key)
	if err != nil || ok {
		return id, false, err
	}

	id, err = m.master.Insert(ctx, tx, kind, rec)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (m *Matcher) inTx(ctx context.Context, fn func(tx pgx.Tx) (Match, error)) (Match, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return Match{}, fmt.Errorf("matcher: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	match, err := fn(tx)
	if err != nil {
		return Match{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Match{}, fmt.Errorf("matcher: commit: %w", err)
	}
	return match, nil
}

func lineLevel(kind masterdata.Kind) bool {
	return kind == masterdata.KindNSN || kind == masterdata.KindSupplier
}

func checkTarget(kind masterdata.Kind, target Target) error {
	if _, err := masterdata.ParseKind(string(kind)); err != nil {
		return err
	}
	if lineLevel(kind) != (target.LineItemID != "") {
		return fmt.Errorf("%w: %s", ErrTargetMismatch, kind)
	}
	return nil
}

// assign writes the text and id halves of the reference together.
func assign(w *workspace.Workspace, target Target, rec masterdata.Record) error {
	ref := masterdata.Matched(rec.Label(), rec.ID)
	switch rec.Kind {
	case masterdata.KindBuyer:
		w.Buyer = ref
	case masterdata.KindIDIQ:
		w.IDIQ = ref
	case masterdata.KindNSN, masterdata.KindSupplier:
		li := w.LineItem(target.LineItemID)
		if li == nil {
			return workspace.ErrLineItemNotFound
		}
		if rec.Kind == masterdata.KindNSN {
			li.NSN = ref
			if rec.Description != "" {
				li.NSNDescription = rec.Description
			}
		} else {
			li.Supplier = ref
		}
	default:
		return fmt.Errorf("%w: %q", masterdata.ErrUnknownKind, rec.Kind)
	}
	return nil
}
