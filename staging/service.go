// Package staging holds externally sourced contracts until an operator
// claims one for reconciliation.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"contractflow/contractnum"
	"contractflow/db"
	"contractflow/logger"
	"contractflow/observability"
	"contractflow/sequence"
	"contractflow/workspace"
)

var (
	ErrNotFound = errors.New("staging: contract not found")
	// ErrDuplicateContractNumber is contractnum.ErrDuplicate, re-exported for callers of this package.
	ErrDuplicateContractNumber = contractnum.ErrDuplicate
	ErrAlreadyClaimed          = errors.New("staging: contract is already claimed")
	ErrClaimed                 = errors.New("staging: contract is claimed")
	ErrContractNumberRequired  = errors.New("staging: contract number is required")
)

// ClaimConflictError reports who holds the claim.
type ClaimConflictError struct {
	Holder    string
	Since     time.Time
	ExpiresAt time.Time
}

func (e *ClaimConflictError) Error() string {
	return fmt.Sprintf("staging: contract is already being processed by %s since %s",
		e.Holder, e.Since.Format(time.RFC3339))
}

func (e *ClaimConflictError) Unwrap() error { return ErrAlreadyClaimed }

type Pool interface {
	db.TxBeginner
	db.Querier
}

type Service struct {
	pool       Pool
	repo       Repository
	workspaces *workspace.Service
	numbers    *sequence.Allocator
	lease      time.Duration
	maxRows    int
	now        func() time.Time
	log        *logger.Logger
	tracer     trace.Tracer
}

func NewService(pool Pool, repo Repository, workspaces *workspace.Service, numbers *sequence.Allocator) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:       pool,
		repo:       repo,
		workspaces: workspaces,
		numbers:    numbers,
		lease:      8 * time.Hour,
		maxRows:    5000,
		now:        time.Now,
		log:        logger.Nop(),
		tracer:     observability.Tracer("staging"),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithLease sets how long a claim lasts without activity.
func (s *Service) WithLease(d time.Duration) *Service {
	if d > 0 {
		s.lease = d
	}
	return s
}

// WithMaxRows caps the data rows accepted by one import.
func (s *Service) WithMaxRows(n int) *Service {
	if n > 0 {
		s.maxRows = n
	}
	return s
}

func (s *Service) WithLogger(l *logger.Logger) *Service {
	if l != nil {
		s.log = l
	}
	return s
}

func (s *Service) Get(ctx context.Context, id string) (Contract, error) {
	return s.repo.Get(ctx, s.pool, id)
}

func (s *Service) List(ctx context.Context, filters Filters) (ListResult, error) {
	items, total, err := s.repo.List(ctx, s.pool, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

// Create stages one manually entered contract.
func (s *Service) Create(ctx context.Context, actor string, c Contract) (Contract, error) {
	c.ContractNumber = contractnum.Normalize(c.ContractNumber)
	if c.ContractNumber == "" {
		return Contract{}, ErrContractNumberRequired
	}
	c.Source = SourceManual
	c.CreatedBy = actor
	if c.SolicitationType == "" {
		c.SolicitationType = "SDVOSB"
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contract{}, fmt.Errorf("staging: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.insert(ctx, tx, c)
	if err != nil {
		return Contract{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Contract{}, fmt.Errorf("staging: commit: %w", err)
	}

	s.log.Info("staged contract created", "staged_id", created.ID, "contract_number", created.ContractNumber, "operator", actor)
	return created, nil
}

func (s *Service) insert(ctx context.Context, tx pgx.Tx, c Contract) (Contract, error) {
	if err := contractnum.LockAndCheck(ctx, tx, c.ContractNumber, ""); err != nil {
		return Contract{}, err
	}
	return s.repo.Insert(ctx, tx, c)
}

// ImportCSV stages every contract in a CSV file, or none of them.
func (s *Service) ImportCSV(ctx context.Context, actor string, r io.Reader) (ImportResult, error) {
	rows, err := readCSV(r, s.maxRows)
	if err != nil {
		return ImportResult{}, err
	}
	return s.importRows(ctx, actor, SourceCSV, rows)
}

// ImportXLSX stages the contracts on the first worksheet of a workbook,
// under the same rules as ImportCSV.
func (s *Service) ImportXLSX(ctx context.Context, actor string, r io.Reader) (ImportResult, error) {
	rows, err := readXLSX(r, s.maxRows)
	if err != nil {
		return ImportResult{}, err
	}
	return s.importRows(ctx, actor, SourceXLSX, rows)
}

func (s *Service) importRows(ctx context.Context, actor string, source Source, rows []sheetRow) (ImportResult, error) {
	ctx, span := s.tracer.Start(ctx, "staging.import", trace.WithAttributes(
		attribute.String("source", string(source)),
		attribute.Int("rows", len(rows)),
	))
	defer span.End()

	result, err := s.doImport(ctx, actor, source, rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn("import rejected", "source", source, "operator", actor, "error", err)
		return ImportResult{}, err
	}
	s.log.Info("import committed", "source", source, "operator", actor,
		"contracts", len(result.ContractIDs), "line_items", result.LineItems)
	return result, nil
}

func (s *Service) doImport(ctx context.Context, actor string, source Source, rows []sheetRow) (ImportResult, error) {
	contracts, err := parseRows(rows, source, actor)
	if err != nil {
		return ImportResult{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ImportResult{}, fmt.Errorf("staging: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var result ImportResult
	for _, c := range contracts {
		if c.SolicitationType == "" {
			c.SolicitationType = "SDVOSB"
		}
		created, err := s.insert(ctx, tx, c)
		if err != nil {
			return ImportResult{}, err
		}
		result.ContractIDs = append(result.ContractIDs, created.ID)
		result.LineItems += len(created.LineItems)
	}

	if err := tx.Commit(ctx); err != nil {
		return ImportResult{}, fmt.Errorf("staging: commit: %w", err)
	}
	return result, nil
}

// Claim gives actor exclusive hold of a staged contract and creates its
// workspace in the same transaction. Re-claiming one's own contract returns
// the existing workspace; a lapsed claim of another operator is taken over.
func (s *Service) Claim(ctx context.Context, stagedID, actor string) (workspace.Workspace, error) {
	ctx, span := s.tracer.Start(ctx, "staging.claim", trace.WithAttributes(
		attribute.String("staged.id", stagedID),
	))
	defer span.End()

	w, err := s.claim(ctx, stagedID, actor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return workspace.Workspace{}, err
	}
	span.SetAttributes(attribute.String("workspace.id", w.ID))
	return w, nil
}

func (s *Service) claim(ctx context.Context, stagedID, actor string) (workspace.Workspace, error) {
	if strings.TrimSpace(actor) == "" {
		return workspace.Workspace{}, workspace.ErrNotClaimant
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return workspace.Workspace{}, fmt.Errorf("staging: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	staged, err := s.repo.GetForUpdate(ctx, tx, stagedID)
	if err != nil {
		return workspace.Workspace{}, err
	}

	now := s.now()
	wsRepo := s.workspaces.Repo()

	if c := staged.Claim; c != nil {
		switch {
		case c.By == actor:
			existing, err := wsRepo.GetByStaged(ctx, tx, stagedID)
			if err == nil {
				return s.renew(ctx, tx, existing, *c, now)
			}
			if !errors.Is(err, workspace.ErrNotFound) {
				return workspace.Workspace{}, err
			}
		case !c.Expired(now):
			return workspace.Workspace{}, &ClaimConflictError{Holder: c.By, Since: c.At, ExpiresAt: c.ExpiresAt}
		default:
			if _, err := wsRepo.DeleteByStaged(ctx, tx, stagedID); err != nil {
				return workspace.Workspace{}, err
			}
			s.log.Warn("lapsed claim taken over", "staged_id", stagedID, "previous", c.By, "operator", actor)
		}
	}

	claim := Claim{By: actor, At: now, ExpiresAt: now.Add(s.lease)}
	if err := s.repo.SetClaim(ctx, tx, stagedID, claim); err != nil {
		return workspace.Workspace{}, err
	}

	numbers, err := s.numbers.PeekTx(ctx, tx)
	if err != nil {
		return workspace.Workspace{}, err
	}

	w := s.workspaces.Build(newWorkspaceParams(staged, numbers, actor))
	w.ClaimExpiresAt = &claim.ExpiresAt
	if err := wsRepo.Insert(ctx, tx, w); err != nil {
		return workspace.Workspace{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return workspace.Workspace{}, fmt.Errorf("staging: commit: %w", err)
	}

	s.log.Info("staged contract claimed", "staged_id", stagedID, "workspace_id", w.ID, "operator", actor)
	return w, nil
}

// renew extends the holder's lease and returns its existing workspace.
func (s *Service) renew(ctx context.Context, tx pgx.Tx, w workspace.Workspace, c Claim, now time.Time) (workspace.Workspace, error) {
	c.ExpiresAt = now.Add(s.lease)
	if err := s.repo.SetClaim(ctx, tx, w.StagedContractID, c); err != nil {
		return workspace.Workspace{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return workspace.Workspace{}, fmt.Errorf("staging: commit: %w", err)
	}
	w.ClaimExpiresAt = &c.ExpiresAt
	return w, nil
}

func newWorkspaceParams(c Contract, numbers sequence.Numbers, actor string) workspace.NewParams {
	p := workspace.NewParams{
		StagedContractID: c.ID,
		ContractNumber:   c.ContractNumber,
		BuyerText:        c.BuyerText,
		AwardDate:        c.AwardDate,
		DueDate:          c.DueDate,
		ContractValue:    c.ContractValue,
		ContractType:     c.ContractType,
		SolicitationType: c.SolicitationType,
		Description:      c.Description,
		PONumber:         numbers.PO,
		TabNumber:        numbers.Tab,
		CreatedBy:        actor,
	}
	for _, li := range c.LineItems {
		p.LineItems = append(p.LineItems, workspace.NewLineItem{
			ItemNumber:           li.ItemNumber,
			ItemType:             li.ItemType,
			NSNText:              li.NSNText,
			NSNDescription:       li.NSNDescription,
			IA:                   li.IA,
			FOB:                  li.FOB,
			DueDate:              li.DueDate,
			OrderQty:             li.OrderQty,
			UOM:                  li.UOM,
			ItemValue:            li.ItemValue,
			UnitPrice:            li.UnitPrice,
			SupplierText:         li.SupplierText,
			SupplierDueDate:      li.SupplierDueDate,
			SupplierUnitPrice:    li.SupplierUnitPrice,
			SupplierPrice:        li.SupplierPrice,
			SupplierPaymentTerms: li.SupplierPaymentTerms,
		})
	}
	return p
}

// Release clears the claim on a staged contract and discards its workspace.
func (s *Service) Release(ctx context.Context, stagedID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("staging: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	staged, err := s.repo.GetForUpdate(ctx, tx, stagedID)
	if err != nil {
		return err
	}
	if err := s.release(ctx, tx, stagedID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("staging: commit: %w", err)
	}

	if staged.Claim != nil {
		s.log.Info("claim released", "staged_id", stagedID, "previous", staged.Claim.By)
	}
	return nil
}

func (s *Service) release(ctx context.Context, tx pgx.Tx, stagedID string) error {
	if _, err := s.workspaces.Repo().DeleteByStaged(ctx, tx, stagedID); err != nil {
		return err
	}
	return s.repo.ClearClaim(ctx, tx, stagedID)
}

// Cancel ends a workspace without finalizing it. The workspace is deleted
// and the staged contract stays in the queue, unclaimed.
func (s *Service) Cancel(ctx context.Context, workspaceID, actor string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("staging: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := s.workspaces.Lock(ctx, tx, workspaceID, actor)
	if err != nil {
		return err
	}
	if !workspace.CanTransition(w.Status, workspace.StatusCancelled) {
		return fmt.Errorf("%w: %s -> %s", workspace.ErrInvalidTransition, w.Status, workspace.StatusCancelled)
	}
	if err := s.release(ctx, tx, w.StagedContractID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("staging: commit: %w", err)
	}

	s.log.Info("workspace cancelled", "workspace_id", workspaceID, "staged_id", w.StagedContractID, "operator", actor)
	return nil
}

// ReleaseExpiredClaims clears every claim whose lease has lapsed, along with
// its workspace, and returns how many were released. Rows locked by a
// concurrent claim or edit are skipped until the next run.
func (s *Service) ReleaseExpiredClaims(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("staging: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	expired, err := s.repo.LockExpiredClaims(ctx, tx, s.now(), 500)
	if err != nil {
		return 0, err
	}
	for _, c := range expired {
		if err := s.release(ctx, tx, c.ID); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("staging: commit: %w", err)
	}

	for _, c := range expired {
		s.log.Info("lapsed claim released", "staged_id", c.ID, "previous", c.Claim.By)
	}
	return len(expired), nil
}

// Delete removes an unclaimed staged contract.
func (s *Service) Delete(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("staging: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if c.Claim != nil {
		return fmt.Errorf("%w by %s", ErrClaimed, c.Claim.By)
	}
	if err := s.repo.Delete(ctx, tx, id); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("staging: commit: %w", err)
	}
	return nil
}
