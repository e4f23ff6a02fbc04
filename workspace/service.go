package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"contractflow/contractnum"
	"contractflow/db"
	"contractflow/logger"
	"contractflow/masterdata"
	"contractflow/split"
)

var (
	// ErrNotClaimant rejects mutations from anyone but the operator holding the claim.
	ErrNotClaimant       = errors.New("workspace: operator does not hold the claim")
	ErrBuyerNotMatched   = errors.New("workspace: buyer must be matched first")
	ErrSyntheticSplit    = errors.New("workspace: the calculation difference split is maintained automatically")
	ErrCompanyRequired   = errors.New("workspace: company name is required")
	ErrReservedSplitName = errors.New("workspace: company name is reserved")
)

// Pool is the subset of *pgxpool.Pool the service needs.
type Pool interface {
	db.TxBeginner
	db.Querier
}

type Service struct {
	pool        Pool
	repo        Repository
	lease       time.Duration
	idGenerator func() string
	now         func() time.Time
	log         *logger.Logger
}

func NewService(pool Pool, repo Repository) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		lease:       8 * time.Hour,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
		log:         logger.Nop(),
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithLease sets how far each edit pushes the claim expiry.
func (s *Service) WithLease(d time.Duration) *Service {
	if d > 0 {
		s.lease = d
	}
	return s
}

func (s *Service) WithLogger(l *logger.Logger) *Service {
	if l != nil {
		s.log = l
	}
	return s
}

// Repo exposes the repository for callers composing their own transactions.
func (s *Service) Repo() Repository {
	return s.repo
}

// NewID returns a fresh row id.
func (s *Service) NewID() string {
	return s.idGenerator()
}

func (s *Service) Get(ctx context.Context, id string) (Workspace, error) {
	return s.repo.Get(ctx, s.pool, id)
}

func (s *Service) GetByStaged(ctx context.Context, stagedID string) (Workspace, error) {
	return s.repo.GetByStaged(ctx, s.pool, stagedID)
}

// Build assembles a draft workspace from claim-time parameters. Staged
// supplier pricing becomes the quote side of each line; a source-supplied
// contract value is kept as an override.
func (s *Service) Build(p NewParams) Workspace {
	now := s.now()
	w := Workspace{
		ID:                    s.idGenerator(),
		StagedContractID:      p.StagedContractID,
		ContractNumber:        contractnum.Normalize(p.ContractNumber),
		Buyer:                 masterdata.Unmatched(p.BuyerText),
		AwardDate:             p.AwardDate,
		DueDate:               p.DueDate,
		ContractValue:         p.ContractValue,
		ContractValueOverride: p.ContractValue.Valid,
		ContractType:          p.ContractType,
		SolicitationType:      p.SolicitationType,
		Description:           p.Description,
		PONumber:              &p.PONumber,
		TabNumber:             &p.TabNumber,
		Status:                StatusDraft,
		ClaimedBy:             p.CreatedBy,
		CreatedBy:             p.CreatedBy,
		ModifiedBy:            p.CreatedBy,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if w.SolicitationType == "" {
		w.SolicitationType = "SDVOSB"
	}

	for i, li := range p.LineItems {
		w.LineItems = append(w.LineItems, LineItem{
			ID:                   s.idGenerator(),
			Position:             i + 1,
			ItemNumber:           li.ItemNumber,
			ItemType:             li.ItemType,
			NSN:                  masterdata.Unmatched(li.NSNText),
			NSNDescription:       li.NSNDescription,
			Supplier:             masterdata.Unmatched(li.SupplierText),
			IA:                   li.IA,
			FOB:                  li.FOB,
			UOM:                  li.UOM,
			OrderQty:             li.OrderQty,
			UnitPrice:            li.UnitPrice,
			ItemValue:            li.ItemValue,
			PricePerUnit:         li.SupplierUnitPrice,
			QuoteValue:           li.SupplierPrice,
			DueDate:              li.DueDate,
			SupplierDueDate:      li.SupplierDueDate,
			SupplierUnitPrice:    li.SupplierUnitPrice,
			SupplierPrice:        li.SupplierPrice,
			SupplierPaymentTerms: li.SupplierPaymentTerms,
		})
	}
	if len(w.LineItems) == 0 {
		w.LineItems = append(w.LineItems, LineItem{ID: s.idGenerator(), Position: 1, ItemNumber: "0001"})
	}

	Recompute(&w, s.idGenerator)
	return w
}

// Edit runs fn against the locked workspace inside tx, then re-derives
// totals and splits, advances the status out of draft or ready_for_review,
// persists the result and renews the claim lease.
func (s *Service) Edit(ctx context.Context, tx pgx.Tx, id, actor string, fn func(*Workspace) error) (Workspace, error) {
	return s.mutate(ctx, tx, id, actor, true, fn)
}

func (s *Service) mutate(ctx context.Context, tx pgx.Tx, id, actor string, touch bool, fn func(*Workspace) error) (Workspace, error) {
	w, err := s.Lock(ctx, tx, id, actor)
	if err != nil {
		return Workspace{}, err
	}

	if err := fn(&w); err != nil {
		return Workspace{}, err
	}
	Recompute(&w, s.idGenerator)

	if touch {
		next := afterEdit(w.Status)
		if next != w.Status {
			if err := checkTransition(w.Status, next); err != nil {
				return Workspace{}, err
			}
			s.log.Info("workspace status changed", "workspace_id", w.ID, "from", w.Status, "to", next, "operator", actor)
			w.Status = next
		}
	}
	w.ModifiedBy = actor

	if err := s.repo.Save(ctx, tx, w); err != nil {
		return Workspace{}, err
	}
	if err := s.renew(ctx, tx, &w); err != nil {
		return Workspace{}, err
	}
	return w, nil
}

// Lock loads the workspace FOR UPDATE and checks that actor holds the claim.
func (s *Service) Lock(ctx context.Context, tx pgx.Tx, id, actor string) (Workspace, error) {
	w, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Workspace{}, err
	}
	if w.ClaimedBy == "" || w.ClaimedBy != actor {
		return Workspace{}, fmt.Errorf("%w (held by %q)", ErrNotClaimant, w.ClaimedBy)
	}
	return w, nil
}

func (s *Service) renew(ctx context.Context, tx pgx.Tx, w *Workspace) error {
	until := s.now().Add(s.lease)
	if err := s.repo.RenewLease(ctx, tx, w.StagedContractID, until); err != nil {
		return err
	}
	w.ClaimExpiresAt = &until
	return nil
}

func (s *Service) inTx(ctx context.Context, fn func(tx pgx.Tx) (Workspace, error)) (Workspace, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Workspace{}, fmt.Errorf("workspace: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := fn(tx)
	if err != nil {
		return Workspace{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Workspace{}, fmt.Errorf("workspace: commit: %w", err)
	}
	return w, nil
}

// SetContractField validates and sets one header field.
func (s *Service) SetContractField(ctx context.Context, id, actor, field, value string) (Workspace, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (Workspace, error) {
		return s.Edit(ctx, tx, id, actor, func(w *Workspace) error {
			previous := w.ContractNumber
			if err := applyContractField(w, field, value); err != nil {
				return err
			}
			if w.ContractNumber != previous {
				return contractnum.LockAndCheck(ctx, tx, w.ContractNumber, w.StagedContractID)
			}
			return nil
		})
	})
}

// SetLineItemField validates and sets one field of one line item.
func (s *Service) SetLineItemField(ctx context.Context, id, lineID, actor, field, value string) (Workspace, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (Workspace, error) {
		return s.Edit(ctx, tx, id, actor, func(w *Workspace) error {
			li := w.LineItem(lineID)
			if li == nil {
				return ErrLineItemNotFound
			}
			return applyLineItemField(li, field, value)
		})
	})
}

// AddLineItem appends an empty line item numbered after the last one.
func (s *Service) AddLineItem(ctx context.Context, id, actor string) (Workspace, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (Workspace, error) {
		return s.Edit(ctx, tx, id, actor, func(w *Workspace) error {
			pos := 0
			for _, li := range w.LineItems {
				if li.Position > pos {
					pos = li.Position
				}
			}
			pos++
			w.LineItems = append(w.LineItems, LineItem{
				ID:         s.idGenerator(),
				Position:   pos,
				ItemNumber: fmt.Sprintf("%04d", pos),
			})
			return nil
		})
	})
}

func (s *Service) DeleteLineItem(ctx context.Context, id, lineID, actor string) (Workspace, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (Workspace, error) {
		return s.Edit(ctx, tx, id, actor, func(w *Workspace) error {
			for i := range w.LineItems {
				if w.LineItems[i].ID == lineID {
					w.LineItems = append(w.LineItems[:i], w.LineItems[i+1:]...)
					return nil
				}
			}
			return ErrLineItemNotFound
		})
	})
}

// Recompute re-derives totals and splits without counting as an edit.
func (s *Service) Recompute(ctx context.Context, id, actor string) (Workspace, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (Workspace, error) {
		return s.mutate(ctx, tx, id, actor, false, func(*Workspace) error { return nil })
	})
}

// MarkReady moves an in-progress workspace to ready_for_review.
func (s *Service) MarkReady(ctx context.Context, id, actor string) (Workspace, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (Workspace, error) {
		return s.mutate(ctx, tx, id, actor, false, func(w *Workspace) error {
			if !w.Buyer.IsMatched() {
				return ErrBuyerNotMatched
			}
			if err := checkTransition(w.Status, StatusReadyForReview); err != nil {
				return err
			}
			s.log.Info("workspace status changed", "workspace_id", w.ID, "from", w.Status, "to", StatusReadyForReview, "operator", actor)
			w.Status = StatusReadyForReview
			return nil
		})
	})
}

// SplitParams carries split fields; nil values default to zero.
type SplitParams struct {
	CompanyName string
	Value       *decimal.Decimal
	Paid        *decimal.Decimal
}

func (p SplitParams) validate() (string, error) {
	name := strings.TrimSpace(p.CompanyName)
	if name == "" {
		return "", ErrCompanyRequired
	}
	if split.IsReservedName(name) {
		return "", fmt.Errorf("%w: %q", ErrReservedSplitName, name)
	}
	return name, nil
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func (s *Service) CreateSplit(ctx context.Context, id, actor string, p SplitParams) (Workspace, error) {
	name, err := p.validate()
	if err != nil {
		return Workspace{}, err
	}
	return s.inTx(ctx, func(tx pgx.Tx) (Workspace, error) {
		return s.Edit(ctx, tx, id, actor, func(w *Workspace) error {
			w.Splits = append(w.Splits, Split{
				ID:          s.idGenerator(),
				CompanyName: name,
				Value:       orZero(p.Value),
				Paid:        orZero(p.Paid),
			})
			return nil
		})
	})
}

// UpdateSplit replaces the fields of a named split. A nil Value or Paid
// keeps the current amount.
func (s *Service) UpdateSplit(ctx context.Context, id, splitID, actor string, p SplitParams) (Workspace, error) {
	name, err := p.validate()
	if err != nil {
		return Workspace{}, err
	}
	return s.inTx(ctx, func(tx pgx.Tx) (Workspace, error) {
		return s.Edit(ctx, tx, id, actor, func(w *Workspace) error {
			sp := w.split(splitID)
			if sp == nil {
				return ErrSplitNotFound
			}
			if sp.Synthetic {
				return ErrSyntheticSplit
			}
			sp.CompanyName = name
			if p.Value != nil {
				sp.Value = *p.Value
			}
			if p.Paid != nil {
				sp.Paid = *p.Paid
			}
			return nil
		})
	})
}

func (s *Service) DeleteSplit(ctx context.Context, id, splitID, actor string) (Workspace, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (Workspace, error) {
		return s.Edit(ctx, tx, id, actor, func(w *Workspace) error {
			for i := range w.Splits {
				if w.Splits[i].ID != splitID {
					continue
				}
				if w.Splits[i].Synthetic {
					return ErrSyntheticSplit
				}
				w.Splits = append(w.Splits[:i], w.Splits[i+1:]...)
				return nil
			}
			return ErrSplitNotFound
		})
	})
}
