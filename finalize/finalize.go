// Package finalize promotes a reconciled workspace into the system of record.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"contractflow/contractnum"
	"contractflow/db"
	"contractflow/ledger"
	"contractflow/logger"
	"contractflow/observability"
	"contractflow/sequence"
	"contractflow/staging"
	"contractflow/workspace"
)

var ErrValidationFailed = errors.New("finalize: validation failed")

// ValidationError lists every unmet precondition.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("finalize: validation failed: %s", strings.Join(e.Reasons, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// Notification is handed back for the caller to deliver after commit.
type Notification struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

type Result struct {
	ContractID   string
	PONumber     int64
	TabNumber    int64
	Notification Notification
}

// Step names a point inside the finalize transaction.
type Step string

const (
	StepNumbersAllocated Step = "numbers_allocated"
	StepContractWritten  Step = "contract_written"
	StepLedgerWritten    Step = "ledger_written"
	StepSourceDeleted    Step = "source_deleted"
)

type Pool interface {
	db.TxBeginner
	db.Querier
}

type Finalizer struct {
	pool       Pool
	workspaces *workspace.Service
	numbers    *sequence.Allocator
	store      Store
	ledger     *ledger.Repository
	staged     staging.Repository
	recipient  string
	now        func() time.Time
	log        *logger.Logger
	tracer     trace.Tracer
	after      func(Step) error
}

func New(pool Pool, workspaces *workspace.Service, numbers *sequence.Allocator) *Finalizer {
	return &Finalizer{
		pool:       pool,
		workspaces: workspaces,
		numbers:    numbers,
		store:      NewStore(),
		ledger:     ledger.NewRepository(),
		staged:     staging.NewRepository(),
		now:        time.Now,
		log:        logger.Nop(),
		tracer:     observability.Tracer("finalize"),
		after:      func(Step) error { return nil },
	}
}

func (f *Finalizer) WithStore(s Store) *Finalizer {
	if s != nil {
		f.store = s
	}
	return f
}

// WithRecipient sets who the finalize notification is addressed to.
func (f *Finalizer) WithRecipient(r string) *Finalizer {
	f.recipient = r
	return f
}

func (f *Finalizer) WithClock(now func() time.Time) *Finalizer {
	f.now = now
	return f
}

func (f *Finalizer) WithLogger(l *logger.Logger) *Finalizer {
	if l != nil {
		f.log = l
	}
	return f
}

// WithStepHook installs fn to run after each Step; a non-nil error aborts
// the transaction.
func (f *Finalizer) WithStepHook(fn func(Step) error) *Finalizer {
	if fn != nil {
		f.after = fn
	}
	return f
}

// Validate returns the reasons w cannot be finalized, or nil.
func Validate(w workspace.Workspace) []string {
	var reasons []string
	if strings.TrimSpace(w.ContractNumber) == "" {
		reasons = append(reasons, "contract number is missing")
	}
	if !w.Buyer.IsMatched() {
		reasons = append(reasons, "buyer is not matched")
	}
	if w.AwardDate == nil {
		reasons = append(reasons, "award date is missing")
	}
	if !w.ContractValue.Valid {
		reasons = append(reasons, "contract value is missing")
	}
	if !w.PlanGross.Valid {
		reasons = append(reasons, "plan gross is missing")
	}
	if len(w.LineItems) == 0 {
		reasons = append(reasons, "contract has no line items")
	}
	for _, li := range w.LineItems {
		if !li.NSN.IsMatched() {
			reasons = append(reasons, fmt.Sprintf("line item %s: NSN is not matched", li.ItemNumber))
		}
		if !li.Supplier.IsMatched() {
			reasons = append(reasons, fmt.Sprintf("line item %s: supplier is not matched", li.ItemNumber))
		}
	}
	return reasons
}

// Finalize writes the contract, its CLINs, splits and opening ledger rows,
// issues the PO and Tab numbers, and deletes the workspace and its staged
// source, all in one transaction. Nothing is written when validation fails.
func (f *Finalizer) Finalize(ctx context.Context, workspaceID, actor string) (Result, error) {
	ctx, span := f.tracer.Start(ctx, "finalize", trace.WithAttributes(
		attribute.String("workspace.id", workspaceID),
	))
	defer span.End()

	res, err := f.finalize(ctx, workspaceID, actor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrValidationFailed) {
			f.log.Info("finalize rejected", "workspace_id", workspaceID, "operator", actor, "error", err)
		} else {
			f.log.Error("finalize failed", "workspace_id", workspaceID, "operator", actor, "error", err)
		}
		return Result{}, err
	}

	span.SetAttributes(
		attribute.String("contract.id", res.ContractID),
		attribute.Int64("po_number", res.PONumber),
		attribute.Int64("tab_number", res.TabNumber),
	)
	f.log.Info("contract finalized", "workspace_id", workspaceID, "contract_id", res.ContractID,
		"po_number", res.PONumber, "tab_number", res.TabNumber, "operator", actor)
	return res, nil
}

func (f *Finalizer) finalize(ctx context.Context, workspaceID, actor string) (Result, error) {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("finalize: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := f.workspaces.Lock(ctx, tx, workspaceID, actor)
	if err != nil {
		return Result{}, err
	}
	workspace.Recompute(&w, f.workspaces.NewID)

	if reasons := Validate(w); len(reasons) > 0 {
		return Result{}, &ValidationError{Reasons: reasons}
	}
	if !workspace.CanTransition(w.Status, workspace.StatusCompleted) {
		return Result{}, fmt.Errorf("%w: %s -> %s", workspace.ErrInvalidTransition, w.Status, workspace.StatusCompleted)
	}
	if err := contractnum.LockAndCheck(ctx, tx, w.ContractNumber, w.StagedContractID); err != nil {
		return Result{}, err
	}

	nums, err := f.numbers.AdvanceBothTx(ctx, tx)
	if err != nil {
		return Result{}, err
	}
	if err := f.after(StepNumbersAllocated); err != nil {
		return Result{}, err
	}

	contractID, err := f.writeRecords(ctx, tx, w, nums, actor)
	if err != nil {
		return Result{}, err
	}

	if err := f.workspaces.Repo().Delete(ctx, tx, w.ID); err != nil {
		return Result{}, err
	}
	if err := f.staged.Delete(ctx, tx, w.StagedContractID); err != nil {
		return Result{}, err
	}
	if err := f.after(StepSourceDeleted); err != nil {
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("finalize: commit: %w", err)
	}

	return Result{
		ContractID:   contractID,
		PONumber:     nums.PO,
		TabNumber:    nums.Tab,
		Notification: f.notification(w, nums, actor),
	}, nil
}

func (f *Finalizer) writeRecords(ctx context.Context, tx pgx.Tx, w workspace.Workspace, nums sequence.Numbers, actor string) (string, error) {
	contractID, err := f.store.InsertContract(ctx, tx, w, nums, actor)
	if err != nil {
		return "", err
	}

	clinIDs := make([]string, len(w.LineItems))
	for i, li := range w.LineItems {
		if clinIDs[i], err = f.store.InsertClin(ctx, tx, contractID, nums, li); err != nil {
			return "", err
		}
	}
	for _, sp := range w.Splits {
		if err := f.store.InsertSplit(ctx, tx, contractID, sp); err != nil {
			return "", err
		}
	}
	if err := f.after(StepContractWritten); err != nil {
		return "", err
	}

	for _, e := range openingEntries(w, contractID, clinIDs, actor) {
		if _, err := f.ledger.Insert(ctx, tx, e); err != nil {
			return "", err
		}
	}
	if err := f.after(StepLedgerWritten); err != nil {
		return "", err
	}
	return contractID, nil
}

// openingEntries seeds the ledger: contract value and plan gross for the
// contract, item and quote value for each CLIN that has them. Entries are
// dated on the award date.
func openingEntries(w workspace.Workspace, contractID string, clinIDs []string, actor string) []ledger.Entry {
	date := *w.AwardDate
	entries := []ledger.Entry{
		{Kind: ledger.KindContract, EntityID: contractID, Type: ledger.TypeContractValue, Amount: w.ContractValue.Decimal, Date: date, Info: "initial contract value", CreatedBy: actor},
		{Kind: ledger.KindContract, EntityID: contractID, Type: ledger.TypePlanGross, Amount: w.PlanGross.Decimal, Date: date, Info: "initial plan gross", CreatedBy: actor},
	}
	for i, li := range w.LineItems {
		if li.ItemValue.Valid {
			entries = append(entries, ledger.Entry{Kind: ledger.KindClin, EntityID: clinIDs[i], Type: ledger.TypeItemValue,
				Amount: li.ItemValue.Decimal, Date: date, Info: "initial item value", CreatedBy: actor})
		}
		if li.QuoteValue.Valid {
			entries = append(entries, ledger.Entry{Kind: ledger.KindClin, EntityID: clinIDs[i], Type: ledger.TypeQuoteValue,
				Amount: li.QuoteValue.Decimal, Date: date, Info: "initial quote value", CreatedBy: actor})
		}
	}
	return entries
}

func (f *Finalizer) notification(w workspace.Workspace, nums sequence.Numbers, actor string) Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "Contract %s has been finalized by %s.\n\n", w.ContractNumber, actor)
	fmt.Fprintf(&b, "PO number: %d\nTab number: %d\n", nums.PO, nums.Tab)
	fmt.Fprintf(&b, "Buyer: %s\n", w.Buyer.Text)
	fmt.Fprintf(&b, "Award date: %s\n", w.AwardDate.Format(workspace.DateLayout))
	fmt.Fprintf(&b, "Contract value: %s\nPlan gross: %s\n", w.ContractValue.Decimal.StringFixed(2), w.PlanGross.Decimal.StringFixed(2))
	fmt.Fprintf(&b, "CLINs: %d\n", len(w.LineItems))
	fmt.Fprintf(&b, "Finalized at: %s\n", f.now().UTC().Format(time.RFC3339))

	return Notification{
		Recipient: f.recipient,
		Subject:   fmt.Sprintf("Contract %s finalized: PO %d, Tab %d", w.ContractNumber, nums.PO, nums.Tab),
		Body:      b.String(),
	}
}
