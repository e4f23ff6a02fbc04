package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"contractflow/contractnum"
	"contractflow/finalize"
	"contractflow/masterdata"
	"contractflow/matcher"
	"contractflow/staging"
	"contractflow/workspace"
)

// Services is the slice of the pipeline the actors drive.
type Services struct {
	Staging    *staging.Service
	Workspaces *workspace.Service
	Matcher    *matcher.Matcher
	Finalizer  *finalize.Finalizer
}

// Stats counts outcomes across every actor.
type Stats struct {
	Imported  atomic.Int64
	Claimed   atomic.Int64
	Finalized atomic.Int64
	Cancelled atomic.Int64
	Abandoned atomic.Int64
	Reaped    atomic.Int64
	Expected  atomic.Int64
	Transient atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("imported=%d claimed=%d finalized=%d cancelled=%d abandoned=%d reaped=%d expected_errors=%d transient_errors=%d",
		s.Imported.Load(), s.Claimed.Load(), s.Finalized.Load(), s.Cancelled.Load(), s.Abandoned.Load(),
		s.Reaped.Load(), s.Expected.Load(), s.Transient.Load())
}

// contention lists the errors operators run into when racing each other or
// the reaper.
var contention = []error{
	staging.ErrAlreadyClaimed,
	staging.ErrNotFound,
	staging.ErrClaimed,
	contractnum.ErrDuplicate,
	workspace.ErrNotClaimant,
	workspace.ErrNotFound,
	workspace.ErrLineItemNotFound,
	workspace.ErrInvalidTransition,
	finalize.ErrValidationFailed,
}

// tolerate returns nil for contention and dropped connections (chaos kills
// backends) and the error otherwise.
func (s *Stats) tolerate(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	for _, target := range contention {
		if errors.Is(err, target) {
			s.Expected.Add(1)
			return nil
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 57: operator intervention, 40: serialization/deadlock
		if strings.HasPrefix(pgErr.Code, "57") || strings.HasPrefix(pgErr.Code, "40") {
			s.Transient.Add(1)
			return nil
		}
		return err
	}
	// anything that never reached the server is a connection casualty
	s.Transient.Add(1)
	return nil
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(lo, spread int) {
	time.Sleep(time.Duration(lo+rand.Intn(spread)) * time.Millisecond)
}

const header = "Contract Number,Buyer,Award Date,Due Date,Contract Value,Contract Type,Solicitation Type," +
	"Item Number,Item Type,NSN,NSN Description,IA,FOB,Due Date,Order Qty,UOM,Item Value,Unit Price," +
	"Supplier,Supplier Due Date,Supplier Unit Price,Supplier Price,Supplier Payment Terms\n"

var (
	buyers    = []string{"DLA LAND AND MARITIME", "DLA AVIATION", "NAVSUP WSS"}
	nsns      = []string{"5935-01-123-4567", "5305-00-984-6210", "5330-01-442-1183"}
	suppliers = []string{"ACME DEFENSE", "BLUE RIDGE MFG", "KESTREL SUPPLY"}
)

// batch renders a CSV with n (at most three) contracts of one or two lines
// each. Numbers are unique per importer; now and then one is reused so the
// whole batch must roll back.
func batch(name string, seq *int, n int) string {
	var b strings.Builder
	b.WriteString(header)
	for i := 0; i < n; i++ {
		*seq++
		number := fmt.Sprintf("STRESS-%s-%06d", name, *seq)
		if *seq > 3 && rand.Intn(8) == 0 {
			// batches hold at most three contracts, so this number came from an earlier one
			number = fmt.Sprintf("STRESS-%s-%06d", name, *seq-3)
		}
		lines := 1 + rand.Intn(2)
		for l := 1; l <= lines; l++ {
			fmt.Fprintf(&b, "%s,%s,2024-0%d-15,,,,,%04d,P,%s,,O,D,,%d,EA,,%d.00,%s,,%d.00,,NET 30\n",
				number, buyers[rand.Intn(len(buyers))], 1+rand.Intn(9), l,
				nsns[rand.Intn(len(nsns))], 10+rand.Intn(90), 20+rand.Intn(80),
				suppliers[rand.Intn(len(suppliers))], 5+rand.Intn(15))
		}
	}
	return b.String()
}

// Importer stages CSV batches until stopped.
func Importer(ctx context.Context, svc Services, name string, stats *Stats, stop <-chan struct{}) error {
	seq := 0
	for !stopped(ctx, stop) {
		res, err := svc.Staging.ImportCSV(ctx, name, strings.NewReader(batch(name, &seq, 1+rand.Intn(3))))
		if err := stats.tolerate(err); err != nil {
			return fmt.Errorf("importer %s: %w", name, err)
		}
		stats.Imported.Add(int64(len(res.ContractIDs)))
		pause(50, 100)
	}
	return nil
}

// Operator claims queued contracts and works them to an outcome: most are
// finalized, some cancelled and some abandoned for the reaper.
func Operator(ctx context.Context, svc Services, name string, stats *Stats, stop <-chan struct{}) error {
	unclaimed := false
	for !stopped(ctx, stop) {
		page, err := svc.Staging.List(ctx, staging.Filters{Claimed: &unclaimed, PageSize: 20})
		if err := stats.tolerate(err); err != nil {
			return fmt.Errorf("operator %s list: %w", name, err)
		}
		if len(page.Items) == 0 {
			pause(20, 40)
			continue
		}
		target := page.Items[rand.Intn(len(page.Items))]

		w, err := svc.Staging.Claim(ctx, target.ID, name)
		if err != nil {
			if err := stats.tolerate(err); err != nil {
				return fmt.Errorf("operator %s claim: %w", name, err)
			}
			continue
		}
		stats.Claimed.Add(1)

		if err := stats.tolerate(work(ctx, svc, name, w, stats)); err != nil {
			return fmt.Errorf("operator %s work %s: %w", name, w.ContractNumber, err)
		}
		pause(10, 30)
	}
	return nil
}

func work(ctx context.Context, svc Services, name string, w workspace.Workspace, stats *Stats) error {
	if _, err := svc.Matcher.CreateAndMatch(ctx, matcher.Target{WorkspaceID: w.ID}, masterdata.KindBuyer,
		masterdata.NewRecord{Key: w.Buyer.Text, CreatedBy: name}, name); err != nil {
		return err
	}
	for _, li := range w.LineItems {
		t := matcher.Target{WorkspaceID: w.ID, LineItemID: li.ID}
		if _, err := svc.Matcher.CreateAndMatch(ctx, t, masterdata.KindNSN, masterdata.NewRecord{Key: li.NSN.Text, CreatedBy: name}, name); err != nil {
			return err
		}
		if _, err := svc.Matcher.CreateAndMatch(ctx, t, masterdata.KindSupplier, masterdata.NewRecord{Key: li.Supplier.Text, CreatedBy: name}, name); err != nil {
			return err
		}
	}

	if rand.Intn(2) == 0 {
		value := decimal.NewFromInt(int64(10 + rand.Intn(200)))
		if _, err := svc.Workspaces.CreateSplit(ctx, w.ID, name, workspace.SplitParams{CompanyName: "PPI", Value: &value}); err != nil {
			return err
		}
	}
	if _, err := svc.Workspaces.MarkReady(ctx, w.ID, name); err != nil {
		return err
	}

	switch roll := rand.Intn(10); {
	case roll < 7:
		if _, err := svc.Finalizer.Finalize(ctx, w.ID, name); err != nil {
			return err
		}
		stats.Finalized.Add(1)
	case roll < 9:
		if err := svc.Staging.Cancel(ctx, w.ID, name); err != nil {
			return err
		}
		stats.Cancelled.Add(1)
	default:
		stats.Abandoned.Add(1)
	}
	return nil
}

// Reaper releases lapsed claims on a short interval.
func Reaper(ctx context.Context, svc Services, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		n, err := svc.Staging.ReleaseExpiredClaims(ctx)
		if err := stats.tolerate(err); err != nil {
			return fmt.Errorf("reaper: %w", err)
		}
		stats.Reaped.Add(int64(n))
		pause(200, 200)
	}
	return nil
}
