package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"contractflow/db"
	"contractflow/finalize"
	"contractflow/ledger"
)

// pgRecords reads finalized contracts and the payment ledger from the pool.
type pgRecords struct {
	q      db.Querier
	store  *finalize.PGStore
	ledger *ledger.Repository
}

func newRecords(q db.Querier) *pgRecords {
	return &pgRecords{q: q, store: finalize.NewStore(), ledger: ledger.NewRepository()}
}

func (r *pgRecords) Contract(ctx context.Context, id string) (finalize.Contract, error) {
	return r.store.GetContract(ctx, r.q, id)
}

func (r *pgRecords) Payments(ctx context.Context, f ledger.Filter) ([]ledger.Entry, error) {
	return r.ledger.List(ctx, r.q, f)
}

func (r *pgRecords) PaymentTotals(ctx context.Context, kind ledger.EntityKind, entityID string) (map[ledger.PaymentType]decimal.Decimal, error) {
	return r.ledger.Totals(ctx, r.q, kind, entityID)
}

func (s *Server) handlePeekNumbers(c *gin.Context) {
	nums, err := s.numbers.Peek(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"po": nums.PO, "tab": nums.Tab})
}

func (s *Server) handleGetContract(c *gin.Context) {
	contract, err := s.records.Contract(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newContractResponse(contract))
}

func (s *Server) paymentFilter(c *gin.Context) (ledger.Filter, error) {
	kind, err := ledger.ParseKind(c.Query("kind"))
	if err != nil {
		return ledger.Filter{}, err
	}
	entityID := strings.TrimSpace(c.Query("entityId"))
	if entityID == "" {
		return ledger.Filter{}, ledger.ErrMissingEntityID
	}
	f := ledger.Filter{Kind: kind, EntityID: entityID}
	if t := c.Query("type"); t != "" {
		f.Type = ledger.PaymentType(strings.ToLower(t))
		if !ledger.Allowed(kind, f.Type) {
			return ledger.Filter{}, ledger.ErrTypeNotAllowed
		}
	}
	return f, nil
}

func (s *Server) handleListPayments(c *gin.Context) {
	f, err := s.paymentFilter(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	entries, err := s.records.Payments(c.Request.Context(), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	items := make([]paymentResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, newPaymentResponse(e))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) handlePaymentTotals(c *gin.Context) {
	f, err := s.paymentFilter(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	totals, err := s.records.PaymentTotals(c.Request.Context(), f.Kind, f.EntityID)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make(map[string]decimal.Decimal, len(totals))
	for t, amount := range totals {
		out[string(t)] = amount
	}
	c.JSON(http.StatusOK, gin.H{"kind": f.Kind, "entityId": f.EntityID, "totals": out})
}
