package main

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"contractflow/finalize"
	"contractflow/ledger"
	"contractflow/logger"
	"contractflow/masterdata"
	"contractflow/matcher"
	"contractflow/sequence"
	"contractflow/staging"
	"contractflow/workspace"
)

type stagingService interface {
	List(ctx context.Context, filters staging.Filters) (staging.ListResult, error)
	Get(ctx context.Context, id string) (staging.Contract, error)
	Create(ctx context.Context, actor string, c staging.Contract) (staging.Contract, error)
	ImportCSV(ctx context.Context, actor string, r io.Reader) (staging.ImportResult, error)
	ImportXLSX(ctx context.Context, actor string, r io.Reader) (staging.ImportResult, error)
	Claim(ctx context.Context, stagedID, actor string) (workspace.Workspace, error)
	Release(ctx context.Context, stagedID string) error
	Cancel(ctx context.Context, workspaceID, actor string) error
	Delete(ctx context.Context, id string) error
}

type workspaceService interface {
	Get(ctx context.Context, id string) (workspace.Workspace, error)
	SetContractField(ctx context.Context, id, actor, field, value string) (workspace.Workspace, error)
	SetLineItemField(ctx context.Context, id, lineID, actor, field, value string) (workspace.Workspace, error)
	AddLineItem(ctx context.Context, id, actor string) (workspace.Workspace, error)
	DeleteLineItem(ctx context.Context, id, lineID, actor string) (workspace.Workspace, error)
	Recompute(ctx context.Context, id, actor string) (workspace.Workspace, error)
	MarkReady(ctx context.Context, id, actor string) (workspace.Workspace, error)
	CreateSplit(ctx context.Context, id, actor string, p workspace.SplitParams) (workspace.Workspace, error)
	UpdateSplit(ctx context.Context, id, splitID, actor string, p workspace.SplitParams) (workspace.Workspace, error)
	DeleteSplit(ctx context.Context, id, splitID, actor string) (workspace.Workspace, error)
}

type matchService interface {
	Search(ctx context.Context, kind masterdata.Kind, query string, limit int) ([]matcher.Candidate, error)
	ApplyMatch(ctx context.Context, target matcher.Target, kind masterdata.Kind, candidateID, actor string) (matcher.Match, error)
	CreateAndMatch(ctx context.Context, target matcher.Target, kind masterdata.Kind, rec masterdata.NewRecord, actor string) (matcher.Match, error)
}

type finalizeService interface {
	Finalize(ctx context.Context, workspaceID, actor string) (finalize.Result, error)
}

type numberPeeker interface {
	Peek(ctx context.Context) (sequence.Numbers, error)
}

// recordReader serves the read side of finalized data.
type recordReader interface {
	Contract(ctx context.Context, id string) (finalize.Contract, error)
	Payments(ctx context.Context, f ledger.Filter) ([]ledger.Entry, error)
	PaymentTotals(ctx context.Context, kind ledger.EntityKind, entityID string) (map[ledger.PaymentType]decimal.Decimal, error)
}

// Server wires the HTTP routes to the pipeline services.
type Server struct {
	staging    stagingService
	workspaces workspaceService
	matcher    matchService
	finalizer  finalizeService
	numbers    numberPeeker
	records    recordReader
	tokens     tokenVerifier
	log        *logger.Logger

	serviceName    string
	maxUploadBytes int64
}

func (s *Server) routes() *gin.Engine {
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = 10 << 20
	}

	r := gin.New()
	r.Use(withRequestID(), recovery(s.log))
	if s.serviceName != "" {
		r.Use(otelgin.Middleware(s.serviceName))
	}
	r.Use(requestLogger(s.log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api", s.requireOperator())

	st := api.Group("/staging")
	st.GET("", s.handleListStaged)
	st.POST("", s.handleCreateStaged)
	st.GET("/template", s.handleTemplate)
	st.POST("/import", s.handleImport)
	st.GET("/:id", s.handleGetStaged)
	st.DELETE("/:id", s.handleDeleteStaged)
	st.POST("/:id/claim", s.handleClaim)
	st.POST("/:id/release", s.handleRelease)

	ws := api.Group("/workspaces/:id")
	ws.GET("", s.handleGetWorkspace)
	ws.PATCH("", s.handleSetContractField)
	ws.POST("/line-items", s.handleAddLineItem)
	ws.PATCH("/line-items/:lineId", s.handleSetLineItemField)
	ws.DELETE("/line-items/:lineId", s.handleDeleteLineItem)
	ws.POST("/recompute", s.handleRecompute)
	ws.POST("/splits", s.handleCreateSplit)
	ws.PATCH("/splits/:splitId", s.handleUpdateSplit)
	ws.DELETE("/splits/:splitId", s.handleDeleteSplit)
	ws.POST("/match", s.handleApplyMatch)
	ws.POST("/match/create", s.handleCreateAndMatch)
	ws.POST("/ready", s.handleMarkReady)
	ws.POST("/cancel", s.handleCancel)
	ws.POST("/finalize", s.handleFinalize)

	api.GET("/match/:kind", s.handleSearch)
	api.GET("/sequences", s.handlePeekNumbers)
	api.GET("/contracts/:id", s.handleGetContract)
	api.GET("/payments", s.handleListPayments)
	api.GET("/payments/totals", s.handlePaymentTotals)

	return r
}
