package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractflow/contractnum"
	"contractflow/finalize"
	"contractflow/ledger"
	"contractflow/masterdata"
	"contractflow/matcher"
	"contractflow/operator"
	"contractflow/sequence"
	"contractflow/staging"
	"contractflow/workspace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubStaging struct {
	list      staging.ListResult
	filters   staging.Filters
	contract  staging.Contract
	created   staging.Contract
	imported  staging.ImportResult
	importSrc string
	importRaw string
	claimed   workspace.Workspace
	err       error
	actor     string
}

func (s *stubStaging) List(_ context.Context, f staging.Filters) (staging.ListResult, error) {
	s.filters = f
	return s.list, s.err
}

func (s *stubStaging) Get(_ context.Context, _ string) (staging.Contract, error) {
	return s.contract, s.err
}

func (s *stubStaging) Create(_ context.Context, actor string, c staging.Contract) (staging.Contract, error) {
	s.actor = actor
	s.created = c
	if s.err != nil {
		return staging.Contract{}, s.err
	}
	c.ID = "staged-1"
	c.CreatedBy = actor
	return c, nil
}

func (s *stubStaging) ImportCSV(_ context.Context, actor string, r io.Reader) (staging.ImportResult, error) {
	return s.doImport("csv", actor, r)
}

func (s *stubStaging) ImportXLSX(_ context.Context, actor string, r io.Reader) (staging.ImportResult, error) {
	return s.doImport("xlsx", actor, r)
}

func (s *stubStaging) doImport(src, actor string, r io.Reader) (staging.ImportResult, error) {
	raw, _ := io.ReadAll(r)
	s.importSrc, s.importRaw, s.actor = src, string(raw), actor
	return s.imported, s.err
}

func (s *stubStaging) Claim(_ context.Context, _ string, actor string) (workspace.Workspace, error) {
	s.actor = actor
	return s.claimed, s.err
}

func (s *stubStaging) Release(_ context.Context, _ string) error { return s.err }

func (s *stubStaging) Cancel(_ context.Context, _ string, actor string) error {
	s.actor = actor
	return s.err
}

func (s *stubStaging) Delete(_ context.Context, _ string) error { return s.err }

// stubWorkspaces answers every edit with the same workspace and error.
type stubWorkspaces struct {
	w     workspace.Workspace
	err   error
	calls []string
}

func (s *stubWorkspaces) record(call string) (workspace.Workspace, error) {
	s.calls = append(s.calls, call)
	return s.w, s.err
}

func (s *stubWorkspaces) Get(_ context.Context, id string) (workspace.Workspace, error) {
	return s.record("get " + id)
}

func (s *stubWorkspaces) SetContractField(_ context.Context, id, actor, field, value string) (workspace.Workspace, error) {
	return s.record(fmt.Sprintf("contract %s %s %s=%s", id, actor, field, value))
}

func (s *stubWorkspaces) SetLineItemField(_ context.Context, id, lineID, actor, field, value string) (workspace.Workspace, error) {
	return s.record(fmt.Sprintf("line %s/%s %s %s=%s", id, lineID, actor, field, value))
}

func (s *stubWorkspaces) AddLineItem(_ context.Context, id, actor string) (workspace.Workspace, error) {
	return s.record("add-line " + id)
}

func (s *stubWorkspaces) DeleteLineItem(_ context.Context, id, lineID, actor string) (workspace.Workspace, error) {
	return s.record("delete-line " + lineID)
}

func (s *stubWorkspaces) Recompute(_ context.Context, id, actor string) (workspace.Workspace, error) {
	return s.record("recompute " + id)
}

func (s *stubWorkspaces) MarkReady(_ context.Context, id, actor string) (workspace.Workspace, error) {
	return s.record("ready " + id)
}

func (s *stubWorkspaces) CreateSplit(_ context.Context, id, actor string, p workspace.SplitParams) (workspace.Workspace, error) {
	return s.record(fmt.Sprintf("split %s %s", p.CompanyName, p.Value))
}

func (s *stubWorkspaces) UpdateSplit(_ context.Context, id, splitID, actor string, p workspace.SplitParams) (workspace.Workspace, error) {
	return s.record("update-split " + splitID)
}

func (s *stubWorkspaces) DeleteSplit(_ context.Context, id, splitID, actor string) (workspace.Workspace, error) {
	return s.record("delete-split " + splitID)
}

type stubMatcher struct {
	candidates []matcher.Candidate
	match      matcher.Match
	err        error
	target     matcher.Target
	kind       masterdata.Kind
	rec        masterdata.NewRecord
}

func (s *stubMatcher) Search(_ context.Context, kind masterdata.Kind, _ string, _ int) ([]matcher.Candidate, error) {
	s.kind = kind
	return s.candidates, s.err
}

func (s *stubMatcher) ApplyMatch(_ context.Context, target matcher.Target, kind masterdata.Kind, _ string, _ string) (matcher.Match, error) {
	s.target, s.kind = target, kind
	return s.match, s.err
}

func (s *stubMatcher) CreateAndMatch(_ context.Context, target matcher.Target, kind masterdata.Kind, rec masterdata.NewRecord, _ string) (matcher.Match, error) {
	s.target, s.kind, s.rec = target, kind, rec
	return s.match, s.err
}

type stubFinalizer struct {
	result finalize.Result
	err    error
}

func (s *stubFinalizer) Finalize(_ context.Context, _ string, _ string) (finalize.Result, error) {
	return s.result, s.err
}

type stubNumbers struct{ nums sequence.Numbers }

func (s stubNumbers) Peek(context.Context) (sequence.Numbers, error) { return s.nums, nil }

type stubRecords struct {
	contract finalize.Contract
	entries  []ledger.Entry
	totals   map[ledger.PaymentType]decimal.Decimal
	filter   ledger.Filter
	err      error
}

func (s *stubRecords) Contract(context.Context, string) (finalize.Contract, error) {
	return s.contract, s.err
}

func (s *stubRecords) Payments(_ context.Context, f ledger.Filter) ([]ledger.Entry, error) {
	s.filter = f
	return s.entries, s.err
}

func (s *stubRecords) PaymentTotals(_ context.Context, kind ledger.EntityKind, id string) (map[ledger.PaymentType]decimal.Decimal, error) {
	s.filter = ledger.Filter{Kind: kind, EntityID: id}
	return s.totals, s.err
}

type harness struct {
	server     *Server
	router     *gin.Engine
	staging    *stubStaging
	workspaces *stubWorkspaces
	matcher    *stubMatcher
	finalizer  *stubFinalizer
	records    *stubRecords
	token      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tokens, err := operator.NewTokens("test-secret", time.Hour)
	require.NoError(t, err)
	token, _, err := tokens.Issue("jdoe")
	require.NoError(t, err)

	h := &harness{
		staging:    &stubStaging{},
		workspaces: &stubWorkspaces{},
		matcher:    &stubMatcher{},
		finalizer:  &stubFinalizer{},
		records:    &stubRecords{},
		token:      token,
	}
	h.server = &Server{
		staging:    h.staging,
		workspaces: h.workspaces,
		matcher:    h.matcher,
		finalizer:  h.finalizer,
		numbers:    stubNumbers{nums: sequence.Numbers{PO: 10000, Tab: 10000}},
		records:    h.records,
		tokens:     tokens,
	}
	h.router = h.server.routes()
	return h
}

func (h *harness) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+h.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) json(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return h.do(method, path, r, "application/json")
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error
}

func TestAuth_RejectsMissingAndBadTokens(t *testing.T) {
	h := newHarness(t)

	for name, header := range map[string]string{
		"missing":   "",
		"no bearer": h.token,
		"garbage":   "Bearer invalid.token.here",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/sequences", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", decodeError(t, rec).Code)
		})
	}
}

func TestHealthz_NoAuth(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestRequestID_Echoed(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
}

func TestListStaged_ParsesFilters(t *testing.T) {
	h := newHarness(t)
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	h.staging.list = staging.ListResult{
		Items: []staging.Contract{{ID: "s1", ContractNumber: "SPE4A1-25-P-0001", CreatedAt: now, LineCount: 2,
			Claim: &staging.Claim{By: "amy", At: now, ExpiresAt: now.Add(time.Hour)}}},
		Total: 41,
	}

	rec := h.json(http.MethodGet, "/api/staging?claimed=true&search=SPE&page=3&page_size=20&sort=award_date&order=desc", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.NotNil(t, h.staging.filters.Claimed)
	assert.True(t, *h.staging.filters.Claimed)
	assert.Equal(t, "SPE", h.staging.filters.Search)
	assert.Equal(t, 3, h.staging.filters.Page)
	assert.Equal(t, "award_date", h.staging.filters.SortKey)

	var resp listStagedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 41, resp.Total)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 2, resp.Items[0].LineCount)
	require.NotNil(t, resp.Items[0].Claim)
	assert.Equal(t, "amy", resp.Items[0].Claim.By)
	assert.Equal(t, now.Format(time.RFC3339), resp.Items[0].CreatedAt)
}

func TestListStaged_BadQuery(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusBadRequest, h.json(http.MethodGet, "/api/staging?claimed=maybe", "").Code)
	assert.Equal(t, http.StatusBadRequest, h.json(http.MethodGet, "/api/staging?page=0", "").Code)
}

func TestCreateStaged(t *testing.T) {
	h := newHarness(t)
	body := `{"contractNumber":"SPE4A1-25-P-0001","buyer":"DLA Aviation","awardDate":"2025-01-15",
		"contractValue":"5000","lineItems":[{"itemNumber":"0001","itemType":"Production","fob":"d","orderQty":"100","unitPrice":"50"}]}`

	rec := h.json(http.MethodPost, "/api/staging", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, "jdoe", h.staging.actor)
	got := h.staging.created
	require.NotNil(t, got.AwardDate)
	assert.Equal(t, "2025-01-15", got.AwardDate.Format(workspace.DateLayout))
	assert.True(t, got.ContractValue.Decimal.Equal(decimal.NewFromInt(5000)))
	require.Len(t, got.LineItems, 1)
	assert.Equal(t, "P", got.LineItems[0].ItemType)
	assert.Equal(t, "D", got.LineItems[0].FOB)
	assert.Equal(t, 1, got.LineItems[0].Position)
}

func TestCreateStaged_InvalidValueIs422(t *testing.T) {
	h := newHarness(t)
	rec := h.json(http.MethodPost, "/api/staging", `{"contractNumber":"X","awardDate":"01/15/2025"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "invalid_value", body.Code)
	assert.Equal(t, map[string]any{"field": "award_date", "reason": `"01/15/2025" is not a YYYY-MM-DD date`}, body.Details)
}

func TestCreateStaged_DuplicateIs409(t *testing.T) {
	h := newHarness(t)
	h.staging.err = &contractnum.DuplicateError{Number: "X-1", Where: "workspaces"}
	rec := h.json(http.MethodPost, "/api/staging", `{"contractNumber":"X-1"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "duplicate_contract_number", body.Code)
	assert.Equal(t, map[string]any{"contractNumber": "X-1", "where": "workspaces"}, body.Details)
}

func multipartFile(t *testing.T, name, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestImport_DispatchesOnExtension(t *testing.T) {
	h := newHarness(t)
	h.staging.imported = staging.ImportResult{ContractIDs: []string{"a", "b"}, LineItems: 3}

	body, ct := multipartFile(t, "batch.CSV", "header\n")
	rec := h.do(http.MethodPost, "/api/staging/import", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "csv", h.staging.importSrc)
	assert.Equal(t, "header\n", h.staging.importRaw)

	var resp importResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, importResponse{ContractIDs: []string{"a", "b"}, Contracts: 2, LineItems: 3}, resp)

	body, ct = multipartFile(t, "batch.xlsx", "xlsx-bytes")
	rec = h.do(http.MethodPost, "/api/staging/import", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "xlsx", h.staging.importSrc)

	body, ct = multipartFile(t, "batch.pdf", "%PDF")
	rec = h.do(http.MethodPost, "/api/staging/import", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImport_MalformedRowDetails(t *testing.T) {
	h := newHarness(t)
	h.staging.err = fmt.Errorf("wrapped: %w", &staging.MalformedRowError{Row: 3, Column: "Award Date", Reason: "not a date"})

	body, ct := multipartFile(t, "batch.csv", "x")
	rec := h.do(http.MethodPost, "/api/staging/import", body, ct)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	got := decodeError(t, rec)
	assert.Equal(t, "malformed_import_row", got.Code)
	assert.Equal(t, map[string]any{"row": float64(3), "column": "Award Date", "reason": "not a date"}, got.Details)
}

func TestImport_MissingFile(t *testing.T) {
	h := newHarness(t)
	rec := h.json(http.MethodPost, "/api/staging/import", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTemplate(t *testing.T) {
	h := newHarness(t)
	rec := h.json(http.MethodGet, "/api/staging/template", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Contract Number,Buyer,Award Date"))
}

func TestClaim_ConflictCarriesHolder(t *testing.T) {
	h := newHarness(t)
	since := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	h.staging.err = &staging.ClaimConflictError{Holder: "amy", Since: since, ExpiresAt: since.Add(8 * time.Hour)}

	rec := h.json(http.MethodPost, "/api/staging/s1/claim", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	got := decodeError(t, rec)
	assert.Equal(t, "already_claimed", got.Code)
	details, ok := got.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "amy", details["holder"])
	assert.Equal(t, "jdoe", h.staging.actor)
}

func TestClaim_ReturnsWorkspace(t *testing.T) {
	h := newHarness(t)
	po, tab := int64(10000), int64(10000)
	h.staging.claimed = workspace.Workspace{
		ID: "w1", StagedContractID: "s1", Status: workspace.StatusDraft, PONumber: &po, TabNumber: &tab,
		Buyer: masterdata.Unmatched("DLA Aviation"),
		LineItems: []workspace.LineItem{{ID: "l1", ItemNumber: "0001",
			ItemValue: decimal.NewNullDecimal(decimal.NewFromInt(5000))}},
	}

	rec := h.json(http.MethodPost, "/api/staging/s1/claim", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp workspaceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "draft", resp.Status)
	assert.Equal(t, int64(10000), *resp.PONumber)
	assert.Equal(t, "DLA Aviation", resp.Buyer.Text)
	assert.Nil(t, resp.Buyer.MatchedID)
	require.Len(t, resp.LineItems, 1)
	assert.True(t, resp.LineItems[0].ItemValue.Decimal.Equal(decimal.NewFromInt(5000)))
	assert.Empty(t, resp.Splits)
}

func TestDeleteStaged_ClaimedIs409(t *testing.T) {
	h := newHarness(t)
	h.staging.err = fmt.Errorf("%w by amy", staging.ErrClaimed)
	assert.Equal(t, http.StatusConflict, h.json(http.MethodDelete, "/api/staging/s1", "").Code)

	h.staging.err = nil
	assert.Equal(t, http.StatusNoContent, h.json(http.MethodDelete, "/api/staging/s1", "").Code)
}

func TestWorkspaceEdits_RouteToService(t *testing.T) {
	h := newHarness(t)
	h.workspaces.w = workspace.Workspace{ID: "w1", Status: workspace.StatusInProgress}

	cases := []struct {
		method, path, body string
		status             int
		call               string
	}{
		{http.MethodGet, "/api/workspaces/w1", "", http.StatusOK, "get w1"},
		{http.MethodPatch, "/api/workspaces/w1", `{"field":"description","value":"Bolts"}`, http.StatusOK, "contract w1 jdoe description=Bolts"},
		{http.MethodPost, "/api/workspaces/w1/line-items", "", http.StatusCreated, "add-line w1"},
		{http.MethodPatch, "/api/workspaces/w1/line-items/l1", `{"field":"order_qty","value":"7"}`, http.StatusOK, "line w1/l1 jdoe order_qty=7"},
		{http.MethodDelete, "/api/workspaces/w1/line-items/l1", "", http.StatusOK, "delete-line l1"},
		{http.MethodPost, "/api/workspaces/w1/recompute", "", http.StatusOK, "recompute w1"},
		{http.MethodPost, "/api/workspaces/w1/splits", `{"companyName":"PPI","value":"600"}`, http.StatusCreated, "split PPI 600"},
		{http.MethodPatch, "/api/workspaces/w1/splits/sp1", `{"paid":"10"}`, http.StatusOK, "update-split sp1"},
		{http.MethodDelete, "/api/workspaces/w1/splits/sp1", "", http.StatusOK, "delete-split sp1"},
		{http.MethodPost, "/api/workspaces/w1/ready", "", http.StatusOK, "ready w1"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			h.workspaces.calls = nil
			rec := h.json(tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, []string{tc.call}, h.workspaces.calls)
		})
	}
}

func TestWorkspaceEdits_ErrorMapping(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
		code   string
	}{
		"not claimant":  {workspace.ErrNotClaimant, http.StatusForbidden, "not_claimant"},
		"not found":     {workspace.ErrNotFound, http.StatusNotFound, "not_found"},
		"matcher owned": {fmt.Errorf("%w: buyer", workspace.ErrMatcherOwnedField), http.StatusUnprocessableEntity, "matcher_owned_field"},
		"unknown field": {workspace.ErrUnknownField, http.StatusUnprocessableEntity, "unknown_field"},
		"transition":    {workspace.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		"unexpected":    {errors.New("connection reset"), http.StatusInternalServerError, "internal"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.workspaces.err = tc.err
			rec := h.json(http.MethodPatch, "/api/workspaces/w1", `{"field":"buyer","value":"x"}`)
			require.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decodeError(t, rec).Code)
		})
	}
}

func TestInternalErrorHidesMessage(t *testing.T) {
	h := newHarness(t)
	h.workspaces.err = errors.New("pq: password authentication failed")
	rec := h.json(http.MethodGet, "/api/workspaces/w1", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestSetField_RequiresFieldName(t *testing.T) {
	h := newHarness(t)
	rec := h.json(http.MethodPatch, "/api/workspaces/w1", `{"value":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.workspaces.calls)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	rec := h.json(http.MethodPost, "/api/workspaces/w1/cancel", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "jdoe", h.staging.actor)
}

func TestFinalize_ValidationReasons(t *testing.T) {
	h := newHarness(t)
	h.finalizer.err = &finalize.ValidationError{Reasons: []string{"buyer is not matched", "line item 0001: NSN is not matched"}}

	rec := h.json(http.MethodPost, "/api/workspaces/w1/finalize", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	got := decodeError(t, rec)
	assert.Equal(t, "validation_failed", got.Code)
	assert.Equal(t, map[string]any{"reasons": []any{"buyer is not matched", "line item 0001: NSN is not matched"}}, got.Details)
}

func TestFinalize_Success(t *testing.T) {
	h := newHarness(t)
	h.finalizer.result = finalize.Result{
		ContractID: "c1", PONumber: 10000, TabNumber: 10000,
		Notification: finalize.Notification{Recipient: "contracts@example.com", Subject: "Contract X finalized: PO 10000, Tab 10000"},
	}
	rec := h.json(http.MethodPost, "/api/workspaces/w1/finalize", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp finalizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "c1", resp.ContractID)
	assert.Equal(t, "contracts@example.com", resp.Notification.Recipient)
}

func TestSearch(t *testing.T) {
	h := newHarness(t)
	h.matcher.candidates = []matcher.Candidate{{ID: "b1", Label: "DLA Aviation"}}

	rec := h.json(http.MethodGet, "/api/match/Buyer?q=dla&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, masterdata.KindBuyer, h.matcher.kind)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []matcher.Candidate{{ID: "b1", Label: "DLA Aviation"}}, resp.Items)

	rec = h.json(http.MethodGet, "/api/match/vendor?q=x", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "unknown_kind", decodeError(t, rec).Code)

	h.matcher.candidates = nil
	rec = h.json(http.MethodGet, "/api/match/nsn?q=zzz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"items":[]`)
}

func TestApplyMatch(t *testing.T) {
	h := newHarness(t)
	h.matcher.match = matcher.Match{
		Record:    masterdata.Record{ID: "n1", Kind: masterdata.KindNSN, Key: "5305-00-123-4567"},
		Workspace: workspace.Workspace{ID: "w1"},
	}
	rec := h.json(http.MethodPost, "/api/workspaces/w1/match", `{"kind":"nsn","lineItemId":"l1","candidateId":"n1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, matcher.Target{WorkspaceID: "w1", LineItemID: "l1"}, h.matcher.target)

	var resp matchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "5305-00-123-4567", resp.Record.Label)

	h.matcher.err = fmt.Errorf("%w: n9", masterdata.ErrUnknownCanonicalReference)
	rec = h.json(http.MethodPost, "/api/workspaces/w1/match", `{"kind":"nsn","lineItemId":"l1","candidateId":"n9"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "unknown_reference", decodeError(t, rec).Code)
}

func TestCreateAndMatch(t *testing.T) {
	h := newHarness(t)
	h.matcher.match = matcher.Match{
		Record:  masterdata.Record{ID: "s1", Kind: masterdata.KindSupplier, Key: "Acme", CageCode: "1ABC2"},
		Created: true,
	}
	rec := h.json(http.MethodPost, "/api/workspaces/w1/match/create",
		`{"kind":"supplier","lineItemId":"l1","key":"Acme","cageCode":"1abc2"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "jdoe", h.matcher.rec.CreatedBy)
	assert.Equal(t, "1abc2", h.matcher.rec.CageCode)

	h.matcher.match.Created = false
	rec = h.json(http.MethodPost, "/api/workspaces/w1/match/create", `{"kind":"supplier","lineItemId":"l1","key":"Acme"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPeekNumbers(t *testing.T) {
	h := newHarness(t)
	rec := h.json(http.MethodGet, "/api/sequences", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"po":10000,"tab":10000}`, rec.Body.String())
}

func TestGetContract(t *testing.T) {
	h := newHarness(t)
	h.records.contract = finalize.Contract{
		ID: "c1", ContractNumber: "X-1", PONumber: 10000, TabNumber: 10000,
		AwardDate:     time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		ContractValue: decimal.NewFromInt(5000),
		Clins:         []finalize.Clin{{ID: "cl1", ItemNumber: "0001", ClinPONum: "10000-0001"}},
	}
	rec := h.json(http.MethodGet, "/api/contracts/c1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp contractResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2025-01-15", resp.AwardDate)
	require.Len(t, resp.Clins, 1)
	assert.Equal(t, "10000-0001", resp.Clins[0].ClinPONum)

	h.records.err = finalize.ErrContractNotFound
	assert.Equal(t, http.StatusNotFound, h.json(http.MethodGet, "/api/contracts/nope", "").Code)
}

func TestPayments(t *testing.T) {
	h := newHarness(t)
	h.records.entries = []ledger.Entry{{
		ID: 1, Kind: ledger.KindContract, EntityID: "c1", Type: ledger.TypePlanGross,
		Amount: decimal.NewFromInt(1000), Date: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
	}}
	h.records.totals = map[ledger.PaymentType]decimal.Decimal{ledger.TypePlanGross: decimal.NewFromInt(1000)}

	rec := h.json(http.MethodGet, "/api/payments?kind=contract&entityId=c1&type=plan_gross", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, ledger.Filter{Kind: ledger.KindContract, EntityID: "c1", Type: ledger.TypePlanGross}, h.records.filter)
	assert.Contains(t, rec.Body.String(), `"paymentDate":"2025-01-15"`)

	rec = h.json(http.MethodGet, "/api/payments/totals?kind=contract&entityId=c1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"plan_gross":"1000"`)

	cases := map[string]string{
		"unknown kind":      "/api/payments?kind=order&entityId=c1",
		"missing entity":    "/api/payments?kind=clin",
		"type not for kind": "/api/payments?kind=clin&entityId=x&type=plan_gross",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnprocessableEntity, h.json(http.MethodGet, path, "").Code)
		})
	}
}

func TestRecovery_ConvertsPanics(t *testing.T) {
	h := newHarness(t)
	h.server.records = nil
	rec := h.json(http.MethodGet, "/api/contracts/c1", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", decodeError(t, rec).Code)
}
