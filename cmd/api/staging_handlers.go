package main

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"contractflow/staging"
	"contractflow/workspace"
)

type listStagedResponse struct {
	Items    []stagedResponse `json:"items"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
}

func (s *Server) handleListStaged(c *gin.Context) {
	filters := staging.Filters{
		ClaimedBy: c.Query("claimed_by"),
		Search:    c.Query("search"),
		SortKey:   c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	if v := c.Query("claimed"); v != "" {
		claimed, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "claimed must be true or false")
			return
		}
		filters.Claimed = &claimed
	}
	for name, dst := range map[string]*int{"page": &filters.Page, "page_size": &filters.PageSize} {
		if v := c.Query(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				badRequest(c, name+" must be a positive integer")
				return
			}
			*dst = n
		}
	}

	result, err := s.staging.List(c.Request.Context(), filters)
	if err != nil {
		s.fail(c, err)
		return
	}
	resp := listStagedResponse{
		Items:    make([]stagedResponse, 0, len(result.Items)),
		Total:    result.Total,
		Page:     filters.Page,
		PageSize: filters.PageSize,
	}
	for _, item := range result.Items {
		resp.Items = append(resp.Items, newStagedResponse(item))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetStaged(c *gin.Context) {
	contract, err := s.staging.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newStagedResponse(contract))
}

type stagedLineRequest struct {
	ItemNumber           string `json:"itemNumber"`
	ItemType             string `json:"itemType"`
	NSN                  string `json:"nsn"`
	NSNDescription       string `json:"nsnDescription"`
	IA                   string `json:"ia"`
	FOB                  string `json:"fob"`
	DueDate              string `json:"dueDate"`
	OrderQty             string `json:"orderQty"`
	UOM                  string `json:"uom"`
	ItemValue            string `json:"itemValue"`
	UnitPrice            string `json:"unitPrice"`
	Supplier             string `json:"supplier"`
	SupplierDueDate      string `json:"supplierDueDate"`
	SupplierUnitPrice    string `json:"supplierUnitPrice"`
	SupplierPrice        string `json:"supplierPrice"`
	SupplierPaymentTerms string `json:"supplierPaymentTerms"`
}

type createStagedRequest struct {
	ContractNumber   string              `json:"contractNumber"`
	Buyer            string              `json:"buyer"`
	AwardDate        string              `json:"awardDate"`
	DueDate          string              `json:"dueDate"`
	ContractValue    string              `json:"contractValue"`
	ContractType     string              `json:"contractType"`
	SolicitationType string              `json:"solicitationType"`
	Description      string              `json:"description"`
	LineItems        []stagedLineRequest `json:"lineItems"`
}

// fieldParser keeps the first parse failure so a request decodes in one pass.
type fieldParser struct {
	err error
}

func (p *fieldParser) date(field, v string) *time.Time {
	t, err := workspace.ParseDate(field, v)
	p.keep(err)
	return t
}

func (p *fieldParser) decimal(field, v string) decimal.NullDecimal {
	d, err := workspace.ParseDecimal(field, v)
	p.keep(err)
	return d
}

func (p *fieldParser) itemType(v string) string {
	t, err := workspace.ParseItemType(v)
	p.keep(err)
	return t
}

func (p *fieldParser) originDestination(field, v string) string {
	od, err := workspace.ParseOriginDestination(field, v)
	p.keep(err)
	return od
}

func (p *fieldParser) keep(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (r createStagedRequest) contract() (staging.Contract, error) {
	var p fieldParser
	c := staging.Contract{
		ContractNumber:   r.ContractNumber,
		BuyerText:        strings.TrimSpace(r.Buyer),
		AwardDate:        p.date("award_date", r.AwardDate),
		DueDate:          p.date("due_date", r.DueDate),
		ContractValue:    p.decimal("contract_value", r.ContractValue),
		ContractType:     strings.TrimSpace(r.ContractType),
		SolicitationType: strings.TrimSpace(r.SolicitationType),
		Description:      strings.TrimSpace(r.Description),
	}
	for i, li := range r.LineItems {
		c.LineItems = append(c.LineItems, staging.LineItem{
			Position:             i + 1,
			ItemNumber:           strings.TrimSpace(li.ItemNumber),
			ItemType:             p.itemType(li.ItemType),
			NSNText:              strings.TrimSpace(li.NSN),
			NSNDescription:       strings.TrimSpace(li.NSNDescription),
			IA:                   p.originDestination("ia", li.IA),
			FOB:                  p.originDestination("fob", li.FOB),
			DueDate:              p.date("due_date", li.DueDate),
			OrderQty:             p.decimal("order_qty", li.OrderQty),
			UOM:                  strings.TrimSpace(li.UOM),
			ItemValue:            p.decimal("item_value", li.ItemValue),
			UnitPrice:            p.decimal("unit_price", li.UnitPrice),
			SupplierText:         strings.TrimSpace(li.Supplier),
			SupplierDueDate:      p.date("supplier_due_date", li.SupplierDueDate),
			SupplierUnitPrice:    p.decimal("supplier_unit_price", li.SupplierUnitPrice),
			SupplierPrice:        p.decimal("supplier_price", li.SupplierPrice),
			SupplierPaymentTerms: strings.TrimSpace(li.SupplierPaymentTerms),
		})
	}
	return c, p.err
}

func (s *Server) handleCreateStaged(c *gin.Context) {
	var req createStagedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	contract, err := req.contract()
	if err != nil {
		s.fail(c, err)
		return
	}
	created, err := s.staging.Create(c.Request.Context(), actor(c), contract)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newStagedResponse(created))
}

type importResponse struct {
	ContractIDs []string `json:"contractIds"`
	Contracts   int      `json:"contracts"`
	LineItems   int      `json:"lineItems"`
}

// handleImport accepts a multipart "file" field holding a .csv or .xlsx sheet.
func (s *Server) handleImport(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorResponse{
				Error: errorBody{Code: "upload_too_large", Message: "upload exceeds the size limit"},
			})
			return
		}
		badRequest(c, "no file provided")
		return
	}
	defer file.Close()

	var result staging.ImportResult
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".csv":
		result, err = s.staging.ImportCSV(c.Request.Context(), actor(c), file)
	case ".xlsx":
		result, err = s.staging.ImportXLSX(c.Request.Context(), actor(c), file)
	default:
		badRequest(c, "only .csv and .xlsx files are accepted")
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, importResponse{
		ContractIDs: result.ContractIDs,
		Contracts:   len(result.ContractIDs),
		LineItems:   result.LineItems,
	})
}

func (s *Server) handleTemplate(c *gin.Context) {
	c.Header("Content-Disposition", `attachment; filename="contract_import_template.csv"`)
	c.Header("Content-Type", "text/csv")
	c.Status(http.StatusOK)
	if err := staging.WriteTemplate(c.Writer); err != nil {
		s.log.Error("write import template", "error", err)
	}
}

func (s *Server) handleDeleteStaged(c *gin.Context) {
	if err := s.staging.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleClaim(c *gin.Context) {
	w, err := s.staging.Claim(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newWorkspaceResponse(w))
}

func (s *Server) handleRelease(c *gin.Context) {
	if err := s.staging.Release(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
