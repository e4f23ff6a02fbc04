package main

import (
	"time"

	"github.com/shopspring/decimal"

	"contractflow/finalize"
	"contractflow/ledger"
	"contractflow/masterdata"
	"contractflow/staging"
	"contractflow/workspace"
)

type claimResponse struct {
	By        string `json:"by"`
	At        string `json:"at"`
	ExpiresAt string `json:"expiresAt"`
}

type stagedLineResponse struct {
	ID                   string              `json:"id"`
	ItemNumber           string              `json:"itemNumber"`
	ItemType             string              `json:"itemType"`
	NSN                  string              `json:"nsn"`
	NSNDescription       string              `json:"nsnDescription"`
	IA                   string              `json:"ia"`
	FOB                  string              `json:"fob"`
	DueDate              *string             `json:"dueDate"`
	OrderQty             decimal.NullDecimal `json:"orderQty"`
	UOM                  string              `json:"uom"`
	ItemValue            decimal.NullDecimal `json:"itemValue"`
	UnitPrice            decimal.NullDecimal `json:"unitPrice"`
	Supplier             string              `json:"supplier"`
	SupplierDueDate      *string             `json:"supplierDueDate"`
	SupplierUnitPrice    decimal.NullDecimal `json:"supplierUnitPrice"`
	SupplierPrice        decimal.NullDecimal `json:"supplierPrice"`
	SupplierPaymentTerms string              `json:"supplierPaymentTerms"`
}

type stagedResponse struct {
	ID               string               `json:"id"`
	ContractNumber   string               `json:"contractNumber"`
	Buyer            string               `json:"buyer"`
	AwardDate        *string              `json:"awardDate"`
	DueDate          *string              `json:"dueDate"`
	ContractValue    decimal.NullDecimal  `json:"contractValue"`
	ContractType     string               `json:"contractType"`
	SolicitationType string               `json:"solicitationType"`
	Description      string               `json:"description"`
	Source           string               `json:"source"`
	Claim            *claimResponse       `json:"claim"`
	CreatedBy        string               `json:"createdBy"`
	CreatedAt        string               `json:"createdAt"`
	LineCount        int                  `json:"lineCount"`
	LineItems        []stagedLineResponse `json:"lineItems,omitempty"`
}

func date(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(workspace.DateLayout)
	return &s
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func newStagedResponse(c staging.Contract) stagedResponse {
	resp := stagedResponse{
		ID:               c.ID,
		ContractNumber:   c.ContractNumber,
		Buyer:            c.BuyerText,
		AwardDate:        date(c.AwardDate),
		DueDate:          date(c.DueDate),
		ContractValue:    c.ContractValue,
		ContractType:     c.ContractType,
		SolicitationType: c.SolicitationType,
		Description:      c.Description,
		Source:           string(c.Source),
		CreatedBy:        c.CreatedBy,
		CreatedAt:        timestamp(c.CreatedAt),
		LineCount:        c.LineCount,
	}
	if c.Claim != nil {
		resp.Claim = &claimResponse{By: c.Claim.By, At: timestamp(c.Claim.At), ExpiresAt: timestamp(c.Claim.ExpiresAt)}
	}
	if len(c.LineItems) > 0 {
		resp.LineCount = len(c.LineItems)
	}
	for _, li := range c.LineItems {
		resp.LineItems = append(resp.LineItems, stagedLineResponse{
			ID:                   li.ID,
			ItemNumber:           li.ItemNumber,
			ItemType:             li.ItemType,
			NSN:                  li.NSNText,
			NSNDescription:       li.NSNDescription,
			IA:                   li.IA,
			FOB:                  li.FOB,
			DueDate:              date(li.DueDate),
			OrderQty:             li.OrderQty,
			UOM:                  li.UOM,
			ItemValue:            li.ItemValue,
			UnitPrice:            li.UnitPrice,
			Supplier:             li.SupplierText,
			SupplierDueDate:      date(li.SupplierDueDate),
			SupplierUnitPrice:    li.SupplierUnitPrice,
			SupplierPrice:        li.SupplierPrice,
			SupplierPaymentTerms: li.SupplierPaymentTerms,
		})
	}
	return resp
}

type lineItemResponse struct {
	ID                   string               `json:"id"`
	ItemNumber           string               `json:"itemNumber"`
	ItemType             string               `json:"itemType"`
	NSN                  masterdata.Reference `json:"nsn"`
	NSNDescription       string               `json:"nsnDescription"`
	Supplier             masterdata.Reference `json:"supplier"`
	IA                   string               `json:"ia"`
	FOB                  string               `json:"fob"`
	UOM                  string               `json:"uom"`
	Description          string               `json:"description"`
	OrderQty             decimal.NullDecimal  `json:"orderQty"`
	UnitPrice            decimal.NullDecimal  `json:"unitPrice"`
	ItemValue            decimal.NullDecimal  `json:"itemValue"`
	PricePerUnit         decimal.NullDecimal  `json:"pricePerUnit"`
	QuoteValue           decimal.NullDecimal  `json:"quoteValue"`
	DueDate              *string              `json:"dueDate"`
	SupplierDueDate      *string              `json:"supplierDueDate"`
	SupplierUnitPrice    decimal.NullDecimal  `json:"supplierUnitPrice"`
	SupplierPrice        decimal.NullDecimal  `json:"supplierPrice"`
	SupplierPaymentTerms string               `json:"supplierPaymentTerms"`
}

type splitResponse struct {
	ID          string          `json:"id"`
	CompanyName string          `json:"companyName"`
	Value       decimal.Decimal `json:"value"`
	Paid        decimal.Decimal `json:"paid"`
	Synthetic   bool            `json:"synthetic"`
}

type workspaceResponse struct {
	ID                    string               `json:"id"`
	StagedContractID      string               `json:"stagedContractId"`
	ContractNumber        string               `json:"contractNumber"`
	Buyer                 masterdata.Reference `json:"buyer"`
	IDIQ                  masterdata.Reference `json:"idiq"`
	AwardDate             *string              `json:"awardDate"`
	DueDate               *string              `json:"dueDate"`
	ContractValue         decimal.NullDecimal  `json:"contractValue"`
	PlanGross             decimal.NullDecimal  `json:"planGross"`
	ContractValueOverride bool                 `json:"contractValueOverride"`
	PlanGrossOverride     bool                 `json:"planGrossOverride"`
	ContractType          string               `json:"contractType"`
	SolicitationType      string               `json:"solicitationType"`
	Description           string               `json:"description"`
	SalesClass            string               `json:"salesClass"`
	NIST                  *bool                `json:"nist"`
	PONumber              *int64               `json:"poNumber"`
	TabNumber             *int64               `json:"tabNumber"`
	Status                string               `json:"status"`
	ClaimedBy             string               `json:"claimedBy"`
	ClaimExpiresAt        *string              `json:"claimExpiresAt"`
	ModifiedBy            string               `json:"modifiedBy"`
	UpdatedAt             string               `json:"updatedAt"`
	LineItems             []lineItemResponse   `json:"lineItems"`
	Splits                []splitResponse      `json:"splits"`
}

func newWorkspaceResponse(w workspace.Workspace) workspaceResponse {
	resp := workspaceResponse{
		ID:                    w.ID,
		StagedContractID:      w.StagedContractID,
		ContractNumber:        w.ContractNumber,
		Buyer:                 w.Buyer,
		IDIQ:                  w.IDIQ,
		AwardDate:             date(w.AwardDate),
		DueDate:               date(w.DueDate),
		ContractValue:         w.ContractValue,
		PlanGross:             w.PlanGross,
		ContractValueOverride: w.ContractValueOverride,
		PlanGrossOverride:     w.PlanGrossOverride,
		ContractType:          w.ContractType,
		SolicitationType:      w.SolicitationType,
		Description:           w.Description,
		SalesClass:            w.SalesClass,
		NIST:                  w.NIST,
		PONumber:              w.PONumber,
		TabNumber:             w.TabNumber,
		Status:                string(w.Status),
		ClaimedBy:             w.ClaimedBy,
		ModifiedBy:            w.ModifiedBy,
		UpdatedAt:             timestamp(w.UpdatedAt),
		LineItems:             make([]lineItemResponse, 0, len(w.LineItems)),
		Splits:                make([]splitResponse, 0, len(w.Splits)),
	}
	if w.ClaimExpiresAt != nil {
		exp := timestamp(*w.ClaimExpiresAt)
		resp.ClaimExpiresAt = &exp
	}
	for _, li := range w.LineItems {
		resp.LineItems = append(resp.LineItems, lineItemResponse{
			ID:                   li.ID,
			ItemNumber:           li.ItemNumber,
			ItemType:             li.ItemType,
			NSN:                  li.NSN,
			NSNDescription:       li.NSNDescription,
			Supplier:             li.Supplier,
			IA:                   li.IA,
			FOB:                  li.FOB,
			UOM:                  li.UOM,
			Description:          li.Description,
			OrderQty:             li.OrderQty,
			UnitPrice:            li.UnitPrice,
			ItemValue:            li.ItemValue,
			PricePerUnit:         li.PricePerUnit,
			QuoteValue:           li.QuoteValue,
			DueDate:              date(li.DueDate),
			SupplierDueDate:      date(li.SupplierDueDate),
			SupplierUnitPrice:    li.SupplierUnitPrice,
			SupplierPrice:        li.SupplierPrice,
			SupplierPaymentTerms: li.SupplierPaymentTerms,
		})
	}
	for _, sp := range w.Splits {
		resp.Splits = append(resp.Splits, splitResponse{
			ID:          sp.ID,
			CompanyName: sp.CompanyName,
			Value:       sp.Value,
			Paid:        sp.Paid,
			Synthetic:   sp.Synthetic,
		})
	}
	return resp
}

type finalizeResponse struct {
	ContractID   string                `json:"contractId"`
	PONumber     int64                 `json:"poNumber"`
	TabNumber    int64                 `json:"tabNumber"`
	Notification finalize.Notification `json:"notification"`
}

type clinResponse struct {
	ID          string              `json:"id"`
	ItemNumber  string              `json:"itemNumber"`
	ItemType    string              `json:"itemType"`
	ClinPONum   string              `json:"clinPoNum"`
	TabNumber   int64               `json:"tabNumber"`
	NSNID       string              `json:"nsnId"`
	SupplierID  string              `json:"supplierId"`
	OrderQty    decimal.NullDecimal `json:"orderQty"`
	UnitPrice   decimal.NullDecimal `json:"unitPrice"`
	ItemValue   decimal.NullDecimal `json:"itemValue"`
	QuoteValue  decimal.NullDecimal `json:"quoteValue"`
	DueDate     *string             `json:"dueDate"`
	Description string              `json:"description"`
}

type contractResponse struct {
	ID               string          `json:"id"`
	ContractNumber   string          `json:"contractNumber"`
	PONumber         int64           `json:"poNumber"`
	TabNumber        int64           `json:"tabNumber"`
	BuyerID          string          `json:"buyerId"`
	IDIQID           *string         `json:"idiqId"`
	AwardDate        string          `json:"awardDate"`
	DueDate          *string         `json:"dueDate"`
	ContractValue    decimal.Decimal `json:"contractValue"`
	PlanGross        decimal.Decimal `json:"planGross"`
	ContractType     string          `json:"contractType"`
	SolicitationType string          `json:"solicitationType"`
	Description      string          `json:"description"`
	SalesClass       string          `json:"salesClass"`
	NIST             *bool           `json:"nist"`
	Status           string          `json:"status"`
	CreatedBy        string          `json:"createdBy"`
	CreatedAt        string          `json:"createdAt"`
	Clins            []clinResponse  `json:"clins"`
	Splits           []splitResponse `json:"splits"`
}

func newContractResponse(c finalize.Contract) contractResponse {
	resp := contractResponse{
		ID:               c.ID,
		ContractNumber:   c.ContractNumber,
		PONumber:         c.PONumber,
		TabNumber:        c.TabNumber,
		BuyerID:          c.BuyerID,
		IDIQID:           c.IDIQID,
		AwardDate:        c.AwardDate.Format(workspace.DateLayout),
		DueDate:          date(c.DueDate),
		ContractValue:    c.ContractValue,
		PlanGross:        c.PlanGross,
		ContractType:     c.ContractType,
		SolicitationType: c.SolicitationType,
		Description:      c.Description,
		SalesClass:       c.SalesClass,
		NIST:             c.NIST,
		Status:           c.Status,
		CreatedBy:        c.CreatedBy,
		CreatedAt:        timestamp(c.CreatedAt),
		Clins:            make([]clinResponse, 0, len(c.Clins)),
		Splits:           make([]splitResponse, 0, len(c.Splits)),
	}
	for _, cl := range c.Clins {
		resp.Clins = append(resp.Clins, clinResponse{
			ID:          cl.ID,
			ItemNumber:  cl.ItemNumber,
			ItemType:    cl.ItemType,
			ClinPONum:   cl.ClinPONum,
			TabNumber:   cl.TabNumber,
			NSNID:       cl.NSNID,
			SupplierID:  cl.SupplierID,
			OrderQty:    cl.OrderQty,
			UnitPrice:   cl.UnitPrice,
			ItemValue:   cl.ItemValue,
			QuoteValue:  cl.QuoteValue,
			DueDate:     date(cl.DueDate),
			Description: cl.Description,
		})
	}
	for _, sp := range c.Splits {
		resp.Splits = append(resp.Splits, splitResponse{
			ID:          sp.ID,
			CompanyName: sp.CompanyName,
			Value:       sp.Value,
			Paid:        sp.Paid,
		})
	}
	return resp
}

type paymentResponse struct {
	ID          int64           `json:"id"`
	Kind        string          `json:"kind"`
	EntityID    string          `json:"entityId"`
	PaymentType string          `json:"paymentType"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate string          `json:"paymentDate"`
	Info        string          `json:"info"`
	Reference   string          `json:"reference"`
	CreatedBy   string          `json:"createdBy"`
}

func newPaymentResponse(e ledger.Entry) paymentResponse {
	return paymentResponse{
		ID:          e.ID,
		Kind:        string(e.Kind),
		EntityID:    e.EntityID,
		PaymentType: string(e.Type),
		Amount:      e.Amount,
		PaymentDate: e.Date.Format(workspace.DateLayout),
		Info:        e.Info,
		Reference:   e.Reference,
		CreatedBy:   e.CreatedBy,
	}
}
