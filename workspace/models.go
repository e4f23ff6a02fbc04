package workspace

import (
	"time"

	"github.com/shopspring/decimal"

	"contractflow/masterdata"
)

// Workspace is the editable working copy of one claimed staged contract.
type Workspace struct {
	ID               string
	StagedContractID string
	ContractNumber   string
	Buyer            masterdata.Reference
	IDIQ             masterdata.Reference
	AwardDate        *time.Time
	DueDate          *time.Time
	ContractValue    decimal.NullDecimal
	PlanGross        decimal.NullDecimal
	// Override flags mark values typed by the operator (or supplied by the
	// source); derived totals never replace them.
	ContractValueOverride bool
	PlanGrossOverride     bool
	ContractType          string
	SolicitationType      string
	Description           string
	SalesClass            string
	NIST                  *bool
	PONumber              *int64
	TabNumber             *int64
	Status                Status
	ClaimedBy             string
	ClaimExpiresAt        *time.Time
	CreatedBy             string
	ModifiedBy            string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	LineItems             []LineItem
	Splits                []Split
}

type LineItem struct {
	ID                   string
	Position             int
	ItemNumber           string
	ItemType             string
	NSN                  masterdata.Reference
	NSNDescription       string
	Supplier             masterdata.Reference
	IA                   string
	FOB                  string
	UOM                  string
	Description          string
	OrderQty             decimal.NullDecimal
	UnitPrice            decimal.NullDecimal
	ItemValue            decimal.NullDecimal
	PricePerUnit         decimal.NullDecimal
	QuoteValue           decimal.NullDecimal
	DueDate              *time.Time
	SupplierDueDate      *time.Time
	SupplierUnitPrice    decimal.NullDecimal
	SupplierPrice        decimal.NullDecimal
	SupplierPaymentTerms string
}

type Split struct {
	ID          string
	CompanyName string
	Value       decimal.Decimal
	Paid        decimal.Decimal
	Synthetic   bool
}

// LineItem returns a pointer to the line with id, or nil.
func (w *Workspace) LineItem(id string) *LineItem {
	for i := range w.LineItems {
		if w.LineItems[i].ID == id {
			return &w.LineItems[i]
		}
	}
	return nil
}

func (w *Workspace) split(id string) *Split {
	for i := range w.Splits {
		if w.Splits[i].ID == id {
			return &w.Splits[i]
		}
	}
	return nil
}

// SplitTotal sums every split value, synthetic included.
func (w *Workspace) SplitTotal() decimal.Decimal {
	total := decimal.Zero
	for _, s := range w.Splits {
		total = total.Add(s.Value)
	}
	return total
}

// NewParams seeds a workspace at claim time.
type NewParams struct {
	StagedContractID string
	ContractNumber   string
	BuyerText        string
	AwardDate        *time.Time
	DueDate          *time.Time
	ContractValue    decimal.NullDecimal
	ContractType     string
	SolicitationType string
	Description      string
	PONumber         int64
	TabNumber        int64
	CreatedBy        string
	LineItems        []NewLineItem
}

type NewLineItem struct {
	ItemNumber           string
	ItemType             string
	NSNText              string
	NSNDescription       string
	IA                   string
	FOB                  string
	DueDate              *time.Time
	OrderQty             decimal.NullDecimal
	UOM                  string
	ItemValue            decimal.NullDecimal
	UnitPrice            decimal.NullDecimal
	SupplierText         string
	SupplierDueDate      *time.Time
	SupplierUnitPrice    decimal.NullDecimal
	SupplierPrice        decimal.NullDecimal
	SupplierPaymentTerms string
}
