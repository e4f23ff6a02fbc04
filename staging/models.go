package staging

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source records how a staged contract entered the queue.
type Source string

const (
	SourceManual Source = "manual"
	SourceCSV    Source = "csv"
	SourceXLSX   Source = "xlsx"
)

// Claim is the exclusive hold one operator has on a staged contract.
type Claim struct {
	By        string
	At        time.Time
	ExpiresAt time.Time
}

// Expired reports whether the lease has lapsed at now.
func (c Claim) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Contract is an externally sourced contract awaiting processing.
type Contract struct {
	ID               string
	ContractNumber   string
	BuyerText        string
	AwardDate        *time.Time
	DueDate          *time.Time
	ContractValue    decimal.NullDecimal
	ContractType     string
	SolicitationType string
	Description      string
	Source           Source
	Claim            *Claim
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LineItems        []LineItem
	// LineCount is filled by List, which does not load line items.
	LineCount int
}

type LineItem struct {
	ID                   string
	Position             int
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

type Filters struct {
	// Claimed narrows to claimed (true) or unclaimed (false) contracts.
	Claimed   *bool
	ClaimedBy string
	Search    string
	Page      int
	PageSize  int
	SortKey   string
	SortOrder string
}

type ListResult struct {
	Items []Contract
	Total int
}

// ImportResult summarizes a committed import.
type ImportResult struct {
	ContractIDs []string
	LineItems   int
}
