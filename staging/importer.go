package staging

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"contractflow/contractnum"
	"contractflow/workspace"
)

var (
	ErrMalformedImportRow = errors.New("staging: malformed import row")
	ErrEmptyImport        = errors.New("staging: import contains no rows")
	ErrImportTooLarge     = errors.New("staging: import exceeds the row limit")
)

// MalformedRowError identifies the first rejected row. Row is the 1-based
// line (or sheet row) in the uploaded file, header included.
type MalformedRowError struct {
	Row    int
	Column string
	Reason string
}

func (e *MalformedRowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("staging: row %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("staging: row %d, column %q: %s", e.Row, e.Column, e.Reason)
}

func (e *MalformedRowError) Unwrap() error { return ErrMalformedImportRow }

// Columns is the import layout, in order. "Due Date" appears twice: the
// first is the contract's, the second the line item's.
var Columns = []string{
	"Contract Number",
	"Buyer",
	"Award Date",
	"Due Date",
	"Contract Value",
	"Contract Type",
	"Solicitation Type",
	"Item Number",
	"Item Type",
	"NSN",
	"NSN Description",
	"IA",
	"FOB",
	"Due Date",
	"Order Qty",
	"UOM",
	"Item Value",
	"Unit Price",
	"Supplier",
	"Supplier Due Date",
	"Supplier Unit Price",
	"Supplier Price",
	"Supplier Payment Terms",
}

const (
	colContractNumber = iota
	colBuyer
	colAwardDate
	colContractDueDate
	colContractValue
	colContractType
	colSolicitationType
	colItemNumber
	colItemType
	colNSN
	colNSNDescription
	colIA
	colFOB
	colLineDueDate
	colOrderQty
	colUOM
	colItemValue
	colUnitPrice
	colSupplier
	colSupplierDueDate
	colSupplierUnitPrice
	colSupplierPrice
	colSupplierPaymentTerms
)

// exampleRow is written below the header by WriteTemplate.
var exampleRow = []string{
	"W52P1J-24-C-0001", "DLA LAND AND MARITIME", "2024-01-15", "2024-06-30", "100000.00",
	"Purchase Order", "SDVOSB", "0001", "P", "5935-01-123-4567", "CONNECTOR, PLUG, ELECTRICAL",
	"O", "D", "2024-06-30", "100", "EA", "", "50.00", "ACME DEFENSE", "2024-05-31",
	"40.00", "4000.00", "NET 30",
}

// WriteTemplate writes the import header and one example row as CSV.
func WriteTemplate(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("staging: write template: %w", err)
	}
	if err := cw.Write(exampleRow); err != nil {
		return fmt.Errorf("staging: write template: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// sheetRow is one raw record with its position in the source file.
type sheetRow struct {
	line   int
	fields []string
}

func readCSV(r io.Reader, maxRows int) ([]sheetRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []sheetRow
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, &MalformedRowError{Row: pe.StartLine, Reason: pe.Err.Error()}
			}
			return nil, fmt.Errorf("staging: read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		out = append(out, sheetRow{line: line, fields: fields})
		if maxRows > 0 && len(out) > maxRows+1 {
			return nil, fmt.Errorf("%w (%d)", ErrImportTooLarge, maxRows)
		}
	}
	return out, nil
}

func readXLSX(r io.Reader, maxRows int) ([]sheetRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("staging: open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, ErrEmptyImport
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("staging: read sheet %q: %w", sheet, err)
	}
	if maxRows > 0 && len(rows) > maxRows+1 {
		return nil, fmt.Errorf("%w (%d)", ErrImportTooLarge, maxRows)
	}

	out := make([]sheetRow, 0, len(rows))
	for i, fields := range rows {
		out = append(out, sheetRow{line: i + 1, fields: fields})
	}
	return out, nil
}

func checkHeader(row sheetRow) error {
	if len(row.fields) != len(Columns) {
		return &MalformedRowError{Row: row.line, Reason: fmt.Sprintf("header has %d columns, expected %d", len(row.fields), len(Columns))}
	}
	for i, want := range Columns {
		got := strings.Join(strings.Fields(strings.TrimPrefix(row.fields[i], "\ufeff")), " ")
		if !strings.EqualFold(got, want) {
			return &MalformedRowError{Row: row.line, Column: want, Reason: fmt.Sprintf("header %d is %q", i+1, row.fields[i])}
		}
	}
	return nil
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// parseRows validates every record and groups them into contracts, one per
// distinct contract number, in first-seen order. No partial result is
// returned on error.
func parseRows(rows []sheetRow, source Source, actor string) ([]Contract, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyImport
	}
	if err := checkHeader(rows[0]); err != nil {
		return nil, err
	}

	var (
		contracts []Contract
		index     = map[string]int{}
	)
	for _, row := range rows[1:] {
		if blank(row.fields) {
			continue
		}
		if len(row.fields) > len(Columns) {
			return nil, &MalformedRowError{Row: row.line, Reason: fmt.Sprintf("has %d columns, expected %d", len(row.fields), len(Columns))}
		}
		fields := make([]string, len(Columns))
		for i := range row.fields {
			fields[i] = strings.TrimSpace(row.fields[i])
		}

		p := rowParser{line: row.line, fields: fields}
		header := p.contract()
		line := p.lineItem()
		if p.err != nil {
			return nil, p.err
		}
		header.Source = source
		header.CreatedBy = actor

		key := strings.ToLower(header.ContractNumber)
		i, seen := index[key]
		if !seen {
			index[key] = len(contracts)
			header.LineItems = []LineItem{line}
			contracts = append(contracts, header)
			continue
		}
		if err := merge(&contracts[i], header, row.line); err != nil {
			return nil, err
		}
		contracts[i].LineItems = append(contracts[i].LineItems, line)
	}

	if len(contracts) == 0 {
		return nil, ErrEmptyImport
	}
	return contracts, nil
}

// merge folds the contract-level values of a later row into c. Empty cells
// inherit; different non-empty values are a conflict.
func merge(c *Contract, next Contract, line int) error {
	conflict := func(col int) error {
		return &MalformedRowError{Row: line, Column: Columns[col], Reason: fmt.Sprintf("conflicts with an earlier row for contract %q", c.ContractNumber)}
	}

	if next.BuyerText != "" {
		if c.BuyerText != "" && !strings.EqualFold(c.BuyerText, next.BuyerText) {
			return conflict(colBuyer)
		}
		c.BuyerText = next.BuyerText
	}
	if next.AwardDate != nil {
		if c.AwardDate != nil && !c.AwardDate.Equal(*next.AwardDate) {
			return conflict(colAwardDate)
		}
		c.AwardDate = next.AwardDate
	}
	if next.DueDate != nil {
		if c.DueDate != nil && !c.DueDate.Equal(*next.DueDate) {
			return conflict(colContractDueDate)
		}
		c.DueDate = next.DueDate
	}
	if next.ContractValue.Valid {
		if c.ContractValue.Valid && !c.ContractValue.Decimal.Equal(next.ContractValue.Decimal) {
			return conflict(colContractValue)
		}
		c.ContractValue = next.ContractValue
	}
	if next.ContractType != "" {
		if c.ContractType != "" && !strings.EqualFold(c.ContractType, next.ContractType) {
			return conflict(colContractType)
		}
		c.ContractType = next.ContractType
	}
	if next.SolicitationType != "" {
		if c.SolicitationType != "" && !strings.EqualFold(c.SolicitationType, next.SolicitationType) {
			return conflict(colSolicitationType)
		}
		c.SolicitationType = next.SolicitationType
	}
	return nil
}

// rowParser keeps the first error so a row reads as a flat list of fields.
type rowParser struct {
	line   int
	fields []string
	err    error
}

func (p *rowParser) fail(col int, reason string) {
	if p.err == nil {
		p.err = &MalformedRowError{Row: p.line, Column: Columns[col], Reason: reason}
	}
}

func (p *rowParser) reason(err error) string {
	var fe *workspace.FieldError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return err.Error()
}

func (p *rowParser) text(col int) string {
	return p.fields[col]
}

func (p *rowParser) required(col int) string {
	v := p.fields[col]
	if v == "" {
		p.fail(col, "is required")
	}
	return v
}

func (p *rowParser) date(col int) *time.Time {
	t, err := workspace.ParseDate(Columns[col], p.fields[col])
	if err != nil {
		p.fail(col, p.reason(err))
	}
	return t
}

func (p *rowParser) decimal(col int) decimal.NullDecimal {
	d, err := workspace.ParseDecimal(Columns[col], p.fields[col])
	if err != nil {
		p.fail(col, p.reason(err))
		return d
	}
	if d.Valid && d.Decimal.IsNegative() {
		p.fail(col, "must not be negative")
	}
	return d
}

func (p *rowParser) originDestination(col int) string {
	v, err := workspace.ParseOriginDestination(Columns[col], p.fields[col])
	if err != nil {
		p.fail(col, p.reason(err))
	}
	return v
}

func (p *rowParser) itemType() string {
	v, err := workspace.ParseItemType(p.fields[colItemType])
	if err != nil {
		p.fail(colItemType, p.reason(err))
	}
	return v
}

func (p *rowParser) contract() Contract {
	c := Contract{
		ContractNumber:   contractnum.Normalize(p.required(colContractNumber)),
		BuyerText:        p.text(colBuyer),
		AwardDate:        p.date(colAwardDate),
		DueDate:          p.date(colContractDueDate),
		ContractValue:    p.decimal(colContractValue),
		ContractType:     p.text(colContractType),
		SolicitationType: strings.ToUpper(p.text(colSolicitationType)),
	}
	if c.AwardDate != nil && c.DueDate != nil && c.DueDate.Before(*c.AwardDate) {
		p.fail(colContractDueDate, "is before the award date")
	}
	return c
}

func (p *rowParser) lineItem() LineItem {
	return LineItem{
		ItemNumber:           p.required(colItemNumber),
		ItemType:             p.itemType(),
		NSNText:              p.text(colNSN),
		NSNDescription:       p.text(colNSNDescription),
		IA:                   p.originDestination(colIA),
		FOB:                  p.originDestination(colFOB),
		DueDate:              p.date(colLineDueDate),
		OrderQty:             p.decimal(colOrderQty),
		UOM:                  strings.ToUpper(p.text(colUOM)),
		ItemValue:            p.decimal(colItemValue),
		UnitPrice:            p.decimal(colUnitPrice),
		SupplierText:         p.text(colSupplier),
		SupplierDueDate:      p.date(colSupplierDueDate),
		SupplierUnitPrice:    p.decimal(colSupplierUnitPrice),
		SupplierPrice:        p.decimal(colSupplierPrice),
		SupplierPaymentTerms: p.text(colSupplierPaymentTerms),
	}
}
