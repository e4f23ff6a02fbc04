package workspace

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownField = errors.New("workspace: unknown field")
	// ErrMatcherOwnedField rejects direct edits to fields that only the matcher may change.
	ErrMatcherOwnedField = errors.New("workspace: field can only be changed through matching")
	ErrInvalidValue      = errors.New("workspace: invalid value")
)

// FieldError reports a value that failed type or enum validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("workspace: %s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidValue }

const DateLayout = "2006-01-02"

// ContractTypes are the accepted contract-type values.
var ContractTypes = []string{"Unilateral", "Bilateral", "IDIQ", "Delivery Order", "Purchase Order"}

// ItemTypes maps CLIN type codes to names.
var ItemTypes = map[string]string{
	"P": "Production",
	"G": "GFAT",
	"C": "CFAT",
	"L": "PLT",
	"M": "Miscellaneous",
}

var matcherOwnedContract = map[string]bool{
	"buyer": true, "buyer_text": true, "buyer_id": true,
	"idiq": true, "idiq_text": true, "idiq_id": true,
}

var matcherOwnedLine = map[string]bool{
	"nsn": true, "nsn_text": true, "nsn_id": true, "nsn_description": true,
	"supplier": true, "supplier_text": true, "supplier_id": true,
}

// ContractFields lists the header fields accepted by SetContractField.
var ContractFields = []string{
	"contract_number", "award_date", "due_date", "contract_value", "plan_gross",
	"contract_type", "solicitation_type", "description", "sales_class", "nist",
}

// LineItemFields lists the fields accepted by SetLineItemField.
var LineItemFields = []string{
	"item_number", "item_type", "ia", "fob", "uom", "description",
	"order_qty", "unit_price", "price_per_unit", "supplier_unit_price", "supplier_price",
	"due_date", "supplier_due_date", "supplier_payment_terms",
}

func normalizeField(field string) string {
	return strings.ToLower(strings.TrimSpace(field))
}

// applyContractField validates value and writes it into w. contract_number is
// only shape-checked here; uniqueness needs the database.
func applyContractField(w *Workspace, field, value string) error {
	field = normalizeField(field)
	value = strings.TrimSpace(value)
	if matcherOwnedContract[field] {
		return fmt.Errorf("%w: %s", ErrMatcherOwnedField, field)
	}

	switch field {
	case "contract_number":
		if value == "" {
			return &FieldError{Field: field, Reason: "is required"}
		}
		w.ContractNumber = value
	case "award_date":
		t, err := ParseDate(field, value)
		if err != nil {
			return err
		}
		if err := checkDateOrder(t, w.DueDate); err != nil {
			return err
		}
		w.AwardDate = t
	case "due_date":
		t, err := ParseDate(field, value)
		if err != nil {
			return err
		}
		if err := checkDateOrder(w.AwardDate, t); err != nil {
			return err
		}
		w.DueDate = t
	case "contract_value":
		v, err := ParseDecimal(field, value)
		if err != nil {
			return err
		}
		w.ContractValue = v
		w.ContractValueOverride = v.Valid
	case "plan_gross":
		v, err := ParseDecimal(field, value)
		if err != nil {
			return err
		}
		w.PlanGross = v
		w.PlanGrossOverride = v.Valid
	case "contract_type":
		v, err := parseEnum(field, value, ContractTypes)
		if err != nil {
			return err
		}
		w.ContractType = v
	case "solicitation_type":
		if len(value) > 20 {
			return &FieldError{Field: field, Reason: "must be at most 20 characters"}
		}
		w.SolicitationType = strings.ToUpper(value)
	case "description":
		w.Description = value
	case "sales_class":
		w.SalesClass = value
	case "nist":
		b, err := ParseBool(field, value)
		if err != nil {
			return err
		}
		w.NIST = b
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

func applyLineItemField(li *LineItem, field, value string) error {
	field = normalizeField(field)
	value = strings.TrimSpace(value)
	if matcherOwnedLine[field] {
		return fmt.Errorf("%w: %s", ErrMatcherOwnedField, field)
	}

	switch field {
	case "item_number":
		if value == "" {
			return &FieldError{Field: field, Reason: "is required"}
		}
		li.ItemNumber = value
	case "item_type":
		v, err := ParseItemType(value)
		if err != nil {
			return err
		}
		li.ItemType = v
	case "ia", "fob":
		v, err := ParseOriginDestination(field, value)
		if err != nil {
			return err
		}
		if field == "ia" {
			li.IA = v
		} else {
			li.FOB = v
		}
	case "uom":
		li.UOM = strings.ToUpper(value)
	case "description":
		li.Description = value
	case "order_qty", "unit_price", "price_per_unit", "supplier_unit_price", "supplier_price":
		v, err := ParseDecimal(field, value)
		if err != nil {
			return err
		}
		if v.Valid && v.Decimal.IsNegative() {
			return &FieldError{Field: field, Reason: "must not be negative"}
		}
		switch field {
		case "order_qty":
			li.ItemValue = rederive(li.ItemValue, li.OrderQty, li.UnitPrice, v, li.UnitPrice)
			li.QuoteValue = rederive(li.QuoteValue, li.OrderQty, li.PricePerUnit, v, li.PricePerUnit)
			li.OrderQty = v
		case "unit_price":
			li.ItemValue = rederive(li.ItemValue, li.OrderQty, li.UnitPrice, li.OrderQty, v)
			li.UnitPrice = v
		case "price_per_unit":
			li.QuoteValue = rederive(li.QuoteValue, li.OrderQty, li.PricePerUnit, li.OrderQty, v)
			li.PricePerUnit = v
		case "supplier_unit_price":
			li.SupplierUnitPrice = v
		case "supplier_price":
			li.SupplierPrice = v
		}
	case "due_date", "supplier_due_date":
		t, err := ParseDate(field, value)
		if err != nil {
			return err
		}
		if field == "due_date" {
			li.DueDate = t
		} else {
			li.SupplierDueDate = t
		}
	case "supplier_payment_terms":
		li.SupplierPaymentTerms = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

// ParseDate accepts YYYY-MM-DD; empty means unset.
func ParseDate(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return nil, &FieldError{Field: field, Reason: fmt.Sprintf("%q is not a YYYY-MM-DD date", value)}
	}
	return &t, nil
}

// ParseDecimal accepts plain or comma-grouped numbers with an optional
// leading "$"; empty means unset.
func ParseDecimal(field, value string) (decimal.NullDecimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.NullDecimal{}, nil
	}
	clean := strings.ReplaceAll(strings.TrimPrefix(value, "$"), ",", "")
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.NullDecimal{}, &FieldError{Field: field, Reason: fmt.Sprintf("%q is not a number", value)}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

// ParseBool accepts yes/true/1 and no/false/0; empty means unset.
func ParseBool(field, value string) (*bool, error) {
	var b bool
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return nil, nil
	case "yes", "true", "1", "y":
		b = true
	case "no", "false", "0", "n":
		b = false
	default:
		return nil, &FieldError{Field: field, Reason: fmt.Sprintf("%q is not yes/no", value)}
	}
	return &b, nil
}

// ParseItemType accepts a CLIN type code or its name and returns the code.
func ParseItemType(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	if _, ok := ItemTypes[strings.ToUpper(value)]; ok {
		return strings.ToUpper(value), nil
	}
	for code, name := range ItemTypes {
		if strings.EqualFold(name, value) {
			return code, nil
		}
	}
	return "", &FieldError{Field: "item_type", Reason: fmt.Sprintf("%q is not one of P, G, C, L, M", value)}
}

// ParseOriginDestination accepts O/D (or Origin/Destination).
func ParseOriginDestination(field, value string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "":
		return "", nil
	case "O", "ORIGIN":
		return "O", nil
	case "D", "DESTINATION":
		return "D", nil
	}
	return "", &FieldError{Field: field, Reason: fmt.Sprintf("%q must be O or D", value)}
}

func parseEnum(field, value string, allowed []string) (string, error) {
	if value == "" {
		return "", nil
	}
	for _, a := range allowed {
		if strings.EqualFold(a, value) {
			return a, nil
		}
	}
	return "", &FieldError{Field: field, Reason: fmt.Sprintf("%q is not one of %s", value, strings.Join(allowed, ", "))}
}

func checkDateOrder(award, due *time.Time) error {
	if award != nil && due != nil && due.Before(*award) {
		return &FieldError{Field: "due_date", Reason: "is before the award date"}
	}
	return nil
}
