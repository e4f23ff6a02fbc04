package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"contractflow/contractnum"
	"contractflow/finalize"
	"contractflow/ledger"
	"contractflow/masterdata"
	"contractflow/matcher"
	"contractflow/operator"
	"contractflow/staging"
	"contractflow/workspace"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type statusRule struct {
	target error
	status int
	code   string
}

// statusRules is checked in order; the first errors.Is match wins.
var statusRules = []statusRule{
	{operator.ErrInvalidToken, http.StatusUnauthorized, "unauthorized"},

	{workspace.ErrNotClaimant, http.StatusForbidden, "not_claimant"},

	{staging.ErrNotFound, http.StatusNotFound, "not_found"},
	{workspace.ErrNotFound, http.StatusNotFound, "not_found"},
	{workspace.ErrLineItemNotFound, http.StatusNotFound, "not_found"},
	{workspace.ErrSplitNotFound, http.StatusNotFound, "not_found"},
	{finalize.ErrContractNotFound, http.StatusNotFound, "not_found"},

	{contractnum.ErrDuplicate, http.StatusConflict, "duplicate_contract_number"},
	{staging.ErrAlreadyClaimed, http.StatusConflict, "already_claimed"},
	{staging.ErrClaimed, http.StatusConflict, "claimed"},
	{workspace.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{masterdata.ErrDuplicateNaturalKey, http.StatusConflict, "duplicate_record"},

	{staging.ErrImportTooLarge, http.StatusRequestEntityTooLarge, "import_too_large"},

	{finalize.ErrValidationFailed, http.StatusUnprocessableEntity, "validation_failed"},
	{staging.ErrMalformedImportRow, http.StatusUnprocessableEntity, "malformed_import_row"},
	{staging.ErrEmptyImport, http.StatusUnprocessableEntity, "empty_import"},
	{staging.ErrContractNumberRequired, http.StatusUnprocessableEntity, "invalid_value"},
	{masterdata.ErrUnknownCanonicalReference, http.StatusUnprocessableEntity, "unknown_reference"},
	{masterdata.ErrUnknownKind, http.StatusUnprocessableEntity, "unknown_kind"},
	{masterdata.ErrEmptyKey, http.StatusUnprocessableEntity, "invalid_value"},
	{matcher.ErrTargetMismatch, http.StatusUnprocessableEntity, "target_mismatch"},
	{matcher.ErrEmptyQuery, http.StatusUnprocessableEntity, "invalid_value"},
	{workspace.ErrMatcherOwnedField, http.StatusUnprocessableEntity, "matcher_owned_field"},
	{workspace.ErrUnknownField, http.StatusUnprocessableEntity, "unknown_field"},
	{workspace.ErrInvalidValue, http.StatusUnprocessableEntity, "invalid_value"},
	{workspace.ErrBuyerNotMatched, http.StatusUnprocessableEntity, "buyer_not_matched"},
	{workspace.ErrSyntheticSplit, http.StatusUnprocessableEntity, "synthetic_split"},
	{workspace.ErrCompanyRequired, http.StatusUnprocessableEntity, "invalid_value"},
	{workspace.ErrReservedSplitName, http.StatusUnprocessableEntity, "invalid_value"},
	{ledger.ErrUnknownKind, http.StatusUnprocessableEntity, "unknown_kind"},
	{ledger.ErrTypeNotAllowed, http.StatusUnprocessableEntity, "invalid_value"},
	{ledger.ErrMissingEntityID, http.StatusUnprocessableEntity, "invalid_value"},
}

// classify maps a service error onto a status, a stable code and any
// structured details the client can act on.
func classify(err error) (int, errorBody) {
	for _, rule := range statusRules {
		if errors.Is(err, rule.target) {
			return rule.status, errorBody{Code: rule.code, Message: err.Error(), Details: details(err)}
		}
	}
	return http.StatusInternalServerError, errorBody{Code: "internal", Message: "internal server error"}
}

func details(err error) any {
	var conflict *staging.ClaimConflictError
	if errors.As(err, &conflict) {
		return gin.H{
			"holder":    conflict.Holder,
			"since":     conflict.Since,
			"expiresAt": conflict.ExpiresAt,
		}
	}
	var invalid *finalize.ValidationError
	if errors.As(err, &invalid) {
		return gin.H{"reasons": invalid.Reasons}
	}
	var malformed *staging.MalformedRowError
	if errors.As(err, &malformed) {
		return gin.H{"row": malformed.Row, "column": malformed.Column, "reason": malformed.Reason}
	}
	var field *workspace.FieldError
	if errors.As(err, &field) {
		return gin.H{"field": field.Field, "reason": field.Reason}
	}
	var dup *contractnum.DuplicateError
	if errors.As(err, &dup) {
		return gin.H{"contractNumber": dup.Number, "where": dup.Where}
	}
	return nil
}

func (s *Server) fail(c *gin.Context, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err, "path", c.Request.URL.Path, "request_id", requestID(c))
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: body})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: errorBody{Code: "bad_request", Message: message}})
}
