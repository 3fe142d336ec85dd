/*
errors.go - Centralized error types for the eligibility core

PURPOSE:
  All error types in one place. Nothing in this package is ever
  process-fatal: validation and quota errors are structured rejections
  the caller turns into inline UI messages, and everything carries
  enough context to render one without string-parsing.

ERROR CATEGORIES:
  1. Rule definition errors   - ValidationError
  2. Quota errors             - QuotaExceededError
  3. Bulk import errors       - MalformedInputError (fatal for the file),
                                RowProcessingError (per-row, non-fatal)
  4. Lookup/lifecycle errors  - sentinels below

USAGE:
  if errors.Is(err, eligibility.ErrQuotaExceeded) { ... }

  var qe *eligibility.QuotaExceededError
  if errors.As(err, &qe) {
      msg := fmt.Sprintf("only %d %s left", qe.Remaining, qe.Category)
  }
*/
package eligibility

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRuleNotFound is returned when no eligibility rule (including a
	// legacy unisex row) matches a (company, designation, gender) lookup.
	ErrRuleNotFound = errors.New("eligibility rule not found")

	// ErrRuleExists is returned when creating a rule would violate the
	// one-active-rule-per-triple invariant.
	ErrRuleExists = errors.New("eligibility rule already exists for designation and gender")

	// ErrEmployeeNotFound is returned when an employee lookup fails.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrProductNotFound is returned when a SKU resolves to nothing.
	ErrProductNotFound = errors.New("product not found")

	// ErrOrderNotFound is returned when an order lookup fails.
	ErrOrderNotFound = errors.New("order not found")

	// ErrQuotaExceeded is returned when a requested quantity exceeds the
	// remaining allowance for a category.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrInvalidTransition is returned for a disallowed order status move.
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrUnknownCategory is returned when a raw category string matches
	// no canonical category or alias.
	ErrUnknownCategory = errors.New("unknown product category")
)

// =============================================================================
// STRUCTURED ERRORS - Carry context for user-facing messages
// =============================================================================

// ValidationError reports a malformed rule definition. Category is set
// when a specific category's allowance is at fault.
type ValidationError struct {
	Field    string
	Category Category
	Message  string
}

func (e *ValidationError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("invalid rule: %s for category %q", e.Message, e.Category)
	}
	return fmt.Sprintf("invalid rule: %s", e.Message)
}

// QuotaExceededError reports a per-category rejection with everything
// needed for a precise user-facing message.
type QuotaExceededError struct {
	Category  Category
	Requested int
	Remaining int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: requested %d, remaining %d",
		e.Category, e.Requested, e.Remaining)
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

// MalformedInputError reports a bulk-import file missing required
// columns. Fatal for the whole file; no row is processed.
type MalformedInputError struct {
	MissingColumns []string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("import file missing required columns: %s",
		strings.Join(e.MissingColumns, ", "))
}

// RowProcessingError reports a single bulk-import row failure.
// Non-fatal: recorded in the report, processing continues.
type RowProcessingError struct {
	RowNumber int
	Cause     error
}

func (e *RowProcessingError) Error() string {
	return fmt.Sprintf("row %d: %v", e.RowNumber, e.Cause)
}

func (e *RowProcessingError) Unwrap() error { return e.Cause }

// InvalidTransitionError reports a disallowed order lifecycle move.
type InvalidTransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot transition %s -> %s", e.OrderID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error stems from invalid input or a
// business-rule rejection, as opposed to an infrastructure failure.
func IsClientError(err error) bool {
	var ve *ValidationError
	var me *MalformedInputError
	return errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrUnknownCategory) ||
		errors.Is(err, ErrRuleExists) ||
		errors.As(err, &ve) ||
		errors.As(err, &me)
}

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound) ||
		errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrOrderNotFound)
}
