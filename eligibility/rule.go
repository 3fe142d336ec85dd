/*
rule.go - Eligibility rule validation and storage contracts

PURPOSE:
  Field-level validation for rule definitions plus the interfaces the
  rest of the system uses to look rules up and persist them. The store
  implementations live elsewhere (store/sqlite for production,
  eligibility/store for tests); this file owns the contracts.

UNISEX MATCHING:
  Legacy data contains rules stored with gender "unisex". FindRule
  implementations must fall back to such a row when no male/female
  specific rule exists, for EITHER requested gender. New rules are
  rejected if written as unisex - converting a legacy unisex rule to a
  single gender is a deliberate admin migration, not something this
  package does silently.

PROPAGATED RESETS:
  Updating a rule can optionally signal that employees' consumed totals
  should be recomputed under the new allowances. The store only EMITS
  that intent through a ResetNotifier; it never walks employee or order
  tables itself.
*/
package eligibility

import (
	"context"
	"strings"
)

// =============================================================================
// RULE VALIDATION
// =============================================================================

// ValidateRule checks a rule definition before it is persisted:
// designation non-empty, gender male or female, at least one category
// selected, and every selected category carries a positive quantity and
// renewal frequency.
func ValidateRule(rule EligibilityRule) error {
	if strings.TrimSpace(rule.Designation) == "" {
		return &ValidationError{Field: "designation", Message: "designation must not be empty"}
	}
	if rule.Gender != GenderMale && rule.Gender != GenderFemale {
		// Legacy unisex rows are read-compatible, never write-compatible.
		return &ValidationError{Field: "gender", Message: "gender must be male or female"}
	}
	if len(rule.Categories) == 0 {
		return &ValidationError{Field: "categories", Message: "at least one category must be selected"}
	}
	for cat, ce := range rule.Categories {
		if _, ok := NormalizeCategory(string(cat)); !ok {
			return &ValidationError{Category: cat, Message: "unknown category"}
		}
		if ce.Quantity <= 0 {
			return &ValidationError{Category: cat, Message: "quantity must be positive"}
		}
		if ce.RenewalFrequency <= 0 {
			return &ValidationError{Category: cat, Message: "renewal frequency must be positive"}
		}
		if ce.RenewalUnit != RenewalMonths && ce.RenewalUnit != RenewalYears {
			return &ValidationError{Category: cat, Message: "renewal unit must be months or years"}
		}
	}
	return nil
}

// NormalizeRuleCategories rewrites a rule's category keys onto canonical
// values. Applied once on ingestion so every read site sees one bucket
// per category regardless of which alias the admin's client sent.
// Returns ErrUnknownCategory wrapped in a ValidationError for keys that
// name no known category.
func NormalizeRuleCategories(rule *EligibilityRule) error {
	if len(rule.Categories) == 0 {
		return nil
	}
	normalized := make(map[Category]CategoryEligibility, len(rule.Categories))
	for cat, ce := range rule.Categories {
		canonical, ok := NormalizeCategory(string(cat))
		if !ok {
			return &ValidationError{Category: cat, Message: "unknown category"}
		}
		// Two aliases of the same category collapsing is a definition
		// error, not something to merge silently.
		if _, dup := normalized[canonical]; dup {
			return &ValidationError{Category: canonical, Message: "category configured twice via aliases"}
		}
		normalized[canonical] = ce
	}
	rule.Categories = normalized
	return nil
}

// =============================================================================
// STORAGE CONTRACTS
// =============================================================================

// RuleFinder is the read side consumed by the quota engine and by
// catalog filtering.
type RuleFinder interface {
	// FindRule returns the active rule for the triple, falling back to a
	// legacy unisex row when no gender-specific rule exists.
	// Returns ErrRuleNotFound when neither exists.
	FindRule(ctx context.Context, companyID, designation string, gender Gender) (*EligibilityRule, error)
}

// RuleStore is the full CRUD surface used by company-admin screens.
type RuleStore interface {
	RuleFinder

	// CreateRule validates and persists a new rule.
	// Returns ErrRuleExists if the (company, designation, gender) triple
	// already has an active rule.
	CreateRule(ctx context.Context, rule *EligibilityRule) error

	// UpdateRule validates and persists changes to an existing rule.
	// When propagateReset is true the store emits a reset intent for the
	// rule's company/designation after the write succeeds.
	UpdateRule(ctx context.Context, rule *EligibilityRule, propagateReset bool) error

	// DeleteRule removes a rule by ID.
	DeleteRule(ctx context.Context, companyID, ruleID string) error

	// ListRules returns all rules for a company.
	ListRules(ctx context.Context, companyID string) ([]EligibilityRule, error)
}

// ResetNotifier receives the intent emitted by UpdateRule when
// propagateReset is set. Implementations recompute affected employees'
// consumed totals; the rule store itself never does.
type ResetNotifier interface {
	EligibilityReset(ctx context.Context, companyID, designation string)
}

// NopResetNotifier discards reset intents.
type NopResetNotifier struct{}

func (NopResetNotifier) EligibilityReset(context.Context, string, string) {}
