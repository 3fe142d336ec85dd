/*
Package factory provides JSON to Go eligibility-rule conversion.

PURPOSE:
  Converts JSON rule definitions into eligibility.EligibilityRule
  objects. This enables rule configuration without code changes - a
  company admin can define allowances in JSON, and the factory creates
  the proper Go structs with defaults filled in.

WHY JSON?
  - Non-developers can modify rules
  - Easy integration with admin UI
  - Version control for rule definitions
  - Database storage of rule configs

JSON SCHEMA:
  {
    "id": "acme-driver-male",
    "company_id": "acme",
    "designation": "driver",
    "gender": "male",
    "categories": {
      "shirt":   {"quantity": 3, "renewal_frequency": 6, "renewal_unit": "months"},
      "trouser": {"quantity": 2, "renewal_frequency": 6, "renewal_unit": "months"},
      "jacket":  {"quantity": 1, "renewal_frequency": 1, "renewal_unit": "years"}
    }
  }

KEY FEATURES:
  - Validates JSON structure
  - Fills defaults for categories listed without numbers
  - Normalizes category aliases (trouser -> pant, blazer -> jacket)
  - Rejects invalid rules before they reach a store

USAGE:
  factory := NewRuleFactory()

  // From JSON string
  rule, err := factory.ParseRule(jsonString)

  // From a preset (recommended for demos and onboarding)
  rule, err := factory.ParseRule(StandardUniformJSON("acme", "driver", "male"))

  store.CreateRule(ctx, rule)

SEE ALSO:
  - eligibility/types.go: EligibilityRule definition
  - eligibility/rule.go: Validation and normalization
  - api/scenarios.go: Demo data built on these presets
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/uniformhq/uniform-engine/eligibility"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of an eligibility rule.
type RuleJSON struct {
	ID          string                  `json:"id"`
	CompanyID   string                  `json:"company_id"`
	Designation string                  `json:"designation"`
	Gender      string                  `json:"gender"`
	Categories  map[string]CategoryJSON `json:"categories"`
}

// CategoryJSON is the per-category allowance. Zero-valued fields take
// the documented defaults (quantity 1, renewal every 6 months).
type CategoryJSON struct {
	Quantity         int    `json:"quantity,omitempty"`
	RenewalFrequency int    `json:"renewal_frequency,omitempty"`
	RenewalUnit      string `json:"renewal_unit,omitempty"`
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts JSON rules to Go structs.
type RuleFactory struct{}

// NewRuleFactory creates a new rule factory.
func NewRuleFactory() *RuleFactory {
	return &RuleFactory{}
}

// ParseRule parses a JSON string into a validated EligibilityRule.
func (f *RuleFactory) ParseRule(jsonStr string) (*eligibility.EligibilityRule, error) {
	var rj RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return nil, fmt.Errorf("failed to parse rule JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// FromJSON converts RuleJSON to an EligibilityRule, filling defaults,
// normalizing category aliases and validating the result.
func (f *RuleFactory) FromJSON(rj RuleJSON) (*eligibility.EligibilityRule, error) {
	gender, ok := eligibility.NormalizeGender(rj.Gender)
	if !ok {
		return nil, fmt.Errorf("unknown gender %q", rj.Gender)
	}

	rule := &eligibility.EligibilityRule{
		ID:          rj.ID,
		CompanyID:   rj.CompanyID,
		Designation: rj.Designation,
		Gender:      gender,
		Categories:  make(map[eligibility.Category]eligibility.CategoryEligibility, len(rj.Categories)),
	}

	for raw, cj := range rj.Categories {
		rule.Categories[eligibility.Category(raw)] = parseCategoryEligibility(cj)
	}

	if err := eligibility.NormalizeRuleCategories(rule); err != nil {
		return nil, err
	}
	if err := eligibility.ValidateRule(*rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// ToJSON converts an EligibilityRule back to its JSON representation.
func (f *RuleFactory) ToJSON(rule *eligibility.EligibilityRule) RuleJSON {
	rj := RuleJSON{
		ID:          rule.ID,
		CompanyID:   rule.CompanyID,
		Designation: rule.Designation,
		Gender:      string(rule.Gender),
		Categories:  make(map[string]CategoryJSON, len(rule.Categories)),
	}
	for c, ce := range rule.Categories {
		rj.Categories[string(c)] = CategoryJSON{
			Quantity:         ce.Quantity,
			RenewalFrequency: ce.RenewalFrequency,
			RenewalUnit:      string(ce.RenewalUnit),
		}
	}
	return rj
}

// parseCategoryEligibility applies defaults for anything the JSON left
// zero: an admin ticking a category on without numbers gets one item
// renewing every six months.
func parseCategoryEligibility(cj CategoryJSON) eligibility.CategoryEligibility {
	ce := eligibility.DefaultCategoryEligibility()
	if cj.Quantity > 0 {
		ce.Quantity = cj.Quantity
	}
	if cj.RenewalFrequency > 0 {
		ce.RenewalFrequency = cj.RenewalFrequency
	}
	switch cj.RenewalUnit {
	case "years":
		ce.RenewalUnit = eligibility.RenewalYears
	case "months", "":
		// keep default
	default:
		ce.RenewalUnit = eligibility.RenewalUnit(cj.RenewalUnit) // ValidateRule rejects it
	}
	return ce
}

// =============================================================================
// PRESETS
// =============================================================================

// StandardUniformJSON is the common frontline allowance: three shirts
// and two trousers on a six-month cycle, one jacket yearly.
func StandardUniformJSON(companyID, designation, gender string) string {
	return fmt.Sprintf(`{
		"id": "%s-%s-%s",
		"company_id": "%s",
		"designation": "%s",
		"gender": "%s",
		"categories": {
			"shirt":   {"quantity": 3, "renewal_frequency": 6, "renewal_unit": "months"},
			"trouser": {"quantity": 2, "renewal_frequency": 6, "renewal_unit": "months"},
			"jacket":  {"quantity": 1, "renewal_frequency": 1, "renewal_unit": "years"}
		}
	}`, companyID, designation, gender, companyID, designation, gender)
}

// FieldCrewJSON adds footwear for outdoor roles.
func FieldCrewJSON(companyID, designation, gender string) string {
	return fmt.Sprintf(`{
		"id": "%s-%s-%s",
		"company_id": "%s",
		"designation": "%s",
		"gender": "%s",
		"categories": {
			"shirt":   {"quantity": 4, "renewal_frequency": 6, "renewal_unit": "months"},
			"trouser": {"quantity": 3, "renewal_frequency": 6, "renewal_unit": "months"},
			"shoe":    {"quantity": 1, "renewal_frequency": 6, "renewal_unit": "months"},
			"jacket":  {"quantity": 1, "renewal_frequency": 1, "renewal_unit": "years"}
		}
	}`, companyID, designation, gender, companyID, designation, gender)
}

// OfficeStaffJSON is a lighter allowance for desk roles.
func OfficeStaffJSON(companyID, designation, gender string) string {
	return fmt.Sprintf(`{
		"id": "%s-%s-%s",
		"company_id": "%s",
		"designation": "%s",
		"gender": "%s",
		"categories": {
			"shirt":  {"quantity": 2, "renewal_frequency": 6, "renewal_unit": "months"},
			"blazer": {"quantity": 1, "renewal_frequency": 2, "renewal_unit": "years"}
		}
	}`, companyID, designation, gender, companyID, designation, gender)
}
