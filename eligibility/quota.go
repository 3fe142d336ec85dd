/*
quota.go - Total and remaining allowance computation

PURPOSE:
  The single implementation of the allowance arithmetic every screen in
  the application used to re-derive inline. Given an employee and a
  category the engine answers:

    TotalAllowance:     the configured quantity from the matching rule
    Consumed:           units ordered inside the CURRENT renewal cycle
    RemainingAllowance: max(0, total - consumed)

KEY INSIGHT:
  Consumption is DERIVED, never stored. It is recomputed from the order
  history on every call, against cycle boundaries computed relative to
  the supplied asOf instant. An order dated exactly on a cycle boundary
  belongs to the new cycle (half-open windows, see cycle.go).

NORMALIZATION:
  Order items and rules may carry category aliases from older records.
  Both sides are normalized here before they are compared, so a rule
  configured under "trouser" constrains products tagged "pant" and
  vice versa.

SEE ALSO:
  - validate.go: Cart validation on top of RemainingAllowance
  - store/sqlite: The OrderHistory implementation and the write-time
    enforcement this engine's advisory answers do not provide
*/
package eligibility

import (
	"context"
	"time"
)

// =============================================================================
// ORDER HISTORY - Collaborator contract
// =============================================================================

// OrderHistory supplies an employee's past orders. Implementations must
// include each order's date and every item's category and quantity.
type OrderHistory interface {
	OrdersForEmployee(ctx context.Context, employeeID string) ([]Order, error)
}

// EmployeeDirectory resolves employees. Used by the HTTP layer and the
// bulk importer; kept here so collaborators share one contract.
type EmployeeDirectory interface {
	GetEmployee(ctx context.Context, id string) (*Employee, error)
	GetEmployeeByNo(ctx context.Context, companyID, employeeNo string) (*Employee, error)
}

// =============================================================================
// QUOTA ENGINE
// =============================================================================

// Engine computes allowances from rules and order history.
// All methods are read-only and side-effect free; calling them twice
// with no intervening order yields identical results.
type Engine struct {
	Rules  RuleFinder
	Orders OrderHistory

	// Now is the clock used for cycle resolution. Nil means time.Now.
	// Tests pin it; the HTTP layer leaves it nil.
	Now func() time.Time
}

func NewEngine(rules RuleFinder, orders OrderHistory) *Engine {
	return &Engine{Rules: rules, Orders: orders}
}

func (en *Engine) now() time.Time {
	if en.Now != nil {
		return en.Now()
	}
	return time.Now().UTC()
}

// TotalAllowance returns the configured quantity for the employee's
// category, or 0 when no rule matches or the rule does not grant the
// category. Never negative.
func (en *Engine) TotalAllowance(ctx context.Context, emp Employee, category Category) (int, error) {
	canonical, ok := NormalizeCategory(string(category))
	if !ok {
		return 0, ErrUnknownCategory
	}

	rule, err := en.findRule(ctx, emp)
	if err != nil {
		return 0, err
	}
	if rule == nil {
		return 0, nil
	}

	ce, ok := ruleEligibility(rule, canonical)
	if !ok {
		return 0, nil
	}
	if ce.Quantity < 0 {
		return 0, nil
	}
	return ce.Quantity, nil
}

// Consumed returns the units the employee has ordered in the category
// inside the current renewal cycle, as of the engine's clock. Rejected
// orders do not count.
func (en *Engine) Consumed(ctx context.Context, emp Employee, category Category) (int, error) {
	canonical, ok := NormalizeCategory(string(category))
	if !ok {
		return 0, ErrUnknownCategory
	}

	rule, err := en.findRule(ctx, emp)
	if err != nil {
		return 0, err
	}

	cycle := CycleForEmployee(emp, canonical, rule, en.now())
	return en.consumedInCycle(ctx, emp.ID, canonical, cycle)
}

// RemainingAllowance returns max(0, TotalAllowance - Consumed) for the
// current cycle.
func (en *Engine) RemainingAllowance(ctx context.Context, emp Employee, category Category) (int, error) {
	canonical, ok := NormalizeCategory(string(category))
	if !ok {
		return 0, ErrUnknownCategory
	}

	rule, err := en.findRule(ctx, emp)
	if err != nil {
		return 0, err
	}
	total := 0
	if rule != nil {
		if ce, ok := ruleEligibility(rule, canonical); ok && ce.Quantity > 0 {
			total = ce.Quantity
		}
	}
	if total == 0 {
		return 0, nil
	}

	cycle := CycleForEmployee(emp, canonical, rule, en.now())
	consumed, err := en.consumedInCycle(ctx, emp.ID, canonical, cycle)
	if err != nil {
		return 0, err
	}

	remaining := total - consumed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// =============================================================================
// ALLOWANCE SUMMARY - The dashboard/catalog computation
// =============================================================================

// CategoryAllowance is the per-category view rendered by dashboards and
// the catalog. Plain serializable data.
type CategoryAllowance struct {
	Category      Category  `json:"category"`
	Total         int       `json:"total"`
	Consumed      int       `json:"consumed"`
	Remaining     int       `json:"remaining"`
	CycleStart    time.Time `json:"cycle_start"`
	CycleEnd      time.Time `json:"cycle_end"`
	DaysRemaining int       `json:"days_remaining"`
}

// AllowanceSummary computes CategoryAllowance for every category the
// employee's rule grants. Returns an empty slice (not an error) when no
// rule matches - an employee without a rule simply has nothing to order.
func (en *Engine) AllowanceSummary(ctx context.Context, emp Employee) ([]CategoryAllowance, error) {
	rule, err := en.findRule(ctx, emp)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return []CategoryAllowance{}, nil
	}

	asOf := en.now()
	summary := make([]CategoryAllowance, 0, len(rule.Categories))

	// Walk canonical display order so the output is stable.
	for _, cat := range Categories {
		ce, ok := ruleEligibility(rule, cat)
		if !ok {
			continue
		}
		cycle := CycleForEmployee(emp, cat, rule, asOf)
		consumed, err := en.consumedInCycle(ctx, emp.ID, cat, cycle)
		if err != nil {
			return nil, err
		}
		remaining := ce.Quantity - consumed
		if remaining < 0 {
			remaining = 0
		}
		summary = append(summary, CategoryAllowance{
			Category:      cat,
			Total:         ce.Quantity,
			Consumed:      consumed,
			Remaining:     remaining,
			CycleStart:    cycle.Start,
			CycleEnd:      cycle.End,
			DaysRemaining: cycle.DaysRemaining(asOf),
		})
	}
	return summary, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// findRule looks up the employee's rule, treating "no rule" as a valid
// state (nil, nil) rather than an error. Infrastructure failures pass
// through.
func (en *Engine) findRule(ctx context.Context, emp Employee) (*EligibilityRule, error) {
	rule, err := en.Rules.FindRule(ctx, emp.CompanyID, emp.Designation, emp.Gender)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return rule, nil
}

// ruleEligibility fetches the allowance for a canonical category,
// tolerating rules whose keys were stored under an alias before
// normalization-on-ingestion existed.
func ruleEligibility(rule *EligibilityRule, canonical Category) (CategoryEligibility, bool) {
	if ce, ok := rule.Categories[canonical]; ok {
		return ce, true
	}
	for cat, ce := range rule.Categories {
		if c, ok := NormalizeCategory(string(cat)); ok && c == canonical {
			return ce, true
		}
	}
	return CategoryEligibility{}, false
}

func (en *Engine) consumedInCycle(ctx context.Context, employeeID string, canonical Category, cycle Cycle) (int, error) {
	orders, err := en.Orders.OrdersForEmployee(ctx, employeeID)
	if err != nil {
		return 0, err
	}

	consumed := 0
	for _, order := range orders {
		if !order.CountsAgainstQuota() {
			continue
		}
		if !cycle.Contains(order.OrderDate.UTC()) {
			continue
		}
		for _, item := range order.Items {
			if c, ok := NormalizeCategory(string(item.Category)); ok && c == canonical {
				consumed += item.Quantity
			}
		}
	}
	return consumed, nil
}
