/*
validate.go - Cart validation against remaining allowance

Validates a proposed cart per category before checkout is allowed to
proceed. Runs at two moments: incrementally when a unit is added to the
cart, and atomically over the whole cart at checkout, because two tabs
of the same session can each believe they still have quota.

ADVISORY ONLY: this component never mutates state and gives UX-speed
rejection, not a correctness guarantee. Two concurrent checkouts can
both pass here; the order-creation transaction in the persistence layer
is what actually enforces the quota at write time (see
store/sqlite.CreateOrder).
*/
package eligibility

import "context"

// =============================================================================
// CART
// =============================================================================

// Cart maps canonical categories to requested quantities.
type Cart map[Category]int

// CartFromItems aggregates proposed order items into per-category
// quantities, normalizing aliases as it goes.
func CartFromItems(items []OrderItem) (Cart, error) {
	cart := make(Cart, len(items))
	for _, it := range items {
		canonical, ok := NormalizeCategory(string(it.Category))
		if !ok {
			return nil, ErrUnknownCategory
		}
		cart[canonical] += it.Quantity
	}
	return cart, nil
}

// CategoryDecision is the per-category accept/reject outcome.
type CategoryDecision struct {
	Category  Category `json:"category"`
	Requested int      `json:"requested"`
	Remaining int      `json:"remaining"`
	Allowed   bool     `json:"allowed"`
}

// =============================================================================
// VALIDATOR
// =============================================================================

// CartValidator decides accept/reject per category for a proposed cart.
type CartValidator struct {
	Engine *Engine
}

func NewCartValidator(engine *Engine) *CartValidator {
	return &CartValidator{Engine: engine}
}

// ValidateCart checks the whole cart atomically: every category is
// evaluated, and the first shortfall is returned as a
// QuotaExceededError alongside the full per-category decision list.
// Decisions are returned even on rejection so the UI can flag every
// offending line, not just the first.
//
// Cart keys are folded to canonical form first, so a cart keyed by an
// alias ("trouser", "blazers") draws on the same bucket as its
// canonical category. Only truly unknown keys are rejected.
func (v *CartValidator) ValidateCart(ctx context.Context, emp Employee, cart Cart) ([]CategoryDecision, error) {
	folded := make(Cart, len(cart))
	for cat, qty := range cart {
		canonical, ok := NormalizeCategory(string(cat))
		if !ok {
			return nil, ErrUnknownCategory
		}
		folded[canonical] += qty
	}

	decisions := make([]CategoryDecision, 0, len(folded))
	var reject *QuotaExceededError

	for _, cat := range Categories {
		requested, ok := folded[cat]
		if !ok {
			continue
		}
		if requested <= 0 {
			continue
		}
		remaining, err := v.Engine.RemainingAllowance(ctx, emp, cat)
		if err != nil {
			return nil, err
		}
		allowed := requested <= remaining
		decisions = append(decisions, CategoryDecision{
			Category:  cat,
			Requested: requested,
			Remaining: remaining,
			Allowed:   allowed,
		})
		if !allowed && reject == nil {
			reject = &QuotaExceededError{Category: cat, Requested: requested, Remaining: remaining}
		}
	}

	if reject != nil {
		return decisions, reject
	}
	return decisions, nil
}

// ValidateAddition checks a single incremental add-to-cart: the
// quantity already in the cart for the category plus the new units.
func (v *CartValidator) ValidateAddition(ctx context.Context, emp Employee, cart Cart, category Category, quantity int) error {
	canonical, ok := NormalizeCategory(string(category))
	if !ok {
		return ErrUnknownCategory
	}
	requested := cart[canonical] + quantity
	remaining, err := v.Engine.RemainingAllowance(ctx, emp, canonical)
	if err != nil {
		return err
	}
	if requested > remaining {
		return &QuotaExceededError{Category: canonical, Requested: requested, Remaining: remaining}
	}
	return nil
}
