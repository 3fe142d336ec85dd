package eligibility_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniformhq/uniform-engine/eligibility"
)

// =============================================================================
// CART VALIDATION
// =============================================================================

func TestValidateCart_WithinAllowance_Accepted(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedRule(t, mem, eligibility.GenderMale, map[eligibility.Category]eligibility.CategoryEligibility{
		eligibility.CategoryShirt: {Quantity: 3, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths},
		eligibility.CategoryShoe:  {Quantity: 1, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths},
	})
	validator := eligibility.NewCartValidator(engine)

	decisions, err := validator.ValidateCart(context.Background(), testEmployee(), eligibility.Cart{
		eligibility.CategoryShirt: 2,
		eligibility.CategoryShoe:  1,
	})
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	for _, d := range decisions {
		assert.True(t, d.Allowed, "category %s should be allowed", d.Category)
	}
}

func TestValidateCart_ExceedsRemaining_Rejected(t *testing.T) {
	// GIVEN: total shirt allowance 2, 1 already consumed
	// WHEN: requesting 2 more shirts
	// THEN: rejected with QuotaExceededError{shirt, 2, 1}

	engine, mem := newTestEngine(t)
	seedRule(t, mem, eligibility.GenderMale, map[eligibility.Category]eligibility.CategoryEligibility{
		eligibility.CategoryShirt: {Quantity: 2, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths},
	})
	mem.AddOrder(shirtOrder("emp-1", date(2025, time.November, 5), 1, eligibility.StatusDelivered))
	validator := eligibility.NewCartValidator(engine)

	decisions, err := validator.ValidateCart(context.Background(), testEmployee(), eligibility.Cart{
		eligibility.CategoryShirt: 2,
	})

	require.Error(t, err)
	var qe *eligibility.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, eligibility.CategoryShirt, qe.Category)
	assert.Equal(t, 2, qe.Requested)
	assert.Equal(t, 1, qe.Remaining)
	assert.ErrorIs(t, err, eligibility.ErrQuotaExceeded)

	// Decisions still come back so the UI can flag the offending line.
	require.Len(t, decisions, 1)
	assert.False(t, decisions[0].Allowed)
}

func TestValidateCart_AllCategoriesEvaluatedOnReject(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedRule(t, mem, eligibility.GenderMale, map[eligibility.Category]eligibility.CategoryEligibility{
		eligibility.CategoryShirt: {Quantity: 1, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths},
		eligibility.CategoryShoe:  {Quantity: 2, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths},
	})
	validator := eligibility.NewCartValidator(engine)

	decisions, err := validator.ValidateCart(context.Background(), testEmployee(), eligibility.Cart{
		eligibility.CategoryShirt: 5, // over
		eligibility.CategoryShoe:  1, // fine
	})
	require.Error(t, err)
	require.Len(t, decisions, 2, "rejection must not short-circuit the decision list")
}

func TestValidateCart_AliasKeysFoldIntoCanonicalBucket(t *testing.T) {
	// GIVEN: a rule granting 1 pant
	// WHEN: the cart is keyed by the "trouser" alias
	// THEN: the request draws on the pant bucket and is rejected, not
	// silently dropped with an empty decision list

	engine, mem := newTestEngine(t)
	seedRule(t, mem, eligibility.GenderMale, map[eligibility.Category]eligibility.CategoryEligibility{
		eligibility.CategoryPant: {Quantity: 1, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths},
	})
	validator := eligibility.NewCartValidator(engine)

	decisions, err := validator.ValidateCart(context.Background(), testEmployee(), eligibility.Cart{
		"trouser": 5,
	})
	require.Error(t, err)
	var qe *eligibility.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, eligibility.CategoryPant, qe.Category)
	assert.Equal(t, 5, qe.Requested)
	assert.Equal(t, 1, qe.Remaining)
	require.Len(t, decisions, 1)
	assert.Equal(t, eligibility.CategoryPant, decisions[0].Category)

	// Alias and canonical keys in the same cart share one bucket.
	decisions, err = validator.ValidateCart(context.Background(), testEmployee(), eligibility.Cart{
		"trouser":                1,
		eligibility.CategoryPant: 1,
	})
	require.Error(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, 2, decisions[0].Requested)

	_, err = validator.ValidateCart(context.Background(), testEmployee(), eligibility.Cart{"hat": 1})
	assert.ErrorIs(t, err, eligibility.ErrUnknownCategory)
}

func TestValidateCart_UngrantedCategory_RejectedWithZeroRemaining(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedRule(t, mem, eligibility.GenderMale, map[eligibility.Category]eligibility.CategoryEligibility{
		eligibility.CategoryShirt: {Quantity: 2, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths},
	})
	validator := eligibility.NewCartValidator(engine)

	_, err := validator.ValidateCart(context.Background(), testEmployee(), eligibility.Cart{
		eligibility.CategoryJacket: 1,
	})
	var qe *eligibility.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 0, qe.Remaining)
}

// =============================================================================
// INCREMENTAL ADD-TO-CART
// =============================================================================

func TestValidateAddition_CountsUnitsAlreadyInCart(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedRule(t, mem, eligibility.GenderMale, map[eligibility.Category]eligibility.CategoryEligibility{
		eligibility.CategoryShirt: {Quantity: 2, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths},
	})
	validator := eligibility.NewCartValidator(engine)
	cart := eligibility.Cart{eligibility.CategoryShirt: 2}

	// Cart already holds the full allowance; one more unit must fail.
	err := validator.ValidateAddition(context.Background(), testEmployee(), cart, eligibility.CategoryShirt, 1)
	require.Error(t, err)
	var qe *eligibility.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 3, qe.Requested)
	assert.Equal(t, 2, qe.Remaining)
}

func TestValidateAddition_NormalizesAlias(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedRule(t, mem, eligibility.GenderMale, map[eligibility.Category]eligibility.CategoryEligibility{
		"trouser": {Quantity: 1, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths},
	})
	validator := eligibility.NewCartValidator(engine)

	err := validator.ValidateAddition(context.Background(), testEmployee(), eligibility.Cart{}, "pant", 1)
	assert.NoError(t, err, "pant request must draw on the trouser rule")
}

// =============================================================================
// CART AGGREGATION
// =============================================================================

func TestCartFromItems_AggregatesAcrossAliases(t *testing.T) {
	cart, err := eligibility.CartFromItems([]eligibility.OrderItem{
		{Category: "pant", Quantity: 1},
		{Category: "trouser", Quantity: 2},
		{Category: "shirt", Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, cart[eligibility.CategoryPant], "pant and trouser lines share one bucket")
	assert.Equal(t, 1, cart[eligibility.CategoryShirt])
}

func TestCartFromItems_UnknownCategory(t *testing.T) {
	_, err := eligibility.CartFromItems([]eligibility.OrderItem{{Category: "hat", Quantity: 1}})
	assert.ErrorIs(t, err, eligibility.ErrUnknownCategory)
}
