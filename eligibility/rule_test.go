package eligibility_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniformhq/uniform-engine/eligibility"
	"github.com/uniformhq/uniform-engine/eligibility/store"
)

func validRule() eligibility.EligibilityRule {
	return eligibility.EligibilityRule{
		ID:          "rule-1",
		CompanyID:   "acme",
		Designation: "driver",
		Gender:      eligibility.GenderMale,
		Categories: map[eligibility.Category]eligibility.CategoryEligibility{
			eligibility.CategoryShirt: {Quantity: 2, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths},
		},
	}
}

// =============================================================================
// RULE VALIDATION
// =============================================================================

func TestValidateRule_Valid(t *testing.T) {
	assert.NoError(t, eligibility.ValidateRule(validRule()))
}

func TestValidateRule_Rejections(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(*eligibility.EligibilityRule)
		wantCategory eligibility.Category
	}{
		{
			name:   "empty designation",
			mutate: func(r *eligibility.EligibilityRule) { r.Designation = "  " },
		},
		{
			name:   "unisex gender on new rule",
			mutate: func(r *eligibility.EligibilityRule) { r.Gender = eligibility.GenderUnisex },
		},
		{
			name:   "no categories selected",
			mutate: func(r *eligibility.EligibilityRule) { r.Categories = nil },
		},
		{
			name: "zero quantity",
			mutate: func(r *eligibility.EligibilityRule) {
				r.Categories[eligibility.CategoryShirt] = eligibility.CategoryEligibility{
					Quantity: 0, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths,
				}
			},
			wantCategory: eligibility.CategoryShirt,
		},
		{
			name: "zero renewal frequency",
			mutate: func(r *eligibility.EligibilityRule) {
				r.Categories[eligibility.CategoryShirt] = eligibility.CategoryEligibility{
					Quantity: 2, RenewalFrequency: 0, RenewalUnit: eligibility.RenewalMonths,
				}
			},
			wantCategory: eligibility.CategoryShirt,
		},
		{
			name: "bad renewal unit",
			mutate: func(r *eligibility.EligibilityRule) {
				r.Categories[eligibility.CategoryShirt] = eligibility.CategoryEligibility{
					Quantity: 2, RenewalFrequency: 6, RenewalUnit: "weeks",
				}
			},
			wantCategory: eligibility.CategoryShirt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule()
			tt.mutate(&rule)

			err := eligibility.ValidateRule(rule)
			require.Error(t, err)

			var ve *eligibility.ValidationError
			require.ErrorAs(t, err, &ve)
			if tt.wantCategory != "" {
				assert.Equal(t, tt.wantCategory, ve.Category, "error must name the offending category")
			}
		})
	}
}

// =============================================================================
// CATEGORY NORMALIZATION ON INGESTION
// =============================================================================

func TestNormalizeRuleCategories_RewritesAliases(t *testing.T) {
	rule := validRule()
	rule.Categories = map[eligibility.Category]eligibility.CategoryEligibility{
		"Trousers": {Quantity: 2, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths},
		"BLAZER":   {Quantity: 1, RenewalFrequency: 12, RenewalUnit: eligibility.RenewalMonths},
	}

	require.NoError(t, eligibility.NormalizeRuleCategories(&rule))
	assert.Contains(t, rule.Categories, eligibility.CategoryPant)
	assert.Contains(t, rule.Categories, eligibility.CategoryJacket)
	assert.Len(t, rule.Categories, 2)
}

func TestNormalizeRuleCategories_AliasCollision(t *testing.T) {
	rule := validRule()
	rule.Categories = map[eligibility.Category]eligibility.CategoryEligibility{
		"pant":    {Quantity: 2, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths},
		"trouser": {Quantity: 3, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths},
	}

	err := eligibility.NormalizeRuleCategories(&rule)
	require.Error(t, err, "two aliases of one category must not merge silently")
}

func TestNormalizeCategory(t *testing.T) {
	tests := []struct {
		raw  string
		want eligibility.Category
		ok   bool
	}{
		{"shirt", eligibility.CategoryShirt, true},
		{"  Trouser ", eligibility.CategoryPant, true},
		{"PANTS", eligibility.CategoryPant, true},
		{"blazer", eligibility.CategoryJacket, true},
		{"Jackets", eligibility.CategoryJacket, true},
		{"accessories", eligibility.CategoryAccessory, true},
		{"hat", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := eligibility.NormalizeCategory(tt.raw)
		assert.Equal(t, tt.ok, ok, "raw=%q", tt.raw)
		if tt.ok {
			assert.Equal(t, tt.want, got, "raw=%q", tt.raw)
		}
	}
}

// =============================================================================
// STORE CRUD AND RESET PROPAGATION
// =============================================================================

type recordingNotifier struct {
	companyID   string
	designation string
	calls       int
}

func (r *recordingNotifier) EligibilityReset(_ context.Context, companyID, designation string) {
	r.companyID = companyID
	r.designation = designation
	r.calls++
}

func TestRuleStore_OneActiveRulePerTriple(t *testing.T) {
	mem := store.NewMemory()
	rule := validRule()
	require.NoError(t, mem.CreateRule(context.Background(), &rule))

	dup := validRule()
	dup.ID = "rule-2"
	err := mem.CreateRule(context.Background(), &dup)
	assert.ErrorIs(t, err, eligibility.ErrRuleExists)

	// Same designation, other gender is a different triple.
	other := validRule()
	other.ID = "rule-3"
	other.Gender = eligibility.GenderFemale
	assert.NoError(t, mem.CreateRule(context.Background(), &other))
}

func TestRuleStore_UpdatePropagatesResetIntent(t *testing.T) {
	mem := store.NewMemory()
	notifier := &recordingNotifier{}
	mem.SetResetNotifier(notifier)

	rule := validRule()
	require.NoError(t, mem.CreateRule(context.Background(), &rule))

	rule.Categories[eligibility.CategoryShirt] = eligibility.CategoryEligibility{
		Quantity: 5, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths,
	}

	require.NoError(t, mem.UpdateRule(context.Background(), &rule, false))
	assert.Equal(t, 0, notifier.calls, "no intent without propagateReset")

	require.NoError(t, mem.UpdateRule(context.Background(), &rule, true))
	assert.Equal(t, 1, notifier.calls)
	assert.Equal(t, "acme", notifier.companyID)
	assert.Equal(t, "driver", notifier.designation)
}

func TestRuleStore_UpdateUnknownRule(t *testing.T) {
	mem := store.NewMemory()
	rule := validRule()
	err := mem.UpdateRule(context.Background(), &rule, false)
	assert.ErrorIs(t, err, eligibility.ErrRuleNotFound)
}
