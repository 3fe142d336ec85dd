package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniformhq/uniform-engine/eligibility"
)

func TestEligibilityResetRecomputesSnapshots(t *testing.T) {
	h, _ := newTestAPI(t)
	emp := seedDriverSetup(t, h)
	ctx := context.Background()

	refresher := NewSnapshotRefresher(h.Store, h.Engine, h.Log)
	h.Store.SetResetNotifier(refresher)

	// No snapshots until something triggers a refresh
	snaps, err := h.Store.GetAllowanceSnapshots(ctx, emp.ID)
	require.NoError(t, err)
	assert.Empty(t, snaps)

	// A rule update with the propagate flag refreshes the designation's
	// employees synchronously, without the background loop running.
	rules, err := h.Store.ListRules(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	rule := rules[0]
	rule.Categories[eligibility.CategoryShirt] = eligibility.CategoryEligibility{
		Quantity: 4, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths,
	}
	require.NoError(t, h.Store.UpdateRule(ctx, &rule, true))

	snaps, err = h.Store.GetAllowanceSnapshots(ctx, emp.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	byCategory := map[eligibility.Category]int{}
	for _, snap := range snaps {
		byCategory[snap.Allowance.Category] = snap.Allowance.Total
	}
	assert.Equal(t, 4, byCategory[eligibility.CategoryShirt])
	assert.Equal(t, 1, byCategory[eligibility.CategoryPant])
}

func TestRefreshAllCoversEveryCompany(t *testing.T) {
	h, _ := newTestAPI(t)
	emp := seedDriverSetup(t, h)
	ctx := context.Background()

	refresher := NewSnapshotRefresher(h.Store, h.Engine, h.Log)
	refresher.RunNow()

	snaps, err := h.Store.GetAllowanceSnapshots(ctx, emp.ID)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}
