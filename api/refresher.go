/*
refresher.go - Background allowance snapshot refresher

PURPOSE:
  Keeps the allowance_snapshots table warm so dashboards can render
  per-employee summaries without recomputing them per request. Also
  receives eligibility reset intents: when an admin updates a rule with
  propagate_reset, the affected employees' snapshots are recomputed
  immediately instead of waiting for the next tick.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Snapshots are a cache: read paths never depend on them for
    correctness, so a failed refresh only means stale dashboards
  - Implements eligibility.ResetNotifier

USAGE:
  refresher := NewSnapshotRefresher(store, handler.Engine, log)
  store.SetResetNotifier(refresher)
  refresher.Start()
  // ... later
  refresher.Stop()

SEE ALSO:
  - store/sqlite/sqlite.go: SaveAllowanceSnapshots
  - eligibility/rule.go: ResetNotifier contract
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/uniformhq/uniform-engine/eligibility"
	"github.com/uniformhq/uniform-engine/logger"
	"github.com/uniformhq/uniform-engine/store/sqlite"
)

// SnapshotRefresher recomputes cached allowance summaries.
type SnapshotRefresher struct {
	Store         *sqlite.Store
	Engine        *eligibility.Engine
	Log           *logger.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSnapshotRefresher creates a refresher with the default interval.
func NewSnapshotRefresher(store *sqlite.Store, engine *eligibility.Engine, log *logger.Logger) *SnapshotRefresher {
	return &SnapshotRefresher{
		Store:         store,
		Engine:        engine,
		Log:           log,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the background refresh loop.
func (sr *SnapshotRefresher) Start() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if !sr.Enabled {
		sr.Log.Info().Msg("snapshot refresher disabled, not starting")
		return
	}

	sr.ticker = time.NewTicker(sr.CheckInterval)
	sr.wg.Add(1)

	go sr.run()

	sr.Log.Info().Dur("interval", sr.CheckInterval).Msg("snapshot refresher started")
}

// Stop stops the refresher.
func (sr *SnapshotRefresher) Stop() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.ticker != nil {
		sr.ticker.Stop()
		close(sr.stop)
		sr.wg.Wait()
		sr.Log.Info().Msg("snapshot refresher stopped")
	}
}

func (sr *SnapshotRefresher) run() {
	defer sr.wg.Done()

	// Run immediately on start
	sr.RefreshAll(context.Background())

	for {
		select {
		case <-sr.ticker.C:
			sr.RefreshAll(context.Background())
		case <-sr.stop:
			return
		}
	}
}

// RefreshAll recomputes snapshots for every employee of every company.
func (sr *SnapshotRefresher) RefreshAll(ctx context.Context) {
	companies, err := sr.Store.ListCompanyIDs(ctx)
	if err != nil {
		sr.Log.Error().Err(err).Msg("snapshot refresh: listing companies failed")
		return
	}

	refreshed := 0
	for _, companyID := range companies {
		employees, err := sr.Store.ListEmployees(ctx, companyID)
		if err != nil {
			sr.Log.Error().Err(err).Str("company_id", companyID).Msg("snapshot refresh: listing employees failed")
			continue
		}
		refreshed += sr.refreshEmployees(ctx, employees)
	}

	if refreshed > 0 {
		sr.Log.Info().Int("employees", refreshed).Msg("allowance snapshots refreshed")
	}
}

// EligibilityReset recomputes snapshots for everyone holding the
// designation. Called by the rule store when an update carries the
// propagate_reset flag.
func (sr *SnapshotRefresher) EligibilityReset(ctx context.Context, companyID, designation string) {
	employees, err := sr.Store.ListEmployeesByDesignation(ctx, companyID, designation)
	if err != nil {
		sr.Log.Error().Err(err).Str("company_id", companyID).Str("designation", designation).
			Msg("eligibility reset: listing employees failed")
		return
	}

	n := sr.refreshEmployees(ctx, employees)
	sr.Log.Info().Str("company_id", companyID).Str("designation", designation).
		Int("employees", n).Msg("eligibility reset applied")
}

func (sr *SnapshotRefresher) refreshEmployees(ctx context.Context, employees []eligibility.Employee) int {
	n := 0
	for _, emp := range employees {
		summary, err := sr.Engine.AllowanceSummary(ctx, emp)
		if err != nil {
			sr.Log.Error().Err(err).Str("employee_id", emp.ID).Msg("snapshot refresh: summary failed")
			continue
		}
		if err := sr.Store.SaveAllowanceSnapshots(ctx, emp.ID, summary); err != nil {
			sr.Log.Error().Err(err).Str("employee_id", emp.ID).Msg("snapshot refresh: save failed")
			continue
		}
		n++
	}
	return n
}

// RunNow triggers an immediate refresh (for testing/admin).
func (sr *SnapshotRefresher) RunNow() {
	sr.RefreshAll(context.Background())
}
