/*
scenarios.go - Demo scenario loaders

PURPOSE:
  Seeds the database with recognizable demo data so the API can be
  explored without manual setup. Each scenario wipes the database and
  loads a self-contained picture:

  fresh-company:  Rules, employees and a catalog; nobody has ordered yet.
  mid-cycle:      Same company three months in - allowances partially
                  consumed, orders at various lifecycle stages.
  legacy-data:    Includes a unisex rule row and alias category
                  spellings, exercising the backward-compat paths.

WARNING:
  Loading a scenario DELETES all existing data. Dev/demo only.

SEE ALSO:
  - factory/rule.go: Rule presets used here
  - handlers.go: LoadScenario endpoint
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uniformhq/uniform-engine/eligibility"
	"github.com/uniformhq/uniform-engine/factory"
)

const demoCompany = "acme-transport"

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-company",
		Name:        "Fresh Company",
		Description: "Rules, employees and a catalog; no orders placed yet.",
	},
	{
		ID:          "mid-cycle",
		Name:        "Mid-Cycle",
		Description: "Three months in: allowances partially consumed, orders in every lifecycle stage.",
	},
	{
		ID:          "legacy-data",
		Name:        "Legacy Data",
		Description: "Unisex rule rows and alias category spellings from a migrated tenant.",
	},
}

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the scenario loaded last, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": h.currentScenario})
}

// LoadScenario wipes the database and seeds the selected scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	if err := h.Store.ResetAll(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	var err error
	switch req.ScenarioID {
	case "fresh-company":
		err = h.loadFreshCompany(ctx)
	case "mid-cycle":
		err = h.loadMidCycle(ctx)
	case "legacy-data":
		err = h.loadLegacyData(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario: "+req.ScenarioID, nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	h.Log.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"loaded": req.ScenarioID})
}

// =============================================================================
// SCENARIO BUILDERS
// =============================================================================

func (h *Handler) loadFreshCompany(ctx context.Context) error {
	if err := h.seedRules(ctx); err != nil {
		return err
	}
	if err := h.seedEmployees(ctx); err != nil {
		return err
	}
	return h.seedCatalog(ctx)
}

func (h *Handler) loadMidCycle(ctx context.Context) error {
	if err := h.loadFreshCompany(ctx); err != nil {
		return err
	}

	now := time.Now().UTC()
	monthAgo := now.AddDate(0, -1, 0)
	weekAgo := now.AddDate(0, 0, -7)

	// Ravi has consumed one shirt and has a trouser order awaiting
	// approval; Meera's jacket order is already delivered.
	orders := []struct {
		id, employeeID, productID string
		category                  eligibility.Category
		size                      string
		qty                       int
		price                     int64
		date                      time.Time
		status                    eligibility.OrderStatus
	}{
		{"demo-ord-1", "demo-emp-ravi", "demo-prod-shirt-m", eligibility.CategoryShirt, "M", 1, 20, monthAgo, eligibility.StatusDelivered},
		{"demo-ord-2", "demo-emp-ravi", "demo-prod-pant-m", eligibility.CategoryPant, "32", 1, 35, weekAgo, eligibility.StatusAwaitingApproval},
		{"demo-ord-3", "demo-emp-meera", "demo-prod-jacket-f", eligibility.CategoryJacket, "S", 1, 80, monthAgo, eligibility.StatusDispatched},
	}

	for _, o := range orders {
		order := &eligibility.Order{
			ID:         o.id,
			EmployeeID: o.employeeID,
			CompanyID:  demoCompany,
			OrderDate:  o.date,
			Items: []eligibility.OrderItem{{
				ProductID: o.productID,
				Category:  o.category,
				Size:      o.size,
				Quantity:  o.qty,
				UnitPrice: decimal.NewFromInt(o.price),
			}},
		}
		if err := h.Store.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("seeding order %s: %w", o.id, err)
		}
		if err := advanceOrder(ctx, h, order.ID, o.status); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadLegacyData(ctx context.Context) error {
	if err := h.seedEmployees(ctx); err != nil {
		return err
	}
	if err := h.seedCatalog(ctx); err != nil {
		return err
	}

	// A migrated tenant: one unisex rule written before the gender
	// requirement, under alias category spellings. Exercises FindRule's
	// fallback and read-side alias normalization.
	return h.Store.SeedLegacyRule(ctx, &eligibility.EligibilityRule{
		ID:          "demo-rule-legacy",
		CompanyID:   demoCompany,
		Designation: "driver",
		Gender:      eligibility.GenderUnisex,
		Categories: map[eligibility.Category]eligibility.CategoryEligibility{
			"trousers": {Quantity: 2, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths},
			"blazers":  {Quantity: 1, RenewalFrequency: 1, RenewalUnit: eligibility.RenewalYears},
			"shirt":    {Quantity: 3, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths},
		},
	})
}

func (h *Handler) seedRules(ctx context.Context) error {
	presets := []string{
		factory.StandardUniformJSON(demoCompany, "driver", "male"),
		factory.StandardUniformJSON(demoCompany, "driver", "female"),
		factory.FieldCrewJSON(demoCompany, "loader", "male"),
		factory.OfficeStaffJSON(demoCompany, "dispatcher", "female"),
	}
	for _, preset := range presets {
		rule, err := h.RuleFactory.ParseRule(preset)
		if err != nil {
			return err
		}
		if err := h.Store.CreateRule(ctx, rule); err != nil {
			return fmt.Errorf("seeding rule %s: %w", rule.ID, err)
		}
	}
	return nil
}

func (h *Handler) seedEmployees(ctx context.Context) error {
	// Joining dates are relative to now so demo employees always sit
	// mid-cycle, whatever day the scenario loads.
	now := time.Now().UTC()
	employees := []eligibility.Employee{
		{
			ID: "demo-emp-ravi", CompanyID: demoCompany, EmployeeNo: "E001",
			Name: "Ravi Kumar", Email: "ravi@acme-transport.example",
			Designation: "driver", Gender: eligibility.GenderMale,
			DateOfJoining: now.AddDate(0, -3, 0),
		},
		{
			ID: "demo-emp-meera", CompanyID: demoCompany, EmployeeNo: "E002",
			Name: "Meera Shah", Email: "meera@acme-transport.example",
			Designation: "driver", Gender: eligibility.GenderFemale,
			DateOfJoining: now.AddDate(0, -2, 0),
		},
		{
			ID: "demo-emp-joao", CompanyID: demoCompany, EmployeeNo: "E003",
			Name: "Joao Silva", Email: "joao@acme-transport.example",
			Designation: "loader", Gender: eligibility.GenderMale,
			DateOfJoining: now.AddDate(-1, -2, 0),
			// Heavy-wear role: shirts renew faster than the rule default
			CycleOverrides: map[eligibility.Category]int{eligibility.CategoryShirt: 3},
		},
		{
			ID: "demo-emp-ana", CompanyID: demoCompany, EmployeeNo: "E004",
			Name: "Ana Torres", Email: "ana@acme-transport.example",
			Designation: "dispatcher", Gender: eligibility.GenderFemale,
			// Joining date never recorded; cycles anchor at the epoch
		},
	}
	for _, emp := range employees {
		if err := h.Store.SaveEmployee(ctx, emp); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) seedCatalog(ctx context.Context) error {
	products := []eligibility.Product{
		{ID: "demo-prod-shirt-m", SKU: "SH-100", Name: "Crew Shirt (Men)", Category: eligibility.CategoryShirt,
			Gender: eligibility.GenderMale, Sizes: []string{"S", "M", "L", "XL"}, UnitPrice: decimal.NewFromInt(20)},
		{ID: "demo-prod-shirt-f", SKU: "SH-101", Name: "Crew Shirt (Women)", Category: eligibility.CategoryShirt,
			Gender: eligibility.GenderFemale, Sizes: []string{"XS", "S", "M", "L"}, UnitPrice: decimal.NewFromInt(20)},
		{ID: "demo-prod-pant-m", SKU: "TR-200", Name: "Work Trousers (Men)", Category: eligibility.CategoryPant,
			Gender: eligibility.GenderMale, Sizes: []string{"30", "32", "34", "36"}, UnitPrice: decimal.NewFromInt(35)},
		{ID: "demo-prod-pant-f", SKU: "TR-201", Name: "Work Trousers (Women)", Category: eligibility.CategoryPant,
			Gender: eligibility.GenderFemale, Sizes: []string{"28", "30", "32"}, UnitPrice: decimal.NewFromInt(35)},
		{ID: "demo-prod-jacket-f", SKU: "JK-300", Name: "Field Jacket", Category: eligibility.CategoryJacket,
			Gender: eligibility.GenderUnisex, Sizes: []string{"S", "M", "L"}, UnitPrice: decimal.NewFromInt(80)},
		{ID: "demo-prod-boot", SKU: "BT-400", Name: "Safety Boot", Category: eligibility.CategoryShoe,
			Gender: eligibility.GenderUnisex, Sizes: []string{"7", "8", "9", "10", "11"}, UnitPrice: decimal.NewFromInt(60)},
	}
	for _, p := range products {
		if err := h.Store.SaveProduct(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// advanceOrder walks an order from awaiting_approval to the target
// status through the permitted transitions.
func advanceOrder(ctx context.Context, h *Handler, orderID string, target eligibility.OrderStatus) error {
	path := map[eligibility.OrderStatus][]eligibility.OrderStatus{
		eligibility.StatusAwaitingApproval:   nil,
		eligibility.StatusRejected:           {eligibility.StatusRejected},
		eligibility.StatusAwaitingFulfilment: {eligibility.StatusAwaitingFulfilment},
		eligibility.StatusDispatched:         {eligibility.StatusAwaitingFulfilment, eligibility.StatusDispatched},
		eligibility.StatusDelivered:          {eligibility.StatusAwaitingFulfilment, eligibility.StatusDispatched, eligibility.StatusDelivered},
	}
	for _, step := range path[target] {
		if err := h.Store.UpdateOrderStatus(ctx, orderID, step); err != nil {
			return fmt.Errorf("advancing order %s to %s: %w", orderID, step, err)
		}
	}
	return nil
}
