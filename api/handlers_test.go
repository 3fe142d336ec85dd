package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniformhq/uniform-engine/eligibility"
	"github.com/uniformhq/uniform-engine/logger"
	"github.com/uniformhq/uniform-engine/store/sqlite"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

type session struct {
	companyID  string
	employeeID string
	role       string
}

var adminSession = session{companyID: "acme", role: "company_admin"}

func newTestAPI(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, logger.New(logger.Config{Env: "test", Level: "error"}))
	return h, NewRouter(h, RouterConfig{})
}

func do(t *testing.T, router http.Handler, method, path string, body string, sess session) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if sess.companyID != "" {
		req.Header.Set("X-Company-ID", sess.companyID)
	}
	if sess.employeeID != "" {
		req.Header.Set("X-Employee-ID", sess.employeeID)
	}
	if sess.role != "" {
		req.Header.Set("X-Role", sess.role)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), "body: %s", rec.Body.String())
	return out
}

// seedDriverSetup writes a rule, an employee and a catalog directly to
// the store so each test exercises one endpoint over known data.
func seedDriverSetup(t *testing.T, h *Handler) eligibility.Employee {
	t.Helper()
	ctx := context.Background()

	rule := &eligibility.EligibilityRule{
		CompanyID:   "acme",
		Designation: "driver",
		Gender:      eligibility.GenderMale,
		Categories: map[eligibility.Category]eligibility.CategoryEligibility{
			eligibility.CategoryShirt: {Quantity: 2, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths},
			eligibility.CategoryPant:  {Quantity: 1, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths},
		},
	}
	require.NoError(t, h.Store.CreateRule(ctx, rule))

	emp := eligibility.Employee{
		ID: "emp-ravi", CompanyID: "acme", EmployeeNo: "E001",
		Name: "Ravi Kumar", Designation: "driver", Gender: eligibility.GenderMale,
		DateOfJoining: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, h.Store.SaveEmployee(ctx, emp))

	products := []eligibility.Product{
		{ID: "prod-shirt", SKU: "SH-100", Name: "Crew Shirt", Category: eligibility.CategoryShirt,
			Gender: eligibility.GenderMale, Sizes: []string{"M", "L"}, UnitPrice: decimal.NewFromInt(20)},
		{ID: "prod-pant", SKU: "TR-200", Name: "Work Trousers", Category: eligibility.CategoryPant,
			Gender: eligibility.GenderMale, Sizes: []string{"32"}, UnitPrice: decimal.NewFromInt(35)},
		{ID: "prod-shirt-f", SKU: "SH-101", Name: "Crew Shirt (Women)", Category: eligibility.CategoryShirt,
			Gender: eligibility.GenderFemale, UnitPrice: decimal.NewFromInt(20)},
		{ID: "prod-boot", SKU: "BT-400", Name: "Safety Boot", Category: eligibility.CategoryShoe,
			Gender: eligibility.GenderUnisex, UnitPrice: decimal.NewFromInt(60)},
	}
	for _, p := range products {
		require.NoError(t, h.Store.SaveProduct(ctx, p))
	}
	return emp
}

func raviSession() session {
	return session{companyID: "acme", employeeID: "emp-ravi", role: "employee"}
}

// =============================================================================
// RULES
// =============================================================================

func TestRuleEndpoints(t *testing.T) {
	_, router := newTestAPI(t)

	body := `{
		"designation": "Driver",
		"gender": "male",
		"categories": {
			"shirts":   {"quantity": 3, "renewal_frequency": 6, "renewal_unit": "months"},
			"trousers": {"quantity": 2, "renewal_frequency": 6, "renewal_unit": "months"}
		}
	}`

	rec := do(t, router, "POST", "/api/rules", body, adminSession)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[RuleDTO](t, rec)
	assert.Equal(t, "acme", created.CompanyID)
	assert.Equal(t, "driver", created.Designation)
	assert.Contains(t, created.Categories, "pant", "alias spellings are canonicalized")
	assert.NotContains(t, created.Categories, "trousers")
	require.NotEmpty(t, created.ID)

	// Same (designation, gender) again conflicts
	rec = do(t, router, "POST", "/api/rules", body, adminSession)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Update bumps the shirt quantity
	update := `{
		"designation": "driver",
		"gender": "male",
		"categories": {"shirt": {"quantity": 5, "renewal_frequency": 6, "renewal_unit": "months"}}
	}`
	rec = do(t, router, "PUT", "/api/rules/"+created.ID, update, adminSession)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[RuleDTO](t, rec)
	assert.Equal(t, 5, updated.Categories["shirt"].Quantity)

	rec = do(t, router, "DELETE", "/api/rules/"+created.ID, "", adminSession)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, "GET", "/api/rules", "", adminSession)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]RuleDTO](t, rec))
}

func TestCreateRuleRejectsUnisex(t *testing.T) {
	_, router := newTestAPI(t)

	body := `{
		"designation": "driver",
		"gender": "unisex",
		"categories": {"shirt": {"quantity": 1, "renewal_frequency": 6, "renewal_unit": "months"}}
	}`
	rec := do(t, router, "POST", "/api/rules", body, adminSession)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func TestEmployeeEndpoints(t *testing.T) {
	_, router := newTestAPI(t)

	body := `{
		"employee_no": "E042",
		"name": "Meera Shah",
		"designation": "driver",
		"gender": "female",
		"date_of_joining": "2024-03-15",
		"cycle_overrides": {"shirts": 3}
	}`
	rec := do(t, router, "POST", "/api/employees", body, adminSession)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[EmployeeDTO](t, rec)
	assert.Equal(t, "2024-03-15", created.DateOfJoining)
	assert.Equal(t, 3, created.CycleOverrides["shirt"], "override keys are canonicalized")

	rec = do(t, router, "GET", "/api/employees/"+created.ID, "", adminSession)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Another tenant sees a 404, not a 403
	other := session{companyID: "globex", role: "company_admin"}
	rec = do(t, router, "GET", "/api/employees/"+created.ID, "", other)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateEmployeeRejectsUnisex(t *testing.T) {
	_, router := newTestAPI(t)

	body := `{"employee_no": "E001", "name": "X", "designation": "driver", "gender": "unisex"}`
	rec := do(t, router, "POST", "/api/employees", body, adminSession)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAllowanceEndpoint(t *testing.T) {
	h, router := newTestAPI(t)
	emp := seedDriverSetup(t, h)

	rec := do(t, router, "GET", "/api/employees/"+emp.ID+"/allowance", "", adminSession)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rows := decode[[]AllowanceDTO](t, rec)
	require.Len(t, rows, 2)

	byCategory := map[string]AllowanceDTO{}
	for _, row := range rows {
		byCategory[row.Category] = row
	}
	assert.Equal(t, 2, byCategory["shirt"].Total)
	assert.Equal(t, 2, byCategory["shirt"].Remaining)
	assert.Equal(t, 1, byCategory["pant"].Total)
	assert.NotEmpty(t, byCategory["shirt"].CycleEnd)
}

// =============================================================================
// PRODUCTS
// =============================================================================

func TestListProductsEligibleFor(t *testing.T) {
	h, router := newTestAPI(t)
	emp := seedDriverSetup(t, h)

	rec := do(t, router, "GET", "/api/products?eligible_for="+emp.ID, "", adminSession)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	products := decode[[]ProductDTO](t, rec)
	skus := make([]string, len(products))
	for i, p := range products {
		skus[i] = p.SKU
	}
	// The women's shirt is hidden (gender), the boot is hidden (the rule
	// grants no shoes)
	assert.ElementsMatch(t, []string{"SH-100", "TR-200"}, skus)
}

func TestCreateProductNormalizesCategory(t *testing.T) {
	_, router := newTestAPI(t)

	body := `{"sku": "BL-900", "name": "Office Blazer", "category": "Blazers", "gender": "female", "unit_price": "75.50"}`
	rec := do(t, router, "POST", "/api/products", body, adminSession)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode[ProductDTO](t, rec)
	assert.Equal(t, "jacket", created.Category)
	assert.Equal(t, "75.5", created.UnitPrice)
}

// =============================================================================
// CART AND CHECKOUT
// =============================================================================

func TestValidateCartIsAdvisory(t *testing.T) {
	h, router := newTestAPI(t)
	seedDriverSetup(t, h)

	// Over the shirt quota: still a 200, with the verdict in the body
	body := `{"items": [{"sku": "SH-100", "size": "M", "quantity": 5}]}`
	rec := do(t, router, "POST", "/api/cart/validate", body, raviSession())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[ValidateCartResponse](t, rec)
	assert.False(t, resp.Valid)
	assert.NotEmpty(t, resp.Reason)
	require.Len(t, resp.Decisions, 1)
	assert.Equal(t, "shirt", resp.Decisions[0].Category)
	assert.Equal(t, 5, resp.Decisions[0].Requested)
	assert.Equal(t, 2, resp.Decisions[0].Remaining)
	assert.False(t, resp.Decisions[0].Allowed)

	// Within quota
	body = `{"items": [{"sku": "SH-100", "size": "M", "quantity": 2}]}`
	rec = do(t, router, "POST", "/api/cart/validate", body, raviSession())
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[ValidateCartResponse](t, rec)
	assert.True(t, resp.Valid)
	assert.Empty(t, resp.Reason)
}

func TestCheckoutEnforcesQuota(t *testing.T) {
	h, router := newTestAPI(t)
	seedDriverSetup(t, h)

	body := `{"items": [{"sku": "SH-100", "size": "M", "quantity": 2}]}`
	rec := do(t, router, "POST", "/api/orders", body, raviSession())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	order := decode[OrderDTO](t, rec)
	assert.Equal(t, "emp-ravi", order.EmployeeID)
	assert.Equal(t, string(eligibility.StatusAwaitingApproval), order.Status)
	assert.Equal(t, "40", order.Total)

	// Quota is spent now
	rec = do(t, router, "POST", "/api/orders", body, raviSession())
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestCheckoutUnknownSKU(t *testing.T) {
	h, router := newTestAPI(t)
	seedDriverSetup(t, h)

	body := `{"items": [{"sku": "NOPE-1", "quantity": 1}]}`
	rec := do(t, router, "POST", "/api/orders", body, raviSession())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// ORDER LIFECYCLE
// =============================================================================

func TestOrderLifecycleEndpoints(t *testing.T) {
	h, router := newTestAPI(t)
	seedDriverSetup(t, h)

	rec := do(t, router, "POST", "/api/orders", `{"items": [{"sku": "TR-200", "size": "32", "quantity": 1}]}`, raviSession())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[OrderDTO](t, rec)

	for _, step := range []string{"approve", "dispatch", "deliver"} {
		rec = do(t, router, "POST", fmt.Sprintf("/api/orders/%s/%s", order.ID, step), "", adminSession)
		require.Equal(t, http.StatusOK, rec.Code, "step %s: %s", step, rec.Body.String())
	}

	// Delivered is terminal
	rec = do(t, router, "POST", "/api/orders/"+order.ID+"/reject", "", adminSession)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, "POST", "/api/orders/missing/approve", "", adminSession)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderEndpointsScopedToTenant(t *testing.T) {
	h, router := newTestAPI(t)
	seedDriverSetup(t, h)

	rec := do(t, router, "POST", "/api/orders", `{"items": [{"sku": "TR-200", "size": "32", "quantity": 1}]}`, raviSession())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[OrderDTO](t, rec)

	// Another tenant's admin sees a 404 on read and cannot transition
	other := session{companyID: "globex", role: "company_admin"}
	rec = do(t, router, "GET", "/api/orders/"+order.ID, "", other)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, router, "POST", "/api/orders/"+order.ID+"/approve", "", other)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The cross-tenant attempt must not have moved the order
	rec = do(t, router, "GET", "/api/orders/"+order.ID, "", adminSession)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(eligibility.StatusAwaitingApproval), decode[OrderDTO](t, rec).Status)
}

func TestRejectedOrderFreesQuota(t *testing.T) {
	h, router := newTestAPI(t)
	seedDriverSetup(t, h)

	body := `{"items": [{"sku": "TR-200", "size": "32", "quantity": 1}]}`
	rec := do(t, router, "POST", "/api/orders", body, raviSession())
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decode[OrderDTO](t, rec)

	// Trouser quota is 1, so a second order bounces
	rec = do(t, router, "POST", "/api/orders", body, raviSession())
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, "POST", "/api/orders/"+order.ID+"/reject", "", adminSession)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, "POST", "/api/orders", body, raviSession())
	assert.Equal(t, http.StatusCreated, rec.Code, "rejection returns the quota")
}

func TestEmployeeOrderHistory(t *testing.T) {
	h, router := newTestAPI(t)
	emp := seedDriverSetup(t, h)

	rec := do(t, router, "POST", "/api/orders", `{"items": [{"sku": "SH-100", "size": "M", "quantity": 1}]}`, raviSession())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, "GET", "/api/employees/"+emp.ID+"/orders", "", adminSession)
	require.Equal(t, http.StatusOK, rec.Code)
	orders := decode[[]OrderDTO](t, rec)
	require.Len(t, orders, 1)
	require.Len(t, orders[0].Items, 1)
	assert.Equal(t, "shirt", orders[0].Items[0].Category)
}

// =============================================================================
// BULK IMPORT
// =============================================================================

func TestImportEndpoint(t *testing.T) {
	h, router := newTestAPI(t)
	seedDriverSetup(t, h)

	csvBody := strings.Join([]string{
		"Employee ID,SKU,Size,Quantity",
		"E001,SH-100,M,1",
		"E999,SH-100,M,1",
		"E001,SH-100,M,99",
	}, "\n")

	rec := do(t, router, "POST", "/api/imports", csvBody, adminSession)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	report := decode[ImportResponse](t, rec)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, 2, report.Failed)
	require.Len(t, report.Results, 3)
	assert.NotEmpty(t, report.Results[0].OrderID)
	assert.Contains(t, report.Results[1].Error, "E999")
	assert.Contains(t, report.Results[2].Error, "quota")
}

func TestImportMissingColumn(t *testing.T) {
	h, router := newTestAPI(t)
	seedDriverSetup(t, h)

	rec := do(t, router, "POST", "/api/imports", "Employee ID,SKU,Size\nE001,SH-100,M", adminSession)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportReportDownload(t *testing.T) {
	h, router := newTestAPI(t)
	seedDriverSetup(t, h)

	csvBody := "Employee ID,SKU,Size,Quantity\nE001,SH-100,M,1"
	rec := do(t, router, "POST", "/api/imports/report", csvBody, adminSession)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Row Number")
	assert.Contains(t, rec.Body.String(), "success")
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarioLoad(t *testing.T) {
	_, router := newTestAPI(t)

	rec := do(t, router, "POST", "/api/scenarios/load", `{"scenario_id": "fresh-company"}`, adminSession)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, "GET", "/api/scenarios/current", "", adminSession)
	require.Equal(t, http.StatusOK, rec.Code)
	current := decode[map[string]string](t, rec)
	assert.Equal(t, "fresh-company", current["scenario_id"])

	demo := session{companyID: demoCompany, role: "company_admin"}
	rec = do(t, router, "GET", "/api/employees", "", demo)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]EmployeeDTO](t, rec), 4)

	rec = do(t, router, "GET", "/api/rules", "", demo)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]RuleDTO](t, rec), 4)
}

func TestScenarioMidCycleConsumesAllowance(t *testing.T) {
	_, router := newTestAPI(t)

	rec := do(t, router, "POST", "/api/scenarios/load", `{"scenario_id": "mid-cycle"}`, adminSession)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	demo := session{companyID: demoCompany, role: "company_admin"}
	rec = do(t, router, "GET", "/api/employees/demo-emp-ravi/allowance", "", demo)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rows := decode[[]AllowanceDTO](t, rec)
	byCategory := map[string]AllowanceDTO{}
	for _, row := range rows {
		byCategory[row.Category] = row
	}
	assert.Equal(t, 1, byCategory["shirt"].Consumed)
	assert.Equal(t, 1, byCategory["pant"].Consumed, "awaiting approval still counts")
}

func TestScenarioUnknown(t *testing.T) {
	_, router := newTestAPI(t)

	rec := do(t, router, "POST", "/api/scenarios/load", `{"scenario_id": "nope"}`, adminSession)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// MISC
// =============================================================================

func TestHealthz(t *testing.T) {
	_, router := newTestAPI(t)

	rec := do(t, router, "GET", "/healthz", "", session{})
	assert.Equal(t, http.StatusOK, rec.Code)
}
