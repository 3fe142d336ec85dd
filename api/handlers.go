/*
handlers.go - HTTP API handlers for the uniform ordering engine

PURPOSE:
  Exposes the eligibility and quota engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Rules:
    GET    /api/rules                   List company rules
    POST   /api/rules                   Create rule
    PUT    /api/rules/{id}              Update rule (optional reset)
    DELETE /api/rules/{id}              Delete rule

  Employees:
    GET    /api/employees               List company employees
    POST   /api/employees               Create employee
    GET    /api/employees/{id}          Get employee details
    GET    /api/employees/{id}/allowance Allowance summary
    GET    /api/employees/{id}/orders   Order history

  Products:
    GET    /api/products                List catalog (eligible-only filter)
    POST   /api/products                Add catalog item

  Cart and orders:
    POST   /api/cart/validate           Advisory cart validation
    POST   /api/orders                  Checkout (enforced at write time)
    GET    /api/orders                  List company orders
    POST   /api/orders/{id}/approve     awaiting_approval -> awaiting_fulfilment
    POST   /api/orders/{id}/reject      awaiting_approval -> rejected
    POST   /api/orders/{id}/dispatch    awaiting_fulfilment -> dispatched
    POST   /api/orders/{id}/deliver     dispatched -> delivered

  Bulk import:
    POST   /api/imports                 Run CSV import (JSON report)
    POST   /api/imports/report          Run CSV import (CSV report download)

SESSION:
  Caller identity arrives in headers set by the upstream gateway:
  X-Company-ID, X-Employee-ID, X-Role. Authentication itself happens
  upstream; this service only consumes the already-verified identity.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate rule, quota exceeded, bad transition)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uniformhq/uniform-engine/bulkimport"
	"github.com/uniformhq/uniform-engine/eligibility"
	"github.com/uniformhq/uniform-engine/factory"
	"github.com/uniformhq/uniform-engine/logger"
	"github.com/uniformhq/uniform-engine/obs"
	"github.com/uniformhq/uniform-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       *sqlite.Store
	Engine      *eligibility.Engine
	Validator   *eligibility.CartValidator
	Importer    *bulkimport.Importer
	RuleFactory *factory.RuleFactory
	Log         *logger.Logger

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a handler with its engine and importer wired to
// the given store.
func NewHandler(store *sqlite.Store, log *logger.Logger) *Handler {
	engine := eligibility.NewEngine(store, store)
	validator := eligibility.NewCartValidator(engine)
	return &Handler{
		Store:       store,
		Engine:      engine,
		Validator:   validator,
		Importer:    bulkimport.New(store, store, validator, store),
		RuleFactory: factory.NewRuleFactory(),
		Log:         log,
	}
}

// sessionFrom builds the caller identity from gateway headers.
func sessionFrom(r *http.Request) eligibility.SessionContext {
	return eligibility.SessionContext{
		CompanyID:  r.Header.Get("X-Company-ID"),
		EmployeeID: r.Header.Get("X-Employee-ID"),
		Role:       eligibility.Role(r.Header.Get("X-Role")),
	}
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns all rules for the caller's company.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)

	rules, err := h.Store.ListRules(r.Context(), session.CompanyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}

	dtos := make([]RuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = toRuleDTO(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRule creates a new eligibility rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)

	var req SaveRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.CompanyID = session.CompanyID

	rule, err := h.RuleFactory.FromJSON(req.RuleJSON)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule", err)
		return
	}

	if err := h.Store.CreateRule(r.Context(), rule); err != nil {
		writeDomainError(w, "Failed to create rule", err)
		return
	}

	h.Log.Info().Str("rule_id", rule.ID).Str("company_id", rule.CompanyID).
		Str("designation", rule.Designation).Msg("rule created")
	writeJSON(w, http.StatusCreated, toRuleDTO(*rule))
}

// UpdateRule updates an existing rule, optionally propagating a quota
// reset to affected employees.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	ruleID := chi.URLParam(r, "id")

	var req SaveRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ID = ruleID
	req.CompanyID = session.CompanyID

	rule, err := h.RuleFactory.FromJSON(req.RuleJSON)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule", err)
		return
	}

	if err := h.Store.UpdateRule(r.Context(), rule, req.PropagateReset); err != nil {
		writeDomainError(w, "Failed to update rule", err)
		return
	}

	h.Log.Info().Str("rule_id", rule.ID).Bool("propagate_reset", req.PropagateReset).
		Msg("rule updated")
	writeJSON(w, http.StatusOK, toRuleDTO(*rule))
}

// DeleteRule removes a rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	ruleID := chi.URLParam(r, "id")

	if err := h.Store.DeleteRule(r.Context(), session.CompanyID, ruleID); err != nil {
		writeDomainError(w, "Failed to delete rule", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": ruleID})
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees of the caller's company.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)

	employees, err := h.Store.ListEmployees(r.Context(), session.CompanyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, emp := range employees {
		dtos[i] = toEmployeeDTO(emp)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.loadEmployee(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee creates a new employee record.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)

	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	gender, ok := eligibility.NormalizeGender(req.Gender)
	if !ok || gender == eligibility.GenderUnisex {
		writeError(w, http.StatusBadRequest, "Gender must be male or female", nil)
		return
	}

	var joining time.Time
	if req.DateOfJoining != "" {
		var err error
		joining, err = time.Parse("2006-01-02", req.DateOfJoining)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date_of_joining format (use YYYY-MM-DD)", err)
			return
		}
	}

	emp := eligibility.Employee{
		ID:            uuid.NewString(),
		CompanyID:     session.CompanyID,
		EmployeeNo:    req.EmployeeNo,
		Name:          req.Name,
		Email:         req.Email,
		Designation:   req.Designation,
		Gender:        gender,
		DateOfJoining: joining,
	}
	for raw, months := range req.CycleOverrides {
		canonical, ok := eligibility.NormalizeCategory(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "Unknown category in cycle_overrides: "+raw, nil)
			return
		}
		if emp.CycleOverrides == nil {
			emp.CycleOverrides = make(map[eligibility.Category]int)
		}
		emp.CycleOverrides[canonical] = months
	}

	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// GetAllowance returns the employee's per-category allowance summary.
func (h *Handler) GetAllowance(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.loadEmployee(w, r)
	if !ok {
		return
	}

	summary, err := h.Engine.AllowanceSummary(r.Context(), *emp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute allowance", err)
		return
	}

	dtos := make([]AllowanceDTO, len(summary))
	for i, ca := range summary {
		dtos[i] = toAllowanceDTO(ca)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployeeOrders returns the employee's order history.
func (h *Handler) GetEmployeeOrders(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.loadEmployee(w, r)
	if !ok {
		return
	}

	orders, err := h.Store.OrdersForEmployee(r.Context(), emp.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list orders", err)
		return
	}

	dtos := make([]OrderDTO, len(orders))
	for i, o := range orders {
		dtos[i] = toOrderDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// loadEmployee fetches the {id} employee scoped to the caller's company.
func (h *Handler) loadEmployee(w http.ResponseWriter, r *http.Request) (*eligibility.Employee, bool) {
	session := sessionFrom(r)
	id := chi.URLParam(r, "id")

	emp, err := h.Store.GetEmployee(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get employee", err)
		return nil, false
	}
	if emp.CompanyID != session.CompanyID {
		// Cross-tenant lookups are indistinguishable from missing records.
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return nil, false
	}
	return emp, true
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns the catalog. With ?eligible_for={employeeID} it
// filters to categories the employee's rule still grants, and hides
// products of the opposite gender.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	products, err := h.Store.ListProducts(ctx, eligibility.Category(r.URL.Query().Get("category")))
	if err != nil {
		writeDomainError(w, "Failed to list products", err)
		return
	}

	if employeeID := r.URL.Query().Get("eligible_for"); employeeID != "" {
		emp, err := h.Store.GetEmployee(ctx, employeeID)
		if err != nil {
			writeDomainError(w, "Failed to get employee", err)
			return
		}
		summary, err := h.Engine.AllowanceSummary(ctx, *emp)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to compute allowance", err)
			return
		}
		granted := make(map[eligibility.Category]bool, len(summary))
		for _, ca := range summary {
			granted[ca.Category] = true
		}

		filtered := products[:0]
		for _, p := range products {
			if !granted[p.Category] {
				continue
			}
			if p.Gender != eligibility.GenderUnisex && p.Gender != emp.Gender {
				continue
			}
			filtered = append(filtered, p)
		}
		products = filtered
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProduct adds a catalog item.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	gender, ok := eligibility.NormalizeGender(req.Gender)
	if !ok {
		gender = eligibility.GenderUnisex
	}
	price, err := decimal.NewFromString(req.UnitPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid unit_price", err)
		return
	}

	product := eligibility.Product{
		ID:        uuid.NewString(),
		SKU:       req.SKU,
		Name:      req.Name,
		Category:  eligibility.Category(req.Category),
		Gender:    gender,
		Sizes:     req.Sizes,
		UnitPrice: price,
	}
	if err := h.Store.SaveProduct(r.Context(), product); err != nil {
		writeDomainError(w, "Failed to create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(product))
}

// =============================================================================
// CART AND ORDER HANDLERS
// =============================================================================

// ValidateCart runs the advisory cart check. A passing cart is NOT a
// reservation; checkout re-checks inside the write transaction.
func (h *Handler) ValidateCart(w http.ResponseWriter, r *http.Request) {
	var req ValidateCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	emp, items, ok := h.resolveCart(w, r, req.Items)
	if !ok {
		return
	}

	cart, err := eligibility.CartFromItems(items)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid cart", err)
		return
	}

	decisions, err := h.Validator.ValidateCart(r.Context(), *emp, cart)
	resp := ValidateCartResponse{Valid: err == nil, Decisions: toDecisionDTOs(decisions)}
	if err != nil {
		var qe *eligibility.QuotaExceededError
		if !errors.As(err, &qe) {
			writeError(w, http.StatusInternalServerError, "Failed to validate cart", err)
			return
		}
		obs.QuotaRejected(string(qe.Category))
		resp.Reason = qe.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Checkout places an order for the session employee. Quota is enforced
// by the store inside the insert transaction.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	emp, items, ok := h.resolveCart(w, r, req.Items)
	if !ok {
		return
	}

	order := &eligibility.Order{
		EmployeeID: emp.ID,
		CompanyID:  session.CompanyID,
		Items:      items,
	}
	if err := h.Store.CreateOrder(r.Context(), order); err != nil {
		var qe *eligibility.QuotaExceededError
		if errors.As(err, &qe) {
			obs.QuotaRejected(string(qe.Category))
		}
		writeDomainError(w, "Failed to place order", err)
		return
	}

	obs.OrderCreated("checkout")
	h.Log.Info().Str("order_id", order.ID).Str("employee_id", emp.ID).Msg("order placed")
	writeJSON(w, http.StatusCreated, toOrderDTO(*order))
}

// resolveCart turns SKU lines into order items for the session employee.
func (h *Handler) resolveCart(w http.ResponseWriter, r *http.Request, lines []CartItemRequest) (*eligibility.Employee, []eligibility.OrderItem, bool) {
	session := sessionFrom(r)
	ctx := r.Context()

	if len(lines) == 0 {
		writeError(w, http.StatusBadRequest, "Cart is empty", nil)
		return nil, nil, false
	}

	emp, err := h.Store.GetEmployee(ctx, session.EmployeeID)
	if err != nil {
		writeDomainError(w, "Failed to get employee", err)
		return nil, nil, false
	}

	items := make([]eligibility.OrderItem, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			writeError(w, http.StatusBadRequest, "Quantity must be positive for "+line.SKU, nil)
			return nil, nil, false
		}
		product, err := h.Store.GetProductBySKU(ctx, line.SKU)
		if err != nil {
			writeDomainError(w, "Unknown SKU "+line.SKU, err)
			return nil, nil, false
		}
		items = append(items, eligibility.OrderItem{
			ProductID: product.ID,
			Category:  product.Category,
			Size:      line.Size,
			Quantity:  line.Quantity,
			UnitPrice: product.UnitPrice,
		})
	}
	return emp, items, true
}

// ListOrders returns the company's orders, optionally by status.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)

	orders, err := h.Store.ListOrdersByCompany(r.Context(), session.CompanyID,
		eligibility.OrderStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list orders", err)
		return
	}

	dtos := make([]OrderDTO, len(orders))
	for i, o := range orders {
		dtos[i] = toOrderDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetOrder returns one order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(*order))
}

// loadOrder fetches the {id} order scoped to the caller's company.
func (h *Handler) loadOrder(w http.ResponseWriter, r *http.Request) (*eligibility.Order, bool) {
	session := sessionFrom(r)

	order, err := h.Store.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get order", err)
		return nil, false
	}
	if order.CompanyID != session.CompanyID {
		// Cross-tenant lookups are indistinguishable from missing records.
		writeError(w, http.StatusNotFound, "Order not found", nil)
		return nil, false
	}
	return order, true
}

// ApproveOrder moves an order past the approval gate.
func (h *Handler) ApproveOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, eligibility.StatusAwaitingFulfilment)
}

// RejectOrder rejects a pending order, returning its quota.
func (h *Handler) RejectOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, eligibility.StatusRejected)
}

// DispatchOrder marks an approved order as shipped.
func (h *Handler) DispatchOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, eligibility.StatusDispatched)
}

// DeliverOrder marks a dispatched order as delivered.
func (h *Handler) DeliverOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, eligibility.StatusDelivered)
}

func (h *Handler) transitionOrder(w http.ResponseWriter, r *http.Request, next eligibility.OrderStatus) {
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	orderID := order.ID

	if err := h.Store.UpdateOrderStatus(r.Context(), orderID, next); err != nil {
		writeDomainError(w, "Failed to update order", err)
		return
	}

	h.Log.Info().Str("order_id", orderID).Str("status", string(next)).Msg("order transitioned")
	writeJSON(w, http.StatusOK, map[string]any{"id": orderID, "status": string(next)})
}

// =============================================================================
// BULK IMPORT HANDLERS
// =============================================================================

// RunImport executes a CSV bulk import and returns the JSON report.
// The CSV arrives as the request body (text/csv) or as the "file" part
// of a multipart form.
func (h *Handler) RunImport(w http.ResponseWriter, r *http.Request) {
	report, ok := h.runImport(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toImportResponse(report))
}

// DownloadImportReport executes a CSV bulk import and streams the
// per-row report back as a CSV attachment.
func (h *Handler) DownloadImportReport(w http.ResponseWriter, r *http.Request) {
	report, ok := h.runImport(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="import-report.csv"`)
	if err := report.WriteCSV(w); err != nil {
		h.Log.Error().Err(err).Msg("failed to stream import report")
	}
}

func (h *Handler) runImport(w http.ResponseWriter, r *http.Request) (*bulkimport.Report, bool) {
	session := sessionFrom(r)

	input := r.Body
	if file, _, err := r.FormFile("file"); err == nil {
		defer file.Close()
		input = file
	}

	report, err := h.Importer.Run(r.Context(), session, input)
	if err != nil {
		writeDomainError(w, "Import rejected", err)
		return nil, false
	}

	for _, row := range report.Results {
		obs.ImportRow(string(row.Status))
		if row.Status == bulkimport.RowOK {
			obs.OrderCreated("import")
		}
	}
	h.Log.Info().Int("total", report.Total).Int("successful", report.Successful).
		Int("failed", report.Failed).Msg("bulk import completed")
	return report, true
}

// =============================================================================
// HELPERS
// =============================================================================

func toDecisionDTOs(decisions []eligibility.CategoryDecision) []CartDecisionDTO {
	dtos := make([]CartDecisionDTO, len(decisions))
	for i, d := range decisions {
		dtos[i] = CartDecisionDTO{
			Category:  string(d.Category),
			Requested: d.Requested,
			Remaining: d.Remaining,
			Allowed:   d.Allowed,
		}
	}
	return dtos
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case eligibility.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, eligibility.ErrQuotaExceeded),
		errors.Is(err, eligibility.ErrRuleExists),
		errors.Is(err, eligibility.ErrInvalidTransition):
		writeError(w, http.StatusConflict, message, err)
	case eligibility.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
