/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rule.go: RuleJSON type
*/
package api

import (
	"time"

	"github.com/uniformhq/uniform-engine/bulkimport"
	"github.com/uniformhq/uniform-engine/eligibility"
	"github.com/uniformhq/uniform-engine/factory"
)

// =============================================================================
// RULES
// =============================================================================

// RuleDTO represents an eligibility rule in API responses.
type RuleDTO struct {
	ID          string                 `json:"id"`
	CompanyID   string                 `json:"company_id"`
	Designation string                 `json:"designation"`
	Gender      string                 `json:"gender"`
	Categories  map[string]CategoryDTO `json:"categories"`
	CreatedAt   string                 `json:"created_at,omitempty"`
	UpdatedAt   string                 `json:"updated_at,omitempty"`
}

// CategoryDTO is the per-category allowance in rule payloads.
type CategoryDTO struct {
	Quantity         int    `json:"quantity"`
	RenewalFrequency int    `json:"renewal_frequency"`
	RenewalUnit      string `json:"renewal_unit"`
}

func toRuleDTO(rule eligibility.EligibilityRule) RuleDTO {
	dto := RuleDTO{
		ID:          rule.ID,
		CompanyID:   rule.CompanyID,
		Designation: rule.Designation,
		Gender:      string(rule.Gender),
		Categories:  make(map[string]CategoryDTO, len(rule.Categories)),
	}
	for c, ce := range rule.Categories {
		dto.Categories[string(c)] = CategoryDTO{
			Quantity:         ce.Quantity,
			RenewalFrequency: ce.RenewalFrequency,
			RenewalUnit:      string(ce.RenewalUnit),
		}
	}
	if !rule.CreatedAt.IsZero() {
		dto.CreatedAt = rule.CreatedAt.Format(time.RFC3339)
	}
	if !rule.UpdatedAt.IsZero() {
		dto.UpdatedAt = rule.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

// SaveRuleRequest carries a rule definition plus the reset flag honored
// on updates.
type SaveRuleRequest struct {
	factory.RuleJSON
	PropagateReset bool `json:"propagate_reset,omitempty"`
}

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID             string         `json:"id"`
	EmployeeNo     string         `json:"employee_no"`
	Name           string         `json:"name"`
	Email          string         `json:"email,omitempty"`
	Designation    string         `json:"designation"`
	Gender         string         `json:"gender"`
	DateOfJoining  string         `json:"date_of_joining,omitempty"`
	CycleOverrides map[string]int `json:"cycle_overrides,omitempty"`
}

func toEmployeeDTO(emp eligibility.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:            emp.ID,
		EmployeeNo:    emp.EmployeeNo,
		Name:          emp.Name,
		Email:         emp.Email,
		Designation:   emp.Designation,
		Gender:        string(emp.Gender),
		DateOfJoining: formatDate(emp.DateOfJoining),
	}
	if len(emp.CycleOverrides) > 0 {
		dto.CycleOverrides = make(map[string]int, len(emp.CycleOverrides))
		for c, months := range emp.CycleOverrides {
			dto.CycleOverrides[string(c)] = months
		}
	}
	return dto
}

// CreateEmployeeRequest is the request to create an employee.
type CreateEmployeeRequest struct {
	EmployeeNo     string         `json:"employee_no"`
	Name           string         `json:"name"`
	Email          string         `json:"email"`
	Designation    string         `json:"designation"`
	Gender         string         `json:"gender"`
	DateOfJoining  string         `json:"date_of_joining"` // YYYY-MM-DD, optional
	CycleOverrides map[string]int `json:"cycle_overrides,omitempty"`
}

// =============================================================================
// PRODUCTS
// =============================================================================

// ProductDTO represents a catalog item in API responses.
type ProductDTO struct {
	ID        string   `json:"id"`
	SKU       string   `json:"sku"`
	Name      string   `json:"name"`
	Category  string   `json:"category"`
	Gender    string   `json:"gender"`
	Sizes     []string `json:"sizes,omitempty"`
	UnitPrice string   `json:"unit_price"`
}

func toProductDTO(p eligibility.Product) ProductDTO {
	return ProductDTO{
		ID:        p.ID,
		SKU:       p.SKU,
		Name:      p.Name,
		Category:  string(p.Category),
		Gender:    string(p.Gender),
		Sizes:     p.Sizes,
		UnitPrice: p.UnitPrice.String(),
	}
}

// CreateProductRequest is the request to add a catalog item.
type CreateProductRequest struct {
	SKU       string   `json:"sku"`
	Name      string   `json:"name"`
	Category  string   `json:"category"`
	Gender    string   `json:"gender"`
	Sizes     []string `json:"sizes"`
	UnitPrice string   `json:"unit_price"`
}

// =============================================================================
// ALLOWANCES AND CART
// =============================================================================

// AllowanceDTO is one category row of an employee's allowance summary.
type AllowanceDTO struct {
	Category      string `json:"category"`
	Total         int    `json:"total"`
	Consumed      int    `json:"consumed"`
	Remaining     int    `json:"remaining"`
	CycleStart    string `json:"cycle_start"`
	CycleEnd      string `json:"cycle_end"`
	DaysRemaining int    `json:"days_remaining"`
}

func toAllowanceDTO(ca eligibility.CategoryAllowance) AllowanceDTO {
	return AllowanceDTO{
		Category:      string(ca.Category),
		Total:         ca.Total,
		Consumed:      ca.Consumed,
		Remaining:     ca.Remaining,
		CycleStart:    formatDate(ca.CycleStart),
		CycleEnd:      formatDate(ca.CycleEnd),
		DaysRemaining: ca.DaysRemaining,
	}
}

// CartItemRequest is one line of a cart sent for validation or checkout.
type CartItemRequest struct {
	SKU      string `json:"sku"`
	Size     string `json:"size"`
	Quantity int    `json:"quantity"`
}

// ValidateCartRequest asks whether a cart fits the remaining allowance.
type ValidateCartRequest struct {
	Items []CartItemRequest `json:"items"`
}

// CartDecisionDTO is the per-category verdict.
type CartDecisionDTO struct {
	Category  string `json:"category"`
	Requested int    `json:"requested"`
	Remaining int    `json:"remaining"`
	Allowed   bool   `json:"allowed"`
}

// ValidateCartResponse returns the verdict for every category in the
// cart, plus the first shortfall when the whole cart is rejected.
type ValidateCartResponse struct {
	Valid     bool              `json:"valid"`
	Decisions []CartDecisionDTO `json:"decisions"`
	Reason    string            `json:"reason,omitempty"`
}

// CheckoutRequest places an order from a cart.
type CheckoutRequest struct {
	Items []CartItemRequest `json:"items"`
}

// =============================================================================
// ORDERS
// =============================================================================

// OrderItemDTO is one order line in API responses.
type OrderItemDTO struct {
	ProductID string `json:"product_id"`
	Category  string `json:"category"`
	Size      string `json:"size,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// OrderDTO represents an order in API responses.
type OrderDTO struct {
	ID         string         `json:"id"`
	EmployeeID string         `json:"employee_id"`
	OrderDate  string         `json:"order_date"`
	Status     string         `json:"status"`
	Items      []OrderItemDTO `json:"items"`
	Total      string         `json:"total"`
}

func toOrderDTO(o eligibility.Order) OrderDTO {
	items := make([]OrderItemDTO, len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderItemDTO{
			ProductID: it.ProductID,
			Category:  string(it.Category),
			Size:      it.Size,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.String(),
		}
	}
	return OrderDTO{
		ID:         o.ID,
		EmployeeID: o.EmployeeID,
		OrderDate:  o.OrderDate.Format("2006-01-02"),
		Status:     string(o.Status),
		Items:      items,
		Total:      o.Total().String(),
	}
}

// =============================================================================
// BULK IMPORT
// =============================================================================

// ImportResponse summarizes a bulk import run.
type ImportResponse struct {
	Total      int            `json:"total"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Results    []ImportRowDTO `json:"results"`
}

// ImportRowDTO is the per-row outcome.
type ImportRowDTO struct {
	RowNumber  int    `json:"row_number"`
	EmployeeID string `json:"employee_id"`
	SKU        string `json:"sku"`
	Size       string `json:"size,omitempty"`
	Quantity   int    `json:"quantity"`
	Status     string `json:"status"`
	OrderID    string `json:"order_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

func toImportResponse(rep *bulkimport.Report) ImportResponse {
	resp := ImportResponse{
		Total:      rep.Total,
		Successful: rep.Successful,
		Failed:     rep.Failed,
		Results:    make([]ImportRowDTO, len(rep.Results)),
	}
	for i, row := range rep.Results {
		resp.Results[i] = ImportRowDTO{
			RowNumber:  row.RowNumber,
			EmployeeID: row.EmployeeID,
			SKU:        row.SKU,
			Size:       row.Size,
			Quantity:   row.Quantity,
			Status:     string(row.Status),
			OrderID:    row.OrderID,
			Error:      row.Error,
		}
	}
	return resp
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
