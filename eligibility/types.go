/*
Package eligibility implements the uniform eligibility and quota core.

PURPOSE:
  This package contains the domain types and algorithms for answering one
  question: "how many of each uniform category may this employee still
  order right now?" Companies configure per-designation allowances, the
  quota engine replays an employee's order history against the renewal
  cycle containing "now", and the validator gates carts against what is
  left.

KEY CONCEPTS IN THIS FILE (types.go):
  - Category: Canonical product category with alias normalization
  - Gender: Rule/product gender with legacy unisex handling
  - CategoryEligibility: Per-category {quantity, renewal frequency}
  - EligibilityRule: Allowances for a (company, designation, gender)
  - Employee, Order, OrderItem: Plain records the engine computes over
  - SessionContext: Explicit caller identity (never ambient state)

DESIGN PRINCIPLES:
  1. Normalization at the boundary: category aliases (trouser/pant,
     blazer/jacket) resolve to ONE canonical value on ingestion, never
     at read sites.
  2. Derived, not stored: consumed quota is always recomputed from
     orders; there is no counter that can drift.
  3. Plain data out: everything returned to callers is serializable,
     with no storage handles attached.

SEE ALSO:
  - cycle.go: Renewal-cycle boundary arithmetic
  - quota.go: Total/remaining allowance computation
  - validate.go: Cart validation against remaining allowance
  - errors.go: Error taxonomy
*/
package eligibility

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CATEGORY - Canonical product category with alias normalization
// =============================================================================

// Category is the canonical uniform category. Records arriving from
// products, rules, or CSV imports may use aliases; NormalizeCategory
// maps them onto exactly one of these values.
type Category string

const (
	CategoryShirt     Category = "shirt"
	CategoryPant      Category = "pant"
	CategoryShoe      Category = "shoe"
	CategoryJacket    Category = "jacket"
	CategoryAccessory Category = "accessory"
)

// Categories lists all canonical categories in display order.
var Categories = []Category{
	CategoryShirt,
	CategoryPant,
	CategoryShoe,
	CategoryJacket,
	CategoryAccessory,
}

// categoryAliases maps every accepted spelling to its canonical value.
// "trouser" and "pant" MUST land in the same quota bucket, as must
// "blazer" and "jacket" - otherwise an allowance is silently doubled
// or lost depending on which alias a record happens to carry.
var categoryAliases = map[string]Category{
	"shirt":       CategoryShirt,
	"shirts":      CategoryShirt,
	"pant":        CategoryPant,
	"pants":       CategoryPant,
	"trouser":     CategoryPant,
	"trousers":    CategoryPant,
	"shoe":        CategoryShoe,
	"shoes":       CategoryShoe,
	"jacket":      CategoryJacket,
	"jackets":     CategoryJacket,
	"blazer":      CategoryJacket,
	"blazers":     CategoryJacket,
	"accessory":   CategoryAccessory,
	"accessories": CategoryAccessory,
}

// NormalizeCategory resolves a raw category string (any alias, any case,
// surrounding whitespace) to its canonical Category.
// Returns false if the string names no known category.
func NormalizeCategory(raw string) (Category, bool) {
	c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(raw))]
	return c, ok
}

// DefaultCycleMonths returns the default renewal-cycle length for a
// category, used when neither the rule nor the employee specifies one.
func (c Category) DefaultCycleMonths() int {
	if c == CategoryJacket {
		return 12
	}
	return 6
}

// =============================================================================
// GENDER
// =============================================================================

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"

	// GenderUnisex appears in two places: on products (matches either
	// rule) and on legacy rule rows (matched for either requested
	// gender). New rules must not be written as unisex; see ValidateRule.
	GenderUnisex Gender = "unisex"
)

// NormalizeGender lowercases and trims a raw gender string.
// Returns false for anything other than male/female/unisex.
func NormalizeGender(raw string) (Gender, bool) {
	switch Gender(strings.ToLower(strings.TrimSpace(raw))) {
	case GenderMale:
		return GenderMale, true
	case GenderFemale:
		return GenderFemale, true
	case GenderUnisex:
		return GenderUnisex, true
	}
	return "", false
}

// =============================================================================
// ELIGIBILITY RULE - Allowances for a (company, designation, gender)
// =============================================================================

// RenewalUnit is the unit for CategoryEligibility.RenewalFrequency.
type RenewalUnit string

const (
	RenewalMonths RenewalUnit = "months"
	RenewalYears  RenewalUnit = "years"
)

// CategoryEligibility is the allowance for one category within a rule.
type CategoryEligibility struct {
	Quantity         int         `json:"quantity"`
	RenewalFrequency int         `json:"renewal_frequency"`
	RenewalUnit      RenewalUnit `json:"renewal_unit"`
}

// CycleMonths converts the renewal frequency to months.
func (ce CategoryEligibility) CycleMonths() int {
	if ce.RenewalUnit == RenewalYears {
		return ce.RenewalFrequency * 12
	}
	return ce.RenewalFrequency
}

// DefaultCategoryEligibility is applied when an admin ticks a category
// on without filling in the numbers.
func DefaultCategoryEligibility() CategoryEligibility {
	return CategoryEligibility{Quantity: 1, RenewalFrequency: 6, RenewalUnit: RenewalMonths}
}

// EligibilityRule holds the allowed categories and per-category
// allowances for one (company, designation, gender) triple.
//
// INVARIANT: at most one active rule per triple. The store enforces
// this with a unique index; ValidateRule enforces the field-level
// invariants before a rule is ever persisted.
type EligibilityRule struct {
	ID          string                           `json:"id"`
	CompanyID   string                           `json:"company_id"`
	Designation string                           `json:"designation"`
	Gender      Gender                           `json:"gender"`
	Categories  map[Category]CategoryEligibility `json:"categories"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Allows reports whether the rule grants any allowance for the category.
func (r *EligibilityRule) Allows(c Category) bool {
	if r == nil {
		return false
	}
	_, ok := r.Categories[c]
	return ok
}

// =============================================================================
// EMPLOYEE
// =============================================================================

// DefaultDateOfJoining anchors renewal cycles for employees whose
// joining date was never recorded.
var DefaultDateOfJoining = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

// Employee is the record the quota engine computes over.
type Employee struct {
	ID            string    `json:"id"`
	CompanyID     string    `json:"company_id"`
	EmployeeNo    string    `json:"employee_no"` // company-facing ID, used by bulk import
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Designation   string    `json:"designation"`
	Gender        Gender    `json:"gender"`
	DateOfJoining time.Time `json:"date_of_joining"`

	// Per-category cycle-length overrides in months. When present for a
	// category, takes precedence over the rule's renewal frequency.
	CycleOverrides map[Category]int `json:"cycle_overrides,omitempty"`
}

// JoiningDate returns the cycle anchor, falling back to the fixed epoch.
func (e Employee) JoiningDate() time.Time {
	if e.DateOfJoining.IsZero() {
		return DefaultDateOfJoining
	}
	return e.DateOfJoining
}

// CycleMonthsFor resolves the renewal-cycle length for a category:
// employee override, then the rule's configured frequency, then the
// category default.
func (e Employee) CycleMonthsFor(c Category, rule *EligibilityRule) int {
	if months, ok := e.CycleOverrides[c]; ok && months > 0 {
		return months
	}
	if rule != nil {
		if ce, ok := rule.Categories[c]; ok && ce.RenewalFrequency > 0 {
			return ce.CycleMonths()
		}
	}
	return c.DefaultCycleMonths()
}

// =============================================================================
// PRODUCT
// =============================================================================

// Product is a catalog item. Gender may be unisex, in which case it
// matches the rule of either gender.
type Product struct {
	ID        string          `json:"id"`
	VendorID  string          `json:"vendor_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Category  Category        `json:"category"`
	Gender    Gender          `json:"gender"`
	Sizes     []string        `json:"sizes"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// =============================================================================
// ORDER - Immutable once created except for status transitions
// =============================================================================

type OrderStatus string

const (
	StatusAwaitingApproval   OrderStatus = "awaiting_approval"
	StatusAwaitingFulfilment OrderStatus = "awaiting_fulfilment"
	StatusDispatched         OrderStatus = "dispatched"
	StatusDelivered          OrderStatus = "delivered"
	StatusRejected           OrderStatus = "rejected" // terminal
)

// CanTransitionTo reports whether the status lifecycle permits the move.
// The lifecycle is linear with a single terminal rejection branch from
// the approval gate.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case StatusAwaitingApproval:
		return next == StatusAwaitingFulfilment || next == StatusRejected
	case StatusAwaitingFulfilment:
		return next == StatusDispatched
	case StatusDispatched:
		return next == StatusDelivered
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusRejected
}

// OrderItem is one line of an order. Category is canonical by the time
// an item exists (normalized when the product was ingested).
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Category  Category        `json:"category"`
	Size      string          `json:"size"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// LineTotal returns quantity x unit price.
func (it OrderItem) LineTotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

type Order struct {
	ID         string      `json:"id"`
	EmployeeID string      `json:"employee_id"`
	CompanyID  string      `json:"company_id"`
	OrderDate  time.Time   `json:"order_date"`
	Status     OrderStatus `json:"status"`
	Items      []OrderItem `json:"items"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Total returns the order total across all lines.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// CountsAgainstQuota reports whether the order's items consume
// allowance. Rejected orders return their quota to the employee.
func (o Order) CountsAgainstQuota() bool {
	return o.Status != StatusRejected
}

// =============================================================================
// SESSION CONTEXT - Explicit caller identity
// =============================================================================

// SessionContext carries the caller's identity into every operation.
// It is always passed explicitly; nothing in this module reads ambient
// per-request state.
type SessionContext struct {
	CompanyID  string `json:"company_id"`
	EmployeeID string `json:"employee_id"`
	Role       Role   `json:"role"`
}

type Role string

const (
	RoleEmployee     Role = "employee"
	RoleCompanyAdmin Role = "company_admin"
	RoleVendor       Role = "vendor"
	RoleSuperAdmin   Role = "super_admin"
)
