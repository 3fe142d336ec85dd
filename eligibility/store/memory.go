// Package store provides in-memory implementations of the eligibility
// storage contracts, for tests and local development.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/uniformhq/uniform-engine/eligibility"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements eligibility.RuleStore, eligibility.OrderHistory and
// eligibility.EmployeeDirectory over maps. Safe for concurrent use.
type Memory struct {
	mu        sync.RWMutex
	rules     map[string]eligibility.EligibilityRule // by rule ID
	employees map[string]eligibility.Employee        // by employee ID
	orders    map[string][]eligibility.Order         // by employee ID
	products  map[string]eligibility.Product         // by lowercased SKU
	orderSeq  int

	resetNotifier eligibility.ResetNotifier
}

func NewMemory() *Memory {
	return &Memory{
		rules:         make(map[string]eligibility.EligibilityRule),
		employees:     make(map[string]eligibility.Employee),
		orders:        make(map[string][]eligibility.Order),
		products:      make(map[string]eligibility.Product),
		resetNotifier: eligibility.NopResetNotifier{},
	}
}

// SetResetNotifier wires the collaborator that receives propagateReset
// intents. Defaults to a no-op.
func (m *Memory) SetResetNotifier(n eligibility.ResetNotifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetNotifier = n
}

// SeedRule writes a rule row without validation. Test fixtures use this
// for legacy shapes (unisex gender, alias category keys) that CreateRule
// would reject today.
func (m *Memory) SeedRule(rule eligibility.EligibilityRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.ID] = rule
}

// =============================================================================
// RULE STORE
// =============================================================================

func (m *Memory) FindRule(_ context.Context, companyID, designation string, gender eligibility.Gender) (*eligibility.EligibilityRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var unisex *eligibility.EligibilityRule
	for id := range m.rules {
		r := m.rules[id]
		if r.CompanyID != companyID || !strings.EqualFold(r.Designation, designation) {
			continue
		}
		if r.Gender == gender {
			out := r
			return &out, nil
		}
		if r.Gender == eligibility.GenderUnisex {
			out := r
			unisex = &out
		}
	}
	// Legacy fallback: a unisex row matches either requested gender.
	if unisex != nil {
		return unisex, nil
	}
	return nil, eligibility.ErrRuleNotFound
}

func (m *Memory) CreateRule(_ context.Context, rule *eligibility.EligibilityRule) error {
	if err := eligibility.NormalizeRuleCategories(rule); err != nil {
		return err
	}
	if err := eligibility.ValidateRule(*rule); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.CompanyID == rule.CompanyID &&
			strings.EqualFold(r.Designation, rule.Designation) &&
			r.Gender == rule.Gender {
			return eligibility.ErrRuleExists
		}
	}
	m.rules[rule.ID] = *rule
	return nil
}

func (m *Memory) UpdateRule(ctx context.Context, rule *eligibility.EligibilityRule, propagateReset bool) error {
	if err := eligibility.NormalizeRuleCategories(rule); err != nil {
		return err
	}
	if err := eligibility.ValidateRule(*rule); err != nil {
		return err
	}

	m.mu.Lock()
	existing, ok := m.rules[rule.ID]
	if !ok || existing.CompanyID != rule.CompanyID {
		m.mu.Unlock()
		return eligibility.ErrRuleNotFound
	}
	m.rules[rule.ID] = *rule
	notifier := m.resetNotifier
	m.mu.Unlock()

	if propagateReset {
		notifier.EligibilityReset(ctx, rule.CompanyID, rule.Designation)
	}
	return nil
}

func (m *Memory) DeleteRule(_ context.Context, companyID, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[ruleID]
	if !ok || r.CompanyID != companyID {
		return eligibility.ErrRuleNotFound
	}
	delete(m.rules, ruleID)
	return nil
}

func (m *Memory) ListRules(_ context.Context, companyID string) ([]eligibility.EligibilityRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []eligibility.EligibilityRule
	for _, r := range m.rules {
		if r.CompanyID == companyID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Designation != out[j].Designation {
			return out[i].Designation < out[j].Designation
		}
		return out[i].Gender < out[j].Gender
	})
	return out, nil
}

// =============================================================================
// EMPLOYEES AND ORDERS
// =============================================================================

func (m *Memory) PutEmployee(emp eligibility.Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[emp.ID] = emp
}

func (m *Memory) GetEmployee(_ context.Context, id string) (*eligibility.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	emp, ok := m.employees[id]
	if !ok {
		return nil, eligibility.ErrEmployeeNotFound
	}
	return &emp, nil
}

func (m *Memory) GetEmployeeByNo(_ context.Context, companyID, employeeNo string) (*eligibility.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, emp := range m.employees {
		if emp.CompanyID == companyID && strings.EqualFold(emp.EmployeeNo, employeeNo) {
			out := emp
			return &out, nil
		}
	}
	return nil, eligibility.ErrEmployeeNotFound
}

// AddOrder appends an order to the employee's history, keeping the
// history sorted by order date.
func (m *Memory) AddOrder(order eligibility.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders := m.orders[order.EmployeeID]
	i := sort.Search(len(orders), func(i int) bool {
		return orders[i].OrderDate.After(order.OrderDate)
	})
	orders = append(orders, eligibility.Order{})
	copy(orders[i+1:], orders[i:])
	orders[i] = order
	m.orders[order.EmployeeID] = orders
}

func (m *Memory) OrdersForEmployee(_ context.Context, employeeID string) ([]eligibility.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	orders := m.orders[employeeID]
	out := make([]eligibility.Order, len(orders))
	copy(out, orders)
	return out, nil
}

// CreateOrder appends a new order, assigning a sequential ID when the
// caller left it empty. The in-memory store does NOT re-enforce quota
// at write time; that behavior belongs to the production store.
func (m *Memory) CreateOrder(_ context.Context, order *eligibility.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order.ID == "" {
		m.orderSeq++
		order.ID = fmt.Sprintf("ord-%04d", m.orderSeq)
	}
	if order.Status == "" {
		order.Status = eligibility.StatusAwaitingApproval
	}

	orders := m.orders[order.EmployeeID]
	i := sort.Search(len(orders), func(i int) bool {
		return orders[i].OrderDate.After(order.OrderDate)
	})
	orders = append(orders, eligibility.Order{})
	copy(orders[i+1:], orders[i:])
	orders[i] = *order
	m.orders[order.EmployeeID] = orders
	return nil
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (m *Memory) PutProduct(p eligibility.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[strings.ToLower(p.SKU)] = p
}

func (m *Memory) GetProductBySKU(_ context.Context, sku string) (*eligibility.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[strings.ToLower(strings.TrimSpace(sku))]
	if !ok {
		return nil, eligibility.ErrProductNotFound
	}
	return &p, nil
}
