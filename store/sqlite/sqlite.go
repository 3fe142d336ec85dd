/*
Package sqlite provides the SQLite-backed implementation of the storage
contracts.

PURPOSE:
  Implements eligibility.RuleStore, eligibility.OrderHistory,
  eligibility.EmployeeDirectory, bulkimport.ProductResolver and
  bulkimport.OrderCreator over one database. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  eligibility_rules:    Per (company, designation, gender) allowances
  employees:            Employee records with cycle overrides
  products:             Vendor catalog (SKU-addressable)
  orders / order_items: Order headers and lines
  allowance_snapshots:  Cached per-category allowance summaries

QUOTA ENFORCEMENT:
  The cart validator is advisory: two concurrent sessions can both pass
  it. CreateOrder is where quota is actually enforced - it recomputes
  consumed totals INSIDE the insert transaction, so the second of two
  racing orders sees the first one's rows and is rejected. Combined
  with the store-wide write mutex this makes overdraw impossible
  through this package.

INVARIANTS:
  - idx_rules_triple: at most one active rule per
    (company, designation, gender)
  - Orders are immutable after insert except for the status column,
    and status changes go through the lifecycle check

WAL MODE:
  SQLite is opened with WAL for better read concurrency. Use ":memory:"
  for tests.

SEE ALSO:
  - eligibility/rule.go: The contracts implemented here
  - eligibility/store/memory.go: In-memory twin for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/uniformhq/uniform-engine/eligibility"
	"github.com/uniformhq/uniform-engine/ids"
)

// Store implements all storage contracts using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	resetNotifier eligibility.ResetNotifier
}

// New creates a store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite has a single writer anyway, and pooled
	// connections to ":memory:" would each see a different database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, resetNotifier: eligibility.NopResetNotifier{}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetResetNotifier wires the collaborator receiving propagateReset
// intents from UpdateRule. Defaults to a no-op.
func (s *Store) SetResetNotifier(n eligibility.ResetNotifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetNotifier = n
}

func (s *Store) migrate() error {
	schema := `
	-- Eligibility rules
	CREATE TABLE IF NOT EXISTS eligibility_rules (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		designation TEXT NOT NULL,
		gender TEXT NOT NULL,
		categories_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- INVARIANT: one active rule per (company, designation, gender).
	-- Designation is stored lowercased so the index catches case variants.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_rules_triple
		ON eligibility_rules(company_id, designation, gender);

	CREATE INDEX IF NOT EXISTS idx_rules_company
		ON eligibility_rules(company_id);

	-- Employees
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		employee_no TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		designation TEXT NOT NULL,
		gender TEXT NOT NULL,
		date_of_joining TEXT,
		cycle_overrides_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_employees_company_no
		ON employees(company_id, employee_no);
	CREATE INDEX IF NOT EXISTS idx_employees_designation
		ON employees(company_id, designation);

	-- Products
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		vendor_id TEXT,
		sku TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		gender TEXT NOT NULL,
		sizes_json TEXT,
		unit_price TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_products_sku
		ON products(sku COLLATE NOCASE);
	CREATE INDEX IF NOT EXISTS idx_products_category
		ON products(category);

	-- Orders (immutable after insert except status)
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		order_date TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_employee_date
		ON orders(employee_id, order_date);
	CREATE INDEX IF NOT EXISTS idx_orders_company_status
		ON orders(company_id, status);

	CREATE TABLE IF NOT EXISTS order_items (
		order_id TEXT NOT NULL REFERENCES orders(id),
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		category TEXT NOT NULL,
		size TEXT,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL,
		PRIMARY KEY (order_id, line_no)
	);

	CREATE INDEX IF NOT EXISTS idx_order_items_category
		ON order_items(category);

	-- Cached allowance summaries, refreshed by the reset service.
	-- Read paths never depend on these for correctness.
	CREATE TABLE IF NOT EXISTS allowance_snapshots (
		employee_id TEXT NOT NULL,
		category TEXT NOT NULL,
		total INTEGER NOT NULL,
		consumed INTEGER NOT NULL,
		remaining INTEGER NOT NULL,
		cycle_start TEXT NOT NULL,
		cycle_end TEXT NOT NULL,
		computed_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, category)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ELIGIBILITY RULES (eligibility.RuleStore)
// =============================================================================

// FindRule returns the active rule for the triple, falling back to a
// legacy unisex row for either requested gender.
func (s *Store) FindRule(ctx context.Context, companyID, designation string, gender eligibility.Gender) (*eligibility.EligibilityRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, designation, gender, categories_json, created_at, updated_at
		FROM eligibility_rules
		WHERE company_id = ? AND designation = ? AND gender IN (?, 'unisex')
		ORDER BY CASE gender WHEN 'unisex' THEN 1 ELSE 0 END
		LIMIT 1`, companyID, strings.ToLower(designation), string(gender))
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eligibility.ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// CreateRule validates, normalizes and persists a new rule.
func (s *Store) CreateRule(ctx context.Context, rule *eligibility.EligibilityRule) error {
	if err := eligibility.NormalizeRuleCategories(rule); err != nil {
		return err
	}
	if err := eligibility.ValidateRule(*rule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	categoriesJSON, err := json.Marshal(rule.Categories)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO eligibility_rules
		(id, company_id, designation, gender, categories_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rule.ID,
		rule.CompanyID,
		strings.ToLower(rule.Designation),
		string(rule.Gender),
		string(categoriesJSON),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return eligibility.ErrRuleExists
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// SeedLegacyRule inserts a rule row without normalization or
// validation, the way rows migrated from the previous system arrive.
// Demo and test use only; CreateRule is the real write path.
func (s *Store) SeedLegacyRule(ctx context.Context, rule *eligibility.EligibilityRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	categoriesJSON, err := json.Marshal(rule.Categories)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO eligibility_rules
		(id, company_id, designation, gender, categories_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rule.ID,
		rule.CompanyID,
		strings.ToLower(rule.Designation),
		string(rule.Gender),
		string(categoriesJSON),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to seed legacy rule: %w", err)
	}
	return nil
}

// UpdateRule validates and persists changes, then emits a reset intent
// when requested. The store never walks employee or order tables here;
// it only signals the notifier.
func (s *Store) UpdateRule(ctx context.Context, rule *eligibility.EligibilityRule, propagateReset bool) error {
	if err := eligibility.NormalizeRuleCategories(rule); err != nil {
		return err
	}
	if err := eligibility.ValidateRule(*rule); err != nil {
		return err
	}

	s.mu.Lock()
	categoriesJSON, err := json.Marshal(rule.Categories)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	rule.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE eligibility_rules
		SET designation = ?, gender = ?, categories_json = ?, updated_at = ?
		WHERE id = ? AND company_id = ?`,
		strings.ToLower(rule.Designation),
		string(rule.Gender),
		string(categoriesJSON),
		rule.UpdatedAt.Format(time.RFC3339),
		rule.ID,
		rule.CompanyID,
	)
	if err != nil {
		s.mu.Unlock()
		if isUniqueConstraintError(err) {
			return eligibility.ErrRuleExists
		}
		return fmt.Errorf("failed to update rule: %w", err)
	}
	affected, _ := res.RowsAffected()
	notifier := s.resetNotifier
	s.mu.Unlock()

	if affected == 0 {
		return eligibility.ErrRuleNotFound
	}
	if propagateReset {
		notifier.EligibilityReset(ctx, rule.CompanyID, rule.Designation)
	}
	return nil
}

// DeleteRule removes a rule by ID.
func (s *Store) DeleteRule(ctx context.Context, companyID, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM eligibility_rules WHERE id = ? AND company_id = ?`, ruleID, companyID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return eligibility.ErrRuleNotFound
	}
	return nil
}

// ListRules returns all rules for a company, stable-ordered.
func (s *Store) ListRules(ctx context.Context, companyID string) ([]eligibility.EligibilityRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, designation, gender, categories_json, created_at, updated_at
		FROM eligibility_rules
		WHERE company_id = ?
		ORDER BY designation, gender`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []eligibility.EligibilityRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*eligibility.EligibilityRule, error) {
	var rule eligibility.EligibilityRule
	var gender, categoriesJSON, createdAt, updatedAt string

	if err := row.Scan(&rule.ID, &rule.CompanyID, &rule.Designation, &gender, &categoriesJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rule.Gender = eligibility.Gender(gender)
	if err := json.Unmarshal([]byte(categoriesJSON), &rule.Categories); err != nil {
		return nil, fmt.Errorf("corrupt categories for rule %s: %w", rule.ID, err)
	}
	rule.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rule.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rule, nil
}

// =============================================================================
// EMPLOYEES (eligibility.EmployeeDirectory)
// =============================================================================

// SaveEmployee inserts or replaces an employee record.
func (s *Store) SaveEmployee(ctx context.Context, emp eligibility.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	overridesJSON, err := json.Marshal(emp.CycleOverrides)
	if err != nil {
		return err
	}
	joining := ""
	if !emp.DateOfJoining.IsZero() {
		joining = emp.DateOfJoining.UTC().Format(time.RFC3339)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO employees
		(id, company_id, employee_no, name, email, designation, gender,
		 date_of_joining, cycle_overrides_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		emp.ID, emp.CompanyID, emp.EmployeeNo, emp.Name, emp.Email,
		strings.ToLower(emp.Designation), string(emp.Gender),
		joining, string(overridesJSON),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (s *Store) GetEmployee(ctx context.Context, id string) (*eligibility.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEmployee(ctx, s.db, `WHERE id = ?`, id)
}

func (s *Store) GetEmployeeByNo(ctx context.Context, companyID, employeeNo string) (*eligibility.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEmployee(ctx, s.db, `WHERE company_id = ? AND employee_no = ? COLLATE NOCASE`, companyID, employeeNo)
}

// ListEmployeesByDesignation returns a company's employees holding a
// designation. The reset service uses this to find who a rule change
// affects.
func (s *Store) ListEmployeesByDesignation(ctx context.Context, companyID, designation string) ([]eligibility.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, employee_no, name, email, designation, gender,
		       date_of_joining, cycle_overrides_json
		FROM employees
		WHERE company_id = ? AND designation = ?
		ORDER BY employee_no`, companyID, strings.ToLower(designation))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEmployees(rows)
}

// ListCompanyIDs returns every company with at least one employee. The
// snapshot refresher walks these.
func (s *Store) ListCompanyIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT company_id FROM employees ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) ListEmployees(ctx context.Context, companyID string) ([]eligibility.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, employee_no, name, email, designation, gender,
		       date_of_joining, cycle_overrides_json
		FROM employees
		WHERE company_id = ?
		ORDER BY employee_no`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEmployees(rows)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getEmployee(ctx context.Context, db querier, where string, args ...any) (*eligibility.Employee, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, company_id, employee_no, name, email, designation, gender,
		       date_of_joining, cycle_overrides_json
		FROM employees `+where, args...)

	emp, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eligibility.ErrEmployeeNotFound
	}
	if err != nil {
		return nil, err
	}
	return emp, nil
}

func scanEmployee(row rowScanner) (*eligibility.Employee, error) {
	var emp eligibility.Employee
	var email, gender, joining, overridesJSON sql.NullString

	if err := row.Scan(&emp.ID, &emp.CompanyID, &emp.EmployeeNo, &emp.Name, &email,
		&emp.Designation, &gender, &joining, &overridesJSON); err != nil {
		return nil, err
	}
	emp.Email = email.String
	emp.Gender = eligibility.Gender(gender.String)
	if joining.String != "" {
		emp.DateOfJoining, _ = time.Parse(time.RFC3339, joining.String)
	}
	if overridesJSON.String != "" && overridesJSON.String != "null" {
		if err := json.Unmarshal([]byte(overridesJSON.String), &emp.CycleOverrides); err != nil {
			return nil, fmt.Errorf("corrupt cycle overrides for employee %s: %w", emp.ID, err)
		}
	}
	return &emp, nil
}

func scanEmployees(rows *sql.Rows) ([]eligibility.Employee, error) {
	var out []eligibility.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *emp)
	}
	return out, rows.Err()
}

// =============================================================================
// PRODUCTS
// =============================================================================

// SaveProduct inserts or replaces a catalog item, normalizing its
// category on the way in.
func (s *Store) SaveProduct(ctx context.Context, p eligibility.Product) error {
	canonical, ok := eligibility.NormalizeCategory(string(p.Category))
	if !ok {
		return eligibility.ErrUnknownCategory
	}
	p.Category = canonical

	s.mu.Lock()
	defer s.mu.Unlock()

	sizesJSON, err := json.Marshal(p.Sizes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO products
		(id, vendor_id, sku, name, category, gender, sizes_json, unit_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.VendorID, p.SKU, p.Name, string(p.Category), string(p.Gender),
		string(sizesJSON), p.UnitPrice.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*eligibility.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, vendor_id, sku, name, category, gender, sizes_json, unit_price
		FROM products WHERE sku = ? COLLATE NOCASE`, strings.TrimSpace(sku))

	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eligibility.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListProducts returns the catalog, optionally filtered by category.
func (s *Store) ListProducts(ctx context.Context, category eligibility.Category) ([]eligibility.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, vendor_id, sku, name, category, gender, sizes_json, unit_price FROM products`
	var args []any
	if category != "" {
		canonical, ok := eligibility.NormalizeCategory(string(category))
		if !ok {
			return nil, eligibility.ErrUnknownCategory
		}
		query += ` WHERE category = ?`
		args = append(args, string(canonical))
	}
	query += ` ORDER BY sku`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []eligibility.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanProduct(row rowScanner) (*eligibility.Product, error) {
	var p eligibility.Product
	var vendorID, category, gender, sizesJSON, unitPrice sql.NullString

	if err := row.Scan(&p.ID, &vendorID, &p.SKU, &p.Name, &category, &gender, &sizesJSON, &unitPrice); err != nil {
		return nil, err
	}
	p.VendorID = vendorID.String
	p.Category = eligibility.Category(category.String)
	p.Gender = eligibility.Gender(gender.String)
	if sizesJSON.String != "" && sizesJSON.String != "null" {
		if err := json.Unmarshal([]byte(sizesJSON.String), &p.Sizes); err != nil {
			return nil, fmt.Errorf("corrupt sizes for product %s: %w", p.ID, err)
		}
	}
	price, err := decimal.NewFromString(unitPrice.String)
	if err != nil {
		return nil, fmt.Errorf("corrupt unit price for product %s: %w", p.ID, err)
	}
	p.UnitPrice = price
	return &p, nil
}

// =============================================================================
// ORDERS (eligibility.OrderHistory, bulkimport.OrderCreator)
// =============================================================================

// CreateOrder inserts an order with WRITE-TIME QUOTA ENFORCEMENT: the
// employee's consumed totals are recomputed inside the transaction, so
// concurrent checkouts that each passed the advisory validator cannot
// jointly overdraw an allowance.
//
// Item categories are normalized before the check. An empty order is
// rejected.
func (s *Store) CreateOrder(ctx context.Context, order *eligibility.Order) error {
	if len(order.Items) == 0 {
		return &eligibility.ValidationError{Field: "items", Message: "order must have at least one item"}
	}
	for i := range order.Items {
		canonical, ok := eligibility.NormalizeCategory(string(order.Items[i].Category))
		if !ok {
			return eligibility.ErrUnknownCategory
		}
		order.Items[i].Category = canonical
	}
	if order.ID == "" {
		// ULID: order IDs sort by creation time
		order.ID = ids.New()
	}
	if order.Status == "" {
		order.Status = eligibility.StatusAwaitingApproval
	}
	if order.OrderDate.IsZero() {
		order.OrderDate = time.Now().UTC()
	}
	order.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	emp, err := getEmployee(ctx, tx, `WHERE id = ?`, order.EmployeeID)
	if err != nil {
		return err
	}

	if err := enforceQuotaTx(ctx, tx, *emp, order); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, employee_id, company_id, order_date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		order.ID, order.EmployeeID, order.CompanyID,
		order.OrderDate.UTC().Format(time.RFC3339),
		string(order.Status),
		order.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, product_id, category, size, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			order.ID, i+1, item.ProductID, string(item.Category), item.Size, item.Quantity,
			item.UnitPrice.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// enforceQuotaTx recomputes consumed-vs-total per category against rows
// visible to the transaction and rejects any shortfall.
func enforceQuotaTx(ctx context.Context, tx *sql.Tx, emp eligibility.Employee, order *eligibility.Order) error {
	rule, err := findRuleTx(ctx, tx, emp.CompanyID, emp.Designation, emp.Gender)
	if err != nil && !errors.Is(err, eligibility.ErrRuleNotFound) {
		return err
	}

	requested := make(map[eligibility.Category]int)
	for _, item := range order.Items {
		requested[item.Category] += item.Quantity
	}

	asOf := order.OrderDate.UTC()
	for category, qty := range requested {
		total := 0
		if rule != nil {
			if ce, ok := rule.Categories[category]; ok {
				total = ce.Quantity
			}
		}

		cycle := eligibility.CycleForEmployee(emp, category, rule, asOf)
		consumed, err := consumedInCycleTx(ctx, tx, emp.ID, category, cycle)
		if err != nil {
			return err
		}

		remaining := total - consumed
		if remaining < 0 {
			remaining = 0
		}
		if qty > remaining {
			return &eligibility.QuotaExceededError{Category: category, Requested: qty, Remaining: remaining}
		}
	}
	return nil
}

func findRuleTx(ctx context.Context, tx *sql.Tx, companyID, designation string, gender eligibility.Gender) (*eligibility.EligibilityRule, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, company_id, designation, gender, categories_json, created_at, updated_at
		FROM eligibility_rules
		WHERE company_id = ? AND designation = ? AND gender IN (?, 'unisex')
		ORDER BY CASE gender WHEN 'unisex' THEN 1 ELSE 0 END
		LIMIT 1`, companyID, strings.ToLower(designation), string(gender))

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eligibility.ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	// Legacy rows may hold alias keys written before normalization.
	if err := eligibility.NormalizeRuleCategories(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func consumedInCycleTx(ctx context.Context, tx *sql.Tx, employeeID string, category eligibility.Category, cycle eligibility.Cycle) (int, error) {
	// Aliases are normalized on write, but older rows may predate
	// that; sum every spelling that maps onto this category.
	spellings := aliasSpellings(category)

	query := fmt.Sprintf(`
		SELECT COALESCE(SUM(oi.quantity), 0)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE o.employee_id = ?
		  AND o.status != 'rejected'
		  AND o.order_date >= ? AND o.order_date < ?
		  AND oi.category IN (%s)`,
		placeholders(len(spellings)))

	args := []any{employeeID, cycle.Start.Format(time.RFC3339), cycle.End.Format(time.RFC3339)}
	for _, sp := range spellings {
		args = append(args, sp)
	}

	var consumed int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&consumed); err != nil {
		return 0, err
	}
	return consumed, nil
}

// OrdersForEmployee returns the employee's orders, oldest first, with
// items attached.
func (s *Store) OrdersForEmployee(ctx context.Context, employeeID string) ([]eligibility.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadOrders(ctx, `WHERE employee_id = ? ORDER BY order_date`, employeeID)
}

// ListOrdersByCompany returns a company's orders, optionally filtered
// by status, newest first.
func (s *Store) ListOrdersByCompany(ctx context.Context, companyID string, status eligibility.OrderStatus) ([]eligibility.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if status != "" {
		return s.loadOrders(ctx, `WHERE company_id = ? AND status = ? ORDER BY order_date DESC`, companyID, string(status))
	}
	return s.loadOrders(ctx, `WHERE company_id = ? ORDER BY order_date DESC`, companyID)
}

// GetOrder returns one order with items.
func (s *Store) GetOrder(ctx context.Context, orderID string) (*eligibility.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders, err := s.loadOrders(ctx, `WHERE id = ?`, orderID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, eligibility.ErrOrderNotFound
	}
	return &orders[0], nil
}

// UpdateOrderStatus performs a lifecycle transition, rejecting moves
// the lifecycle does not permit.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, next eligibility.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = ?`, orderID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return eligibility.ErrOrderNotFound
	}
	if err != nil {
		return err
	}

	from := eligibility.OrderStatus(current)
	if !from.CanTransitionTo(next) {
		return &eligibility.InvalidTransitionError{OrderID: orderID, From: from, To: next}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, string(next), orderID); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return tx.Commit()
}

func (s *Store) loadOrders(ctx context.Context, where string, args ...any) ([]eligibility.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, company_id, order_date, status, created_at
		FROM orders `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []eligibility.Order
	index := make(map[string]int)
	for rows.Next() {
		var o eligibility.Order
		var orderDate, status, createdAt string
		if err := rows.Scan(&o.ID, &o.EmployeeID, &o.CompanyID, &orderDate, &status, &createdAt); err != nil {
			return nil, err
		}
		o.OrderDate, _ = time.Parse(time.RFC3339, orderDate)
		o.Status = eligibility.OrderStatus(status)
		o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		index[o.ID] = len(orders)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}

	orderIDs := make([]any, len(orders))
	for i, o := range orders {
		orderIDs[i] = o.ID
	}
	itemRows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT order_id, product_id, category, size, quantity, unit_price
		FROM order_items
		WHERE order_id IN (%s)
		ORDER BY order_id, line_no`, placeholders(len(orderIDs))), orderIDs...)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var orderID string
		var item eligibility.OrderItem
		var category, size, unitPrice sql.NullString
		if err := itemRows.Scan(&orderID, &item.ProductID, &category, &size, &item.Quantity, &unitPrice); err != nil {
			return nil, err
		}
		item.Category = eligibility.Category(category.String)
		item.Size = size.String
		price, err := decimal.NewFromString(unitPrice.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt unit price on order %s: %w", orderID, err)
		}
		item.UnitPrice = price
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	return orders, itemRows.Err()
}

// =============================================================================
// ALLOWANCE SNAPSHOTS
// =============================================================================

// AllowanceSnapshot is one cached (employee, category) summary row.
type AllowanceSnapshot struct {
	EmployeeID string
	Allowance  eligibility.CategoryAllowance
	ComputedAt time.Time
}

// SaveAllowanceSnapshots replaces the cached summaries for an employee.
func (s *Store) SaveAllowanceSnapshots(ctx context.Context, employeeID string, summary []eligibility.CategoryAllowance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM allowance_snapshots WHERE employee_id = ?`, employeeID); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, ca := range summary {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO allowance_snapshots
			(employee_id, category, total, consumed, remaining, cycle_start, cycle_end, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			employeeID, string(ca.Category), ca.Total, ca.Consumed, ca.Remaining,
			ca.CycleStart.Format(time.RFC3339), ca.CycleEnd.Format(time.RFC3339), now,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetAllowanceSnapshots returns the cached summaries for an employee.
func (s *Store) GetAllowanceSnapshots(ctx context.Context, employeeID string) ([]AllowanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, category, total, consumed, remaining, cycle_start, cycle_end, computed_at
		FROM allowance_snapshots
		WHERE employee_id = ?
		ORDER BY category`, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AllowanceSnapshot
	for rows.Next() {
		var snap AllowanceSnapshot
		var category, cycleStart, cycleEnd, computedAt string
		if err := rows.Scan(&snap.EmployeeID, &category, &snap.Allowance.Total, &snap.Allowance.Consumed,
			&snap.Allowance.Remaining, &cycleStart, &cycleEnd, &computedAt); err != nil {
			return nil, err
		}
		snap.Allowance.Category = eligibility.Category(category)
		snap.Allowance.CycleStart, _ = time.Parse(time.RFC3339, cycleStart)
		snap.Allowance.CycleEnd, _ = time.Parse(time.RFC3339, cycleEnd)
		snap.ComputedAt, _ = time.Parse(time.RFC3339, computedAt)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// ResetAll wipes every table. Demo scenario loading only.
func (s *Store) ResetAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{
		"order_items", "orders", "allowance_snapshots",
		"products", "employees", "eligibility_rules",
	} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// aliasSpellings returns every stored spelling that normalizes onto the
// canonical category.
func aliasSpellings(canonical eligibility.Category) []string {
	switch canonical {
	case eligibility.CategoryPant:
		return []string{"pant", "pants", "trouser", "trousers"}
	case eligibility.CategoryJacket:
		return []string{"jacket", "jackets", "blazer", "blazers"}
	case eligibility.CategoryShirt:
		return []string{"shirt", "shirts"}
	case eligibility.CategoryShoe:
		return []string{"shoe", "shoes"}
	case eligibility.CategoryAccessory:
		return []string{"accessory", "accessories"}
	default:
		return []string{string(canonical)}
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
