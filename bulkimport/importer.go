/*
Package bulkimport parses delimited bulk-order files and replays each
row through the same validation path interactive checkout uses.

PURPOSE:
  Company admins upload a CSV of (employee, SKU, size, quantity) rows.
  Each row independently resolves its employee and product, validates
  the quantity against the employee's remaining allowance, and either
  creates a single-line order or records a per-row error. One row's
  failure never aborts the rest.

INPUT FORMAT:
  UTF-8 delimited text with a header row. Columns are matched by NAME,
  case-insensitively, not by position:

    Employee ID | employeeno | employee no
    SKU
    Size
    Quantity

  A file missing any required column fails whole with
  MalformedInputError before any row is processed. Individual rows with
  the wrong column count are skipped and counted as failed.

OUTPUT:
  A Report with per-row results, downloadable as CSV (see report.go).

SEE ALSO:
  - eligibility/validate.go: The shared validation path
  - report.go: Report structure and CSV rendering
*/
package bulkimport

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/uniformhq/uniform-engine/eligibility"
)

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// ProductResolver resolves catalog SKUs.
type ProductResolver interface {
	GetProductBySKU(ctx context.Context, sku string) (*eligibility.Product, error)
}

// OrderCreator persists a validated order. Implementations own the
// write-time quota enforcement (see store/sqlite.CreateOrder); the
// importer's validation pass is advisory, same as interactive checkout.
type OrderCreator interface {
	CreateOrder(ctx context.Context, order *eligibility.Order) error
}

// =============================================================================
// IMPORTER
// =============================================================================

// Importer wires the row pipeline together.
type Importer struct {
	Employees eligibility.EmployeeDirectory
	Products  ProductResolver
	Validator *eligibility.CartValidator
	Orders    OrderCreator

	// Now stamps created orders. Nil means time.Now.
	Now func() time.Time
}

func New(employees eligibility.EmployeeDirectory, products ProductResolver, validator *eligibility.CartValidator, orders OrderCreator) *Importer {
	return &Importer{Employees: employees, Products: products, Validator: validator, Orders: orders}
}

func (im *Importer) now() time.Time {
	if im.Now != nil {
		return im.Now()
	}
	return time.Now().UTC()
}

// header aliases, all lowercase with spaces/underscores squeezed out
var (
	employeeIDAliases = []string{"employeeid", "employeeno"}
	requiredColumns   = []string{"Employee ID", "SKU", "Size", "Quantity"}
)

type columnIndex struct {
	employeeID int
	sku        int
	size       int
	quantity   int
	width      int
}

// Run parses the input and processes every data row, best-effort.
// session scopes employee lookups to the caller's company.
func (im *Importer) Run(ctx context.Context, session eligibility.SessionContext, input io.Reader) (*Report, error) {
	reader := csv.NewReader(input)
	reader.FieldsPerRecord = -1 // row-level width errors are per-row failures
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, &eligibility.MalformedInputError{MissingColumns: requiredColumns}
	}

	cols, err := matchColumns(header)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	rowNumber := 1 // header is row 1; data starts at 2

	for {
		rowNumber++
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// csv-level damage (bare quotes etc): skip, count as failed
			report.add(RowResult{
				RowNumber: rowNumber,
				Status:    RowFailed,
				Error:     "malformed row: " + err.Error(),
			})
			continue
		}
		if isBlankRow(record) {
			rowNumber--
			continue
		}

		result := im.processRow(ctx, session, cols, rowNumber, record)
		report.add(result)
	}

	return report, nil
}

// processRow handles ONE row end to end. Every failure path returns a
// RowResult rather than an error: row independence is the contract.
func (im *Importer) processRow(ctx context.Context, session eligibility.SessionContext, cols columnIndex, rowNumber int, record []string) RowResult {
	if len(record) < cols.width {
		return RowResult{
			RowNumber: rowNumber,
			Status:    RowFailed,
			Error:     fmt.Sprintf("expected %d columns, got %d", cols.width, len(record)),
		}
	}

	result := RowResult{
		RowNumber:  rowNumber,
		EmployeeID: strings.TrimSpace(record[cols.employeeID]),
		SKU:        strings.TrimSpace(record[cols.sku]),
		Size:       strings.TrimSpace(record[cols.size]),
	}

	qty, err := strconv.Atoi(strings.TrimSpace(record[cols.quantity]))
	if err != nil || qty <= 0 {
		result.Status = RowFailed
		result.Error = fmt.Sprintf("invalid quantity %q", record[cols.quantity])
		return result
	}
	result.Quantity = qty

	emp, err := im.Employees.GetEmployeeByNo(ctx, session.CompanyID, result.EmployeeID)
	if err != nil {
		result.Status = RowFailed
		result.Error = fmt.Sprintf("employee %q not found", result.EmployeeID)
		return result
	}

	product, err := im.Products.GetProductBySKU(ctx, result.SKU)
	if err != nil {
		result.Status = RowFailed
		result.Error = fmt.Sprintf("sku %q not found", result.SKU)
		return result
	}

	item := eligibility.OrderItem{
		ProductID: product.ID,
		Category:  product.Category,
		Size:      result.Size,
		Quantity:  qty,
		UnitPrice: product.UnitPrice,
	}

	cart, err := eligibility.CartFromItems([]eligibility.OrderItem{item})
	if err != nil {
		result.Status = RowFailed
		result.Error = err.Error()
		return result
	}
	if _, err := im.Validator.ValidateCart(ctx, *emp, cart); err != nil {
		result.Status = RowFailed
		result.Error = err.Error()
		return result
	}

	order := &eligibility.Order{
		EmployeeID: emp.ID,
		CompanyID:  emp.CompanyID,
		OrderDate:  im.now(),
		Status:     eligibility.StatusAwaitingApproval,
		Items:      []eligibility.OrderItem{item},
	}
	if err := im.Orders.CreateOrder(ctx, order); err != nil {
		result.Status = RowFailed
		result.Error = err.Error()
		return result
	}

	result.Status = RowOK
	result.OrderID = order.ID
	return result
}

// =============================================================================
// HEADER MATCHING
// =============================================================================

func matchColumns(header []string) (columnIndex, error) {
	cols := columnIndex{employeeID: -1, sku: -1, size: -1, quantity: -1, width: len(header)}

	for i, raw := range header {
		switch name := squeeze(raw); {
		case cols.employeeID == -1 && isEmployeeIDColumn(name):
			cols.employeeID = i
		case name == "sku":
			cols.sku = i
		case name == "size":
			cols.size = i
		case name == "quantity" || name == "qty":
			cols.quantity = i
		}
	}

	var missing []string
	if cols.employeeID == -1 {
		missing = append(missing, "Employee ID")
	}
	if cols.sku == -1 {
		missing = append(missing, "SKU")
	}
	if cols.size == -1 {
		missing = append(missing, "Size")
	}
	if cols.quantity == -1 {
		missing = append(missing, "Quantity")
	}
	if len(missing) > 0 {
		return columnIndex{}, &eligibility.MalformedInputError{MissingColumns: missing}
	}
	return cols, nil
}

func isEmployeeIDColumn(name string) bool {
	for _, alias := range employeeIDAliases {
		if name == alias {
			return true
		}
	}
	return false
}

// squeeze lowercases a header cell and strips spaces, underscores and a
// UTF-8 BOM, so "Employee ID", "employee_id" and "employeeno" compare.
func squeeze(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}

func isBlankRow(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
