package bulkimport_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniformhq/uniform-engine/bulkimport"
	"github.com/uniformhq/uniform-engine/eligibility"
	"github.com/uniformhq/uniform-engine/eligibility/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func newTestImporter(t *testing.T) (*bulkimport.Importer, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()

	engine := eligibility.NewEngine(mem, mem)
	engine.Now = func() time.Time { return date(2026, time.February, 1) }

	im := bulkimport.New(mem, mem, eligibility.NewCartValidator(engine), mem)
	im.Now = engine.Now

	err := mem.CreateRule(context.Background(), &eligibility.EligibilityRule{
		ID: "rule-1", CompanyID: "acme", Designation: "driver", Gender: eligibility.GenderMale,
		Categories: map[eligibility.Category]eligibility.CategoryEligibility{
			eligibility.CategoryShirt: {Quantity: 5, RenewalFrequency: 6, RenewalUnit: eligibility.RenewalMonths},
		},
	})
	require.NoError(t, err)

	mem.PutEmployee(eligibility.Employee{
		ID: "emp-1", CompanyID: "acme", EmployeeNo: "E001", Name: "Asha",
		Designation: "driver", Gender: eligibility.GenderMale,
		DateOfJoining: date(2025, time.October, 1),
	})
	mem.PutEmployee(eligibility.Employee{
		ID: "emp-2", CompanyID: "acme", EmployeeNo: "E002", Name: "Ravi",
		Designation: "driver", Gender: eligibility.GenderMale,
		DateOfJoining: date(2025, time.October, 1),
	})

	mem.PutProduct(eligibility.Product{
		ID: "prod-1", SKU: "SH-100", Name: "Oxford Shirt",
		Category: eligibility.CategoryShirt, Gender: eligibility.GenderUnisex,
		Sizes: []string{"S", "M", "L"}, UnitPrice: decimal.NewFromInt(20),
	})

	return im, mem
}

func session() eligibility.SessionContext {
	return eligibility.SessionContext{CompanyID: "acme", Role: eligibility.RoleCompanyAdmin}
}

// =============================================================================
// IMPORT RUNS
// =============================================================================

func TestImporter_MixedRows_BestEffort(t *testing.T) {
	// GIVEN: 3 rows, one referencing an unknown employee
	// WHEN: the file is imported
	// THEN: {total: 3, successful: 2, failed: 1} and the failed row's
	//       error names the missing employee

	im, _ := newTestImporter(t)

	input := strings.Join([]string{
		"Employee ID,SKU,Size,Quantity",
		"E001,SH-100,M,1",
		"E999,SH-100,L,1",
		"E002,SH-100,S,2",
	}, "\n")

	report, err := im.Run(context.Background(), session(), strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Successful)
	assert.Equal(t, 1, report.Failed)

	failed := report.Results[1]
	assert.Equal(t, bulkimport.RowFailed, failed.Status)
	assert.Contains(t, failed.Error, "E999", "error must name the missing employee")

	for _, i := range []int{0, 2} {
		assert.Equal(t, bulkimport.RowOK, report.Results[i].Status)
		assert.NotEmpty(t, report.Results[i].OrderID)
	}
}

func TestImporter_MissingColumn_FatalBeforeAnyRow(t *testing.T) {
	im, mem := newTestImporter(t)

	input := "Employee ID,SKU,Quantity\nE001,SH-100,1\n"
	_, err := im.Run(context.Background(), session(), strings.NewReader(input))

	require.Error(t, err)
	var me *eligibility.MalformedInputError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, []string{"Size"}, me.MissingColumns)

	orders, err := mem.OrdersForEmployee(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Empty(t, orders, "no row may be processed when the header is bad")
}

func TestImporter_HeaderAliasesAndCase(t *testing.T) {
	im, _ := newTestImporter(t)

	// "employee no" and "qty", shuffled column order, mixed case.
	input := "SKU,qty,EMPLOYEE NO,size\nSH-100,1,e001,M\n"
	report, err := im.Run(context.Background(), session(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Successful)
}

func TestImporter_ShortRow_SkippedNotFatal(t *testing.T) {
	im, _ := newTestImporter(t)

	input := strings.Join([]string{
		"Employee ID,SKU,Size,Quantity",
		"E001,SH-100",
		"E002,SH-100,S,1",
	}, "\n")

	report, err := im.Run(context.Background(), session(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Results[0].Error, "columns")
}

func TestImporter_QuotaRejectionRecordedPerRow(t *testing.T) {
	im, _ := newTestImporter(t)

	// Allowance is 5 shirts; request 9 in one row.
	input := "Employee ID,SKU,Size,Quantity\nE001,SH-100,M,9\n"
	report, err := im.Run(context.Background(), session(), strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Results[0].Error, "quota exceeded")
}

func TestImporter_InvalidQuantity(t *testing.T) {
	im, _ := newTestImporter(t)

	input := "Employee ID,SKU,Size,Quantity\nE001,SH-100,M,zero\nE001,SH-100,M,-2\n"
	report, err := im.Run(context.Background(), session(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed)
}

func TestImporter_UnknownSKU(t *testing.T) {
	im, _ := newTestImporter(t)

	input := "Employee ID,SKU,Size,Quantity\nE001,NOPE-1,M,1\n"
	report, err := im.Run(context.Background(), session(), strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Results[0].Error, "NOPE-1")
}

// =============================================================================
// REPORT CSV
// =============================================================================

func TestReport_WriteCSV(t *testing.T) {
	im, _ := newTestImporter(t)

	input := strings.Join([]string{
		"Employee ID,SKU,Size,Quantity",
		"E001,SH-100,M,1",
		"E999,SH-100,L,1",
	}, "\n")
	report, err := im.Run(context.Background(), session(), strings.NewReader(input))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.WriteCSV(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Row Number,Employee ID,SKU,Size,Quantity,Status,Order ID / Error", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2,E001,SH-100,M,1,success,"), "line: %s", lines[1])
	assert.Contains(t, lines[2], "failed")
	assert.Contains(t, lines[2], "E999")
}
