/*
report.go - Per-row import results and CSV rendering

The report is plain serializable data for the API layer, plus a CSV
writer so admins can download the same results with one column per
field: Row Number, Employee ID, SKU, Size, Quantity, Status,
Order ID / Error.
*/
package bulkimport

import (
	"encoding/csv"
	"io"
	"strconv"
)

// =============================================================================
// REPORT
// =============================================================================

type RowStatus string

const (
	RowOK     RowStatus = "success"
	RowFailed RowStatus = "failed"
)

// RowResult is the outcome of one data row.
type RowResult struct {
	RowNumber  int       `json:"row_number"`
	EmployeeID string    `json:"employee_id"`
	SKU        string    `json:"sku"`
	Size       string    `json:"size"`
	Quantity   int       `json:"quantity"`
	Status     RowStatus `json:"status"`
	OrderID    string    `json:"order_id,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Report summarizes a whole import run.
type Report struct {
	Total      int         `json:"total"`
	Successful int         `json:"successful"`
	Failed     int         `json:"failed"`
	Results    []RowResult `json:"results"`
}

func (r *Report) add(result RowResult) {
	r.Total++
	if result.Status == RowOK {
		r.Successful++
	} else {
		r.Failed++
	}
	r.Results = append(r.Results, result)
}

// =============================================================================
// CSV OUTPUT
// =============================================================================

var reportHeader = []string{
	"Row Number", "Employee ID", "SKU", "Size", "Quantity", "Status", "Order ID / Error",
}

// WriteCSV renders the report as the downloadable result file.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return err
	}
	for _, row := range r.Results {
		outcome := row.OrderID
		if row.Status != RowOK {
			outcome = row.Error
		}
		record := []string{
			strconv.Itoa(row.RowNumber),
			row.EmployeeID,
			row.SKU,
			row.Size,
			strconv.Itoa(row.Quantity),
			string(row.Status),
			outcome,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
