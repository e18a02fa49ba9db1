package report

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"

	"github.com/utv-amats/amats/internal/assets"
	"github.com/utv-amats/amats/internal/assignments"
)

var (
	inventoryHeader  = []string{"Asset Tag", "Name", "Category", "Status", "Condition", "Location", "Assigned To", "Serial Number", "MAC Address"}
	assignmentHeader = []string{"Asset", "Type", "To User", "By Admin", "Date Out", "Date Due", "Returned"}
	overdueHeader    = []string{"Asset", "Assigned To", "Date Due", "Days Overdue"}
)

// WriteInventoryCSV renders one row per asset.
func WriteInventoryCSV(rows []assets.Asset) ([]byte, error) {
	return writeCSV(inventoryHeader, len(rows), func(i int) []string {
		a := rows[i]
		return []string{
			a.Tag,
			a.Name,
			a.CategoryName,
			string(a.Status),
			string(a.Condition),
			a.Location,
			a.HolderName,
			a.SerialNumber,
			a.MACAddress,
		}
	})
}

// WriteAssignmentsCSV renders every assignment, open or closed.
func WriteAssignmentsCSV(rows []assignments.Assignment) ([]byte, error) {
	return writeCSV(assignmentHeader, len(rows), func(i int) []string {
		a := rows[i]
		kind := "Issue"
		if !a.Open() {
			kind = "Return"
		}
		return []string{
			a.AssetTag,
			kind,
			a.HolderName,
			a.IssuedByName,
			formatTime(&a.IssuedAt),
			formatTime(a.DueAt),
			formatTime(a.ReturnedAt),
		}
	})
}

// WriteOverdueCSV renders open assignments past due at now.
func WriteOverdueCSV(rows []assignments.Assignment, now time.Time) ([]byte, error) {
	return writeCSV(overdueHeader, len(rows), func(i int) []string {
		a := rows[i]
		return []string{
			a.AssetTag,
			a.HolderName,
			formatTime(a.DueAt),
			strconv.Itoa(a.DaysOverdue(now)),
		}
	})
}

func writeCSV(header []string, n int, record func(int) []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		if err := w.Write(record(i)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
