package report

import (
	"time"

	"github.com/utv-amats/amats/internal/assets"
)

// Kind names an exportable report.
type Kind string

const (
	KindInventory   Kind = "inventory"
	KindAssignments Kind = "assignments"
	KindOverdue     Kind = "overdue"
)

// ParseKind resolves a report name from a URL segment.
func ParseKind(raw string) (Kind, bool) {
	switch k := Kind(raw); k {
	case KindInventory, KindAssignments, KindOverdue:
		return k, true
	default:
		return "", false
	}
}

// Filename returns the download name for a report generated at.
func (k Kind) Filename(at time.Time) string {
	return string(k) + "_report_" + at.UTC().Format("20060102_150405") + ".csv"
}

// StatusCount is one row of the per-status breakdown.
type StatusCount struct {
	Status assets.Status `json:"status"`
	Count  int           `json:"count"`
}

// CategoryCount is one row of the per-category breakdown.
type CategoryCount struct {
	CategoryID int64  `json:"category_id"`
	Category   string `json:"category"`
	Count      int    `json:"count"`
}

// Summary is the dashboard snapshot of the registry.
type Summary struct {
	Total       int             `json:"total"`
	ByStatus    []StatusCount   `json:"by_status"`
	ByCategory  []CategoryCount `json:"by_category"`
	Open        int             `json:"open_assignments"`
	Overdue     int             `json:"overdue_assignments"`
	GeneratedAt time.Time       `json:"generated_at"`
}
