package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/utv-amats/amats/internal/assignments"
	"github.com/utv-amats/amats/internal/presence"
	"github.com/utv-amats/amats/internal/rbac"
	"github.com/utv-amats/amats/internal/report"
	"github.com/utv-amats/amats/internal/shared"
	"github.com/utv-amats/amats/internal/users"
)

// operator is the actor CLI commands run as.
var operator = shared.SystemActor("amatsctl")

// Output bundles the streams and format every command writes to.
type Output struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

func (o Output) stdout() io.Writer {
	if o.Stdout == nil {
		return os.Stdout
	}
	return o.Stdout
}

func (o Output) stderr() io.Writer {
	if o.Stderr == nil {
		return os.Stderr
	}
	return o.Stderr
}

func (o Output) fail(err error) int {
	_, _ = fmt.Fprintf(o.stderr(), "error: %s\n", err)
	return 1
}

func (o Output) writeJSON(v any) int {
	enc := json.NewEncoder(o.stdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return o.fail(err)
	}
	return 0
}

// PresenceRunner runs a presence pass.
type PresenceRunner interface {
	RunScan(ctx context.Context, actor shared.Actor, req presence.ScanRequest) (presence.Report, error)
}

// ScanOptions configures a one-off presence pass.
type ScanOptions struct {
	Output
	Subnet  string
	Timeout time.Duration
}

// ScanCommand runs a presence pass in-process and prints the report.
func ScanCommand(ctx context.Context, runner PresenceRunner, opts ScanOptions) int {
	rep, err := runner.RunScan(ctx, operator, presence.ScanRequest{Subnet: opts.Subnet, Timeout: opts.Timeout})
	if err != nil {
		return opts.fail(err)
	}
	if opts.JSONOutput {
		return opts.writeJSON(rep)
	}
	out := opts.stdout()
	_, _ = fmt.Fprintf(out, "Scan %s of %s\n", rep.RunID, rep.Subnet)
	_, _ = fmt.Fprintf(out, "Responded: %d, matched: %d, unknown: %d\n", rep.Responded, rep.Matched, len(rep.Unknown))
	if len(rep.Missing) > 0 {
		_, _ = fmt.Fprintf(out, "Now missing: %s\n", strings.Join(rep.Missing, ", "))
	}
	if len(rep.Reacquired) > 0 {
		_, _ = fmt.Fprintf(out, "Reacquired: %s\n", strings.Join(rep.Reacquired, ", "))
	}
	if rep.Skipped > 0 {
		_, _ = fmt.Fprintf(out, "Skipped (changed concurrently): %d\n", rep.Skipped)
	}
	return 0
}

// OverdueLister lists overdue assignments.
type OverdueLister interface {
	OverdueScan(ctx context.Context) ([]assignments.Assignment, error)
}

// OverdueOptions configures the overdue listing.
type OverdueOptions struct {
	Output
	CriticalDays int
	Limit        int
	Now          func() time.Time
}

// OverdueSummary is the JSON form of OverdueCommand output.
type OverdueSummary struct {
	Overdue  int           `json:"overdue"`
	Critical int           `json:"critical"`
	Items    []OverdueItem `json:"items"`
}

// OverdueItem is one critically overdue assignment.
type OverdueItem struct {
	AssetTag    string `json:"asset_tag"`
	Holder      string `json:"holder"`
	DaysOverdue int    `json:"days_overdue"`
}

// OverdueCommand reports overdue assignments and lists those overdue by more
// than CriticalDays.
func OverdueCommand(ctx context.Context, lister OverdueLister, opts OverdueOptions) int {
	if opts.CriticalDays <= 0 {
		opts.CriticalDays = 30
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	now := time.Now().UTC()
	if opts.Now != nil {
		now = opts.Now()
	}
	rows, err := lister.OverdueScan(ctx)
	if err != nil {
		return opts.fail(err)
	}
	summary := OverdueSummary{Overdue: len(rows), Items: []OverdueItem{}}
	for _, a := range rows {
		days := a.DaysOverdue(now)
		if days <= opts.CriticalDays {
			continue
		}
		summary.Critical++
		if len(summary.Items) < opts.Limit {
			summary.Items = append(summary.Items, OverdueItem{AssetTag: a.AssetTag, Holder: a.HolderName, DaysOverdue: days})
		}
	}
	if opts.JSONOutput {
		return opts.writeJSON(summary)
	}
	out := opts.stdout()
	_, _ = fmt.Fprintf(out, "Found %d overdue assignments\n", summary.Overdue)
	_, _ = fmt.Fprintf(out, "Found %d critically overdue (>%d days)\n", summary.Critical, opts.CriticalDays)
	for _, item := range summary.Items {
		_, _ = fmt.Fprintf(out, "OVERDUE: %s - %d days - Assigned to: %s\n", item.AssetTag, item.DaysOverdue, item.Holder)
	}
	if summary.Overdue == 0 {
		_, _ = fmt.Fprintln(out, "No overdue assets found!")
	}
	return 0
}

// Exporter renders reports.
type Exporter interface {
	Export(ctx context.Context, actor shared.Actor, kind report.Kind) (report.Export, error)
}

// ReportOptions configures a report export.
type ReportOptions struct {
	Output
	Kind string
	// Path is the destination file; empty uses the generated name.
	Path string
}

// ReportCommand writes a CSV report to disk.
func ReportCommand(ctx context.Context, exporter Exporter, opts ReportOptions) int {
	kind, ok := report.ParseKind(opts.Kind)
	if !ok {
		return opts.fail(fmt.Errorf("unknown report type %q (inventory, assignments, overdue)", opts.Kind))
	}
	exp, err := exporter.Export(ctx, operator, kind)
	if err != nil {
		return opts.fail(err)
	}
	path := opts.Path
	if path == "" {
		path = exp.Filename
	}
	if err := os.WriteFile(path, exp.Body, 0o640); err != nil {
		return opts.fail(err)
	}
	_, _ = fmt.Fprintf(opts.stdout(), "Report saved to: %s (%d rows)\n", path, exp.Rows)
	return 0
}

// UserCreator creates user profiles.
type UserCreator interface {
	Create(ctx context.Context, actor shared.Actor, input users.CreateInput) (users.User, error)
}

// AdminOptions describes the bootstrap administrator.
type AdminOptions struct {
	Output
	Username string
	Email    string
	FullName string
	Password string
}

// CreateAdminCommand bootstraps an ADMIN profile.
func CreateAdminCommand(ctx context.Context, creator UserCreator, opts AdminOptions) int {
	u, err := creator.Create(ctx, operator, users.CreateInput{
		Username: opts.Username,
		Email:    opts.Email,
		FullName: opts.FullName,
		Role:     string(rbac.RoleAdmin),
		Password: opts.Password,
	})
	if err != nil {
		return opts.fail(err)
	}
	if opts.JSONOutput {
		return opts.writeJSON(u)
	}
	_, _ = fmt.Fprintf(opts.stdout(), "Created admin %s (id %d, employee %s)\n", u.Username, u.ID, u.EmployeeID)
	return 0
}
