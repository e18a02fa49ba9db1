package rbac

import "strings"

// Role is the coarse permission grouping carried by every user profile.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleTechnician Role = "TECHNICIAN"
	RoleSupervisor Role = "SUPERVISOR"
)

// Roles lists every assignable role.
var Roles = []Role{RoleAdmin, RoleTechnician, RoleSupervisor}

// ParseRole normalises raw input into a known role.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range Roles {
		if role == known {
			return role, true
		}
	}
	return "", false
}

// Operation is a capability checked by Authorize.
type Operation string

const (
	OpView         Operation = "view"
	OpIssue        Operation = "issue"
	OpReturn       Operation = "return"
	OpCreateAsset  Operation = "create_asset"
	OpRetireAsset  Operation = "retire_asset"
	OpRunScan      Operation = "run_scan"
	OpExportReport Operation = "export_report"
	OpManageUsers  Operation = "manage_users"
	OpViewAudit    Operation = "view_audit"
)

// Operations lists every checked operation in display order.
var Operations = []Operation{
	OpView, OpIssue, OpReturn, OpCreateAsset, OpRetireAsset,
	OpRunScan, OpExportReport, OpManageUsers, OpViewAudit,
}

// AssetScope is the slice of asset state the policy needs for scoped checks.
type AssetScope struct {
	Status   string
	HolderID *int64
}
