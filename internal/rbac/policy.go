package rbac

import (
	"fmt"

	"github.com/utv-amats/amats/internal/shared"
)

var grants = map[Role]map[Operation]struct{}{
	RoleAdmin:      set(Operations...),
	RoleTechnician: set(OpView, OpIssue, OpReturn),
	RoleSupervisor: set(OpView, OpExportReport, OpViewAudit),
}

func set(ops ...Operation) map[Operation]struct{} {
	out := make(map[Operation]struct{}, len(ops))
	for _, op := range ops {
		out[op] = struct{}{}
	}
	return out
}

// Authorize reports whether role may perform op. Denials wrap shared.ErrUnauthorized.
func Authorize(role Role, op Operation) error {
	if _, ok := grants[role][op]; ok {
		return nil
	}
	return fmt.Errorf("%w: role %q may not %s", shared.ErrUnauthorized, role, op)
}

// AuthorizeActor is Authorize for the actor's role.
func AuthorizeActor(actor shared.Actor, op Operation) error {
	return Authorize(Role(actor.Role), op)
}

// AuthorizeAsset applies the role check and then the technician scope: a
// technician only touches assets that are available or held by them.
func AuthorizeAsset(actor shared.Actor, op Operation, asset AssetScope) error {
	if err := AuthorizeActor(actor, op); err != nil {
		return err
	}
	if Role(actor.Role) != RoleTechnician {
		return nil
	}
	if asset.HolderID != nil && *asset.HolderID == actor.UserID {
		return nil
	}
	if asset.HolderID == nil && asset.Status == "AVAILABLE" {
		return nil
	}
	return fmt.Errorf("%w: asset is outside technician scope", shared.ErrUnauthorized)
}

// Granted returns the operations role may perform, in display order.
func Granted(role Role) []Operation {
	out := make([]Operation, 0, len(Operations))
	for _, op := range Operations {
		if _, ok := grants[role][op]; ok {
			out = append(out, op)
		}
	}
	return out
}
