package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utv-amats/amats/internal/platform/httpx"
	"github.com/utv-amats/amats/internal/shared"
)

// PermissionsHandler exposes the operations granted to the caller.
type PermissionsHandler struct {
	rbac Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAuth).Get("/", h.listPermissions)
}

type permissionsResponse struct {
	Role       Role        `json:"role"`
	Operations []Operation `json:"operations"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	role := Role(actor.Role)
	httpx.JSON(w, http.StatusOK, permissionsResponse{Role: role, Operations: Granted(role)})
}
