package rbac

import (
	"log/slog"
	"net/http"

	"github.com/utv-amats/amats/internal/platform/httpx"
	"github.com/utv-amats/amats/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Logger *slog.Logger
}

// RequireAuth rejects requests without a resolved actor.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.ActorFromContext(r.Context()); !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Require ensures the current actor may perform every listed operation.
func (m Middleware) Require(ops ...Operation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := shared.ActorFromContext(r.Context())
			for _, op := range ops {
				if err := AuthorizeActor(actor, op); err != nil {
					if m.Logger != nil {
						m.Logger.Warn("rbac denied",
							slog.String("user", actor.Username),
							slog.String("role", actor.Role),
							slog.String("operation", string(op)),
							slog.String("path", r.URL.Path))
					}
					httpx.RespondError(w, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		}))
	}
}
