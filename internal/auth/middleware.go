package auth

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/utv-amats/amats/internal/platform/httpx"
	"github.com/utv-amats/amats/internal/shared"
)

// ActorMiddleware resolves the session user into a shared.Actor on the
// request context. Anonymous requests pass through without an actor.
func ActorMiddleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			if sess == nil || sess.User() == "" {
				next.ServeHTTP(w, r)
				return
			}
			userID, err := strconv.ParseInt(sess.User(), 10, 64)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			actor, _, err := service.Resolve(r.Context(), userID, SourceAddr(r))
			if err != nil {
				if errors.Is(err, shared.ErrInvalidCredentials) {
					sess.SetUser("")
					next.ServeHTTP(w, r)
					return
				}
				logger.Error("resolve session actor", slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
		})
	}
}

// SourceAddr returns the client address without port. It expects
// middleware.RealIP to have run.
func SourceAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
