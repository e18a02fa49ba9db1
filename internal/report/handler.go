package report

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/utv-amats/amats/internal/platform/httpx"
	"github.com/utv-amats/amats/internal/rbac"
	"github.com/utv-amats/amats/internal/shared"
)

// Handler serves report downloads.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler creates a report handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.Require(rbac.OpExportReport))
	r.Get("/summary", h.summary)
	r.Get("/{kind}.csv", h.export)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	out, err := h.service.Summary(r.Context(), actor)
	if err != nil {
		h.fail(w, "report summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	kind, ok := ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown report")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	out, err := h.service.Export(r.Context(), actor, kind)
	if err != nil {
		h.fail(w, "export report", err)
		return
	}
	httpx.Attachment(w, out.Filename)
	w.Header().Set("X-Report-Rows", strconv.Itoa(out.Rows))
	if _, err := w.Write(out.Body); err != nil {
		h.logger.Warn("write report", slog.Any("error", err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error(message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
