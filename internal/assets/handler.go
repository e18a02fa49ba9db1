package assets

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/utv-amats/amats/internal/platform/httpx"
	"github.com/utv-amats/amats/internal/rbac"
	"github.com/utv-amats/amats/internal/shared"
)

// Handler wires HTTP endpoints for the asset registry.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs the registry handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers category and asset routes on the root router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.OpView))
		r.Get("/categories", h.listCategories)
		r.Get("/assets", h.listAssets)
		r.Get("/assets/{id}", h.getAsset)
		r.Get("/assets/{id}/maintenance-records", h.listMaintenance)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.OpCreateAsset))
		r.Post("/categories", h.createCategory)
		r.Delete("/categories/{id}", h.deleteCategory)
		r.Post("/assets", h.createAsset)
		r.Patch("/assets/{id}", h.updateAsset)
		r.Post("/assets/{id}/maintenance", h.setMaintenance)
		r.Post("/assets/{id}/maintenance/complete", h.completeMaintenance)
		r.Post("/assets/{id}/maintenance-records", h.recordMaintenance)
	})
	r.With(h.rbac.Require(rbac.OpRetireAsset)).Post("/assets/{id}/retire", h.retire)
}

type listResponse struct {
	Items      []Asset           `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

type noteRequest struct {
	Note string `json:"note" validate:"max=500"`
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	cats, err := h.service.ListCategories(r.Context(), actor)
	if err != nil {
		h.fail(w, "list categories", err)
		return
	}
	if cats == nil {
		cats = []Category{}
	}
	httpx.JSON(w, http.StatusOK, cats)
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var input CategoryInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	cat, err := h.service.CreateCategory(r.Context(), actor, input)
	if err != nil {
		h.fail(w, "create category", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, cat)
}

func (h *Handler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteCategory(r.Context(), actor, id); err != nil {
		h.fail(w, "delete category", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listAssets(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	q := r.URL.Query()
	filter := ListFilter{Search: q.Get("q"), Status: Status(q.Get("status"))}
	filter.CategoryID, _ = strconv.ParseInt(q.Get("category_id"), 10, 64)
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	items, page, err := h.service.ListAssets(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, "list assets", err)
		return
	}
	if items == nil {
		items = []Asset{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Pagination: page})
}

func (h *Handler) getAsset(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	asset, err := h.service.GetAsset(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "get asset", err)
		return
	}
	httpx.JSON(w, http.StatusOK, asset)
}

func (h *Handler) createAsset(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var input CreateAssetInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	asset, err := h.service.CreateAsset(r.Context(), actor, input)
	if err != nil {
		h.fail(w, "create asset", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, asset)
}

func (h *Handler) updateAsset(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var input UpdateAssetInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	asset, err := h.service.UpdateAsset(r.Context(), actor, id, input)
	if err != nil {
		h.fail(w, "update asset", err)
		return
	}
	httpx.JSON(w, http.StatusOK, asset)
}

func (h *Handler) listMaintenance(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	records, err := h.service.ListMaintenance(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "list maintenance", err)
		return
	}
	if records == nil {
		records = []MaintenanceRecord{}
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) recordMaintenance(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var input MaintenanceInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	record, err := h.service.RecordMaintenance(r.Context(), actor, id, input)
	if err != nil {
		h.fail(w, "record maintenance", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, record)
}

func (h *Handler) setMaintenance(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "set maintenance", h.service.SetMaintenance)
}

func (h *Handler) completeMaintenance(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "complete maintenance", h.service.CompleteMaintenance)
}

func (h *Handler) retire(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "retire asset", h.service.Retire)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, label string, fn func(context.Context, shared.Actor, int64, string) (Asset, error)) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	asset, err := fn(r.Context(), actor, id, req.Note)
	if err != nil {
		h.fail(w, label, err)
		return
	}
	httpx.JSON(w, http.StatusOK, asset)
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error(message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}
