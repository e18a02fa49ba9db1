package assignments

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/utv-amats/amats/internal/assets"
	"github.com/utv-amats/amats/internal/platform/httpx"
	"github.com/utv-amats/amats/internal/rbac"
	"github.com/utv-amats/amats/internal/shared"
)

const idempotencyScope = "assignments.issue"

// IdempotencyGuard records request keys so a retried issue is not applied twice.
type IdempotencyGuard interface {
	Claim(ctx context.Context, actorID int64, key, scope string) error
	Release(ctx context.Context, actorID int64, key string) error
}

// Handler wires HTTP endpoints for the assignment workflow.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	rbac        rbac.Middleware
	idempotency IdempotencyGuard
}

// NewHandler constructs the assignment handler. idempotency may be nil.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, idempotency IdempotencyGuard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, idempotency: idempotency}
}

// MountRoutes registers assignment routes on the root router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.Require(rbac.OpIssue)).Post("/assets/{id}/issue", h.issue)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.OpView))
		r.Get("/assignments", h.list)
		r.Get("/assignments/overdue", h.overdue)
		r.Get("/assignments/{id}", h.get)
	})
	r.With(h.rbac.Require(rbac.OpReturn)).Post("/assignments/{id}/return", h.returnAsset)
}

type issueRequest struct {
	HolderID int64      `json:"holder_id" validate:"required,gt=0"`
	DueAt    *time.Time `json:"due_at"`
	Purpose  string     `json:"purpose" validate:"max=500"`
}

type returnRequest struct {
	Condition assets.Condition `json:"condition" validate:"omitempty,oneof=EXCELLENT GOOD FAIR POOR DAMAGED"`
	Note      string           `json:"note" validate:"max=2000"`
}

type listResponse struct {
	Items      []Assignment      `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

type overdueItem struct {
	Assignment
	DaysOverdue int `json:"days_overdue"`
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	assetID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.Claim(r.Context(), actor.UserID, key, idempotencyScope); err != nil {
			h.fail(w, "idempotency check", err)
			return
		}
	}
	assignment, err := h.service.Issue(r.Context(), actor, IssueInput{
		AssetID:  assetID,
		HolderID: req.HolderID,
		DueAt:    req.DueAt,
		Purpose:  req.Purpose,
	})
	if err != nil {
		if key != "" && h.idempotency != nil {
			if derr := h.idempotency.Release(r.Context(), actor.UserID, key); derr != nil {
				h.logger.Warn("idempotency key release failed", slog.Any("error", derr))
			}
		}
		h.fail(w, "issue asset", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, assignment)
}

func (h *Handler) returnAsset(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req returnRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	assignment, err := h.service.Return(r.Context(), actor, ReturnInput{
		AssignmentID: id,
		Condition:    req.Condition,
		Note:         req.Note,
	})
	if err != nil {
		h.fail(w, "return asset", err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignment)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	q := r.URL.Query()
	filter := ListFilter{OpenOnly: q.Get("open") == "true"}
	filter.AssetID, _ = strconv.ParseInt(q.Get("asset_id"), 10, 64)
	filter.HolderID, _ = strconv.ParseInt(q.Get("holder_id"), 10, 64)
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	items, page, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, "list assignments", err)
		return
	}
	if items == nil {
		items = []Assignment{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Pagination: page})
}

func (h *Handler) overdue(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	rows, err := h.service.Overdue(r.Context(), actor)
	if err != nil {
		h.fail(w, "list overdue", err)
		return
	}
	now := h.service.now().UTC()
	items := make([]overdueItem, 0, len(rows))
	for _, a := range rows {
		items = append(items, overdueItem{Assignment: a, DaysOverdue: a.DaysOverdue(now)})
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	assignment, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "get assignment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignment)
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
