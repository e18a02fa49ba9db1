package audithttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/utv-amats/amats/internal/audit"
	"github.com/utv-amats/amats/internal/platform/httpx"
	"github.com/utv-amats/amats/internal/shared"
)

const (
	defaultDateRange  = 30 * 24 * time.Hour
	maxDateRangeHours = 24 * 366
)

// TimelineService defines the business contract for audit data.
type TimelineService interface {
	Timeline(ctx context.Context, actor shared.Actor, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, actor shared.Actor, filters audit.TimelineFilters) ([]byte, error)
	Archive(ctx context.Context, actor shared.Actor, ids []int64) (int64, error)
}

// Handler serves the audit timeline endpoints.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	now     func() time.Time
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, now: time.Now}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), actor, filters)
	if err != nil {
		h.fail(w, "load audit timeline", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payload, err := h.service.Export(r.Context(), actor, filters)
	if err != nil {
		h.fail(w, "export audit timeline", err)
		return
	}
	httpx.Attachment(w, "audit-log.csv")
	if _, err := w.Write(payload); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

type archiveRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
}

type archiveResponse struct {
	Archived int64 `json:"archived"`
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req archiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	n, err := h.service.Archive(r.Context(), actor, req.IDs)
	if err != nil {
		h.fail(w, "archive audit entries", err)
		return
	}
	httpx.JSON(w, http.StatusOK, archiveResponse{Archived: n})
}

func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	now := h.now().UTC()

	toTime := now.Truncate(24*time.Hour).Add(24 * time.Hour)
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			return audit.TimelineFilters{}, invalid("to")
		}
		toTime = parsed.Add(24 * time.Hour)
	}
	fromTime := toTime.Add(-defaultDateRange)
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			return audit.TimelineFilters{}, invalid("from")
		}
		fromTime = parsed
	}
	if !fromTime.Before(toTime) || toTime.Sub(fromTime) > maxDateRangeHours*time.Hour {
		return audit.TimelineFilters{}, invalid("range")
	}

	page, err := positiveInt(q.Get("page"), 1)
	if err != nil {
		return audit.TimelineFilters{}, invalid("page")
	}
	pageSize, err := positiveInt(q.Get("page_size"), 0)
	if err != nil {
		return audit.TimelineFilters{}, invalid("page_size")
	}

	return audit.TimelineFilters{
		From:            fromTime,
		To:              toTime,
		Actor:           strings.TrimSpace(q.Get("actor")),
		Entity:          strings.TrimSpace(q.Get("entity")),
		EntityID:        strings.TrimSpace(q.Get("entity_id")),
		Action:          strings.TrimSpace(q.Get("action")),
		IncludeArchived: q.Get("include_archived") == "true",
		Page:            page,
		PageSize:        pageSize,
	}, nil
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error(message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func positiveInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("not a positive integer")
	}
	return v, nil
}

func invalid(field string) error {
	return fmt.Errorf("%w: invalid %s", shared.ErrValidation, field)
}
