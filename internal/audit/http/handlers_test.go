package audithttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/utv-amats/amats/internal/audit"
	"github.com/utv-amats/amats/internal/rbac"
	"github.com/utv-amats/amats/internal/shared"
)

type stubTimelineService struct {
	result      audit.Result
	csv         []byte
	archived    []int64
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(ctx context.Context, actor shared.Actor, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(ctx context.Context, actor shared.Actor, filters audit.TimelineFilters) ([]byte, error) {
	s.lastFilters = filters
	return s.csv, nil
}

func (s *stubTimelineService) Archive(ctx context.Context, actor shared.Actor, ids []int64) (int64, error) {
	s.archived = ids
	return int64(len(ids)), nil
}

func newRouter(service *stubTimelineService) http.Handler {
	h := NewHandler(nil, service)
	h.now = func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	h.MountRoutes(r, rbac.Middleware{})
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string, actor *shared.Actor) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if actor != nil {
		req = req.WithContext(shared.ContextWithActor(req.Context(), *actor))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestTimelineRequiresPermission(t *testing.T) {
	r := newRouter(&stubTimelineService{})
	if rr := do(t, r, http.MethodGet, "/audit", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	tech := shared.Actor{UserID: 7, Role: "TECHNICIAN"}
	if rr := do(t, r, http.MethodGet, "/audit", "", &tech); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestTimelineReturnsRows(t *testing.T) {
	rows := []audit.Entry{{ID: 1, ActorName: "auditor", Action: audit.ActionIssue, Entity: "asset", EntityID: "A102"}}
	service := &stubTimelineService{result: audit.Result{Rows: rows, Paging: audit.PagingInfo{Page: 1, PageSize: 20}}}
	r := newRouter(service)
	sup := shared.Actor{UserID: 2, Role: "SUPERVISOR"}

	rr := do(t, r, http.MethodGet, "/audit?from=2024-03-01&to=2024-03-15&action=issue", "", &sup)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "auditor") {
		t.Fatalf("expected actor in response: %s", rr.Body.String())
	}
	if service.lastFilters.From.Format("2006-01-02") != "2024-03-01" || service.lastFilters.Action != "issue" {
		t.Fatalf("unexpected filters: %+v", service.lastFilters)
	}
	if !service.lastFilters.To.Equal(time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected inclusive to-date, got %v", service.lastFilters.To)
	}
}

func TestTimelineRejectsBadRange(t *testing.T) {
	r := newRouter(&stubTimelineService{})
	sup := shared.Actor{UserID: 2, Role: "SUPERVISOR"}
	if rr := do(t, r, http.MethodGet, "/audit?from=2024-03-20&to=2024-03-01", "", &sup); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestExportCSV(t *testing.T) {
	r := newRouter(&stubTimelineService{csv: []byte("ID,Timestamp\n")})
	sup := shared.Actor{UserID: 2, Role: "SUPERVISOR"}
	rr := do(t, r, http.MethodGet, "/audit/export.csv", "", &sup)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ctype := rr.Header().Get("Content-Type"); !strings.Contains(ctype, "text/csv") {
		t.Fatalf("unexpected content-type: %s", ctype)
	}
}

func TestArchiveAdminOnly(t *testing.T) {
	service := &stubTimelineService{}
	r := newRouter(service)
	sup := shared.Actor{UserID: 2, Role: "SUPERVISOR"}
	if rr := do(t, r, http.MethodPost, "/audit/archive", `{"ids":[1]}`, &sup); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	admin := shared.Actor{UserID: 1, Role: "ADMIN"}
	rr := do(t, r, http.MethodPost, "/audit/archive", `{"ids":[1,2]}`, &admin)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(service.archived) != 2 {
		t.Fatalf("expected ids forwarded, got %v", service.archived)
	}
	if rr := do(t, r, http.MethodPost, "/audit/archive", `{"ids":[]}`, &admin); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty ids, got %d", rr.Code)
	}
}
