package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/utv-amats/amats/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	entries []Entry
	failTx  error
	last    TimelineFilters
}

type memoryTx struct {
	repo    *memoryRepo
	pending []Entry
	archive map[int64]struct{}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r, archive: map[int64]struct{}{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if r.failTx != nil {
		return r.failTx
	}
	for i := range r.entries {
		if _, ok := tx.archive[r.entries[i].ID]; ok {
			r.entries[i].Archived = true
		}
	}
	r.entries = append(r.entries, tx.pending...)
	return nil
}

func (r *memoryRepo) List(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = filters
	var out []Entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if e.Archived && !filters.IncludeArchived {
			continue
		}
		if filters.Action != "" && string(e.Action) != strings.ToUpper(filters.Action) {
			continue
		}
		out = append(out, e)
	}
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (tx *memoryTx) Insert(ctx context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	entry.ID = int64(len(tx.repo.entries) + len(tx.pending) + 1)
	tx.pending = append(tx.pending, entry)
	return nil
}

func (tx *memoryTx) Archive(ctx context.Context, ids []int64) (int64, error) {
	var n int64
	for _, e := range tx.repo.entries {
		for _, id := range ids {
			if e.ID == id && !e.Archived {
				tx.archive[id] = struct{}{}
				n++
			}
		}
	}
	return n, nil
}

var (
	admin      = shared.Actor{UserID: 1, Username: "admin", Role: "ADMIN", SourceAddr: "10.0.0.5"}
	supervisor = shared.Actor{UserID: 2, Username: "sup", Role: "SUPERVISOR"}
	technician = shared.Actor{UserID: 3, Username: "tech", Role: "TECHNICIAN"}
	fixedNow   = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
)

func newTestService(repo *memoryRepo) *Service {
	svc := NewService(repo)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func seed(t *testing.T, svc *Service, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := svc.Record(context.Background(), NewEntry(admin, ActionCreate, "asset", "A1", "created", fixedNow)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
}

func TestRecordStampsTimestampAndSource(t *testing.T) {
	repo := &memoryRepo{}
	svc := newTestService(repo)
	entry := NewEntry(admin, ActionLogin, "user", "1", "login", time.Time{})
	entry.OccurredAt = time.Time{}
	if err := svc.Record(context.Background(), entry); err != nil {
		t.Fatalf("record: %v", err)
	}
	got := repo.entries[0]
	if !got.OccurredAt.Equal(fixedNow) {
		t.Fatalf("expected timestamp %v, got %v", fixedNow, got.OccurredAt)
	}
	if got.SourceAddr != "10.0.0.5" || got.ActorName != "admin" || *got.ActorID != 1 {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestRecordRejectsUnknownAction(t *testing.T) {
	svc := newTestService(&memoryRepo{})
	err := svc.Record(context.Background(), NewEntry(admin, Action("PURGE"), "asset", "1", "", fixedNow))
	if !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRecordSurfacesStorageFailure(t *testing.T) {
	repo := &memoryRepo{failTx: shared.ErrStorage}
	svc := newTestService(repo)
	err := svc.Record(context.Background(), NewEntry(admin, ActionCreate, "asset", "1", "", fixedNow))
	if !errors.Is(err, shared.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(repo.entries) != 0 {
		t.Fatalf("expected nothing persisted")
	}
}

func TestTimelinePaging(t *testing.T) {
	repo := &memoryRepo{}
	svc := newTestService(repo)
	seed(t, svc, 3)

	result, err := svc.Timeline(context.Background(), supervisor, TimelineFilters{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 || !result.Paging.HasNext || result.Paging.NextPage != 2 {
		t.Fatalf("unexpected page: %+v", result.Paging)
	}
	result, err = svc.Timeline(context.Background(), supervisor, TimelineFilters{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 1 || result.Paging.HasNext || result.Paging.PrevPage != 1 {
		t.Fatalf("unexpected second page: %+v", result.Paging)
	}
}

func TestTimelineDeniedForTechnician(t *testing.T) {
	svc := newTestService(&memoryRepo{})
	if _, err := svc.Timeline(context.Background(), technician, TimelineFilters{}); !errors.Is(err, shared.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestExportRecordsExportEntry(t *testing.T) {
	repo := &memoryRepo{}
	svc := newTestService(repo)
	seed(t, svc, 2)

	payload, err := svc.Export(context.Background(), supervisor, TimelineFilters{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(lines))
	}
	last := repo.entries[len(repo.entries)-1]
	if last.Action != ActionExport || last.ActorName != "sup" {
		t.Fatalf("expected export entry, got %+v", last)
	}
}

func TestArchiveFlagsWithoutDeleting(t *testing.T) {
	repo := &memoryRepo{}
	svc := newTestService(repo)
	seed(t, svc, 2)

	if _, err := svc.Archive(context.Background(), supervisor, []int64{1}); !errors.Is(err, shared.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	n, err := svc.Archive(context.Background(), admin, []int64{1, 99})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 archived, got %d", n)
	}
	if len(repo.entries) != 3 {
		t.Fatalf("expected entries kept plus archive record, got %d", len(repo.entries))
	}
	if !repo.entries[0].Archived || repo.entries[1].Archived {
		t.Fatalf("unexpected archive flags: %+v", repo.entries)
	}

	result, err := svc.Timeline(context.Background(), admin, TimelineFilters{})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected archived entry hidden, got %d rows", len(result.Rows))
	}
}

func TestArchiveRequiresIDs(t *testing.T) {
	svc := newTestService(&memoryRepo{})
	if _, err := svc.Archive(context.Background(), admin, nil); !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBuildWhere(t *testing.T) {
	where, args := buildWhere(TimelineFilters{Actor: "admin", Action: "issue", From: fixedNow})
	if where != " WHERE occurred_at >= $1 AND actor_name = $2 AND action = $3 AND archived = FALSE" {
		t.Fatalf("unexpected where: %q", where)
	}
	if len(args) != 3 || args[2] != "ISSUE" {
		t.Fatalf("unexpected args: %v", args)
	}
	where, args = buildWhere(TimelineFilters{IncludeArchived: true})
	if where != "" || args != nil {
		t.Fatalf("expected empty where, got %q %v", where, args)
	}
}
