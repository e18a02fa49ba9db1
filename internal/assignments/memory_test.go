package assignments

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/utv-amats/amats/internal/assets"
	"github.com/utv-amats/amats/internal/audit"
	"github.com/utv-amats/amats/internal/shared"
)

type memoryRepo struct {
	mu          sync.Mutex
	assets      map[int64]AssetRef
	holders     map[int64]Holder
	assignments map[int64]Assignment
	audit       []audit.Entry
	maintenance []assets.MaintenanceRecord
	nextID      int64
	auditErr    error
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		assets:      map[int64]AssetRef{},
		holders:     map[int64]Holder{},
		assignments: map[int64]Assignment{},
	}
}

func (r *memoryRepo) addAsset(id int64, tag string, status assets.Status) {
	r.assets[id] = AssetRef{ID: id, Tag: tag, Name: tag, Status: status, Condition: assets.ConditionGood}
}

func (r *memoryRepo) addHolder(id int64, username string, active bool) {
	r.holders[id] = Holder{ID: id, Username: username, Email: username + "@utv.test", Active: active}
}

func (r *memoryRepo) openFor(assetID int64) []Assignment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Assignment
	for _, a := range r.assignments {
		if a.AssetID == assetID && a.Open() {
			out = append(out, a)
		}
	}
	return out
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	refs := make(map[int64]AssetRef, len(r.assets))
	for k, v := range r.assets {
		refs[k] = v
	}
	rows := make(map[int64]Assignment, len(r.assignments))
	for k, v := range r.assignments {
		rows[k] = v
	}
	entries, records := len(r.audit), len(r.maintenance)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.assets, r.assignments = refs, rows
		r.audit, r.maintenance = r.audit[:entries], r.maintenance[:records]
		return err
	}
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[id]
	if !ok {
		return Assignment{}, shared.ErrNotFound
	}
	return a, nil
}

func (r *memoryRepo) List(ctx context.Context, f ListFilter) ([]Assignment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Assignment
	for _, a := range r.assignments {
		if f.AssetID != 0 && a.AssetID != f.AssetID {
			continue
		}
		if f.HolderID != 0 && a.HolderID != f.HolderID {
			continue
		}
		if f.OpenOnly && !a.Open() {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := len(out)
	start := shared.Offset(f.Page, f.PerPage)
	if start > total {
		start = total
	}
	end := start + f.PerPage
	if end > total {
		end = total
	}
	return out[start:end], total, nil
}

func (r *memoryRepo) ListOverdue(ctx context.Context, now time.Time) ([]Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Assignment
	for _, a := range r.assignments {
		if a.OverdueAt(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(*out[j].DueAt) })
	return out, nil
}

func (tx *memoryTx) GetAsset(ctx context.Context, assetID int64) (AssetRef, error) {
	ref, ok := tx.repo.assets[assetID]
	if !ok {
		return AssetRef{}, shared.ErrNotFound
	}
	return ref, nil
}

func (tx *memoryTx) GetHolder(ctx context.Context, userID int64) (Holder, error) {
	h, ok := tx.repo.holders[userID]
	if !ok {
		return Holder{}, shared.ErrNotFound
	}
	return h, nil
}

func (tx *memoryTx) ClaimAsset(ctx context.Context, assetID int64, from, to assets.Status) (bool, error) {
	ref, ok := tx.repo.assets[assetID]
	if !ok || ref.Status != from {
		return false, nil
	}
	ref.Status = to
	tx.repo.assets[assetID] = ref
	return true, nil
}

func (tx *memoryTx) InsertAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	for _, existing := range tx.repo.assignments {
		if existing.AssetID == a.AssetID && existing.Open() {
			return Assignment{}, shared.ErrConflict
		}
	}
	tx.repo.nextID++
	a.ID = tx.repo.nextID
	tx.repo.assignments[a.ID] = a
	ref := tx.repo.assets[a.AssetID]
	holder := a.HolderID
	ref.HolderID = &holder
	tx.repo.assets[a.AssetID] = ref
	return a, nil
}

func (tx *memoryTx) GetAssignmentForUpdate(ctx context.Context, id int64) (Assignment, error) {
	a, ok := tx.repo.assignments[id]
	if !ok {
		return Assignment{}, shared.ErrNotFound
	}
	return a, nil
}

func (tx *memoryTx) CloseAssignment(ctx context.Context, a Assignment) (bool, error) {
	current := tx.repo.assignments[a.ID]
	if !current.Open() {
		return false, nil
	}
	tx.repo.assignments[a.ID] = a
	return true, nil
}

func (tx *memoryTx) InsertMaintenance(ctx context.Context, m assets.MaintenanceRecord) (assets.MaintenanceRecord, error) {
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	tx.repo.maintenance = append(tx.repo.maintenance, m)
	return m, nil
}

func (tx *memoryTx) ReleaseAsset(ctx context.Context, assetID int64, to assets.Status, condition assets.Condition) (bool, error) {
	ref, ok := tx.repo.assets[assetID]
	if !ok || (ref.Status != assets.StatusIssued && ref.Status != assets.StatusMissing) {
		return false, nil
	}
	ref.Status = to
	ref.HolderID = nil
	if condition != "" {
		ref.Condition = condition
	}
	tx.repo.assets[assetID] = ref
	return true, nil
}

func (tx *memoryTx) RecordAudit(ctx context.Context, entry audit.Entry) error {
	if tx.repo.auditErr != nil {
		return tx.repo.auditErr
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	tx.repo.audit = append(tx.repo.audit, entry)
	return nil
}

type recordingObserver struct {
	mu      sync.Mutex
	results map[string][]error
}

func (o *recordingObserver) ObserveAssignment(op string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = map[string][]error{}
	}
	o.results[op] = append(o.results[op], err)
}

type countingCache struct {
	mu    sync.Mutex
	bumps int
}

func (c *countingCache) Bump(ctx context.Context) error {
	c.mu.Lock()
	c.bumps++
	c.mu.Unlock()
	return nil
}
