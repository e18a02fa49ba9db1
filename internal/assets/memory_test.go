package assets

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/utv-amats/amats/internal/audit"
	"github.com/utv-amats/amats/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	categories map[int64]Category
	assets     map[int64]Asset
	audit      []audit.Entry
	records    []MaintenanceRecord
	nextID     int64
	auditErr   error
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{categories: map[int64]Category{}, assets: map[int64]Asset{}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cats := make(map[int64]Category, len(r.categories))
	for k, v := range r.categories {
		cats[k] = v
	}
	items := make(map[int64]Asset, len(r.assets))
	for k, v := range r.assets {
		items[k] = v
	}
	entries := len(r.audit)
	records := append([]MaintenanceRecord(nil), r.records...)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.categories, r.assets, r.audit, r.records = cats, items, r.audit[:entries], records
		return err
	}
	return nil
}

func (r *memoryRepo) GetAsset(ctx context.Context, id int64) (Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[id]
	if !ok {
		return Asset{}, shared.ErrNotFound
	}
	return a, nil
}

func (r *memoryRepo) ListAssets(ctx context.Context, f ListFilter) ([]Asset, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Asset
	for _, a := range r.assets {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.CategoryID != 0 && a.CategoryID != f.CategoryID {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(a.Name+" "+a.Tag), strings.ToLower(f.Search)) {
			continue
		}
		if f.VisibleTo != 0 && a.Status != StatusAvailable && (a.HolderID == nil || *a.HolderID != f.VisibleTo) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
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

func (r *memoryRepo) ListCategories(ctx context.Context) ([]Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Category
	for _, c := range r.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memoryRepo) ListMaintenance(ctx context.Context, assetID int64) ([]MaintenanceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []MaintenanceRecord
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].AssetID == assetID {
			out = append(out, r.records[i])
		}
	}
	return out, nil
}

func (tx *memoryTx) GetCategory(ctx context.Context, id int64) (Category, error) {
	c, ok := tx.repo.categories[id]
	if !ok {
		return Category{}, fmt.Errorf("%w: category %d", shared.ErrNotFound, id)
	}
	return c, nil
}

func (tx *memoryTx) InsertCategory(ctx context.Context, c Category) (Category, error) {
	for _, existing := range tx.repo.categories {
		if strings.EqualFold(existing.Name, c.Name) {
			return Category{}, shared.ErrConflict
		}
	}
	tx.repo.nextID++
	c.ID = tx.repo.nextID
	tx.repo.categories[c.ID] = c
	return c, nil
}

func (tx *memoryTx) DeleteCategory(ctx context.Context, id int64) error {
	delete(tx.repo.categories, id)
	return nil
}

func (tx *memoryTx) CountAssetsInCategory(ctx context.Context, id int64) (int, error) {
	n := 0
	for _, a := range tx.repo.assets {
		if a.CategoryID == id {
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) TagExists(ctx context.Context, tag string) (bool, error) {
	for _, a := range tx.repo.assets {
		if a.Tag == tag {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) InsertAsset(ctx context.Context, a Asset) (Asset, error) {
	for _, existing := range tx.repo.assets {
		if existing.Tag == a.Tag || (a.SerialNumber != "" && existing.SerialNumber == a.SerialNumber) ||
			(a.MACAddress != "" && existing.MACAddress == a.MACAddress) {
			return Asset{}, shared.ErrConflict
		}
	}
	tx.repo.nextID++
	a.ID = tx.repo.nextID
	tx.repo.assets[a.ID] = a
	return a, nil
}

func (tx *memoryTx) GetAssetForUpdate(ctx context.Context, id int64) (Asset, error) {
	a, ok := tx.repo.assets[id]
	if !ok {
		return Asset{}, shared.ErrNotFound
	}
	return a, nil
}

func (tx *memoryTx) UpdateAsset(ctx context.Context, a Asset) error {
	tx.repo.assets[a.ID] = a
	return nil
}

func (tx *memoryTx) InsertMaintenance(ctx context.Context, m MaintenanceRecord) (MaintenanceRecord, error) {
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	tx.repo.records = append(tx.repo.records, m)
	return m, nil
}

func (tx *memoryTx) CloseMaintenance(ctx context.Context, assetID int64, resolution string, at time.Time) (int, error) {
	n := 0
	for i, m := range tx.repo.records {
		if m.AssetID == assetID && m.Open() {
			t := at
			tx.repo.records[i].CompletedAt = &t
			tx.repo.records[i].Resolution = resolution
			n++
		}
	}
	return n, nil
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

type countingCache struct {
	bumps int
}

func (c *countingCache) Bump(ctx context.Context) error {
	c.bumps++
	return nil
}
