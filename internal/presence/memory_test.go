package presence

import (
	"context"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/utv-amats/amats/internal/audit"
)

type memoryRepo struct {
	mu       sync.Mutex
	tracked  map[int64]Tracked
	audit    []audit.Entry
	auditErr error
	// beforeApply runs inside the transaction before the compare-and-set.
	beforeApply func(r *memoryRepo, u Update)
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(items ...Tracked) *memoryRepo {
	r := &memoryRepo{tracked: map[int64]Tracked{}}
	for _, t := range items {
		r.tracked[t.AssetID] = t
	}
	return r
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[int64]Tracked, len(r.tracked))
	for k, v := range r.tracked {
		saved[k] = v
	}
	entries := len(r.audit)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.tracked, r.audit = saved, r.audit[:entries]
		return err
	}
	return nil
}

func (r *memoryRepo) Snapshot(ctx context.Context) ([]Tracked, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Tracked, 0, len(r.tracked))
	for _, t := range r.tracked {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

func (r *memoryRepo) get(id int64) Tracked {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracked[id]
}

func (tx *memoryTx) ApplyUpdate(ctx context.Context, u Update) (bool, error) {
	if tx.repo.beforeApply != nil {
		tx.repo.beforeApply(tx.repo, u)
	}
	cur, ok := tx.repo.tracked[u.AssetID]
	if !ok || cur.Status != u.From || !sameTime(cur.LastSeen, u.PrevLastSeen) {
		return false, nil
	}
	cur.Status = u.To
	cur.LastSeen = u.LastSeen
	cur.IP = u.IP
	tx.repo.tracked[u.AssetID] = cur
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

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

type fakeScanner struct {
	mu    sync.Mutex
	obs   []Observation
	err   error
	calls int
	gate  chan struct{}
}

func (f *fakeScanner) Scan(ctx context.Context, subnet netip.Prefix, timeout time.Duration) ([]Observation, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.obs, f.err
}

type countingMetrics struct {
	transitions map[string]int
	unknown     int
}

func (m *countingMetrics) AddTransitions(to string, count int) {
	if m.transitions == nil {
		m.transitions = map[string]int{}
	}
	m.transitions[to] += count
}

func (m *countingMetrics) AddUnknownDevices(count int) {
	m.unknown += count
}
