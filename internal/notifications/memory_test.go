package notifications

import (
	"context"
	"sort"
	"sync"
)

type memoryRepo struct {
	mu     sync.Mutex
	items  []Notification
	nextID int64
}

func (r *memoryRepo) Insert(ctx context.Context, n Notification) (Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	n.ID = r.nextID
	r.items = append(r.items, n)
	return n, nil
}

func (r *memoryRepo) ListForUser(ctx context.Context, userID int64, f ListFilter) ([]Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.items {
		if n.UserID != userID || (f.UnreadOnly && n.Read) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memoryRepo) MarkRead(ctx context.Context, userID, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.items {
		if n.ID == id && n.UserID == userID {
			r.items[i].Read = true
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) MarkAllRead(ctx context.Context, userID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for i, n := range r.items {
		if n.UserID == userID && !n.Read {
			r.items[i].Read = true
			count++
		}
	}
	return count, nil
}
