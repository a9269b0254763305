package presence

import (
	"context"
	"sort"
	"sync"
)

// MemoryTracker keeps presence in process. Only correct for a single instance.
type MemoryTracker struct {
	mu    sync.Mutex
	conns map[string]map[string]struct{}
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{conns: make(map[string]map[string]struct{})}
}

func (t *MemoryTracker) Connect(_ context.Context, userID, connID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		t.conns[userID] = set
	}
	if _, dup := set[connID]; dup {
		return false, nil
	}
	set[connID] = struct{}{}
	return len(set) == 1, nil
}

func (t *MemoryTracker) Disconnect(_ context.Context, userID, connID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[userID]
	if !ok {
		return false, nil
	}
	if _, known := set[connID]; !known {
		return false, nil
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(t.conns, userID)
		return true, nil
	}
	return false, nil
}

func (t *MemoryTracker) IsOnline(_ context.Context, userID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns[userID]) > 0, nil
}

func (t *MemoryTracker) Online(_ context.Context) ([]string, error) {
	t.mu.Lock()
	users := make([]string, 0, len(t.conns))
	for id := range t.conns {
		users = append(users, id)
	}
	t.mu.Unlock()

	sort.Strings(users)
	return users, nil
}
