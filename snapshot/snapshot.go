// Package snapshot keeps the last rendered virtual tree of each component.
//
// A snapshot is replaced wholesale on every successful render and never
// mutated in place: stores hand out and keep their own copies.
package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/hazyhaar/domdiff/vnode"
)

// Store persists snapshots by component id. Get returns nil, nil when the
// component has no snapshot.
type Store interface {
	Get(ctx context.Context, componentID string) (vnode.Node, error)
	Put(ctx context.Context, componentID string, tree vnode.Node) error
	Delete(ctx context.Context, componentID string) error
}

// Pruner is implemented by stores that can drop stale snapshots.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

type entry struct {
	tree    vnode.Node
	updated time.Time
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, componentID string) (vnode.Node, error) {
	m.mu.RLock()
	e, ok := m.entries[componentID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return vnode.Clone(e.tree), nil
}

func (m *Memory) Put(_ context.Context, componentID string, tree vnode.Node) error {
	cp := vnode.Clone(tree)
	m.mu.Lock()
	m.entries[componentID] = entry{tree: cp, updated: m.now()}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, componentID string) error {
	m.mu.Lock()
	delete(m.entries, componentID)
	m.mu.Unlock()
	return nil
}

// Prune drops snapshots not replaced within olderThan.
func (m *Memory) Prune(_ context.Context, olderThan time.Duration) (int64, error) {
	cutoff := m.now().Add(-olderThan)
	var n int64
	m.mu.Lock()
	for id, e := range m.entries {
		if e.updated.Before(cutoff) {
			delete(m.entries, id)
			n++
		}
	}
	m.mu.Unlock()
	return n, nil
}

// Len returns the number of stored snapshots.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
