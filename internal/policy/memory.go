package policy

import (
	"context"
	"sync"
)

// MemoryBackend keeps the saved table in process memory. Used by replay and tests.
type MemoryBackend struct {
	mu    sync.Mutex
	table Table
	saves int
}

// NewMemoryBackend returns a backend pre-loaded with t (nil means nothing saved).
func NewMemoryBackend(t Table) *MemoryBackend {
	b := &MemoryBackend{}
	if t != nil {
		b.table = t.Clone()
	}
	return b
}

func (b *MemoryBackend) Load(_ context.Context) (Table, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.table == nil {
		return nil, ErrNotFound
	}
	return b.table.Clone(), nil
}

func (b *MemoryBackend) Save(_ context.Context, t Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.table = t.Clone()
	b.saves++
	return nil
}

func (b *MemoryBackend) Close() error { return nil }

// Saved returns a copy of the last saved table and how many saves happened.
func (b *MemoryBackend) Saved() (Table, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.table == nil {
		return nil, b.saves
	}
	return b.table.Clone(), b.saves
}
