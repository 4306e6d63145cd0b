// Package evidence resolves evidence identifiers to existence and metadata.
// The engine never mutates the evidence store.
package evidence

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when an evidence identifier does not resolve.
var ErrNotFound = errors.New("evidence not found")

// Metadata describes one stored evidence artifact.
type Metadata struct {
	ID           string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store resolves evidence identifiers. Read-only.
type Store interface {
	Head(ctx context.Context, id string) (*Metadata, error)
}

// MemoryStore is an in-memory evidence store for tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Metadata
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Metadata)}
}

// Put registers evidence metadata.
func (s *MemoryStore) Put(meta Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[meta.ID] = meta
}

// Head resolves an evidence identifier.
func (s *MemoryStore) Head(_ context.Context, id string) (*Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &meta, nil
}
