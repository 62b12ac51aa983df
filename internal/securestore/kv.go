// Package securestore persists small values for the agent.
//
// kv.go -- Backend interface and the in-memory backend.
// A KV is the raw primitive (string get/set/delete); Store layers JSON,
// secure-key routing and chunking on top of two KVs.
package securestore

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrValueTooLarge is returned by a size-limited backend when a value exceeds its ceiling.
var ErrValueTooLarge = errors.New("value exceeds backend size limit")

// ErrCorrupt is returned when a stored value cannot be decoded or authenticated.
var ErrCorrupt = errors.New("stored value is corrupt")

// KV is a primitive string key-value backend.
// Get reports a missing key as ("", false, nil); errors are reserved for backend failures.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// MemoryKV is a process-local KV. Safe for concurrent use.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

// Keys returns all keys in sorted order.
func (m *MemoryKV) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}
