package identity

import (
	"context"
	"sync"
)

// Well-known keys of the persisted identity.
const (
	KeySessionID = "cart_session_id"
	KeyAuthToken = "auth_token"
)

// Store is the durable key-value store backing one shopper profile. Absence of
// every key is the legal fresh-visitor state.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Claimer is implemented by stores that can write a key only when it is absent.
// SetIfAbsent returns the value stored after the call, which is the existing
// value when another writer got there first.
type Claimer interface {
	SetIfAbsent(ctx context.Context, key, value string) (string, error)
}

// MemoryStore keeps identity in process memory. It is the profile of a single
// client instance that never outlives the process.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryStore) SetIfAbsent(_ context.Context, key, value string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.values[key]; ok && existing != "" {
		return existing, nil
	}
	m.values[key] = value
	return value, nil
}
