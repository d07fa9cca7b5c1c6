// Package backend provides tier store implementations.
// All stores implement types.TierStore interface.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coldfront/coldfront/pkg/types"
)

// BucketRemover is implemented by stores that can drop a bucket's
// footprint wholesale. Cloud stores never implement it: destroying a
// bucket only removes its local state.
type BucketRemover interface {
	RemoveBucket(ctx context.Context, bucket string) error
}

// IsNotFound reports whether err means a missing object or bucket,
// regardless of which store produced it.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrBucketNotFound)
}

// Sentinel errors shared by every store implementation. Callers use
// errors.Is; the human-readable text varies per store.
var (
	ErrNotFound       = errors.New("backend: object not found")
	ErrBucketNotFound = errors.New("backend: bucket not found")
	ErrNotSupported   = errors.New("backend: operation not supported")
)

// Registry holds registered store factories
var (
	registryMu sync.RWMutex
	registry   = make(map[types.StoreType]Factory)
)

// Factory creates a TierStore from config
type Factory func(cfg types.StoreConfig) (types.TierStore, error)

// Register adds a factory for a store type
func Register(t types.StoreType, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = f
}

// New creates a TierStore from config
func New(cfg types.StoreConfig) (types.TierStore, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
	return f(cfg)
}

// Manager tracks the stores a node has mounted: the cache tier plus one
// store per configured cloud provider.
type Manager struct {
	mu      sync.RWMutex
	stores  map[string]types.TierStore
	configs map[string]types.StoreConfig
}

// NewManager creates a store manager
func NewManager() *Manager {
	return &Manager{
		stores:  make(map[string]types.TierStore),
		configs: make(map[string]types.StoreConfig),
	}
}

// Add creates and registers a store under id
func (m *Manager) Add(id string, cfg types.StoreConfig) error {
	store, err := New(cfg)
	if err != nil {
		return fmt.Errorf("create store %s: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, exists := m.stores[id]; exists {
		old.Close()
	}

	m.stores[id] = store
	m.configs[id] = cfg
	return nil
}

// Get retrieves a store by ID
func (m *Manager) Get(id string) (types.TierStore, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[id]
	return s, ok
}

// Remove closes and removes a store
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[id]; ok {
		s.Close()
		delete(m.stores, id)
		delete(m.configs, id)
	}
	return nil
}

// List returns all store IDs
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.stores))
	for id := range m.stores {
		ids = append(ids, id)
	}
	return ids
}

// Close closes all stores
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.stores {
		s.Close()
	}
	m.stores = make(map[string]types.TierStore)
	m.configs = make(map[string]types.StoreConfig)
	return nil
}
