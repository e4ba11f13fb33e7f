package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/search"
)

// Manager opens one Index per registered index definition, lazily.
type Manager struct {
	storageDir string
	registry   *core.Registry
	indexes    map[string]*Index
	mu         sync.RWMutex
}

func NewManager(storageDir string, registry *core.Registry) *Manager {
	if registry == nil {
		registry = core.GetGlobalRegistry()
	}
	return &Manager{
		storageDir: storageDir,
		registry:   registry,
		indexes:    make(map[string]*Index),
	}
}

// Registry returns the index definitions served by the manager.
func (m *Manager) Registry() *core.Registry {
	return m.registry
}

// Index returns the store of the named index, opening it on first use.
func (m *Manager) Index(name string) (*Index, error) {
	m.mu.RLock()
	idx, ok := m.indexes[name]
	m.mu.RUnlock()
	if ok {
		return idx, nil
	}

	def, err := m.registry.Get(name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if idx, ok := m.indexes[name]; ok {
		return idx, nil
	}

	idx, err = OpenIndex(filepath.Join(m.storageDir, name+".db"), def)
	if err != nil {
		return nil, fmt.Errorf("opening index %s: %w", name, err)
	}
	m.indexes[name] = idx
	return idx, nil
}

// FetchSearchData routes the request to the index named in req.IndexName.
func (m *Manager) FetchSearchData(ctx context.Context, req search.Request) (*search.Response[core.Document], error) {
	idx, err := m.Index(req.IndexName)
	if err != nil {
		return nil, err
	}
	return idx.FetchSearchData(ctx, req)
}

// Stats returns the stats of every registered index.
func (m *Manager) Stats(ctx context.Context) ([]IndexStats, error) {
	var all []IndexStats
	for _, name := range m.registry.Names() {
		idx, err := m.Index(name)
		if err != nil {
			return nil, err
		}
		stats, err := idx.Stats(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, stats)
	}
	return all, nil
}

// OptimizeAll optimizes every registered index and checkpoints its WAL.
func (m *Manager) OptimizeAll(ctx context.Context) error {
	var errs []error
	for _, name := range m.registry.Names() {
		idx, err := m.Index(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := idx.Optimize(ctx); err != nil {
			errs = append(errs, fmt.Errorf("optimizing %s: %w", name, err))
			continue
		}
		if err := idx.WALCheckpoint(ctx); err != nil {
			errs = append(errs, fmt.Errorf("checkpointing %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, idx := range m.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing index %s: %w", name, err))
		}
	}
	m.indexes = make(map[string]*Index)
	return errors.Join(errs...)
}
