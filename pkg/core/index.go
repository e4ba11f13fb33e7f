package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/owasp/nest/pkg/search"
)

// ErrUnknownIndex is returned when looking up an index nobody registered.
var ErrUnknownIndex = errors.New("unknown index")

// SortOption is one entry of an index's sort selector.
type SortOption struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// IndexDefinition describes a searchable listing.
type IndexDefinition struct {
	Name          string       `json:"name"`
	Title         string       `json:"title"`
	PageTitle     string       `json:"page_title"`
	Placeholder   string       `json:"placeholder"`
	DefaultSortBy string       `json:"default_sort_by"`
	DefaultOrder  search.Order `json:"default_order"`
	SortOptions   []SortOption `json:"sort_options,omitempty"`
	HitsPerPage   int          `json:"hits_per_page"`
	// NumericAttributes are compared as numbers in query filters and sorts.
	NumericAttributes []string `json:"numeric_attributes,omitempty"`
}

// Options returns the controller options for this index.
func (d IndexDefinition) Options() search.Options {
	return search.Options{
		IndexName:     d.Name,
		PageTitle:     d.PageTitle,
		DefaultSortBy: d.DefaultSortBy,
		DefaultOrder:  d.DefaultOrder,
		HitsPerPage:   d.HitsPerPage,
	}
}

// Sortable reports whether key is one of the index's sort options.
// DefaultSort is always sortable.
func (d IndexDefinition) Sortable(key string) bool {
	if key == "" || key == search.DefaultSort {
		return true
	}
	for _, opt := range d.SortOptions {
		if opt.Key == key {
			return true
		}
	}
	return false
}

// Numeric reports whether attr holds numbers.
func (d IndexDefinition) Numeric(attr string) bool {
	for _, a := range d.NumericAttributes {
		if a == attr {
			return true
		}
	}
	return false
}

// Override returns a copy of d with the non-zero arguments applied.
func (d IndexDefinition) Override(pageTitle, sortBy, order string, hitsPerPage int) IndexDefinition {
	if pageTitle != "" {
		d.PageTitle = pageTitle
	}
	if sortBy != "" && d.Sortable(sortBy) {
		d.DefaultSortBy = sortBy
	}
	if o, err := search.ParseOrder(order); err == nil {
		d.DefaultOrder = o
	}
	if hitsPerPage > 0 {
		d.HitsPerPage = hitsPerPage
	}
	return d
}

var globalRegistry = NewRegistry()

// Registry holds the index definitions known to the process.
type Registry struct {
	mu      sync.RWMutex
	indexes map[string]IndexDefinition
}

func NewRegistry() *Registry {
	return &Registry{indexes: make(map[string]IndexDefinition)}
}

// RegisterIndex adds def to the global registry. It is meant to be called
// from init functions and panics on duplicates.
func RegisterIndex(def IndexDefinition) {
	if err := globalRegistry.Register(def); err != nil {
		panic(err)
	}
}

// GetGlobalRegistry returns a copy of the global registry.
func GetGlobalRegistry() *Registry {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	r := NewRegistry()
	for name, def := range globalRegistry.indexes {
		r.indexes[name] = def
	}
	return r
}

func (r *Registry) Register(def IndexDefinition) error {
	if def.Name == "" {
		return errors.New("index definition without name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.indexes[def.Name]; exists {
		return fmt.Errorf("index %s already registered", def.Name)
	}
	r.indexes[def.Name] = def
	return nil
}

// Replace stores def, overwriting any definition with the same name.
func (r *Registry) Replace(def IndexDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexes[def.Name] = def
}

func (r *Registry) Get(name string) (IndexDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.indexes[name]
	if !ok {
		return IndexDefinition{}, fmt.Errorf("%w: %s", ErrUnknownIndex, name)
	}
	return def, nil
}

// Names returns the registered index names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.indexes))
	for name := range r.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the definitions sorted by name.
func (r *Registry) All() []IndexDefinition {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]IndexDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.indexes[name])
	}
	return defs
}
