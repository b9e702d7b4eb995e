// Package registry maps names to compact integer ids.
//
// A Registry assigns ids in increasing, gap-free order starting at 0 and
// never reuses or reassigns them. Channels, enumerations and wire types are
// all catalogued this way; the registries are owned by a telemetry
// environment and passed to whatever needs them.
package registry

import (
	"strconv"
	"sync"

	"github.com/arloliu/telwire/internal/hash"
)

// Registry is a bidirectional name<->id table. It is safe for concurrent use.
type Registry[T any] struct {
	mu       sync.RWMutex
	typeName string
	items    []T
	names    []string
	ids      map[string]int
}

// New creates an empty registry. typeName labels the kind of item it holds.
func New[T any](typeName string) *Registry[T] {
	return &Registry[T]{
		typeName: typeName,
		ids:      make(map[string]int),
	}
}

// TypeName returns the label given to New.
func (r *Registry[T]) TypeName() string {
	return r.typeName
}

// Add registers item under name and returns its id.
// It returns (-1, false) and leaves the registry unchanged if name is taken.
func (r *Registry[T]) Add(name string, item T) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ids[name]; exists {
		return -1, false
	}

	id := len(r.items)
	r.items = append(r.items, item)
	r.names = append(r.names, name)
	r.ids[name] = id

	return id, true
}

// ID returns the id registered for name.
func (r *Registry[T]) ID(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.ids[name]
	if !ok {
		return -1, false
	}

	return id, true
}

// Item returns the item registered under id.
func (r *Registry[T]) Item(id int) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id < 0 || id >= len(r.items) {
		var zero T
		return zero, false
	}

	return r.items[id], true
}

// Lookup returns the item registered under name.
func (r *Registry[T]) Lookup(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.ids[name]
	if !ok {
		var zero T
		return zero, false
	}

	return r.items[id], true
}

// Name returns the name registered under id.
func (r *Registry[T]) Name(id int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id < 0 || id >= len(r.names) {
		return "", false
	}

	return r.names[id], true
}

// Len returns the number of registered items. It is also the next id.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.items)
}

// Names returns all names in id order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.names))
	copy(out, r.names)

	return out
}

// Items returns all items in id order.
func (r *Registry[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, len(r.items))
	copy(out, r.items)

	return out
}

// Digest fingerprints the registry's (id, name) assignments.
//
// Two registries with equal digests assign the same ids to the same names,
// so frames produced against one decode correctly against the other.
func (r *Registry[T]) Digest() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parts := make([]string, 0, 2*len(r.names)+1)
	parts = append(parts, r.typeName)
	for id, name := range r.names {
		parts = append(parts, strconv.Itoa(id), name)
	}

	return hash.Digest(parts...)
}
