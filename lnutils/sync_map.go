package lnutils

import "sync"

// SyncMap is a typed wrapper around sync.Map. Callers never need a type
// assertion and the declaration documents what the map holds.
type SyncMap[K comparable, V any] struct {
	sync.Map
}

// Store puts an item in the map.
func (m *SyncMap[K, V]) Store(key K, value V) {
	m.Map.Store(key, value)
}

// Load queries an item from the map using the specified key. If the item
// cannot be found, the zero value and false will be returned.
func (m *SyncMap[K, V]) Load(key K) (V, bool) {
	result, ok := m.Map.Load(key)
	if !ok {
		return *new(V), false // nolint: gocritic
	}

	item, ok := result.(V)

	return item, ok
}

// LoadOrStore returns the existing value for the key if present. Otherwise, it
// stores and returns the given value. The loaded result is true if the value
// was loaded, false if stored.
func (m *SyncMap[K, V]) LoadOrStore(key K, value V) (V, bool) {
	result, loaded := m.Map.LoadOrStore(key, value)
	item, ok := result.(V)
	if !ok {
		return *new(V), false
	}

	return item, loaded
}

// Delete removes an item from the map specified by the key.
func (m *SyncMap[K, V]) Delete(key K) {
	m.Map.Delete(key)
}

// Range iterates the map and applies the `visitor` function. If the `visitor`
// returns false, the iteration will be stopped.
func (m *SyncMap[K, V]) Range(visitor func(K, V) bool) {
	m.Map.Range(func(k any, v any) bool {
		return visitor(k.(K), v.(V))
	})
}

// Len returns the number of items in the map.
func (m *SyncMap[K, V]) Len() int {
	var count int
	m.Range(func(_ K, _ V) bool {
		count++

		return true
	})

	return count
}
