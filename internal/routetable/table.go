package routetable

import (
	"sort"
	"sync"
)

// Table maps route keys to entries discovered from backends. Every entry is
// owned by exactly one backend and only that backend's replacement can change
// or remove it.
type Table struct {
	mu      sync.RWMutex
	entries map[Key]Entry
	owned   map[string]map[Key]struct{}
}

func New() *Table {
	return &Table{
		entries: make(map[Key]Entry),
		owned:   make(map[string]map[Key]struct{}),
	}
}

func (t *Table) Lookup(method, path string) (Entry, bool) {
	k := NewKey(method, path)
	t.mu.RLock()
	e, ok := t.entries[k]
	t.mu.RUnlock()
	return e, ok
}

// ReplaceRoutesForBackend swaps the whole key set owned by backend for
// entries in one step. Readers see either the old set or the new one.
//
// A key already owned by a different backend is not taken over; such keys
// are returned so the caller can report the collision.
func (t *Table) ReplaceRoutesForBackend(backend string, entries []Entry) []Key {
	t.mu.Lock()
	defer t.mu.Unlock()

	for k := range t.owned[backend] {
		delete(t.entries, k)
	}

	var conflicts []Key
	next := make(map[Key]struct{}, len(entries))
	for _, e := range entries {
		e.Key = NewKey(e.Key.Method, e.Key.Path)
		e.Backend = backend
		if cur, ok := t.entries[e.Key]; ok && cur.Backend != backend {
			conflicts = append(conflicts, e.Key)
			continue
		}
		t.entries[e.Key] = e
		next[e.Key] = struct{}{}
	}
	t.owned[backend] = next
	return conflicts
}

// Len is the number of routes across all backends.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// CountFor is the number of routes owned by backend.
func (t *Table) CountFor(backend string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.owned[backend])
}

// Snapshot copies all entries ordered by backend, path and method.
func (t *Table) Snapshot() []Entry {
	t.mu.RLock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Backend != b.Backend {
			return a.Backend < b.Backend
		}
		if a.Key.Path != b.Key.Path {
			return a.Key.Path < b.Key.Path
		}
		return a.Key.Method < b.Key.Method
	})
	return out
}
