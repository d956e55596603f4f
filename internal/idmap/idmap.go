// Package idmap keeps the correspondence between source posts and the
// cross-posts created from them on other networks.
package idmap

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/blacktop/xrelay/internal/logutil"
	"github.com/blacktop/xrelay/internal/xpost"
)

// Storage persists full snapshots of the map.
type Storage interface {
	// ReadAll returns every stored entry. A store that was never written
	// returns no entries and no error.
	ReadAll(ctx context.Context) ([]Entry, error)
	// WriteAll replaces the stored snapshot.
	WriteAll(ctx context.Context, entries []Entry) error
	Close() error
}

// Map is the process-wide identifier map. It is safe for concurrent use.
type Map struct {
	store Storage

	mu      sync.RWMutex
	entries map[Key]string
	origins map[xpost.PostRef]Key
	dirty   bool

	persistMu sync.Mutex
}

// New returns an empty map backed by store. A nil store keeps the map in
// memory only.
func New(store Storage) *Map {
	return &Map{
		store:   store,
		entries: make(map[Key]string),
		origins: make(map[xpost.PostRef]Key),
	}
}

// Load replaces the in-memory contents with the stored snapshot. Missing or
// unreadable storage leaves the map empty; a cold map is a valid start.
func (m *Map) Load(ctx context.Context) {
	if m.store == nil {
		return
	}
	entries, err := m.store.ReadAll(ctx)
	if err != nil {
		logutil.Warnf("identifier map unavailable, starting empty: %v", err)
		entries = nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[Key]string, len(entries))
	m.origins = make(map[xpost.PostRef]Key, len(entries))
	for _, e := range entries {
		m.putLocked(e.Key, e.DestinationID)
	}
	m.dirty = false
	logutil.Debugf("identifier map loaded: entries=%d", len(m.entries))
}

// Put records that source was relayed to destination as id, replacing any
// earlier mapping for the same pair.
func (m *Map) Put(source xpost.PostRef, destination xpost.Network, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(Key{Source: source, Destination: destination}, id)
	m.dirty = true
}

func (m *Map) putLocked(key Key, id string) {
	if old, ok := m.entries[key]; ok {
		delete(m.origins, xpost.PostRef{Network: key.Destination, ID: old})
	}
	m.entries[key] = id
	m.origins[xpost.PostRef{Network: key.Destination, ID: id}] = key
}

// Get returns the destination id for source on destination, if any.
func (m *Map) Get(source xpost.PostRef, destination xpost.Network) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.entries[Key{Source: source, Destination: destination}]
	return id, ok
}

// Origin reports which source post a destination post was relayed from.
func (m *Map) Origin(destination xpost.PostRef) (xpost.PostRef, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.origins[destination]
	return key.Source, ok
}

// Destinations returns every cross-post recorded for source.
func (m *Map) Destinations(source xpost.PostRef) map[xpost.Network]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[xpost.Network]string)
	for _, n := range xpost.Networks {
		if id, ok := m.entries[Key{Source: source, Destination: n}]; ok {
			out[n] = id
		}
	}
	return out
}

// Len returns the number of mappings.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Dirty reports whether the map has changes not yet persisted.
func (m *Map) Dirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirty
}

// Entries returns a snapshot ordered by encoded key.
func (m *Map) Entries() []Entry {
	m.mu.RLock()
	out := make([]Entry, 0, len(m.entries))
	for k, v := range m.entries {
		out = append(out, Entry{Key: k, DestinationID: v})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Persist writes the full map to storage when it has unsaved changes.
// Calls are serialized; each one overwrites the previous snapshot.
func (m *Map) Persist(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	if !m.Dirty() {
		return nil
	}

	m.mu.Lock()
	m.dirty = false
	m.mu.Unlock()

	entries := m.Entries()
	if err := m.store.WriteAll(ctx, entries); err != nil {
		m.mu.Lock()
		m.dirty = true
		m.mu.Unlock()
		return fmt.Errorf("persist identifier map: %w", err)
	}
	logutil.Debugf("identifier map persisted: entries=%d", len(entries))
	return nil
}

// Close releases the underlying storage.
func (m *Map) Close() error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}
