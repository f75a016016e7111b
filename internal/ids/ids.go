// Package ids implements the name/id mapper: it interns label, property,
// and edge-type names into compact integer identifiers scoped to one
// shard, so the hot delta-chain and index paths compare uint32s instead
// of strings.
//
// A Mapper is shared across the shard and safe for concurrent use:
// Lookup/Name take its read lock, and Intern takes its write lock itself
// (re-checking the map under it), so callers need no synchronization of
// their own.
//
// Follows the common pattern of a single RWMutex guarding a name->id map
// with value-type snapshotting for reads; the ids here are simple
// monotonically increasing counters rather than UUIDs because the domain
// calls for a stable, compact integer space.
package ids

import (
	"sync"
)

// ID is a compact identifier for a label, property, or edge-type name.
// Zero is never issued by Intern; reserve it as "unset" for callers that
// embed an ID in a zero-valued struct.
type ID uint32

// Kind distinguishes the three namespaces a Mapper interns independently:
// a label, a property, and an edge-type name may coincidentally collide as
// strings but must never collide as IDs.
type Kind uint8

const (
	KindLabel Kind = iota
	KindProperty
	KindEdgeType
)

// Mapper interns names to IDs within one namespace Kind. A shard owns
// three Mappers, one per Kind.
type Mapper struct {
	mu       sync.RWMutex
	toID     map[string]ID
	toName   []string // index 0 unused; toName[id] is the name for id
	nextID   ID
	kind     Kind
}

// NewMapper returns an empty mapper for the given namespace.
func NewMapper(kind Kind) *Mapper {
	return &Mapper{
		toID:   make(map[string]ID),
		toName: []string{""}, // index 0 reserved
		nextID: 1,
		kind:   kind,
	}
}

// Kind returns the namespace this mapper interns.
func (m *Mapper) Kind() Kind { return m.kind }

// Lookup returns the ID already assigned to name, if any.
func (m *Mapper) Lookup(name string) (ID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.toID[name]
	return id, ok
}

// Intern returns the ID for name, assigning a new one if name has not been
// seen before. Safe to call concurrently: racing calls for the same new
// name all receive the same ID.
func (m *Mapper) Intern(name string) ID {
	m.mu.RLock()
	if id, ok := m.toID[name]; ok {
		m.mu.RUnlock()
		return id
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.toID[name]; ok {
		return id
	}
	id := m.nextID
	m.nextID++
	m.toID[name] = id
	m.toName = append(m.toName, name)
	return id
}

// Name returns the name interned for id, if any.
func (m *Mapper) Name(id ID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if int(id) <= 0 || int(id) >= len(m.toName) {
		return "", false
	}
	return m.toName[id], true
}

// Len reports the number of distinct names interned.
func (m *Mapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.toID)
}

// Names returns a snapshot slice of the names interned so far, indexed by
// nothing in particular; used by schema export/debug tooling.
func (m *Mapper) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.toID))
	for name := range m.toID {
		out = append(out, name)
	}
	return out
}

// Clone returns an independent copy of m, carrying the same name<->id
// assignments but with its own lock. Used by a shard split: both
// successors must agree on every id already assigned pre-split, yet
// continue interning independently afterward without contending on the
// parent's lock.
func (m *Mapper) Clone() *Mapper {
	m.mu.RLock()
	defer m.mu.RUnlock()
	toID := make(map[string]ID, len(m.toID))
	for k, v := range m.toID {
		toID[k] = v
	}
	toName := make([]string, len(m.toName))
	copy(toName, m.toName)
	return &Mapper{toID: toID, toName: toName, nextID: m.nextID, kind: m.kind}
}

// Set bundles the three per-shard namespaces together; a Shard embeds one
// Set rather than three loose Mapper fields.
type Set struct {
	Labels     *Mapper
	Properties *Mapper
	EdgeTypes  *Mapper
}

// NewSet returns a fresh, empty Set of the three namespaces.
func NewSet() *Set {
	return &Set{
		Labels:     NewMapper(KindLabel),
		Properties: NewMapper(KindProperty),
		EdgeTypes:  NewMapper(KindEdgeType),
	}
}

// Clone returns an independent copy of every namespace in s.
func (s *Set) Clone() *Set {
	return &Set{
		Labels:     s.Labels.Clone(),
		Properties: s.Properties.Clone(),
		EdgeTypes:  s.EdgeTypes.Clone(),
	}
}
