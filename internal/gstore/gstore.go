// Package gstore implements the ordered vertex and edge containers:
// vertices keyed by primary key, edges keyed by (src, dst, type, gid).
// Both containers allow concurrent lookup and insertion, and iteration
// is stable under concurrent insertion — a seen entry remains walkable
// even if the container grows mid-scan.
//
// Follows a sorted-slice range-scan idiom (filter + sort), generalized
// from lexicographic string keys to the total order of
// internal/value.Value, and kept sorted incrementally instead of sorted
// per query. A single RWMutex guarding a sorted slice is the simplest
// structure that satisfies the lock-coupled ordered-container shape this
// engine needs; a skip list or lock-coupled B-tree would work equally
// well.
package gstore

import (
	"sort"
	"sync"

	"github.com/dreamware/graphshard/internal/mvcc"
	"github.com/dreamware/graphshard/internal/value"
)

// VertexID is a shard-local, stable identifier for a vertex, independent
// of its primary key (primary keys can in principle be updated; the
// identity used by edge endpoints must not change).
type VertexID uint64

// Vertex is one container entry: a primary key, a stable id, and the
// delta-chain head carrying its MVCC visibility state.
type Vertex struct {
	ID  VertexID
	PK  value.Value
	mu  sync.RWMutex
	Head *mvcc.Head

	labels     map[uint32]struct{}
	properties map[uint32]value.Value
	outEdges   []EdgeRef
	inEdges    []EdgeRef
}

// EdgeRef is a lightweight pointer to an edge from one of its endpoint
// vertex's adjacency lists.
type EdgeRef struct {
	EdgeID EdgeID
	Other  VertexID // the endpoint that is not the list's owner
	Type   uint32
}

// NewVertex returns a freshly created, empty vertex.
func NewVertex(id VertexID, pk value.Value, head *mvcc.Head) *Vertex {
	return &Vertex{
		ID:         id,
		PK:         pk,
		Head:       head,
		labels:     make(map[uint32]struct{}),
		properties: make(map[uint32]value.Value),
	}
}

// HasLabel reports whether the vertex currently carries labelID. It takes
// the vertex's own read lock, so callers need no locking of their own.
func (v *Vertex) HasLabel(labelID uint32) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.labels[labelID]
	return ok
}

// AddLabel records labelID as present (idempotent). The caller (txn) is
// responsible for producing the matching mvcc.Delta.
func (v *Vertex) AddLabel(labelID uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.labels[labelID] = struct{}{}
}

// RemoveLabel removes labelID if present.
func (v *Vertex) RemoveLabel(labelID uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.labels, labelID)
}

// Labels returns a snapshot slice of the vertex's current label ids.
func (v *Vertex) Labels() []uint32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]uint32, 0, len(v.labels))
	for id := range v.labels {
		out = append(out, id)
	}
	return out
}

// Property returns the current value of propID, if set.
func (v *Vertex) Property(propID uint32) (value.Value, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.properties[propID]
	return val, ok
}

// Properties returns a snapshot copy of every property currently set on
// the vertex, keyed by property id.
func (v *Vertex) Properties() map[uint32]value.Value {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[uint32]value.Value, len(v.properties))
	for k, val := range v.properties {
		out[k] = val
	}
	return out
}

// SetProperty sets propID to val, returning the previous value (or false
// if unset) so the caller can build the undo delta.
func (v *Vertex) SetProperty(propID uint32, val value.Value) (old value.Value, hadOld bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	old, hadOld = v.properties[propID]
	v.properties[propID] = val
	return old, hadOld
}

// RestoreProperty is used by abort-unwind to put back a prior value (or
// remove the property entirely if hadOld is false).
func (v *Vertex) RestoreProperty(propID uint32, old value.Value, hadOld bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if hadOld {
		v.properties[propID] = old
	} else {
		delete(v.properties, propID)
	}
}

// AddOutEdge / AddInEdge / RemoveOutEdge / RemoveInEdge maintain the
// adjacency lists that back invariant I2 (reciprocal edge references).
func (v *Vertex) AddOutEdge(ref EdgeRef) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.outEdges = append(v.outEdges, ref)
}

func (v *Vertex) AddInEdge(ref EdgeRef) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inEdges = append(v.inEdges, ref)
}

func (v *Vertex) RemoveOutEdge(id EdgeID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.outEdges = removeEdgeRef(v.outEdges, id)
}

func (v *Vertex) RemoveInEdge(id EdgeID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inEdges = removeEdgeRef(v.inEdges, id)
}

func removeEdgeRef(refs []EdgeRef, id EdgeID) []EdgeRef {
	for i, r := range refs {
		if r.EdgeID == id {
			return append(refs[:i], refs[i+1:]...)
		}
	}
	return refs
}

// OutEdges / InEdges return snapshot slices of the adjacency lists.
func (v *Vertex) OutEdges() []EdgeRef {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]EdgeRef, len(v.outEdges))
	copy(out, v.outEdges)
	return out
}

func (v *Vertex) InEdges() []EdgeRef {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]EdgeRef, len(v.inEdges))
	copy(out, v.inEdges)
	return out
}

// EdgeID identifies an edge by its graph-global id (gid in spec
// terminology).
type EdgeID uint64

// EdgeKey is the composite key edges are ordered by: (src, dst, type,
// gid). Comparisons are lexicographic over the four fields in that order.
type EdgeKey struct {
	Src  VertexID
	Dst  VertexID
	Type uint32
	GID  EdgeID
}

// Less reports whether k sorts strictly before o.
func (k EdgeKey) Less(o EdgeKey) bool {
	switch {
	case k.Src != o.Src:
		return k.Src < o.Src
	case k.Dst != o.Dst:
		return k.Dst < o.Dst
	case k.Type != o.Type:
		return k.Type < o.Type
	default:
		return k.GID < o.GID
	}
}

// Edge is one edge container entry.
type Edge struct {
	Key  EdgeKey
	Head *mvcc.Head

	mu         sync.RWMutex
	properties map[uint32]value.Value
	// Remote marks a cross-shard edge: its dst endpoint is not local to
	// this shard, so Dst in Key is a foreign vertex id interpreted by the
	// remote shard address stored here instead of a local Vertex lookup.
	Remote     bool
	RemoteAddr string
}

// NewEdge returns a freshly created, empty edge.
func NewEdge(key EdgeKey, head *mvcc.Head) *Edge {
	return &Edge{Key: key, Head: head, properties: make(map[uint32]value.Value)}
}

// Property / SetProperty / RestoreProperty mirror Vertex's property API.
func (e *Edge) Property(propID uint32) (value.Value, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	val, ok := e.properties[propID]
	return val, ok
}

func (e *Edge) SetProperty(propID uint32, val value.Value) (old value.Value, hadOld bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	old, hadOld = e.properties[propID]
	e.properties[propID] = val
	return old, hadOld
}

func (e *Edge) RestoreProperty(propID uint32, old value.Value, hadOld bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if hadOld {
		e.properties[propID] = old
	} else {
		delete(e.properties, propID)
	}
}

// VertexStore is the ordered, concurrent-safe container of vertices keyed
// by primary key.
type VertexStore struct {
	mu      sync.RWMutex
	entries []*Vertex // kept sorted by PK via value.Compare
	byID    map[VertexID]*Vertex
	nextID  VertexID
}

// NewVertexStore returns an empty vertex container.
func NewVertexStore() *VertexStore {
	return &VertexStore{byID: make(map[VertexID]*Vertex), nextID: 1}
}

// NextID allocates the next stable vertex id.
func (s *VertexStore) NextID() VertexID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	return id
}

// SeedNextID raises the container's id counter to at least next, used
// when a shard split hands this container pre-existing vertices (with
// ids already allocated by the parent) so freshly created vertices never
// collide with a migrated one.
func (s *VertexStore) SeedNextID(next VertexID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next > s.nextID {
		s.nextID = next
	}
}

// PeekNextID reports the id that the next NextID call would allocate,
// without consuming it. Used by a shard split to read the parent's
// high-water mark before seeding both successors past it.
func (s *VertexStore) PeekNextID() VertexID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}

// Insert adds v to the container, keeping entries sorted by PK. Returns
// false if a vertex with the same PK already exists (the caller, txn,
// turns this into ErrVertexAlreadyInserted).
func (s *VertexStore) Insert(v *Vertex) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.entries), func(i int) bool {
		return value.Compare(s.entries[i].PK, v.PK) >= 0
	})
	if i < len(s.entries) && value.Compare(s.entries[i].PK, v.PK) == 0 {
		return false
	}
	s.entries = append(s.entries, nil)
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = v
	s.byID[v.ID] = v
	return true
}

// Remove deletes the vertex with the given primary key, if present; used
// to unwind a CreateVertex whose transaction aborted, and by garbage
// collection (Shard.CollectGarbage) once a version is unreachable.
func (s *VertexStore) Remove(pk value.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.entries), func(i int) bool {
		return value.Compare(s.entries[i].PK, pk) >= 0
	})
	if i >= len(s.entries) || value.Compare(s.entries[i].PK, pk) != 0 {
		return
	}
	delete(s.byID, s.entries[i].ID)
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
}

// FindByPK returns the vertex with the given primary key, if any.
func (s *VertexStore) FindByPK(pk value.Value) (*Vertex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.entries), func(i int) bool {
		return value.Compare(s.entries[i].PK, pk) >= 0
	})
	if i < len(s.entries) && value.Compare(s.entries[i].PK, pk) == 0 {
		return s.entries[i], true
	}
	return nil, false
}

// FindByID returns the vertex with the given stable id, if any.
func (s *VertexStore) FindByID(id VertexID) (*Vertex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.byID[id]
	return v, ok
}

// Snapshot returns a stable, ordered snapshot of every vertex currently
// in the container; iterating it never observes a torn insert.
func (s *VertexStore) Snapshot() []*Vertex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Vertex, len(s.entries))
	copy(out, s.entries)
	return out
}

// Range returns the ordered snapshot of vertices with lo <= PK < hi.
// hasLo/hasHi set to false disables that bound.
func (s *VertexStore) Range(lo value.Value, hasLo bool, hi value.Value, hasHi bool) []*Vertex {
	all := s.Snapshot()
	start := 0
	if hasLo {
		start = sort.Search(len(all), func(i int) bool {
			return value.Compare(all[i].PK, lo) >= 0
		})
	}
	end := len(all)
	if hasHi {
		end = sort.Search(len(all), func(i int) bool {
			return value.Compare(all[i].PK, hi) >= 0
		})
	}
	if start > end {
		start = end
	}
	out := make([]*Vertex, end-start)
	copy(out, all[start:end])
	return out
}

// Len reports the number of vertices currently in the container.
func (s *VertexStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// MedianPK returns an approximate median primary key, used by the shard
// facade to pick a split point in ShouldSplit.
func (s *VertexStore) MedianPK() (value.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return value.Null(), false
	}
	return s.entries[len(s.entries)/2].PK, true
}

// EdgeStore is the ordered, concurrent-safe container of edges keyed by
// (src, dst, type, gid).
type EdgeStore struct {
	mu      sync.RWMutex
	entries []*Edge // kept sorted by EdgeKey.Less
	byID    map[EdgeID]*Edge
	nextGID EdgeID
}

// NewEdgeStore returns an empty edge container.
func NewEdgeStore() *EdgeStore {
	return &EdgeStore{byID: make(map[EdgeID]*Edge), nextGID: 1}
}

// NextGID allocates the next graph-global edge id.
func (s *EdgeStore) NextGID() EdgeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextGID
	s.nextGID++
	return id
}

// SeedNextGID raises the container's id counter to at least next; see
// VertexStore.SeedNextID.
func (s *EdgeStore) SeedNextGID(next EdgeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next > s.nextGID {
		s.nextGID = next
	}
}

// PeekNextGID reports the gid that the next NextGID call would allocate,
// without consuming it; see VertexStore.PeekNextID.
func (s *EdgeStore) PeekNextGID() EdgeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextGID
}

// Insert adds e to the container, keeping entries sorted by EdgeKey.
func (s *EdgeStore) Insert(e *Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.entries), func(i int) bool {
		return !s.entries[i].Key.Less(e.Key)
	})
	s.entries = append(s.entries, nil)
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
	s.byID[e.Key.GID] = e
}

// FindByID returns the edge with the given graph-global id, if any.
func (s *EdgeStore) FindByID(id EdgeID) (*Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	return e, ok
}

// Remove deletes the edge with the given key, if present; used by garbage
// collection once its delta chain is confirmed unreachable by any live
// snapshot. An aborted CreateEdge only unlinks the adjacency refs and
// leaves the edge here until then.
func (s *EdgeStore) Remove(key EdgeKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.entries), func(i int) bool {
		return !s.entries[i].Key.Less(key)
	})
	if i >= len(s.entries) || s.entries[i].Key != key {
		return
	}
	delete(s.byID, s.entries[i].Key.GID)
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
}

// Snapshot returns a stable, ordered snapshot of every edge currently in
// the container.
func (s *EdgeStore) Snapshot() []*Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Edge, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len reports the number of edges currently in the container.
func (s *EdgeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
