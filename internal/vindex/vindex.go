// Package vindex implements the secondary indexes: a label index and a
// label-property index, each an ordered set of entries carrying a
// per-entry commit/expiration timestamp so a snapshot reader can filter
// entries to what was visible at its own start_ts without consulting the
// underlying vertex's delta chain.
//
// Index maintenance is synchronous with the mutating operation (the
// owning internal/txn.Transaction inserts an entry when it stages
// AddLabel/SetProperty and records the insertion so abort can unwind it;
// commit stamps the entry's CommitTS). Index entries are never removed on
// RemoveLabel/DeleteObject — only marked expired — so concurrent snapshot
// readers with an older start_ts keep seeing them.
//
// Follows a sorted-slice scan idiom (filter-then-range over an ordered
// key slice), using golang.org/x/exp/slices for the ordered
// insertion/search point lookups.
package vindex

import (
	"sort"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/graphshard/internal/gstore"
	"github.com/dreamware/graphshard/internal/hlc"
	"github.com/dreamware/graphshard/internal/value"
)

// LabelEntry is one entry in a LabelIndex.
type LabelEntry struct {
	LabelID  uint32
	Vertex   gstore.VertexID
	CommitTS hlc.Timestamp // zero until the producing transaction commits
	ExpireTS hlc.Timestamp // zero means "not expired"
	expired  bool
}

func labelEntryLess(a, b LabelEntry) bool {
	if a.LabelID != b.LabelID {
		return a.LabelID < b.LabelID
	}
	return a.Vertex < b.Vertex
}

// LabelIndex is the ordered `(LabelId, vertex*)` index.
type LabelIndex struct {
	mu      sync.RWMutex
	entries []LabelEntry
}

// NewLabelIndex returns an empty label index.
func NewLabelIndex() *LabelIndex {
	return &LabelIndex{}
}

// Insert adds an uncommitted entry for (labelID, vertex); scans skip it
// until CommitEntry stamps its CommitTS.
func (idx *LabelIndex) Insert(labelID uint32, vertex gstore.VertexID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e := LabelEntry{LabelID: labelID, Vertex: vertex}
	i, _ := slices.BinarySearchFunc(idx.entries, e, func(a, b LabelEntry) int {
		switch {
		case labelEntryLess(a, b):
			return -1
		case labelEntryLess(b, a):
			return 1
		default:
			return 0
		}
	})
	idx.entries = slices.Insert(idx.entries, i, e)
}

// CommitEntry stamps the most recently inserted, not-yet-committed entry
// for (labelID, vertex) with ts. Called by Transaction.Commit.
func (idx *LabelIndex) CommitEntry(labelID uint32, vertex gstore.VertexID, ts hlc.Timestamp) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i := range idx.entries {
		if idx.entries[i].LabelID == labelID && idx.entries[i].Vertex == vertex && idx.entries[i].CommitTS.IsZero() {
			idx.entries[i].CommitTS = ts
			return
		}
	}
}

// Expire marks the entry for (labelID, vertex) as expired as of ts,
// leaving it in place for older snapshots to still observe.
func (idx *LabelIndex) Expire(labelID uint32, vertex gstore.VertexID, ts hlc.Timestamp) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i := range idx.entries {
		if idx.entries[i].LabelID == labelID && idx.entries[i].Vertex == vertex && !idx.entries[i].expired {
			idx.entries[i].ExpireTS = ts
			idx.entries[i].expired = true
			return
		}
	}
}

// Remove deletes the entry outright; used only to unwind an abort (the
// entry was never published, so no reader could have observed it).
func (idx *LabelIndex) Remove(labelID uint32, vertex gstore.VertexID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i := range idx.entries {
		if idx.entries[i].LabelID == labelID && idx.entries[i].Vertex == vertex {
			idx.entries = append(idx.entries[:i], idx.entries[i+1:]...)
			return
		}
	}
}

// Split partitions idx's entries into two fresh indexes according to
// belongsToLHS, used by a shard split.
func (idx *LabelIndex) Split(belongsToLHS func(gstore.VertexID) bool) (lhs, rhs *LabelIndex) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	lhs, rhs = NewLabelIndex(), NewLabelIndex()
	for _, e := range idx.entries {
		target := rhs
		if belongsToLHS(e.Vertex) {
			target = lhs
		}
		target.entries = append(target.entries, e)
	}
	return lhs, rhs
}

// Scan returns the vertex ids currently visible for labelID as of
// asOf: entries whose CommitTS is non-zero and <= asOf, and whose
// ExpireTS is zero or > asOf.
func (idx *LabelIndex) Scan(labelID uint32, asOf hlc.Timestamp) []gstore.VertexID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	lo := sort.Search(len(idx.entries), func(i int) bool { return idx.entries[i].LabelID >= labelID })
	var out []gstore.VertexID
	for i := lo; i < len(idx.entries) && idx.entries[i].LabelID == labelID; i++ {
		e := idx.entries[i]
		if visibleEntry(e.CommitTS, e.expired, e.ExpireTS, asOf) {
			out = append(out, e.Vertex)
		}
	}
	return out
}

func visibleEntry(commitTS hlc.Timestamp, expired bool, expireTS hlc.Timestamp, asOf hlc.Timestamp) bool {
	if commitTS.IsZero() || commitTS.After(asOf) {
		return false
	}
	if expired && !expireTS.After(asOf) {
		return false
	}
	return true
}

// PropEntry is one entry in a LabelPropertyIndex.
type PropEntry struct {
	LabelID    uint32
	PropertyID uint32
	Value      value.Value
	Vertex     gstore.VertexID
	CommitTS   hlc.Timestamp
	ExpireTS   hlc.Timestamp
	expired    bool
}

func propEntryCompare(a, b PropEntry) int {
	if a.LabelID != b.LabelID {
		if a.LabelID < b.LabelID {
			return -1
		}
		return 1
	}
	if a.PropertyID != b.PropertyID {
		if a.PropertyID < b.PropertyID {
			return -1
		}
		return 1
	}
	if c := value.Compare(a.Value, b.Value); c != 0 {
		return c
	}
	switch {
	case a.Vertex < b.Vertex:
		return -1
	case a.Vertex > b.Vertex:
		return 1
	default:
		return 0
	}
}

// LabelPropertyIndex is the ordered `(LabelId, PropertyId, Value,
// vertex*, commit-ts)` index, supporting equality and range scans that
// exploit Value's total order.
type LabelPropertyIndex struct {
	mu      sync.RWMutex
	entries []PropEntry
}

// NewLabelPropertyIndex returns an empty label-property index.
func NewLabelPropertyIndex() *LabelPropertyIndex {
	return &LabelPropertyIndex{}
}

// Insert adds an uncommitted entry.
func (idx *LabelPropertyIndex) Insert(labelID, propID uint32, val value.Value, vertex gstore.VertexID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e := PropEntry{LabelID: labelID, PropertyID: propID, Value: val, Vertex: vertex}
	i, _ := slices.BinarySearchFunc(idx.entries, e, propEntryCompare)
	idx.entries = slices.Insert(idx.entries, i, e)
}

// CommitEntry stamps the matching uncommitted entry with ts.
func (idx *LabelPropertyIndex) CommitEntry(labelID, propID uint32, val value.Value, vertex gstore.VertexID, ts hlc.Timestamp) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i := range idx.entries {
		e := &idx.entries[i]
		if e.LabelID == labelID && e.PropertyID == propID && e.Vertex == vertex && e.Value.Equal(val) && e.CommitTS.IsZero() {
			e.CommitTS = ts
			return
		}
	}
}

// Expire marks the matching entry expired as of ts.
func (idx *LabelPropertyIndex) Expire(labelID, propID uint32, val value.Value, vertex gstore.VertexID, ts hlc.Timestamp) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i := range idx.entries {
		e := &idx.entries[i]
		if e.LabelID == labelID && e.PropertyID == propID && e.Vertex == vertex && e.Value.Equal(val) && !e.expired {
			e.ExpireTS = ts
			e.expired = true
			return
		}
	}
}

// Remove deletes an unpublished entry outright (abort unwind).
func (idx *LabelPropertyIndex) Remove(labelID, propID uint32, val value.Value, vertex gstore.VertexID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i := range idx.entries {
		e := idx.entries[i]
		if e.LabelID == labelID && e.PropertyID == propID && e.Vertex == vertex && e.Value.Equal(val) {
			idx.entries = append(idx.entries[:i], idx.entries[i+1:]...)
			return
		}
	}
}

// ScanEqual returns vertex ids with (labelID, propID) == val, visible as
// of asOf.
func (idx *LabelPropertyIndex) ScanEqual(labelID, propID uint32, val value.Value, asOf hlc.Timestamp) []gstore.VertexID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	key := PropEntry{LabelID: labelID, PropertyID: propID, Value: val}
	lo, _ := slices.BinarySearchFunc(idx.entries, key, func(a, b PropEntry) int {
		if a.LabelID != b.LabelID {
			if a.LabelID < b.LabelID {
				return -1
			}
			return 1
		}
		if a.PropertyID != b.PropertyID {
			if a.PropertyID < b.PropertyID {
				return -1
			}
			return 1
		}
		return value.Compare(a.Value, b.Value)
	})

	var out []gstore.VertexID
	for i := lo; i < len(idx.entries); i++ {
		e := idx.entries[i]
		if e.LabelID != labelID || e.PropertyID != propID || !e.Value.Equal(val) {
			break
		}
		if visibleEntry(e.CommitTS, e.expired, e.ExpireTS, asOf) {
			out = append(out, e.Vertex)
		}
	}
	return out
}

// ScanRange returns vertex ids with labelID/propID and lo <= value < hi,
// visible as of asOf. hasLo/hasHi disable the respective bound.
func (idx *LabelPropertyIndex) ScanRange(labelID, propID uint32, lo value.Value, hasLo bool, hi value.Value, hasHi bool, asOf hlc.Timestamp) []gstore.VertexID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	start := sort.Search(len(idx.entries), func(i int) bool {
		e := idx.entries[i]
		if e.LabelID != labelID {
			return e.LabelID >= labelID
		}
		if e.PropertyID != propID {
			return e.PropertyID >= propID
		}
		if !hasLo {
			return true
		}
		return value.Compare(e.Value, lo) >= 0
	})

	var out []gstore.VertexID
	for i := start; i < len(idx.entries); i++ {
		e := idx.entries[i]
		if e.LabelID != labelID || e.PropertyID != propID {
			break
		}
		if hasHi && value.Compare(e.Value, hi) >= 0 {
			break
		}
		if visibleEntry(e.CommitTS, e.expired, e.ExpireTS, asOf) {
			out = append(out, e.Vertex)
		}
	}
	return out
}

// Split partitions idx's entries into two fresh indexes according to
// belongsToLHS, used by a shard split to divide a label-property index
// by which successor now owns the entry's vertex.
func (idx *LabelPropertyIndex) Split(belongsToLHS func(gstore.VertexID) bool) (lhs, rhs *LabelPropertyIndex) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	lhs, rhs = NewLabelPropertyIndex(), NewLabelPropertyIndex()
	for _, e := range idx.entries {
		target := rhs
		if belongsToLHS(e.Vertex) {
			target = lhs
		}
		target.entries = append(target.entries, e)
	}
	return lhs, rhs
}

// Len reports the number of entries (including expired ones not yet
// garbage-collected).
func (idx *LabelPropertyIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}
