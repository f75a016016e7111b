// Package shardmap implements the process-global shard map and router:
// for each primary label, an ordered set of contiguous
// primary-key ranges, each pointing at the shard currently serving it.
// GetShardForKey resolves a key to a shard by lower-bound lookup;
// SplitShard atomically replaces one range entry with two, guarded by a
// compare-and-swap on the entry's version so a stale caller's split
// request cannot clobber one that already landed.
//
// A single RWMutex guards the map, with returned copies rather than live
// pointers, and guard-clause validation. A flat registry keyed by shard
// id assigned via consistent hashing is generalized here to a key space
// of an ordered primary-key range per label, so the lookup
// becomes a lower-bound binary search (the same sorted-slice idiom
// internal/gstore uses) instead of a hash computation.
package shardmap

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/dreamware/graphshard/internal/engineerr"
	"github.com/dreamware/graphshard/internal/hlc"
	"github.com/dreamware/graphshard/internal/value"
)

// ShardAddress is the routable identity of a shard: the uuid identifies
// the shard itself, independent of which storage node currently hosts
// it, alongside the (ip, port) of that node.
type ShardAddress struct {
	UUID uuid.UUID
	IP   string
	Port int
}

// entry is one contiguous primary-key range assignment within a label's
// ordered map, carrying the version it was last installed or split at so
// SplitShard's CAS has something to compare against.
type entry struct {
	minPK    value.Value
	hasMaxPK bool
	maxPK    value.Value
	addr     ShardAddress
	version  hlc.Timestamp
}

func (e entry) contains(key value.Value) bool {
	if value.Compare(key, e.minPK) < 0 {
		return false
	}
	if e.hasMaxPK && value.Compare(key, e.maxPK) >= 0 {
		return false
	}
	return true
}

// ShardMap is the process-global routing table. It is safe for concurrent
// use by many readers and writers; all returned values are copies, so a
// caller never observes a torn update.
type ShardMap struct {
	mu   sync.RWMutex
	byLabel map[string][]entry // each slice kept sorted by entry.minPK
}

// New returns an empty shard map.
func New() *ShardMap {
	return &ShardMap{byLabel: make(map[string][]entry)}
}

// AssignRange installs a brand-new range assignment for label, used by the
// coordinator's Registry to record a shard a node reports as initialized. It
// is an error to assign a range that overlaps one already present.
func (m *ShardMap) AssignRange(label string, minPK value.Value, hasMaxPK bool, maxPK value.Value, addr ShardAddress, version hlc.Timestamp) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.byLabel[label]
	i := sort.Search(len(entries), func(i int) bool {
		return value.Compare(entries[i].minPK, minPK) >= 0
	})
	if i > 0 && overlaps(entries[i-1], minPK, hasMaxPK, maxPK) {
		return fmt.Errorf("%w: range overlaps existing shard %s", engineerr.ErrOutOfRange, entries[i-1].addr.UUID)
	}
	if i < len(entries) && overlaps(entries[i], minPK, hasMaxPK, maxPK) {
		return fmt.Errorf("%w: range overlaps existing shard %s", engineerr.ErrOutOfRange, entries[i].addr.UUID)
	}

	e := entry{minPK: minPK, hasMaxPK: hasMaxPK, maxPK: maxPK, addr: addr, version: version}
	entries = append(entries, entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	m.byLabel[label] = entries
	return nil
}

func overlaps(e entry, minPK value.Value, hasMaxPK bool, maxPK value.Value) bool {
	eHasMax, eMax := e.hasMaxPK, e.maxPK
	if hasMaxPK && value.Compare(maxPK, e.minPK) <= 0 {
		return false
	}
	if eHasMax && value.Compare(minPK, eMax) >= 0 {
		return false
	}
	return true
}

// GetShardForKey resolves key under label to the shard address currently
// serving it, via lower-bound lookup on label's ordered range list.
func (m *ShardMap) GetShardForKey(label string, key value.Value) (ShardAddress, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.byLabel[label]
	i := sort.Search(len(entries), func(i int) bool {
		return value.Compare(entries[i].minPK, key) > 0
	})
	if i == 0 {
		return ShardAddress{}, false
	}
	e := entries[i-1]
	if !e.contains(key) {
		return ShardAddress{}, false
	}
	return e.addr, true
}

// GetShardsForRange returns every shard address whose range intersects
// `[lo, hi)` under label, in key order.
func (m *ShardMap) GetShardsForRange(label string, lo value.Value, hasLo bool, hi value.Value, hasHi bool) []ShardAddress {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.byLabel[label]
	var out []ShardAddress
	for _, e := range entries {
		if hasHi && value.Compare(e.minPK, hi) >= 0 {
			break
		}
		eUpperUnbounded := !e.hasMaxPK
		if hasLo && !eUpperUnbounded && value.Compare(e.maxPK, lo) <= 0 {
			continue
		}
		out = append(out, e.addr)
	}
	return out
}

// SplitShard atomically replaces the range entry for label containing
// splitKey with two successor entries, iff the entry's current version
// still equals prevVersion. Returns ErrStaleShardMap if the entry has
// moved on since prevVersion was read, or if no entry for splitKey
// exists at all under label.
func (m *ShardMap) SplitShard(label string, prevVersion hlc.Timestamp, splitKey value.Value, lhsAddr, rhsAddr ShardAddress, newLHSVer, newRHSVer hlc.Timestamp) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.byLabel[label]
	i := sort.Search(len(entries), func(i int) bool {
		return value.Compare(entries[i].minPK, splitKey) > 0
	})
	if i == 0 {
		return fmt.Errorf("%w: no shard owns key %v under label %q", engineerr.ErrStaleShardMap, splitKey, label)
	}
	idx := i - 1
	old := entries[idx]
	if !old.contains(splitKey) {
		return fmt.Errorf("%w: no shard owns key %v under label %q", engineerr.ErrStaleShardMap, splitKey, label)
	}
	if !old.version.Equal(prevVersion) {
		return fmt.Errorf("%w: shard %s version %s != expected %s", engineerr.ErrStaleShardMap, old.addr.UUID, old.version, prevVersion)
	}

	lhs := entry{minPK: old.minPK, hasMaxPK: true, maxPK: splitKey, addr: lhsAddr, version: newLHSVer}
	rhs := entry{minPK: splitKey, hasMaxPK: old.hasMaxPK, maxPK: old.maxPK, addr: rhsAddr, version: newRHSVer}

	next := make([]entry, 0, len(entries)+1)
	next = append(next, entries[:idx]...)
	next = append(next, lhs, rhs)
	next = append(next, entries[idx+1:]...)
	m.byLabel[label] = next
	return nil
}

// Len reports the number of range entries currently tracked for label.
func (m *ShardMap) Len(label string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byLabel[label])
}

// RangeInfo is a read-only snapshot of one range entry, returned to
// callers (the coordinator's split planning, admin endpoints) that need
// to inspect the map without reaching into its internals.
type RangeInfo struct {
	MinPK    value.Value
	HasMaxPK bool
	MaxPK    value.Value
	Addr     ShardAddress
	Version  hlc.Timestamp
}

// Entries returns a snapshot of every range entry currently assigned
// under label, in key order.
func (m *ShardMap) Entries(label string) []RangeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.byLabel[label]
	out := make([]RangeInfo, len(entries))
	for i, e := range entries {
		out[i] = RangeInfo{MinPK: e.minPK, HasMaxPK: e.hasMaxPK, MaxPK: e.maxPK, Addr: e.addr, Version: e.version}
	}
	return out
}

// FindByShardID returns the range entry currently addressed by shardID
// under label, used by the coordinator to recover a shard's prevVersion
// before issuing a split instruction for it.
func (m *ShardMap) FindByShardID(label string, shardID uuid.UUID) (RangeInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.byLabel[label] {
		if e.addr.UUID == shardID {
			return RangeInfo{MinPK: e.minPK, HasMaxPK: e.hasMaxPK, MaxPK: e.maxPK, Addr: e.addr, Version: e.version}, true
		}
	}
	return RangeInfo{}, false
}

// Labels returns every label currently tracked by the map.
func (m *ShardMap) Labels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.byLabel))
	for l := range m.byLabel {
		out = append(out, l)
	}
	return out
}
