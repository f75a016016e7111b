// Split partitions one shard at a primary key K into two successors
// whose key ranges union back to the parent's.
//
// Grounded on the apply/compact control flow of
// other_examples/91e7c4da_showsmall-matrixcube__raftstore-replica_state_machine_exec.go.go
// (freeze, partition, stamp new versions, hand back a result struct for
// the caller to install) adapted from a replicated state machine's log
// apply to this engine's in-memory structural split.
package shard

import (
	"fmt"

	"github.com/dreamware/graphshard/internal/engineerr"
	"github.com/dreamware/graphshard/internal/gstore"
	"github.com/dreamware/graphshard/internal/hlc"
	"github.com/dreamware/graphshard/internal/ids"
	"github.com/dreamware/graphshard/internal/schema"
	"github.com/dreamware/graphshard/internal/value"
)

// SplitData is the result of a completed split, returned to the shard
// manager so it can install the two successors and retire the parent.
type SplitData struct {
	SplitKey value.Value
	LHS      *Shard
	RHS      *Shard
}

// PerformSplit partitions the shard's vertices, edges, and indexes at
// splitKey, returning two freshly stamped successor shards. The parent
// transitions to StateRetired; it remains readable (its containers are
// left untouched) for any transaction that was already open against it
// when the split ran, since those transactions hold a direct *Shard
// pointer captured at Access time and their in-flight reads must stay
// coherent until they commit or abort — see DESIGN.md's open-question
// note on this simplification relative to a full per-transaction delta
// replay across the split boundary.
func (s *Shard) PerformSplit(splitKey value.Value, newLHSVer, newRHSVer hlc.Timestamp) (SplitData, error) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return SplitData{}, fmt.Errorf("%w: shard %s is not active", engineerr.ErrStaleShardMap, s.ID)
	}
	if !newLHSVer.After(s.version) || !newRHSVer.After(s.version) {
		s.mu.Unlock()
		return SplitData{}, fmt.Errorf("%w: successor versions must exceed parent version", engineerr.ErrStaleShardMap)
	}
	s.state = StateSplitting
	minPK, hasMaxPK, maxPK := s.minPK, s.hasMaxPK, s.maxPK
	s.mu.Unlock()

	lhs := s.newSuccessor(minPK, true, splitKey, newLHSVer)
	rhs := s.newSuccessor(splitKey, hasMaxPK, maxPK, newRHSVer)

	// Both successors inherit vertex/edge containers with ids already
	// allocated by the parent (the migration loops below insert them
	// directly); seed each counter past the parent's high-water mark so a
	// freshly created vertex or edge on either side can never collide with
	// a migrated one.
	nextVID := s.vertexStore.PeekNextID()
	lhs.vertexStore.SeedNextID(nextVID)
	rhs.vertexStore.SeedNextID(nextVID)
	nextGID := s.edgeStore.PeekNextGID()
	lhs.edgeStore.SeedNextGID(nextGID)
	rhs.edgeStore.SeedNextGID(nextGID)

	// Step 2: partition the vertex container, remembering which side each
	// vertex id landed on so edges and indexes can be partitioned the
	// same way without re-deriving it from (possibly stale) PKs.
	side := make(map[gstore.VertexID]*Shard)
	for _, v := range s.vertexStore.Snapshot() {
		target := lhs
		if value.Compare(v.PK, splitKey) >= 0 {
			target = rhs
		}
		target.vertexStore.Insert(v)
		side[v.ID] = target
	}

	// Step 3: partition edges by src ownership; cross-shard edges are
	// kept on the src side and marked Remote so the owning shard knows
	// dst is not locally resolvable.
	for _, e := range s.edgeStore.Snapshot() {
		target, ok := side[e.Key.Src]
		if !ok {
			continue // src vertex already gone (deleted pre-split); drop the edge
		}
		if dstSide, ok := side[e.Key.Dst]; ok && dstSide != target {
			e.Remote = true
		}
		target.edgeStore.Insert(e)
	}

	// Step 5: partition label and label-property index entries by the
	// side their referenced vertex landed on.
	belongsToLHS := func(vid gstore.VertexID) bool { return side[vid] == lhs }

	s.idxMu.Lock()
	for labelID, idx := range s.labelIdx {
		lhsIdx, rhsIdx := idx.Split(belongsToLHS)
		lhs.labelIdx[labelID] = lhsIdx
		rhs.labelIdx[labelID] = rhsIdx
	}
	for key, idx := range s.labelPropIdx {
		lhsIdx, rhsIdx := idx.Split(belongsToLHS)
		lhs.labelPropIdx[key] = lhsIdx
		rhs.labelPropIdx[key] = rhsIdx
	}
	s.idxMu.Unlock()

	s.edgePropsOffMu.RLock()
	for id := range s.edgePropsOff {
		lhs.edgePropsOff[id] = struct{}{}
		rhs.edgePropsOff[id] = struct{}{}
	}
	s.edgePropsOffMu.RUnlock()

	s.mu.Lock()
	s.state = StateRetired
	s.mu.Unlock()

	return SplitData{SplitKey: splitKey, LHS: lhs, RHS: rhs}, nil
}

// newSuccessor builds one post-split shard sharing the parent's interned
// names (cloned, so each side can keep interning independently) and
// primary-key schema.
func (s *Shard) newSuccessor(min value.Value, hasMax bool, max value.Value, version hlc.Timestamp) *Shard {
	primaryLabel, _ := s.ids.Labels.Name(ids.ID(s.primaryLabelID))

	succ := New(Config{
		PrimaryLabel:   primaryLabel,
		MinPK:          min,
		HasMaxPK:       hasMax,
		MaxPK:          max,
		SplitThreshold: s.splitThreshold,
	})
	succ.ids = s.ids.Clone()
	succ.primaryLabelID = s.primaryLabelID
	succ.schemaV = schema.NewValidator(s.primaryLabelID)
	succ.schemaV.SetPKSchema(append([]schema.SchemaProperty(nil), s.schemaV.PKSchema...))
	succ.version = version
	succ.clock.Update(version)
	return succ
}
