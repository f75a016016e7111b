// Package shard implements the fundamental storage unit: a shard owns a
// contiguous primary-key range for one primary label, along with every
// piece of state that range needs — name/id mappers, vertex/edge
// containers, secondary indexes, the schema validator, the HLC, and the
// set of transactions currently open against it.
//
// The struct shape, Stats, State machine, and filter-then-sort range-scan
// idiom are generalized from a flat key-value partition addressed by FNV
// hash to a primary-key range addressed by internal/value's total order
// — the sharding key here is a range, not a hash bucket, so OwnsKey becomes
// IsVertexBelongToShard and the FNV hash is dropped entirely (see
// DESIGN.md).
package shard

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dreamware/graphshard/internal/engineerr"
	"github.com/dreamware/graphshard/internal/gstore"
	"github.com/dreamware/graphshard/internal/hlc"
	"github.com/dreamware/graphshard/internal/ids"
	"github.com/dreamware/graphshard/internal/logging"
	"github.com/dreamware/graphshard/internal/mvcc"
	"github.com/dreamware/graphshard/internal/schema"
	"github.com/dreamware/graphshard/internal/txn"
	"github.com/dreamware/graphshard/internal/value"
	"github.com/dreamware/graphshard/internal/vindex"
)

// State is a shard's operational state: an active/draining/splitting
// lifecycle that drops any notion of replica migration (out of scope; see
// SPEC_FULL.md Non-goals) in favor of Splitting, the state a shard
// occupies for the duration of PerformSplit's structural freeze.
type State string

const (
	StateActive    State = "active"
	StateSplitting State = "splitting"
	StateRetired   State = "retired" // replaced by two successors after a split
)

// Stats holds cumulative, atomically updated operation counters used for
// admin reporting.
type Stats struct {
	CommittedTxns  uint64
	DeletedVertices uint64
	DeletedEdges    uint64
}

// Config bounds the declared primary-key range and split threshold of a
// new shard.
type Config struct {
	PrimaryLabel    string
	MinPK           value.Value
	HasMaxPK        bool
	MaxPK           value.Value
	SplitThreshold  int // ShouldSplit fires once vertex count exceeds this
}

// Shard is one storage partition: a contiguous `[MinPK, MaxPK)` range for
// PrimaryLabel, plus every piece of state a shard needs to serve
// transactions on its own. It implements txn.Store so
// internal/txn.Transaction can operate directly against it without
// either package importing the other's concrete type.
type Shard struct {
	ID uuid.UUID

	mu             sync.RWMutex
	state          State
	primaryLabelID uint32
	minPK          value.Value
	hasMaxPK       bool
	maxPK          value.Value
	version        hlc.Timestamp
	splitThreshold int

	ids         *ids.Set
	schemaV     *schema.Validator
	clock       *hlc.Clock
	vertexStore *gstore.VertexStore
	edgeStore   *gstore.EdgeStore

	idxMu        sync.Mutex
	labelIdx     map[uint32]*vindex.LabelIndex
	labelPropIdx map[[2]uint32]*vindex.LabelPropertyIndex

	edgePropsOffMu sync.RWMutex
	edgePropsOff   map[uint32]struct{}

	txnMu    sync.Mutex
	txns     map[mvcc.TxnID]*txn.Transaction
	inFlight map[mvcc.TxnID]struct{} // transactions not yet committed/aborted

	stats Stats
}

// New returns an empty, active shard for cfg's primary-key range.
func New(cfg Config) *Shard {
	s := &Shard{
		ID:             uuid.New(),
		state:          StateActive,
		minPK:          cfg.MinPK,
		hasMaxPK:       cfg.HasMaxPK,
		maxPK:          cfg.MaxPK,
		splitThreshold: cfg.SplitThreshold,
		ids:            ids.NewSet(),
		clock:          hlc.NewClock(),
		vertexStore:    gstore.NewVertexStore(),
		edgeStore:      gstore.NewEdgeStore(),
		labelIdx:       make(map[uint32]*vindex.LabelIndex),
		labelPropIdx:   make(map[[2]uint32]*vindex.LabelPropertyIndex),
		edgePropsOff:   make(map[uint32]struct{}),
		txns:           make(map[mvcc.TxnID]*txn.Transaction),
		inFlight:       make(map[mvcc.TxnID]struct{}),
	}
	s.primaryLabelID = uint32(s.ids.Labels.Intern(cfg.PrimaryLabel))
	s.schemaV = schema.NewValidator(s.primaryLabelID)
	return s
}

// --- txn.Store ---

func (s *Shard) Vertices() *gstore.VertexStore { return s.vertexStore }
func (s *Shard) Edges() *gstore.EdgeStore      { return s.edgeStore }
func (s *Shard) Labels() *ids.Mapper           { return s.ids.Labels }
func (s *Shard) Properties() *ids.Mapper       { return s.ids.Properties }
func (s *Shard) EdgeTypes() *ids.Mapper        { return s.ids.EdgeTypes }
func (s *Shard) Schema() *schema.Validator     { return s.schemaV }
func (s *Shard) Clock() *hlc.Clock             { return s.clock }

// PrimaryLabel returns the label name this shard was configured with,
// recovered from the interned label id (shard.New interns it on creation,
// so the lookup never misses).
func (s *Shard) PrimaryLabel() string {
	name, _ := s.ids.Labels.Name(s.primaryLabelID)
	return name
}

func (s *Shard) LabelIndex(labelID uint32) *vindex.LabelIndex {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	idx, ok := s.labelIdx[labelID]
	if !ok {
		idx = vindex.NewLabelIndex()
		s.labelIdx[labelID] = idx
	}
	return idx
}

func (s *Shard) LabelPropertyIndex(labelID, propID uint32) *vindex.LabelPropertyIndex {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	key := [2]uint32{labelID, propID}
	idx, ok := s.labelPropIdx[key]
	if !ok {
		idx = vindex.NewLabelPropertyIndex()
		s.labelPropIdx[key] = idx
	}
	return idx
}

func (s *Shard) InProgressSnapshot() map[mvcc.TxnID]struct{} {
	s.txnMu.Lock()
	defer s.txnMu.Unlock()
	out := make(map[mvcc.TxnID]struct{}, len(s.inFlight))
	for id := range s.inFlight {
		out[id] = struct{}{}
	}
	return out
}

func (s *Shard) RegisterTxn(id mvcc.TxnID) {
	s.txnMu.Lock()
	defer s.txnMu.Unlock()
	s.inFlight[id] = struct{}{}
}

func (s *Shard) UnregisterTxn(id mvcc.TxnID) {
	s.txnMu.Lock()
	defer s.txnMu.Unlock()
	delete(s.inFlight, id)
}

func (s *Shard) EdgePropertiesEnabled(edgeTypeID uint32) bool {
	s.edgePropsOffMu.RLock()
	defer s.edgePropsOffMu.RUnlock()
	_, disabled := s.edgePropsOff[edgeTypeID]
	return !disabled
}

// DisableEdgeProperties marks edges of edgeTypeName as property-less,
// interning the type name if not already known.
func (s *Shard) DisableEdgeProperties(edgeTypeName string) {
	id := uint32(s.ids.EdgeTypes.Intern(edgeTypeName))
	s.edgePropsOffMu.Lock()
	defer s.edgePropsOffMu.Unlock()
	s.edgePropsOff[id] = struct{}{}
}

// SetPKSchema declares the shard's primary-key property list.
func (s *Shard) SetPKSchema(props []schema.SchemaProperty) {
	for i := range props {
		props[i].PropertyID = uint32(s.ids.Properties.Intern(props[i].Name))
	}
	s.schemaV.SetPKSchema(props)
}

// --- facade operations ---

// Access opens a transaction against this shard at a freshly issued HLC
// timestamp, tracking it in the shard's open-transaction set until Commit
// or Abort drops it.
func (s *Shard) Access(id mvcc.TxnID, isolation txn.Isolation) *txn.Transaction {
	s.mu.RLock()
	startTS := s.clock.Now()
	s.mu.RUnlock()

	t := txn.Access(s, id, startTS, isolation)

	s.txnMu.Lock()
	s.txns[id] = t
	s.txnMu.Unlock()
	return t
}

// Commit assigns a fresh commit timestamp and commits t, then drops it
// from the shard's open-transaction set.
func (s *Shard) Commit(t *txn.Transaction) {
	ts := s.clock.Now()
	t.Commit(ts)
	atomic.AddUint64(&s.stats.CommittedTxns, 1)
	s.txnMu.Lock()
	delete(s.txns, t.ID())
	s.txnMu.Unlock()
}

// Abort aborts t and drops it from the shard's open-transaction set.
func (s *Shard) Abort(t *txn.Transaction) {
	t.Abort()
	s.txnMu.Lock()
	delete(s.txns, t.ID())
	s.txnMu.Unlock()
}

// IsVertexBelongToShard reports whether pk falls in `[MinPK, MaxPK)`.
func (s *Shard) IsVertexBelongToShard(pk value.Value) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if value.Compare(pk, s.minPK) < 0 {
		return false
	}
	if s.hasMaxPK && value.Compare(pk, s.maxPK) >= 0 {
		return false
	}
	return true
}

// CheckRange returns ErrOutOfRange if pk does not belong to this shard.
func (s *Shard) CheckRange(pk value.Value) error {
	if !s.IsVertexBelongToShard(pk) {
		return fmt.Errorf("%w: %v", engineerr.ErrOutOfRange, pk)
	}
	return nil
}

// CreateIndex declares a label-property index eagerly backfilled from
// every vertex in the container that carries the label and the property,
// without a visibility check, committing each backfilled entry at a
// fresh clock reading. A vertex already indexed at write time gets a
// second, redundant entry.
//
// DropIndex has no analog here: label/label-property indexes are
// maintained unconditionally by internal/txn for every committed label
// and property, since queries may depend on them for a live snapshot
// read even after the index was declared; CreateIndex exists to eagerly
// warm one before traffic arrives rather than lazily building it from
// the first Insert.
func (s *Shard) CreateIndex(labelName, propName string) {
	labelID := uint32(s.ids.Labels.Intern(labelName))
	propID := uint32(s.ids.Properties.Intern(propName))
	idx := s.LabelPropertyIndex(labelID, propID)

	for _, v := range s.vertexStore.Snapshot() {
		if !v.HasLabel(labelID) {
			continue
		}
		val, ok := v.Property(propID)
		if !ok {
			continue
		}
		idx.Insert(labelID, propID, val, v.ID)
		idx.CommitEntry(labelID, propID, val, v.ID, s.clock.Now())
	}
}

// ShouldSplit reports whether the shard exceeds its configured threshold
// and, if so, a candidate split key near the median primary key.
func (s *Shard) ShouldSplit() (splitKey value.Value, ok bool) {
	if s.splitThreshold <= 0 || s.vertexStore.Len() <= s.splitThreshold {
		return value.Null(), false
	}
	return s.vertexStore.MedianPK()
}

// CollectGarbage walks the vertex and edge containers, removing any
// version the delta chain reports unreachable as of g and pruning the
// adjacency-list references of any edge it reclaims, and returns the
// count of objects reclaimed. The oldest live watermark is supplied by the
// caller (internal/gc passes whatever its WatermarkFunc returns).
func (s *Shard) CollectGarbage(g mvcc.Snapshot, oldestLiveWatermark mvcc.TxnID) (reclaimed int) {
	for _, v := range s.vertexStore.Snapshot() {
		if v.Head.GCUnreachable(g, oldestLiveWatermark) {
			s.vertexStore.Remove(v.PK)
			atomic.AddUint64(&s.stats.DeletedVertices, 1)
			reclaimed++
		}
	}
	for _, e := range s.edgeStore.Snapshot() {
		if e.Head.GCUnreachable(g, oldestLiveWatermark) {
			if src, ok := s.vertexStore.FindByID(e.Key.Src); ok {
				src.RemoveOutEdge(e.Key.GID)
			}
			if dst, ok := s.vertexStore.FindByID(e.Key.Dst); ok {
				dst.RemoveInEdge(e.Key.GID)
			}
			s.edgeStore.Remove(e.Key)
			atomic.AddUint64(&s.stats.DeletedEdges, 1)
			reclaimed++
		}
	}
	if reclaimed > 0 {
		logging.WithComponent("gc").Debug().
			Str("shard_id", s.ID.String()).
			Int("reclaimed", reclaimed).
			Msg("collected garbage")
	}
	return reclaimed
}

// Stats returns a snapshot of the shard's cumulative operation counters.
func (s *Shard) Stats() Stats {
	return Stats{
		CommittedTxns:   atomic.LoadUint64(&s.stats.CommittedTxns),
		DeletedVertices: atomic.LoadUint64(&s.stats.DeletedVertices),
		DeletedEdges:    atomic.LoadUint64(&s.stats.DeletedEdges),
	}
}

// State returns the shard's current lifecycle state.
func (s *Shard) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Range returns the shard's declared primary-key range.
func (s *Shard) Range() (min value.Value, max value.Value, hasMax bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minPK, s.maxPK, s.hasMaxPK
}

// Version returns the shard's current version stamp.
func (s *Shard) Version() hlc.Timestamp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// openTxnIDs returns every transaction id currently tracked as open
// against this shard, in ascending order.
func (s *Shard) openTxnIDs() []mvcc.TxnID {
	s.txnMu.Lock()
	defer s.txnMu.Unlock()
	out := make([]mvcc.TxnID, 0, len(s.txns))
	for id := range s.txns {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
