// Package txn implements the transaction and accessor: a
// snapshot-isolated view over one shard's vertex/edge containers and
// indexes, recording an undo closure for every mutation and supporting
// atomic per-shard commit or full undo abort. Mutations change the shared
// vertex/edge objects in place and mark creation/expiry on their
// mvcc.Head; no mvcc.Delta is threaded onto an object's chain.
//
// A BeginTx/CommitTx/AbortTx shape generalized from other_examples/
// 37fd9e33_SimonWaldherr-tinySQL__internal-storage-mvcc.go.go's
// TxContext, adapted from row-store semantics to the vertex/edge
// delta-chain model of internal/mvcc. Store is a narrow
// interface rather than a direct import of internal/shard so that shard
// can depend on txn without an import cycle.
package txn

import (
	"fmt"
	"sync"

	"github.com/dreamware/graphshard/internal/engineerr"
	"github.com/dreamware/graphshard/internal/gstore"
	"github.com/dreamware/graphshard/internal/hlc"
	"github.com/dreamware/graphshard/internal/ids"
	"github.com/dreamware/graphshard/internal/mvcc"
	"github.com/dreamware/graphshard/internal/schema"
	"github.com/dreamware/graphshard/internal/value"
	"github.com/dreamware/graphshard/internal/vindex"
)

// Isolation names the isolation level requested on Access. Snapshot is
// the only level the visibility logic honors; Serializable is accepted
// on the wire for forward compatibility but treated identically (see
// DESIGN.md, Open-question decisions).
type Isolation uint8

const (
	IsolationSnapshot Isolation = iota
	IsolationSerializable
)

// View selects whether an accessor call should see the transaction's own
// pending (uncommitted) changes.
type View uint8

const (
	ViewOld View = iota // ignore this transaction's own pending writes
	ViewNew             // include this transaction's own pending writes
)

// State is a transaction's lifecycle state.
type State uint8

const (
	StateInProgress State = iota
	StateCommitted
	StateAborted
)

// Store is everything a Transaction needs from its owning shard. Shard
// implements this interface; txn never imports internal/shard directly.
type Store interface {
	Vertices() *gstore.VertexStore
	Edges() *gstore.EdgeStore
	Labels() *ids.Mapper
	Properties() *ids.Mapper
	EdgeTypes() *ids.Mapper
	Schema() *schema.Validator
	Clock() *hlc.Clock

	LabelIndex(labelID uint32) *vindex.LabelIndex
	LabelPropertyIndex(labelID, propID uint32) *vindex.LabelPropertyIndex

	// InProgressSnapshot returns the set of transaction ids not yet
	// committed or aborted as of the call, used to build a new
	// transaction's visibility snapshot.
	InProgressSnapshot() map[mvcc.TxnID]struct{}
	RegisterTxn(id mvcc.TxnID)
	UnregisterTxn(id mvcc.TxnID)

	// EdgePropertiesEnabled reports whether edges of edgeTypeID may carry
	// properties.
	EdgePropertiesEnabled(edgeTypeID uint32) bool
}

// undoOp is one entry an Abort walks, newest-first, to unwind a pending
// mutation. Each op closes over everything it needs to reverse itself.
type undoOp func()

// Transaction is a snapshot-isolated accessor over one Store.
type Transaction struct {
	mu sync.Mutex

	store Store

	id        mvcc.TxnID
	startTS   hlc.Timestamp
	isolation Isolation
	command   mvcc.CommandID
	state     State

	info *mvcc.CommitInfo
	snap mvcc.Snapshot

	undo []undoOp

	// touchedVertices/touchedEdges track objects this transaction itself
	// created or modified, so commit knows which index entries to
	// publish. deletedVertices/deletedEdges track objects this
	// transaction has already expired, so a second delete raises
	// DeletedObject instead of silently overwriting the expire fields.
	touchedVertices map[gstore.VertexID]struct{}
	touchedEdges    map[gstore.EdgeID]struct{}
	deletedVertices map[gstore.VertexID]struct{}
	deletedEdges    map[gstore.EdgeID]struct{}

	// expiredProps records label-property index entries that must be
	// expired (not removed) at commit time because SetProperty replaced
	// their value; older snapshots must keep seeing the prior value.
	expiredProps []propExpiry

	// writeLocks tracks every mvcc.Head this transaction currently holds
	// the first-updater-wins write lock on, released at Commit or Abort.
	writeLocks map[*mvcc.Head]struct{}

	// deletedEdgeRefs records the endpoints of every edge this
	// transaction has expired, so Commit can prune the stale adjacency
	// refs from both endpoints once the delete is durable.
	deletedEdgeRefs []deletedEdgeRef
}

type deletedEdgeRef struct {
	gid      gstore.EdgeID
	src, dst gstore.VertexID
}

type propExpiry struct {
	labelID  uint32
	propID   uint32
	oldValue value.Value
	vertex   gstore.VertexID
}

// Access opens a new transaction on store at startTS. Snapshot is the
// only isolation level the engine honors; Serializable is accepted for
// forward compatibility but currently behaves identically.
func Access(store Store, id mvcc.TxnID, startTS hlc.Timestamp, isolation Isolation) *Transaction {
	store.RegisterTxn(id)
	info := mvcc.NewCommitInfo(id)
	t := &Transaction{
		store:           store,
		id:              id,
		startTS:         startTS,
		isolation:       isolation,
		info:            info,
		touchedVertices: make(map[gstore.VertexID]struct{}),
		touchedEdges:    make(map[gstore.EdgeID]struct{}),
		deletedVertices: make(map[gstore.VertexID]struct{}),
		deletedEdges:    make(map[gstore.EdgeID]struct{}),
		writeLocks:      make(map[*mvcc.Head]struct{}),
	}
	t.snap = mvcc.Snapshot{Self: id, Command: 0, InProgress: store.InProgressSnapshot()}
	return t
}

// ID returns the transaction's identifier.
func (t *Transaction) ID() mvcc.TxnID { return t.id }

// State returns the transaction's current lifecycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) currentSnapshot() mvcc.Snapshot {
	return mvcc.Snapshot{Self: t.id, Command: t.command, InProgress: t.snap.InProgress}
}

func (t *Transaction) visible(h *mvcc.Head, view View) bool {
	snap := t.currentSnapshot()
	if view == ViewNew {
		return h.VisibleForWrite(snap)
	}
	return h.Visible(snap)
}

// acquireWrite takes the first-updater-wins write lock on h, returning
// ErrSerialization if another live transaction already holds it. Safe to
// call more than once for the same Head within one transaction.
func (t *Transaction) acquireWrite(h *mvcc.Head) error {
	if _, held := t.writeLocks[h]; held {
		return nil
	}
	if !h.TryAcquireWrite(t.id) {
		return fmt.Errorf("%w: object has a pending write from another transaction", engineerr.ErrSerialization)
	}
	t.writeLocks[h] = struct{}{}
	return nil
}

// AdvanceCommand increments the command id, giving subsequent operations
// a new command boundary within the same transaction.
func (t *Transaction) AdvanceCommand() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.command++
}

// CreateVertex validates labels/pk/props against the shard's schema,
// allocates a vertex whose mvcc.Head names this transaction as creator,
// and records an undo closure that removes it on abort.
func (t *Transaction) CreateVertex(labels []string, pk []value.Value, props map[string]value.Value) (*gstore.Vertex, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	labelIDs := make([]uint32, len(labels))
	for i, l := range labels {
		labelIDs[i] = uint32(t.store.Labels().Intern(l))
	}
	propIDs := make(map[uint32]value.Value, len(props))
	for name, v := range props {
		propIDs[uint32(t.store.Properties().Intern(name))] = v
	}

	if err := t.store.Schema().ValidateCreate(labelIDs, pk, propIDs); err != nil {
		return nil, err
	}

	// A single-property primary key is stored as its scalar value so
	// range scans compare directly; a composite key is bundled into a
	// value.List, which still orders correctly per §4.1 (lists compare
	// element-by-element).
	pkKey := pk[0]
	if len(pk) > 1 {
		pkKey = value.List(pk)
	}

	vstore := t.store.Vertices()
	if _, exists := vstore.FindByPK(pkKey); exists {
		return nil, fmt.Errorf("%w: primary key %v", engineerr.ErrVertexAlreadyInserted, pkKey)
	}

	head := mvcc.NewHead(t.id, t.command, t.info)
	v := gstore.NewVertex(vstore.NextID(), pkKey, head)
	for _, lid := range labelIDs {
		v.AddLabel(lid)
	}
	for pid, val := range propIDs {
		v.SetProperty(pid, val)
	}
	if !vstore.Insert(v) {
		return nil, fmt.Errorf("%w: primary key %v", engineerr.ErrVertexAlreadyInserted, pk[0])
	}
	t.touchedVertices[v.ID] = struct{}{}

	for _, lid := range labelIDs {
		lid := lid
		idx := t.store.LabelIndex(lid)
		idx.Insert(lid, v.ID)
	}
	for pid, val := range propIDs {
		pid, val := pid, val
		for _, lid := range labelIDs {
			lid := lid
			t.store.LabelPropertyIndex(lid, pid).Insert(lid, pid, val, v.ID)
		}
	}

	vid := v.ID
	pkVal := pkKey
	createdLabelIDs := labelIDs
	createdProps := propIDs
	t.undo = append(t.undo, func() {
		for pid, val := range createdProps {
			for _, lid := range createdLabelIDs {
				t.store.LabelPropertyIndex(lid, pid).Remove(lid, pid, val, vid)
			}
		}
		for _, lid := range createdLabelIDs {
			t.store.LabelIndex(lid).Remove(lid, vid)
		}
		vstore.Remove(pkVal)
		delete(t.touchedVertices, vid)
	})

	return v, nil
}

// FindVertex looks up a vertex by primary key, respecting view.
func (t *Transaction) FindVertex(pk value.Value, view View) (*gstore.Vertex, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.store.Vertices().FindByPK(pk)
	if !ok {
		return nil, false
	}
	if !t.visible(v.Head, view) {
		return nil, false
	}
	return v, true
}

// Vertices returns every vertex visible under view.
func (t *Transaction) Vertices(view View) []*gstore.Vertex {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := t.store.Vertices().Snapshot()
	out := make([]*gstore.Vertex, 0, len(all))
	for _, v := range all {
		if t.visible(v.Head, view) {
			out = append(out, v)
		}
	}
	return out
}

// VerticesByLabel returns vertices carrying labelName, visible as of
// t.startTS.
func (t *Transaction) VerticesByLabel(labelName string) []*gstore.Vertex {
	t.mu.Lock()
	defer t.mu.Unlock()
	labelID, ok := t.store.Labels().Lookup(labelName)
	if !ok {
		return nil
	}
	vids := t.store.LabelIndex(uint32(labelID)).Scan(uint32(labelID), t.startTS)
	return t.resolveVertices(vids)
}

// VerticesByLabelProperty returns vertices carrying labelName with
// propName == val.
func (t *Transaction) VerticesByLabelProperty(labelName, propName string, val value.Value) []*gstore.Vertex {
	t.mu.Lock()
	defer t.mu.Unlock()
	labelID, ok := t.store.Labels().Lookup(labelName)
	if !ok {
		return nil
	}
	propID, ok := t.store.Properties().Lookup(propName)
	if !ok {
		return nil
	}
	vids := t.store.LabelPropertyIndex(uint32(labelID), uint32(propID)).ScanEqual(uint32(labelID), uint32(propID), val, t.startTS)
	return t.resolveVertices(vids)
}

// VerticesByLabelPropertyRange returns vertices carrying labelName with
// lo <= propName < hi.
func (t *Transaction) VerticesByLabelPropertyRange(labelName, propName string, lo value.Value, hasLo bool, hi value.Value, hasHi bool) []*gstore.Vertex {
	t.mu.Lock()
	defer t.mu.Unlock()
	labelID, ok := t.store.Labels().Lookup(labelName)
	if !ok {
		return nil
	}
	propID, ok := t.store.Properties().Lookup(propName)
	if !ok {
		return nil
	}
	vids := t.store.LabelPropertyIndex(uint32(labelID), uint32(propID)).ScanRange(uint32(labelID), uint32(propID), lo, hasLo, hi, hasHi, t.startTS)
	return t.resolveVertices(vids)
}

func (t *Transaction) resolveVertices(vids []gstore.VertexID) []*gstore.Vertex {
	out := make([]*gstore.Vertex, 0, len(vids))
	seen := make(map[gstore.VertexID]struct{}, len(vids))
	for _, id := range vids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if v, ok := t.store.Vertices().FindByID(id); ok {
			out = append(out, v)
		}
	}
	return out
}

// CreateEdge creates an edge from -> to of type typ, with a freshly
// allocated graph-global id, links it into both endpoints' adjacency
// lists, and records an undo closure that unlinks it on abort.
func (t *Transaction) CreateEdge(from, to *gstore.Vertex, edgeType string) (*gstore.Edge, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.visible(from.Head, ViewNew) || !t.visible(to.Head, ViewNew) {
		return nil, fmt.Errorf("%w: edge endpoint", engineerr.ErrNonexistentObject)
	}

	typeID := uint32(t.store.EdgeTypes().Intern(edgeType))
	estore := t.store.Edges()
	gid := estore.NextGID()
	key := gstore.EdgeKey{Src: from.ID, Dst: to.ID, Type: typeID, GID: gid}
	head := mvcc.NewHead(t.id, t.command, t.info)
	e := gstore.NewEdge(key, head)
	estore.Insert(e)

	from.AddOutEdge(gstore.EdgeRef{EdgeID: gid, Other: to.ID, Type: typeID})
	to.AddInEdge(gstore.EdgeRef{EdgeID: gid, Other: from.ID, Type: typeID})
	t.touchedEdges[gid] = struct{}{}

	t.undo = append(t.undo, func() {
		from.RemoveOutEdge(gid)
		to.RemoveInEdge(gid)
	})

	return e, nil
}

// DeleteVertex deletes v, raising VertexHasEdges if any visible incident
// edge remains (use DetachDeleteVertex to remove those too).
func (t *Transaction) DeleteVertex(v *gstore.Vertex) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deleteVertex(v, false)
}

// DetachDeleteVertex deletes v along with every visible incident edge.
func (t *Transaction) DetachDeleteVertex(v *gstore.Vertex) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deleteVertex(v, true)
}

func (t *Transaction) deleteVertex(v *gstore.Vertex, detach bool) error {
	if !t.visible(v.Head, ViewNew) {
		return fmt.Errorf("%w: vertex", engineerr.ErrNonexistentObject)
	}
	if _, already := t.deletedVertices[v.ID]; already {
		return engineerr.ErrDeletedObject
	}
	if err := t.acquireWrite(v.Head); err != nil {
		return err
	}

	hasEdges := len(v.OutEdges()) > 0 || len(v.InEdges()) > 0
	if hasEdges && !detach {
		return engineerr.ErrVertexHasEdges
	}

	if detach {
		for _, ref := range append(append([]gstore.EdgeRef{}, v.OutEdges()...), v.InEdges()...) {
			if e, ok := t.store.Edges().FindByID(ref.EdgeID); ok {
				_ = t.deleteEdge(e)
			}
		}
	}

	v.Head.SetExpire(t.id, t.command, t.info)
	t.deletedVertices[v.ID] = struct{}{}
	t.undo = append(t.undo, func() {
		v.Head.ClearExpire()
		delete(t.deletedVertices, v.ID)
	})
	return nil
}

// DeleteEdge deletes e.
func (t *Transaction) DeleteEdge(e *gstore.Edge) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deleteEdge(e)
}

func (t *Transaction) deleteEdge(e *gstore.Edge) error {
	if !t.visible(e.Head, ViewNew) {
		return fmt.Errorf("%w: edge", engineerr.ErrNonexistentObject)
	}
	if _, already := t.deletedEdges[e.Key.GID]; already {
		return engineerr.ErrDeletedObject
	}
	if err := t.acquireWrite(e.Head); err != nil {
		return err
	}
	e.Head.SetExpire(t.id, t.command, t.info)
	t.deletedEdges[e.Key.GID] = struct{}{}
	t.deletedEdgeRefs = append(t.deletedEdgeRefs, deletedEdgeRef{gid: e.Key.GID, src: e.Key.Src, dst: e.Key.Dst})
	t.undo = append(t.undo, func() {
		e.Head.ClearExpire()
		delete(t.deletedEdges, e.Key.GID)
		for i, ref := range t.deletedEdgeRefs {
			if ref.gid == e.Key.GID {
				t.deletedEdgeRefs = append(t.deletedEdgeRefs[:i], t.deletedEdgeRefs[i+1:]...)
				break
			}
		}
	})
	return nil
}

// SetProperty sets propName on vertex v to val. Vertices always allow
// properties; edge properties go through SetEdgeProperty.
func (t *Transaction) SetProperty(v *gstore.Vertex, propName string, val value.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.visible(v.Head, ViewNew) {
		return fmt.Errorf("%w: vertex", engineerr.ErrNonexistentObject)
	}
	if err := t.acquireWrite(v.Head); err != nil {
		return err
	}
	propID := uint32(t.store.Properties().Intern(propName))
	old, hadOld := v.SetProperty(propID, val)

	labels := v.Labels()
	for _, lid := range labels {
		t.store.LabelPropertyIndex(lid, propID).Insert(lid, propID, val, v.ID)
	}
	t.touchedVertices[v.ID] = struct{}{}
	if hadOld {
		for _, lid := range labels {
			t.expiredProps = append(t.expiredProps, propExpiry{labelID: lid, propID: propID, oldValue: old, vertex: v.ID})
		}
	}

	t.undo = append(t.undo, func() {
		v.RestoreProperty(propID, old, hadOld)
		for _, lid := range labels {
			t.store.LabelPropertyIndex(lid, propID).Remove(lid, propID, val, v.ID)
		}
	})
	return nil
}

// SetEdgeProperty sets propName on e to val, raising PropertiesDisabled
// if edges of e's type are configured property-less.
func (t *Transaction) SetEdgeProperty(e *gstore.Edge, propName string, val value.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.visible(e.Head, ViewNew) {
		return fmt.Errorf("%w: edge", engineerr.ErrNonexistentObject)
	}
	if !t.store.EdgePropertiesEnabled(e.Key.Type) {
		return engineerr.ErrPropertiesDisabled
	}
	if err := t.acquireWrite(e.Head); err != nil {
		return err
	}
	propID := uint32(t.store.Properties().Intern(propName))
	old, hadOld := e.SetProperty(propID, val)
	t.undo = append(t.undo, func() {
		e.RestoreProperty(propID, old, hadOld)
	})
	return nil
}

// AddLabel adds labelName to v.
func (t *Transaction) AddLabel(v *gstore.Vertex, labelName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.visible(v.Head, ViewNew) {
		return fmt.Errorf("%w: vertex", engineerr.ErrNonexistentObject)
	}
	if err := t.acquireWrite(v.Head); err != nil {
		return err
	}
	labelID := uint32(t.store.Labels().Intern(labelName))
	v.AddLabel(labelID)
	t.store.LabelIndex(labelID).Insert(labelID, v.ID)
	t.touchedVertices[v.ID] = struct{}{}
	t.undo = append(t.undo, func() {
		v.RemoveLabel(labelID)
		t.store.LabelIndex(labelID).Remove(labelID, v.ID)
	})
	return nil
}

// RemoveLabel removes labelName from v, expiring (not deleting) its
// label-index entry so older snapshots keep seeing it.
func (t *Transaction) RemoveLabel(v *gstore.Vertex, labelName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.visible(v.Head, ViewNew) {
		return fmt.Errorf("%w: vertex", engineerr.ErrNonexistentObject)
	}
	labelID, ok := t.store.Labels().Lookup(labelName)
	if !ok {
		return nil
	}
	if err := t.acquireWrite(v.Head); err != nil {
		return err
	}
	v.RemoveLabel(uint32(labelID))
	t.undo = append(t.undo, func() {
		v.AddLabel(uint32(labelID))
	})
	return nil
}

// Commit assigns commitTS as the shared commit-info's timestamp,
// transitions to Committed, and publishes every pending index entry.
// commitTS must already be strictly greater than any timestamp
// previously committed on this shard (the caller obtains it from the
// shard's hlc.Clock).
func (t *Transaction) Commit(commitTS hlc.Timestamp) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateInProgress {
		return
	}
	t.info.Commit(commitTS)
	t.state = StateCommitted
	t.store.UnregisterTxn(t.id)
	t.releaseWriteLocks()

	for _, ref := range t.deletedEdgeRefs {
		if src, ok := t.store.Vertices().FindByID(ref.src); ok {
			src.RemoveOutEdge(ref.gid)
		}
		if dst, ok := t.store.Vertices().FindByID(ref.dst); ok {
			dst.RemoveInEdge(ref.gid)
		}
	}

	for vid := range t.touchedVertices {
		vtx, ok := t.store.Vertices().FindByID(vid)
		if !ok {
			continue
		}
		props := vtx.Properties()
		for _, lid := range vtx.Labels() {
			t.store.LabelIndex(lid).CommitEntry(lid, vtx.ID, commitTS)
			for pid, val := range props {
				t.store.LabelPropertyIndex(lid, pid).CommitEntry(lid, pid, val, vtx.ID, commitTS)
			}
		}
	}
	for _, exp := range t.expiredProps {
		t.store.LabelPropertyIndex(exp.labelID, exp.propID).Expire(exp.labelID, exp.propID, exp.oldValue, exp.vertex, commitTS)
	}
}

// Abort walks pending undo operations newest-first, reversing each, and
// marks the transaction Aborted.
func (t *Transaction) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateInProgress {
		return
	}
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.info.Abort()
	t.state = StateAborted
	t.store.UnregisterTxn(t.id)
	t.releaseWriteLocks()
}

func (t *Transaction) releaseWriteLocks() {
	for h := range t.writeLocks {
		h.ReleaseWrite(t.id)
	}
}
