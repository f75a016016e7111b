// Package mvcc implements the per-object delta chain and visibility
// rules: every vertex and edge is a singly linked list of undo deltas,
// each pointing back toward the object's prior state, plus a
// commit-info block shared by every delta a transaction produced.
//
// Grounded on the version-chain idiom in
// other_examples/37fd9e33_SimonWaldherr-tinySQL__internal-storage-mvcc.go.go
// (per-row version list walked newest-to-oldest under a snapshot
// timestamp) and other_examples/e0d377e6_Jekaa-go-mvcc-map__mvcc-map.go.go
// (explicit create/expire transaction-id pair per entry), combined into
// the two-sided create/expire model this engine's visibility rules need.
package mvcc

import (
	"sync"

	"github.com/dreamware/graphshard/internal/hlc"
)

// TxnID identifies a transaction. Zero means "no transaction" (an object
// with ExpireTxn == 0 has never been deleted).
type TxnID uint64

// CommandID orders operations within one transaction.
type CommandID uint32

// ActionKind tags the kind of change a Delta undoes.
type ActionKind uint8

const (
	ActionDeleteObject ActionKind = iota
	ActionRecreateObject
	ActionAddLabel
	ActionRemoveLabel
	ActionSetProperty
	ActionAddInEdge
	ActionAddOutEdge
	ActionRemoveInEdge
	ActionRemoveOutEdge
)

// HintBits encodes the cached commit/abort status of the creating and
// expiring transactions for one object version, avoiding a transaction-
// table lookup on the common path. Commit and Abort set only the creating
// half; the expiring bits are defined but never set, since an expiring
// hint is only safe for a set-once slot and an object can be re-expired.
type HintBits uint8

const (
	HintCreatingCommitted HintBits = 1 << iota
	HintCreatingAborted
	HintExpiringCommitted
	HintExpiringAborted
)

// CommitInfo is shared by every delta a single transaction produced. Its
// CommitTS is the zero HLC until Commit publishes it.
type CommitInfo struct {
	mu        sync.Mutex
	Txn       TxnID
	CommitTS  hlc.Timestamp
	committed bool
	aborted   bool
	hints     HintBits
}

// NewCommitInfo returns an uncommitted CommitInfo for txn.
func NewCommitInfo(txn TxnID) *CommitInfo {
	return &CommitInfo{Txn: txn}
}

// Commit publishes ts as the transaction's commit timestamp and marks it
// committed. Must be called at most once.
func (ci *CommitInfo) Commit(ts hlc.Timestamp) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.CommitTS = ts
	ci.committed = true
	ci.hints |= HintCreatingCommitted
}

// Abort marks the transaction aborted.
func (ci *CommitInfo) Abort() {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.aborted = true
	ci.hints |= HintCreatingAborted
}

// Snapshot returns a consistent read of commit status and timestamp.
func (ci *CommitInfo) Snapshot() (committed, aborted bool, ts hlc.Timestamp) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	return ci.committed, ci.aborted, ci.CommitTS
}

// Delta is one undo entry in an object's version chain. Deltas are
// allocated from their owning transaction's working set and are never
// mutated by another transaction; only the shared CommitInfo transitions
// state.
type Delta struct {
	Next   *Delta // toward the older version; nil at the chain's origin
	Action ActionKind

	// Payload, interpreted per Action:
	LabelID    uint32 // ActionAddLabel / ActionRemoveLabel
	PropertyID uint32 // ActionSetProperty
	OldValue   any    // ActionSetProperty: the value being overwritten
	EdgeRef    any    // ActionAdd/RemoveIn/OutEdge: opaque edge reference

	Txn     TxnID
	Command CommandID
	Info    *CommitInfo
}

// Head is the mutable head pointer of an object's delta chain, plus the
// two-sided create/expire transaction bookkeeping that the visibility
// test reads. It is embedded in the gstore vertex/edge entry types.
type Head struct {
	mu sync.RWMutex

	Delta *Delta // nil once all deltas are GC'd; the object is then a plain tombstone-or-live record with no pending history

	CreateTxn  TxnID
	CreateCmd  CommandID
	CreateInfo *CommitInfo
	ExpireTxn  TxnID
	ExpireCmd  CommandID
	ExpireInfo *CommitInfo

	writer TxnID // holder of the first-updater-wins write lock, 0 if unheld
}

// NewHead returns a Head freshly created by txn at command cmd.
func NewHead(txn TxnID, cmd CommandID, info *CommitInfo) *Head {
	return &Head{CreateTxn: txn, CreateCmd: cmd, CreateInfo: info}
}

// Prepend pushes a new delta onto the chain under the head's lock.
func (h *Head) Prepend(d *Delta) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d.Next = h.Delta
	h.Delta = d
}

// read atomically snapshots the create/expire fields, looping to re-read
// ExpireCmd until ExpireTxn is stable. A single RLock already makes this
// atomic; the loop is kept to mirror the lock-free re-read idiom this
// visibility test is meant to support, so a future lock-free Head
// implementation can drop the mutex without changing this function's
// contract.
func (h *Head) read() (createTxn TxnID, createCmd CommandID, createInfo *CommitInfo, expireTxn TxnID, expireCmd CommandID, expireInfo *CommitInfo) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for {
		et := h.ExpireTxn
		ec := h.ExpireCmd
		if et == h.ExpireTxn {
			return h.CreateTxn, h.CreateCmd, h.CreateInfo, et, ec, h.ExpireInfo
		}
	}
}

// TryAcquireWrite implements first-updater-wins conflict detection: it
// succeeds if no other live transaction currently holds the write lock
// on h. Re-acquiring while already the holder succeeds (a transaction
// may touch the same object more than once). Must be paired with
// ReleaseWrite at the owning transaction's commit or abort.
func (h *Head) TryAcquireWrite(txn TxnID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.writer == 0 || h.writer == txn {
		h.writer = txn
		return true
	}
	return false
}

// ReleaseWrite releases the write lock on h if txn currently holds it.
// A no-op if some other transaction holds it (which should not happen)
// or if nobody does.
func (h *Head) ReleaseWrite(txn TxnID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.writer == txn {
		h.writer = 0
	}
}

// SetExpire records that txn expired (deleted/replaced) the object at
// command cmd. Must be called at most once per Head (set-once hint
// policy).
func (h *Head) SetExpire(txn TxnID, cmd CommandID, info *CommitInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ExpireTxn = txn
	h.ExpireCmd = cmd
	h.ExpireInfo = info
}

// ClearExpire undoes an uncommitted SetExpire. It exists solely for
// transaction abort: since the expiring transaction never committed, no
// other transaction could have observed the expire fields, so the
// set-once policy never applied to this call in the first place.
func (h *Head) ClearExpire() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ExpireTxn = 0
	h.ExpireCmd = 0
	h.ExpireInfo = nil
}

// Snapshot is the reader's view of a point-in-time transaction set: the
// set of transaction ids that were still uncommitted as of this reader's
// start, plus the reader's own identity and current command.
type Snapshot struct {
	Self      TxnID
	Command   CommandID
	InProgress map[TxnID]struct{} // txns not yet committed when this snapshot was taken
}

// committedBefore reports whether info's owning transaction committed
// strictly before snap was taken (i.e. is not in snap.InProgress and did,
// in fact, commit rather than abort).
func committedBefore(info *CommitInfo, snap Snapshot) bool {
	if info == nil {
		return false
	}
	committed, aborted, _ := info.Snapshot()
	if aborted || !committed {
		return false
	}
	if info.Txn == snap.Self {
		return false // self-commits are handled by the tx==self branch, not this one
	}
	_, inProgress := snap.InProgress[info.Txn]
	return !inProgress
}

// Visible implements the visibility test for a normal read at command
// snap.Command.
func (h *Head) Visible(snap Snapshot) bool {
	return h.visible(snap, false)
}

// VisibleForWrite implements the "visible-for-write" variant: the
// current command may see its own creations (cmd_create <= C rather than
// strictly <).
func (h *Head) VisibleForWrite(snap Snapshot) bool {
	return h.visible(snap, true)
}

func (h *Head) visible(snap Snapshot, forWrite bool) bool {
	createTxn, createCmd, createInfo, expireTxn, expireCmd, expireInfo := h.read()

	selfCreated := createTxn == snap.Self
	var createdOK bool
	if selfCreated {
		if forWrite {
			createdOK = createCmd <= snap.Command
		} else {
			createdOK = createCmd < snap.Command
		}
	} else {
		createdOK = committedBefore(createInfo, snap)
	}
	if !createdOK {
		return false
	}

	if expireTxn == 0 {
		return true
	}
	if expireTxn == snap.Self {
		return expireCmd >= snap.Command
	}
	// Expired by someone else: visible iff that expiry is not committed
	// as-of this snapshot (i.e. still in-progress, or aborted).
	return !committedBefore(expireInfo, snap)
}

// GCUnreachable implements the GC-visibility test: an object version is
// unreachable iff its expiring transaction committed strictly before the
// oldest live transaction in g and is absent from g, or its creating
// transaction aborted.
func (h *Head) GCUnreachable(g Snapshot, oldestLiveWatermark TxnID) bool {
	createTxn, _, createInfo, expireTxn, _, expireInfo := h.read()
	_ = createTxn

	if createInfo != nil {
		_, aborted, _ := createInfo.Snapshot()
		if aborted {
			return true
		}
	}

	if expireTxn == 0 {
		return false
	}
	if expireInfo == nil {
		return false
	}
	committed, aborted, _ := expireInfo.Snapshot()
	if aborted {
		return false
	}
	if !committed {
		return false
	}
	if expireTxn >= oldestLiveWatermark {
		return false
	}
	if _, inProgress := g.InProgress[expireTxn]; inProgress {
		return false
	}
	return true
}
