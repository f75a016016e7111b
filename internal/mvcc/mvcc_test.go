package mvcc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dreamware/graphshard/internal/hlc"
)

func snapOf(self TxnID, cmd CommandID, inProgress ...TxnID) Snapshot {
	ip := make(map[TxnID]struct{}, len(inProgress))
	for _, t := range inProgress {
		ip[t] = struct{}{}
	}
	return Snapshot{Self: self, Command: cmd, InProgress: ip}
}

func TestVisibleToCreatorBeforeCommit(t *testing.T) {
	info := NewCommitInfo(TxnID(1))
	h := NewHead(TxnID(1), CommandID(0), info)

	// Same transaction, later command: visible.
	assert.True(t, h.Visible(snapOf(1, 1)))
	// Same transaction, same command: not yet visible for a plain read...
	assert.False(t, h.Visible(snapOf(1, 0)))
	// ...but visible for the write variant (cmd_create <= C).
	assert.True(t, h.VisibleForWrite(snapOf(1, 0)))
}

func TestVisibleToOtherTransactionOnlyAfterCommit(t *testing.T) {
	creator := NewCommitInfo(TxnID(1))
	h := NewHead(TxnID(1), CommandID(0), creator)

	reader := snapOf(2, 0, 1) // txn 1 still in-progress from reader's view
	assert.False(t, h.Visible(reader))

	creator.Commit(hlc.Timestamp{Wall: 100})
	readerAfter := snapOf(2, 0) // txn 1 no longer in-progress
	assert.True(t, h.Visible(readerAfter))
}

func TestExpiredObjectHiddenFromLaterReaders(t *testing.T) {
	creator := NewCommitInfo(TxnID(1))
	creator.Commit(hlc.Timestamp{Wall: 100})
	h := NewHead(TxnID(1), CommandID(0), creator)

	deleter := NewCommitInfo(TxnID(2))
	h.SetExpire(TxnID(2), CommandID(0), deleter)
	deleter.Commit(hlc.Timestamp{Wall: 200})

	reader := snapOf(3, 0)
	assert.False(t, h.Visible(reader))
}

func TestExpiringTransactionStillSeesOwnDeleteAtEarlierCommand(t *testing.T) {
	creator := NewCommitInfo(TxnID(1))
	creator.Commit(hlc.Timestamp{Wall: 100})
	h := NewHead(TxnID(1), CommandID(0), creator)

	deleter := NewCommitInfo(TxnID(2))
	h.SetExpire(TxnID(2), CommandID(5), deleter)

	// Same transaction, command before the delete: still visible.
	assert.True(t, h.Visible(snapOf(2, 5)))
	// Same transaction, command after the delete: no longer visible.
	assert.False(t, h.Visible(snapOf(2, 6)))
}

func TestVisibleWhenExpirerAborted(t *testing.T) {
	creator := NewCommitInfo(TxnID(1))
	creator.Commit(hlc.Timestamp{Wall: 100})
	h := NewHead(TxnID(1), CommandID(0), creator)

	deleter := NewCommitInfo(TxnID(2))
	h.SetExpire(TxnID(2), CommandID(0), deleter)
	deleter.Abort()

	assert.True(t, h.Visible(snapOf(3, 0)))
}

func TestGCUnreachableWhenCreatorAborted(t *testing.T) {
	creator := NewCommitInfo(TxnID(1))
	creator.Abort()
	h := NewHead(TxnID(1), CommandID(0), creator)

	assert.True(t, h.GCUnreachable(snapOf(10, 0), TxnID(10)))
}

func TestGCUnreachableWhenExpirerCommittedBeforeWatermark(t *testing.T) {
	creator := NewCommitInfo(TxnID(1))
	creator.Commit(hlc.Timestamp{Wall: 100})
	h := NewHead(TxnID(1), CommandID(0), creator)

	deleter := NewCommitInfo(TxnID(2))
	h.SetExpire(TxnID(2), CommandID(0), deleter)
	deleter.Commit(hlc.Timestamp{Wall: 200})

	// Watermark (oldest live txn) is 5: txn 2 committed strictly before it
	// and is absent from the GC snapshot, so it's reclaimable.
	assert.True(t, h.GCUnreachable(snapOf(0, 0), TxnID(5)))
}

func TestGCReachableWhenExpirerStillLive(t *testing.T) {
	creator := NewCommitInfo(TxnID(1))
	creator.Commit(hlc.Timestamp{Wall: 100})
	h := NewHead(TxnID(1), CommandID(0), creator)

	deleter := NewCommitInfo(TxnID(2))
	h.SetExpire(TxnID(2), CommandID(0), deleter)
	deleter.Commit(hlc.Timestamp{Wall: 200})

	g := snapOf(0, 0, 2) // txn 2 still present in the GC snapshot
	assert.False(t, h.GCUnreachable(g, TxnID(10)))
}

func TestPrependBuildsChainNewestFirst(t *testing.T) {
	h := NewHead(TxnID(1), CommandID(0), NewCommitInfo(1))
	d1 := &Delta{Action: ActionSetProperty, PropertyID: 1}
	d2 := &Delta{Action: ActionSetProperty, PropertyID: 2}

	h.Prepend(d1)
	h.Prepend(d2)

	assert.Same(t, d2, h.Delta)
	assert.Same(t, d1, h.Delta.Next)
	assert.Nil(t, d1.Next)
}
