package gc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphshard/internal/mvcc"
	"github.com/dreamware/graphshard/internal/schema"
	"github.com/dreamware/graphshard/internal/shard"
	"github.com/dreamware/graphshard/internal/txn"
	"github.com/dreamware/graphshard/internal/value"
)

func newPersonShard(t *testing.T) *shard.Shard {
	t.Helper()
	s := shard.New(shard.Config{PrimaryLabel: "Person", MinPK: value.Int(0), HasMaxPK: false})
	s.SetPKSchema([]schema.SchemaProperty{{Name: "id", Type: schema.TypeInt}})
	return s
}

func TestCollectorSweepReclaimsAcrossShards(t *testing.T) {
	s1 := newPersonShard(t)
	s2 := newPersonShard(t)

	tx1 := s1.Access(1, txn.IsolationSnapshot)
	v, err := tx1.CreateVertex([]string{"Person"}, []value.Value{value.Int(1)}, nil)
	require.NoError(t, err)
	s1.Commit(tx1)

	tx2 := s1.Access(2, txn.IsolationSnapshot)
	require.NoError(t, tx2.DeleteVertex(v))
	s1.Commit(tx2)

	watermarkCalls := 0
	watermark := func() (mvcc.Snapshot, mvcc.TxnID) {
		watermarkCalls++
		return mvcc.Snapshot{Self: 1000, InProgress: map[mvcc.TxnID]struct{}{}}, 1000
	}
	shards := func() []*shard.Shard { return []*shard.Shard{s1, s2} }

	c := New(time.Hour, shards, watermark)
	c.sweep()

	require.Equal(t, 1, watermarkCalls, "watermark computed once per sweep, not once per shard")
	got := c.LastSweep()
	assert.Equal(t, 2, got.ShardsSwept)
	assert.Equal(t, 1, got.Reclaimed)
}

func TestCollectorSweepSkipsReclaimBelowWatermark(t *testing.T) {
	s := newPersonShard(t)

	tx1 := s.Access(1, txn.IsolationSnapshot)
	v, err := tx1.CreateVertex([]string{"Person"}, []value.Value{value.Int(1)}, nil)
	require.NoError(t, err)
	s.Commit(tx1)

	tx2 := s.Access(2, txn.IsolationSnapshot)
	require.NoError(t, tx2.DeleteVertex(v))
	s.Commit(tx2)

	// A watermark that has not advanced past txn 2 yet must leave the
	// deleted vertex's delta chain intact.
	watermark := func() (mvcc.Snapshot, mvcc.TxnID) {
		return mvcc.Snapshot{Self: 1000, InProgress: map[mvcc.TxnID]struct{}{}}, 2
	}
	c := New(time.Hour, func() []*shard.Shard { return []*shard.Shard{s} }, watermark)
	c.sweep()

	assert.Equal(t, 0, c.LastSweep().Reclaimed)
}

func TestCollectorStartStopRunsAtLeastOneSweepImmediately(t *testing.T) {
	s := newPersonShard(t)

	tx1 := s.Access(1, txn.IsolationSnapshot)
	v, err := tx1.CreateVertex([]string{"Person"}, []value.Value{value.Int(1)}, nil)
	require.NoError(t, err)
	s.Commit(tx1)

	tx2 := s.Access(2, txn.IsolationSnapshot)
	require.NoError(t, tx2.DeleteVertex(v))
	s.Commit(tx2)

	watermark := func() (mvcc.Snapshot, mvcc.TxnID) {
		return mvcc.Snapshot{Self: 1000, InProgress: map[mvcc.TxnID]struct{}{}}, 1000
	}
	c := New(time.Hour, func() []*shard.Shard { return []*shard.Shard{s} }, watermark)

	done := make(chan struct{})
	go func() {
		c.Start(nil)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return c.LastSweep().ShardsSwept > 0
	}, time.Second, time.Millisecond)

	c.Stop()
	<-done

	assert.Equal(t, 1, c.LastSweep().Reclaimed)
}
