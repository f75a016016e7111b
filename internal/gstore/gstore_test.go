package gstore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphshard/internal/mvcc"
	"github.com/dreamware/graphshard/internal/value"
)

func newTestVertex(s *VertexStore, pk int64) *Vertex {
	head := mvcc.NewHead(1, 0, mvcc.NewCommitInfo(1))
	return NewVertex(s.NextID(), value.Int(pk), head)
}

func TestVertexStoreInsertAndFindByPK(t *testing.T) {
	s := NewVertexStore()
	v1 := newTestVertex(s, 10)
	v2 := newTestVertex(s, 5)

	require.True(t, s.Insert(v1))
	require.True(t, s.Insert(v2))

	got, ok := s.FindByPK(value.Int(10))
	require.True(t, ok)
	assert.Equal(t, v1.ID, got.ID)

	_, ok = s.FindByPK(value.Int(999))
	assert.False(t, ok)
}

func TestVertexStoreInsertDuplicatePKFails(t *testing.T) {
	s := NewVertexStore()
	v1 := newTestVertex(s, 1)
	v2 := newTestVertex(s, 1)

	require.True(t, s.Insert(v1))
	assert.False(t, s.Insert(v2))
}

func TestVertexStoreSnapshotIsOrdered(t *testing.T) {
	s := NewVertexStore()
	for _, pk := range []int64{30, 10, 20} {
		require.True(t, s.Insert(newTestVertex(s, pk)))
	}

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	for i := 0; i < len(snap)-1; i++ {
		assert.LessOrEqual(t, value.Compare(snap[i].PK, snap[i+1].PK), 0)
	}
}

func TestVertexStoreRangeBounds(t *testing.T) {
	s := NewVertexStore()
	for _, pk := range []int64{1, 2, 3, 4, 5} {
		require.True(t, s.Insert(newTestVertex(s, pk)))
	}

	got := s.Range(value.Int(2), true, value.Int(4), true)
	require.Len(t, got, 2)
	assert.True(t, got[0].PK.Equal(value.Int(2)))
	assert.True(t, got[1].PK.Equal(value.Int(3)))
}

func TestVertexStoreConcurrentInsertStableIteration(t *testing.T) {
	s := NewVertexStore()
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(pk int64) {
			defer wg.Done()
			s.Insert(newTestVertex(s, pk))
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, n, s.Len())
	snap := s.Snapshot()
	for i := 0; i < len(snap)-1; i++ {
		assert.LessOrEqual(t, value.Compare(snap[i].PK, snap[i+1].PK), 0)
	}
}

func TestVertexPropertyRoundTrip(t *testing.T) {
	s := NewVertexStore()
	v := newTestVertex(s, 1)

	old, hadOld := v.SetProperty(1, value.String("alice"))
	assert.False(t, hadOld)
	assert.True(t, old.IsNull())

	got, ok := v.Property(1)
	require.True(t, ok)
	assert.Equal(t, "alice", mustString(t, got))

	old, hadOld = v.SetProperty(1, value.String("bob"))
	assert.True(t, hadOld)
	assert.Equal(t, "alice", mustString(t, old))

	v.RestoreProperty(1, old, hadOld)
	got, _ = v.Property(1)
	assert.Equal(t, "alice", mustString(t, got))
}

func mustString(t *testing.T, v value.Value) string {
	t.Helper()
	s, ok := v.AsString()
	require.True(t, ok)
	return s
}

func TestVertexAdjacencyLists(t *testing.T) {
	s := NewVertexStore()
	v := newTestVertex(s, 1)

	ref := EdgeRef{EdgeID: 7, Other: 2, Type: 1}
	v.AddOutEdge(ref)
	assert.Len(t, v.OutEdges(), 1)

	v.RemoveOutEdge(7)
	assert.Empty(t, v.OutEdges())
}

func TestEdgeStoreOrderingByKey(t *testing.T) {
	s := NewEdgeStore()
	mk := func(src, dst VertexID, typ uint32) *Edge {
		gid := s.NextGID()
		return NewEdge(EdgeKey{Src: src, Dst: dst, Type: typ, GID: gid}, mvcc.NewHead(1, 0, mvcc.NewCommitInfo(1)))
	}

	e2 := mk(2, 1, 0)
	e1 := mk(1, 5, 0)
	s.Insert(e2)
	s.Insert(e1)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, VertexID(1), snap[0].Key.Src)
	assert.Equal(t, VertexID(2), snap[1].Key.Src)
}

func TestEdgeKeyLess(t *testing.T) {
	a := EdgeKey{Src: 1, Dst: 1, Type: 0, GID: 1}
	b := EdgeKey{Src: 1, Dst: 2, Type: 0, GID: 1}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
}

func TestVertexStoreSeedNextIDNeverLowersCounter(t *testing.T) {
	s := NewVertexStore()
	_ = s.NextID() // consumes id 1

	s.SeedNextID(100)
	assert.Equal(t, VertexID(100), s.PeekNextID())

	s.SeedNextID(5) // must not lower a counter already past it
	assert.Equal(t, VertexID(100), s.PeekNextID())

	assert.Equal(t, VertexID(100), s.NextID())
	assert.Equal(t, VertexID(101), s.PeekNextID())
}

func TestVertexStoreRemoveDeletesEntry(t *testing.T) {
	s := NewVertexStore()
	v := newTestVertex(s, 1)
	require.True(t, s.Insert(v))

	s.Remove(value.Int(1))
	_, ok := s.FindByPK(value.Int(1))
	assert.False(t, ok)
	_, ok = s.FindByID(v.ID)
	assert.False(t, ok)
}

func TestEdgeStoreSeedNextGIDNeverLowersCounter(t *testing.T) {
	s := NewEdgeStore()
	_ = s.NextGID()

	s.SeedNextGID(50)
	assert.Equal(t, EdgeID(50), s.PeekNextGID())

	s.SeedNextGID(2)
	assert.Equal(t, EdgeID(50), s.PeekNextGID())
}

func TestEdgeStoreRemoveDeletesEntry(t *testing.T) {
	s := NewEdgeStore()
	gid := s.NextGID()
	key := EdgeKey{Src: 1, Dst: 2, Type: 0, GID: gid}
	e := NewEdge(key, mvcc.NewHead(1, 0, mvcc.NewCommitInfo(1)))
	s.Insert(e)

	s.Remove(key)
	_, ok := s.FindByID(gid)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}
