package integration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphshard/internal/shard"
	"github.com/dreamware/graphshard/internal/txn"
	"github.com/dreamware/graphshard/internal/value"
)

// TestSplitPartitionsVerticesAndKeepsOngoingTransactionCoherent covers a
// split run while a transaction is still open against the parent: the
// vertex it creates before the split lands on whichever successor its
// key belongs to, and committing afterward makes it visible through
// that successor.
func TestSplitPartitionsVerticesAndKeepsOngoingTransactionCoherent(t *testing.T) {
	s := newPersonShard(t, 0)

	setup := s.Access(1, txn.IsolationSnapshot)
	for _, id := range []int64{1, 2, 3, 4, 5, 6} {
		_, err := setup.CreateVertex([]string{"Person"}, []value.Value{value.Int(id)}, nil)
		require.NoError(t, err)
	}
	s.Commit(setup)

	ongoing := s.Access(2, txn.IsolationSnapshot)
	_, err := ongoing.CreateVertex([]string{"Person"}, []value.Value{value.Int(7)}, nil)
	require.NoError(t, err)

	lhsVer := s.Clock().Now()
	rhsVer := s.Clock().Now()
	split, err := s.PerformSplit(value.Int(4), lhsVer, rhsVer)
	require.NoError(t, err)

	assert.ElementsMatch(t, []int64{1, 2, 3}, vertexKeys(split.LHS))
	assert.ElementsMatch(t, []int64{4, 5, 6, 7}, vertexKeys(split.RHS))

	s.Commit(ongoing)

	reader := split.RHS.Access(3, txn.IsolationSnapshot)
	_, ok := reader.FindVertex(value.Int(7), txn.ViewOld)
	assert.True(t, ok, "the vertex created before the split must be visible through the side it landed on once committed")
}

func vertexKeys(s *shard.Shard) []int64 {
	out := make([]int64, 0)
	for _, v := range s.Vertices().Snapshot() {
		i, _ := v.PK.AsInt()
		out = append(out, i)
	}
	return out
}
