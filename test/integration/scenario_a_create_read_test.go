// Package integration_test exercises internal/shard, internal/txn, and
// internal/gstore together the way a single node would, end to end,
// mirroring the scenario style already used by internal/shard's own
// table of unit tests (newPersonShard/createPerson) but crossing
// multiple commits and accessors per test rather than one operation.
package integration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphshard/internal/schema"
	"github.com/dreamware/graphshard/internal/shard"
	"github.com/dreamware/graphshard/internal/txn"
	"github.com/dreamware/graphshard/internal/value"
)

func newPersonShard(t *testing.T, splitThreshold int) *shard.Shard {
	t.Helper()
	s := shard.New(shard.Config{
		PrimaryLabel:   "Person",
		MinPK:          value.Int(0),
		HasMaxPK:       false,
		SplitThreshold: splitThreshold,
	})
	s.SetPKSchema([]schema.SchemaProperty{{Name: "id", Type: schema.TypeInt}})
	return s
}

// TestSingleShardCreateRead covers a create under one accessor and a
// read under a later one, both against the shard's stable primary key.
func TestSingleShardCreateRead(t *testing.T) {
	s := newPersonShard(t, 0)

	t1 := s.Access(1, txn.IsolationSnapshot)
	_, err := t1.CreateVertex([]string{"Person"}, []value.Value{value.Int(1)}, map[string]value.Value{"name": value.String("a")})
	require.NoError(t, err)
	s.Commit(t1)

	t2 := s.Access(2, txn.IsolationSnapshot)
	v, ok := t2.FindVertex(value.Int(1), txn.ViewOld)
	require.True(t, ok)

	labelID, ok := s.Labels().Lookup("Person")
	require.True(t, ok)
	assert.True(t, v.HasLabel(uint32(labelID)))

	propID, ok := s.Properties().Lookup("name")
	require.True(t, ok)
	got, ok := v.Property(uint32(propID))
	require.True(t, ok)
	assert.True(t, got.Equal(value.String("a")))
}
