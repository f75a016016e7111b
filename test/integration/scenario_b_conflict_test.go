package integration_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphshard/internal/engineerr"
	"github.com/dreamware/graphshard/internal/txn"
	"github.com/dreamware/graphshard/internal/value"
)

// TestConcurrentCreateSamePrimaryKeyConflicts verifies that two
// transactions racing to create the same primary key never both
// succeed, even before either commits: primary-key uniqueness is
// enforced at insert time, not at commit time, so the loser sees the
// collision immediately rather than at Commit.
func TestConcurrentCreateSamePrimaryKeyConflicts(t *testing.T) {
	s := newPersonShard(t, 0)

	t1 := s.Access(1, txn.IsolationSnapshot)
	t2 := s.Access(2, txn.IsolationSnapshot)

	_, err := t1.CreateVertex(nil, []value.Value{value.Int(1)}, map[string]value.Value{"x": value.Int(1)})
	require.NoError(t, err)

	_, err = t2.CreateVertex(nil, []value.Value{value.Int(1)}, map[string]value.Value{"x": value.Int(2)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, engineerr.ErrVertexAlreadyInserted))

	s.Commit(t1)
	s.Abort(t2)
}
