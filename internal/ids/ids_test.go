package ids

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternAssignsStableIDs(t *testing.T) {
	m := NewMapper(KindLabel)

	id1 := m.Intern("Person")
	id2 := m.Intern("Company")
	id3 := m.Intern("Person")

	assert.Equal(t, id1, id3)
	assert.NotEqual(t, id1, id2)
	assert.NotZero(t, id1)
}

func TestLookupMissReturnsFalse(t *testing.T) {
	m := NewMapper(KindProperty)
	_, ok := m.Lookup("age")
	assert.False(t, ok)

	id := m.Intern("age")
	got, ok := m.Lookup("age")
	assert.True(t, ok)
	assert.Equal(t, id, got)
}

func TestNameReverseLookup(t *testing.T) {
	m := NewMapper(KindEdgeType)
	id := m.Intern("KNOWS")

	name, ok := m.Name(id)
	require.True(t, ok)
	assert.Equal(t, "KNOWS", name)

	_, ok = m.Name(id + 100)
	assert.False(t, ok)

	_, ok = m.Name(0)
	assert.False(t, ok)
}

func TestConcurrentInternIsSafeForReaders(t *testing.T) {
	m := NewMapper(KindLabel)
	id := m.Intern("Seed")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok := m.Lookup("Seed")
			assert.True(t, ok)
			assert.Equal(t, id, got)
		}()
	}
	wg.Wait()
}

func TestMapperCloneIsIndependent(t *testing.T) {
	m := NewMapper(KindLabel)
	id := m.Intern("Person")

	clone := m.Clone()
	cloneOnlyID := clone.Intern("Company")

	_, ok := m.Lookup("Company")
	assert.False(t, ok, "interning on the clone must not affect the original")

	got, ok := clone.Lookup("Person")
	require.True(t, ok)
	assert.Equal(t, id, got, "the clone retains every id assigned before cloning")
	assert.NotZero(t, cloneOnlyID)
}

func TestSetNamespacesAreIndependent(t *testing.T) {
	s := NewSet()
	labelID := s.Labels.Intern("Name")
	propID := s.Properties.Intern("Name")

	assert.Equal(t, labelID, propID, "both start at ID 1 in their own namespace")

	_, ok := s.EdgeTypes.Lookup("Name")
	assert.False(t, ok)
}
