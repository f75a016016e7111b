package shardmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphshard/internal/cluster"
	"github.com/dreamware/graphshard/internal/hlc"
	"github.com/dreamware/graphshard/internal/schema"
	"github.com/dreamware/graphshard/internal/shard"
	"github.com/dreamware/graphshard/internal/value"
)

type fakeCoordinator struct {
	mu    sync.Mutex
	calls int
	resp  HeartbeatResponse
	err   error
	reqs  []HeartbeatRequest
}

func (f *fakeCoordinator) Heartbeat(_ context.Context, req HeartbeatRequest) (HeartbeatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

func (f *fakeCoordinator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newPersonShard(t *testing.T) *shard.Shard {
	t.Helper()
	s := shard.New(shard.Config{PrimaryLabel: "Person", MinPK: value.Int(0), HasMaxPK: false})
	s.SetPKSchema([]schema.SchemaProperty{{Name: "id", Type: schema.TypeInt}})
	return s
}

func TestAssignShardPicksLeastLoadedWorker(t *testing.T) {
	coord := &fakeCoordinator{}
	m := New(2, cluster.NodeInfo{ID: "n1"}, coord, 100*time.Millisecond, 200*time.Millisecond)

	a, b, c := newPersonShard(t), newPersonShard(t), newPersonShard(t)
	m.AssignShard(a)
	m.AssignShard(b)
	m.AssignShard(c)

	counts := make(map[int]int)
	m.mu.RLock()
	for _, idx := range m.ownerOf {
		counts[idx]++
	}
	m.mu.RUnlock()

	total := 0
	for _, n := range counts {
		total += n
		assert.LessOrEqual(t, n, 2)
	}
	assert.Equal(t, 3, total)
}

func TestDispatchRoutesToOwningWorker(t *testing.T) {
	coord := &fakeCoordinator{}
	m := New(1, cluster.NodeInfo{ID: "n1"}, coord, 100*time.Millisecond, 200*time.Millisecond)
	s := newPersonShard(t)
	m.AssignShard(s)

	go m.workers[0].run()
	defer close(m.workers[0].tasks)

	done := make(chan uuid.UUID, 1)
	err := m.Dispatch(s.ID, func(got *shard.Shard) { done <- got.ID })
	require.NoError(t, err)

	select {
	case id := <-done:
		assert.Equal(t, s.ID, id)
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestDispatchUnknownShardFails(t *testing.T) {
	coord := &fakeCoordinator{}
	m := New(1, cluster.NodeInfo{ID: "n1"}, coord, 100*time.Millisecond, 200*time.Millisecond)
	err := m.Dispatch(uuid.New(), func(*shard.Shard) {})
	assert.Error(t, err)
}

func TestHeartbeatAppliesNewShardAssignment(t *testing.T) {
	assignID := uuid.New()
	coord := &fakeCoordinator{
		resp: HeartbeatResponse{
			NewShardAssignments: []ShardAssignment{
				{
					ShardID:      assignID,
					PrimaryLabel: "Person",
					MinPK:        value.Int(0),
					HasMaxPK:     false,
					PKSchema:     []schema.SchemaProperty{{Name: "id", Type: schema.TypeInt}},
				},
			},
		},
	}
	m := New(2, cluster.NodeInfo{ID: "n1"}, coord, 100*time.Millisecond, 200*time.Millisecond)

	m.heartbeat(context.Background())

	assert.Equal(t, 1, coord.callCount())
	m.mu.RLock()
	n := len(m.shards)
	m.mu.RUnlock()
	assert.Equal(t, 1, n, "a new shard from the response must be hosted, even though its id differs from the response's id (shard.New mints its own uuid)")
}

func TestHeartbeatReportsUnconfirmedAndPendingSplits(t *testing.T) {
	coord := &fakeCoordinator{}
	m := New(1, cluster.NodeInfo{ID: "n1"}, coord, 100*time.Millisecond, 200*time.Millisecond)

	s := newPersonShard(t)
	m.AssignShard(s)
	m.SuggestSplit(s.ID, value.Int(50))

	m.heartbeat(context.Background())

	require.Len(t, coord.reqs, 1)
	req := coord.reqs[0]
	require.Len(t, req.InitializedButNotConfirmed, 1)
	manifest := req.InitializedButNotConfirmed[0]
	assert.Equal(t, s.ID, manifest.ShardID)
	assert.Equal(t, "Person", manifest.PrimaryLabel)
	require.Len(t, req.PendingSplitSuggestions, 1)
	assert.Equal(t, s.ID, req.PendingSplitSuggestions[0].ShardID)
}

func TestHeartbeatFailureRequeuesSplitSuggestions(t *testing.T) {
	coord := &fakeCoordinator{err: assert.AnError}
	m := New(1, cluster.NodeInfo{ID: "n1"}, coord, 100*time.Millisecond, 200*time.Millisecond)

	s := newPersonShard(t)
	m.AssignShard(s)
	m.SuggestSplit(s.ID, value.Int(50))

	m.heartbeat(context.Background())

	m.splitMu.Lock()
	got := m.pendingSplits
	m.splitMu.Unlock()
	require.Len(t, got, 1, "a failed heartbeat must not drop the suggestion on the floor")
}

func TestInitiateSplitRegistersSuccessors(t *testing.T) {
	coord := &fakeCoordinator{}
	m := New(2, cluster.NodeInfo{ID: "n1"}, coord, 100*time.Millisecond, 200*time.Millisecond)

	s := newPersonShard(t)
	m.AssignShard(s)
	for _, w := range m.workers {
		go w.run()
	}
	defer func() {
		for _, w := range m.workers {
			close(w.tasks)
		}
	}()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := m.Dispatch(s.ID, func(shd *shard.Shard) {
			m.initiateSplit(shd, SplitInstruction{
				ShardID:       shd.ID,
				SplitKey:      value.Int(50),
				NewLHSVersion: hlc.Timestamp{Wall: 10},
				NewRHSVersion: hlc.Timestamp{Wall: 11},
			})
			close(done)
		})
		require.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("split never completed")
	}
	wg.Wait()

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Equal(t, 3, len(m.shards), "parent stays registered alongside both successors")
}

func TestManagerStartStopHeartbeatsAtLeastOnce(t *testing.T) {
	coord := &fakeCoordinator{}
	m := New(1, cluster.NodeInfo{ID: "n1"}, coord, 10*time.Millisecond, 20*time.Millisecond)

	done := make(chan struct{})
	go func() {
		m.Start(nil)
		close(done)
	}()

	require.Eventually(t, func() bool { return coord.callCount() > 0 }, time.Second, time.Millisecond)

	m.Stop()
	<-done
}
