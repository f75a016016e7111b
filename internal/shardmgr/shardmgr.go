// Package shardmgr implements the per-node shard manager: the host that
// multiplexes many shard instances over a small worker pool, reconciles
// membership with the coordinator via heartbeats, and initiates splits.
//
// It hosts a map of shards behind an RWMutex, with on-demand assignment,
// and its heartbeat cron runs on a jittered `[100, 200]ms` bound rather
// than a fixed interval, since worker-cron dispatch must not fall into
// lockstep across many nodes. internal/cluster supplies the
// JSON-over-HTTP transport (PostJSON) used for the coordinator round
// trip.
package shardmgr

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/graphshard/internal/cluster"
	"github.com/dreamware/graphshard/internal/engineerr"
	"github.com/dreamware/graphshard/internal/hlc"
	"github.com/dreamware/graphshard/internal/logging"
	"github.com/dreamware/graphshard/internal/schema"
	"github.com/dreamware/graphshard/internal/shard"
	"github.com/dreamware/graphshard/internal/value"
)

// ShardAssignment is one shard the coordinator has just handed this
// node, carrying everything shard.New and Shard.SetPKSchema need to
// bring it up.
type ShardAssignment struct {
	ShardID        uuid.UUID
	PrimaryLabel   string
	MinPK          value.Value
	HasMaxPK       bool
	MaxPK          value.Value
	SplitThreshold int
	PKSchema       []schema.SchemaProperty
}

// SplitInstruction tells the manager to initiate a split of an
// already-hosted shard, stamping the successors with coordinator-issued
// versions so every node that observes the split agrees on their order.
type SplitInstruction struct {
	ShardID       uuid.UUID
	SplitKey      value.Value
	NewLHSVersion hlc.Timestamp
	NewRHSVersion hlc.Timestamp
}

// SplitSuggestion is reported to the coordinator in a heartbeat when a
// hosted shard's ShouldSplit fires; the coordinator decides whether (and
// with what versions) to actually initiate the split, and replies in a
// later heartbeat with a SplitInstruction.
type SplitSuggestion struct {
	ShardID  uuid.UUID
	SplitKey value.Value
}

// ShardManifest is a self-describing summary of one locally hosted shard,
// carrying everything the coordinator needs to install it into the shard
// map directly, with no separate lookup back to the node. This replaces a
// bare shard uuid in the heartbeat payload: the coordinator never mints a
// shard's uuid (shard.New does, on the node), so the only way it learns
// the uuid of a shard it just assigned — or of a split's two successors,
// whose uuids it had no part in choosing — is by the node reporting it
// back, range and all.
type ShardManifest struct {
	ShardID      uuid.UUID
	PrimaryLabel string
	MinPK        value.Value
	HasMaxPK     bool
	MaxPK        value.Value
	Version      hlc.Timestamp
}

// HeartbeatRequest is the cron payload sent to the coordinator: this
// node's address, the shards it has locally initialized but the
// coordinator has not yet acknowledged, and any pending split
// suggestions.
type HeartbeatRequest struct {
	Address                    cluster.NodeInfo
	InitializedButNotConfirmed []ShardManifest
	PendingSplitSuggestions    []SplitSuggestion
}

// HeartbeatResponse is the coordinator's reply: new shards to host, and
// splits to initiate on already-hosted shards.
type HeartbeatResponse struct {
	NewShardAssignments []ShardAssignment
	SplitInstructions   []SplitInstruction
}

// CoordinatorClient sends a heartbeat and returns the coordinator's
// reconciliation response. The production implementation is HTTPClient;
// tests supply a fake.
type CoordinatorClient interface {
	Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error)
}

// HTTPClient is the production CoordinatorClient, speaking JSON over
// HTTP via internal/cluster to register with the coordinator.
type HTTPClient struct {
	BaseURL string
}

func (c HTTPClient) Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error) {
	var resp HeartbeatResponse
	err := cluster.PostJSON(ctx, c.BaseURL+"/heartbeat", req, &resp)
	return resp, err
}

type task struct {
	s  *shard.Shard
	fn func(*shard.Shard)
}

// worker is one of the manager's N cooperative threads: every shard
// assigned to it is only ever touched from this goroutine, since each
// shard belongs to exactly one worker thread at a time.
type worker struct {
	id    int
	tasks chan task
}

func (w *worker) run() {
	for t := range w.tasks {
		t.fn(t.s)
	}
}

// Manager hosts many shards on one storage node, routes inbound
// messages to the worker that owns their target shard, and reconciles
// membership with the coordinator.
type Manager struct {
	self        cluster.NodeInfo
	coordinator CoordinatorClient
	interval    [2]time.Duration

	workers []*worker

	mu          sync.RWMutex
	shards      map[uuid.UUID]*shard.Shard
	ownerOf     map[uuid.UUID]int // shard id -> worker index
	unconfirmed map[uuid.UUID]struct{}

	splitMu       sync.Mutex
	pendingSplits []SplitSuggestion

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a manager with numWorkers cooperative worker threads,
// heartbeating the coordinator at an interval drawn uniformly from
// [minInterval, maxInterval) on every tick, e.g. a bounded interval of
// [100, 200]ms.
func New(numWorkers int, self cluster.NodeInfo, coordinator CoordinatorClient, minInterval, maxInterval time.Duration) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		self:        self,
		coordinator: coordinator,
		interval:    [2]time.Duration{minInterval, maxInterval},
		shards:      make(map[uuid.UUID]*shard.Shard),
		ownerOf:     make(map[uuid.UUID]int),
		unconfirmed: make(map[uuid.UUID]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	for i := 0; i < numWorkers; i++ {
		m.workers = append(m.workers, &worker{id: i, tasks: make(chan task, 64)})
	}
	return m
}

// AssignShard registers a newly initialized shard with the manager,
// placing it on the least-loaded worker: each shard uuid maps to one
// worker via least-loaded assignment on first contact.
func (m *Manager) AssignShard(s *shard.Shard) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make([]int, len(m.workers))
	for _, idx := range m.ownerOf {
		counts[idx]++
	}
	least := 0
	for i, c := range counts {
		if c < counts[least] {
			least = i
		}
	}

	m.shards[s.ID] = s
	m.ownerOf[s.ID] = least
	m.unconfirmed[s.ID] = struct{}{}
}

// Shard returns the locally hosted shard with the given id, if any.
func (m *Manager) Shard(id uuid.UUID) (*shard.Shard, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shards[id]
	return s, ok
}

// HostedShards returns a snapshot of every shard currently hosted on
// this node, for callers (the garbage collector, admin endpoints) that
// need to walk the whole set without reaching into the manager's
// internals.
func (m *Manager) HostedShards() []*shard.Shard {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*shard.Shard, 0, len(m.shards))
	for _, s := range m.shards {
		out = append(out, s)
	}
	return out
}

// Dispatch routes an inbound message targeting shardID to the worker
// that owns it: every address carries the target shard uuid, and the
// manager hands it to the mapped worker. fn runs on that worker's
// goroutine, never concurrently with any other task for the same shard.
func (m *Manager) Dispatch(shardID uuid.UUID, fn func(*shard.Shard)) error {
	m.mu.RLock()
	s, ok := m.shards[shardID]
	idx := m.ownerOf[shardID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: shard %s not hosted on this node", engineerr.ErrNonexistentObject, shardID)
	}
	m.workers[idx].tasks <- task{s: s, fn: fn}
	return nil
}

// SuggestSplit queues a split suggestion to be reported on the next
// heartbeat. Called by whatever observes Shard.ShouldSplit returning
// true; the manager itself never polls ShouldSplit.
func (m *Manager) SuggestSplit(shardID uuid.UUID, splitKey value.Value) {
	m.splitMu.Lock()
	defer m.splitMu.Unlock()
	m.pendingSplits = append(m.pendingSplits, SplitSuggestion{ShardID: shardID, SplitKey: splitKey})
}

// Start launches every worker goroutine and the heartbeat cron loop,
// blocking the caller until ctx (or the manager's own Stop) is
// cancelled: an immediate first heartbeat, then a loop that reschedules
// itself every tick rather than running off a fixed-period ticker, since the cron
// interval here is a jittered range, not a constant.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()

	if ctx == nil {
		ctx = m.ctx
	}

	for _, w := range m.workers {
		m.wg.Add(1)
		go func(w *worker) {
			defer m.wg.Done()
			w.run()
		}(w)
	}

	log := logging.WithComponent("shardmgr")
	log.Info().Str("node_id", m.self.ID).Int("workers", len(m.workers)).Msg("shard manager started")

	m.heartbeat(ctx)

	for {
		timer := time.NewTimer(m.nextInterval())
		select {
		case <-timer.C:
			m.heartbeat(ctx)
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("shard manager stopping due to context cancellation")
			m.closeWorkers()
			return
		case <-m.ctx.Done():
			timer.Stop()
			log.Info().Msg("shard manager stopping")
			m.closeWorkers()
			return
		}
	}
}

// Stop cancels the manager's loops and waits for them to exit.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) closeWorkers() {
	for _, w := range m.workers {
		close(w.tasks)
	}
}

func (m *Manager) nextInterval() time.Duration {
	lo, hi := m.interval[0], m.interval[1]
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

// heartbeat sends the coordinator this node's reconciliation state and
// applies whatever it returns. Transient failures are swallowed — the
// shard manager keeps going and the next tick simply tries again.
func (m *Manager) heartbeat(ctx context.Context) {
	log := logging.WithComponent("shardmgr")

	m.mu.RLock()
	unconfirmed := make([]ShardManifest, 0, len(m.unconfirmed))
	for id := range m.unconfirmed {
		s := m.shards[id]
		minPK, maxPK, hasMaxPK := s.Range()
		unconfirmed = append(unconfirmed, ShardManifest{
			ShardID:      id,
			PrimaryLabel: s.PrimaryLabel(),
			MinPK:        minPK,
			HasMaxPK:     hasMaxPK,
			MaxPK:        maxPK,
			Version:      s.Version(),
		})
	}
	m.mu.RUnlock()

	m.splitMu.Lock()
	suggestions := m.pendingSplits
	m.pendingSplits = nil
	m.splitMu.Unlock()

	req := HeartbeatRequest{
		Address:                    m.self,
		InitializedButNotConfirmed: unconfirmed,
		PendingSplitSuggestions:    suggestions,
	}

	resp, err := m.coordinator.Heartbeat(ctx, req)
	if err != nil {
		log.Warn().Err(err).Msg("heartbeat failed, will retry next tick")
		m.splitMu.Lock()
		m.pendingSplits = append(suggestions, m.pendingSplits...)
		m.splitMu.Unlock()
		return
	}

	m.applyResponse(ctx, resp)
}

func (m *Manager) applyResponse(ctx context.Context, resp HeartbeatResponse) {
	log := logging.WithComponent("shardmgr")

	for _, a := range resp.NewShardAssignments {
		s := shard.New(shard.Config{
			PrimaryLabel:   a.PrimaryLabel,
			MinPK:          a.MinPK,
			HasMaxPK:       a.HasMaxPK,
			MaxPK:          a.MaxPK,
			SplitThreshold: a.SplitThreshold,
		})
		if len(a.PKSchema) > 0 {
			s.SetPKSchema(a.PKSchema)
		}
		m.AssignShard(s)
		log.Info().Str("shard_id", s.ID.String()).Str("label", a.PrimaryLabel).Msg("hosting newly assigned shard")
	}

	for _, instr := range resp.SplitInstructions {
		instr := instr
		err := m.Dispatch(instr.ShardID, func(s *shard.Shard) {
			m.initiateSplit(s, instr)
		})
		if err != nil {
			log.Warn().Err(err).Str("shard_id", instr.ShardID.String()).Msg("split instruction for unhosted shard")
		}
	}
	_ = ctx
}

// initiateSplit runs on the owning worker, performing the split in place
// against the source shard. On success, both successors are registered
// and placed on their own least-loaded worker; the retired parent stays
// registered so any
// message still in flight against it (e.g. a commit from a transaction
// opened before the split) keeps routing correctly.
func (m *Manager) initiateSplit(s *shard.Shard, instr SplitInstruction) {
	log := logging.WithComponent("shardmgr")

	data, err := s.PerformSplit(instr.SplitKey, instr.NewLHSVersion, instr.NewRHSVersion)
	if err != nil {
		log.Warn().Err(err).Str("shard_id", s.ID.String()).Msg("split failed")
		return
	}

	m.AssignShard(data.LHS)
	m.AssignShard(data.RHS)
	log.Info().
		Str("parent", s.ID.String()).
		Str("lhs", data.LHS.ID.String()).
		Str("rhs", data.RHS.ID.String()).
		Msg("split completed")
}

// ConfirmShards removes the given ids from the unconfirmed set. No
// heartbeat path calls it: HeartbeatResponse carries no acknowledgement
// list, so every shard the manager hosts stays in the unconfirmed set and
// is reported in InitializedButNotConfirmed on every heartbeat.
func (m *Manager) ConfirmShards(ids []uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.unconfirmed, id)
	}
}
