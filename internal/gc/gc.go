// Package gc implements the garbage collector: a periodic sweep, run
// independently per shard, that reclaims any delta-chain version no
// longer visible to any transaction that could possibly still read it.
//
// A ticker loop started in the caller's goroutine, cancelled via
// context, with an immediate first pass before the first tick and a
// WaitGroup-backed Stop that blocks until the loop has actually exited.
// Each tick computes the oldest live watermark once, via the
// caller-supplied WatermarkFunc, and asks every locally-hosted shard to
// reclaim against it.
//
// There is no separate deferred-delete staging structure tagged with a
// logical timestamp here: oldestLiveWatermark already encodes exactly
// that. An object becomes reclaimable the instant the watermark advances
// past its expiry transaction (mvcc.Head.GCUnreachable), so
// tagging-and-waiting falls out of recomputing the watermark on every
// sweep rather than out of a buffer the collector must maintain on the
// side. See DESIGN.md.
package gc

import (
	"context"
	"sync"
	"time"

	"github.com/dreamware/graphshard/internal/logging"
	"github.com/dreamware/graphshard/internal/mvcc"
	"github.com/dreamware/graphshard/internal/shard"
)

// WatermarkFunc computes the current GC snapshot and oldest live
// transaction watermark that a sweep reclaims against. The collector uses
// whatever it returns as is; cmd/shardnode supplies one computed from the
// transactions open on this node's own shards.
type WatermarkFunc func() (mvcc.Snapshot, mvcc.TxnID)

// ShardSource returns the shards this node currently hosts. Called fresh
// on every sweep so shards gained or lost to splits and reassignment are
// picked up without restarting the collector.
type ShardSource func() []*shard.Shard

// Collector runs the periodic sweep across a changing set of
// locally-hosted shards.
type Collector struct {
	interval  time.Duration
	shards    ShardSource
	watermark WatermarkFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	lastSweep SweepResult
}

// SweepResult summarizes one pass over every hosted shard.
type SweepResult struct {
	ShardsSwept int
	Reclaimed   int
}

// New returns a collector that sweeps every interval. shards and
// watermark must both be non-nil.
func New(interval time.Duration, shards ShardSource, watermark WatermarkFunc) *Collector {
	ctx, cancel := context.WithCancel(context.Background())
	return &Collector{
		interval:  interval,
		shards:    shards,
		watermark: watermark,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start runs the sweep loop in the calling goroutine until ctx (or the
// collector's own Stop) is cancelled. Callers typically invoke this as
// `go collector.Start(ctx)`.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	defer c.wg.Done()

	if ctx == nil {
		ctx = c.ctx
	}

	log := logging.WithComponent("gc")
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", c.interval).Msg("garbage collector started")

	c.sweep()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-ctx.Done():
			log.Info().Msg("garbage collector stopping due to context cancellation")
			return
		case <-c.ctx.Done():
			log.Info().Msg("garbage collector stopping")
			return
		}
	}
}

// Stop cancels the sweep loop and waits for it to exit.
func (c *Collector) Stop() {
	c.cancel()
	c.wg.Wait()
}

// sweep performs one pass: compute the current watermark once, then run
// every hosted shard's CollectGarbage against it. Shards sweep
// sequentially — each CollectGarbage call already holds no shard-wide
// lock across the whole walk (gstore.Snapshot takes its own copy), so a
// slow shard cannot stall a concurrent reader, only the next shard's
// turn in this loop.
func (c *Collector) sweep() {
	g, watermark := c.watermark()

	result := SweepResult{}
	for _, s := range c.shards() {
		result.ShardsSwept++
		result.Reclaimed += s.CollectGarbage(g, watermark)
	}

	c.mu.Lock()
	c.lastSweep = result
	c.mu.Unlock()

	log := logging.WithComponent("gc")
	if result.Reclaimed > 0 {
		log.Debug().
			Int("shards_swept", result.ShardsSwept).
			Int("reclaimed", result.Reclaimed).
			Msg("sweep reclaimed garbage")
	}
}

// LastSweep reports the outcome of the most recently completed sweep,
// for admin/metrics reporting.
func (c *Collector) LastSweep() SweepResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSweep
}
