// Package coordinator implements the cluster control plane: reconciling
// heartbeats from every storage node's shard manager, bootstrapping the
// cluster's declared primary label onto the first node
// that registers, installing confirmed shards into the shard map, and
// issuing split instructions once a hosted shard reports itself
// oversized.
//
// The node-registration handler's assign-on-first-contact idiom becomes a
// single bootstrap assignment (this engine has no replica concept to
// round-robin across), and the AssignShard/
// GetNodeForKey hash-based pairing is replaced outright by
// internal/shardmap.ShardMap, which already routes by ordered
// primary-key range instead of consistent hashing.
package coordinator

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/graphshard/internal/cluster"
	"github.com/dreamware/graphshard/internal/hlc"
	"github.com/dreamware/graphshard/internal/logging"
	"github.com/dreamware/graphshard/internal/schema"
	"github.com/dreamware/graphshard/internal/shardmap"
	"github.com/dreamware/graphshard/internal/shardmgr"
	"github.com/dreamware/graphshard/internal/value"
)

// Config declares the cluster's single primary label and its PK schema,
// sourced from the YAML file cmd/shardnode/cmd/coordinator load via
// internal/schema.LoadFile — the coordinator needs the same declaration
// so it can bootstrap the first shard without waiting for a node to
// already have one.
type Config struct {
	PrimaryLabel   string
	PKSchema       []schema.SchemaProperty
	SplitThreshold int
}

// nodeState is the coordinator's bookkeeping for one storage node,
// tracked purely from heartbeat arrivals (there is no separate /register
// call in this protocol; the first heartbeat from an unknown node id is
// its registration).
type nodeState struct {
	info          cluster.NodeInfo
	lastHeartbeat time.Time
	bootstrapped  bool
}

// Registry is the coordinator's mutable cluster state: the shard map plus
// per-node reconciliation bookkeeping. One Registry backs one
// coordinator process.
type Registry struct {
	mu       sync.RWMutex
	shardMap *shardmap.ShardMap
	clock    *hlc.Clock
	cfg      Config

	nodes      map[string]*nodeState
	shardLabel map[uuid.UUID]string // confirmed shard id -> label, for split lookups
}

// New returns a registry backed by shardMap, configured to bootstrap
// cfg.PrimaryLabel onto the first node that heartbeats in.
func New(shardMap *shardmap.ShardMap, cfg Config) *Registry {
	return &Registry{
		shardMap:   shardMap,
		clock:      hlc.NewClock(),
		cfg:        cfg,
		nodes:      make(map[string]*nodeState),
		shardLabel: make(map[uuid.UUID]string),
	}
}

// Heartbeat reconciles one shard manager's heartbeat: installs any newly
// confirmed shards into the shard map, bootstraps the cluster's primary
// label onto a node hosting nothing yet, and turns pending split
// suggestions into split instructions.
func (r *Registry) Heartbeat(req shardmgr.HeartbeatRequest) shardmgr.HeartbeatResponse {
	log := logging.WithComponent("coordinator")

	r.mu.Lock()
	defer r.mu.Unlock()

	ns, known := r.nodes[req.Address.ID]
	if !known {
		ns = &nodeState{}
		r.nodes[req.Address.ID] = ns
		log.Info().Str("node_id", req.Address.ID).Str("addr", req.Address.Addr).Msg("node registered via first heartbeat")
	}
	ns.info = req.Address
	ns.lastHeartbeat = time.Now()

	var resp shardmgr.HeartbeatResponse

	for _, manifest := range req.InitializedButNotConfirmed {
		if _, already := r.shardMap.FindByShardID(manifest.PrimaryLabel, manifest.ShardID); already {
			continue
		}
		addr, err := shardAddressFor(req.Address, manifest.ShardID)
		if err != nil {
			log.Warn().Err(err).Str("node_id", req.Address.ID).Msg("cannot install unconfirmed shard: unparsable node address")
			continue
		}
		if err := r.shardMap.AssignRange(manifest.PrimaryLabel, manifest.MinPK, manifest.HasMaxPK, manifest.MaxPK, addr, manifest.Version); err != nil {
			log.Warn().Err(err).Str("shard_id", manifest.ShardID.String()).Msg("failed to install confirmed shard into shard map")
			continue
		}
		r.shardLabel[manifest.ShardID] = manifest.PrimaryLabel
		log.Info().Str("shard_id", manifest.ShardID.String()).Str("label", manifest.PrimaryLabel).Msg("shard confirmed into shard map")
	}

	if r.cfg.PrimaryLabel != "" && !ns.bootstrapped && r.shardMap.Len(r.cfg.PrimaryLabel) == 0 {
		ns.bootstrapped = true
		resp.NewShardAssignments = append(resp.NewShardAssignments, shardmgr.ShardAssignment{
			PrimaryLabel:   r.cfg.PrimaryLabel,
			MinPK:          lowerBound(r.cfg.PKSchema),
			HasMaxPK:       false,
			SplitThreshold: r.cfg.SplitThreshold,
			PKSchema:       r.cfg.PKSchema,
		})
		log.Info().Str("node_id", req.Address.ID).Str("label", r.cfg.PrimaryLabel).Msg("bootstrapping initial shard onto node")
	}

	for _, suggestion := range req.PendingSplitSuggestions {
		label, ok := r.shardLabel[suggestion.ShardID]
		if !ok {
			log.Warn().Str("shard_id", suggestion.ShardID.String()).Msg("split suggestion for shard with no known label, ignoring")
			continue
		}
		current, ok := r.shardMap.FindByShardID(label, suggestion.ShardID)
		if !ok {
			log.Warn().Str("shard_id", suggestion.ShardID.String()).Msg("split suggestion for shard no longer present in shard map, ignoring")
			continue
		}
		resp.SplitInstructions = append(resp.SplitInstructions, shardmgr.SplitInstruction{
			ShardID:       suggestion.ShardID,
			SplitKey:      suggestion.SplitKey,
			NewLHSVersion: r.clock.Now(),
			NewRHSVersion: r.clock.Now(),
		})
		log.Info().Str("shard_id", suggestion.ShardID.String()).Str("label", label).Interface("version", current.Version).Msg("issuing split instruction")
	}

	return resp
}

// Nodes returns a snapshot of every node the coordinator has heard from,
// most recently heartbeated first is not guaranteed; callers that need
// ordering should sort.
func (r *Registry) Nodes() []cluster.NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]cluster.NodeInfo, 0, len(r.nodes))
	for _, ns := range r.nodes {
		out = append(out, ns.info)
	}
	return out
}

// StaleNodes returns the ids of every node whose last heartbeat is older
// than threshold, used by the coordinator's periodic liveness sweep,
// which logs them.
func (r *Registry) StaleNodes(threshold time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var stale []string
	for id, ns := range r.nodes {
		if now.Sub(ns.lastHeartbeat) > threshold {
			stale = append(stale, id)
		}
	}
	return stale
}

// ShardMap exposes the underlying routing table, e.g. for an admin HTTP
// endpoint that lists current assignments.
func (r *Registry) ShardMap() *shardmap.ShardMap { return r.shardMap }

func shardAddressFor(node cluster.NodeInfo, shardID uuid.UUID) (shardmap.ShardAddress, error) {
	host, port, err := splitHostPort(node.Addr)
	if err != nil {
		return shardmap.ShardAddress{}, err
	}
	return shardmap.ShardAddress{UUID: shardID, IP: host, Port: port}, nil
}

func splitHostPort(addr string) (string, int, error) {
	target := addr
	if u, err := url.Parse(addr); err == nil && u.Host != "" {
		target = u.Host
	}
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, fmt.Errorf("parsing node address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("parsing node port in %q: %w", addr, err)
	}
	return host, port, nil
}

// lowerBound returns the smallest representable value of the first
// declared primary-key property's type, used as the bootstrap shard's
// MinPK so it covers the entire key space from the start. Defaults to
// the integer minimum when no schema is declared yet (a schema can still
// be attached later via SetPKSchema).
func lowerBound(pk []schema.SchemaProperty) value.Value {
	if len(pk) == 0 {
		return value.Int(math.MinInt64)
	}
	switch pk[0].Type {
	case schema.TypeInt:
		return value.Int(math.MinInt64)
	case schema.TypeDouble:
		return value.Double(-math.MaxFloat64)
	case schema.TypeString:
		return value.String("")
	case schema.TypeBool:
		return value.Bool(false)
	default:
		return value.Int(math.MinInt64)
	}
}
