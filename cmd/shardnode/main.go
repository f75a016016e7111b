// Command shardnode runs one storage node: a shard manager hosting a
// worker pool of shards, a garbage collector sweeping them, a local
// durability log, and a small HTTP surface for operational visibility.
//
// Architecture:
//
//	┌───────────────────────────────────────────┐
//	│                shardnode                   │
//	├───────────────────────────────────────────┤
//	│  HTTP API:                                 │
//	│    /health - liveness probe                │
//	│    /info   - hosted shard stats            │
//	├───────────────────────────────────────────┤
//	│  Components:                               │
//	│    shardmgr.Manager  - worker pool, cron    │
//	│    gc.Collector      - periodic sweep       │
//	│    wal.BoltLogStore  - local durability     │
//	└───────────────────────────────────────────┘
//
// Configuration is cobra flags, falling back to conventional
// environment-variable names when a flag is left unset:
//
//	--node-id            NODE_ID
//	--listen              NODE_LISTEN
//	--advertise-addr      NODE_ADDR
//	--coordinator-addr    COORDINATOR_ADDR
//	--num-workers         NODE_WORKERS
//	--data-dir            NODE_DATA_DIR
//	--schema-file         NODE_SCHEMA_FILE
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/graphshard/internal/cluster"
	"github.com/dreamware/graphshard/internal/gc"
	"github.com/dreamware/graphshard/internal/logging"
	"github.com/dreamware/graphshard/internal/mvcc"
	"github.com/dreamware/graphshard/internal/schema"
	"github.com/dreamware/graphshard/internal/shard"
	"github.com/dreamware/graphshard/internal/shardmgr"
	"github.com/dreamware/graphshard/internal/wal"
)

type flags struct {
	nodeID           string
	listen           string
	advertiseAddr    string
	coordinatorAddr  string
	numWorkers       int
	dataDir          string
	schemaFile       string
	heartbeatMinMs   int
	heartbeatMaxMs   int
	gcInterval       time.Duration
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "shardnode",
		Short: "Runs a storage node hosting a shard manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(f)
		},
	}

	cmd.Flags().StringVar(&f.nodeID, "node-id", envDefault("NODE_ID", ""), "unique id for this node")
	cmd.Flags().StringVar(&f.listen, "listen", envDefault("NODE_LISTEN", ":8081"), "address to listen on")
	cmd.Flags().StringVar(&f.advertiseAddr, "advertise-addr", envDefault("NODE_ADDR", "http://127.0.0.1:8081"), "address advertised to the coordinator")
	cmd.Flags().StringVar(&f.coordinatorAddr, "coordinator-addr", envDefault("COORDINATOR_ADDR", ""), "base URL of the coordinator")
	numWorkers := 4
	if v := os.Getenv("NODE_WORKERS"); v != "" {
		fmt.Sscanf(v, "%d", &numWorkers)
	}
	cmd.Flags().IntVar(&f.numWorkers, "num-workers", numWorkers, "number of cooperative worker goroutines")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", envDefault("NODE_DATA_DIR", "./data"), "directory for the local durability log")
	cmd.Flags().StringVar(&f.schemaFile, "schema-file", envDefault("NODE_SCHEMA_FILE", ""), "optional YAML schema file to validate at startup")
	cmd.Flags().IntVar(&f.heartbeatMinMs, "heartbeat-min-ms", 100, "lower bound of the heartbeat jitter window")
	cmd.Flags().IntVar(&f.heartbeatMaxMs, "heartbeat-max-ms", 200, "upper bound of the heartbeat jitter window")
	cmd.Flags().DurationVar(&f.gcInterval, "gc-interval", 30*time.Second, "interval between garbage collection sweeps")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(f *flags) error {
	if f.nodeID == "" {
		return fmt.Errorf("--node-id is required")
	}
	if f.coordinatorAddr == "" {
		return fmt.Errorf("--coordinator-addr is required")
	}

	logging.Init(logging.Config{Level: logging.InfoLevel})
	log := logging.WithComponent("shardnode")

	if f.schemaFile != "" {
		primaryLabel, pk, err := schema.LoadFile(f.schemaFile)
		if err != nil {
			return fmt.Errorf("loading schema file %s: %w", f.schemaFile, err)
		}
		log.Info().Str("primary_label", primaryLabel).Int("pk_properties", len(pk)).Msg("validated schema file at startup")
	}

	if err := os.MkdirAll(f.dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	logStore, err := wal.Open(filepath.Join(f.dataDir, "wal.db"))
	if err != nil {
		return fmt.Errorf("opening durability log: %w", err)
	}
	defer logStore.Close()

	self := cluster.NodeInfo{ID: f.nodeID, Addr: f.advertiseAddr}
	coord := shardmgr.HTTPClient{BaseURL: f.coordinatorAddr}
	manager := shardmgr.New(f.numWorkers, self, coord, time.Duration(f.heartbeatMinMs)*time.Millisecond, time.Duration(f.heartbeatMaxMs)*time.Millisecond)

	collector := gc.New(f.gcInterval, hostedShards(manager), watermarkFor(manager))

	ctx, cancel := context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, _ *http.Request) {
		handleInfo(manager, w)
	})

	srv := &http.Server{
		Addr:              f.listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("node_id", f.nodeID).Str("listen", f.listen).Msg("shardnode listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	go manager.Start(ctx)
	go collector.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shardnode stopping")
	cancel()
	manager.Stop()
	collector.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}
	log.Info().Msg("shardnode stopped")
	return nil
}

// hostedShards adapts the manager's internal shard map into the
// gc.ShardSource signature, re-read fresh on every sweep.
func hostedShards(m *shardmgr.Manager) gc.ShardSource {
	return func() []*shard.Shard {
		return m.HostedShards()
	}
}

// watermarkFor computes a node-local GC watermark: the oldest
// transaction id still in progress against any shard this node hosts. A
// full cluster-wide watermark would need a transaction id authority
// shared across nodes, which this engine does not yet have (no
// multi-node distributed transaction coordinator is in scope); treating
// "this node's own in-flight transactions" as the watermark is
// conservative in the single-node-per-shard topology the rest of the
// engine assumes.
func watermarkFor(m *shardmgr.Manager) gc.WatermarkFunc {
	return func() (mvcc.Snapshot, mvcc.TxnID) {
		inProgress := make(map[mvcc.TxnID]struct{})
		var oldest mvcc.TxnID
		first := true
		for _, s := range m.HostedShards() {
			for id := range s.InProgressSnapshot() {
				inProgress[id] = struct{}{}
				if first || id < oldest {
					oldest = id
					first = false
				}
			}
		}
		snap := mvcc.Snapshot{InProgress: inProgress}
		if first {
			// Nothing in progress anywhere: every committed delta is
			// reclaimable, so the watermark is the largest representable
			// id.
			oldest = ^mvcc.TxnID(0)
		}
		return snap, oldest
	}
}

func handleInfo(m *shardmgr.Manager, w http.ResponseWriter) {
	shards := m.HostedShards()
	type shardInfo struct {
		ID    string      `json:"id"`
		Label string      `json:"primary_label"`
		Stats shard.Stats `json:"stats"`
	}
	out := make([]shardInfo, 0, len(shards))
	for _, s := range shards {
		out = append(out, shardInfo{ID: s.ID.String(), Label: s.PrimaryLabel(), Stats: s.Stats()})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
