// Command coordinator runs the cluster control plane: it accepts
// heartbeats from every storage node's shard manager, bootstraps the
// configured primary label's first shard, reconciles confirmed shards
// into the shard map, and issues split instructions.
//
// HTTP API:
//
//	POST /heartbeat - internal/shardmgr.HTTPClient's target; body is a
//	                   shardmgr.HeartbeatRequest, response a
//	                   shardmgr.HeartbeatResponse
//	GET  /nodes      - lists every node the coordinator has heard from
//	GET  /shards     - lists every range entry under a ?label= query
//
// Configuration mirrors cmd/shardnode: cobra flags falling back to
// conventional environment-variable naming.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/graphshard/internal/coordinator"
	"github.com/dreamware/graphshard/internal/logging"
	"github.com/dreamware/graphshard/internal/schema"
	"github.com/dreamware/graphshard/internal/shardmap"
	"github.com/dreamware/graphshard/internal/shardmgr"
)

type flags struct {
	listen            string
	heartbeatInterval time.Duration
	schemaFile        string
	splitThreshold    int
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
		Use:   "coordinator",
		Short: "Runs the cluster's shard map coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(f)
		},
	}

	cmd.Flags().StringVar(&f.listen, "listen", envDefault("COORDINATOR_LISTEN", ":8080"), "address to listen on")
	cmd.Flags().DurationVar(&f.heartbeatInterval, "heartbeat-interval", 150*time.Millisecond, "expected node heartbeat interval, used for staleness bookkeeping")
	cmd.Flags().StringVar(&f.schemaFile, "schema-file", envDefault("COORDINATOR_SCHEMA_FILE", ""), "YAML file declaring the cluster's primary label and primary-key schema")
	cmd.Flags().IntVar(&f.splitThreshold, "split-threshold", 100000, "object count at which a shard is instructed to split")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(f *flags) error {
	logging.Init(logging.Config{Level: logging.InfoLevel})
	log := logging.WithComponent("coordinator")

	var cfg coordinator.Config
	cfg.SplitThreshold = f.splitThreshold
	if f.schemaFile != "" {
		primaryLabel, pk, err := schema.LoadFile(f.schemaFile)
		if err != nil {
			return fmt.Errorf("loading schema file %s: %w", f.schemaFile, err)
		}
		cfg.PrimaryLabel = primaryLabel
		cfg.PKSchema = pk
		log.Info().Str("primary_label", primaryLabel).Int("pk_properties", len(pk)).Msg("loaded cluster schema")
	}

	registry := coordinator.New(shardmap.New(), cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		handleHeartbeat(registry, w, r)
	})
	mux.HandleFunc("/nodes", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(registry.Nodes())
	})
	mux.HandleFunc("/shards", func(w http.ResponseWriter, r *http.Request) {
		handleShards(registry, w, r)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              f.listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("listen", f.listen).Msg("coordinator listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	go staleNodeSweep(registry, f.heartbeatInterval)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("coordinator stopping")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}
	log.Info().Msg("coordinator stopped")
	return nil
}

func handleHeartbeat(registry *coordinator.Registry, w http.ResponseWriter, r *http.Request) {
	var req shardmgr.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := registry.Heartbeat(req)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func handleShards(registry *coordinator.Registry, w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("label")
	if label == "" {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(registry.ShardMap().Labels())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(registry.ShardMap().Entries(label))
}

// staleNodeSweep periodically logs nodes that have stopped heartbeating,
// at ten times the expected heartbeat interval so a single missed beat
// under normal jitter never trips it.
func staleNodeSweep(registry *coordinator.Registry, heartbeatInterval time.Duration) {
	log := logging.WithComponent("coordinator")
	threshold := heartbeatInterval * 10
	ticker := time.NewTicker(heartbeatInterval * 20)
	defer ticker.Stop()
	for range ticker.C {
		for _, id := range registry.StaleNodes(threshold) {
			log.Warn().Str("node_id", id).Dur("threshold", threshold).Msg("node has not heartbeated recently")
		}
	}
}
