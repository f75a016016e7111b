// Package cluster provides the transport primitives shared by the shard
// manager and the coordinator: node addressing and small JSON-over-HTTP
// request helpers. It carries no knowledge of shards, transactions, or
// the storage engine itself — those live in internal/shardmgr,
// internal/shardmap, and internal/shard.
//
// # Overview
//
// Every message exchanged between a shard manager (running on a storage
// node) and the coordinator is plain JSON over HTTP. This package supplies
// the two building blocks that traffic rides on:
//
//   - NodeInfo: the address of a shard-manager process (ip:port plus a
//     stable id), used as the "from" field on heartbeats. Split and
//     shard-initialization instructions travel back in the heartbeat
//     response, not as separate requests to this address.
//   - PostJSON / GetJSON: a context-aware, timeout-bound HTTP client
//     wrapper used by both sides so request encoding and error handling
//     are consistent. Neither retries a failed request.
//
// # Why a separate package
//
// internal/shardmgr (the node-side heartbeat sender) and cmd/coordinator
// (the HTTP-facing heartbeat receiver) both need to speak the same wire
// shape without depending on each other's internals. Keeping the
// transport helpers here, independent of shard/shardmap, avoids an import
// cycle and keeps the wire framing opaque to the storage engine itself.
//
// # Concurrency
//
// The shared http.Client is safe for concurrent use; PostJSON/GetJSON
// allocate no package-level mutable state beyond it.
package cluster
