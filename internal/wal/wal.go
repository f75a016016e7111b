// Package wal implements a durability log for shard commit records.
// internal/shard does not append to it and nothing replays it;
// cmd/shardnode only opens and closes the store. Replicated durability is out of scope here: the engine defines a
// pluggable append-only log contract rather than a consensus protocol,
// so a deployment that wants replicated durability can layer it
// underneath without this package knowing anything about leadership or
// quorums.
//
// Grounded on cuemby-warren/poc/raft/fsm.go, which applies JSON-encoded
// commands out of a *raft.Log, and on the hashicorp/raft.LogStore
// interface that fsm.go's raft.Raft instance is backed by
// (cuemby-warren also depends on github.com/hashicorp/raft-boltdb, a
// bbolt-backed LogStore). BoltLogStore implements raft.LogStore
// directly — the same FirstIndex/LastIndex/GetLog/StoreLog(s)/
// DeleteRange contract — over a single go.etcd.io/bbolt bucket keyed by
// big-endian index, following the one-bucket-per-entity-type,
// JSON-marshaled-value shape of cuemby-warren/pkg/storage/boltdb.go. The
// actual consensus loop (leader election, replication, snapshotting) is
// not wired up — a future replicated deployment could hand a *raft.Raft
// built from this LogStore to an FSM that applies DeltaRecords to
// internal/shard; this package stops at the log itself.
package wal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	bolt "go.etcd.io/bbolt"

	"github.com/dreamware/graphshard/internal/hlc"
)

var logBucket = []byte("wal_log")

// DeltaRecord is the payload every WAL entry carries: enough to replay
// one committed transaction's effects against a shard without
// consulting anything else. Kind names a shard.Transaction operation
// ("create_vertex", "set_property", "create_edge", ...); Payload is
// that operation's JSON-encoded arguments.
type DeltaRecord struct {
	ShardID   uuid.UUID     `json:"shard_id"`
	TxnID     uint64        `json:"txn_id"`
	Kind      string        `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp hlc.Timestamp `json:"timestamp"`
}

// BoltLogStore is a bbolt-backed implementation of raft.LogStore,
// usable standalone as a durable append-only log for DeltaRecords
// (AppendRecord/ReadRange) or, unmodified, as the log store a *raft.Raft
// instance persists its own replicated log to.
type BoltLogStore struct {
	db *bolt.DB
}

var _ raft.LogStore = (*BoltLogStore)(nil)

// Open returns a BoltLogStore backed by the bbolt database at path,
// creating it (and its single bucket) if necessary.
func Open(path string) (*BoltLogStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open wal db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(logBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create wal bucket: %w", err)
	}
	return &BoltLogStore{db: db}, nil
}

// Close releases the underlying bbolt database handle.
func (s *BoltLogStore) Close() error {
	return s.db.Close()
}

func indexKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}

// FirstIndex returns the index of the first (oldest) log entry, or 0 if
// the log is empty.
func (s *BoltLogStore) FirstIndex() (uint64, error) {
	var idx uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(logBucket).Cursor()
		k, _ := c.First()
		if k == nil {
			return nil
		}
		idx = binary.BigEndian.Uint64(k)
		return nil
	})
	return idx, err
}

// LastIndex returns the index of the most recent log entry, or 0 if the
// log is empty.
func (s *BoltLogStore) LastIndex() (uint64, error) {
	var idx uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(logBucket).Cursor()
		k, _ := c.Last()
		if k == nil {
			return nil
		}
		idx = binary.BigEndian.Uint64(k)
		return nil
	})
	return idx, err
}

// GetLog fills out with the log entry at index, or raft.ErrLogNotFound
// if no such entry exists.
func (s *BoltLogStore) GetLog(index uint64, out *raft.Log) error {
	return s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(logBucket).Get(indexKey(index))
		if v == nil {
			return raft.ErrLogNotFound
		}
		return json.Unmarshal(v, out)
	})
}

// StoreLog persists a single log entry.
func (s *BoltLogStore) StoreLog(log *raft.Log) error {
	return s.StoreLogs([]*raft.Log{log})
}

// StoreLogs persists a batch of log entries in one transaction.
func (s *BoltLogStore) StoreLogs(logs []*raft.Log) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket)
		for _, log := range logs {
			data, err := json.Marshal(log)
			if err != nil {
				return fmt.Errorf("marshal log entry %d: %w", log.Index, err)
			}
			if err := b.Put(indexKey(log.Index), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteRange removes every log entry with index in [min, max], used to
// truncate the log once its entries are no longer needed for crash
// recovery (their effects are durable in the shard's containers).
func (s *BoltLogStore) DeleteRange(min, max uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket)
		c := b.Cursor()
		for k, _ := c.Seek(indexKey(min)); k != nil; k, _ = c.Next() {
			idx := binary.BigEndian.Uint64(k)
			if idx > max {
				break
			}
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendRecord wraps rec as a raft.Log entry at the next free index and
// stores it, returning the index it was assigned: a single-node append,
// separate from raft.LogStore's batch-oriented StoreLogs. No shard commit
// path calls it.
func (s *BoltLogStore) AppendRecord(rec DeltaRecord) (uint64, error) {
	last, err := s.LastIndex()
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal delta record: %w", err)
	}
	entry := &raft.Log{Index: last + 1, Data: data}
	if err := s.StoreLog(entry); err != nil {
		return 0, err
	}
	return entry.Index, nil
}

// ReadRange returns every DeltaRecord stored at index in [min, max],
// in index order. No recovery path calls it.
func (s *BoltLogStore) ReadRange(min, max uint64) ([]DeltaRecord, error) {
	var out []DeltaRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(logBucket).Cursor()
		for k, v := c.Seek(indexKey(min)); k != nil; k, v = c.Next() {
			idx := binary.BigEndian.Uint64(k)
			if idx > max {
				break
			}
			var entry raft.Log
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshal log entry %d: %w", idx, err)
			}
			var rec DeltaRecord
			if err := json.Unmarshal(entry.Data, &rec); err != nil {
				return fmt.Errorf("unmarshal delta record %d: %w", idx, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}
