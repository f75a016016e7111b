// Package engineerr defines the engine's error kinds. Every operation in
// internal/txn, internal/shard, and internal/shardmap returns one of these
// sentinels (wrapped with fmt.Errorf("%w: ...") for context) rather than a
// bespoke error type, so callers can branch with errors.Is.
package engineerr

import "errors"

var (
	// ErrSerialization is returned when a write conflicts with another
	// live transaction's uncommitted write on the same object.
	ErrSerialization = errors.New("serialization error")

	// ErrNonexistentObject is returned when an accessor references a
	// vertex or edge that does not exist (or is not visible to it).
	ErrNonexistentObject = errors.New("nonexistent object")

	// ErrDeletedObject is returned on a second delete of the same object
	// within one transaction.
	ErrDeletedObject = errors.New("deleted object")

	// ErrVertexHasEdges is returned by a non-detach delete on a vertex
	// that still has visible incident edges.
	ErrVertexHasEdges = errors.New("vertex has edges")

	// ErrPropertiesDisabled is returned when setting a property on an
	// edge type configured as property-less.
	ErrPropertiesDisabled = errors.New("properties disabled for this edge type")

	// ErrVertexAlreadyInserted is returned on a primary-key collision
	// during CreateVertex.
	ErrVertexAlreadyInserted = errors.New("vertex already inserted")

	// ErrSchemaViolation is returned when a primary key or property set
	// does not match the shard's declared schema.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrOutOfRange is returned when a primary key falls outside a
	// shard's [min, max) range.
	ErrOutOfRange = errors.New("primary key out of shard range")

	// ErrStaleShardMap is returned when a router or split acts against a
	// shard-map version older than the shard's current version.
	ErrStaleShardMap = errors.New("stale shard map version")

	// ErrTimeout is returned when a heartbeat or inter-node request
	// exceeds its deadline.
	ErrTimeout = errors.New("timeout")
)
