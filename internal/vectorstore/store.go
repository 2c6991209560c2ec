// Package vectorstore implements the pluggable vector-store abstraction
// (spec §4.3): a Store interface plus an in-memory reference
// implementation and three wire backends (qdrant, postgres/pgvector,
// redis-module). The in-memory store is authoritative for correctness —
// every other backend is expected to satisfy the same contract test
// suite (contract_test.go).
package vectorstore

import (
	"context"

	"memnet/internal/memvec"
)

// Store is the stable surface every vector-store backend implements.
// Concrete wire formats are each backend's own responsibility.
type Store interface {
	// EnsureCollectionExists creates the collection if missing. If it
	// exists with a different declared dimension, it is recreated when
	// allowRecreation is true, otherwise a *memvec.SchemaMismatchError is
	// returned. Must be idempotent when dimensions already match.
	EnsureCollectionExists(ctx context.Context, vectorSize int, allowRecreation bool) error

	// Insert upserts items by id. A subsequent Get with the same id
	// returns the item once Insert returns.
	Insert(ctx context.Context, items []memvec.MemoryItem) error

	// Update is semantically equivalent to delete-then-insert for the
	// listed ids; backends that upsert natively may short-circuit.
	Update(ctx context.Context, items []memvec.MemoryItem) error

	// Search runs an ANN search restricted to userID when non-empty.
	// Returned scores are similarity (higher is better), clamped to
	// [0, 1].
	Search(ctx context.Context, queryVec []float32, userID string, limit int) ([]memvec.MemorySearchResult, error)

	// List returns up to limit items for the partition, best-effort
	// ordered by createdAt descending.
	List(ctx context.Context, userID string, limit int) ([]memvec.MemoryItem, error)

	// Get returns the item, or (nil, nil) when absent — a missing id is
	// not an error (spec §7 NotFoundError).
	Get(ctx context.Context, id string) (*memvec.MemoryItem, error)

	// Delete removes the item with the given id, if present.
	Delete(ctx context.Context, id string) error

	// DeleteByUser removes every item belonging to userID.
	DeleteByUser(ctx context.Context, userID string) error
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func effectiveLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
