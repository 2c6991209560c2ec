package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memnet/internal/memvec"
)

// storeFactory builds a fresh, empty Store for one contract-test case.
// Every backend that wants to claim conformance with spec §8's testable
// properties plugs into this same suite; only the in-memory reference
// store is wired in-process, since the wire backends need a live Qdrant,
// Postgres, or Redis-with-RediSearch instance that this module does not
// bundle.
type storeFactory func(t *testing.T) Store

func contractFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemory() },
	}
}

func TestStoreContract(t *testing.T) {
	for name, factory := range contractFactories() {
		t.Run(name, func(t *testing.T) {
			t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, factory(t)) })
			t.Run("PartitionIsolation", func(t *testing.T) { testPartitionIsolation(t, factory(t)) })
			t.Run("LimitBound", func(t *testing.T) { testLimitBound(t, factory(t)) })
			t.Run("UpdateMonotonicity", func(t *testing.T) { testUpdateMonotonicity(t, factory(t)) })
			t.Run("DeleteErases", func(t *testing.T) { testDeleteErases(t, factory(t)) })
			t.Run("ScoreBounds", func(t *testing.T) { testScoreBounds(t, factory(t)) })
			t.Run("TopResultRelevance", func(t *testing.T) { testTopResultRelevance(t, factory(t)) })
			t.Run("DimensionGuard", func(t *testing.T) { testDimensionGuard(t, factory(t)) })
		})
	}
}

func testRoundTrip(t *testing.T, store Store) {
	ctx := context.Background()
	require.NoError(t, store.EnsureCollectionExists(ctx, 3, false))

	m := memvec.MemoryItem{
		ID:        "m1",
		Data:      "User loves jogging",
		Embedding: []float32{1, 0, 0},
		UserID:    "u1",
		AgentID:   "a1",
		RunID:     "r1",
		Metadata:  map[string]any{"k": "v"},
		CreatedAt: time.Now().Truncate(time.Millisecond),
	}
	require.NoError(t, store.Insert(ctx, []memvec.MemoryItem{m}))

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, m.Data, got.Data)
	require.Equal(t, m.UserID, got.UserID)
	require.Equal(t, m.AgentID, got.AgentID)
	require.Equal(t, m.RunID, got.RunID)
	require.Equal(t, m.Metadata, got.Metadata)
	require.WithinDuration(t, m.CreatedAt, got.CreatedAt, time.Millisecond)
}

func testPartitionIsolation(t *testing.T, store Store) {
	ctx := context.Background()
	require.NoError(t, store.EnsureCollectionExists(ctx, 3, false))

	require.NoError(t, store.Insert(ctx, []memvec.MemoryItem{
		{ID: "u1-1", Data: "u1 memory", Embedding: []float32{1, 0, 0}, UserID: "u1", CreatedAt: time.Now()},
		{ID: "u2-1", Data: "u2 memory", Embedding: []float32{1, 0, 0}, UserID: "u2", CreatedAt: time.Now()},
	}))

	searchResults, err := store.Search(ctx, []float32{1, 0, 0}, "u1", 10)
	require.NoError(t, err)
	for _, r := range searchResults {
		require.Equal(t, "u1", r.Memory.UserID)
	}

	listResults, err := store.List(ctx, "u1", 10)
	require.NoError(t, err)
	for _, it := range listResults {
		require.Equal(t, "u1", it.UserID)
	}
}

func testLimitBound(t *testing.T, store Store) {
	ctx := context.Background()
	require.NoError(t, store.EnsureCollectionExists(ctx, 3, false))

	items := make([]memvec.MemoryItem, 0, 10)
	for i := 0; i < 10; i++ {
		items = append(items, memvec.MemoryItem{
			ID: idFor(i), Data: "fact", Embedding: []float32{1, 0, 0}, UserID: "u1", CreatedAt: time.Now(),
		})
	}
	require.NoError(t, store.Insert(ctx, items))

	results, err := store.Search(ctx, []float32{1, 0, 0}, "u1", 3)
	require.NoError(t, err)
	require.LessOrEqual(t, len(results), 3)

	listed, err := store.List(ctx, "u1", 3)
	require.NoError(t, err)
	require.LessOrEqual(t, len(listed), 3)
}

func testUpdateMonotonicity(t *testing.T, store Store) {
	ctx := context.Background()
	require.NoError(t, store.EnsureCollectionExists(ctx, 3, false))

	created := time.Now().Truncate(time.Millisecond)
	m := memvec.MemoryItem{ID: "m1", Data: "old", Embedding: []float32{1, 0, 0}, UserID: "u1", CreatedAt: created}
	require.NoError(t, store.Insert(ctx, []memvec.MemoryItem{m}))

	m.Data = "new"
	m.UpdatedAt = created.Add(time.Second)
	require.NoError(t, store.Update(ctx, []memvec.MemoryItem{m}))

	got, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, "new", got.Data)
	require.True(t, got.UpdatedAt.After(got.CreatedAt))
}

func testDeleteErases(t *testing.T, store Store) {
	ctx := context.Background()
	require.NoError(t, store.EnsureCollectionExists(ctx, 3, false))

	m := memvec.MemoryItem{ID: "m1", Data: "gone soon", Embedding: []float32{1, 0, 0}, UserID: "u1", CreatedAt: time.Now()}
	require.NoError(t, store.Insert(ctx, []memvec.MemoryItem{m}))
	require.NoError(t, store.Delete(ctx, "m1"))

	got, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	require.Nil(t, got)

	results, err := store.Search(ctx, []float32{1, 0, 0}, "u1", 10)
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, "m1", r.Memory.ID)
	}
}

func testScoreBounds(t *testing.T, store Store) {
	ctx := context.Background()
	require.NoError(t, store.EnsureCollectionExists(ctx, 3, false))

	require.NoError(t, store.Insert(ctx, []memvec.MemoryItem{
		{ID: "m1", Data: "same direction", Embedding: []float32{1, 0, 0}, UserID: "u1", CreatedAt: time.Now()},
		{ID: "m2", Data: "opposite direction", Embedding: []float32{-1, 0, 0}, UserID: "u1", CreatedAt: time.Now()},
	}))

	results, err := store.Search(ctx, []float32{1, 0, 0}, "u1", 10)
	require.NoError(t, err)
	for _, r := range results {
		require.GreaterOrEqual(t, r.Score, 0.0)
		require.LessOrEqual(t, r.Score, 1.0)
	}
}

func testTopResultRelevance(t *testing.T, store Store) {
	ctx := context.Background()
	require.NoError(t, store.EnsureCollectionExists(ctx, 3, false))

	require.NoError(t, store.Insert(ctx, []memvec.MemoryItem{
		{ID: "csharp", Data: "User loves C# programming", Embedding: []float32{1, 0, 0}, UserID: "u1", CreatedAt: time.Now()},
		{ID: "python", Data: "User enjoys Python coding", Embedding: []float32{0.9, 0.1, 0}, UserID: "u1", CreatedAt: time.Now()},
		{ID: "pizza", Data: "User likes pizza for dinner", Embedding: []float32{0, 0, 1}, UserID: "u1", CreatedAt: time.Now()},
	}))

	results, err := store.Search(ctx, []float32{1, 0, 0}, "u1", 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	top := results[0].Memory.Data
	require.True(t, contains(top, "programming") || contains(top, "coding"))
}

func testDimensionGuard(t *testing.T, store Store) {
	ctx := context.Background()
	require.NoError(t, store.EnsureCollectionExists(ctx, 1536, false))

	err := store.EnsureCollectionExists(ctx, 1024, false)
	require.Error(t, err)
	var mismatch *memvec.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)

	require.NoError(t, store.EnsureCollectionExists(ctx, 1024, true))
}

func idFor(i int) string {
	const letters = "abcdefghij"
	return "m-" + string(letters[i])
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
