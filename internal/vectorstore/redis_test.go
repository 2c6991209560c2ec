package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"memnet/internal/memvec"
)

// newMiniredisStore wires a redisStore against an in-process miniredis
// server. miniredis emulates core Redis commands (HSET/HGETALL/DEL) but
// not the RediSearch module, so this covers the hash-storage half of the
// backend (spec §6.4); FT.CREATE/FT.SEARCH are covered by the pure
// parsing/escaping unit tests below instead of a live index.
func newMiniredisStore(t *testing.T) *redisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &redisStore{client: client, collection: "memnet_collection", indexName: "idx:memnet_collection"}
}

func TestRedisStore_InsertGetDeleteRoundTrip(t *testing.T) {
	store := newMiniredisStore(t)
	ctx := context.Background()

	item := memvec.MemoryItem{
		ID:        "m1",
		Data:      "User loves jogging",
		Embedding: []float32{0.1, 0.2, 0.3},
		UserID:    "u1",
		Metadata:  map[string]any{"source": "test"},
		CreatedAt: time.Now().Truncate(time.Millisecond),
	}
	require.NoError(t, store.Insert(ctx, []memvec.MemoryItem{item}))

	got, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, item.Data, got.Data)
	require.Equal(t, item.UserID, got.UserID)
	require.Equal(t, "test", got.Metadata["source"])
	require.InDeltaSlice(t, item.Embedding, got.Embedding, 1e-6)

	require.NoError(t, store.Delete(ctx, "m1"))
	got, err = store.Get(ctx, "m1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRedisStore_UpdateOverwritesFields(t *testing.T) {
	store := newMiniredisStore(t)
	ctx := context.Background()

	item := memvec.MemoryItem{ID: "m1", Data: "old", UserID: "u1", CreatedAt: time.Now()}
	require.NoError(t, store.Insert(ctx, []memvec.MemoryItem{item}))

	item.Data = "new"
	item.UpdatedAt = time.Now()
	require.NoError(t, store.Update(ctx, []memvec.MemoryItem{item}))

	got, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, "new", got.Data)
	require.False(t, got.UpdatedAt.IsZero())
}

func TestEscapeRedisTag_NeutralizesSpecialChars(t *testing.T) {
	raw := `user-1:a@b.com "quoted"`
	escaped := escapeRedisTag(raw)
	for _, r := range redisTagSpecialChars {
		if r == ' ' {
			continue
		}
		if containsRune(raw, r) {
			require.Contains(t, escaped, `\`+string(r))
		}
	}
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}

func TestParseSearchReply_ExtractsFieldsAndScore(t *testing.T) {
	reply := []any{
		int64(1),
		"memnet_collection:m1",
		[]any{"id", "m1", "data", "hello", "__embedding_score", "0.25"},
	}
	docs := parseSearchReply(reply)
	require.Len(t, docs, 1)
	require.Equal(t, "m1", docs[0].fields["id"])
	require.Equal(t, 0.25, docs[0].score)
}

func TestIndexDimensionFrom_ParsesFTInfoReply(t *testing.T) {
	info := []any{"attributes", []any{}, "DIM", "1536", "other", "value"}
	require.Equal(t, 1536, indexDimensionFrom(info))
}
