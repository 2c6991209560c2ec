package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"memnet/internal/config"
	"memnet/internal/embedder"
	"memnet/internal/memvec"
	"memnet/internal/vectorstore"
)

// stubLLM is a deterministic llm.Provider double: ExtractMemories drops
// the leading "user: " role tag of the joined transcript and splits the
// rest on "|", MergeMemories returns the new statement, and Rerank
// optionally fails to exercise the fail-open path.
type stubLLM struct {
	rerankFails bool
}

func (s *stubLLM) ExtractMemories(_ context.Context, conversationText string) ([]memvec.ExtractedMemory, error) {
	var out []memvec.ExtractedMemory
	conversationText = strings.TrimPrefix(conversationText, "user: ")
	for _, line := range strings.Split(conversationText, "|") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, memvec.ExtractedMemory{Data: line})
	}
	return out, nil
}

func (s *stubLLM) MergeMemories(_ context.Context, existing, new string) (string, error) {
	return new, nil
}

func (s *stubLLM) Rerank(_ context.Context, _ string, results []memvec.MemorySearchResult) ([]memvec.MemorySearchResult, error) {
	if s.rerankFails {
		return nil, errRerankUnparseable
	}
	// Reverse the input order so tests can distinguish reranked output
	// from the store's raw ordering.
	out := make([]memvec.MemorySearchResult, len(results))
	for i, r := range results {
		out[len(results)-1-i] = r
	}
	return out, nil
}

var errRerankUnparseable = fakeErr("rerank: unparseable response")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func newTestService(t *testing.T, llmProvider *stubLLM, rerank bool) *Service {
	t.Helper()
	emb := embedder.NewDeterministic(32, true, 1)
	store := vectorstore.NewMemory()
	cfg := config.Options{DuplicateThreshold: 0.6, EnableReranking: rerank}
	svc := New(emb, llmProvider, store, cfg)
	require.NoError(t, svc.Initialize(context.Background(), false))
	return svc
}

func TestAdd_InsertsNewCandidates(t *testing.T) {
	svc := newTestService(t, &stubLLM{}, false)
	resp, err := svc.Add(context.Background(), memvec.AddMemoryRequest{
		Messages: []memvec.Message{{Role: "user", Content: "My name is Zack.|I'm allergic to nuts."}},
		UserID:   "u1",
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		require.Equal(t, "add", r.Event)
	}

	all, err := svc.GetAll(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestAdd_EmptyExtractionIsNoop(t *testing.T) {
	svc := newTestService(t, &stubLLM{}, false)
	resp, err := svc.Add(context.Background(), memvec.AddMemoryRequest{
		Messages: []memvec.Message{{Role: "user", Content: "   "}},
		UserID:   "u1",
	})
	require.NoError(t, err)
	require.Empty(t, resp.Results)
}

// TestAdd_DedupMergesSimilarStatements exercises the dedup path of spec §8
// property 8: adding "I love jogging" twice under the same user, with
// DuplicateThreshold 0.6 and reranking off, must yield exactly one stored
// item and an [add, update] event sequence.
func TestAdd_DedupMergesSimilarStatements(t *testing.T) {
	svc := newTestService(t, &stubLLM{}, false)
	ctx := context.Background()

	resp1, err := svc.Add(ctx, memvec.AddMemoryRequest{
		Messages: []memvec.Message{{Role: "user", Content: "I love jogging"}},
		UserID:   "u1",
	})
	require.NoError(t, err)
	require.Len(t, resp1.Results, 1)
	require.Equal(t, "add", resp1.Results[0].Event)

	resp2, err := svc.Add(ctx, memvec.AddMemoryRequest{
		Messages: []memvec.Message{{Role: "user", Content: "I love jogging"}},
		UserID:   "u1",
	})
	require.NoError(t, err)
	require.Len(t, resp2.Results, 1)
	require.Equal(t, "update", resp2.Results[0].Event)
	require.Equal(t, resp1.Results[0].ID, resp2.Results[0].ID)

	all, err := svc.GetAll(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestSearch_PartitionIsolation(t *testing.T) {
	svc := newTestService(t, &stubLLM{}, false)
	ctx := context.Background()

	_, err := svc.Add(ctx, memvec.AddMemoryRequest{
		Messages: []memvec.Message{{Role: "user", Content: "u1 fact"}},
		UserID:   "u1",
	})
	require.NoError(t, err)
	_, err = svc.Add(ctx, memvec.AddMemoryRequest{
		Messages: []memvec.Message{{Role: "user", Content: "u2 fact"}},
		UserID:   "u2",
	})
	require.NoError(t, err)

	results, err := svc.Search(ctx, memvec.SearchMemoryRequest{Query: "fact", UserID: "u1", Limit: 10})
	require.NoError(t, err)
	for _, r := range results {
		require.Equal(t, "u1", r.Memory.UserID)
	}
}

func TestSearch_RerankReordersWhenEnabled(t *testing.T) {
	svc := newTestService(t, &stubLLM{}, true)
	ctx := context.Background()

	_, err := svc.Add(ctx, memvec.AddMemoryRequest{
		Messages: []memvec.Message{{Role: "user", Content: "alpha fact|beta fact|gamma fact"}},
		UserID:   "u1",
	})
	require.NoError(t, err)

	raw, err := svc.store.Search(ctx, mustEmbed(t, svc, "fact"), "u1", 10)
	require.NoError(t, err)
	reranked, err := svc.Search(ctx, memvec.SearchMemoryRequest{Query: "fact", UserID: "u1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, reranked, len(raw))
	require.Equal(t, raw[0].Memory.ID, reranked[len(reranked)-1].Memory.ID)
}

// TestSearch_RerankFailsOpen exercises spec §8 property 10: when the LLM
// rerank response cannot be parsed, Search must return the pre-rerank
// order unchanged.
func TestSearch_RerankFailsOpen(t *testing.T) {
	svc := newTestService(t, &stubLLM{rerankFails: true}, true)
	ctx := context.Background()

	_, err := svc.Add(ctx, memvec.AddMemoryRequest{
		Messages: []memvec.Message{{Role: "user", Content: "alpha fact|beta fact"}},
		UserID:   "u1",
	})
	require.NoError(t, err)

	raw, err := svc.store.Search(ctx, mustEmbed(t, svc, "fact"), "u1", 10)
	require.NoError(t, err)
	got, err := svc.Search(ctx, memvec.SearchMemoryRequest{Query: "fact", UserID: "u1", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, raw, got)
}

func mustEmbed(t *testing.T, svc *Service, text string) []float32 {
	t.Helper()
	vec, err := svc.embedder.Embed(context.Background(), text)
	require.NoError(t, err)
	return vec
}

func TestUpdate_UnknownIDReturnsFalse(t *testing.T) {
	svc := newTestService(t, &stubLLM{}, false)
	ok, err := svc.Update(context.Background(), "does-not-exist", "new content")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdate_SetsUpdatedAtAfterCreatedAt(t *testing.T) {
	svc := newTestService(t, &stubLLM{}, false)
	ctx := context.Background()

	resp, err := svc.Add(ctx, memvec.AddMemoryRequest{
		Messages: []memvec.Message{{Role: "user", Content: "original fact"}},
		UserID:   "u1",
	})
	require.NoError(t, err)
	id := resp.Results[0].ID

	ok, err := svc.Update(ctx, id, "revised fact")
	require.NoError(t, err)
	require.True(t, ok)

	item, err := svc.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Equal(t, "revised fact", item.Data)
	require.True(t, item.UpdatedAt.After(item.CreatedAt))
}

func TestDeleteAll_RemovesOnlyThatUser(t *testing.T) {
	svc := newTestService(t, &stubLLM{}, false)
	ctx := context.Background()

	_, err := svc.Add(ctx, memvec.AddMemoryRequest{
		Messages: []memvec.Message{{Role: "user", Content: "u1 fact"}},
		UserID:   "u1",
	})
	require.NoError(t, err)
	_, err = svc.Add(ctx, memvec.AddMemoryRequest{
		Messages: []memvec.Message{{Role: "user", Content: "u2 fact"}},
		UserID:   "u2",
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteAll(ctx, "u1"))

	u1, err := svc.GetAll(ctx, "u1", 10)
	require.NoError(t, err)
	require.Empty(t, u1)

	u2, err := svc.GetAll(ctx, "u2", 10)
	require.NoError(t, err)
	require.Len(t, u2, 1)
}
