package llm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"memnet/internal/memvec"
)

func TestParseExtractResponse_Valid(t *testing.T) {
	out := ParseExtractResponse(`{"memories":[{"data":"User loves jogging"},{"data":"User is allergic to nuts"}]}`)
	require.Len(t, out, 2)
	require.Equal(t, "User loves jogging", out[0].Data)
}

func TestParseExtractResponse_StripsMarkdownFence(t *testing.T) {
	out := ParseExtractResponse("```json\n{\"memories\":[{\"data\":\"x\"}]}\n```")
	require.Len(t, out, 1)
}

func TestParseExtractResponse_MalformedYieldsEmpty(t *testing.T) {
	out := ParseExtractResponse("not json at all")
	require.Empty(t, out)
}

func TestParseExtractResponse_DropsBlankEntries(t *testing.T) {
	out := ParseExtractResponse(`{"memories":[{"data":""},{"data":"real fact"}]}`)
	require.Len(t, out, 1)
	require.Equal(t, "real fact", out[0].Data)
}

func sampleResults() []memvec.MemorySearchResult {
	return []memvec.MemorySearchResult{
		{Memory: memvec.MemoryItem{ID: "a", Data: "first"}, Score: 0.5},
		{Memory: memvec.MemoryItem{ID: "b", Data: "second"}, Score: 0.9},
		{Memory: memvec.MemoryItem{ID: "c", Data: "third"}, Score: 0.1},
	}
}

func TestApplyRerankOrFallback_Reorders(t *testing.T) {
	results := sampleResults()
	out := ApplyRerankOrFallback(`{"ranked_indices":[2,0]}`, results)
	require.Len(t, out, 2)
	require.Equal(t, "c", out[0].Memory.ID)
	require.Equal(t, "a", out[1].Memory.ID)
}

func TestApplyRerankOrFallback_DropsOutOfRangeIndices(t *testing.T) {
	results := sampleResults()
	out := ApplyRerankOrFallback(`{"ranked_indices":[5,1,-1]}`, results)
	require.Len(t, out, 1)
	require.Equal(t, "b", out[0].Memory.ID)
}

func TestApplyRerankOrFallback_FailOpenOnMalformedJSON(t *testing.T) {
	results := sampleResults()
	out := ApplyRerankOrFallback("not json", results)
	require.Equal(t, results, out)
}
