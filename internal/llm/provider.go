// Package llm defines the three prompt-driven operations the memory
// lifecycle engine needs from a language model (spec §4.2): extracting
// atomic statements from a transcript, merging a conflicting pair of
// statements, and reranking search results by relevance.
package llm

import (
	"context"

	"memnet/internal/memvec"
)

// Provider is a one-shot, pure-function-like LLM contract. Each method
// issues a single prompt/response round trip; there is no streaming and
// no tool use here — that is the teacher's general-purpose chat surface,
// which this package intentionally does not reuse.
type Provider interface {
	// ExtractMemories distills a joined, role-tagged transcript into a
	// list of atomic statements. On a JSON parse failure it returns an
	// empty list rather than an error (spec §4.2, §4.5) — this is a model
	// quality failure, not a system failure.
	ExtractMemories(ctx context.Context, conversationText string) ([]memvec.ExtractedMemory, error)

	// MergeMemories combines an existing statement with a new, possibly
	// conflicting one into a single merged statement: preserve all facts,
	// prefer the newer statement on conflict, de-duplicate phrasing.
	MergeMemories(ctx context.Context, existing, new string) (string, error)

	// Rerank reorders results by relevance to query. On a JSON parse
	// failure it returns results unchanged (fail-open, spec §4.2, §4.5).
	Rerank(ctx context.Context, query string, results []memvec.MemorySearchResult) ([]memvec.MemorySearchResult, error)
}
