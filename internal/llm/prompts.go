package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"memnet/internal/memvec"
)

// Prompt templates for the three operations, shared by every backend.
// Kept as simple constants / format strings rather than a template
// engine — the substitutions are trivial string joins.

const extractSystemPrompt = `You extract atomic factual statements, preferences, and identifying context from a conversation transcript.
Rules:
- Only extract facts the user stated or clearly implied about themselves.
- Each memory must be a standalone sentence, understandable without the rest of the conversation.
- Do not invent facts. Do not extract assistant-only statements.
- Respond with ONLY a strict JSON object of the shape {"memories":[{"data":"..."}, ...]}. No prose, no markdown fences.`

const mergeSystemPrompt = `You merge two statements about the same user fact into one.
Rules:
- Preserve all factual information from both statements.
- When the two conflict, prefer the newer statement.
- De-duplicate phrasing; do not repeat the same fact twice.
- Pronouns "I", "Me", "My", and "User" all denote the user.
- Respond with ONLY the merged statement text. No prose, no quotes, no JSON.`

const rerankSystemPrompt = `You rank a list of candidate memories by relevance to a query.
Rules:
- Respond with ONLY a strict JSON object of the shape {"ranked_indices":[i, j, ...]} where each index refers to the 0-based position of a candidate in the input list.
- List every relevant index, most relevant first. You may omit indices that are not relevant at all.
- Respond with ONLY the JSON object. No prose, no markdown fences.`

// ExtractSystemPrompt returns the system prompt for ExtractMemories.
func ExtractSystemPrompt() string { return extractSystemPrompt }

// ExtractUserPrompt returns the user prompt for ExtractMemories.
func ExtractUserPrompt(conversationText string) string {
	return "Transcript:\n" + conversationText
}

// MergeSystemPrompt returns the system prompt for MergeMemories.
func MergeSystemPrompt() string { return mergeSystemPrompt }

// MergeUserPrompt returns the user prompt for MergeMemories.
func MergeUserPrompt(existing, new string) string {
	return fmt.Sprintf("Existing statement: %s\nNew statement: %s", existing, new)
}

// RerankSystemPrompt returns the system prompt for Rerank.
func RerankSystemPrompt() string { return rerankSystemPrompt }

// RerankUserPrompt returns the user prompt for Rerank.
func RerankUserPrompt(query string, results []memvec.MemorySearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\nCandidates:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "%d: %s\n", i, r.Memory.Data)
	}
	return b.String()
}

type extractPayload struct {
	Memories []memvec.ExtractedMemory `json:"memories"`
}

// ParseExtractResponse implements the extractor's fail-open contract: an
// unparsable response yields an empty list, never an error (spec §4.2,
// §4.5).
func ParseExtractResponse(raw string) []memvec.ExtractedMemory {
	var payload extractPayload
	if err := json.Unmarshal([]byte(jsonBody(raw)), &payload); err != nil {
		return nil
	}
	out := make([]memvec.ExtractedMemory, 0, len(payload.Memories))
	for _, m := range payload.Memories {
		if strings.TrimSpace(m.Data) != "" {
			out = append(out, m)
		}
	}
	return out
}

type rerankPayload struct {
	RankedIndices []int `json:"ranked_indices"`
}

// ApplyRerankOrFallback parses a rerank response and reorders results
// accordingly. If the response cannot be parsed, it returns results
// unchanged (fail-open, spec §4.2, §4.5, invariant 10).
func ApplyRerankOrFallback(raw string, results []memvec.MemorySearchResult) []memvec.MemorySearchResult {
	var payload rerankPayload
	if err := json.Unmarshal([]byte(jsonBody(raw)), &payload); err != nil {
		return results
	}
	out := make([]memvec.MemorySearchResult, 0, len(payload.RankedIndices))
	for _, idx := range payload.RankedIndices {
		if idx >= 0 && idx < len(results) {
			out = append(out, results[idx])
		}
	}
	return out
}

// jsonBody strips a leading/trailing markdown code fence, in case the
// model ignores the "no markdown fences" instruction.
func jsonBody(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
