// Package memvec holds the data types shared by the memory service and
// every vector store backend: MemoryItem, MemorySearchResult,
// ExtractedMemory, and CollectionDescriptor.
package memvec

import "time"

// MemoryItem is the unit of persisted memory.
type MemoryItem struct {
	ID        string         `json:"id"`
	Data      string         `json:"data"`
	Embedding []float32      `json:"embedding,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	AgentID   string         `json:"agentId,omitempty"`
	RunID     string         `json:"runId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Hash      string         `json:"hash,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt,omitempty"`
}

// MemorySearchResult joins a MemoryItem with a similarity score in [0, 1],
// 1 meaning most similar. Embedding need not be populated.
type MemorySearchResult struct {
	Memory MemoryItem `json:"memory"`
	Score  float64    `json:"score"`
}

// ExtractedMemory is a single statement produced by the LLM extractor.
type ExtractedMemory struct {
	Data string `json:"data"`
}

// CollectionDescriptor describes a backend collection's fixed schema.
type CollectionDescriptor struct {
	Name       string
	VectorSize int
	Metric     string // "cosine" is the only metric this spec requires
}

// Message is one role-tagged line of an input transcript (spec §4.4 step 1).
type Message struct {
	Role    string
	Content string
}

// AddMemoryRequest is the input to Service.Add.
type AddMemoryRequest struct {
	Messages []Message
	UserID   string
	AgentID  string
	RunID    string
	Metadata map[string]any
}

// AddedMemory records the outcome for one candidate statement processed
// during Add: it was either freshly inserted ("add") or merged into an
// existing item ("update").
type AddedMemory struct {
	ID     string `json:"id"`
	Memory string `json:"memory"`
	Event  string `json:"event"` // "add" or "update"
}

// AddMemoryResponse is the output of Service.Add.
type AddMemoryResponse struct {
	Results []AddedMemory `json:"results"`
}

// SearchMemoryRequest is the input to Service.Search.
type SearchMemoryRequest struct {
	Query  string
	UserID string
	Limit  int
}
