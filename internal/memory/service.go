// Package memory implements the memory lifecycle engine (spec §4.4): the
// orchestrator that couples an embedder, an LLM provider, and a vector
// store into the Add/Search/Update/Delete pipeline. It owns the
// duplicate-consolidation policy and the rerank gate; it holds no
// per-request mutable state, matching the teacher's stateless-service
// conventions (internal/rag/service).
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"memnet/internal/config"
	"memnet/internal/embedder"
	"memnet/internal/llm"
	"memnet/internal/memvec"
	"memnet/internal/observability"
	"memnet/internal/vectorstore"
)

// candidateProbeLimit is the top-K used for the per-candidate duplicate
// probe during Add (spec §4.4 step 3, K=5).
const candidateProbeLimit = 5

// defaultSearchLimit is used when a caller does not specify a Search/GetAll
// limit (spec §6.1, default 100).
const defaultSearchLimit = 100

// Service orchestrates the add/search/update pipeline described in spec
// §4.4. It is safe for concurrent use: it holds no per-request state
// beyond the request arguments themselves (spec §5).
type Service struct {
	embedder embedder.Embedder
	llm      llm.Provider
	store    vectorstore.Store
	cfg      config.Options

	nowFn func() time.Time
	idFn  func() string
}

// New builds a Service from its three collaborators and the immutable
// configuration bundle. Initialize must be called once before any other
// operation (spec §4.4 "Initialization").
func New(emb embedder.Embedder, provider llm.Provider, store vectorstore.Store, cfg config.Options) *Service {
	return &Service{
		embedder: emb,
		llm:      provider,
		store:    store,
		cfg:      cfg,
		nowFn:    time.Now,
		idFn:     func() string { return uuid.NewString() },
	}
}

// Initialize detects the embedder's native vector size and ensures the
// backing collection exists with that dimension (spec §4.4
// "Initialization"). It must complete before any other Service method is
// called.
func (s *Service) Initialize(ctx context.Context, allowRecreation bool) error {
	size, err := s.embedder.VectorSize(ctx)
	if err != nil {
		return fmt.Errorf("memory: detect vector size: %w", err)
	}
	if size <= 0 {
		return fmt.Errorf("%w: embedder reported non-positive vector size %d", memvec.ErrValidation, size)
	}
	return s.store.EnsureCollectionExists(ctx, size, allowRecreation)
}

// Add runs the extract -> embed -> dedup-probe -> merge-or-insert
// pipeline described in spec §4.4.
func (s *Service) Add(ctx context.Context, req memvec.AddMemoryRequest) (memvec.AddMemoryResponse, error) {
	log := observability.LoggerWithTrace(ctx)

	if len(req.Messages) == 0 {
		return memvec.AddMemoryResponse{}, fmt.Errorf("%w: no messages", memvec.ErrValidation)
	}

	conversation := joinMessages(req.Messages)
	candidates, err := s.llm.ExtractMemories(ctx, conversation)
	if err != nil {
		return memvec.AddMemoryResponse{}, fmt.Errorf("memory: extract: %w", err)
	}
	if len(candidates) == 0 {
		return memvec.AddMemoryResponse{}, nil
	}

	now := s.nowFn()
	threshold := s.cfg.DuplicateThreshold

	var inserts, updates []memvec.MemoryItem
	results := make([]memvec.AddedMemory, 0, len(candidates))

	for _, candidate := range candidates {
		text := strings.TrimSpace(candidate.Data)
		if text == "" {
			continue
		}

		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return memvec.AddMemoryResponse{}, fmt.Errorf("memory: embed candidate: %w", err)
		}

		probe, err := s.store.Search(ctx, vec, req.UserID, candidateProbeLimit)
		if err != nil {
			return memvec.AddMemoryResponse{}, fmt.Errorf("memory: duplicate probe: %w", err)
		}

		best := bestMatch(probe)
		if best != nil && best.Score > threshold {
			merged, err := s.llm.MergeMemories(ctx, best.Memory.Data, text)
			if err != nil {
				return memvec.AddMemoryResponse{}, fmt.Errorf("memory: merge: %w", err)
			}
			merged = strings.TrimSpace(merged)
			if merged == "" {
				merged = text
			}
			mergedVec, err := s.embedder.Embed(ctx, merged)
			if err != nil {
				return memvec.AddMemoryResponse{}, fmt.Errorf("memory: embed merged: %w", err)
			}
			item := best.Memory
			item.Data = merged
			item.Embedding = mergedVec
			item.UpdatedAt = now
			updates = append(updates, item)
			results = append(results, memvec.AddedMemory{ID: item.ID, Memory: merged, Event: "update"})
			log.Debug().Str("id", item.ID).Float64("score", best.Score).Msg("memory_merge")
			continue
		}

		item := memvec.MemoryItem{
			ID:        s.idFn(),
			Data:      text,
			Embedding: vec,
			UserID:    req.UserID,
			AgentID:   req.AgentID,
			RunID:     req.RunID,
			Metadata:  req.Metadata,
			CreatedAt: now,
		}
		inserts = append(inserts, item)
		results = append(results, memvec.AddedMemory{ID: item.ID, Memory: text, Event: "add"})
	}

	if len(inserts) > 0 {
		if err := s.store.Insert(ctx, inserts); err != nil {
			return memvec.AddMemoryResponse{}, fmt.Errorf("memory: insert: %w", err)
		}
	}
	if len(updates) > 0 {
		if err := s.store.Update(ctx, updates); err != nil {
			return memvec.AddMemoryResponse{}, fmt.Errorf("memory: update: %w", err)
		}
	}

	return memvec.AddMemoryResponse{Results: results}, nil
}

// bestMatch returns the highest-scoring result, or nil when probe is
// empty. Search already returns results sorted by score descending for
// the in-memory backend; wire backends are expected to do the same, but
// this re-derives the max defensively rather than assuming order.
func bestMatch(probe []memvec.MemorySearchResult) *memvec.MemorySearchResult {
	if len(probe) == 0 {
		return nil
	}
	best := probe[0]
	for _, r := range probe[1:] {
		if r.Score > best.Score {
			best = r
		}
	}
	return &best
}

func joinMessages(msgs []memvec.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// Search embeds query, runs an ANN search restricted to userID, and
// optionally applies an LLM rerank pass (spec §4.4 "Search pipeline").
func (s *Service) Search(ctx context.Context, req memvec.SearchMemoryRequest) ([]memvec.MemorySearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: empty query", memvec.ErrValidation)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	vec, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	results, err := s.store.Search(ctx, vec, req.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	if !s.cfg.EnableReranking || s.llm == nil {
		return results, nil
	}
	reranked, err := s.llm.Rerank(ctx, req.Query, results)
	if err != nil {
		// Fail-open per spec §4.2/§4.5: keep the pre-rerank order.
		return results, nil
	}
	return reranked, nil
}

// GetAll returns up to limit items for userID (spec §6.1 GetAll).
func (s *Service) GetAll(ctx context.Context, userID string, limit int) ([]memvec.MemoryItem, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return s.store.List(ctx, userID, limit)
}

// Get returns the item, or nil when absent (spec §7 NotFoundError).
func (s *Service) Get(ctx context.Context, id string) (*memvec.MemoryItem, error) {
	return s.store.Get(ctx, id)
}

// Update re-embeds content, stamps updatedAt, and writes it through to
// the store. It returns false when id is unknown (spec §6.1).
func (s *Service) Update(ctx context.Context, id, content string) (bool, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("memory: update lookup: %w", err)
	}
	if existing == nil {
		return false, nil
	}
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return false, fmt.Errorf("memory: update embed: %w", err)
	}
	item := *existing
	item.Data = content
	item.Embedding = vec
	item.UpdatedAt = s.nowFn()
	if err := s.store.Update(ctx, []memvec.MemoryItem{item}); err != nil {
		return false, fmt.Errorf("memory: update write: %w", err)
	}
	return true, nil
}

// Delete removes a single memory by id.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// DeleteAll removes every memory belonging to userID.
func (s *Service) DeleteAll(ctx context.Context, userID string) error {
	return s.store.DeleteByUser(ctx, userID)
}
