package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"memnet/internal/memvec"
)

// payloadIDField carries the caller-supplied MemoryItem.ID in the point
// payload. Qdrant point ids must be a UUID or an unsigned integer, but
// MemoryItem ids are caller-chosen strings, so every id that is not
// already a UUID is mapped to a deterministic UUID derived from it and the
// original id is kept in this field (spec §4.3.2 point 2).
const payloadIDField = "_original_id"

// deleteByUserScanLimit bounds how many points DeleteByUser will scroll
// through in one List call before deleting them individually.
const deleteByUserScanLimit = 10000

// qdrantStore is the document-ANN backend (spec §4.3.2), grounded on the
// teacher's qdrant_vector.go.
type qdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrant dials a Qdrant instance at dsn (its gRPC port, 6334 by
// default) and returns a Store bound to collection. An "api_key" query
// parameter on dsn is forwarded as the client's API key.
func NewQdrant(dsn, collection string) (Store, error) {
	if collection == "" {
		return nil, fmt.Errorf("%w: qdrant collection name is required", memvec.ErrValidation)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: invalid qdrant port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create qdrant client: %v", memvec.ErrBackendUnavailable, err)
	}
	return &qdrantStore{client: client, collection: collection}, nil
}

func (q *qdrantStore) EnsureCollectionExists(ctx context.Context, vectorSize int, allowRecreation bool) error {
	if vectorSize <= 0 {
		return fmt.Errorf("%w: qdrant requires vectorSize > 0", memvec.ErrValidation)
	}
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("%w: check collection exists: %v", memvec.ErrBackendUnavailable, err)
	}
	if exists {
		info, err := q.client.GetCollectionInfo(ctx, q.collection)
		if err != nil {
			return fmt.Errorf("%w: get collection info: %v", memvec.ErrBackendUnavailable, err)
		}
		existing := int(collectionVectorSize(info))
		if existing == vectorSize {
			return nil
		}
		if !allowRecreation {
			return &memvec.SchemaMismatchError{Collection: q.collection, Existing: existing, Requested: vectorSize}
		}
		if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
			return fmt.Errorf("%w: delete collection for recreate: %v", memvec.ErrBackendUnavailable, err)
		}
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: create collection: %v", memvec.ErrBackendUnavailable, err)
	}
	return nil
}

func collectionVectorSize(info *qdrant.CollectionInfo) uint64 {
	if info == nil || info.GetConfig() == nil {
		return 0
	}
	params := info.GetConfig().GetParams()
	if params == nil {
		return 0
	}
	if vp := params.GetVectorsConfig().GetParams(); vp != nil {
		return vp.GetSize()
	}
	return 0
}

func pointIDFor(id string) (string, bool) {
	if _, err := uuid.Parse(id); err == nil {
		return id, false
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String(), true
}

func (q *qdrantStore) Insert(ctx context.Context, items []memvec.MemoryItem) error {
	if len(items) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(items))
	for _, it := range items {
		if len(it.Embedding) == 0 {
			return fmt.Errorf("%w: item %q has no embedding", memvec.ErrValidation, it.ID)
		}
		uuidStr, remapped := pointIDFor(it.ID)
		payload, err := qdrantPayload(it, remapped)
		if err != nil {
			return err
		}
		vec := append([]float32(nil), it.Embedding...)
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuidStr),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: payload,
		})
	}
	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: q.collection, Points: points, Wait: &wait})
	if err != nil {
		return fmt.Errorf("%w: upsert: %v", memvec.ErrBackendUnavailable, err)
	}
	return nil
}

func (q *qdrantStore) Update(ctx context.Context, items []memvec.MemoryItem) error {
	return q.Insert(ctx, items)
}

func qdrantPayload(it memvec.MemoryItem, remapped bool) (map[string]*qdrant.Value, error) {
	metadataJSON := "{}"
	if len(it.Metadata) > 0 {
		b, err := json.Marshal(it.Metadata)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: encode metadata: %w", err)
		}
		metadataJSON = string(b)
	}
	fields := map[string]any{
		"data":      it.Data,
		"userId":    it.UserID,
		"agentId":   it.AgentID,
		"runId":     it.RunID,
		"metadata":  metadataJSON,
		"hash":      it.Hash,
		"createdAt": it.CreatedAt.Format(time.RFC3339Nano),
	}
	if !it.UpdatedAt.IsZero() {
		fields["updatedAt"] = it.UpdatedAt.Format(time.RFC3339Nano)
	}
	if remapped {
		fields[payloadIDField] = it.ID
	}
	return qdrant.NewValueMap(fields), nil
}

func memoryItemFromPayload(payload map[string]*qdrant.Value, fallbackID string) memvec.MemoryItem {
	get := func(k string) string {
		if v, ok := payload[k]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	id := get(payloadIDField)
	if id == "" {
		id = fallbackID
	}
	item := memvec.MemoryItem{
		ID:      id,
		Data:    get("data"),
		UserID:  get("userId"),
		AgentID: get("agentId"),
		RunID:   get("runId"),
		Hash:    get("hash"),
	}
	if raw := get("metadata"); raw != "" {
		var md map[string]any
		if json.Unmarshal([]byte(raw), &md) == nil {
			item.Metadata = md
		}
	}
	if raw := get("createdAt"); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			item.CreatedAt = t
		}
	}
	if raw := get("updatedAt"); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			item.UpdatedAt = t
		}
	}
	return item
}

func (q *qdrantStore) Search(ctx context.Context, queryVec []float32, userID string, limit int) ([]memvec.MemorySearchResult, error) {
	limit = effectiveLimit(limit)
	vec := append([]float32(nil), queryVec...)
	var filter *qdrant.Filter
	if userID != "" {
		filter = &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("userId", userID)}}
	}
	limitU := uint64(limit)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limitU,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", memvec.ErrBackendUnavailable, err)
	}
	out := make([]memvec.MemorySearchResult, 0, len(hits))
	for _, hit := range hits {
		item := memoryItemFromPayload(hit.GetPayload(), hit.Id.GetUuid())
		// Cosine similarity lies in [-1, 1]; Qdrant's Query already returns a
		// cosine SIMILARITY score for the Cosine metric, so only the
		// [0, 1] clamp from spec §4.3 is needed here.
		out = append(out, memvec.MemorySearchResult{Memory: item, Score: clampScore(float64(hit.Score))})
	}
	return out, nil
}

func (q *qdrantStore) List(ctx context.Context, userID string, limit int) ([]memvec.MemoryItem, error) {
	limit = effectiveLimit(limit)
	var filter *qdrant.Filter
	if userID != "" {
		filter = &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("userId", userID)}}
	}
	limitU := uint32(limit)
	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: q.collection,
		Filter:         filter,
		Limit:          &limitU,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scroll: %v", memvec.ErrBackendUnavailable, err)
	}
	out := make([]memvec.MemoryItem, 0, len(points))
	for _, p := range points {
		out = append(out, memoryItemFromPayload(p.GetPayload(), p.Id.GetUuid()))
	}
	return out, nil
}

func (q *qdrantStore) Get(ctx context.Context, id string) (*memvec.MemoryItem, error) {
	uuidStr, _ := pointIDFor(id)
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(uuidStr)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", memvec.ErrBackendUnavailable, err)
	}
	if len(points) == 0 {
		return nil, nil
	}
	item := memoryItemFromPayload(points[0].GetPayload(), uuidStr)
	return &item, nil
}

func (q *qdrantStore) Delete(ctx context.Context, id string) error {
	uuidStr, _ := pointIDFor(id)
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(uuidStr)),
	})
	if err != nil {
		return fmt.Errorf("%w: delete: %v", memvec.ErrBackendUnavailable, err)
	}
	return nil
}

// DeleteByUser lists every point in the partition and deletes them by id.
// Qdrant does support a single filter-based delete call, but the teacher's
// own client usage (qdrant_vector.go) only demonstrates id-based
// PointsSelector construction, so the composition below stays within the
// verified surface rather than guessing at an unobserved helper.
func (q *qdrantStore) DeleteByUser(ctx context.Context, userID string) error {
	items, err := q.List(ctx, userID, deleteByUserScanLimit)
	if err != nil {
		return fmt.Errorf("vectorstore: list for delete-by-user: %w", err)
	}
	for _, it := range items {
		if err := q.Delete(ctx, it.ID); err != nil {
			return err
		}
	}
	return nil
}
