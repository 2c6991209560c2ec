package vectorstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"memnet/internal/memvec"
)

// redisStore is the redis-module backend (spec §4.3.2, §6.4): one hash
// per item keyed "{collection}:{id}" with fields id, data, user_id,
// agent_id, run_id, hash, metadata, created_at, updated_at, embedding
// (little-endian float32 bytes), indexed by an HNSW vector field over
// @embedding with COSINE metric. Grounded on the teacher's
// internal/workspaces/redis_cache.go for client construction and on the
// redis-module semantics documented in spec §9.
type redisStore struct {
	client     redis.UniversalClient
	collection string
	indexName  string
}

// NewRedis builds a Store against a RediSearch/RedisJSON-capable Redis
// instance. The API key, if present, is split as "user:password" per
// spec §6.3.
func NewRedis(addr, apiKey, collection string) Store {
	if collection == "" {
		collection = "memnet_collection"
	}
	opts := &redis.Options{Addr: addr}
	if apiKey != "" {
		if user, pass, ok := strings.Cut(apiKey, ":"); ok {
			opts.Username = user
			opts.Password = pass
		} else {
			opts.Password = apiKey
		}
	}
	return &redisStore{
		client:     redis.NewClient(opts),
		collection: collection,
		indexName:  "idx:" + collection,
	}
}

func (r *redisStore) key(id string) string { return r.collection + ":" + id }

func (r *redisStore) EnsureCollectionExists(ctx context.Context, vectorSize int, allowRecreation bool) error {
	if vectorSize <= 0 {
		return fmt.Errorf("%w: redis requires vectorSize > 0", memvec.ErrValidation)
	}
	info, err := r.client.Do(ctx, "FT.INFO", r.indexName).Result()
	if err == nil {
		existing := indexDimensionFrom(info)
		if existing == vectorSize {
			return nil
		}
		if !allowRecreation {
			return &memvec.SchemaMismatchError{Collection: r.collection, Existing: existing, Requested: vectorSize}
		}
		if err := r.client.Do(ctx, "FT.DROPINDEX", r.indexName, "DD").Err(); err != nil {
			return fmt.Errorf("%w: drop index for recreate: %v", memvec.ErrBackendUnavailable, err)
		}
	} else if !strings.Contains(strings.ToLower(err.Error()), "unknown index") && !strings.Contains(strings.ToLower(err.Error()), "no such index") {
		return fmt.Errorf("%w: FT.INFO: %v", memvec.ErrBackendUnavailable, err)
	}

	args := []any{
		"FT.CREATE", r.indexName,
		"ON", "HASH",
		"PREFIX", "1", r.collection + ":",
		"SCHEMA",
		"data", "TEXT",
		"user_id", "TAG",
		"agent_id", "TAG",
		"run_id", "TAG",
		"hash", "TAG",
		"created_at", "NUMERIC", "SORTABLE",
		"updated_at", "NUMERIC",
		"embedding", "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(vectorSize),
		"DISTANCE_METRIC", "COSINE",
	}
	if err := r.client.Do(ctx, args...).Err(); err != nil {
		return fmt.Errorf("%w: FT.CREATE: %v", memvec.ErrBackendUnavailable, err)
	}
	return nil
}

// indexDimensionFrom picks the "DIM" value out of FT.INFO's flattened
// attribute array reply.
func indexDimensionFrom(info any) int {
	arr, ok := info.([]any)
	if !ok {
		return 0
	}
	for i, v := range arr {
		if s, ok := v.(string); ok && strings.EqualFold(s, "DIM") && i+1 < len(arr) {
			if n, err := toInt(arr[i+1]); err == nil {
				return n
			}
		}
	}
	return 0
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int64:
		return int(x), nil
	case string:
		return strconv.Atoi(x)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : i*4+4]))
	}
	return out
}

func (r *redisStore) upsert(ctx context.Context, items []memvec.MemoryItem) error {
	for _, it := range items {
		metadata, err := json.Marshal(it.Metadata)
		if err != nil {
			return fmt.Errorf("vectorstore: encode metadata: %w", err)
		}
		fields := map[string]any{
			"id":         it.ID,
			"data":       it.Data,
			"user_id":    it.UserID,
			"agent_id":   it.AgentID,
			"run_id":     it.RunID,
			"hash":       it.Hash,
			"metadata":   string(metadata),
			"created_at": it.CreatedAt.UnixMilli(),
			"embedding":  encodeEmbedding(it.Embedding),
		}
		if !it.UpdatedAt.IsZero() {
			fields["updated_at"] = it.UpdatedAt.UnixMilli()
		}
		if err := r.client.HSet(ctx, r.key(it.ID), fields).Err(); err != nil {
			return fmt.Errorf("%w: hset: %v", memvec.ErrBackendUnavailable, err)
		}
	}
	return nil
}

func (r *redisStore) Insert(ctx context.Context, items []memvec.MemoryItem) error { return r.upsert(ctx, items) }
func (r *redisStore) Update(ctx context.Context, items []memvec.MemoryItem) error { return r.upsert(ctx, items) }

// Search issues a single KNN query over @embedding. Per spec §9, exactly
// one well-formed query is emitted: the partition predicate (if any) is
// folded into the prefilter before the "=>[KNN ...]" clause rather than
// appended as a second, redundant parameter.
func (r *redisStore) Search(ctx context.Context, queryVec []float32, userID string, limit int) ([]memvec.MemorySearchResult, error) {
	limit = effectiveLimit(limit)
	prefilter := "*"
	if userID != "" {
		prefilter = fmt.Sprintf("@user_id:{%s}", escapeRedisTag(userID))
	}
	q := fmt.Sprintf("(%s)=>[KNN %d @embedding $vec AS __embedding_score]", prefilter, limit)

	args := []any{
		"FT.SEARCH", r.indexName, q,
		"PARAMS", "2", "vec", encodeEmbedding(queryVec),
		"SORTBY", "__embedding_score",
		"LIMIT", "0", strconv.Itoa(limit),
		"DIALECT", "2",
	}
	reply, err := r.client.Do(ctx, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: FT.SEARCH: %v", memvec.ErrBackendUnavailable, err)
	}
	docs := parseSearchReply(reply)
	out := make([]memvec.MemorySearchResult, 0, len(docs))
	for _, d := range docs {
		item := itemFromHashFields(d.fields)
		distance := d.score
		score := clampScore(1 - distance)
		out = append(out, memvec.MemorySearchResult{Memory: item, Score: score})
	}
	return out, nil
}

type searchDoc struct {
	fields map[string]string
	score  float64
}

// parseSearchReply interprets FT.SEARCH's RESP2 reply shape: [total,
// key1, [field, value, field, value, ...], key2, [...], ...].
func parseSearchReply(reply any) []searchDoc {
	arr, ok := reply.([]any)
	if !ok || len(arr) < 1 {
		return nil
	}
	var out []searchDoc
	for i := 1; i+1 < len(arr); i += 2 {
		fieldsArr, ok := arr[i+1].([]any)
		if !ok {
			continue
		}
		fields := make(map[string]string, len(fieldsArr)/2)
		for j := 0; j+1 < len(fieldsArr); j += 2 {
			k, _ := fieldsArr[j].(string)
			v := fmt.Sprintf("%v", fieldsArr[j+1])
			fields[k] = v
		}
		score, _ := strconv.ParseFloat(fields["__embedding_score"], 64)
		out = append(out, searchDoc{fields: fields, score: score})
	}
	return out
}

func itemFromHashFields(f map[string]string) memvec.MemoryItem {
	item := memvec.MemoryItem{
		ID:      f["id"],
		Data:    f["data"],
		UserID:  f["user_id"],
		AgentID: f["agent_id"],
		RunID:   f["run_id"],
		Hash:    f["hash"],
	}
	if raw := f["metadata"]; raw != "" {
		var md map[string]any
		if json.Unmarshal([]byte(raw), &md) == nil {
			item.Metadata = md
		}
	}
	if raw := f["created_at"]; raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			item.CreatedAt = time.UnixMilli(ms)
		}
	}
	if raw := f["updated_at"]; raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			item.UpdatedAt = time.UnixMilli(ms)
		}
	}
	if raw := f["embedding"]; raw != "" {
		item.Embedding = decodeEmbedding([]byte(raw))
	}
	return item
}

func (r *redisStore) List(ctx context.Context, userID string, limit int) ([]memvec.MemoryItem, error) {
	limit = effectiveLimit(limit)
	q := "*"
	if userID != "" {
		q = fmt.Sprintf("@user_id:{%s}", escapeRedisTag(userID))
	}
	args := []any{
		"FT.SEARCH", r.indexName, q,
		"SORTBY", "created_at", "DESC",
		"LIMIT", "0", strconv.Itoa(limit),
		"DIALECT", "2",
	}
	reply, err := r.client.Do(ctx, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: FT.SEARCH list: %v", memvec.ErrBackendUnavailable, err)
	}
	docs := parseSearchReply(reply)
	out := make([]memvec.MemoryItem, 0, len(docs))
	for _, d := range docs {
		out = append(out, itemFromHashFields(d.fields))
	}
	return out, nil
}

func (r *redisStore) Get(ctx context.Context, id string) (*memvec.MemoryItem, error) {
	res, err := r.client.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: hgetall: %v", memvec.ErrBackendUnavailable, err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	item := itemFromHashFields(res)
	return &item, nil
}

func (r *redisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: del: %v", memvec.ErrBackendUnavailable, err)
	}
	return nil
}

func (r *redisStore) DeleteByUser(ctx context.Context, userID string) error {
	items, err := r.List(ctx, userID, deleteByUserScanLimit)
	if err != nil {
		return fmt.Errorf("vectorstore: list for delete-by-user: %w", err)
	}
	for _, it := range items {
		if err := r.Delete(ctx, it.ID); err != nil {
			return err
		}
	}
	return nil
}
