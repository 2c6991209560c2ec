package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"memnet/internal/memvec"
)

// postgresStore is the structured vector DB backend (spec §4.3.2), a
// pgvector-backed table with one row per MemoryItem. Grounded on the
// teacher's postgres_vector.go.
type postgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgres returns a Store backed by a pgvector-enabled Postgres
// database reachable through pool. table is created (with the pgvector
// extension) on first EnsureCollectionExists call.
func NewPostgres(pool *pgxpool.Pool, table string) Store {
	if table == "" {
		table = "memnet_memories"
	}
	return &postgresStore{pool: pool, table: table}
}

func (p *postgresStore) EnsureCollectionExists(ctx context.Context, vectorSize int, allowRecreation bool) error {
	if vectorSize <= 0 {
		return fmt.Errorf("%w: postgres requires vectorSize > 0", memvec.ErrValidation)
	}
	if _, err := p.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("%w: create vector extension: %v", memvec.ErrBackendUnavailable, err)
	}

	var existing int
	err := p.pool.QueryRow(ctx, `
SELECT atttypmod
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
WHERE c.relname = $1 AND a.attname = 'embedding' AND a.attnum > 0
`, p.table).Scan(&existing)
	switch {
	case err == nil && existing != vectorSize:
		if !allowRecreation {
			return &memvec.SchemaMismatchError{Collection: p.table, Existing: existing, Requested: vectorSize}
		}
		if _, err := p.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, p.table)); err != nil {
			return fmt.Errorf("%w: drop table for recreate: %v", memvec.ErrBackendUnavailable, err)
		}
	case err == nil:
		return nil
	}

	createSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  data TEXT NOT NULL,
  user_id TEXT NOT NULL DEFAULT '',
  agent_id TEXT NOT NULL DEFAULT '',
  run_id TEXT NOT NULL DEFAULT '',
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  hash TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ,
  embedding vector(%d) NOT NULL
)`, p.table, vectorSize)
	if _, err := p.pool.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("%w: create table: %v", memvec.ErrBackendUnavailable, err)
	}
	return nil
}

func (p *postgresStore) upsert(ctx context.Context, items []memvec.MemoryItem) error {
	for _, it := range items {
		metadata, err := json.Marshal(it.Metadata)
		if err != nil {
			return fmt.Errorf("vectorstore: encode metadata: %w", err)
		}
		var updatedAt any
		if !it.UpdatedAt.IsZero() {
			updatedAt = it.UpdatedAt
		}
		_, err = p.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (id, data, user_id, agent_id, run_id, metadata, hash, created_at, updated_at, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::vector)
ON CONFLICT (id) DO UPDATE SET
  data=EXCLUDED.data, user_id=EXCLUDED.user_id, agent_id=EXCLUDED.agent_id,
  run_id=EXCLUDED.run_id, metadata=EXCLUDED.metadata, hash=EXCLUDED.hash,
  updated_at=EXCLUDED.updated_at, embedding=EXCLUDED.embedding
`, p.table), it.ID, it.Data, it.UserID, it.AgentID, it.RunID, metadata, it.Hash, it.CreatedAt, updatedAt, vectorLiteral(it.Embedding))
		if err != nil {
			return fmt.Errorf("%w: upsert: %v", memvec.ErrBackendUnavailable, err)
		}
	}
	return nil
}

func (p *postgresStore) Insert(ctx context.Context, items []memvec.MemoryItem) error { return p.upsert(ctx, items) }
func (p *postgresStore) Update(ctx context.Context, items []memvec.MemoryItem) error { return p.upsert(ctx, items) }

func (p *postgresStore) Search(ctx context.Context, queryVec []float32, userID string, limit int) ([]memvec.MemorySearchResult, error) {
	limit = effectiveLimit(limit)
	where := ""
	args := []any{vectorLiteral(queryVec)}
	if userID != "" {
		where = "WHERE user_id = $2"
		args = append(args, userID)
	}
	args = append(args, limit)
	limitPos := strconv.Itoa(len(args))
	query := fmt.Sprintf(`
SELECT id, data, user_id, agent_id, run_id, metadata, hash, created_at, updated_at,
       1 - (embedding <=> $1::vector) AS score
FROM %s %s
ORDER BY embedding <=> $1::vector
LIMIT $%s`, p.table, where, limitPos)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", memvec.ErrBackendUnavailable, err)
	}
	defer rows.Close()

	out := make([]memvec.MemorySearchResult, 0, limit)
	for rows.Next() {
		item, score, err := scanItemWithScore(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan search row: %v", memvec.ErrProtocol, err)
		}
		out = append(out, memvec.MemorySearchResult{Memory: item, Score: clampScore(score)})
	}
	return out, rows.Err()
}

func (p *postgresStore) List(ctx context.Context, userID string, limit int) ([]memvec.MemoryItem, error) {
	limit = effectiveLimit(limit)
	where := ""
	args := []any{}
	if userID != "" {
		where = "WHERE user_id = $1"
		args = append(args, userID)
	}
	args = append(args, limit)
	limitPos := strconv.Itoa(len(args))
	query := fmt.Sprintf(`
SELECT id, data, user_id, agent_id, run_id, metadata, hash, created_at, updated_at
FROM %s %s
ORDER BY created_at DESC
LIMIT $%s`, p.table, where, limitPos)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", memvec.ErrBackendUnavailable, err)
	}
	defer rows.Close()

	out := make([]memvec.MemoryItem, 0, limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan list row: %v", memvec.ErrProtocol, err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (p *postgresStore) Get(ctx context.Context, id string) (*memvec.MemoryItem, error) {
	query := fmt.Sprintf(`
SELECT id, data, user_id, agent_id, run_id, metadata, hash, created_at, updated_at
FROM %s WHERE id = $1`, p.table)
	row := p.pool.QueryRow(ctx, query, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get: %v", memvec.ErrBackendUnavailable, err)
	}
	return &item, nil
}

func (p *postgresStore) Delete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, p.table), id)
	if err != nil {
		return fmt.Errorf("%w: delete: %v", memvec.ErrBackendUnavailable, err)
	}
	return nil
}

func (p *postgresStore) DeleteByUser(ctx context.Context, userID string) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, p.table), userID)
	if err != nil {
		return fmt.Errorf("%w: delete by user: %v", memvec.ErrBackendUnavailable, err)
	}
	return nil
}

// rowScanner abstracts over pgx.Row and pgx.Rows, which share Scan but not
// a common interface in pgx/v5.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (memvec.MemoryItem, error) {
	var it memvec.MemoryItem
	var metadata []byte
	var updatedAt *time.Time
	if err := row.Scan(&it.ID, &it.Data, &it.UserID, &it.AgentID, &it.RunID, &metadata, &it.Hash, &it.CreatedAt, &updatedAt); err != nil {
		return memvec.MemoryItem{}, err
	}
	if updatedAt != nil {
		it.UpdatedAt = *updatedAt
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &it.Metadata)
	}
	return it, nil
}

func scanItemWithScore(row rowScanner) (memvec.MemoryItem, float64, error) {
	var it memvec.MemoryItem
	var metadata []byte
	var updatedAt *time.Time
	var score float64
	if err := row.Scan(&it.ID, &it.Data, &it.UserID, &it.AgentID, &it.RunID, &metadata, &it.Hash, &it.CreatedAt, &updatedAt, &score); err != nil {
		return memvec.MemoryItem{}, 0, err
	}
	if updatedAt != nil {
		it.UpdatedAt = *updatedAt
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &it.Metadata)
	}
	return it, score, nil
}

// vectorLiteral renders a float32 slice as a pgvector literal, e.g.
// "[0.1,0.2,0.3]".
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
