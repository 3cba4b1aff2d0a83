// Package postgres implements the primary vector backend on PostgreSQL with
// the pgvector extension.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq" // registers the PostgreSQL driver
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/finquiry/finquiry/internal/vectorstore"
	"github.com/finquiry/finquiry/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS insights (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	thread_id        TEXT,
	content          TEXT NOT NULL,
	insight_type     TEXT NOT NULL DEFAULT 'general',
	entities         JSONB,
	confidence       DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	metadata         JSONB,
	embedding        vector(768),
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	access_count     BIGINT NOT NULL DEFAULT 0,
	last_accessed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_insights_user ON insights(user_id);
CREATE INDEX IF NOT EXISTS idx_insights_user_type ON insights(user_id, insight_type);
`

// ivfflat needs rows to build useful lists; creation is attempted once and
// a failure (e.g. empty table on some server versions) is non-fatal.
const vectorIndex = `
CREATE INDEX IF NOT EXISTS idx_insights_embedding_cosine
ON insights USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)
`

const insightColumns = `
	id, user_id, thread_id, content, insight_type, entities,
	confidence, metadata, created_at, access_count, last_accessed_at
`

// Store implements vectorstore.Backend using PostgreSQL + pgvector.
type Store struct {
	db *sql.DB
}

var _ vectorstore.Backend = (*Store)(nil)

// New connects to PostgreSQL, verifies the pgvector extension and ensures
// the schema. Unlike the downstream embedded tiers, a missing extension is
// fatal here: the primary tier is only selected when full vector support is
// present, otherwise selection falls through to the next tier.
func New(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres: %w: no DSN configured", vectorstore.ErrBackendUnavailable)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: pgvector extension: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	// Index creation can fail on servers that reject ivfflat on empty
	// tables; queries still work via sequential scan.
	_, _ = db.ExecContext(ctx, vectorIndex)

	return &Store{db: db}, nil
}

// Open adapts New to the vectorstore.Opener signature.
func Open(dsn string) vectorstore.Opener {
	return func(ctx context.Context) (vectorstore.Backend, error) {
		return New(ctx, dsn)
	}
}

// Upsert creates or replaces the record with rec.ID. Metadata-only records
// store a NULL embedding; they remain visible to GetAll but are excluded
// from vector queries.
func (s *Store) Upsert(ctx context.Context, rec vectorstore.Record) error {
	if rec.ID == "" || rec.Insight.Content == "" {
		return vectorstore.ErrInvalidRecord
	}

	entities, err := json.Marshal(rec.Insight.Entities)
	if err != nil {
		return fmt.Errorf("postgres: marshal entities: %w", err)
	}
	metadata, err := json.Marshal(rec.Insight.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal metadata: %w", err)
	}

	var embedding any
	if len(rec.Vector) > 0 {
		embedding = pgvector.NewVector(rec.Vector)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO insights (
			id, user_id, thread_id, content, insight_type, entities,
			confidence, metadata, embedding, created_at, access_count, last_accessed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			thread_id    = EXCLUDED.thread_id,
			content      = EXCLUDED.content,
			insight_type = EXCLUDED.insight_type,
			entities     = EXCLUDED.entities,
			confidence   = EXCLUDED.confidence,
			metadata     = EXCLUDED.metadata,
			embedding    = EXCLUDED.embedding
	`,
		rec.ID, rec.Insight.UserID, nullable(rec.Insight.ThreadID), rec.Insight.Content,
		rec.Insight.Type, string(entities), rec.Insight.Confidence, string(metadata),
		embedding, rec.Insight.CreatedAt, rec.Insight.AccessCount, rec.Insight.LastAccessedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert %s: %w", rec.ID, err)
	}
	return nil
}

// Query ranks the user's embedded records by cosine similarity. pgvector's
// <=> operator yields cosine distance, so similarity is 1 - distance, which
// keeps all backends on the same canonical scale.
func (s *Store) Query(ctx context.Context, q vectorstore.Query, topK int, f vectorstore.Filter) ([]vectorstore.Match, error) {
	if len(q.Vector) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}

	vec := pgvector.NewVector(q.Vector)
	args := []any{vec, f.UserID}
	query := `
		SELECT ` + insightColumns + `, 1 - (embedding <=> $1) AS similarity
		FROM insights
		WHERE user_id = $2 AND embedding IS NOT NULL
	`
	if len(f.Types) > 0 {
		query += ` AND insight_type = ANY($4)`
	}
	query += `
		ORDER BY similarity DESC, created_at DESC
		LIMIT $3
	`
	args = append(args, topK)
	if len(f.Types) > 0 {
		args = append(args, pq.Array(f.Types))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []vectorstore.Match
	for rows.Next() {
		var (
			in    types.Insight
			score float64
		)
		if err := scanInsight(rows, &in, &score); err != nil {
			return nil, fmt.Errorf("postgres: scan match: %w", err)
		}
		in.SimilarityScore = score
		matches = append(matches, vectorstore.Match{Insight: in, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate matches: %w", err)
	}
	return matches, nil
}

// GetAll lists stored insights for the filter, newest first.
func (s *Store) GetAll(ctx context.Context, f vectorstore.Filter, limit int) ([]types.Insight, error) {
	var args []any
	query := `
		SELECT ` + insightColumns + `, 0::double precision
		FROM insights
		WHERE 1=1
	`
	if f.UserID != "" {
		args = append(args, f.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if len(f.Types) > 0 {
		args = append(args, pq.Array(f.Types))
		query += fmt.Sprintf(" AND insight_type = ANY($%d)", len(args))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list insights: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var insights []types.Insight
	for rows.Next() {
		var (
			in    types.Insight
			score float64
		)
		if err := scanInsight(rows, &in, &score); err != nil {
			return nil, fmt.Errorf("postgres: scan insight: %w", err)
		}
		insights = append(insights, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate insights: %w", err)
	}
	return insights, nil
}

// Count reports the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM insights`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return n, nil
}

// Delete removes records by ID.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM insights WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("postgres: delete: %w", err)
	}
	return nil
}

// IncrementAccess bumps access_count and last_accessed_at for the given IDs.
func (s *Store) IncrementAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE insights
		SET access_count = access_count + 1, last_accessed_at = NOW()
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("postgres: increment access: %w", err)
	}
	return nil
}

// Kind identifies this backend.
func (s *Store) Kind() string { return "postgres" }

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// scanInsight reads one insights row plus the trailing similarity column.
func scanInsight(rows *sql.Rows, in *types.Insight, score *float64) error {
	var (
		threadID       sql.NullString
		entitiesJSON   []byte
		metadataJSON   []byte
		lastAccessedAt sql.NullTime
	)
	err := rows.Scan(
		&in.ID, &in.UserID, &threadID, &in.Content, &in.Type, &entitiesJSON,
		&in.Confidence, &metadataJSON, &in.CreatedAt, &in.AccessCount,
		&lastAccessedAt, score,
	)
	if err != nil {
		return err
	}
	if threadID.Valid {
		in.ThreadID = threadID.String
	}
	if len(entitiesJSON) > 0 && string(entitiesJSON) != "null" {
		if err := json.Unmarshal(entitiesJSON, &in.Entities); err != nil {
			return fmt.Errorf("unmarshal entities: %w", err)
		}
	}
	if len(metadataJSON) > 0 && string(metadataJSON) != "null" {
		if err := json.Unmarshal(metadataJSON, &in.Metadata); err != nil {
			return fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		in.LastAccessedAt = &t
	}
	return nil
}

// nullable maps an empty string to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
