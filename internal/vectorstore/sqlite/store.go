// Package sqlite implements the secondary vector backend on an embedded
// SQLite database.
//
// Embedding vectors are stored as JSON arrays alongside the insight row and
// ranked by cosine similarity computed in Go. That keeps the backend fully
// embedded (no extension required) at the cost of loading the candidate rows
// for a user into memory per query, which is acceptable at the per-user
// record counts this system holds.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

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
	entities         TEXT,
	confidence       REAL NOT NULL DEFAULT 1.0,
	metadata         TEXT,
	embedding        TEXT,
	created_at       TIMESTAMP NOT NULL,
	access_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_insights_user ON insights(user_id);
CREATE INDEX IF NOT EXISTS idx_insights_user_type ON insights(user_id, insight_type);
CREATE INDEX IF NOT EXISTS idx_insights_created ON insights(created_at);
`

const insightColumns = `
	id, user_id, thread_id, content, insight_type, entities,
	confidence, metadata, embedding, created_at, access_count, last_accessed_at
`

// Store implements vectorstore.Backend on SQLite.
type Store struct {
	db *sql.DB
}

var _ vectorstore.Backend = (*Store)(nil)

// New opens (or creates) the SQLite database at dsn and ensures the schema.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}

	// SQLite supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent callers;
	// WAL mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// Open adapts New to the vectorstore.Opener signature.
func Open(dsn string) vectorstore.Opener {
	return func(ctx context.Context) (vectorstore.Backend, error) {
		if strings.TrimSpace(dsn) == "" {
			return nil, fmt.Errorf("sqlite: %w: empty path", vectorstore.ErrBackendUnavailable)
		}
		return New(dsn)
	}
}

// Upsert creates or replaces the record with rec.ID.
func (s *Store) Upsert(ctx context.Context, rec vectorstore.Record) error {
	if rec.ID == "" || rec.Insight.Content == "" {
		return vectorstore.ErrInvalidRecord
	}

	entities, err := json.Marshal(rec.Insight.Entities)
	if err != nil {
		return fmt.Errorf("sqlite: marshal entities: %w", err)
	}
	metadata, err := json.Marshal(rec.Insight.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: marshal metadata: %w", err)
	}

	var embedding any // NULL for metadata-only records
	if len(rec.Vector) > 0 {
		buf, err := json.Marshal(rec.Vector)
		if err != nil {
			return fmt.Errorf("sqlite: marshal embedding: %w", err)
		}
		embedding = string(buf)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO insights (`+insightColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			thread_id    = excluded.thread_id,
			content      = excluded.content,
			insight_type = excluded.insight_type,
			entities     = excluded.entities,
			confidence   = excluded.confidence,
			metadata     = excluded.metadata,
			embedding    = excluded.embedding
	`,
		rec.ID, rec.Insight.UserID, nullable(rec.Insight.ThreadID), rec.Insight.Content,
		rec.Insight.Type, string(entities), rec.Insight.Confidence, string(metadata),
		embedding, rec.Insight.CreatedAt, rec.Insight.AccessCount, rec.Insight.LastAccessedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert %s: %w", rec.ID, err)
	}
	return nil
}

// Query loads the user's embedded rows and ranks them by cosine similarity
// computed in Go, ties broken by created_at descending.
func (s *Store) Query(ctx context.Context, q vectorstore.Query, topK int, f vectorstore.Filter) ([]vectorstore.Match, error) {
	if len(q.Vector) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+insightColumns+`
		FROM insights
		WHERE user_id = ? AND embedding IS NOT NULL
	`, f.UserID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []vectorstore.Match
	for rows.Next() {
		insight, vector, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan candidate: %w", err)
		}
		if !vectorstore.MatchesFilter(insight, f) {
			continue
		}
		score := cosineSimilarity(q.Vector, vector)
		insight.SimilarityScore = score
		matches = append(matches, vectorstore.Match{Insight: insight, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate candidates: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Insight.CreatedAt.After(matches[j].Insight.CreatedAt)
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// GetAll lists stored insights for the filter, newest first.
func (s *Store) GetAll(ctx context.Context, f vectorstore.Filter, limit int) ([]types.Insight, error) {
	var args []any
	query := `SELECT ` + insightColumns + ` FROM insights WHERE 1=1`
	if f.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if len(f.Types) == 1 {
		query += ` AND insight_type = ?`
		args = append(args, f.Types[0])
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list insights: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var insights []types.Insight
	for rows.Next() {
		insight, _, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan insight: %w", err)
		}
		if !vectorstore.MatchesFilter(insight, f) {
			continue
		}
		insights = append(insights, insight)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate insights: %w", err)
	}
	return insights, nil
}

// Count reports the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM insights`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count: %w", err)
	}
	return n, nil
}

// Delete removes records by ID. Missing IDs are not an error.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM insights WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("sqlite: delete: %w", err)
	}
	return nil
}

// IncrementAccess atomically bumps access_count and last_accessed_at.
func (s *Store) IncrementAccess(ctx context.Context, ids []string) error {
	now := time.Now()
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE insights
			SET access_count = access_count + 1, last_accessed_at = ?
			WHERE id = ?
		`, now, id); err != nil {
			return fmt.Errorf("sqlite: increment access %s: %w", id, err)
		}
	}
	return nil
}

// Kind identifies this backend.
func (s *Store) Kind() string { return "sqlite" }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// scanInsight reads one insights row plus its embedding vector.
func scanInsight(rows *sql.Rows) (types.Insight, []float32, error) {
	var (
		in             types.Insight
		threadID       sql.NullString
		entitiesJSON   sql.NullString
		metadataJSON   sql.NullString
		embeddingJSON  sql.NullString
		lastAccessedAt sql.NullTime
	)
	err := rows.Scan(
		&in.ID, &in.UserID, &threadID, &in.Content, &in.Type, &entitiesJSON,
		&in.Confidence, &metadataJSON, &embeddingJSON, &in.CreatedAt,
		&in.AccessCount, &lastAccessedAt,
	)
	if err != nil {
		return types.Insight{}, nil, err
	}
	if threadID.Valid {
		in.ThreadID = threadID.String
	}
	if entitiesJSON.Valid && entitiesJSON.String != "" && entitiesJSON.String != "null" {
		if err := json.Unmarshal([]byte(entitiesJSON.String), &in.Entities); err != nil {
			return types.Insight{}, nil, fmt.Errorf("unmarshal entities: %w", err)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &in.Metadata); err != nil {
			return types.Insight{}, nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		in.LastAccessedAt = &t
	}
	var vector []float32
	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &vector); err != nil {
			return types.Insight{}, nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
	}
	return in, vector, nil
}

// cosineSimilarity computes cosine similarity between two equal-length
// vectors. Returns 0 if either vector has zero magnitude or lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// nullable maps an empty string to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
