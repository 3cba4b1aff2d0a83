// Package memory implements the two-tier memory subsystem: a TTL-bound
// conversation cache for short-term recall and a semantically searchable
// long-term insight store. Both tiers fail closed so that memory outages
// degrade research quality instead of failing requests.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/finquiry/finquiry/internal/embedding"
	"github.com/finquiry/finquiry/internal/vectorstore"
	"github.com/finquiry/finquiry/pkg/types"
)

// LongTermConfig tunes the long-term store.
type LongTermConfig struct {
	// BackendTimeout bounds every backend call (default: 5s).
	BackendTimeout time.Duration
}

// LongTermMemory stores insights durably and retrieves them by semantic
// similarity. Every public method absorbs backend and embedding failures,
// logging a warning and returning a zero result instead of an error.
type LongTermMemory struct {
	provider embedding.Provider // may be nil: metadata-only storage
	backend  vectorstore.Backend
	timeout  time.Duration
}

// InsightInput is one insight to persist.
type InsightInput struct {
	Content    string
	Type       string
	Entities   []string
	Confidence float64
	Metadata   map[string]string
}

// MemoryStats summarizes the long-term store contents.
type MemoryStats struct {
	BackendKind   string         `json:"backend_kind"`
	TotalCount    int            `json:"total_count"` // -1 when the backend cannot count
	TypeHistogram map[string]int `json:"type_histogram,omitempty"`
	Oldest        *time.Time     `json:"oldest,omitempty"`
	Newest        *time.Time     `json:"newest,omitempty"`
}

// NewLongTermMemory creates the long-term tier. The provider may be nil,
// in which case insights are stored without vectors and search falls back
// to whatever matching the backend supports.
func NewLongTermMemory(provider embedding.Provider, backend vectorstore.Backend, cfg LongTermConfig) *LongTermMemory {
	if cfg.BackendTimeout == 0 {
		cfg.BackendTimeout = 5 * time.Second
	}
	return &LongTermMemory{
		provider: provider,
		backend:  backend,
		timeout:  cfg.BackendTimeout,
	}
}

// InsightID derives the deterministic record ID for a user's insight.
// Storing the same content for the same user always updates in place.
func InsightID(userID, content string) string {
	sum := sha256.Sum256([]byte(userID + ":" + content))
	return "insight_" + hex.EncodeToString(sum[:])[:16]
}

// Available reports whether the long-term tier can serve requests.
func (m *LongTermMemory) Available() bool {
	return m != nil && m.backend != nil
}

// StoreInsight persists one insight for a user. Returns false when the
// input is empty or the tier is unavailable or the write failed.
func (m *LongTermMemory) StoreInsight(ctx context.Context, userID, threadID string, in InsightInput) bool {
	if !m.Available() {
		return false
	}
	if userID == "" || in.Content == "" {
		return false
	}
	if in.Type == "" {
		in.Type = "general"
	}

	rec := vectorstore.Record{
		ID: InsightID(userID, in.Content),
		Insight: types.Insight{
			ID:         InsightID(userID, in.Content),
			UserID:     userID,
			ThreadID:   threadID,
			Content:    in.Content,
			Type:       in.Type,
			Entities:   in.Entities,
			Confidence: in.Confidence,
			Metadata:   in.Metadata,
			CreatedAt:  time.Now().UTC(),
		},
	}

	if m.provider != nil {
		vec, err := m.provider.Embed(ctx, in.Content)
		if err != nil {
			log.Printf("warning: memory: embedding failed, storing metadata-only: %v", err)
		} else {
			rec.Vector = vec
		}
	}

	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.backend.Upsert(cctx, rec); err != nil {
		log.Printf("warning: memory: store insight: %v", err)
		return false
	}
	return true
}

// StoreInsights persists a batch of insights independently and returns the
// number stored. One bad insight never aborts the rest.
func (m *LongTermMemory) StoreInsights(ctx context.Context, userID, threadID string, insights []InsightInput) int {
	stored := 0
	for _, in := range insights {
		if m.StoreInsight(ctx, userID, threadID, in) {
			stored++
		}
	}
	return stored
}

// SearchMemories retrieves up to limit insights for a user ranked by
// semantic similarity to the query. Results below minConfidence are
// dropped. Access counts of returned insights are incremented
// asynchronously; a failed increment never affects the result.
func (m *LongTermMemory) SearchMemories(ctx context.Context, userID, query string, limit int, minConfidence float64, insightTypes []string) []types.Insight {
	if !m.Available() || userID == "" || query == "" {
		return nil
	}
	if limit <= 0 {
		limit = 5
	}

	q := vectorstore.Query{Text: query}
	if m.provider != nil {
		vec, err := m.provider.Embed(ctx, query)
		if err != nil {
			log.Printf("warning: memory: query embedding failed, falling back to text match: %v", err)
		} else {
			q.Vector = vec
		}
	}

	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	matches, err := m.backend.Query(cctx, q, limit, vectorstore.Filter{UserID: userID, Types: insightTypes})
	if err != nil {
		log.Printf("warning: memory: search: %v", err)
		return nil
	}

	results := make([]types.Insight, 0, len(matches))
	for _, match := range matches {
		if match.Score < minConfidence {
			continue
		}
		in := match.Insight
		in.SimilarityScore = match.Score
		results = append(results, in)
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].SimilarityScore != results[j].SimilarityScore {
			return results[i].SimilarityScore > results[j].SimilarityScore
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if len(results) > limit {
		results = results[:limit]
	}

	if len(results) > 0 {
		ids := make([]string, len(results))
		for i, in := range results {
			ids[i] = in.ID
		}
		go func() {
			ictx, icancel := context.WithTimeout(context.Background(), m.timeout)
			defer icancel()
			if err := m.backend.IncrementAccess(ictx, ids); err != nil {
				log.Printf("warning: memory: increment access: %v", err)
			}
		}()
	}

	return results
}

// GetUserInsights lists a user's insights newest-first, optionally filtered
// by type.
func (m *LongTermMemory) GetUserInsights(ctx context.Context, userID, insightType string, limit int) []types.Insight {
	if !m.Available() || userID == "" {
		return nil
	}
	if limit <= 0 {
		limit = 10
	}

	f := vectorstore.Filter{UserID: userID}
	if insightType != "" {
		f.Types = []string{insightType}
	}

	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	insights, err := m.backend.GetAll(cctx, f, limit)
	if err != nil {
		log.Printf("warning: memory: get user insights: %v", err)
		return nil
	}
	sort.SliceStable(insights, func(i, j int) bool {
		return insights[i].CreatedAt.After(insights[j].CreatedAt)
	})
	if len(insights) > limit {
		insights = insights[:limit]
	}
	return insights
}

// CleanupOldMemories deletes a user's insights that are BOTH older than
// daysOld AND accessed at most minAccessCount times. Old insights that are
// still being retrieved survive. Returns the number deleted.
func (m *LongTermMemory) CleanupOldMemories(ctx context.Context, userID string, daysOld, minAccessCount int) int {
	if !m.Available() || userID == "" {
		return 0
	}
	if daysOld <= 0 {
		daysOld = 90
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysOld)

	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	insights, err := m.backend.GetAll(cctx, vectorstore.Filter{UserID: userID}, 0)
	if err != nil {
		log.Printf("warning: memory: cleanup scan: %v", err)
		return 0
	}

	var stale []string
	for _, in := range insights {
		if in.CreatedAt.Before(cutoff) && in.AccessCount <= int64(minAccessCount) {
			stale = append(stale, in.ID)
		}
	}
	if len(stale) == 0 {
		return 0
	}

	dctx, dcancel := context.WithTimeout(ctx, m.timeout)
	defer dcancel()
	if err := m.backend.Delete(dctx, stale); err != nil {
		log.Printf("warning: memory: cleanup delete: %v", err)
		return 0
	}
	log.Printf("memory: cleaned up %d stale insights for user %s", len(stale), userID)
	return len(stale)
}

// Stats reports what the backend holds. TotalCount is -1 when the backend
// cannot count cheaply.
func (m *LongTermMemory) Stats(ctx context.Context) MemoryStats {
	if !m.Available() {
		return MemoryStats{BackendKind: "none", TotalCount: -1}
	}

	stats := MemoryStats{BackendKind: m.backend.Kind(), TotalCount: -1}

	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if n, err := m.backend.Count(cctx); err == nil {
		stats.TotalCount = n
	}

	insights, err := m.backend.GetAll(cctx, vectorstore.Filter{}, 0)
	if err != nil {
		log.Printf("warning: memory: stats scan: %v", err)
		return stats
	}
	if len(insights) > 0 {
		stats.TypeHistogram = make(map[string]int, 4)
		for _, in := range insights {
			stats.TypeHistogram[in.Type]++
			created := in.CreatedAt
			if stats.Oldest == nil || created.Before(*stats.Oldest) {
				t := created
				stats.Oldest = &t
			}
			if stats.Newest == nil || created.After(*stats.Newest) {
				t := created
				stats.Newest = &t
			}
		}
	}
	return stats
}

// HealthCheck probes the backend and, when configured, the embedding
// provider.
func (m *LongTermMemory) HealthCheck(ctx context.Context) error {
	if !m.Available() {
		return fmt.Errorf("memory: no long-term backend configured")
	}
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if _, err := m.backend.Count(cctx); err != nil {
		return fmt.Errorf("memory: backend unhealthy: %w", err)
	}
	if m.provider != nil {
		if err := m.provider.HealthCheck(ctx); err != nil {
			return fmt.Errorf("memory: embedding provider unhealthy: %w", err)
		}
	}
	return nil
}
