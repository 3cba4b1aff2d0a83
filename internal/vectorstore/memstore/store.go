// Package memstore implements the in-process fallback vector backend.
//
// It holds records in an LRU-bounded map. Because no embedding index exists,
// Query degrades to case-insensitive token overlap matching: an insight
// matches when any whitespace-delimited token of the query appears in its
// content, and every match receives a fixed similarity score of 0.8. This is
// a deliberate, documented degradation of the semantic search contract.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/finquiry/finquiry/internal/vectorstore"
	"github.com/finquiry/finquiry/pkg/types"
)

// TokenMatchScore is the fixed similarity assigned to token-overlap matches.
const TokenMatchScore = 0.8

// DefaultMaxRecords bounds the store when no size is configured.
const DefaultMaxRecords = 10000

// Store is an LRU-bounded in-process vector backend.
type Store struct {
	mu      sync.RWMutex
	records *lru.Cache[string, vectorstore.Record]
}

var _ vectorstore.Backend = (*Store)(nil)

// New creates a fallback store bounded to maxRecords entries. Non-positive
// sizes use DefaultMaxRecords.
func New(maxRecords int) *Store {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	// lru.New only errors on non-positive size, which is guarded above.
	cache, _ := lru.New[string, vectorstore.Record](maxRecords)
	return &Store{records: cache}
}

// Open adapts New to the vectorstore.Opener signature. It never fails.
func Open(maxRecords int) vectorstore.Opener {
	return func(ctx context.Context) (vectorstore.Backend, error) {
		return New(maxRecords), nil
	}
}

// Upsert stores or replaces a record. Metadata-only records (nil vector)
// are accepted.
func (s *Store) Upsert(ctx context.Context, rec vectorstore.Record) error {
	if rec.ID == "" || rec.Insight.Content == "" {
		return vectorstore.ErrInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records.Add(rec.ID, rec)
	return nil
}

// Query performs token-overlap matching against stored content. The query
// vector is ignored; matches score a fixed 0.8 and are ordered newest first
// (all scores tie).
func (s *Store) Query(ctx context.Context, q vectorstore.Query, topK int, f vectorstore.Filter) ([]vectorstore.Match, error) {
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(q.Text)))

	s.mu.RLock()
	var matches []vectorstore.Match
	for _, id := range s.records.Keys() {
		rec, ok := s.records.Peek(id)
		if !ok || !vectorstore.MatchesFilter(rec.Insight, f) {
			continue
		}
		if !tokensMatch(rec.Insight.Content, tokens) {
			continue
		}
		in := rec.Insight
		in.SimilarityScore = TokenMatchScore
		matches = append(matches, vectorstore.Match{Insight: in, Score: TokenMatchScore})
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Insight.CreatedAt.After(matches[j].Insight.CreatedAt)
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// GetAll lists stored insights for the filter, newest first.
func (s *Store) GetAll(ctx context.Context, f vectorstore.Filter, limit int) ([]types.Insight, error) {
	s.mu.RLock()
	var insights []types.Insight
	for _, id := range s.records.Keys() {
		rec, ok := s.records.Peek(id)
		if !ok || !vectorstore.MatchesFilter(rec.Insight, f) {
			continue
		}
		insights = append(insights, rec.Insight)
	}
	s.mu.RUnlock()

	sort.SliceStable(insights, func(i, j int) bool {
		return insights[i].CreatedAt.After(insights[j].CreatedAt)
	})
	if limit > 0 && len(insights) > limit {
		insights = insights[:limit]
	}
	return insights, nil
}

// Count reports the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.Len(), nil
}

// Delete removes records by ID.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.records.Remove(id)
	}
	return nil
}

// IncrementAccess bumps access counters for the given IDs.
func (s *Store) IncrementAccess(ctx context.Context, ids []string) error {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		rec, ok := s.records.Peek(id)
		if !ok {
			continue
		}
		rec.Insight.AccessCount++
		rec.Insight.LastAccessedAt = &now
		s.records.Add(id, rec)
	}
	return nil
}

// Kind identifies this backend.
func (s *Store) Kind() string { return "memory" }

// Close releases the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records.Purge()
	return nil
}

// tokensMatch reports whether any query token appears as a substring of the
// content, case-insensitively.
func tokensMatch(content string, tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	lower := strings.ToLower(content)
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}
