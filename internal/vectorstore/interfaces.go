// Package vectorstore provides the pluggable vector storage layer used by
// long-term memory.
//
// Three backends implement the Backend interface: a Postgres/pgvector store,
// a local embedded SQLite store, and an in-process LRU-bounded fallback.
// Selection happens once at process startup via Select and the chosen backend
// is used for the process lifetime; records are never shared across backend
// instances.
package vectorstore

import (
	"context"
	"errors"

	"github.com/finquiry/finquiry/pkg/types"
)

var (
	// ErrBackendUnavailable indicates the storage dependency could not be
	// reached or initialized. Always recoverable: callers fall back or no-op.
	ErrBackendUnavailable = errors.New("vector backend unavailable")

	// ErrCountUnknown is returned by backends that cannot report an exact
	// record count.
	ErrCountUnknown = errors.New("record count unknown")

	// ErrInvalidRecord indicates a record without an ID or content.
	ErrInvalidRecord = errors.New("invalid record")
)

// Record is a (vector, insight) pair keyed by the insight ID. Vector may be
// nil for metadata-only records when no embedding could be produced.
type Record struct {
	ID      string
	Vector  []float32
	Insight types.Insight
}

// Match is one ranked query result. Score is cosine similarity on the
// canonical [-1, 1] scale for vector backends; the in-process fallback
// assigns a fixed 0.8 to token-overlap matches.
type Match struct {
	Insight types.Insight
	Score   float64
}

// Filter restricts queries and listings to a user and optionally to a set of
// insight types.
type Filter struct {
	UserID string
	Types  []string
}

// Query carries both representations of a search query. Vector backends rank
// by Vector; the in-process fallback token-matches on Text. Either field may
// be empty depending on embedding availability.
type Query struct {
	Text   string
	Vector []float32
}

// Backend is the capability set every vector store implements.
//
// Query returns matches ranked by descending score with ties broken by
// descending CreatedAt. Implementations do not threshold on score; the
// caller applies its own minimum-confidence cut.
type Backend interface {
	// Upsert creates or replaces the record with rec.ID.
	Upsert(ctx context.Context, rec Record) error

	// Query returns up to topK ranked matches for the filter. A query with
	// a nil vector is only meaningful for backends with a non-vector
	// degradation path (the in-process fallback); vector backends return
	// an empty result for it.
	Query(ctx context.Context, q Query, topK int, f Filter) ([]Match, error)

	// GetAll lists stored insights for the filter, newest first.
	GetAll(ctx context.Context, f Filter, limit int) ([]types.Insight, error)

	// Count reports the number of stored records, or ErrCountUnknown.
	Count(ctx context.Context) (int, error)

	// Delete removes records by ID. Missing IDs are not an error.
	Delete(ctx context.Context, ids []string) error

	// IncrementAccess bumps access_count and last_accessed_at for the given
	// IDs. Lost updates under races are acceptable; this is bookkeeping.
	IncrementAccess(ctx context.Context, ids []string) error

	// Kind identifies the backend ("postgres", "sqlite" or "memory").
	Kind() string

	// Close releases any resources held by the backend.
	Close() error
}

// MatchesFilter reports whether an insight satisfies a filter. Shared by the
// sqlite and in-process backends, which filter in Go.
func MatchesFilter(in types.Insight, f Filter) bool {
	if f.UserID != "" && in.UserID != f.UserID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if in.Type == t {
			return true
		}
	}
	return false
}
