package memstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/finquiry/finquiry/internal/vectorstore"
	"github.com/finquiry/finquiry/pkg/types"
)

func newTestStore(t *testing.T, max int) *Store {
	t.Helper()
	store := New(max)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func insightRecord(id, userID, content string, createdAt time.Time) vectorstore.Record {
	return vectorstore.Record{
		ID: id,
		Insight: types.Insight{
			ID:        id,
			UserID:    userID,
			Content:   content,
			Type:      "general",
			CreatedAt: createdAt,
		},
	}
}

func TestQueryTokenMatchScore(t *testing.T) {
	store := newTestStore(t, 100)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := store.Upsert(ctx, insightRecord("a", "u1", "Apple revenue grew strongly", now)); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if err := store.Upsert(ctx, insightRecord("b", "u1", "Bond yields fell", now)); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	matches, err := store.Query(ctx, vectorstore.Query{Text: "Apple earnings"}, 10, vectorstore.Filter{UserID: "u1"})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Query: got %d matches, want 1", len(matches))
	}
	if matches[0].Insight.ID != "a" {
		t.Errorf("Query: got insight %q, want %q", matches[0].Insight.ID, "a")
	}
	if matches[0].Score != TokenMatchScore {
		t.Errorf("Score: got %v, want %v", matches[0].Score, TokenMatchScore)
	}
}

func TestQueryNewestFirstAndTopK(t *testing.T) {
	store := newTestStore(t, 100)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		rec := insightRecord(fmt.Sprintf("id-%d", i), "u1", "market update", base.Add(time.Duration(i)*time.Minute))
		if err := store.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert() failed: %v", err)
		}
	}

	matches, err := store.Query(ctx, vectorstore.Query{Text: "market"}, 2, vectorstore.Filter{UserID: "u1"})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Query: got %d matches, want 2", len(matches))
	}
	if matches[0].Insight.ID != "id-4" || matches[1].Insight.ID != "id-3" {
		t.Errorf("Query order: got %q, %q; want id-4, id-3", matches[0].Insight.ID, matches[1].Insight.ID)
	}
}

func TestFilterByUserAndType(t *testing.T) {
	store := newTestStore(t, 100)
	ctx := context.Background()
	now := time.Now().UTC()

	recA := insightRecord("a", "u1", "growth stocks rally", now)
	recA.Insight.Type = "research_finding"
	recB := insightRecord("b", "u2", "growth stocks rally", now)

	for _, rec := range []vectorstore.Record{recA, recB} {
		if err := store.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert() failed: %v", err)
		}
	}

	matches, err := store.Query(ctx, vectorstore.Query{Text: "growth"}, 10, vectorstore.Filter{
		UserID: "u1",
		Types:  []string{"research_finding"},
	})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(matches) != 1 || matches[0].Insight.UserID != "u1" {
		t.Fatalf("Query filter: got %d matches, want exactly u1's record", len(matches))
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	store := newTestStore(t, 100)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := insightRecord("same-id", "u1", "stable content", now)
	if err := store.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if err := store.Upsert(ctx, rec); err != nil {
		t.Fatalf("second Upsert() failed: %v", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Count: got %d, want 1", count)
	}
}

func TestDeleteAndIncrementAccess(t *testing.T) {
	store := newTestStore(t, 100)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.Upsert(ctx, insightRecord("a", "u1", "content one", now)); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if err := store.IncrementAccess(ctx, []string{"a", "missing"}); err != nil {
		t.Fatalf("IncrementAccess() failed: %v", err)
	}

	insights, err := store.GetAll(ctx, vectorstore.Filter{UserID: "u1"}, 0)
	if err != nil {
		t.Fatalf("GetAll() failed: %v", err)
	}
	if len(insights) != 1 || insights[0].AccessCount != 1 {
		t.Fatalf("AccessCount: got %+v, want one insight with count 1", insights)
	}
	if insights[0].LastAccessedAt == nil {
		t.Error("LastAccessedAt: got nil, want set")
	}

	if err := store.Delete(ctx, []string{"a"}); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	count, _ := store.Count(ctx)
	if count != 0 {
		t.Errorf("Count after delete: got %d, want 0", count)
	}
}

func TestBoundedCapacityEvictsOldest(t *testing.T) {
	store := newTestStore(t, 3)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		rec := insightRecord(fmt.Sprintf("id-%d", i), "u1", "filler", base.Add(time.Duration(i)*time.Second))
		if err := store.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert() failed: %v", err)
		}
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Count: got %d, want bound of 3", count)
	}
}

func TestOpenNeverFails(t *testing.T) {
	backend, err := Open(0)(context.Background())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer backend.Close()
	if backend.Kind() != "memory" {
		t.Errorf("Kind: got %q, want %q", backend.Kind(), "memory")
	}
}
