package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finquiry/finquiry/internal/vectorstore"
	"github.com/finquiry/finquiry/internal/vectorstore/memstore"
	"github.com/finquiry/finquiry/pkg/types"
)

func newTestLongTerm(t *testing.T) (*LongTermMemory, *memstore.Store) {
	t.Helper()
	backend := memstore.New(100)
	t.Cleanup(func() { _ = backend.Close() })
	return NewLongTermMemory(nil, backend, LongTermConfig{}), backend
}

func TestInsightIDIsDeterministic(t *testing.T) {
	a := InsightID("u1", "AAPL revenue grew")
	b := InsightID("u1", "AAPL revenue grew")
	c := InsightID("u2", "AAPL revenue grew")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "insight_")
}

func TestStoreInsightIsIdempotent(t *testing.T) {
	lt, backend := newTestLongTerm(t)
	ctx := context.Background()

	in := InsightInput{Content: "AAPL revenue grew 10%", Confidence: 0.9}
	require.True(t, lt.StoreInsight(ctx, "u1", "t1", in))
	require.True(t, lt.StoreInsight(ctx, "u1", "t1", in))

	count, err := backend.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStoreInsightRejectsEmptyInput(t *testing.T) {
	lt, _ := newTestLongTerm(t)
	ctx := context.Background()

	assert.False(t, lt.StoreInsight(ctx, "", "t1", InsightInput{Content: "x"}))
	assert.False(t, lt.StoreInsight(ctx, "u1", "t1", InsightInput{}))
}

func TestStoreInsightsCountsSuccesses(t *testing.T) {
	lt, _ := newTestLongTerm(t)
	ctx := context.Background()

	stored := lt.StoreInsights(ctx, "u1", "t1", []InsightInput{
		{Content: "first finding"},
		{}, // empty content fails independently
		{Content: "second finding"},
	})
	assert.Equal(t, 2, stored)
}

func TestSearchMemoriesFiltersByConfidence(t *testing.T) {
	lt, _ := newTestLongTerm(t)
	ctx := context.Background()

	require.True(t, lt.StoreInsight(ctx, "u1", "t1", InsightInput{Content: "Apple margin expanded"}))

	// token-overlap matches score 0.8 on the fallback backend
	results := lt.SearchMemories(ctx, "u1", "apple outlook", 5, 0.7, nil)
	require.Len(t, results, 1)
	assert.Equal(t, 0.8, results[0].SimilarityScore)

	results = lt.SearchMemories(ctx, "u1", "apple outlook", 5, 0.9, nil)
	assert.Empty(t, results)
}

func TestSearchMemoriesFailClosed(t *testing.T) {
	lt := NewLongTermMemory(nil, nil, LongTermConfig{})

	assert.False(t, lt.Available())
	assert.Empty(t, lt.SearchMemories(context.Background(), "u1", "q", 5, 0, nil))
	assert.False(t, lt.StoreInsight(context.Background(), "u1", "t1", InsightInput{Content: "x"}))
	assert.Zero(t, lt.CleanupOldMemories(context.Background(), "u1", 30, 2))

	stats := lt.Stats(context.Background())
	assert.Equal(t, "none", stats.BackendKind)
	assert.Equal(t, -1, stats.TotalCount)
}

func TestGetUserInsightsNewestFirst(t *testing.T) {
	lt, backend := newTestLongTerm(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i, content := range []string{"oldest", "middle", "newest"} {
		rec := vectorstore.Record{
			ID: InsightID("u1", content),
			Insight: types.Insight{
				ID:        InsightID("u1", content),
				UserID:    "u1",
				Content:   content,
				Type:      "general",
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			},
		}
		require.NoError(t, backend.Upsert(ctx, rec))
	}

	insights := lt.GetUserInsights(ctx, "u1", "", 2)
	require.Len(t, insights, 2)
	assert.Equal(t, "newest", insights[0].Content)
	assert.Equal(t, "middle", insights[1].Content)
}

func TestCleanupRequiresBothAgeAndLowAccess(t *testing.T) {
	lt, backend := newTestLongTerm(t)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -100)
	fresh := time.Now().UTC()

	seed := []struct {
		id        string
		createdAt time.Time
		access    int64
	}{
		{"old-idle", old, 0},     // deleted: old AND rarely accessed
		{"old-active", old, 10},  // kept: old but still retrieved
		{"fresh-idle", fresh, 0}, // kept: idle but recent
	}
	for _, s := range seed {
		rec := vectorstore.Record{
			ID: s.id,
			Insight: types.Insight{
				ID:          s.id,
				UserID:      "u1",
				Content:     "content " + s.id,
				Type:        "general",
				CreatedAt:   s.createdAt,
				AccessCount: s.access,
			},
		}
		require.NoError(t, backend.Upsert(ctx, rec))
	}

	deleted := lt.CleanupOldMemories(ctx, "u1", 90, 2)
	assert.Equal(t, 1, deleted)

	remaining := lt.GetUserInsights(ctx, "u1", "", 10)
	ids := make([]string, 0, len(remaining))
	for _, in := range remaining {
		ids = append(ids, in.ID)
	}
	assert.ElementsMatch(t, []string{"old-active", "fresh-idle"}, ids)
}

func TestStatsHistogram(t *testing.T) {
	lt, _ := newTestLongTerm(t)
	ctx := context.Background()

	require.True(t, lt.StoreInsight(ctx, "u1", "", InsightInput{Content: "a finding", Type: "research_finding"}))
	require.True(t, lt.StoreInsight(ctx, "u1", "", InsightInput{Content: "b finding", Type: "research_finding"}))
	require.True(t, lt.StoreInsight(ctx, "u2", "", InsightInput{Content: "note"}))

	stats := lt.Stats(ctx)
	assert.Equal(t, "memory", stats.BackendKind)
	assert.Equal(t, 3, stats.TotalCount)
	assert.Equal(t, 2, stats.TypeHistogram["research_finding"])
	assert.Equal(t, 1, stats.TypeHistogram["general"])
	require.NotNil(t, stats.Oldest)
	require.NotNil(t, stats.Newest)
}
