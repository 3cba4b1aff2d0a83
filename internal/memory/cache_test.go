package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finquiry/finquiry/pkg/types"
)

func newTestCache(t *testing.T) *ConversationCache {
	t.Helper()
	cache := NewConversationCache(CacheConfig{})
	require.True(t, cache.Available())
	t.Cleanup(cache.Close)
	return cache
}

func storeExchanges(t *testing.T, cache *ConversationCache, threadID string, n int, ttl time.Duration) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		ok := cache.StoreConversation(ctx, threadID, "u1",
			fmt.Sprintf("query %d", i), fmt.Sprintf("response %d", i), nil, nil, ttl)
		require.True(t, ok, "StoreConversation #%d", i)
	}
}

func TestStoreConversationTrimsToMaxExchanges(t *testing.T) {
	cache := newTestCache(t)
	storeExchanges(t, cache, "thread-1", 25, time.Hour)

	history := cache.History(context.Background(), "thread-1", 100)
	require.Len(t, history, DefaultMaxExchanges)

	// newest first, and the oldest five were trimmed
	assert.Equal(t, "query 24", history[0].Query)
	assert.Equal(t, "query 5", history[len(history)-1].Query)
}

func TestHistoryNewestFirstWithLimit(t *testing.T) {
	cache := newTestCache(t)
	storeExchanges(t, cache, "thread-1", 5, time.Hour)

	history := cache.History(context.Background(), "thread-1", 2)
	require.Len(t, history, 2)
	assert.Equal(t, "query 4", history[0].Query)
	assert.Equal(t, "query 3", history[1].Query)
}

func TestHistoryMissingThreadIsEmpty(t *testing.T) {
	cache := newTestCache(t)
	assert.Empty(t, cache.History(context.Background(), "nope", 10))
}

func TestExpiredExchangesAreFiltered(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	require.True(t, cache.StoreConversation(ctx, "thread-1", "u1", "old", "r", nil, nil, 10*time.Millisecond))
	require.True(t, cache.StoreConversation(ctx, "thread-1", "u1", "fresh", "r", nil, nil, time.Hour))

	time.Sleep(20 * time.Millisecond)

	history := cache.History(ctx, "thread-1", 10)
	require.Len(t, history, 1)
	assert.Equal(t, "fresh", history[0].Query)
}

func TestUnavailableCacheNoOps(t *testing.T) {
	cache := &ConversationCache{} // nil inner store
	ctx := context.Background()

	assert.False(t, cache.Available())
	assert.False(t, cache.StoreConversation(ctx, "t", "u", "q", "r", nil, nil, time.Hour))
	assert.Empty(t, cache.History(ctx, "t", 10))
	assert.False(t, cache.StoreSessionState("s", map[string]any{"k": "v"}))
	assert.Nil(t, cache.SessionState("s"))
	assert.False(t, cache.CacheResearchResults("h", CachedResearch{Response: "r"}))
	assert.Nil(t, cache.CachedResearchResults("h"))
	assert.Zero(t, cache.SweepExpiredReferences())
	assert.Equal(t, "unavailable", cache.Stats().Status)
}

func TestSessionStateRoundTrip(t *testing.T) {
	cache := newTestCache(t)

	require.True(t, cache.StoreSessionState("sess-1", map[string]any{"depth": "deep"}))
	state := cache.SessionState("sess-1")
	require.NotNil(t, state)
	assert.Equal(t, "deep", state["depth"])

	cache.ClearSessionState("sess-1")
	assert.Nil(t, cache.SessionState("sess-1"))
}

func TestResearchCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)

	stored := CachedResearch{
		Response: "findings",
		Sources:  []types.Citation{{ID: 1, Title: "t", URL: "https://example.com"}},
	}
	require.True(t, cache.CacheResearchResults("hash-1", stored))

	got := cache.CachedResearchResults("hash-1")
	require.NotNil(t, got)
	assert.Equal(t, "findings", got.Response)
	assert.Len(t, got.Sources, 1)
	assert.False(t, got.CachedAt.IsZero())

	assert.Nil(t, cache.CachedResearchResults("hash-miss"))
}

func TestWorkflowCheckpointRoundTrip(t *testing.T) {
	cache := newTestCache(t)

	state := &types.RunState{RunID: "run-1", Query: "q"}
	require.True(t, cache.StoreWorkflowCheckpoint("run-1", state))

	got := cache.WorkflowCheckpoint("run-1")
	require.NotNil(t, got)
	assert.Equal(t, "run-1", got.RunID)

	assert.False(t, cache.StoreWorkflowCheckpoint("run-2", nil))
}

func TestSweepExpiredReferences(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	// the short-lived exchange dies while the second store refreshes the
	// thread list's own TTL, so the list survives with a dead entry inside
	require.True(t, cache.StoreConversation(ctx, "thread-1", "u1", "dying", "r", nil, nil, 10*time.Millisecond))
	require.True(t, cache.StoreConversation(ctx, "thread-1", "u1", "alive", "r", nil, nil, time.Hour))

	time.Sleep(20 * time.Millisecond)

	dropped := cache.SweepExpiredReferences()
	assert.Equal(t, 1, dropped)

	history := cache.History(ctx, "thread-1", 10)
	require.Len(t, history, 1)
	assert.Equal(t, "alive", history[0].Query)

	stats := cache.Stats()
	assert.Equal(t, "available", stats.Status)
	assert.Equal(t, 1, stats.Threads)
}

func TestStatsCountsKinds(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	require.True(t, cache.StoreConversation(ctx, "t1", "u1", "q", "r", nil, nil, time.Hour))
	require.True(t, cache.StoreSessionState("s1", map[string]any{}))
	require.True(t, cache.CacheResearchResults("h1", CachedResearch{Response: "r"}))
	require.True(t, cache.StoreWorkflowCheckpoint("w1", &types.RunState{RunID: "w1"}))

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Threads)
	assert.Equal(t, 1, stats.Sessions)
	assert.Equal(t, 1, stats.Research)
	assert.Equal(t, 1, stats.Workflows)
}
