package memory

import (
	"context"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/finquiry/finquiry/pkg/types"
)

// Default TTLs and limits for the short-term tier.
const (
	DefaultConversationTTL = 1 * time.Hour
	DefaultSessionTTL      = 30 * time.Minute
	DefaultResearchTTL     = 1 * time.Hour
	DefaultWorkflowTTL     = 24 * time.Hour
	DefaultMaxExchanges    = 20

	threadStripes = 64
)

// Key prefixes keep the four cached kinds apart in the shared store.
const (
	threadKeyPrefix   = "thread:"
	sessionKeyPrefix  = "session:"
	researchKeyPrefix = "research:"
	workflowKeyPrefix = "workflow:"
)

// CachedResearch is a completed research result kept hot for repeat queries.
type CachedResearch struct {
	Response string                 `json:"response"`
	Sources  []types.Citation       `json:"sources,omitempty"`
	Analysis *types.AnalysisResults `json:"analysis,omitempty"`
	CachedAt time.Time              `json:"cached_at"`
}

// CacheStats reports what the short-term tier currently tracks.
// Status distinguishes an unavailable cache from one that is merely empty.
type CacheStats struct {
	Status    string `json:"status"` // "available" or "unavailable"
	Threads   int    `json:"threads"`
	Sessions  int    `json:"sessions"`
	Research  int    `json:"research"`
	Workflows int    `json:"workflows"`
}

// CacheConfig tunes the conversation cache.
type CacheConfig struct {
	// MaxExchanges bounds each thread's history (default: 20).
	MaxExchanges int

	// ConversationTTL is the sliding expiry for thread histories (default: 1h).
	ConversationTTL time.Duration

	// MaxCost bounds the ristretto store (default: 1<<26).
	MaxCost int64
}

// ConversationCache is the short-term memory tier. Recent exchanges,
// session state, cached research results and workflow checkpoints all live
// here with independent TTLs. A cache that failed to initialize stays
// usable: every operation becomes a no-op returning false or empty.
type ConversationCache struct {
	inner        *ristretto.Cache
	maxExchanges int
	defaultTTL   time.Duration

	// stripes serialize append-then-trim per thread so concurrent stores
	// never lose exchanges.
	stripes [threadStripes]sync.Mutex

	// ristretto cannot enumerate keys, so known keys per kind are indexed
	// here for stats and sweeps.
	mu   sync.Mutex
	keys map[string]map[string]struct{}
}

// NewConversationCache creates the short-term tier. Initialization failure
// is absorbed: the returned cache reports unavailable and no-ops.
func NewConversationCache(cfg CacheConfig) *ConversationCache {
	if cfg.MaxExchanges <= 0 {
		cfg.MaxExchanges = DefaultMaxExchanges
	}
	if cfg.ConversationTTL <= 0 {
		cfg.ConversationTTL = DefaultConversationTTL
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 1 << 26
	}

	c := &ConversationCache{
		maxExchanges: cfg.MaxExchanges,
		defaultTTL:   cfg.ConversationTTL,
		keys: map[string]map[string]struct{}{
			threadKeyPrefix:   {},
			sessionKeyPrefix:  {},
			researchKeyPrefix: {},
			workflowKeyPrefix: {},
		},
	}

	inner, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     cfg.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		log.Printf("warning: memory: conversation cache unavailable: %v", err)
		return c
	}
	c.inner = inner
	return c
}

// Available reports whether the short-term tier accepted initialization.
func (c *ConversationCache) Available() bool {
	return c != nil && c.inner != nil
}

func (c *ConversationCache) stripe(threadID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(threadID))
	return &c.stripes[h.Sum32()%threadStripes]
}

func (c *ConversationCache) track(prefix, id string) {
	c.mu.Lock()
	c.keys[prefix][id] = struct{}{}
	c.mu.Unlock()
}

func (c *ConversationCache) untrack(prefix, id string) {
	c.mu.Lock()
	delete(c.keys[prefix], id)
	c.mu.Unlock()
}

func (c *ConversationCache) set(key string, value any, ttl time.Duration) {
	c.inner.SetWithTTL(key, value, 1, ttl)
	// Wait drains the set buffer so a Get right after a Store observes it.
	c.inner.Wait()
}

// StoreConversation appends one exchange to a thread's history, trims the
// history to the newest MaxExchanges entries, and refreshes the thread's
// sliding TTL. Each exchange also carries its own ExpiresAt so it never
// outlives its original TTL through later refreshes.
func (c *ConversationCache) StoreConversation(ctx context.Context, threadID, userID, query, response string, sources []types.Citation, analysis *types.AnalysisResults, ttl time.Duration) bool {
	if !c.Available() || threadID == "" {
		return false
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	lock := c.stripe(threadID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	history := c.liveExchanges(threadID, now)
	history = append(history, types.Exchange{
		ThreadID:  threadID,
		UserID:    userID,
		Query:     query,
		Response:  response,
		Sources:   sources,
		Analysis:  analysis,
		Timestamp: now,
		ExpiresAt: now.Add(ttl),
	})
	if len(history) > c.maxExchanges {
		history = history[len(history)-c.maxExchanges:]
	}

	c.set(threadKeyPrefix+threadID, history, ttl)
	c.track(threadKeyPrefix, threadID)
	return true
}

// History returns a thread's exchanges newest-first, up to limit. Expired
// entries are filtered out. A missing thread yields an empty slice.
func (c *ConversationCache) History(ctx context.Context, threadID string, limit int) []types.Exchange {
	if !c.Available() || threadID == "" {
		return nil
	}
	if limit <= 0 {
		limit = c.maxExchanges
	}

	live := c.liveExchanges(threadID, time.Now().UTC())
	// stored oldest-first; reverse for newest-first
	out := make([]types.Exchange, 0, len(live))
	for i := len(live) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, live[i])
	}
	return out
}

// liveExchanges loads a thread's list and drops entries past their own
// ExpiresAt. Callers needing atomicity hold the thread stripe lock.
func (c *ConversationCache) liveExchanges(threadID string, now time.Time) []types.Exchange {
	raw, ok := c.inner.Get(threadKeyPrefix + threadID)
	if !ok {
		return nil
	}
	history, ok := raw.([]types.Exchange)
	if !ok {
		return nil
	}
	live := make([]types.Exchange, 0, len(history))
	for _, ex := range history {
		if ex.ExpiresAt.After(now) {
			live = append(live, ex)
		}
	}
	return live
}

// StoreSessionState caches arbitrary per-session state for 30 minutes.
func (c *ConversationCache) StoreSessionState(sessionID string, state map[string]any) bool {
	if !c.Available() || sessionID == "" {
		return false
	}
	c.set(sessionKeyPrefix+sessionID, state, DefaultSessionTTL)
	c.track(sessionKeyPrefix, sessionID)
	return true
}

// SessionState returns the cached session state, or nil when absent.
func (c *ConversationCache) SessionState(sessionID string) map[string]any {
	if !c.Available() || sessionID == "" {
		return nil
	}
	raw, ok := c.inner.Get(sessionKeyPrefix + sessionID)
	if !ok {
		return nil
	}
	state, _ := raw.(map[string]any)
	return state
}

// ClearSessionState drops a session's cached state.
func (c *ConversationCache) ClearSessionState(sessionID string) {
	if !c.Available() || sessionID == "" {
		return
	}
	c.inner.Del(sessionKeyPrefix + sessionID)
	c.untrack(sessionKeyPrefix, sessionID)
}

// CacheResearchResults keeps a completed research result hot for an hour.
func (c *ConversationCache) CacheResearchResults(queryHash string, result CachedResearch) bool {
	if !c.Available() || queryHash == "" {
		return false
	}
	if result.CachedAt.IsZero() {
		result.CachedAt = time.Now().UTC()
	}
	c.set(researchKeyPrefix+queryHash, result, DefaultResearchTTL)
	c.track(researchKeyPrefix, queryHash)
	return true
}

// CachedResearchResults returns a previously cached result, or nil.
func (c *ConversationCache) CachedResearchResults(queryHash string) *CachedResearch {
	if !c.Available() || queryHash == "" {
		return nil
	}
	raw, ok := c.inner.Get(researchKeyPrefix + queryHash)
	if !ok {
		return nil
	}
	result, ok := raw.(CachedResearch)
	if !ok {
		return nil
	}
	return &result
}

// StoreWorkflowCheckpoint snapshots a run's state for 24 hours so an
// interrupted pipeline can be inspected or resumed.
func (c *ConversationCache) StoreWorkflowCheckpoint(workflowID string, state *types.RunState) bool {
	if !c.Available() || workflowID == "" || state == nil {
		return false
	}
	c.set(workflowKeyPrefix+workflowID, state, DefaultWorkflowTTL)
	c.track(workflowKeyPrefix, workflowID)
	return true
}

// WorkflowCheckpoint returns a run's checkpoint, or nil when absent.
func (c *ConversationCache) WorkflowCheckpoint(workflowID string) *types.RunState {
	if !c.Available() || workflowID == "" {
		return nil
	}
	raw, ok := c.inner.Get(workflowKeyPrefix + workflowID)
	if !ok {
		return nil
	}
	state, _ := raw.(*types.RunState)
	return state
}

// SweepExpiredReferences walks the tracked thread lists, drops exchanges
// past their ExpiresAt and forgets threads whose lists have expired.
// Returns the number of dropped exchanges.
func (c *ConversationCache) SweepExpiredReferences() int {
	if !c.Available() {
		return 0
	}

	c.mu.Lock()
	threadIDs := make([]string, 0, len(c.keys[threadKeyPrefix]))
	for id := range c.keys[threadKeyPrefix] {
		threadIDs = append(threadIDs, id)
	}
	c.mu.Unlock()

	now := time.Now().UTC()
	dropped := 0
	for _, threadID := range threadIDs {
		lock := c.stripe(threadID)
		lock.Lock()
		raw, ok := c.inner.Get(threadKeyPrefix + threadID)
		if !ok {
			c.untrack(threadKeyPrefix, threadID)
			lock.Unlock()
			continue
		}
		history, _ := raw.([]types.Exchange)
		live := make([]types.Exchange, 0, len(history))
		for _, ex := range history {
			if ex.ExpiresAt.After(now) {
				live = append(live, ex)
			}
		}
		if removed := len(history) - len(live); removed > 0 {
			dropped += removed
			if len(live) == 0 {
				c.inner.Del(threadKeyPrefix + threadID)
				c.untrack(threadKeyPrefix, threadID)
			} else if ttl, ok := c.inner.GetTTL(threadKeyPrefix + threadID); ok {
				c.set(threadKeyPrefix+threadID, live, ttl)
			}
		}
		lock.Unlock()
	}
	return dropped
}

// Stats reports tracked key counts per kind.
func (c *ConversationCache) Stats() CacheStats {
	if !c.Available() {
		return CacheStats{Status: "unavailable"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Status:    "available",
		Threads:   len(c.keys[threadKeyPrefix]),
		Sessions:  len(c.keys[sessionKeyPrefix]),
		Research:  len(c.keys[researchKeyPrefix]),
		Workflows: len(c.keys[workflowKeyPrefix]),
	}
}

// Close releases the underlying store.
func (c *ConversationCache) Close() {
	if c.Available() {
		c.inner.Close()
	}
}
