package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"sort"
	"time"

	"github.com/finquiry/finquiry/pkg/types"
)

// Context search parameters. Only confident memories inform new research.
const (
	contextMinConfidence  = 0.7
	contextInsightLimit   = 5
	contextQueryExchanges = 3
)

// Manager coordinates the two memory tiers behind one facade. Both tiers
// are optional; the manager degrades to whatever is available.
type Manager struct {
	cache    *ConversationCache
	longTerm *LongTermMemory
}

// ExchangeInput is one completed query/response pair to remember.
type ExchangeInput struct {
	ThreadID string
	UserID   string
	Query    string
	Response string
	Sources  []types.Citation
	Analysis *types.AnalysisResults
	Insights []InsightInput
	TTL      time.Duration
}

// ThreadContext is everything the pipeline knows about a conversation
// before starting new research.
type ThreadContext struct {
	History  []types.Exchange `json:"history,omitempty"`
	Insights []types.Insight  `json:"insights,omitempty"`
	Summary  ContextSummary   `json:"summary"`
}

// ContextSummary sizes the retrieved context.
type ContextSummary struct {
	HistoryLength   int        `json:"history_length"`
	InsightsFound   int        `json:"insights_found"`
	LastInteraction *time.Time `json:"last_interaction,omitempty"`
}

// EntityCount is one entry of a user's entity histogram.
type EntityCount struct {
	Entity string `json:"entity"`
	Count  int    `json:"count"`
}

// TypeCount is one entry of a user's insight-type histogram.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// KnowledgeProfile summarizes what the system has learned about a user.
type KnowledgeProfile struct {
	UserID         string          `json:"user_id"`
	TotalInsights  int             `json:"total_insights"`
	TopEntities    []EntityCount   `json:"top_entities,omitempty"`
	TopTypes       []TypeCount     `json:"top_types,omitempty"`
	RecentInsights []types.Insight `json:"recent_insights,omitempty"`
	CacheActivity  CacheStats      `json:"cache_activity"`
}

// HealthStatus reports the condition of both tiers.
type HealthStatus struct {
	Status          string      `json:"status"` // healthy, partial, degraded
	CacheAvailable  bool        `json:"cache_available"`
	LongTermHealthy bool        `json:"long_term_healthy"`
	BackendKind     string      `json:"backend_kind"`
	Stats           MemoryStats `json:"stats"`
	Recommendations []string    `json:"recommendations,omitempty"`
}

// MaintenanceOptions selects which maintenance steps to run.
type MaintenanceOptions struct {
	CleanupExpired     bool
	CleanupOldInsights bool
	UserID             string
	DaysOld            int
	MinAccessCount     int
}

// MaintenanceReport summarizes a maintenance pass.
type MaintenanceReport struct {
	SweptExchanges  int           `json:"swept_exchanges"`
	DeletedInsights int           `json:"deleted_insights"`
	Took            time.Duration `json:"took"`
}

// NewManager wires the two tiers together. Either may be nil.
func NewManager(cache *ConversationCache, longTerm *LongTermMemory) *Manager {
	return &Manager{cache: cache, longTerm: longTerm}
}

// QueryHash derives the cache key for a user's research query.
func QueryHash(userID, query string) string {
	sum := sha256.Sum256([]byte(userID + ":" + query))
	return hex.EncodeToString(sum[:])
}

// StoreConversationExchange writes an exchange to the cache and, when
// insights are present, to the long-term store. Returns true when at least
// one tier accepted the write.
func (m *Manager) StoreConversationExchange(ctx context.Context, in ExchangeInput) bool {
	cached := m.cache.StoreConversation(ctx, in.ThreadID, in.UserID, in.Query, in.Response, in.Sources, in.Analysis, in.TTL)

	persisted := 0
	if len(in.Insights) > 0 {
		persisted = m.longTerm.StoreInsights(ctx, in.UserID, in.ThreadID, in.Insights)
	}

	if !cached && persisted == 0 {
		log.Printf("warning: memory: exchange for thread %s stored nowhere", in.ThreadID)
		return false
	}
	return true
}

// ConversationContext assembles a thread's recent history and the user's
// relevant long-term insights. The insight search uses a composite query
// built from the last few exchanges so retrieval tracks the whole
// conversation rather than a single message.
func (m *Manager) ConversationContext(ctx context.Context, threadID, userID string, includeHistory, includeInsights bool, maxHistory int) ThreadContext {
	var tc ThreadContext

	var history []types.Exchange
	if includeHistory {
		history = m.cache.History(ctx, threadID, maxHistory)
		tc.History = history
		tc.Summary.HistoryLength = len(history)
		if len(history) > 0 {
			t := history[0].Timestamp
			tc.Summary.LastInteraction = &t
		}
	}

	if includeInsights && len(history) > 0 {
		composite := ""
		for i := 0; i < len(history) && i < contextQueryExchanges; i++ {
			if composite != "" {
				composite += " "
			}
			composite += history[i].Query
		}
		tc.Insights = m.longTerm.SearchMemories(ctx, userID, composite, contextInsightLimit, contextMinConfidence, nil)
		tc.Summary.InsightsFound = len(tc.Insights)
	}

	return tc
}

// StoreResearchSession caches a completed research result for repeat
// queries and persists its insights.
func (m *Manager) StoreResearchSession(ctx context.Context, userID, query string, result CachedResearch, insights []InsightInput) bool {
	cached := m.cache.CacheResearchResults(QueryHash(userID, query), result)
	if len(insights) > 0 {
		m.longTerm.StoreInsights(ctx, userID, "", insights)
	}
	return cached
}

// CachedResearch returns a hot research result for this user and query,
// or nil on a miss.
func (m *Manager) CachedResearch(ctx context.Context, userID, query string) *CachedResearch {
	return m.cache.CachedResearchResults(QueryHash(userID, query))
}

// BuildUserKnowledgeProfile aggregates a user's stored insights into entity
// and type histograms plus their most recent insights.
func (m *Manager) BuildUserKnowledgeProfile(ctx context.Context, userID string) KnowledgeProfile {
	profile := KnowledgeProfile{UserID: userID}
	profile.CacheActivity = m.cache.Stats()

	insights := m.longTerm.GetUserInsights(ctx, userID, "", 100)
	profile.TotalInsights = len(insights)
	if len(insights) == 0 {
		return profile
	}

	entities := map[string]int{}
	insightTypes := map[string]int{}
	for _, in := range insights {
		for _, e := range in.Entities {
			entities[e]++
		}
		insightTypes[in.Type]++
	}

	profile.TopEntities = topEntities(entities, 10)
	profile.TopTypes = topTypes(insightTypes, 5)

	recent := insights
	if len(recent) > 10 {
		recent = recent[:10]
	}
	profile.RecentInsights = recent
	return profile
}

func topEntities(counts map[string]int, n int) []EntityCount {
	out := make([]EntityCount, 0, len(counts))
	for entity, count := range counts {
		out = append(out, EntityCount{Entity: entity, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Entity < out[j].Entity
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func topTypes(counts map[string]int, n int) []TypeCount {
	out := make([]TypeCount, 0, len(counts))
	for t, count := range counts {
		out = append(out, TypeCount{Type: t, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// HealthStatus probes both tiers: healthy when both work, partial when one
// does, degraded when neither.
func (m *Manager) HealthStatus(ctx context.Context) HealthStatus {
	hs := HealthStatus{
		CacheAvailable: m.cache.Available(),
	}

	if m.longTerm.Available() {
		if err := m.longTerm.HealthCheck(ctx); err != nil {
			log.Printf("warning: memory: long-term health: %v", err)
		} else {
			hs.LongTermHealthy = true
		}
		hs.Stats = m.longTerm.Stats(ctx)
		hs.BackendKind = hs.Stats.BackendKind
	} else {
		hs.Stats = MemoryStats{BackendKind: "none", TotalCount: -1}
		hs.BackendKind = "none"
	}

	switch {
	case hs.CacheAvailable && hs.LongTermHealthy:
		hs.Status = "healthy"
	case hs.CacheAvailable || hs.LongTermHealthy:
		hs.Status = "partial"
	default:
		hs.Status = "degraded"
	}

	if !hs.CacheAvailable {
		hs.Recommendations = append(hs.Recommendations, "conversation cache unavailable: recent history will be empty")
	}
	if !hs.LongTermHealthy {
		hs.Recommendations = append(hs.Recommendations, "long-term store unhealthy: insights are not being persisted")
	}
	if hs.BackendKind == "memory" {
		hs.Recommendations = append(hs.Recommendations, "running on the in-process fallback store: insights do not survive restarts")
	}
	return hs
}

// PerformMaintenance sweeps expired cache entries and optionally cleans up
// one user's stale insights. Cleanup across all users requires enumerating
// user IDs, which no backend exposes, so callers pass each user explicitly.
func (m *Manager) PerformMaintenance(ctx context.Context, opts MaintenanceOptions) MaintenanceReport {
	start := time.Now()
	var report MaintenanceReport

	if opts.CleanupExpired {
		report.SweptExchanges = m.cache.SweepExpiredReferences()
	}
	if opts.CleanupOldInsights && opts.UserID != "" {
		report.DeletedInsights = m.longTerm.CleanupOldMemories(ctx, opts.UserID, opts.DaysOld, opts.MinAccessCount)
	}

	report.Took = time.Since(start)
	return report
}
