package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finquiry/finquiry/internal/memory"
	"github.com/finquiry/finquiry/internal/research"
	"github.com/finquiry/finquiry/internal/retrieval"
	"github.com/finquiry/finquiry/internal/vectorstore/memstore"
	"github.com/finquiry/finquiry/pkg/types"
)

type stubSearcher struct {
	results []types.SearchResult
	err     error
}

func (s *stubSearcher) Search(ctx context.Context, query string, maxResults int) ([]types.SearchResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := s.results
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

type stubScraper struct {
	content string
	err     error
}

func (s *stubScraper) Scrape(ctx context.Context, pageURL string, meta types.SearchResult) (types.ScrapedPage, error) {
	if s.err != nil {
		return types.ScrapedPage{}, s.err
	}
	return types.ScrapedPage{
		URL:     pageURL,
		Title:   meta.Title,
		Domain:  meta.Domain,
		Content: s.content,
		Snippet: meta.Snippet,
	}, nil
}

// reportContent holds both metrics the analyzer should pick out, padded past
// the minimum content length.
const reportContent = "The company reported revenue growth of 15% for the fiscal year. " +
	"Analysts highlighted a P/E ratio of 28 against the sector median. " +
	"Earnings improved across every operating segment during the period."

func newTestOrchestrator(t *testing.T, searcher retrieval.Searcher, scraper *stubScraper) (*Orchestrator, *memory.Manager) {
	t.Helper()

	backend := memstore.New(100)
	t.Cleanup(func() { _ = backend.Close() })
	cache := memory.NewConversationCache(memory.CacheConfig{})
	t.Cleanup(cache.Close)
	mgr := memory.NewManager(cache, memory.NewLongTermMemory(nil, backend, memory.LongTermConfig{}))

	orch := NewOrchestrator(
		research.NewQueryAnalyzer(),
		research.NewPlanner(),
		searcher,
		scraper,
		research.NewAnalyzer(),
		research.NewSynthesizer(),
		mgr,
		Config{},
	)
	return orch, mgr
}

func defaultStubs() (*stubSearcher, *stubScraper) {
	var results []types.SearchResult
	for i := 0; i < 3; i++ {
		results = append(results, types.SearchResult{
			Title:   fmt.Sprintf("Report %d", i),
			URL:     fmt.Sprintf("https://site%d.com/report", i),
			Domain:  fmt.Sprintf("site%d.com", i),
			Snippet: "quarterly coverage",
		})
	}
	return &stubSearcher{results: results}, &stubScraper{content: reportContent}
}

func TestRunCompletesAllStages(t *testing.T) {
	searcher, scraper := defaultStubs()
	orch, _ := newTestOrchestrator(t, searcher, scraper)

	state := orch.Run(context.Background(), Input{
		Query:    "analyze Acme earnings",
		ThreadID: "t1",
		UserID:   "u1",
	})

	require.NotNil(t, state)
	assert.NotEmpty(t, state.RunID)
	assert.Equal(t, "medium", state.ResearchDepth)
	assert.Positive(t, state.Elapsed)

	wantStages := []string{
		StageAnalyzeQuery, StagePlanResearch, StageSearchWeb,
		StageScrapeContent, StageDeduplicateSources, StageAnalyzeData,
		StageSynthesizeResponse, StageUpdateMemory,
	}
	assert.Equal(t, wantStages, state.StagesCompleted)
	require.Len(t, state.Trace, len(wantStages))
	for i, trace := range state.Trace {
		assert.Equal(t, wantStages[i], trace.Stage)
		assert.Empty(t, trace.Err)
	}

	assert.Equal(t, 15.0, state.AnalysisResults.FinancialMetrics["revenue_growth"])
	assert.Equal(t, 28.0, state.AnalysisResults.FinancialMetrics["pe_ratio"])
	assert.Contains(t, state.FinalResponse, "## Financial Metrics")
	assert.Contains(t, state.FinalResponse, "Revenue Growth**: 15%")
	assert.Contains(t, state.FinalResponse, "P/E Ratio**: 28")
	assert.NotEmpty(t, state.Sources)
}

func TestRunStoresExchangeInMemory(t *testing.T) {
	searcher, scraper := defaultStubs()
	orch, mgr := newTestOrchestrator(t, searcher, scraper)

	orch.Run(context.Background(), Input{Query: "analyze Acme earnings", ThreadID: "t1", UserID: "u1"})

	tc := mgr.ConversationContext(context.Background(), "t1", "u1", true, false, 10)
	require.Len(t, tc.History, 1)
	assert.Equal(t, "analyze Acme earnings", tc.History[0].Query)
	assert.NotEmpty(t, tc.History[0].Response)
}

func TestRunEventsParity(t *testing.T) {
	searcher, scraper := defaultStubs()
	orch, _ := newTestOrchestrator(t, searcher, scraper)

	events := orch.RunEvents(context.Background(), Input{Query: "analyze Acme earnings", UserID: "u1"})

	var started, completed []string
	var final *types.RunState
	var last Event
	for ev := range events {
		last = ev
		switch ev.Type {
		case EventStageStarted:
			started = append(started, ev.Stage)
		case EventStageCompleted:
			completed = append(completed, ev.Stage)
		case EventComplete:
			final = ev.State
		}
	}

	assert.Equal(t, EventComplete, last.Type)
	assert.Len(t, started, 8)
	assert.Equal(t, started, completed)
	require.NotNil(t, final)
	assert.Equal(t, started, final.StagesCompleted)
	assert.Contains(t, final.FinalResponse, "## Financial Metrics")
}

func TestRunCacheShortCircuit(t *testing.T) {
	searcher, scraper := defaultStubs()
	orch, mgr := newTestOrchestrator(t, searcher, scraper)

	require.True(t, mgr.StoreResearchSession(context.Background(), "u1", "acme outlook",
		memory.CachedResearch{Response: "cached answer"}, nil))

	state := orch.Run(context.Background(), Input{Query: "acme outlook", UserID: "u1", CheckCache: true})

	assert.True(t, state.FromCache)
	assert.Equal(t, "cached answer", state.FinalResponse)
	assert.Empty(t, state.Trace)
	assert.Empty(t, state.StagesCompleted)
}

func TestRunCachesResultForRepeatQuery(t *testing.T) {
	searcher, scraper := defaultStubs()
	orch, _ := newTestOrchestrator(t, searcher, scraper)
	in := Input{Query: "analyze Acme earnings", UserID: "u1", CheckCache: true}

	first := orch.Run(context.Background(), in)
	require.False(t, first.FromCache)
	require.NotEmpty(t, first.FinalResponse)

	second := orch.Run(context.Background(), in)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.FinalResponse, second.FinalResponse)
}

func TestRunDegradesWhenRetrievalFails(t *testing.T) {
	orch, _ := newTestOrchestrator(t,
		&stubSearcher{err: errors.New("search unreachable")},
		&stubScraper{err: errors.New("scrape unreachable")})

	state := orch.Run(context.Background(), Input{Query: "acme outlook", UserID: "u1"})

	assert.Len(t, state.StagesCompleted, 8)
	assert.Empty(t, state.SearchResults)
	assert.Empty(t, state.DedupedSources)
	assert.NotEmpty(t, state.FinalResponse)
	assert.Empty(t, state.Sources)
}

type ctxAwareSearcher struct {
	results []types.SearchResult
}

func (s *ctxAwareSearcher) Search(ctx context.Context, query string, maxResults int) ([]types.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.results, nil
}

func TestRunWithCancelledContextDegrades(t *testing.T) {
	searcher := &ctxAwareSearcher{results: []types.SearchResult{
		{Title: "Report", URL: "https://site0.com/report", Domain: "site0.com"},
	}}
	orch, _ := newTestOrchestrator(t, searcher, &stubScraper{content: reportContent})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state := orch.Run(ctx, Input{Query: "acme outlook", UserID: "u1"})

	// Retrieval fan-out honors cancellation; the remaining stages still
	// run and synthesize a degraded response from zero sources.
	assert.Len(t, state.StagesCompleted, 8)
	assert.Empty(t, state.SearchResults)
	assert.NotEmpty(t, state.FinalResponse)
}

func TestDeduplicateSourcesPerDomainCap(t *testing.T) {
	searcher, scraper := defaultStubs()
	orch, _ := newTestOrchestrator(t, searcher, scraper)

	long := strings.Repeat("content ", 30)
	state := &types.RunState{ScrapedContent: []types.ScrapedPage{
		{URL: "https://a.com/1", Domain: "a.com", Content: long + "one"},
		{URL: "https://a.com/2", Domain: "a.com", Content: long + "two"},
		{URL: "https://a.com/3", Domain: "a.com", Content: long + "three"},
		{URL: "https://b.com/1", Domain: "b.com", Content: long},
		{URL: "https://c.com/1", Domain: "c.com", Content: "too short"},
	}}

	_, err := orch.deduplicateSources(context.Background(), state)
	require.NoError(t, err)

	require.Len(t, state.DedupedSources, 3)
	perDomain := map[string]int{}
	for _, s := range state.DedupedSources {
		perDomain[s.Domain]++
	}
	assert.Equal(t, 2, perDomain["a.com"])
	assert.Equal(t, 1, perDomain["b.com"])
	assert.Zero(t, perDomain["c.com"])
}
