// Package pipeline runs the research workflow: a fixed sequence of stages
// that each read the run state, call one collaborator and write their own
// output field. Stage failures degrade the state instead of aborting the
// run, so a user always gets the best response the surviving stages could
// produce.
package pipeline

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/finquiry/finquiry/internal/memory"
	"github.com/finquiry/finquiry/internal/research"
	"github.com/finquiry/finquiry/internal/retrieval"
	"github.com/finquiry/finquiry/pkg/types"
)

// Stage names in execution order.
const (
	StageAnalyzeQuery       = "analyze_query"
	StagePlanResearch       = "plan_research"
	StageSearchWeb          = "search_web"
	StageScrapeContent      = "scrape_content"
	StageDeduplicateSources = "deduplicate_sources"
	StageAnalyzeData        = "analyze_data"
	StageSynthesizeResponse = "synthesize_response"
	StageUpdateMemory       = "update_memory"
)

// Event types emitted by RunEvents.
const (
	EventStageStarted   = "stage_started"
	EventStageCompleted = "stage_completed"
	EventComplete       = "complete"
)

// Event is one progress notification from a streaming run. The terminal
// complete event carries the final state.
type Event struct {
	Type  string          `json:"type"`
	Stage string          `json:"stage,omitempty"`
	State *types.RunState `json:"state,omitempty"`
}

// Input is one research request.
type Input struct {
	Query    string `json:"query"`
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
	Depth    string `json:"depth"` // shallow, medium, deep

	// CheckCache short-circuits to a cached result for a repeated query and
	// caches the result of this run for the next one.
	CheckCache bool `json:"check_cache"`
}

// Config tunes the orchestrator.
type Config struct {
	// MaxSearchResults caps total search hits per run (default: 10).
	MaxSearchResults int

	// MaxSourcesPerResponse caps deduplicated sources (default: 10).
	MaxSourcesPerResponse int

	// MaxConcurrent bounds search and scrape fan-out (default: 5).
	MaxConcurrent int

	// PerDomainCap limits sources kept per domain (default: 2).
	PerDomainCap int

	// MinContentLength drops sources with less extracted text (default: 100).
	MinContentLength int

	// StageTimeout bounds each network-bound stage (default: 60s).
	StageTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxSearchResults <= 0 {
		c.MaxSearchResults = 10
	}
	if c.MaxSourcesPerResponse <= 0 {
		c.MaxSourcesPerResponse = 10
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.PerDomainCap <= 0 {
		c.PerDomainCap = 2
	}
	if c.MinContentLength <= 0 {
		c.MinContentLength = 100
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 60 * time.Second
	}
}

// Orchestrator wires the research stages together.
type Orchestrator struct {
	queryAnalyzer *research.QueryAnalyzer
	planner       *research.Planner
	searcher      retrieval.Searcher
	scraper       retrieval.Scraper
	analyzer      *research.Analyzer
	synthesizer   *research.Synthesizer
	memory        *memory.Manager
	cfg           Config
}

// NewOrchestrator builds the pipeline from its collaborators.
func NewOrchestrator(
	queryAnalyzer *research.QueryAnalyzer,
	planner *research.Planner,
	searcher retrieval.Searcher,
	scraper retrieval.Scraper,
	analyzer *research.Analyzer,
	synthesizer *research.Synthesizer,
	mgr *memory.Manager,
	cfg Config,
) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		queryAnalyzer: queryAnalyzer,
		planner:       planner,
		searcher:      searcher,
		scraper:       scraper,
		analyzer:      analyzer,
		synthesizer:   synthesizer,
		memory:        mgr,
		cfg:           cfg,
	}
}

// Run executes the full pipeline and returns the final state.
func (o *Orchestrator) Run(ctx context.Context, in Input) *types.RunState {
	return o.run(ctx, in, nil)
}

// RunEvents executes the pipeline while streaming progress events. The
// channel receives stage_started and stage_completed for every stage in
// order, then a terminal complete event carrying the final state, and is
// closed.
func (o *Orchestrator) RunEvents(ctx context.Context, in Input) <-chan Event {
	// Buffered for the full event volume so a slow consumer cannot stall
	// the pipeline.
	events := make(chan Event, 2*8+1)
	go func() {
		defer close(events)
		emit := func(ev Event) { events <- ev }
		o.run(ctx, in, emit)
	}()
	return events
}

// stageFunc performs one stage against the state, returning trace detail.
type stageFunc func(ctx context.Context, state *types.RunState) (map[string]any, error)

func (o *Orchestrator) run(ctx context.Context, in Input, emit func(Event)) *types.RunState {
	if in.Depth == "" {
		in.Depth = "medium"
	}
	state := &types.RunState{
		RunID:         uuid.NewString(),
		Query:         in.Query,
		ThreadID:      in.ThreadID,
		UserID:        in.UserID,
		ResearchDepth: in.Depth,
	}

	started := time.Now()

	if in.CheckCache {
		if cached := o.memory.CachedResearch(ctx, in.UserID, in.Query); cached != nil {
			state.FromCache = true
			state.FinalResponse = cached.Response
			state.Sources = cached.Sources
			if cached.Analysis != nil {
				state.AnalysisResults = *cached.Analysis
			}
			state.Elapsed = time.Since(started)
			if emit != nil {
				emit(Event{Type: EventComplete, State: state})
			}
			return state
		}
	}

	stages := []struct {
		name string
		fn   stageFunc
	}{
		{StageAnalyzeQuery, o.analyzeQuery},
		{StagePlanResearch, o.planResearch},
		{StageSearchWeb, o.searchWeb},
		{StageScrapeContent, o.scrapeContent},
		{StageDeduplicateSources, o.deduplicateSources},
		{StageAnalyzeData, o.analyzeData},
		{StageSynthesizeResponse, o.synthesizeResponse},
		{StageUpdateMemory, o.updateMemory},
	}

	for _, stage := range stages {
		stageStart := time.Now()
		if emit != nil {
			emit(Event{Type: EventStageStarted, Stage: stage.name})
		}

		sctx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
		detail, err := stage.fn(sctx, state)
		cancel()

		trace := types.StageTrace{
			Stage:     stage.name,
			StartedAt: stageStart.UTC(),
			Duration:  time.Since(stageStart),
			Detail:    detail,
		}
		if err != nil {
			trace.Err = err.Error()
			log.Printf("warning: pipeline: stage %s degraded: %v", stage.name, err)
		}
		state.Trace = append(state.Trace, trace)
		state.StagesCompleted = append(state.StagesCompleted, stage.name)

		if emit != nil {
			emit(Event{Type: EventStageCompleted, Stage: stage.name})
		}
	}

	state.Elapsed = time.Since(started)

	if in.CheckCache && state.FinalResponse != "" {
		analysis := state.AnalysisResults
		o.memory.StoreResearchSession(ctx, in.UserID, in.Query, memory.CachedResearch{
			Response: state.FinalResponse,
			Sources:  state.Sources,
			Analysis: &analysis,
		}, nil)
	}

	if emit != nil {
		emit(Event{Type: EventComplete, State: state})
	}
	return state
}

func (o *Orchestrator) analyzeQuery(ctx context.Context, state *types.RunState) (map[string]any, error) {
	var history []types.Exchange
	if state.ThreadID != "" {
		tc := o.memory.ConversationContext(ctx, state.ThreadID, state.UserID, true, false, 5)
		history = tc.History
	}
	state.QueryAnalysis = o.queryAnalyzer.Analyze(state.Query, history)
	return map[string]any{
		"intent":     state.QueryAnalysis.Intent,
		"entities":   len(state.QueryAnalysis.Entities),
		"complexity": state.QueryAnalysis.Complexity,
	}, nil
}

func (o *Orchestrator) planResearch(ctx context.Context, state *types.RunState) (map[string]any, error) {
	state.ResearchPlan = o.planner.Plan(state.Query, state.QueryAnalysis, state.ResearchDepth)
	return map[string]any{
		"strategy":       state.ResearchPlan.Strategy,
		"search_queries": len(state.ResearchPlan.SearchQueries),
	}, nil
}

func (o *Orchestrator) searchWeb(ctx context.Context, state *types.RunState) (map[string]any, error) {
	queries := state.ResearchPlan.SearchQueries
	if len(queries) == 0 {
		queries = []string{state.Query}
	}

	perQuery := o.cfg.MaxSearchResults / len(queries)
	if perQuery < 2 {
		perQuery = 2
	}

	var (
		mu       sync.Mutex
		gathered []types.SearchResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrent)
	for _, query := range queries {
		query := query
		g.Go(func() error {
			results, err := o.searcher.Search(gctx, query, perQuery)
			if err != nil {
				// one failed sub-search never fails the stage
				log.Printf("warning: pipeline: search %q: %v", query, err)
				return nil
			}
			mu.Lock()
			gathered = append(gathered, results...)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	seen := make(map[string]struct{}, len(gathered))
	unique := gathered[:0]
	for _, r := range gathered {
		if r.URL == "" {
			continue
		}
		if _, ok := seen[r.URL]; ok {
			continue
		}
		seen[r.URL] = struct{}{}
		unique = append(unique, r)
	}
	if len(unique) > o.cfg.MaxSearchResults {
		unique = unique[:o.cfg.MaxSearchResults]
	}
	state.SearchResults = unique
	return map[string]any{"results": len(unique), "queries": len(queries)}, err
}

func (o *Orchestrator) scrapeContent(ctx context.Context, state *types.RunState) (map[string]any, error) {
	var (
		mu    sync.Mutex
		pages []types.ScrapedPage
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrent)
	for _, result := range state.SearchResults {
		result := result
		g.Go(func() error {
			page, err := o.scraper.Scrape(gctx, result.URL, result)
			if err != nil {
				log.Printf("warning: pipeline: scrape %s: %v", result.URL, err)
				return nil
			}
			if page.Content == "" {
				return nil
			}
			mu.Lock()
			pages = append(pages, page)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	state.ScrapedContent = pages
	return map[string]any{"pages": len(pages), "attempted": len(state.SearchResults)}, err
}

func (o *Orchestrator) deduplicateSources(ctx context.Context, state *types.RunState) (map[string]any, error) {
	sources := make([]types.ScrapedPage, len(state.ScrapedContent))
	copy(sources, state.ScrapedContent)
	sort.SliceStable(sources, func(i, j int) bool {
		return len(sources[i].Content) > len(sources[j].Content)
	})

	perDomain := make(map[string]int, len(sources))
	var kept []types.ScrapedPage
	for _, source := range sources {
		if len(source.Content) < o.cfg.MinContentLength {
			continue
		}
		if perDomain[source.Domain] >= o.cfg.PerDomainCap {
			continue
		}
		perDomain[source.Domain]++
		kept = append(kept, source)
		if len(kept) >= o.cfg.MaxSourcesPerResponse {
			break
		}
	}

	state.DedupedSources = kept
	return map[string]any{"kept": len(kept), "scraped": len(state.ScrapedContent)}, nil
}

func (o *Orchestrator) analyzeData(ctx context.Context, state *types.RunState) (map[string]any, error) {
	state.AnalysisResults = o.analyzer.Analyze(state.QueryAnalysis, state.DedupedSources)
	return map[string]any{
		"insights":   len(state.AnalysisResults.KeyInsights),
		"metrics":    len(state.AnalysisResults.FinancialMetrics),
		"confidence": state.AnalysisResults.ConfidenceScore,
	}, nil
}

func (o *Orchestrator) synthesizeResponse(ctx context.Context, state *types.RunState) (map[string]any, error) {
	result := o.synthesizer.Synthesize(state.Query, state.QueryAnalysis, state.AnalysisResults, state.DedupedSources)
	state.FinalResponse = result.Response
	state.Sources = result.Sources
	return map[string]any{
		"word_count":    result.WordCount,
		"sections":      result.SectionsIncluded,
		"quality_score": result.QualityScore,
	}, nil
}

func (o *Orchestrator) updateMemory(ctx context.Context, state *types.RunState) (map[string]any, error) {
	var entities []string
	for _, e := range state.QueryAnalysis.Entities {
		entities = append(entities, e.Value)
	}

	insights := make([]memory.InsightInput, 0, len(state.AnalysisResults.KeyInsights))
	for _, insight := range state.AnalysisResults.KeyInsights {
		insights = append(insights, memory.InsightInput{
			Content:    insight,
			Type:       "research_finding",
			Entities:   entities,
			Confidence: state.AnalysisResults.ConfidenceScore,
		})
	}

	analysis := state.AnalysisResults
	stored := o.memory.StoreConversationExchange(ctx, memory.ExchangeInput{
		ThreadID: state.ThreadID,
		UserID:   state.UserID,
		Query:    state.Query,
		Response: state.FinalResponse,
		Sources:  state.Sources,
		Analysis: &analysis,
		Insights: insights,
	})
	// memory failures degrade silently and never touch the response
	return map[string]any{"stored": stored, "insights": len(insights)}, nil
}
