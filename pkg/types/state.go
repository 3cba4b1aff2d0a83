package types

import "time"

// StageTrace records one pipeline stage execution. Exactly one trace entry is
// appended per stage, successful or not; a failed stage carries Err and the
// degraded default it wrote.
type StageTrace struct {
	Stage     string         `json:"stage"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Detail    map[string]any `json:"detail,omitempty"`
	Err       string         `json:"error,omitempty"`
}

// RunState is the mutable working record threaded through one pipeline
// execution. Stages only read fields produced by strictly earlier stages and
// write their own output field. The state is discarded after the response is
// returned; only the derived Exchange and any Insights survive in memory.
type RunState struct {
	RunID         string `json:"run_id"`
	Query         string `json:"query"`
	ThreadID      string `json:"thread_id"`
	UserID        string `json:"user_id"`
	ResearchDepth string `json:"research_depth"`

	QueryAnalysis   QueryAnalysis   `json:"query_analysis"`
	ResearchPlan    ResearchPlan    `json:"research_plan"`
	SearchResults   []SearchResult  `json:"search_results"`
	ScrapedContent  []ScrapedPage   `json:"scraped_content"`
	DedupedSources  []ScrapedPage   `json:"deduplicated_sources"`
	AnalysisResults AnalysisResults `json:"analysis_results"`
	FinalResponse   string          `json:"final_response"`
	Sources         []Citation      `json:"sources"`

	Trace           []StageTrace  `json:"trace"`
	StagesCompleted []string      `json:"stages_completed"`
	Elapsed         time.Duration `json:"elapsed"`
	FromCache       bool          `json:"from_cache,omitempty"`
}
