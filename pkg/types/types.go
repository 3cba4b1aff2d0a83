// Package types defines the shared data model for the finquiry research
// pipeline: durable insights, conversational exchanges, retrieval artifacts
// and the per-run pipeline state.
package types

import "time"

// Insight is a durable, user-scoped fact extracted from analysis and stored
// for later semantic retrieval.
type Insight struct {
	// ID is a deterministic hash of (UserID, Content). Storing identical
	// content for the same user upserts the existing record.
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	ThreadID string `json:"thread_id,omitempty"`
	Content  string `json:"content"`

	// Type is a free-form tag (e.g. "analysis", "metric", "general").
	Type     string   `json:"type"`
	Entities []string `json:"entities,omitempty"`

	// Confidence is in [0, 1].
	Confidence float64           `json:"confidence"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Quality signals. AccessCount is advisory and eventually consistent:
	// it is incremented best-effort after each successful search hit.
	AccessCount    int64      `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	// SimilarityScore is populated on search results only; it is not stored.
	SimilarityScore float64 `json:"similarity_score,omitempty"`
}

// Exchange is one query/response turn within a conversation thread.
// Exchanges are immutable once created and expire no later than ExpiresAt.
type Exchange struct {
	ThreadID  string           `json:"thread_id"`
	UserID    string           `json:"user_id"`
	Query     string           `json:"query"`
	Response  string           `json:"response"`
	Sources   []Citation       `json:"sources,omitempty"`
	Analysis  *AnalysisResults `json:"analysis,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Citation is one source reference attached to a response.
type Citation struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Domain  string `json:"domain"`
	Snippet string `json:"snippet,omitempty"`
}

// SearchResult is a single web search hit.
type SearchResult struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Snippet       string `json:"snippet"`
	Domain        string `json:"domain"`
	PublishedDate string `json:"published_date,omitempty"`
	Source        string `json:"source,omitempty"`
}

// ScrapedPage is the extracted content of one fetched URL.
type ScrapedPage struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Domain  string `json:"domain"`
	Content string `json:"content"`
	Snippet string `json:"snippet,omitempty"`
}

// Entity is a typed value recognized in a query (currently only companies).
type Entity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// QueryAnalysis is the output of the query understanding stage.
type QueryAnalysis struct {
	Intent           string   `json:"intent"`
	Entities         []Entity `json:"entities,omitempty"`
	Complexity       string   `json:"complexity"`
	FinancialContext bool     `json:"financial_context"`
	QueryType        string   `json:"query_type"`

	// Err carries the degraded-stage marker when analysis failed.
	Err string `json:"error,omitempty"`
}

// ResearchPlan is the output of the planning stage.
type ResearchPlan struct {
	Strategy         string   `json:"strategy"`
	SearchQueries    []string `json:"search_queries"`
	DataSources      []string `json:"data_sources"`
	PriorityEntities []Entity `json:"priority_entities,omitempty"`
	EstimatedSeconds int      `json:"estimated_seconds"`

	Err string `json:"error,omitempty"`
}

// DataPoint is a numeric value extracted from source content with its
// surrounding context.
type DataPoint struct {
	Context string  `json:"context"`
	Value   float64 `json:"value"`
	Unit    string  `json:"unit,omitempty"`
	RawText string  `json:"raw_text"`
}

// Trend is a directional observation extracted from source content.
type Trend struct {
	Type        string `json:"type"` // "positive" or "negative"
	Description string `json:"description"`
	Strength    string `json:"strength"`
}

// AnalysisResults is the output of the data analysis stage.
type AnalysisResults struct {
	Summary          string             `json:"analysis_summary"`
	KeyInsights      []string           `json:"key_insights"`
	FinancialMetrics map[string]float64 `json:"financial_metrics"`
	PercentageValues []float64          `json:"percentage_values,omitempty"`
	CurrencyAmounts  []string           `json:"currency_amounts,omitempty"`
	DataPoints       []DataPoint        `json:"data_points"`
	Trends           []Trend            `json:"trends"`
	RiskFactors      []string           `json:"risk_factors"`
	Recommendations  []string           `json:"recommendations"`
	ConfidenceScore  float64            `json:"confidence_score"`
	SourcesAnalyzed  int                `json:"sources_analyzed"`

	Err string `json:"error,omitempty"`
}

// SynthesisResult is the output of the response synthesis stage.
type SynthesisResult struct {
	Response         string     `json:"response"`
	Sources          []Citation `json:"sources"`
	QualityScore     float64    `json:"quality_score"`
	WordCount        int        `json:"word_count"`
	SectionsIncluded int        `json:"sections_included"`
}
