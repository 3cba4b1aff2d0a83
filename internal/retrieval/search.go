// Package retrieval gathers raw material for research: web search and page
// scraping. Both collaborators are interfaces so the pipeline can run
// against stubs in tests.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/finquiry/finquiry/pkg/types"
)

// Searcher finds candidate sources for a query.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]types.SearchResult, error)
}

// WebSearcher queries the DuckDuckGo instant-answer API and falls back to
// deterministic placeholder results when the API yields nothing. Requests
// are rate limited so query fan-out cannot hammer the endpoint.
type WebSearcher struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// SearcherConfig tunes the web searcher.
type SearcherConfig struct {
	// BaseURL overrides the DuckDuckGo endpoint, mainly for tests.
	BaseURL string

	// Timeout is the per-request timeout (default: 10s).
	Timeout time.Duration

	// RequestsPerSecond throttles outbound searches (default: 2).
	RequestsPerSecond float64
}

// duckDuckGoResponse is the subset of the instant-answer payload we read.
type duckDuckGoResponse struct {
	Heading       string `json:"Heading"`
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// NewWebSearcher creates a searcher with defaults applied.
func NewWebSearcher(cfg SearcherConfig) *WebSearcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.duckduckgo.com/"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 2
	}
	return &WebSearcher{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

var _ Searcher = (*WebSearcher)(nil)

// Search returns up to maxResults unique-URL results. When the live search
// fails or comes back empty it degrades to mock results, so a search never
// leaves the pipeline without sources.
func (s *WebSearcher) Search(ctx context.Context, query string, maxResults int) ([]types.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("retrieval: empty search query")
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("retrieval: rate limit wait: %w", err)
	}

	results, err := s.searchDuckDuckGo(ctx, query, maxResults)
	if err != nil {
		log.Printf("warning: retrieval: live search failed, using mock results: %v", err)
		results = MockResults(query, maxResults)
	}
	if len(results) == 0 {
		results = MockResults(query, maxResults)
	}

	return dedupeByURL(results, maxResults), nil
}

func (s *WebSearcher) searchDuckDuckGo(ctx context.Context, query string, maxResults int) ([]types.SearchResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("retrieval: create search request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("retrieval: search returned status %d", resp.StatusCode)
	}

	var data duckDuckGoResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("retrieval: decode search response: %w", err)
	}

	var results []types.SearchResult
	if data.AbstractText != "" {
		title := data.Heading
		if title == "" {
			title = "DuckDuckGo Result"
		}
		results = append(results, types.SearchResult{
			Title:   title,
			URL:     data.AbstractURL,
			Snippet: data.AbstractText,
			Domain:  ExtractDomain(data.AbstractURL),
			Source:  "duckduckgo",
		})
	}
	for _, topic := range data.RelatedTopics {
		if len(results) >= maxResults {
			break
		}
		if topic.FirstURL == "" {
			continue
		}
		title := topic.Text
		if idx := strings.Index(title, " - "); idx > 0 {
			title = title[:idx]
		}
		results = append(results, types.SearchResult{
			Title:   title,
			URL:     topic.FirstURL,
			Snippet: topic.Text,
			Domain:  ExtractDomain(topic.FirstURL),
			Source:  "duckduckgo",
		})
	}
	return results, nil
}

// mockDomains seed the deterministic fallback results.
var mockDomains = []string{
	"reuters.com", "bloomberg.com", "finance.yahoo.com",
	"marketwatch.com", "cnbc.com", "wsj.com", "ft.com",
	"investopedia.com",
}

// MockResults builds deterministic placeholder results for a query. Used
// when live search is unavailable and directly by tests.
func MockResults(query string, maxResults int) []types.SearchResult {
	n := maxResults
	if n > len(mockDomains) {
		n = len(mockDomains)
	}
	slug := strings.ReplaceAll(strings.ToLower(query), " ", "-")

	results := make([]types.SearchResult, 0, n)
	for i := 0; i < n; i++ {
		domain := mockDomains[i%len(mockDomains)]
		results = append(results, types.SearchResult{
			Title:   fmt.Sprintf("Financial Analysis: %s - Key Insights", query),
			URL:     fmt.Sprintf("https://www.%s/article/%s-%d", domain, slug, i+1),
			Snippet: fmt.Sprintf("Latest analysis and insights about %s. Comprehensive financial data and market trends analysis covering key metrics and performance indicators.", query),
			Domain:  domain,
			Source:  "mock",
		})
	}
	if len(results) > 0 {
		results[0].Title = fmt.Sprintf("%s Stock Analysis - Current Market Position", query)
		results[0].Snippet = fmt.Sprintf("Detailed analysis of %s including valuation metrics, growth prospects, and risk assessment.", query)
	}
	if len(results) > 1 {
		results[1].Title = fmt.Sprintf("%s Financial Performance Report", query)
		results[1].Snippet = fmt.Sprintf("Quarterly earnings analysis and financial performance review for %s with key metrics and trends.", query)
	}
	return results
}

// ExtractDomain returns the host of a URL without a www. prefix.
func ExtractDomain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(parsed.Host, "www.")
}

func dedupeByURL(results []types.SearchResult, maxResults int) []types.SearchResult {
	seen := make(map[string]struct{}, len(results))
	unique := make([]types.SearchResult, 0, len(results))
	for _, r := range results {
		if r.URL == "" {
			continue
		}
		if _, ok := seen[r.URL]; ok {
			continue
		}
		seen[r.URL] = struct{}{}
		unique = append(unique, r)
		if len(unique) == maxResults {
			break
		}
	}
	return unique
}
