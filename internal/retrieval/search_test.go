package retrieval

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/finquiry/finquiry/pkg/types"
)

func TestSearchParsesLiveResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("format"); got != "json" {
			t.Errorf("format = %q, want json", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"Heading": "Acme Corp",
			"AbstractText": "Acme Corp is a conglomerate.",
			"AbstractURL": "https://www.example.com/acme",
			"RelatedTopics": [
				{"Text": "Acme earnings - quarterly report", "FirstURL": "https://news.example.com/earnings"},
				{"Text": "no url topic", "FirstURL": ""}
			]
		}`))
	}))
	defer srv.Close()

	searcher := NewWebSearcher(SearcherConfig{BaseURL: srv.URL, RequestsPerSecond: 1000})
	results, err := searcher.Search(context.Background(), "acme corp", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Title != "Acme Corp" {
		t.Errorf("title = %q, want Acme Corp", results[0].Title)
	}
	if results[0].Domain != "example.com" {
		t.Errorf("domain = %q, want example.com", results[0].Domain)
	}
	if results[0].Source != "duckduckgo" {
		t.Errorf("source = %q, want duckduckgo", results[0].Source)
	}
	// topic titles are cut at the first " - "
	if results[1].Title != "Acme earnings" {
		t.Errorf("topic title = %q, want Acme earnings", results[1].Title)
	}
}

func TestSearchFallsBackToMockResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	searcher := NewWebSearcher(SearcherConfig{BaseURL: srv.URL, RequestsPerSecond: 1000})
	results, err := searcher.Search(context.Background(), "tesla outlook", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}
	for _, r := range results {
		if r.Source != "mock" {
			t.Errorf("source = %q, want mock", r.Source)
		}
	}
}

func TestSearchEmptyQueryIsError(t *testing.T) {
	searcher := NewWebSearcher(SearcherConfig{})
	if _, err := searcher.Search(context.Background(), "  ", 5); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestMockResultsAreDeterministic(t *testing.T) {
	a := MockResults("tesla outlook", 20)
	b := MockResults("tesla outlook", 20)

	if len(a) != len(mockDomains) {
		t.Fatalf("got %d results, want %d", len(a), len(mockDomains))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("result %d differs between calls", i)
		}
	}

	seen := map[string]struct{}{}
	for _, r := range a {
		if _, dup := seen[r.URL]; dup {
			t.Fatalf("duplicate URL %s", r.URL)
		}
		seen[r.URL] = struct{}{}
	}
}

func TestDedupeByURL(t *testing.T) {
	in := []types.SearchResult{
		{URL: "https://a.com/1"},
		{URL: "https://a.com/1"},
		{URL: ""},
		{URL: "https://b.com/1"},
		{URL: "https://c.com/1"},
	}

	out := dedupeByURL(in, 2)
	if len(out) != 2 {
		t.Fatalf("got %d results, want 2", len(out))
	}
	if out[0].URL != "https://a.com/1" || out[1].URL != "https://b.com/1" {
		t.Errorf("unexpected order: %v", out)
	}
}

func TestExtractDomain(t *testing.T) {
	if got := ExtractDomain("https://www.reuters.com/markets"); got != "reuters.com" {
		t.Errorf("got %q, want reuters.com", got)
	}
	if got := ExtractDomain("https://finance.yahoo.com/quote"); got != "finance.yahoo.com" {
		t.Errorf("got %q, want finance.yahoo.com", got)
	}
	if got := ExtractDomain("://bad"); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
