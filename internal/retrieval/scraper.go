package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/finquiry/finquiry/pkg/types"
)

// ErrInvalidInput is returned for empty or unparseable URLs.
var ErrInvalidInput = errors.New("retrieval: invalid input")

// Limits applied to every scrape.
const (
	maxContentLength = 10000
	snippetLength    = 300
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

// Scraper fetches and extracts the readable content of a source.
type Scraper interface {
	Scrape(ctx context.Context, pageURL string, meta types.SearchResult) (types.ScrapedPage, error)
}

// WebScraper fetches pages over HTTP and extracts their visible text.
type WebScraper struct {
	client *http.Client
}

// NewWebScraper creates a scraper with the given timeout (default: 15s).
func NewWebScraper(timeout time.Duration) *WebScraper {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &WebScraper{client: &http.Client{Timeout: timeout}}
}

var _ Scraper = (*WebScraper)(nil)

// Scrape fetches a URL and returns its extracted text, capped at 10000
// characters. The search metadata fills in a title when the page has none.
func (s *WebScraper) Scrape(ctx context.Context, pageURL string, meta types.SearchResult) (types.ScrapedPage, error) {
	if strings.TrimSpace(pageURL) == "" {
		return types.ScrapedPage{}, fmt.Errorf("%w: empty URL", ErrInvalidInput)
	}
	if !strings.HasPrefix(pageURL, "http://") && !strings.HasPrefix(pageURL, "https://") {
		return types.ScrapedPage{}, fmt.Errorf("%w: unsupported URL %q", ErrInvalidInput, pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return types.ScrapedPage{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return types.ScrapedPage{}, fmt.Errorf("retrieval: fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.ScrapedPage{}, fmt.Errorf("retrieval: fetch %s: status %d", pageURL, resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return types.ScrapedPage{}, fmt.Errorf("retrieval: parse %s: %w", pageURL, err)
	}

	title, content := extractText(doc)
	if title == "" {
		title = meta.Title
	}
	if len(content) > maxContentLength {
		content = content[:maxContentLength]
	}

	snippet := content
	if len(snippet) > snippetLength {
		snippet = snippet[:snippetLength]
	}
	if snippet == "" {
		snippet = meta.Snippet
	}

	return types.ScrapedPage{
		URL:     pageURL,
		Title:   title,
		Domain:  ExtractDomain(pageURL),
		Content: content,
		Snippet: snippet,
	}, nil
}

// skippedElements contribute no readable text.
var skippedElements = map[string]struct{}{
	"script": {}, "style": {}, "noscript": {},
	"nav": {}, "header": {}, "footer": {}, "aside": {},
}

// extractText walks the parsed document collecting the page title and the
// visible text, skipping boilerplate elements.
func extractText(doc *html.Node) (title, content string) {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if _, skip := skippedElements[n.Data]; skip {
				return
			}
			if n.Data == "title" && title == "" && n.FirstChild != nil {
				title = strings.TrimSpace(n.FirstChild.Data)
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return title, sb.String()
}
