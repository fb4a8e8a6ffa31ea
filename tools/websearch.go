package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/m4xw311/aida/errors"
	"go.uber.org/zap"
)

// WebSearchToolName is the action name for web lookups.
const WebSearchToolName = "web_search"

const (
	maxSearchResults = 5
	searchCacheSize  = 128
	searchCacheTTL   = 15 * time.Minute
	searchUserAgent  = "Mozilla/5.0 (compatible; aida/1.0)"
)

// SearchResult is one hit from the search page.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// WebSearch queries an HTML search endpoint (DuckDuckGo's HTML front end by
// default) and summarises the first results.
type WebSearch struct {
	endpoint string
	client   *http.Client
	cache    *expirable.LRU[string, string]
	logger   *zap.Logger
}

func NewWebSearch(endpoint string, client *http.Client, logger *zap.Logger) *WebSearch {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSearch{
		endpoint: endpoint,
		client:   client,
		cache:    expirable.NewLRU[string, string](searchCacheSize, nil, searchCacheTTL),
		logger:   logger,
	}
}

func (w *WebSearch) Name() string { return WebSearchToolName }

func (w *WebSearch) Description() string {
	return "Search the web for documentation, error messages or package names. Action Input is the search query."
}

func (w *WebSearch) Execute(ctx context.Context, input string) (Result, error) {
	query := strings.Trim(strings.TrimSpace(input), `"'`)
	if query == "" {
		return Result{}, NewExecutionError(w.Name(), nil, "empty search query")
	}
	if cached, ok := w.cache.Get(query); ok {
		w.logger.Debug("web search cache hit", zap.String("query", query))
		return Result{Input: query, Output: cached}, nil
	}

	results, err := w.Search(ctx, query)
	if err != nil {
		return Result{Input: query}, NewExecutionError(w.Name(), err, "web search failed: %v", err)
	}
	out := formatResults(query, results)
	w.cache.Add(query, out)
	return Result{Input: query, Output: out}, nil
}

// Search fetches and parses the result page for query.
func (w *WebSearch) Search(ctx context.Context, query string) ([]SearchResult, error) {
	u, err := url.Parse(w.endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid search endpoint %q", w.endpoint)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build search request")
	}
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "search request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("search endpoint returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse search results")
	}

	var results []SearchResult
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find("a.result__a").First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		if title == "" || href == "" {
			return true
		}
		results = append(results, SearchResult{
			Title:   title,
			URL:     resolveResultURL(href),
			Snippet: strings.Join(strings.Fields(s.Find(".result__snippet").Text()), " "),
		})
		return len(results) < maxSearchResults
	})
	return results, nil
}

// resolveResultURL unwraps DuckDuckGo redirect links ("/l/?uddg=<target>").
func resolveResultURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func formatResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q", query)
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
