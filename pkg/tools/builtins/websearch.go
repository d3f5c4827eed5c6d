package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/debug"
)

// WebSearchToolID is the id of the web search tool.
const WebSearchToolID = "web_search_internal"

// DefaultSearchResults is the number of results returned per query when
// the search is configured without a limit.
const DefaultSearchResults = 5

var (
	searchQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_websearch_queries_total",
			Help: "Total web search queries",
		},
		[]string{"backend", "status"},
	)
	searchResults = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolgate_websearch_results_returned",
			Help:    "Number of web search results returned",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(searchQueries, searchResults)
}

// SearchResult is one hit of a search backend.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// SearchBackend runs queries against a search engine.
type SearchBackend interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

type webSearchInput struct {
	Query string `json:"query" jsonschema:"description=Search query"`
}

// WebSearchTool searches the web. Queries leave the machine, so the first
// use asks for confirmation like any other tool; results are plain text.
type WebSearchTool struct {
	backend    SearchBackend
	maxResults int
}

var (
	_ api.ToolImplementation = (*WebSearchTool)(nil)
	_ api.ToolPreparer       = (*WebSearchTool)(nil)
)

// NewWebSearchTool creates a search tool on backend.
func NewWebSearchTool(backend SearchBackend, maxResults int) *WebSearchTool {
	if maxResults <= 0 {
		maxResults = DefaultSearchResults
	}
	return &WebSearchTool{backend: backend, maxResults: maxResults}
}

// Data returns the tool metadata.
func (s *WebSearchTool) Data() api.ToolData {
	return api.ToolData{
		ID:                      WebSearchToolID,
		ToolReferenceName:       "websearch",
		DisplayName:             "Web Search",
		ModelDescription:        "Searches the web for current information and returns titles, URLs and snippets.",
		UserDescription:         "Search the web",
		Source:                  api.InternalSource,
		CanBeReferencedInPrompt: true,
		RunsInWorkspace:         api.Bool(false),
		InputSchema:             schemaFor[webSearchInput](),
	}
}

func (s *WebSearchTool) PrepareToolInvocation(_ context.Context, pctx api.PrepareContext) (*api.PreparedInvocation, error) {
	input, err := decodeParams[webSearchInput](pctx.Parameters)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Query) == "" {
		return nil, errors.New("query must not be empty")
	}
	return &api.PreparedInvocation{
		InvocationMessage: fmt.Sprintf("Searching the web for %q", input.Query),
		PastTenseMessage:  fmt.Sprintf("Searched the web for %q", input.Query),
	}, nil
}

// Invoke runs the query. A failing backend yields a tool result error so
// the model can react to it.
func (s *WebSearchTool) Invoke(ctx context.Context, inv *api.Invocation, _ api.CountTokensFunc, progress api.ProgressReporter) (*api.ToolResult, error) {
	input, err := decodeParams[webSearchInput](inv.Parameters)
	if err != nil {
		return nil, err
	}
	backend := s.backend.Name()
	if progress != nil {
		progress.Report(api.ProgressStep{Message: fmt.Sprintf("Querying %s", backend)})
	}

	results, err := s.backend.Search(ctx, input.Query, s.maxResults)
	if err != nil {
		searchQueries.WithLabelValues(backend, "error").Inc()
		debug.Log("invoke", "web search failed", "backend", backend, "error", err)
		res := api.TextResult(fmt.Sprintf("search failed: %v", err))
		res.ToolResultError = err.Error()
		return res, nil
	}
	searchQueries.WithLabelValues(backend, "success").Inc()
	searchResults.WithLabelValues(backend).Observe(float64(len(results)))
	return api.TextResult(formatResults(input.Query, results)), nil
}

func formatResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s\n   URL: %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String()
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// SearXNG queries the JSON API of a SearXNG instance.
type SearXNG struct {
	BaseURL    string
	HTTPClient *http.Client
}

var _ SearchBackend = (*SearXNG)(nil)

// NewSearXNG creates a backend for the instance at baseURL.
func NewSearXNG(baseURL string, client *http.Client) *SearXNG {
	if client == nil {
		client = http.DefaultClient
	}
	return &SearXNG{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: client}
}

func (s *SearXNG) Name() string { return "searxng" }

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (s *SearXNG) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	u := fmt.Sprintf("%s/search?q=%s&format=json&categories=general", s.BaseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned status %d", resp.StatusCode)
	}
	var sr searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	results := make([]SearchResult, 0, min(len(sr.Results), maxResults))
	for _, r := range sr.Results[:min(len(sr.Results), maxResults)] {
		results = append(results, SearchResult{
			Title:   stripHTML(r.Title),
			URL:     r.URL,
			Snippet: stripHTML(r.Content),
		})
	}
	return results, nil
}

func stripHTML(s string) string {
	return strings.TrimSpace(htmlTag.ReplaceAllString(s, ""))
}
