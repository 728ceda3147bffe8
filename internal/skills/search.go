package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/policy"
)

const (
	DefaultSearchEndpoint = "https://api.tavily.com/search"
	defaultSearchResults  = 5
	maxQueryChars         = 500
	maxSnippetChars       = 1_000
	searchTimeout         = 10 * time.Second
)

// ErrNoSearchKey is returned when no API key is configured for web_search.
var ErrNoSearchKey = errors.New("web search API key is not configured")

// SearchConfig points web_search at a Tavily-compatible endpoint.
type SearchConfig struct {
	Endpoint   string
	MaxResults int
	// APIKey is called on every search, so a rotated key applies without a restart.
	APIKey func() (string, error)
}

// WebSearch queries a search API and returns the top results as text.
type WebSearch struct {
	policy policy.Enforcer
	cfg    SearchConfig
	web    *webClient
}

func NewWebSearch(p policy.Enforcer, cfg SearchConfig) *WebSearch {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultSearchEndpoint
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultSearchResults
	}
	if cfg.APIKey == nil {
		cfg.APIKey = func() (string, error) { return "", ErrNoSearchKey }
	}
	return &WebSearch{policy: p, cfg: cfg, web: newWebClient(p, false, true)}
}

func (s *WebSearch) Metadata() Metadata {
	return Metadata{
		Name: "web_search",
		Description: "Search the web for real-time information. Call this tool when asked about " +
			"current events, news, sports results, prices, weather, recent releases or any fact " +
			"that may have changed recently. Do not answer such questions from training data.",
		RiskLevel:       domain.RiskLow,
		MaxCallsPerTurn: 3,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "The web search query."},
			},
			"required": []string{"query"},
		},
	}
}

func (s *WebSearch) Validate(params map[string]any) error {
	q, err := stringParam(params, "query", true)
	if err != nil {
		return err
	}
	if len(q) > maxQueryChars {
		return invalid("parameter 'query' must be under %d characters", maxQueryChars)
	}
	return nil
}

// Authorize treats a search as a read of the configured endpoint.
func (s *WebSearch) Authorize(_ context.Context, _ map[string]any) domain.PolicyResult {
	return s.policy.CheckHTTPAccess(s.cfg.Endpoint, http.MethodGet)
}

type searchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type searchResult struct {
	Query string
	Hits  []searchHit
}

func (s *WebSearch) Execute(ctx context.Context, params map[string]any) (any, error) {
	query, _ := stringParam(params, "query", true)
	if err := s.web.checkURL(ctx, s.cfg.Endpoint); err != nil {
		return nil, err
	}
	key, err := s.cfg.APIKey()
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, ErrNoSearchKey
	}

	body, err := json.Marshal(map[string]any{
		"api_key":      key,
		"query":        query,
		"search_depth": "basic",
		"max_results":  s.cfg.MaxResults,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()
	resp, err := s.web.do(ctx, http.MethodPost, s.cfg.Endpoint, string(body), "application/json")
	if err != nil {
		// the request body carries the key; keep the error free of it
		return nil, fmt.Errorf("web search request failed: %s", strings.ReplaceAll(err.Error(), key, "***"))
	}
	if resp.Status >= 400 {
		return nil, fmt.Errorf("web search returned HTTP %d", resp.Status)
	}

	var decoded struct {
		Results []searchHit `json:"results"`
	}
	if err := json.Unmarshal([]byte(resp.Body), &decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	hits := decoded.Results
	if len(hits) > s.cfg.MaxResults {
		hits = hits[:s.cfg.MaxResults]
	}
	return searchResult{Query: query, Hits: hits}, nil
}

// SanitizeOutput caps every hit on its own so one long page cannot crowd out
// the other sources.
func (s *WebSearch) SanitizeOutput(result any) string {
	r, ok := result.(searchResult)
	if !ok {
		return fmt.Sprintf("[web_search] unexpected result %T", result)
	}
	var snippets []string
	for _, h := range r.Hits {
		title := SanitizeExternal(h.Title)
		content := SanitizeExternal(h.Content)
		snippet := content
		if title != "" {
			snippet = fmt.Sprintf("**%s**\n%s", title, content)
		}
		if u := SanitizeExternal(h.URL); u != "" {
			snippet += "\n" + u
		}
		if snippet = strings.TrimSpace(snippet); snippet == "" {
			continue
		}
		snippets = append(snippets, Truncate(snippet, maxSnippetChars))
	}
	if len(snippets) == 0 {
		return fmt.Sprintf("[web_search %q] No search results found.", r.Query)
	}
	return fmt.Sprintf("[web_search %q]\n\n%s", r.Query, strings.Join(snippets, "\n\n---\n\n"))
}
