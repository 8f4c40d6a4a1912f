package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/azraeltruthsay/gaia-sub000/pkg/config"
)

// Domain tiers order search results and gate fetches. Fetches only
// serve trusted and reliable hosts; in search, trusted sources sort
// ahead of reliable ones, which sort ahead of unknown hosts.
const (
	tierTrusted  = "trusted"
	tierReliable = "reliable"
	tierUnknown  = "unknown"
	tierBlocked  = "blocked"
)

type domainPolicy struct {
	trusted  []string
	reliable []string
	blocked  []string
}

func newDomainPolicy(cfg *config.WebResearchConfig) *domainPolicy {
	return &domainPolicy{
		trusted:  cfg.TrustedDomains,
		reliable: cfg.ReliableDomains,
		blocked:  cfg.BlockedDomains,
	}
}

func (p *domainPolicy) tier(host string) string {
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}
	for _, pattern := range p.blocked {
		if matchesDomain(host, pattern) {
			return tierBlocked
		}
	}
	for _, pattern := range p.trusted {
		if matchesDomain(host, pattern) {
			return tierTrusted
		}
	}
	for _, pattern := range p.reliable {
		if matchesDomain(host, pattern) {
			return tierReliable
		}
	}
	return tierUnknown
}

func matchesDomain(host, pattern string) bool {
	if host == pattern {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	return strings.HasSuffix(host, "."+pattern)
}

// WebSearchTool queries the configured metasearch endpoint and returns
// tiered results. Rate limited per hour.
type WebSearchTool struct {
	searchURL string
	policy    *domainPolicy
	limiter   *rate.Limiter
	client    *http.Client
}

type webSearchArgs struct {
	Query        string `json:"query" jsonschema:"required,description=Search query"`
	ContentType  string `json:"content_type,omitempty" jsonschema:"description=Metasearch category to restrict results to (e.g. news, science)"`
	DomainFilter string `json:"domain_filter,omitempty" jsonschema:"description=Only return results from this domain"`
	MaxResults   int    `json:"max_results,omitempty" jsonschema:"description=Maximum results to return, 1 to 10 (default 5)"`
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
	Tier    string `json:"tier"`
}

func NewWebSearchTool(cfg *config.WebResearchConfig) *WebSearchTool {
	return &WebSearchTool{
		searchURL: cfg.SearchURL,
		policy:    newDomainPolicy(cfg),
		limiter:   rate.NewLimiter(rate.Every(time.Hour/time.Duration(cfg.SearchPerHour)), cfg.SearchPerHour),
		client:    &http.Client{Timeout: time.Duration(cfg.FetchTimeoutSec) * time.Second},
	}
}

func (t *WebSearchTool) GetName() string { return "web_search" }

func (t *WebSearchTool) GetDescription() string {
	return "Search the web through the metasearch endpoint, results ranked by source tier"
}

func (t *WebSearchTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		InputSchema: reflectSchema(&webSearchArgs{}),
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		err := fmt.Errorf("query parameter is required")
		return errorResult(t.GetName(), err.Error(), start), err
	}
	if !t.limiter.Allow() {
		err := fmt.Errorf("search rate limit exceeded, try again later")
		return errorResult(t.GetName(), err.Error(), start), err
	}

	maxResults := intArg(args, "max_results")
	if maxResults <= 0 {
		maxResults = 5
	} else if maxResults > 10 {
		maxResults = 10
	}
	contentType, _ := args["content_type"].(string)
	domainFilter, _ := args["domain_filter"].(string)

	endpoint := fmt.Sprintf("%s?q=%s&format=json", t.searchURL, url.QueryEscape(query))
	if contentType != "" {
		endpoint += "&categories=" + url.QueryEscape(contentType)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return errorResult(t.GetName(), fmt.Sprintf("search request failed: %v", err), start), err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("search endpoint returned HTTP %d", resp.StatusCode)
		return errorResult(t.GetName(), err.Error(), start), err
	}

	var payload struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return errorResult(t.GetName(), fmt.Sprintf("failed to parse search results: %v", err), start), err
	}

	results := t.rankResults(payload.Results, domainFilter, maxResults)
	encoded, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}

	return ToolResult{
		Success:       true,
		Content:       string(encoded),
		ToolName:      t.GetName(),
		ExecutionTime: time.Since(start),
		Metadata: map[string]any{
			"query":   query,
			"results": len(results),
		},
	}, nil
}

func (t *WebSearchTool) rankResults(raw []struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}, domainFilter string, max int) []searchResult {
	var results []searchResult
	for _, tierWanted := range []string{tierTrusted, tierReliable, tierUnknown} {
		for _, r := range raw {
			parsed, err := url.Parse(r.URL)
			if err != nil {
				continue
			}
			if domainFilter != "" && !matchesDomain(parsed.Hostname(), domainFilter) {
				continue
			}
			if t.policy.tier(parsed.Host) != tierWanted {
				continue
			}
			results = append(results, searchResult{
				Title:   r.Title,
				URL:     r.URL,
				Content: r.Content,
				Tier:    tierWanted,
			})
			if len(results) >= max {
				return results
			}
		}
	}
	return results
}

// WebFetchTool retrieves a single page with a byte cap. Rate limited
// per hour; only trusted and reliable domains are fetched.
type WebFetchTool struct {
	policy   *domainPolicy
	limiter  *rate.Limiter
	client   *http.Client
	maxBytes int64
}

type webFetchArgs struct {
	URL string `json:"url" jsonschema:"required,description=URL to fetch"`
}

func NewWebFetchTool(cfg *config.WebResearchConfig) *WebFetchTool {
	return &WebFetchTool{
		policy:   newDomainPolicy(cfg),
		limiter:  rate.NewLimiter(rate.Every(time.Hour/time.Duration(cfg.FetchPerHour)), cfg.FetchPerHour),
		client:   &http.Client{Timeout: time.Duration(cfg.FetchTimeoutSec) * time.Second},
		maxBytes: int64(cfg.FetchMaxBytes),
	}
}

func (t *WebFetchTool) GetName() string { return "web_fetch" }

func (t *WebFetchTool) GetDescription() string {
	return "Fetch a web page from an allowlisted domain, size-capped"
}

func (t *WebFetchTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		InputSchema: reflectSchema(&webFetchArgs{}),
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	urlStr, _ := args["url"].(string)
	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.Host == "" {
		err := fmt.Errorf("valid url parameter is required")
		return errorResult(t.GetName(), err.Error(), start), err
	}

	tier := t.policy.tier(parsed.Host)
	switch tier {
	case tierBlocked:
		err := fmt.Errorf("domain is blocked: %s", parsed.Host)
		return errorResult(t.GetName(), err.Error(), start), err
	case tierUnknown:
		err := fmt.Errorf("domain is not allowlisted: %s", parsed.Host)
		return errorResult(t.GetName(), err.Error(), start), err
	}
	if !t.limiter.Allow() {
		err := fmt.Errorf("fetch rate limit exceeded, try again later")
		return errorResult(t.GetName(), err.Error(), start), err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return errorResult(t.GetName(), fmt.Sprintf("fetch failed: %v", err), start), err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes))
	if err != nil {
		return errorResult(t.GetName(), fmt.Sprintf("failed to read response: %v", err), start), err
	}

	return ToolResult{
		Success:       resp.StatusCode >= 200 && resp.StatusCode < 300,
		Content:       string(body),
		ToolName:      t.GetName(),
		ExecutionTime: time.Since(start),
		Metadata: map[string]any{
			"url":          urlStr,
			"status_code":  resp.StatusCode,
			"content_type": resp.Header.Get("Content-Type"),
			"tier":         tier,
			"size":         len(body),
		},
	}, nil
}
