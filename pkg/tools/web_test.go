package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azraeltruthsay/gaia-sub000/pkg/config"
)

func webConfig(searchURL string) *config.WebResearchConfig {
	return &config.WebResearchConfig{
		SearchURL:       searchURL,
		TrustedDomains:  []string{"docs.example.org"},
		ReliableDomains: []string{"*.wikipedia.org"},
		BlockedDomains:  []string{"spam.example.com"},
		SearchPerHour:   20,
		FetchPerHour:    50,
		FetchMaxBytes:   1024,
		FetchTimeoutSec: 5,
	}
}

func TestDomainTiers(t *testing.T) {
	policy := newDomainPolicy(webConfig(""))

	assert.Equal(t, tierTrusted, policy.tier("docs.example.org"))
	assert.Equal(t, tierReliable, policy.tier("en.wikipedia.org"))
	assert.Equal(t, tierBlocked, policy.tier("spam.example.com"))
	assert.Equal(t, tierUnknown, policy.tier("random.site.net"))
	assert.Equal(t, tierTrusted, policy.tier("docs.example.org:8080"))
}

func TestWebSearchRanksByTier(t *testing.T) {
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"title":"random","url":"https://random.site.net/a","content":"c1"},
			{"title":"wiki","url":"https://en.wikipedia.org/wiki/Go","content":"c2"},
			{"title":"docs","url":"https://docs.example.org/go","content":"c3"}
		]}`))
	}))
	defer search.Close()

	tool := NewWebSearchTool(webConfig(search.URL))
	result, err := tool.Execute(context.Background(), map[string]any{"query": "golang"})
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Regexp(t, `(?s)docs\.example\.org.*wikipedia\.org.*random\.site\.net`, result.Content)
}

func TestWebFetchBlockedDomain(t *testing.T) {
	tool := NewWebFetchTool(webConfig(""))
	result, err := tool.Execute(context.Background(), map[string]any{"url": "https://spam.example.com/page"})
	require.Error(t, err)
	assert.Contains(t, result.Error, "blocked")
}

func TestWebFetchUnknownDomainRefused(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("should never be served"))
	}))
	defer page.Close()

	tool := NewWebFetchTool(webConfig(""))
	result, err := tool.Execute(context.Background(), map[string]any{"url": page.URL})
	require.Error(t, err)
	assert.Contains(t, result.Error, "not allowlisted")
	assert.NotContains(t, result.Content, "served")
}

func TestWebFetchSizeCap(t *testing.T) {
	big := make([]byte, 4096)
	for i := range big {
		big[i] = 'x'
	}
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(big)
	}))
	defer page.Close()

	cfg := webConfig("")
	cfg.TrustedDomains = append(cfg.TrustedDomains, "127.0.0.1")
	tool := NewWebFetchTool(cfg)
	result, err := tool.Execute(context.Background(), map[string]any{"url": page.URL})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, result.Content, cfg.FetchMaxBytes)
}

func TestWebSearchClampsMaxResults(t *testing.T) {
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[`))
		for i := 0; i < 15; i++ {
			if i > 0 {
				_, _ = w.Write([]byte(","))
			}
			_, _ = fmt.Fprintf(w, `{"title":"t%d","url":"https://en.wikipedia.org/wiki/%d","content":"c"}`, i, i)
		}
		_, _ = w.Write([]byte(`]}`))
	}))
	defer search.Close()

	tool := NewWebSearchTool(webConfig(search.URL))
	result, err := tool.Execute(context.Background(), map[string]any{"query": "golang", "max_results": 50})
	require.NoError(t, err)

	var results []searchResult
	require.NoError(t, json.Unmarshal([]byte(result.Content), &results))
	assert.Len(t, results, 10)
}

func TestWebSearchDomainFilter(t *testing.T) {
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "science", r.URL.Query().Get("categories"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"title":"wiki","url":"https://en.wikipedia.org/wiki/Go","content":"c1"},
			{"title":"docs","url":"https://docs.example.org/go","content":"c2"}
		]}`))
	}))
	defer search.Close()

	tool := NewWebSearchTool(webConfig(search.URL))
	result, err := tool.Execute(context.Background(), map[string]any{
		"query":         "golang",
		"content_type":  "science",
		"domain_filter": "wikipedia.org",
	})
	require.NoError(t, err)

	var results []searchResult
	require.NoError(t, json.Unmarshal([]byte(result.Content), &results))
	require.Len(t, results, 1)
	assert.Contains(t, results[0].URL, "wikipedia.org")
}

func TestWebSearchRateLimit(t *testing.T) {
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer search.Close()

	cfg := webConfig(search.URL)
	cfg.SearchPerHour = 1
	tool := NewWebSearchTool(cfg)

	_, err := tool.Execute(context.Background(), map[string]any{"query": "one"})
	require.NoError(t, err)

	result, err := tool.Execute(context.Background(), map[string]any{"query": "two"})
	require.Error(t, err)
	assert.Contains(t, result.Error, "rate limit")
}
