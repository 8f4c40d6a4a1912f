package engine

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
)

// recitationRequest captures "recite X [by Y]" phrasings.
var recitationRequest = regexp.MustCompile(`(?i)\brecite\b.*?\b(?:of|from)?\s*((?:"[^"]+")|(?:[A-Z][\w']*(?:\s+[A-Z][\w']*)*))(?:\s+by\s+([A-Z][\w']*(?:\s+[A-Z][\w']*)*))?`)

const recitationMinChars = 200

// recitationSource is what the helper attaches for prompt assembly.
type recitationSource struct {
	Title   string `json:"title"`
	Query   string `json:"query"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// fetchRecitationSource resolves a recitation request that the local
// knowledge store could not satisfy: search the web for the full text,
// fetch the top trusted result, and validate it before attaching it.
func (e *Engine) fetchRecitationSource(ctx context.Context, p *packet.Packet, probe *ProbeResult) {
	if probe != nil && len(probe.Hits) > 0 {
		return // local knowledge covers it
	}

	title, author := parseRecitationTarget(p.Content.OriginalPrompt)
	if title == "" {
		return
	}
	query := strings.TrimSpace(title + " " + author + " full text")

	searchResult, err := e.tools.Call(ctx, "web_search", map[string]any{"query": query}, p.Header.SessionID)
	if err != nil || !searchResult.Success {
		e.log.Warn("Recitation search failed", "query", query, "error", err)
		return
	}

	var results []struct {
		URL  string `json:"url"`
		Tier string `json:"tier"`
	}
	if err := json.Unmarshal([]byte(searchResult.Content), &results); err != nil || len(results) == 0 {
		return
	}

	for _, r := range results {
		if r.Tier != "trusted" && r.Tier != "reliable" {
			continue // the fetch tool refuses everything else
		}
		fetchResult, err := e.tools.Call(ctx, "web_fetch", map[string]any{"url": r.URL}, p.Header.SessionID)
		if err != nil || !fetchResult.Success {
			continue
		}
		if !validRecitation(fetchResult.Content, title) {
			continue
		}
		source := recitationSource{Title: title, Query: query, URL: r.URL, Content: fetchResult.Content}
		if encoded, err := json.Marshal(source); err == nil {
			p.AddField("recitation_source", string(encoded), packet.FieldRetrieved, "web")
			p.Reflect("recitation", "fetched source text from "+r.URL, 0.9)
		}
		return
	}
	p.Reflect("recitation", "no fetched page passed validation for "+title, 0.2)
}

// parseRecitationTarget extracts the work title and optional author.
func parseRecitationTarget(prompt string) (title, author string) {
	m := recitationRequest.FindStringSubmatch(prompt)
	if m == nil {
		return "", ""
	}
	title = strings.Trim(m[1], `"`)
	author = m[2]
	return title, author
}

// validRecitation rejects fetched pages too short to contain the work
// or that never mention it.
func validRecitation(content, title string) bool {
	if len(content) < recitationMinChars {
		return false
	}
	lower := strings.ToLower(content)
	for _, word := range strings.Fields(strings.ToLower(title)) {
		if len(word) > 3 && !strings.Contains(lower, word) {
			return false
		}
	}
	return true
}
