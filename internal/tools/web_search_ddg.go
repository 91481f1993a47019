package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// duckDuckGoSearchProvider scrapes the no-JavaScript DuckDuckGo HTML
// endpoint. It needs no API key, which makes it the out-of-the-box
// search backend, at the price of regex-parsing markup that DDG may
// reshuffle at any time.
type duckDuckGoSearchProvider struct {
	client *http.Client
}

func newDuckDuckGoSearchProvider() *duckDuckGoSearchProvider {
	return &duckDuckGoSearchProvider{
		client: &http.Client{Timeout: time.Duration(searchTimeoutSeconds) * time.Second},
	}
}

func (p *duckDuckGoSearchProvider) Name() string { return "duckduckgo" }

func (p *duckDuckGoSearchProvider) Search(ctx context.Context, params searchParams) ([]searchResult, error) {
	endpoint := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(params.Query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: create request: %w", err)
	}
	// Without a browser user agent the endpoint serves a bot challenge.
	req.Header.Set("User-Agent", webSearchUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: read response: %w", err)
	}

	return parseDDGResultPage(string(body), params.Count), nil
}

// Result anchors carry class "result__a"; the snippet anchor next to
// them carries "result__snippet".
var (
	ddgResultAnchorRe  = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgResultSnippetRe = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
	anyHTMLTagRe       = regexp.MustCompile(`<[^>]+>`)
)

// parseDDGResultPage pulls up to count results out of the HTML. A page
// with no recognizable anchors yields an empty slice, not an error — the
// caller falls through to its "no results" reply.
func parseDDGResultPage(html string, count int) []searchResult {
	anchors := ddgResultAnchorRe.FindAllStringSubmatch(html, count)
	if len(anchors) == 0 {
		return nil
	}
	snippets := ddgResultSnippetRe.FindAllStringSubmatch(html, count)

	results := make([]searchResult, 0, len(anchors))
	for i, a := range anchors {
		r := searchResult{
			URL:   unwrapDDGRedirect(a[1]),
			Title: strings.TrimSpace(anyHTMLTagRe.ReplaceAllString(a[2], "")),
		}
		if i < len(snippets) {
			r.Description = strings.TrimSpace(anyHTMLTagRe.ReplaceAllString(snippets[i][1], ""))
		}
		results = append(results, r)
	}
	return results
}

// unwrapDDGRedirect recovers the target URL from DDG's click-tracking
// wrapper ("…/l/?uddg=<escaped-url>&rut=…"). Anything unparsable is
// returned as-is.
func unwrapDDGRedirect(raw string) string {
	if !strings.Contains(raw, "uddg=") {
		return raw
	}
	unescaped, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	idx := strings.Index(unescaped, "uddg=")
	if idx < 0 {
		return raw
	}
	target := unescaped[idx+len("uddg="):]
	if amp := strings.IndexByte(target, '&'); amp >= 0 {
		target = target[:amp]
	}
	return target
}
