package websearch

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var ErrNotConfigured = errors.New("web search is not enabled")

// Searcher answers a free-text query with a plain-text digest of results.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

var (
	resultRe  = regexp.MustCompile(`<a[^>]*class="result__a"[^>]*href="([^"]+)"[^>]*>(.*?)</a>`)
	snippetRe = regexp.MustCompile(`<a[^>]*class="result__snippet"[^>]*>(.*?)</a>`)
	tagRe     = regexp.MustCompile(`<[^>]+>`)
)

// DuckDuckGo scrapes the DuckDuckGo HTML endpoint.
type DuckDuckGo struct {
	Endpoint   string
	Client     *http.Client
	MaxResults int
}

func NewDuckDuckGo() *DuckDuckGo {
	return &DuckDuckGo{
		Endpoint:   "https://html.duckduckgo.com/html/",
		Client:     &http.Client{Timeout: 30 * time.Second},
		MaxResults: 5,
	}
}

func (d *DuckDuckGo) Results(ctx context.Context, query string) ([]Result, error) {
	u := d.Endpoint + "?q=" + url.QueryEscape(query)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", "Mozilla/5.0 (compatible; nudge/1.0)")

	resp, err := d.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}
	return parseResults(string(body), d.MaxResults), nil
}

func (d *DuckDuckGo) Search(ctx context.Context, query string) (string, error) {
	results, err := d.Results(ctx, query)
	if err != nil {
		return "", err
	}
	return Format(query, results), nil
}

func clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagRe.ReplaceAllString(s, "")))
}

// resolveLink unwraps DuckDuckGo redirect links (//duckduckgo.com/l/?uddg=...).
func resolveLink(href string) string {
	href = html.UnescapeString(href)
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func parseResults(body string, limit int) []Result {
	links := resultRe.FindAllStringSubmatch(body, -1)
	snippets := snippetRe.FindAllStringSubmatch(body, -1)

	var results []Result
	for i, m := range links {
		r := Result{URL: resolveLink(m[1]), Title: clean(m[2])}
		if i < len(snippets) {
			r.Snippet = clean(snippets[i][1])
		}
		results = append(results, r)
		if limit > 0 && len(results) == limit {
			break
		}
	}
	return results
}

// Format renders results the way they are handed to the model.
func Format(query string, results []Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Top results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s (%s)", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			b.WriteString("\n   " + r.Snippet)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Disabled is the Searcher used when web search is turned off.
type Disabled struct{}

func (Disabled) Search(context.Context, string) (string, error) {
	return "", ErrNotConfigured
}
