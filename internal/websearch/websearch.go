// Package websearch scrapes an HTML search results page for documentation links.
// It backs the retrieval step when the local knowledge base has too little context.
package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mwiater/codeforge/internal/appconfig"
	"github.com/mwiater/codeforge/internal/logging"
	"golang.org/x/net/html"
)

const userAgent = "Mozilla/5.0 (compatible; codeforge)"

// Result is one search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Client queries a DuckDuckGo-style HTML endpoint.
type Client struct {
	endpoint   string
	sites      []string
	maxResults int
	http       *http.Client
}

func New(cfg appconfig.WebSearchConfig, timeout time.Duration) *Client {
	limit := cfg.MaxResults
	if limit <= 0 {
		limit = 3
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		sites:      cfg.Sites,
		maxResults: limit,
		http:       &http.Client{Timeout: timeout},
	}
}

// Search returns up to the configured number of results, restricted to the
// configured sites when any are set.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("web search query is empty")
	}
	q := url.Values{}
	q.Set("q", c.scopedQuery(query))
	endpoint := c.endpoint
	if strings.Contains(endpoint, "?") {
		endpoint += "&" + q.Encode()
	} else {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	logging.LogRequest("FORGE->WEB", req.URL.Host, "", "search", query)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("web search returned %s", resp.Status)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}
	results := c.filter(extract(doc))
	logging.LogRequest("WEB->FORGE", req.URL.Host, "", "search", fmt.Sprintf("results=%d", len(results)))
	return results, nil
}

func (c *Client) scopedQuery(query string) string {
	if len(c.sites) == 0 {
		return query
	}
	scopes := make([]string, 0, len(c.sites))
	for _, s := range c.sites {
		scopes = append(scopes, "site:"+s)
	}
	return strings.Join(scopes, " OR ") + " " + query
}

func (c *Client) filter(all []Result) []Result {
	out := make([]Result, 0, c.maxResults)
	for _, r := range all {
		if len(out) == c.maxResults {
			break
		}
		if r.URL == "" || !c.allowed(r.URL) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (c *Client) allowed(raw string) bool {
	if len(c.sites) == 0 {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, s := range c.sites {
		s = strings.ToLower(strings.TrimSpace(s))
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}

// extract walks the result page: each result__a anchor opens a result and the
// next result__snippet element fills its snippet.
func extract(doc *html.Node) []Result {
	var results []Result
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a"):
				results = append(results, Result{
					Title: collapse(textOf(n)),
					URL:   resolveLink(attr(n, "href")),
				})
				return
			case hasClass(n, "result__snippet"):
				if len(results) > 0 {
					results[len(results)-1].Snippet = collapse(textOf(n))
				}
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return results
}

// resolveLink unwraps redirect links of the form //duckduckgo.com/l/?uddg=<target>.
func resolveLink(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FormatResults renders results as prompt context, one "From <url>: <snippet>" line each.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return ""
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		text := r.Snippet
		if text == "" {
			text = r.Title
		}
		lines = append(lines, fmt.Sprintf("From %s: %s", r.URL, text))
	}
	return "Additional context from web:\n" + strings.Join(lines, "\n")
}
