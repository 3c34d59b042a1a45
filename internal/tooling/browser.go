package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"github.com/surveyor-ai/surveyor/config"
)

const browserURLSchema = `{
  "type": "object",
  "properties": {
    "url": {"type": "string", "description": "Absolute URL to fetch and extract."}
  },
  "required": ["url"]
}`

const browserSearchSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Web search query."}
  },
  "required": ["query"]
}`

// PageFetcher renders a URL and extracts readable text.
type PageFetcher struct {
	Timeout  time.Duration
	MaxChars int
}

func NewPageFetcher(cfg config.BrowserConfig) *PageFetcher {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = 20000
	}
	return &PageFetcher{Timeout: timeout, MaxChars: maxChars}
}

// Fetch renders the page headless and runs readability extraction.
func (f *PageFetcher) Fetch(ctx context.Context, target string) (title, text string, err error) {
	if strings.TrimSpace(target) == "" {
		return "", "", fmt.Errorf("invalid url")
	}
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err = chromedp.Run(bctx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", "", fmt.Errorf("render %s: %w", target, err)
	}
	parsed, perr := url.Parse(target)
	if perr != nil {
		parsed = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return "", "", fmt.Errorf("extract %s: %w", target, err)
	}
	text = strings.TrimSpace(article.TextContent)
	if len(text) > f.MaxChars {
		text = text[:f.MaxChars]
	}
	return strings.TrimSpace(article.Title), text, nil
}

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearcher discovers pages for a query.
type WebSearcher interface {
	Discover(ctx context.Context, q string, k int) ([]SearchResult, error)
}

// NewWebSearcher selects the configured search provider.
func NewWebSearcher(cfg config.WebSearchConfig) (WebSearcher, error) {
	switch cfg.Provider {
	case "brave":
		return braveSearch{apiKey: cfg.APIKey}, nil
	case "serper", "":
		return serperSearch{apiKey: cfg.APIKey}, nil
	default:
		return nil, fmt.Errorf("unsupported search provider %q", cfg.Provider)
	}
}

type braveSearch struct {
	apiKey string
}

func (s braveSearch) Discover(ctx context.Context, q string, k int) ([]SearchResult, error) {
	endpoint := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d", url.QueryEscape(q), k)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.apiKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var raw struct {
		Web struct {
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	var out []SearchResult
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		out = append(out, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Snippet})
	}
	return out, nil
}

type serperSearch struct {
	apiKey string
}

func (s serperSearch) Discover(ctx context.Context, q string, k int) ([]SearchResult, error) {
	payload, _ := json.Marshal(map[string]interface{}{"q": q, "num": k})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, "https://google.serper.dev/search", strings.NewReader(string(payload)))
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	var out []SearchResult
	for i, r := range raw.Organic {
		if i >= k {
			break
		}
		out = append(out, SearchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return out, nil
}

// NewBrowserURLTool fetches a single URL and returns readable text.
func NewBrowserURLTool(fetcher *PageFetcher) Tool {
	return Tool{
		Name:        "browser_url",
		Description: "Fetch a web page and return its readable text content.",
		Schema:      json.RawMessage(browserURLSchema),
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				URL string `json:"url"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			title, text, err := fetcher.Fetch(ctx, in.URL)
			if err != nil {
				return "", err
			}
			if title != "" {
				return "# " + title + "\n\n" + text, nil
			}
			return text, nil
		},
	}
}

// NewBrowserSearchTool runs a web search and returns titled snippets.
func NewBrowserSearchTool(searcher WebSearcher, maxItems int) Tool {
	if maxItems <= 0 {
		maxItems = 10
	}
	return Tool{
		Name:        "browser",
		Description: "Search the web and return result titles, URLs and snippets.",
		Schema:      json.RawMessage(browserSearchSchema),
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			results, err := searcher.Discover(ctx, in.Query, maxItems)
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				return "No results found.", nil
			}
			var b strings.Builder
			for i, r := range results {
				fmt.Fprintf(&b, "%d. %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Snippet)
			}
			return strings.TrimSpace(b.String()), nil
		},
	}
}
