package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"

	"laneassist/internal/config"
	"laneassist/internal/service/ai"
)

const (
	DefaultSearchResults = 3
	MaxSearchResults     = 5
	WebSearchHTTPTimeout = 10 * time.Second
	maxPageText          = 4000
)

type SearchParams struct {
	Query      string `json:"query" jsonschema:"description=Search query or an http(s) URL to read"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Number of results to return. Default 3 and at most 5"`
}

type webSearchTool struct {
	google     tool.InvokableTool
	duck       tool.InvokableTool
	httpClient *http.Client
	limiter    *userLimiter
	results    int // used when the model does not ask for a count
}

// NewSearchTool builds low_similarity, the web search used when the knowledge
// base has nothing relevant. Google is preferred when configured; DuckDuckGo is
// the fallback.
func NewSearchTool(ctx context.Context, cfg config.SearchConfig) (tool.InvokableTool, error) {
	var google tool.InvokableTool
	if g, err := initGoogleSearch(ctx, cfg); err != nil {
		slog.Warn("google search disabled", "error", err)
	} else {
		google = g
	}
	var duck tool.InvokableTool
	ddg, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool",
		MaxResults: MaxSearchResults,
		Region:     duckduckgo.RegionWT,
		Timeout:    WebSearchHTTPTimeout,
	})
	if err != nil {
		slog.Warn("duckduckgo search disabled", "error", err)
	} else {
		duck = ddg
	}
	if google == nil && duck == nil {
		return nil, errors.New("no search providers available")
	}
	return newSearchTool(google, duck, cfg.RateLimit, cfg.MaxResults)
}

func newSearchTool(google, duck tool.InvokableTool, perMinute, results int) (tool.InvokableTool, error) {
	if results <= 0 {
		results = DefaultSearchResults
	}
	ws := &webSearchTool{
		google:     google,
		duck:       duck,
		httpClient: &http.Client{Timeout: WebSearchHTTPTimeout},
		limiter:    newUserLimiter(perMinute),
		results:    min(results, MaxSearchResults),
	}
	return utils.InferTool(string(ai.ToolLowSimilarity),
		"Search the web when the knowledge base and catalog context do not cover the question. "+
			"Only for vehicle and auto parts topics. Accepts a URL to read a page.",
		ws.run)
}

func initGoogleSearch(ctx context.Context, cfg config.SearchConfig) (tool.InvokableTool, error) {
	if cfg.GoogleAPIKey == "" || cfg.GoogleEngineID == "" {
		return nil, errors.New("missing google api key or search engine id")
	}
	return googlesearch.NewTool(ctx, &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         cfg.GoogleAPIKey,
		SearchEngineID: cfg.GoogleEngineID,
		Lang:           "en",
		Num:            MaxSearchResults,
	})
}

func (w *webSearchTool) run(ctx context.Context, params *SearchParams) (string, error) {
	if params == nil {
		return "", errors.New("missing search parameters")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}
	limit := params.MaxResults
	if limit <= 0 {
		limit = w.results
	}
	if limit > MaxSearchResults {
		limit = MaxSearchResults
	}

	key := "anonymous"
	if userID, _, ok := RequestFromContext(ctx); ok {
		key = userID
	}
	if !w.limiter.Allow(key) {
		return "", errors.New("web search rate limit exceeded, please retry in a minute")
	}

	if looksLikeURL(query) {
		content, err := w.fetchURL(ctx, query)
		if err == nil {
			return content, nil
		}
		slog.Warn("web url loader failed", "url", query, "error", err)
	}

	payloadBytes, err := json.Marshal(map[string]any{"query": query, "num": limit})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	payload := string(payloadBytes)

	for _, provider := range []struct {
		name string
		tool tool.InvokableTool
	}{{"google", w.google}, {"duckduckgo", w.duck}} {
		if provider.tool == nil {
			continue
		}
		result, err := provider.tool.InvokableRun(ctx, payload)
		if err != nil {
			slog.Warn("search provider failed", "provider", provider.name, "error", err)
			continue
		}
		return limitResults(result, limit), nil
	}
	return "", errors.New("no search provider succeeded")
}

// limitResults truncates every top-level JSON array in result to limit entries.
// Non-JSON output is returned unchanged.
func limitResults(result string, limit int) string {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(result), &doc); err != nil {
		return result
	}
	changed := false
	for k, raw := range doc {
		var arr []json.RawMessage
		if json.Unmarshal(raw, &arr) != nil || len(arr) <= limit {
			continue
		}
		trimmed, err := json.Marshal(arr[:limit])
		if err != nil {
			continue
		}
		doc[k] = trimmed
		changed = true
	}
	if !changed {
		return result
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return result
	}
	return string(out)
}

func (w *webSearchTool) fetchURL(ctx context.Context, target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "LaneAssist-WebSearch/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch url: %s", resp.Status)
	}

	const maxBodySize = 512 * 1024
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	doc.Find("script, style, noscript, nav, footer").Remove()
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if text == "" {
		return "", errors.New("page has no readable text")
	}
	if runes := []rune(text); len(runes) > maxPageText {
		text = string(runes[:maxPageText])
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title != "" {
		return title + "\n\n" + text, nil
	}
	return text, nil
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
