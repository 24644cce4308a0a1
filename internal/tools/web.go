package tools

import (
	"context"
	"log"

	"github.com/mohammad-safakhou/sefaria-gateway/internal/webfetch"
	"github.com/mohammad-safakhou/sefaria-gateway/internal/websearch"
)

// WebDeps carries the collaborators of the web research tool pair.
type WebDeps struct {
	Searcher   *websearch.Multiplexer
	Fetcher    *webfetch.Fetcher
	MaxResults int
	Logger     *log.Logger
}

// NewWebRegistry wires the generic web research tools: provider-backed
// search and the safe fetcher.
func NewWebRegistry(d *WebDeps) *Registry {
	r := NewRegistry()
	r.Register(webSearchTool(d))
	r.Register(webFetchTool(d))
	return r
}

func webSearchTool(d *WebDeps) *Tool {
	return &Tool{
		Name:        "search",
		Description: "Search the web via the configured providers and return result URLs.",
		InputSchema: obj(map[string]any{
			"query":      str("Search query"),
			"maxResults": num("Maximum results (1-25)"),
		}, "query"),
		OutputSchema: obj(map[string]any{
			"results": arr(obj(map[string]any{
				"id":    str("Result URL, usable as a fetch id"),
				"title": str("Result title"),
				"url":   str("Result URL"),
			}), "Merged provider results"),
		}),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			query, err := requireString(args, "query")
			if err != nil {
				return nil, err
			}
			maxDefault := d.MaxResults
			if maxDefault <= 0 {
				maxDefault = 8
			}
			maxResults, err := intArg(args, "maxResults", maxDefault, 1, 25)
			if err != nil {
				return nil, err
			}
			results := d.Searcher.Search(ctx, query, maxResults)
			rows := make([]any, 0, len(results))
			for _, r := range results {
				title := r.Title
				if title == "" {
					title = r.URL
				}
				rows = append(rows, map[string]any{"id": r.URL, "title": title, "url": r.URL})
			}
			return map[string]any{"results": rows}, nil
		},
	}
}

func webFetchTool(d *WebDeps) *Tool {
	return &Tool{
		Name:        "fetch",
		Description: "Fetch a URL safely and extract its readable content.",
		InputSchema: obj(map[string]any{
			"id":       str("Absolute http(s) URL"),
			"maxChars": num("Truncate extracted text to this many characters"),
		}, "id"),
		OutputSchema: obj(map[string]any{
			"id":       str("Echoed URL"),
			"title":    str("Extracted title"),
			"text":     str("Extracted text"),
			"url":      str("Final URL after redirects"),
			"metadata": obj(map[string]any{}),
		}),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			id, err := requireString(args, "id")
			if err != nil {
				return nil, err
			}
			maxChars, err := intArg(args, "maxChars", 0, 1, 1_000_000)
			if err != nil {
				return nil, err
			}
			return d.Fetcher.Fetch(ctx, id, maxChars)
		},
	}
}
