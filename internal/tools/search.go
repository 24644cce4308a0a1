package tools

import (
	"context"

	"github.com/mohammad-safakhou/sefaria-gateway/internal/sefaria"
)

const searchDefaultSize = 10

func searchTool(d *Deps) *Tool {
	return &Tool{
		Name:        "search",
		Description: "Search the library for passages matching a query and return stable document ids.",
		InputSchema: obj(map[string]any{
			"query": str("Search phrase, reference, or Hebrew text"),
			"size":  num("Maximum number of results (1-25)"),
			"lang":  str("Preferred language hint (en or he)"),
		}, "query"),
		OutputSchema: obj(map[string]any{
			"results": arr(obj(map[string]any{
				"id":    str("Opaque document id, ref|lang|version"),
				"title": str("Display title"),
				"url":   str("Reader URL"),
			}), "Ranked results"),
		}),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			query, err := requireString(args, "query")
			if err != nil {
				return nil, err
			}
			size, err := intArg(args, "size", searchDefaultSize, 1, 25)
			if err != nil {
				return nil, err
			}
			lang := stringArg(args, "lang")

			key := cacheKey("search", query, size, lang)
			return d.cached(ttlDefault, key, func() (map[string]any, error) {
				return d.runSearch(ctx, query, size)
			})
		},
	}
}

type searchRow struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

func (d *Deps) runSearch(ctx context.Context, query string, size int) (map[string]any, error) {
	// Exact-ref fast path: a query that already names a passage resolves
	// without touching the search index.
	if ref := d.Resolver.ResolveExact(ctx, query); ref != "" {
		return searchResults([]searchRow{refRow(ref)}), nil
	}

	hebrew := sefaria.HasHebrew(query)

	rows := d.searchPass(ctx, query, size, matchPhrase("naive_lemmatizer", query, 10))
	if len(rows) == 0 && hebrew {
		rows = d.searchPass(ctx, query, size, matchPhrase("exact", query, 0))
	}
	if len(rows) == 0 && !hebrew {
		rows = d.searchPass(ctx, query, size, map[string]any{
			"bool": map[string]any{
				"should": []any{
					matchPhrase("naive_lemmatizer", query, 10),
					matchPhrase("exact", query, 0),
				},
			},
		})
	}
	if len(rows) == 0 {
		if ref := sefaria.ResolveAlias(query); ref != "" {
			rows = []searchRow{refRow(ref)}
		}
	}
	if len(rows) == 0 {
		rows = d.findRefsRows(ctx, query, size)
	}
	if len(rows) > size {
		rows = rows[:size]
	}
	return searchResults(rows), nil
}

func (d *Deps) searchPass(ctx context.Context, query string, size int, q map[string]any) []searchRow {
	body := map[string]any{
		"size":  size,
		"query": q,
		"sort":  []any{"comp_date", "order"},
	}
	resp, err := d.Client.SearchText(ctx, body)
	if err != nil {
		d.logf("search pass failed for %q: %v", query, err)
		return nil
	}
	var rows []searchRow
	seen := make(map[string]struct{})
	for _, hit := range resp.Hits.Hits {
		ref := sefaria.CleanRef(hit.Source.Ref)
		if ref == "" {
			continue
		}
		id := ref
		if hit.Source.Lang != "" || hit.Source.Version != "" {
			id = ref + "|" + hit.Source.Lang + "|" + hit.Source.Version
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		title := ref
		if hit.Source.HeRef != "" {
			title = ref + " · " + hit.Source.HeRef
		}
		rows = append(rows, searchRow{ID: id, Title: title, URL: sefaria.RefURL(ref)})
	}
	return rows
}

func (d *Deps) findRefsRows(ctx context.Context, query string, size int) []searchRow {
	raw, err := d.Client.FindRefs(ctx, query, "")
	if err != nil {
		d.logf("find-refs fallback failed for %q: %v", query, err)
		return nil
	}
	var rows []searchRow
	for _, m := range sefaria.ExtractRefMatches(raw) {
		rows = append(rows, refRow(m.Ref))
		if len(rows) >= size {
			break
		}
	}
	return rows
}

func refRow(ref string) searchRow {
	return searchRow{ID: ref, Title: ref, URL: sefaria.RefURL(ref)}
}

func matchPhrase(field, query string, slop int) map[string]any {
	inner := map[string]any{"query": query}
	if slop > 0 {
		inner["slop"] = slop
	}
	return map[string]any{"match_phrase": map[string]any{field: inner}}
}

func searchResults(rows []searchRow) map[string]any {
	items := make([]any, 0, len(rows))
	for _, r := range rows {
		items = append(items, map[string]any{"id": r.ID, "title": r.Title, "url": r.URL})
	}
	return map[string]any{"results": items}
}
