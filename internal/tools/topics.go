package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/sefaria-gateway/internal/sefaria"
)

func topicsSearchTool(d *Deps) *Tool {
	return &Tool{
		Name:        "topics_search",
		Description: "Find the strongest textual matches for a topic phrase.",
		InputSchema: obj(map[string]any{
			"topic": str("Topic phrase"),
		}, "topic"),
		OutputSchema: obj(map[string]any{
			"results": arr(obj(map[string]any{
				"ref":     str("Canonical reference"),
				"title":   str("Display title"),
				"url":     str("Reader URL"),
				"snippet": str("Highlighted snippet"),
			}), "Top matches"),
		}),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			topic, err := requireString(args, "topic")
			if err != nil {
				return nil, err
			}

			key := cacheKey("topics_search", topic)
			return d.cached(ttlDefault, key, func() (map[string]any, error) {
				body := map[string]any{
					"size": 8,
					"query": map[string]any{
						"bool": map[string]any{
							"should": []any{
								matchPhrase("naive_lemmatizer", topic, 8),
								matchPhrase("exact", topic, 0),
							},
						},
					},
					"highlight": map[string]any{
						"fields": map[string]any{"naive_lemmatizer": map[string]any{}},
					},
				}
				resp, err := d.Client.SearchText(ctx, body)
				if err != nil {
					return nil, err
				}
				var rows []any
				seen := make(map[string]struct{})
				for _, hit := range resp.Hits.Hits {
					ref := sefaria.CleanRef(hit.Source.Ref)
					if ref == "" {
						continue
					}
					if _, dup := seen[ref]; dup {
						continue
					}
					seen[ref] = struct{}{}
					row := map[string]any{"ref": ref, "title": ref, "url": sefaria.RefURL(ref)}
					if hl := hit.Highlight["naive_lemmatizer"]; len(hl) > 0 {
						row["snippet"] = sefaria.StripHTML(hl[0])
					}
					rows = append(rows, row)
					if len(rows) >= 8 {
						break
					}
				}
				return map[string]any{"results": rows}, nil
			})
		},
	}
}

func topicSheetCuratorTool(d *Deps) *Tool {
	return &Tool{
		Name:        "topic_sheet_curator",
		Description: "Collect community sheets for a topic, falling back to search-driven expansion.",
		InputSchema: obj(map[string]any{
			"topic":     str("Topic name or slug"),
			"maxSheets": num("Sheets to collect (max 15)"),
		}, "topic"),
		OutputSchema: obj(map[string]any{
			"topic": str("Echoed topic"),
			"slug":  str("Resolved topic slug"),
			"sheets": arr(obj(map[string]any{
				"id":    num("Sheet id"),
				"title": str("Sheet title"),
				"url":   str("Sheet URL"),
			}), "Curated sheets"),
			"metadata": obj(map[string]any{}),
		}),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			topic, err := requireString(args, "topic")
			if err != nil {
				return nil, err
			}
			maxSheets, err := intArg(args, "maxSheets", 8, 1, 15)
			if err != nil {
				return nil, err
			}

			key := cacheKey("topic_sheet_curator", topic, maxSheets)
			return d.cached(ttlDefault, key, func() (map[string]any, error) {
				return d.curateSheets(ctx, topic, maxSheets)
			})
		},
	}
}

func (d *Deps) curateSheets(ctx context.Context, topic string, maxSheets int) (map[string]any, error) {
	metadata := map[string]any{}
	seen := make(map[int64]struct{})
	var sheets []any

	slug, page := d.lookupTopic(ctx, topic)
	if page != nil {
		metadata["slug"] = slug
		for _, ref := range page.Refs {
			if !ref.IsSheet {
				continue
			}
			id, ok := sheetID(ref.Ref)
			if !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			sheet, err := d.Client.Sheet(ctx, id)
			if err != nil {
				d.logf("sheet %d load failed: %v", id, err)
				continue
			}
			sheets = append(sheets, sheetRow(sheet.ID, sheet.Title, sheet.Owner, sheet.Views, sheet.Summary))
			if len(sheets) >= maxSheets {
				break
			}
		}
	}

	// Too few harvested sheets: expand via phrase search over related
	// sheet listings until the quota is met.
	threshold := maxSheets / 2
	if threshold < 3 {
		threshold = 3
	}
	if len(sheets) < threshold {
		metadata["fallbackUsed"] = true
		matches, err := d.Resolver.PhraseSearch(ctx, topic, phraseFallbackLimit)
		if err != nil {
			d.logf("sheet curator fallback search failed: %v", err)
		}
		for _, m := range matches {
			if len(sheets) >= maxSheets {
				break
			}
			related, err := d.Client.Related(ctx, m.Ref)
			if err != nil {
				continue
			}
			for _, s := range related.Sheets {
				if s.ID == 0 {
					continue
				}
				if _, dup := seen[s.ID]; dup {
					continue
				}
				seen[s.ID] = struct{}{}
				sheets = append(sheets, sheetRow(s.ID, s.Title, s.Owner, s.Views, ""))
				if len(sheets) >= maxSheets {
					break
				}
			}
		}
	}

	metadata["count"] = len(sheets)
	out := map[string]any{
		"topic":    topic,
		"sheets":   sheets,
		"metadata": metadata,
	}
	if slug != "" {
		out["slug"] = slug
	}
	return out, nil
}

// lookupTopic tries the slug candidates in order: as given, lowercased,
// hyphenated, underscored.
func (d *Deps) lookupTopic(ctx context.Context, topic string) (string, *sefaria.TopicResponse) {
	lowered := strings.ToLower(topic)
	candidates := []string{
		topic,
		lowered,
		strings.ReplaceAll(lowered, " ", "-"),
		strings.ReplaceAll(lowered, " ", "_"),
	}
	tried := make(map[string]struct{})
	for _, slug := range candidates {
		if _, dup := tried[slug]; dup {
			continue
		}
		tried[slug] = struct{}{}
		page, err := d.Client.Topic(ctx, slug)
		if err != nil {
			continue
		}
		if page.Slug != "" || len(page.Refs) > 0 {
			if page.Slug != "" {
				slug = page.Slug
			}
			return slug, page
		}
	}
	return "", nil
}

// sheetID parses refs of the form "Sheet 12345".
func sheetID(ref string) (int64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(ref), "Sheet ")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func sheetRow(id int64, title, owner string, views int64, summary string) map[string]any {
	row := map[string]any{
		"id":    id,
		"title": sefaria.StripHTML(title),
		"url":   fmt.Sprintf("%ssheets/%d", sefaria.SiteBaseURL, id),
	}
	if owner != "" {
		row["owner"] = owner
	}
	if views > 0 {
		row["views"] = views
	}
	if s := sefaria.StripHTML(summary); s != "" {
		row["summary"] = s
	}
	return row
}
