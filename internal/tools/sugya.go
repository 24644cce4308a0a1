package tools

import (
	"context"
	"strings"

	"github.com/mohammad-safakhou/sefaria-gateway/internal/sefaria"
)

const (
	sugyaLinkCapDefault       = 800
	sugyaLinkCapShulchanArukh = 300
	sugyaSnippetLimit         = 400
	sugyaTextDefault          = 2000
)

func sugyaExplorerTool(d *Deps) *Tool {
	return &Tool{
		Name:        "sugya_explorer",
		Description: "Build a ranked neighborhood around a passage: linked sources by category, sheets, and topics.",
		InputSchema: obj(map[string]any{
			"ref":            str("Reference or vague query (resolved via exact lookup and aliases)"),
			"includeText":    boolean("Include the bilingual passage text"),
			"maxTextChars":   num("Passage text truncation (max 8000)"),
			"maxPerCategory": num("Links kept per category (max 15)"),
			"maxSheets":      num("Sheets kept (max 20)"),
			"maxTopics":      num("Topics kept (max 20)"),
		}, "ref"),
		OutputSchema: obj(map[string]any{
			"ref":   str("Resolved seed reference"),
			"heRef": str("Hebrew reference"),
			"url":   str("Reader URL"),
			"title": str("Work title"),
			"categories": arr(obj(map[string]any{
				"category": str("Link category"),
				"items": arr(obj(map[string]any{
					"ref":   str("Linked reference"),
					"title": str("Display title"),
					"url":   str("Reader URL"),
					"heRef": str("Hebrew reference"),
					"type":  str("Link type"),
					"score": num("Ranking score"),
				}), "Top links"),
			}), "Links grouped by category"),
			"sheets":   arr(obj(map[string]any{}), "Related sheets"),
			"topics":   arr(obj(map[string]any{}), "Related topics"),
			"text":     str("Bilingual passage text when requested"),
			"metadata": obj(map[string]any{}),
		}),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			query, err := requireString(args, "ref")
			if err != nil {
				return nil, err
			}
			includeText := boolArg(args, "includeText", false)
			maxTextChars, err := intArg(args, "maxTextChars", sugyaTextDefault, 1, 8000)
			if err != nil {
				return nil, err
			}
			maxPerCategory, err := intArg(args, "maxPerCategory", 8, 1, 15)
			if err != nil {
				return nil, err
			}
			maxSheets, err := intArg(args, "maxSheets", 10, 1, 20)
			if err != nil {
				return nil, err
			}
			maxTopics, err := intArg(args, "maxTopics", 10, 1, 20)
			if err != nil {
				return nil, err
			}

			key := cacheKey("sugya_explorer", query, includeText, maxTextChars, maxPerCategory, maxSheets, maxTopics)
			return d.cached(ttlSugya, key, func() (map[string]any, error) {
				return d.exploreSugya(ctx, query, includeText, maxTextChars, maxPerCategory, maxSheets, maxTopics)
			})
		},
	}
}

func (d *Deps) exploreSugya(ctx context.Context, query string, includeText bool, maxTextChars, maxPerCategory, maxSheets, maxTopics int) (map[string]any, error) {
	seed := d.Resolver.Resolve(ctx, query)
	if seed == "" {
		seed = sefaria.CleanRef(query)
	}

	// The Shulchan Arukh related expansion is overly broad and slow, so it
	// is skipped; phrase search seeds the categories instead.
	shulchanArukh := strings.Contains(strings.ToLower(seed), "shulchan arukh")
	linkCap := sugyaLinkCapDefault
	if shulchanArukh {
		linkCap = sugyaLinkCapShulchanArukh
	}

	var related *sefaria.RelatedResponse
	if !shulchanArukh {
		var err error
		related, err = d.Client.Related(ctx, seed)
		if err != nil {
			d.logf("sugya related failed for %q: %v", seed, err)
			related = nil
		}
	}

	metadata := map[string]any{}
	out := map[string]any{
		"ref": seed,
		"url": sefaria.RefURL(seed),
	}

	// The text fetch also supplies the Hebrew ref, title, and snippets.
	texts, terr := d.Client.Texts(ctx, seed, "english", "hebrew")
	if terr != nil {
		d.logf("sugya text fetch failed for %q: %v", seed, terr)
	} else {
		english, hebrew := splitVersions(texts.Versions)
		if texts.HeRef != "" {
			out["heRef"] = texts.HeRef
		}
		if texts.Title != "" {
			out["title"] = texts.Title
		}
		if snip, _ := sefaria.Truncate(english, sugyaSnippetLimit); snip != "" {
			metadata["englishSnippet"] = snip
		}
		if snip, _ := sefaria.Truncate(hebrew, sugyaSnippetLimit); snip != "" {
			metadata["hebrewSnippet"] = snip
		}
		if includeText {
			text := english
			if hebrew != "" {
				if text != "" {
					text += bilingualSeparator
				}
				text += hebrew
			}
			var truncated bool
			text, truncated = sefaria.Truncate(text, maxTextChars)
			if truncated {
				metadata["truncated"] = true
			}
			out["text"] = text
		}
	}

	var links []sefaria.Link
	if related != nil {
		links = related.Links
		if len(links) > linkCap {
			links = links[:linkCap]
		}
	}
	metadata["totalLinkCount"] = len(links)

	categories := groupLinks(links, maxPerCategory)
	if len(categories) == 0 {
		if synthetic := d.syntheticCategory(ctx, query, maxPerCategory); synthetic != nil {
			categories = append(categories, synthetic)
		}
	}
	out["categories"] = categories

	if related != nil {
		sheets := dedupeSheets(related.Sheets, maxSheets)
		if len(sheets) > 0 {
			out["sheets"] = sheets
		}
		metadata["sheetCount"] = len(sheets)

		topics := dedupeTopics(related.Topics, maxTopics)
		if len(topics) > 0 {
			out["topics"] = topics
		}
		metadata["topicCount"] = len(topics)
	} else {
		metadata["sheetCount"] = 0
		metadata["topicCount"] = 0
	}

	out["metadata"] = metadata
	return out, nil
}

// groupLinks buckets links by category and keeps the maxPerCategory best by
// score, preserving first-seen category order.
func groupLinks(links []sefaria.Link, maxPerCategory int) []any {
	var order []string
	buckets := make(map[string][]sefaria.Link)
	for _, link := range links {
		cat := link.Category
		if cat == "" {
			continue
		}
		if _, seen := buckets[cat]; !seen {
			order = append(order, cat)
		}
		buckets[cat] = append(buckets[cat], link)
	}

	var out []any
	for _, cat := range order {
		group := buckets[cat]
		sortLinksByScore(group)
		if len(group) > maxPerCategory {
			group = group[:maxPerCategory]
		}
		items := make([]any, 0, len(group))
		for _, link := range group {
			linked := sefaria.CleanRef(link.Ref)
			if linked == "" {
				continue
			}
			title := link.SourceRef
			if title == "" {
				title = linked
			}
			item := map[string]any{
				"ref":   linked,
				"title": sefaria.StripHTML(title),
				"url":   sefaria.RefURL(linked),
				"score": link.Score(),
			}
			if link.SourceHeRef != "" {
				item["heRef"] = link.SourceHeRef
			}
			if link.Type != "" {
				item["type"] = link.Type
			}
			items = append(items, item)
		}
		out = append(out, map[string]any{"category": cat, "items": items})
	}
	return out
}

// syntheticCategory seeds a "Search Matches" bucket from phrase search when
// the link expansion produced nothing.
func (d *Deps) syntheticCategory(ctx context.Context, query string, limit int) map[string]any {
	matches, err := d.Resolver.PhraseSearch(ctx, query, limit)
	if err != nil || len(matches) == 0 {
		return nil
	}
	items := make([]any, 0, len(matches))
	for _, m := range matches {
		item := map[string]any{"ref": m.Ref, "title": m.Ref, "url": m.URL, "score": 0.0}
		if m.Text != "" {
			item["snippet"] = m.Text
		}
		items = append(items, item)
	}
	return map[string]any{"category": "Search Matches", "items": items}
}

func dedupeSheets(sheets []sefaria.RelatedSheet, max int) []any {
	var out []any
	seen := make(map[int64]struct{})
	for _, s := range sheets {
		if s.ID == 0 {
			continue
		}
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, sheetRow(s.ID, s.Title, s.Owner, s.Views, ""))
		if len(out) >= max {
			break
		}
	}
	return out
}

func dedupeTopics(topics []sefaria.RelatedTopic, max int) []any {
	var out []any
	seen := make(map[string]struct{})
	for _, t := range topics {
		if t.Slug == "" {
			continue
		}
		if _, dup := seen[t.Slug]; dup {
			continue
		}
		seen[t.Slug] = struct{}{}
		row := map[string]any{"slug": t.Slug}
		if title := t.TitleEN(); title != "" {
			row["title"] = title
		}
		out = append(out, row)
		if len(out) >= max {
			break
		}
	}
	return out
}
