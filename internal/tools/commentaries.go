package tools

import (
	"context"

	"github.com/mohammad-safakhou/sefaria-gateway/internal/sefaria"
)

func commentariesTool(d *Deps) *Tool {
	return &Tool{
		Name:        "get_commentaries",
		Description: "List works linked to a reference, one row per related link.",
		InputSchema: obj(map[string]any{
			"ref": str("Canonical reference, e.g. Genesis 1:1"),
		}, "ref"),
		OutputSchema: obj(map[string]any{
			"ref": str("Echoed reference"),
			"commentaries": arr(obj(map[string]any{
				"ref":   str("Linked reference"),
				"title": str("Source title or category"),
				"url":   str("Reader URL"),
			}), "Linked works"),
		}),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			ref, err := requireString(args, "ref")
			if err != nil {
				return nil, err
			}
			ref = sefaria.CleanRef(ref)

			key := cacheKey("get_commentaries", ref)
			return d.cached(ttlDefault, key, func() (map[string]any, error) {
				related, err := d.Client.Related(ctx, ref)
				if err != nil {
					return nil, err
				}
				items := make([]any, 0, len(related.Links))
				for _, link := range related.Links {
					linked := sefaria.CleanRef(link.Ref)
					if linked == "" {
						continue
					}
					title := link.SourceRef
					if title == "" {
						title = link.Category
					}
					items = append(items, map[string]any{
						"ref":   linked,
						"title": sefaria.StripHTML(title),
						"url":   sefaria.RefURL(linked),
					})
				}
				return map[string]any{
					"ref":          ref,
					"commentaries": items,
					"metadata":     map[string]any{"count": len(items)},
				}, nil
			})
		},
	}
}

func compareVersionsTool(d *Deps) *Tool {
	return &Tool{
		Name:        "compare_versions",
		Description: "Fetch several versions of one reference side by side.",
		InputSchema: obj(map[string]any{
			"ref":       str("Canonical reference"),
			"versions":  arr(str("Version title"), "Specific version titles to load"),
			"languages": arr(str("en or he"), "Languages to load when versions are not named"),
			"maxChars":  num("Per-item text truncation"),
		}, "ref"),
		OutputSchema: obj(map[string]any{
			"ref": str("Echoed reference"),
			"items": arr(obj(map[string]any{
				"language":     str("Version language"),
				"versionTitle": str("Version title"),
				"text":         str("Flattened text"),
			}), "One entry per returned version"),
			"metadata": obj(map[string]any{}),
		}),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			ref, err := requireString(args, "ref")
			if err != nil {
				return nil, err
			}
			ref = sefaria.CleanRef(ref)
			maxChars, err := intArg(args, "maxChars", 0, 1, 1_000_000)
			if err != nil {
				return nil, err
			}
			versions := stringSliceArg(args, "versions")
			languages := stringSliceArg(args, "languages")

			key := cacheKey("compare_versions", ref, versions, languages, maxChars)
			return d.cached(ttlText, key, func() (map[string]any, error) {
				selectors := versionSelectors(versions, languages)
				resp, err := d.Client.Texts(ctx, ref, selectors...)
				if err != nil {
					return nil, err
				}

				anyTruncated := false
				items := make([]any, 0, len(resp.Versions))
				for _, v := range resp.Versions {
					text := sefaria.FlattenText(v.Text)
					if maxChars > 0 {
						var cut bool
						text, cut = sefaria.Truncate(text, maxChars)
						anyTruncated = anyTruncated || cut
					}
					items = append(items, map[string]any{
						"language":     versionLanguage(v),
						"versionTitle": v.VersionTitle,
						"text":         text,
					})
				}

				metadata := map[string]any{"count": len(items)}
				if resp.HeRef != "" {
					metadata["heRef"] = resp.HeRef
				}
				if anyTruncated {
					metadata["truncated"] = true
				}
				canonical := resp.Ref
				if canonical == "" {
					canonical = ref
				}
				return map[string]any{
					"ref":      canonical,
					"url":      sefaria.RefURL(canonical),
					"items":    items,
					"metadata": metadata,
				}, nil
			})
		},
	}
}

// versionSelectors builds the multi-version query: named versions win,
// languages map to the upstream selectors, and both languages are the
// default.
func versionSelectors(versions, languages []string) []string {
	if len(versions) > 0 {
		return versions
	}
	if len(languages) == 0 {
		return []string{"english", "hebrew"}
	}
	var out []string
	for _, lang := range languages {
		switch lang {
		case "en", "english":
			out = append(out, "english")
		case "he", "hebrew":
			out = append(out, "hebrew")
		default:
			out = append(out, lang)
		}
	}
	return out
}

func findRefsTool(d *Deps) *Tool {
	return &Tool{
		Name:        "find_refs",
		Description: "Detect citations inside free text and resolve them to canonical references.",
		InputSchema: obj(map[string]any{
			"text":        str("Free text to scan"),
			"lang":        str("Text language hint"),
			"return_text": boolean("Include the matched snippet per row"),
		}, "text"),
		OutputSchema: obj(map[string]any{
			"matches": arr(obj(map[string]any{
				"ref":   str("Canonical reference"),
				"url":   str("Reader URL"),
				"heRef": str("Hebrew reference"),
				"text":  str("Matched snippet"),
				"start": num("Start offset"),
				"end":   num("End offset"),
			}), "Detected citations"),
			"metadata": obj(map[string]any{}),
		}),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			text, err := requireString(args, "text")
			if err != nil {
				return nil, err
			}
			lang := stringArg(args, "lang")
			returnText := boolArg(args, "return_text", true)

			key := cacheKey("find_refs", text, lang, returnText)
			return d.cached(ttlDefault, key, func() (map[string]any, error) {
				metadata := map[string]any{}

				var matches []sefaria.RefMatch
				raw, err := d.Client.FindRefs(ctx, text, lang)
				if err != nil {
					metadata["findRefsError"] = err.Error()
					d.logf("find-refs upstream failed: %v", err)
				} else {
					matches = sefaria.ExtractRefMatches(raw)
				}

				if len(matches) == 0 {
					fallback, ferr := d.Resolver.PhraseSearch(ctx, text, phraseFallbackLimit)
					if ferr == nil && len(fallback) > 0 {
						matches = fallback
						metadata["fallbackUsed"] = "search"
					}
				}

				rows := make([]any, 0, len(matches))
				for _, m := range matches {
					row := map[string]any{"ref": m.Ref, "url": m.URL}
					if m.HeRef != "" {
						row["heRef"] = m.HeRef
					}
					if returnText && m.Text != "" {
						row["text"] = m.Text
					}
					if m.End > 0 {
						row["start"] = m.Start
						row["end"] = m.End
					}
					rows = append(rows, row)
				}
				metadata["count"] = len(rows)
				return map[string]any{"matches": rows, "metadata": metadata}, nil
			})
		},
	}
}

const phraseFallbackLimit = 8
