package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/sefaria-gateway/internal/sefaria"
)

// bilingualSeparator divides English from Hebrew in composed documents.
const bilingualSeparator = "\n\n— — —\n\n"

func fetchTool(d *Deps) *Tool {
	return &Tool{
		Name:        "fetch",
		Description: "Fetch the full text for a document id produced by search, or a sheet:<id>.",
		InputSchema: obj(map[string]any{
			"id":       str("Document id (ref|lang|version) or sheet:<numericId>"),
			"langPref": str("en, he, or bi (default en)"),
			"maxChars": num("Truncate the composed text to this many characters"),
		}, "id"),
		OutputSchema: obj(map[string]any{
			"id":       str("Echoed document id"),
			"title":    str("Document title"),
			"text":     str("Composed text per langPref"),
			"url":      str("Reader URL"),
			"metadata": obj(map[string]any{}),
		}),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			id, err := requireString(args, "id")
			if err != nil {
				return nil, err
			}
			langPref := stringArg(args, "langPref")
			if langPref == "" {
				langPref = "en"
			}
			switch langPref {
			case "en", "he", "bi":
			default:
				return nil, fmt.Errorf("langPref must be en, he, or bi")
			}
			maxChars, err := intArg(args, "maxChars", 0, 1, 1_000_000)
			if err != nil {
				return nil, err
			}

			key := cacheKey("fetch", id, langPref, maxChars)
			return d.cached(ttlText, key, func() (map[string]any, error) {
				if strings.HasPrefix(id, "sheet:") {
					return d.fetchSheet(ctx, id, maxChars)
				}
				return d.fetchText(ctx, id, langPref, maxChars)
			})
		},
	}
}

func (d *Deps) fetchText(ctx context.Context, id, langPref string, maxChars int) (map[string]any, error) {
	ref := sefaria.CleanRef(strings.SplitN(id, "|", 2)[0])
	if ref == "" {
		return nil, fmt.Errorf("empty ref in id %q", id)
	}
	resp, err := d.Client.Texts(ctx, ref, "english", "hebrew")
	if err != nil {
		return nil, err
	}

	english, hebrew := splitVersions(resp.Versions)
	var text string
	switch langPref {
	case "en":
		text = english
	case "he":
		text = hebrew
	case "bi":
		switch {
		case english != "" && hebrew != "":
			text = english + bilingualSeparator + hebrew
		case english != "":
			text = english
		default:
			text = hebrew
		}
	}

	metadata := map[string]any{
		"langPref":  langPref,
		"fetchedAt": time.Now().UTC().Format(time.RFC3339),
	}
	if resp.HeRef != "" {
		metadata["heRef"] = resp.HeRef
	}
	if len(resp.Categories) > 0 {
		metadata["categories"] = resp.Categories
	}
	var versions []any
	for _, v := range resp.Versions {
		versions = append(versions, map[string]any{
			"language":     versionLanguage(v),
			"versionTitle": v.VersionTitle,
		})
	}
	if versions != nil {
		metadata["versions"] = versions
	}
	if maxChars > 0 {
		var truncated bool
		text, truncated = sefaria.Truncate(text, maxChars)
		if truncated {
			metadata["truncated"] = true
		}
	}

	canonical := resp.Ref
	if canonical == "" {
		canonical = ref
	}
	title := resp.Title
	if title == "" {
		title = canonical
	}
	return map[string]any{
		"id":       id,
		"title":    title,
		"text":     text,
		"url":      sefaria.RefURL(canonical),
		"metadata": metadata,
	}, nil
}

func (d *Deps) fetchSheet(ctx context.Context, id string, maxChars int) (map[string]any, error) {
	numeric, err := strconv.ParseInt(strings.TrimPrefix(id, "sheet:"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid sheet id %q", id)
	}
	sheet, err := d.Client.Sheet(ctx, numeric)
	if err != nil {
		return nil, err
	}

	var parts []string
	for _, src := range sheet.Sources {
		var block []string
		if src.Ref != "" {
			block = append(block, src.Ref)
		}
		if t := sefaria.StripHTML(src.Text.En); t != "" {
			block = append(block, t)
		}
		if t := sefaria.StripHTML(src.Text.He); t != "" {
			block = append(block, t)
		}
		if t := sefaria.StripHTML(src.OutsideText); t != "" {
			block = append(block, t)
		}
		if len(block) > 0 {
			parts = append(parts, strings.Join(block, "\n"))
		}
	}
	text := strings.Join(parts, "\n\n")

	metadata := map[string]any{
		"contentType": "sheet",
		"sheetId":     sheet.ID,
		"views":       sheet.Views,
		"fetchedAt":   time.Now().UTC().Format(time.RFC3339),
	}
	if sheet.Owner != "" {
		metadata["owner"] = sheet.Owner
	}
	if s := sefaria.StripHTML(sheet.Summary); s != "" {
		metadata["summary"] = s
	}
	if maxChars > 0 {
		var truncated bool
		text, truncated = sefaria.Truncate(text, maxChars)
		if truncated {
			metadata["truncated"] = true
		}
	}

	title := sefaria.StripHTML(sheet.Title)
	if title == "" {
		title = id
	}
	return map[string]any{
		"id":       id,
		"title":    title,
		"text":     text,
		"url":      fmt.Sprintf("%ssheets/%d", sefaria.SiteBaseURL, numeric),
		"metadata": metadata,
	}, nil
}

// splitVersions flattens the first English and first Hebrew version bodies.
func splitVersions(versions []sefaria.TextVersion) (english, hebrew string) {
	for _, v := range versions {
		switch versionLanguage(v) {
		case "en":
			if english == "" {
				english = sefaria.FlattenText(v.Text)
			}
		case "he":
			if hebrew == "" {
				hebrew = sefaria.FlattenText(v.Text)
			}
		}
	}
	return english, hebrew
}

func versionLanguage(v sefaria.TextVersion) string {
	lang := v.Language
	if v.ActualLanguage != "" {
		lang = v.ActualLanguage
	}
	lang = strings.ToLower(lang)
	switch {
	case strings.HasPrefix(lang, "en"):
		return "en"
	case strings.HasPrefix(lang, "he"):
		return "he"
	}
	return lang
}
