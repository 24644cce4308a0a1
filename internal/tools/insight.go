package tools

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/sefaria-gateway/internal/sefaria"
)

var defaultCommentators = []string{"Rashi", "Ibn Ezra", "Ramban", "Sforno"}

const (
	insightExtraCommentators = 2
	insightSummaryLimit      = 200
	insightThemeCount        = 5
)

var englishStopwords = map[string]struct{}{
	"the": {}, "and": {}, "that": {}, "this": {}, "with": {}, "for": {},
	"was": {}, "are": {}, "not": {}, "his": {}, "her": {}, "they": {},
	"them": {}, "from": {}, "which": {}, "who": {}, "what": {}, "when": {},
	"where": {}, "shall": {}, "will": {}, "have": {}, "has": {}, "had": {},
	"but": {}, "all": {}, "one": {}, "you": {}, "your": {}, "their": {},
	"there": {}, "then": {}, "than": {}, "thus": {}, "upon": {}, "unto": {},
	"into": {}, "out": {}, "because": {}, "also": {}, "said": {}, "says": {},
	"were": {}, "been": {}, "being": {}, "would": {}, "should": {}, "these": {},
	"those": {}, "it": {}, "its": {}, "is": {}, "as": {}, "he": {}, "she": {},
}

func insightLayersTool(d *Deps) *Tool {
	return &Tool{
		Name:        "insight_layers",
		Description: "Layer classic commentaries over a passage with summaries and theme keywords.",
		InputSchema: obj(map[string]any{
			"ref":          str("Canonical reference"),
			"commentators": arr(str("Commentator name"), "Commentators to include (default Rashi, Ibn Ezra, Ramban, Sforno)"),
			"maxChars":     num("Per-commentary text truncation (max 3000)"),
		}, "ref"),
		OutputSchema: obj(map[string]any{
			"ref": str("Echoed reference"),
			"items": arr(obj(map[string]any{
				"commentator": str("Requested commentator"),
				"available":   boolean("Whether a commentary was found"),
				"ref":         str("Commentary reference"),
				"url":         str("Reader URL"),
				"summary":     str("First-sentence summary"),
				"themes":      arr(str("Keyword"), "Theme keywords"),
			}), "One entry per requested commentator"),
			"metadata": obj(map[string]any{}),
		}),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			ref, err := requireString(args, "ref")
			if err != nil {
				return nil, err
			}
			ref = sefaria.CleanRef(ref)
			maxChars, err := intArg(args, "maxChars", 3000, 1, 3000)
			if err != nil {
				return nil, err
			}
			commentators := stringSliceArg(args, "commentators")

			key := cacheKey("insight_layers", ref, commentators, maxChars)
			return d.cached(ttlDefault, key, func() (map[string]any, error) {
				return d.buildInsightLayers(ctx, ref, commentators, maxChars)
			})
		},
	}
}

func (d *Deps) buildInsightLayers(ctx context.Context, ref string, commentators []string, maxChars int) (map[string]any, error) {
	related, err := d.Client.Related(ctx, ref)
	if err != nil {
		return nil, err
	}

	var commentary []sefaria.Link
	for _, link := range related.Links {
		if strings.EqualFold(link.Type, "commentary") || strings.EqualFold(link.Category, "commentary") {
			commentary = append(commentary, link)
		}
	}
	sortLinksByScore(commentary)

	requested := commentators
	if len(requested) == 0 {
		requested = append(requested, defaultCommentators...)
		requested = append(requested, topExtraCommentators(commentary, requested, insightExtraCommentators)...)
	}

	items := make([]any, 0, len(requested))
	available := 0
	for _, name := range requested {
		item := map[string]any{"commentator": name, "available": false}
		link, ok := bestLinkFor(commentary, name)
		if ok {
			texts, terr := d.Client.Texts(ctx, link.Ref, "english", "hebrew")
			if terr != nil {
				d.logf("insight text fetch failed for %q: %v", link.Ref, terr)
			} else {
				english, hebrew := splitVersions(texts.Versions)
				english, _ = sefaria.Truncate(english, maxChars)
				hebrew, _ = sefaria.Truncate(hebrew, maxChars)
				linked := sefaria.CleanRef(link.Ref)
				item["available"] = true
				item["ref"] = linked
				item["url"] = sefaria.RefURL(linked)
				item["text"] = map[string]any{"en": english, "he": hebrew}
				if summary := firstSentence(english); summary != "" {
					item["summary"] = summary
				}
				if themes := themeKeywords(english, insightThemeCount); len(themes) > 0 {
					item["themes"] = themes
				}
				available++
			}
		}
		items = append(items, item)
	}

	return map[string]any{
		"ref":   ref,
		"url":   sefaria.RefURL(ref),
		"items": items,
		"metadata": map[string]any{
			"requested": len(requested),
			"available": available,
		},
	}, nil
}

// commentatorOf extracts the work name from a source ref like
// "Rashi on Genesis 1:1:1".
func commentatorOf(link sefaria.Link) string {
	source := link.SourceRef
	if source == "" {
		source = link.Ref
	}
	if idx := strings.Index(source, " on "); idx > 0 {
		return source[:idx]
	}
	return source
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func normalizeName(name string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(name), "")
}

// bestLinkFor picks the highest-scoring commentary link matching name.
// Links are assumed sorted by score descending.
func bestLinkFor(commentary []sefaria.Link, name string) (sefaria.Link, bool) {
	want := normalizeName(name)
	if want == "" {
		return sefaria.Link{}, false
	}
	for _, link := range commentary {
		if strings.Contains(normalizeName(commentatorOf(link)), want) {
			return link, true
		}
	}
	return sefaria.Link{}, false
}

// topExtraCommentators returns up to n additional commentator names by link
// score, skipping names already requested.
func topExtraCommentators(commentary []sefaria.Link, requested []string, n int) []string {
	have := make(map[string]struct{}, len(requested))
	for _, name := range requested {
		have[normalizeName(name)] = struct{}{}
	}
	var out []string
	for _, link := range commentary {
		name := commentatorOf(link)
		norm := normalizeName(name)
		if norm == "" {
			continue
		}
		covered := false
		for existing := range have {
			if strings.Contains(norm, existing) || strings.Contains(existing, norm) {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		have[norm] = struct{}{}
		out = append(out, name)
		if len(out) >= n {
			break
		}
	}
	return out
}

// firstSentence returns the text up to the first period, capped at 200
// characters.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if idx := strings.Index(text, ". "); idx > 0 && idx < insightSummaryLimit {
		return text[:idx+1]
	}
	out, _ := sefaria.Truncate(text, insightSummaryLimit)
	return out
}

var tokenSplit = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// themeKeywords picks the n most frequent meaningful English tokens,
// first-seen order breaking frequency ties.
func themeKeywords(text string, n int) []string {
	counts := make(map[string]int)
	var order []string
	for _, token := range tokenSplit.Split(strings.ToLower(text), -1) {
		if len([]rune(token)) < 3 {
			continue
		}
		if sefaria.HasHebrew(token) {
			continue
		}
		if _, stop := englishStopwords[token]; stop {
			continue
		}
		if counts[token] == 0 {
			order = append(order, token)
		}
		counts[token]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}
	return order
}
