package sefaria

import (
	"context"
	"strings"
)

// alias maps well-known vague queries straight to canonical references.
// Patterns are matched case-insensitively as substrings.
type alias struct {
	patterns []string
	ref      string
}

var aliasTable = []alias{
	{[]string{"shabbat candles", "shabbos candles", "candle lighting"}, "Shulchan Arukh, Orach Chayim 263"},
	{[]string{"chanukah lights", "hanukkah lights", "chanukah candles", "hanukkah candles"}, "Shulchan Arukh, Orach Chayim 671"},
	{[]string{"lo bashamayim hi"}, "Bava Metzia 59b"},
	{[]string{"pikuach nefesh", "פיקוח נפש"}, "Yoma 85b"},
}

const (
	exactLookupMaxLen  = 120
	phraseQueryMaxLen  = 200
	phraseDefaultLimit = 8
)

// Resolver maps free-text queries to canonical references.
type Resolver struct {
	client *Client
}

// NewResolver builds a Resolver over client.
func NewResolver(client *Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve attempts exact lookup for reference-shaped queries, then the alias
// table. Returns "" when neither applies.
func (r *Resolver) Resolve(ctx context.Context, query string) string {
	if ref := r.ResolveExact(ctx, query); ref != "" {
		return ref
	}
	return ResolveAlias(query)
}

// ResolveExact attempts a v3/texts lookup for queries that look like a
// reference (digits, colon, or Hebrew; at most 120 characters). Returns the
// canonical ref, the sectionRef when the ref is absent, or "".
func (r *Resolver) ResolveExact(ctx context.Context, query string) string {
	query = CleanRef(query)
	if query == "" || !looksLikeRef(query) || len([]rune(query)) > exactLookupMaxLen {
		return ""
	}
	resp, err := r.client.Texts(ctx, query, "english", "hebrew")
	if err != nil {
		return ""
	}
	if resp.Ref != "" {
		return resp.Ref
	}
	return resp.SectionRef
}

// ResolveAlias scans the fixed alias table and returns the first match.
func ResolveAlias(query string) string {
	lowered := strings.ToLower(CleanRef(query))
	if lowered == "" {
		return ""
	}
	for _, a := range aliasTable {
		for _, p := range a.patterns {
			if strings.Contains(lowered, p) {
				return a.ref
			}
		}
	}
	return ""
}

func looksLikeRef(q string) bool {
	if strings.ContainsAny(q, "0123456789:") {
		return true
	}
	return HasHebrew(q)
}

// RefMatch is one resolved reference row from phrase search or find-refs.
type RefMatch struct {
	Ref   string `json:"ref"`
	HeRef string `json:"heRef,omitempty"`
	URL   string `json:"url"`
	Text  string `json:"text,omitempty"`
	Start int    `json:"start,omitempty"`
	End   int    `json:"end,omitempty"`
}

// PhraseSearch runs the lemmatized phrase fallback for arbitrary free text
// and returns up to limit ref rows.
func (r *Resolver) PhraseSearch(ctx context.Context, query string, limit int) ([]RefMatch, error) {
	if limit <= 0 {
		limit = phraseDefaultLimit
	}
	runes := []rune(strings.TrimSpace(query))
	if len(runes) > phraseQueryMaxLen {
		runes = runes[:phraseQueryMaxLen]
	}
	body := map[string]any{
		"size": limit,
		"query": map[string]any{
			"match_phrase": map[string]any{
				"naive_lemmatizer": map[string]any{
					"query": string(runes),
					"slop":  10,
				},
			},
		},
		"highlight": map[string]any{
			"fields": map[string]any{"naive_lemmatizer": map[string]any{}},
		},
	}
	resp, err := r.client.SearchText(ctx, body)
	if err != nil {
		return nil, err
	}

	var out []RefMatch
	seen := make(map[string]struct{})
	for _, hit := range resp.Hits.Hits {
		ref := CleanRef(hit.Source.Ref)
		if ref == "" {
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		m := RefMatch{Ref: ref, HeRef: hit.Source.HeRef, URL: RefURL(ref)}
		if hl := hit.Highlight["naive_lemmatizer"]; len(hl) > 0 {
			m.Text = StripHTML(hl[0])
		}
		out = append(out, m)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ExtractRefMatches normalizes a raw find-refs document into ref rows.
// Upstream alternates between ref/bestRef keys and splits metadata into a
// refData side table, so everything is read defensively.
func ExtractRefMatches(raw map[string]any) []RefMatch {
	var out []RefMatch
	seen := make(map[string]struct{})

	refData := map[string]any{}
	for _, section := range []string{"title", "body"} {
		sec, _ := raw[section].(map[string]any)
		if sec == nil {
			continue
		}
		if rd, ok := sec["refData"].(map[string]any); ok {
			for k, v := range rd {
				refData[k] = v
			}
		}
	}

	for _, section := range []string{"title", "body"} {
		sec, _ := raw[section].(map[string]any)
		if sec == nil {
			continue
		}
		results, _ := sec["results"].([]any)
		for _, item := range results {
			res, _ := item.(map[string]any)
			if res == nil {
				continue
			}
			if failed, _ := res["linkFailed"].(bool); failed {
				continue
			}
			for _, ref := range resultRefs(res) {
				ref = CleanRef(ref)
				if ref == "" {
					continue
				}
				if _, dup := seen[ref]; dup {
					continue
				}
				seen[ref] = struct{}{}
				m := RefMatch{Ref: ref, URL: RefURL(ref)}
				if s, ok := res["text"].(string); ok {
					m.Text = StripHTML(s)
				}
				if f, ok := res["startChar"].(float64); ok {
					m.Start = int(f)
				}
				if f, ok := res["endChar"].(float64); ok {
					m.End = int(f)
				}
				if data, ok := refData[ref].(map[string]any); ok {
					if he, ok := data["heRef"].(string); ok {
						m.HeRef = he
					}
					if u, ok := data["url"].(string); ok && u != "" {
						m.URL = SiteBaseURL + u
					}
				}
				out = append(out, m)
			}
		}
	}
	return out
}

func resultRefs(res map[string]any) []string {
	var refs []string
	if list, ok := res["refs"].([]any); ok {
		for _, r := range list {
			if s, ok := r.(string); ok {
				refs = append(refs, s)
			}
		}
	}
	for _, key := range []string{"ref", "bestRef"} {
		if s, ok := res[key].(string); ok && s != "" {
			refs = append(refs, s)
		}
	}
	return refs
}
