package sefaria

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

var (
	spaceRun = regexp.MustCompile(`\s+`)
	tagRun   = regexp.MustCompile(`<[^>]*>`)
)

// CleanRef collapses internal whitespace and strips the ends of a reference.
func CleanRef(ref string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(ref, " "))
}

// RefURL derives the public reader URL for a reference: spaces become
// underscores, the rest is percent-encoded, and the bilingual view is
// requested.
func RefURL(ref string) string {
	slug := strings.ReplaceAll(CleanRef(ref), " ", "_")
	return SiteBaseURL + url.QueryEscape(slug) + "?lang=bi"
}

// FlattenText joins an arbitrarily nested array-of-strings text field
// depth-first with newlines, dropping empty segments.
func FlattenText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	var parts []string
	flattenInto(v, &parts)
	return strings.Join(parts, "\n")
}

func flattenInto(v any, parts *[]string) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(StripHTML(t))
		if s != "" {
			*parts = append(*parts, s)
		}
	case []any:
		for _, item := range t {
			flattenInto(item, parts)
		}
	}
}

// StripHTML removes tag runs and collapses runs of whitespace into single
// spaces. Upstream titles and summaries regularly carry markup.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	s = tagRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// Truncate cuts s to at most maxChars runes and reports whether it did.
func Truncate(s string, maxChars int) (string, bool) {
	if maxChars <= 0 {
		return s, false
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s, false
	}
	return string(runes[:maxChars]), true
}

// HasHebrew reports whether s contains characters in the Hebrew block.
func HasHebrew(s string) bool {
	for _, r := range s {
		if r >= 0x0590 && r <= 0x05FF {
			return true
		}
	}
	return false
}
