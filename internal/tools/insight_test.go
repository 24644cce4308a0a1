package tools

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/sefaria-gateway/internal/sefaria"
)

func sefariaCalendarItem(titleEN string) sefaria.CalendarItem {
	var ci sefaria.CalendarItem
	ci.Title.En = titleEN
	return ci
}

func insightHandler(t *testing.T) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/related/"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"links": []any{
					map[string]any{"ref": "Rashi on Genesis 1:1:1", "sourceRef": "Rashi on Genesis 1:1", "type": "commentary", "order": map[string]any{"pr": 4.0}},
					map[string]any{"ref": "Ibn Ezra on Genesis 1:1:1", "sourceRef": "Ibn Ezra on Genesis 1:1", "type": "commentary", "order": map[string]any{"pr": 3.0}},
					map[string]any{"ref": "Or HaChaim on Genesis 1:1:1", "sourceRef": "Or HaChaim on Genesis 1:1", "type": "commentary", "order": map[string]any{"pr": 6.0}},
					map[string]any{"ref": "Kli Yakar on Genesis 1:1:1", "sourceRef": "Kli Yakar on Genesis 1:1", "type": "commentary", "order": map[string]any{"pr": 5.0}},
					map[string]any{"ref": "Genesis Rabbah 1:1", "sourceRef": "Genesis Rabbah", "category": "Midrash"},
				},
			})
		case strings.HasPrefix(r.URL.Path, "/api/v3/texts/"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ref": "Rashi on Genesis 1:1:1",
				"versions": []any{
					map[string]any{"language": "en", "text": "In the beginning. Creation speaks of heavens and earth, creation of light."},
					map[string]any{"language": "he", "text": "בראשית"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}
}

func TestInsightLayersDefaultsAndExtras(t *testing.T) {
	t.Parallel()
	d := newTestDeps(t, insightHandler(t))
	out := callTool(t, insightLayersTool(d), map[string]any{"ref": "Genesis 1:1"})
	items := out["items"].([]any)
	// 4 defaults + top 2 additional by score (Or HaChaim, Kli Yakar).
	if len(items) != 6 {
		t.Fatalf("items = %d, want 6", len(items))
	}
	names := make([]string, 0, len(items))
	for _, raw := range items {
		names = append(names, raw.(map[string]any)["commentator"].(string))
	}
	joined := strings.Join(names, ",")
	for _, want := range []string{"Rashi", "Ibn Ezra", "Ramban", "Sforno", "Or HaChaim", "Kli Yakar"} {
		if !strings.Contains(joined, want) {
			t.Errorf("names %v missing %s", names, want)
		}
	}
	for _, raw := range items {
		item := raw.(map[string]any)
		if _, ok := item["available"]; !ok {
			t.Fatalf("item missing available flag: %v", item)
		}
		switch item["commentator"] {
		case "Ramban", "Sforno":
			if item["available"] != false {
				t.Errorf("%v should be unavailable", item["commentator"])
			}
		case "Rashi":
			if item["available"] != true {
				t.Error("Rashi should be available")
			}
			if item["summary"] != "In the beginning." {
				t.Errorf("summary = %v", item["summary"])
			}
		}
	}
}

func TestInsightLayersExplicitCommentators(t *testing.T) {
	t.Parallel()
	d := newTestDeps(t, insightHandler(t))
	out := callTool(t, insightLayersTool(d), map[string]any{
		"ref":          "Genesis 1:1",
		"commentators": []any{"Rashi", "Ibn Ezra"},
	})
	items := out["items"].([]any)
	// Explicit list suppresses the score-based extras.
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
}

func TestThemeKeywords(t *testing.T) {
	t.Parallel()
	text := "Creation creation creation of light and light, the heavens above the earth שמים"
	themes := themeKeywords(text, 5)
	if len(themes) == 0 || themes[0] != "creation" {
		t.Fatalf("themes = %v, want creation first", themes)
	}
	if len(themes) > 1 && themes[1] != "light" {
		t.Errorf("themes = %v, want light second", themes)
	}
	for _, th := range themes {
		if th == "the" || th == "and" || th == "of" {
			t.Errorf("stopword %q leaked into themes", th)
		}
		if sefaria.HasHebrew(th) {
			t.Errorf("hebrew token %q leaked into themes", th)
		}
	}
}

func TestFirstSentence(t *testing.T) {
	t.Parallel()
	if got := firstSentence("Short claim. Follow up."); got != "Short claim." {
		t.Errorf("firstSentence = %q", got)
	}
	long := strings.Repeat("x", 300)
	if got := firstSentence(long); len(got) != 200 {
		t.Errorf("len = %d, want 200", len(got))
	}
}

func TestNormalizeName(t *testing.T) {
	t.Parallel()
	if normalizeName("Ibn  Ezra") != "ibnezra" || normalizeName("Or HaChaim") != "orhachaim" {
		t.Error("normalizeName mismatch")
	}
}

func TestTopicsSearchLimit(t *testing.T) {
	t.Parallel()
	d := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "_search") {
			http.NotFound(w, r)
			return
		}
		hits := make([]any, 0, 12)
		for i := 0; i < 12; i++ {
			hits = append(hits, map[string]any{"_source": map[string]any{"ref": "Berakhot " + string(rune('a'+i))}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"hits": map[string]any{"hits": hits}})
	})
	out := callTool(t, topicsSearchTool(d), map[string]any{"topic": "gratitude"})
	if rows := out["results"].([]any); len(rows) != 8 {
		t.Fatalf("rows = %d, want capped at 8", len(rows))
	}
}

func TestTopicSheetCuratorFallback(t *testing.T) {
	t.Parallel()
	d := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/v2/topics/"):
			http.Error(w, "unknown topic", http.StatusNotFound)
		case strings.Contains(r.URL.Path, "_search"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"hits": map[string]any{"hits": []any{
					map[string]any{"_source": map[string]any{"ref": "Berakhot 2a"}},
				}},
			})
		case strings.HasPrefix(r.URL.Path, "/api/related/"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"sheets": []any{
					map[string]any{"id": 11, "title": "First"},
					map[string]any{"id": 12, "title": "Second"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	})
	out := callTool(t, topicSheetCuratorTool(d), map[string]any{"topic": "obscure topic", "maxSheets": float64(5)})
	meta := out["metadata"].(map[string]any)
	if meta["fallbackUsed"] != true {
		t.Error("fallbackUsed not set")
	}
	if sheets := out["sheets"].([]any); len(sheets) != 2 {
		t.Fatalf("sheets = %d, want 2", len(sheets))
	}
}

func TestTopicSheetCuratorPrimaryPath(t *testing.T) {
	t.Parallel()
	d := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/v2/topics/"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"slug": "shabbat",
				"refs": []any{
					map[string]any{"ref": "Sheet 101", "is_sheet": true},
					map[string]any{"ref": "Sheet 102", "is_sheet": true},
					map[string]any{"ref": "Sheet 103", "is_sheet": true},
					map[string]any{"ref": "Genesis 2:1", "is_sheet": false},
				},
			})
		case strings.HasPrefix(r.URL.Path, "/api/sheets/"):
			id := strings.TrimPrefix(r.URL.Path, "/api/sheets/")
			_ = json.NewEncoder(w).Encode(map[string]any{"id": jsonNumber(id), "title": "Sheet " + id})
		default:
			http.NotFound(w, r)
		}
	})
	out := callTool(t, topicSheetCuratorTool(d), map[string]any{"topic": "Shabbat", "maxSheets": float64(5)})
	if out["slug"] != "shabbat" {
		t.Errorf("slug = %v", out["slug"])
	}
	sheets := out["sheets"].([]any)
	if len(sheets) != 3 {
		t.Fatalf("sheets = %d, want 3", len(sheets))
	}
	meta := out["metadata"].(map[string]any)
	if _, fellBack := meta["fallbackUsed"]; fellBack {
		t.Error("primary path met the quota; fallback must not be flagged")
	}
}

func jsonNumber(s string) float64 {
	var f float64
	_ = json.Unmarshal([]byte(s), &f)
	return f
}
