package tools

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
)

func TestSugyaExplorerShulchanArukhSkipsRelated(t *testing.T) {
	t.Parallel()
	var relatedCalls int32
	d := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/related/"):
			atomic.AddInt32(&relatedCalls, 1)
			_ = json.NewEncoder(w).Encode(map[string]any{})
		case strings.HasPrefix(r.URL.Path, "/api/v3/texts/"):
			// The vague query is not a ref; only the resolved seed is.
			if strings.Contains(r.URL.Path, "candles") {
				http.Error(w, "no such ref", http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ref":   "Shulchan Arukh, Orach Chayim 263",
				"heRef": "שולחן ערוך, אורח חיים רסג",
				"versions": []any{
					map[string]any{"language": "en", "text": []any{"One should take care to light"}},
				},
			})
		case strings.Contains(r.URL.Path, "_search"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"hits": map[string]any{"hits": []any{
					map[string]any{"_source": map[string]any{"ref": "Shabbat 21a"}},
				}},
			})
		default:
			http.NotFound(w, r)
		}
	})

	out := callTool(t, sugyaExplorerTool(d), map[string]any{"ref": "shabbat candles", "maxPerCategory": float64(2)})

	if out["ref"] != "Shulchan Arukh, Orach Chayim 263" {
		t.Errorf("seed ref = %v", out["ref"])
	}
	if out["url"] != "https://www.sefaria.org/Shulchan_Arukh%2C_Orach_Chayim_263?lang=bi" {
		t.Errorf("url = %v", out["url"])
	}
	if atomic.LoadInt32(&relatedCalls) != 0 {
		t.Error("Shulchan Arukh seed must skip the related expansion")
	}
	cats := out["categories"].([]any)
	if len(cats) == 0 {
		t.Fatal("categories must be non-empty")
	}
	first := cats[0].(map[string]any)
	if first["category"] != "Search Matches" {
		t.Errorf("synthetic category = %v", first["category"])
	}
	meta := out["metadata"].(map[string]any)
	if snip, _ := meta["englishSnippet"].(string); !strings.Contains(snip, "light") {
		t.Errorf("englishSnippet = %v", meta["englishSnippet"])
	}
}

func TestSugyaExplorerGroupsAndRanks(t *testing.T) {
	t.Parallel()
	d := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/related/"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"links": []any{
					map[string]any{"ref": "Rashi on Yoma 85b:1", "sourceRef": "Rashi on Yoma 85b", "category": "Commentary", "order": map[string]any{"pr": 1.0}},
					map[string]any{"ref": "Tosafot on Yoma 85b:1", "sourceRef": "Tosafot on Yoma 85b", "category": "Commentary", "order": map[string]any{"pr": 5.0}},
					map[string]any{"ref": "Ritva on Yoma 85b:1", "sourceRef": "Ritva on Yoma 85b", "category": "Commentary", "order": map[string]any{"pr": 3.0}},
					map[string]any{"ref": "Mishneh Torah, Shabbat 2:1", "sourceRef": "Mishneh Torah", "category": "Halakhah", "order": map[string]any{"tfidf": 2.0}},
				},
				"sheets": []any{
					map[string]any{"id": 1, "title": "Sheet One"},
					map[string]any{"id": 1, "title": "Sheet One Again"},
					map[string]any{"id": 2, "title": "Sheet Two"},
				},
				"topics": []any{
					map[string]any{"topic": "pikuach-nefesh", "title": map[string]any{"en": "Pikuach Nefesh"}},
					map[string]any{"topic": "pikuach-nefesh", "title": map[string]any{"en": "Pikuach Nefesh"}},
				},
			})
		case strings.HasPrefix(r.URL.Path, "/api/v3/texts/"):
			_ = json.NewEncoder(w).Encode(map[string]any{"ref": "Yoma 85b"})
		default:
			http.NotFound(w, r)
		}
	})

	out := callTool(t, sugyaExplorerTool(d), map[string]any{"ref": "Yoma 85b", "maxPerCategory": float64(2)})

	cats := out["categories"].([]any)
	if len(cats) != 2 {
		t.Fatalf("categories = %d, want 2", len(cats))
	}
	commentary := cats[0].(map[string]any)
	if commentary["category"] != "Commentary" {
		t.Errorf("first category = %v", commentary["category"])
	}
	items := commentary["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("commentary items = %d, want top 2", len(items))
	}
	if items[0].(map[string]any)["title"] != "Tosafot on Yoma 85b" {
		t.Errorf("ranking broken, first item = %v", items[0])
	}

	sheets := out["sheets"].([]any)
	if len(sheets) != 2 {
		t.Errorf("sheets = %d, want 2 after dedup", len(sheets))
	}
	topics := out["topics"].([]any)
	if len(topics) != 1 {
		t.Errorf("topics = %d, want 1 after dedup", len(topics))
	}
	meta := out["metadata"].(map[string]any)
	if meta["totalLinkCount"] != 4 {
		t.Errorf("totalLinkCount = %v", meta["totalLinkCount"])
	}
}

func TestSugyaExplorerIncludeText(t *testing.T) {
	t.Parallel()
	d := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/related/"):
			_ = json.NewEncoder(w).Encode(map[string]any{})
		case strings.HasPrefix(r.URL.Path, "/api/v3/texts/"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ref": "Yoma 85b",
				"versions": []any{
					map[string]any{"language": "en", "text": "And the Sages taught"},
					map[string]any{"language": "he", "text": "תנו רבנן"},
				},
			})
		case strings.Contains(r.URL.Path, "_search"):
			_ = json.NewEncoder(w).Encode(map[string]any{})
		default:
			http.NotFound(w, r)
		}
	})
	out := callTool(t, sugyaExplorerTool(d), map[string]any{
		"ref": "Yoma 85b", "includeText": true, "maxTextChars": float64(10),
	})
	text, _ := out["text"].(string)
	if len([]rune(text)) != 10 {
		t.Errorf("text = %q, want 10 runes", text)
	}
	meta := out["metadata"].(map[string]any)
	if meta["truncated"] != true {
		t.Error("truncated flag not set on text cap")
	}
}
