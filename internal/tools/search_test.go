package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func callTool(t *testing.T, tool *Tool, args map[string]any) map[string]any {
	t.Helper()
	out, err := tool.Handler(context.Background(), args)
	if err != nil {
		t.Fatalf("%s failed: %v", tool.Name, err)
	}
	return out
}

func resultRows(t *testing.T, out map[string]any) []map[string]any {
	t.Helper()
	raw, _ := out["results"].([]any)
	rows := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		rows = append(rows, r.(map[string]any))
	}
	return rows
}

func TestSearchExactRefFastPath(t *testing.T) {
	t.Parallel()
	searchCalled := false
	d := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/v3/texts/"):
			_ = json.NewEncoder(w).Encode(map[string]any{"ref": "Genesis 1:1"})
		case strings.Contains(r.URL.Path, "_search"):
			searchCalled = true
			_ = json.NewEncoder(w).Encode(map[string]any{})
		default:
			http.NotFound(w, r)
		}
	})
	out := callTool(t, searchTool(d), map[string]any{"query": "Genesis 1:1"})
	rows := resultRows(t, out)
	if len(rows) != 1 || rows[0]["id"] != "Genesis 1:1" {
		t.Fatalf("rows = %v", rows)
	}
	if searchCalled {
		t.Error("exact-ref fast path must not hit the search index")
	}
}

func TestSearchHebrewAliasWhenIndexEmpty(t *testing.T) {
	t.Parallel()
	var passes int
	d := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/v3/texts/"):
			http.Error(w, "not a ref", http.StatusNotFound)
		case strings.Contains(r.URL.Path, "_search"):
			passes++
			_ = json.NewEncoder(w).Encode(map[string]any{})
		default:
			http.NotFound(w, r)
		}
	})
	out := callTool(t, searchTool(d), map[string]any{"query": "פיקוח נפש", "size": float64(3)})
	rows := resultRows(t, out)
	if len(rows) == 0 {
		t.Fatal("expected alias fallback result")
	}
	if !strings.HasPrefix(rows[0]["id"].(string), "Yoma 85b") {
		t.Errorf("id = %v, want Yoma 85b fast path", rows[0]["id"])
	}
	// Hebrew queries retry on the exact field before giving up.
	if passes != 2 {
		t.Errorf("search passes = %d, want 2", passes)
	}
}

func TestSearchPhraseHitsAndDedup(t *testing.T) {
	t.Parallel()
	d := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "_search") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"hits": map[string]any{"hits": []any{
				map[string]any{"_source": map[string]any{"ref": "Yoma 85b", "lang": "en", "version": "William Davidson Edition"}},
				map[string]any{"_source": map[string]any{"ref": "Yoma 85b", "lang": "en", "version": "William Davidson Edition"}},
				map[string]any{"_source": map[string]any{"ref": "Sanhedrin 74a", "lang": "en", "version": "WD"}},
			}},
		})
	})
	out := callTool(t, searchTool(d), map[string]any{"query": "saving a life"})
	rows := resultRows(t, out)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 after dedup", len(rows))
	}
	if rows[0]["id"] != "Yoma 85b|en|William Davidson Edition" {
		t.Errorf("id = %v", rows[0]["id"])
	}
	if rows[0]["url"] != "https://www.sefaria.org/Yoma_85b?lang=bi" {
		t.Errorf("url = %v", rows[0]["url"])
	}
}

func TestSearchFindRefsLastResort(t *testing.T) {
	t.Parallel()
	d := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "_search"):
			_ = json.NewEncoder(w).Encode(map[string]any{})
		case strings.HasSuffix(r.URL.Path, "find-refs"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"body": map[string]any{"results": []any{
					map[string]any{"refs": []any{"Genesis 1:1"}},
				}},
			})
		default:
			http.NotFound(w, r)
		}
	})
	out := callTool(t, searchTool(d), map[string]any{"query": "some obscure prose"})
	rows := resultRows(t, out)
	if len(rows) != 1 || rows[0]["id"] != "Genesis 1:1" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestSearchRejectsBadSize(t *testing.T) {
	t.Parallel()
	d := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {})
	if _, err := searchTool(d).Handler(context.Background(), map[string]any{"query": "x", "size": float64(0)}); err == nil {
		t.Fatal("size=0 must be rejected")
	}
	if _, err := searchTool(d).Handler(context.Background(), map[string]any{"query": "x", "size": float64(-1)}); err == nil {
		t.Fatal("negative size must be rejected")
	}
}
