package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func calendarHandler(t *testing.T, items []any) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/calendars") {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		date := q.Get("year") + "-" + pad2(q.Get("month")) + "-" + pad2(q.Get("day"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"date":           date,
			"timezone":       "UTC",
			"calendar_items": items,
		})
	}
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

var weekItems = []any{
	map[string]any{
		"title":        map[string]any{"en": "Parashat Hashavua", "he": "פרשת השבוע"},
		"displayValue": map[string]any{"en": "Vayechi", "he": "ויחי"},
		"ref":          "Genesis 47:28-50:26",
		"category":     "Tanakh",
		"extraDetails": map[string]any{"aliyot": []any{"Genesis 47:28-48:9", "Genesis 48:10-16"}},
	},
	map[string]any{
		"title":        map[string]any{"en": "Haftarah", "he": "הפטרה"},
		"displayValue": map[string]any{"en": "I Kings 2:1-12"},
		"ref":          "I Kings 2:1-12",
	},
	map[string]any{
		"title":        map[string]any{"en": "Daf Yomi", "he": "דף יומי"},
		"displayValue": map[string]any{"en": "Sanhedrin 62"},
		"ref":          "Sanhedrin 62",
	},
	map[string]any{
		"title":        map[string]any{"en": "Rosh Chodesh Tevet", "he": "ראש חודש טבת"},
		"displayValue": map[string]any{"en": "Rosh Chodesh"},
	},
}

func TestGetDailyLearningsShape(t *testing.T) {
	t.Parallel()
	d := newTestDeps(t, calendarHandler(t, weekItems))
	out := callTool(t, dailyLearningsTool(d), map[string]any{"date": "2025-01-01", "diaspora": true})
	schedule := out["schedule"].(map[string]any)
	if schedule["date"] != "2025-01-01" {
		t.Errorf("date = %v", schedule["date"])
	}
	items := schedule["calendar_items"].([]any)
	if len(items) != len(weekItems) {
		t.Fatalf("items = %d", len(items))
	}
	first := items[0].(map[string]any)
	title := first["title"].(map[string]any)
	if title["en"] != "Parashat Hashavua" {
		t.Errorf("title = %v", title)
	}
	if first["url"] == nil {
		t.Error("ref item should carry a url")
	}
}

func TestGetDailyLearningsBadDate(t *testing.T) {
	t.Parallel()
	d := newTestDeps(t, calendarHandler(t, weekItems))
	if _, err := dailyLearningsTool(d).Handler(context.Background(), map[string]any{"date": "01/02/2025"}); err == nil {
		t.Fatal("malformed date must be rejected")
	}
}

func TestParshaPack(t *testing.T) {
	t.Parallel()
	d := newTestDeps(t, calendarHandler(t, weekItems))
	out := callTool(t, parshaPackTool(d), map[string]any{"date": "2025-01-01", "includeAliyot": true})
	parsha := out["parsha"].(map[string]any)
	if parsha["nameEn"] != "Vayechi" || parsha["ref"] != "Genesis 47:28-50:26" {
		t.Errorf("parsha = %v", parsha)
	}
	if aliyot := parsha["aliyot"].([]string); len(aliyot) != 2 {
		t.Errorf("aliyot = %v", aliyot)
	}
	haftarot := out["haftarot"].([]any)
	if len(haftarot) != 1 {
		t.Fatalf("haftarot = %d", len(haftarot))
	}
	tracks := out["learningTracks"].([]any)
	if len(tracks) != 1 || tracks[0].(map[string]any)["title"] != "Daf Yomi" {
		t.Errorf("learningTracks = %v", tracks)
	}
	// Rosh Chodesh is neither parsha, haftarah, nor a learning track.
	highlights := out["highlights"].([]any)
	if len(highlights) != 1 {
		t.Errorf("highlights = %v", highlights)
	}
}

func TestParshaPackMissingParshaFails(t *testing.T) {
	t.Parallel()
	d := newTestDeps(t, calendarHandler(t, []any{
		map[string]any{"title": map[string]any{"en": "Daf Yomi"}, "displayValue": map[string]any{"en": "Sanhedrin 62"}},
	}))
	if _, err := parshaPackTool(d).Handler(context.Background(), map[string]any{"date": "2025-01-01"}); err == nil {
		t.Fatal("parsha_pack without a Parashat Hashavua item must fail")
	}
}

func TestCalendarInsightsSevenDaysInOrder(t *testing.T) {
	t.Parallel()
	d := newTestDeps(t, calendarHandler(t, weekItems))
	out := callTool(t, calendarInsightsTool(d), map[string]any{"startDate": "2025-01-01"})
	alerts := out["alerts"].([]any)
	if len(alerts) != 7 {
		t.Fatalf("alerts = %d, want 7", len(alerts))
	}
	wantDates := []string{"2025-01-01", "2025-01-02", "2025-01-03", "2025-01-04", "2025-01-05", "2025-01-06", "2025-01-07"}
	for i, a := range alerts {
		if got := a.(map[string]any)["date"]; got != wantDates[i] {
			t.Errorf("alerts[%d].date = %v, want %s", i, got, wantDates[i])
		}
	}
}

func TestCalendarInsightsInterestFilter(t *testing.T) {
	t.Parallel()
	d := newTestDeps(t, calendarHandler(t, weekItems))
	out := callTool(t, calendarInsightsTool(d), map[string]any{
		"startDate": "2025-01-01",
		"interests": []any{"daf"},
	})
	alerts := out["alerts"].([]any)
	if len(alerts) != 7 {
		t.Fatalf("alerts = %d, want 7", len(alerts))
	}
	for _, a := range alerts {
		for _, raw := range a.(map[string]any)["items"].([]any) {
			item := raw.(map[string]any)
			typ := item["type"].(string)
			if !strings.Contains(strings.ToLower(typ), "daf") {
				t.Errorf("retained item type %q does not contain daf", typ)
			}
			if item["recommendedSources"] == nil {
				t.Error("daf item should carry recommendedSources")
			}
		}
	}
}

func TestCalendarInsightsChecklists(t *testing.T) {
	t.Parallel()
	d := newTestDeps(t, calendarHandler(t, weekItems))
	out := callTool(t, calendarInsightsTool(d), map[string]any{"startDate": "2025-01-01"})
	found := false
	for _, a := range out["alerts"].([]any) {
		for _, raw := range a.(map[string]any)["items"].([]any) {
			item := raw.(map[string]any)
			if item["type"] == "rosh_chodesh" {
				found = true
				checklist := item["halachaChecklist"].([]string)
				if len(checklist) != 2 || checklist[0] != "Ya'aleh V'Yavo" {
					t.Errorf("rosh_chodesh checklist = %v", checklist)
				}
			}
		}
	}
	if !found {
		t.Fatal("no rosh_chodesh item classified")
	}
}

func TestClassifyItem(t *testing.T) {
	t.Parallel()
	tests := []struct {
		title string
		want  string
	}{
		{"Parashat Hashavua", "parsha"},
		{"Haftarah (A)", "haftarah"},
		{"Rosh Chodesh Adar", "rosh_chodesh"},
		{"Fast of Gedaliah", "fast"},
		{"Yom Kippur", "fast"},
		{"Shabbat Mevarchim", "shabbat"},
		{"Sukkot", "chag"},
		{"Daf Yomi", "daf"},
		{"Tanya Yomi", "other"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.title, func(t *testing.T) {
			ci := sefariaCalendarItem(tt.title)
			if got := classifyItem(ci); got != tt.want {
				t.Errorf("classifyItem(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}
