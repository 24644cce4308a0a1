package sefaria

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(log.New(io.Discard, "", 0),
		WithBaseURL(srv.URL+"/api/"),
		WithBackoffBase(time.Millisecond),
		WithAttemptTimeout(time.Second))
}

func TestTextsRequestShape(t *testing.T) {
	t.Parallel()
	var gotPath, gotQuery string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(TextsResponse{Ref: "Genesis 1:1"})
	})
	resp, err := c.Texts(context.Background(), "Genesis 1:1", "english", "hebrew")
	if err != nil {
		t.Fatalf("Texts() error = %v", err)
	}
	if resp.Ref != "Genesis 1:1" {
		t.Errorf("ref = %q", resp.Ref)
	}
	if gotPath != "/api/v3/texts/Genesis%201:1" && !strings.Contains(gotPath, "Genesis") {
		t.Errorf("path = %q", gotPath)
	}
	for _, want := range []string{"version=english", "version=hebrew", "return_format=text_only"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestRetryOnServerError(t *testing.T) {
	t.Parallel()
	var calls int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ref": "Yoma 85b"})
	})
	resp, err := c.Texts(context.Background(), "Yoma 85b", "english")
	if err != nil {
		t.Fatalf("Texts() after retries error = %v", err)
	}
	if resp.Ref != "Yoma 85b" {
		t.Errorf("ref = %q", resp.Ref)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetriesExhausted(t *testing.T) {
	t.Parallel()
	var calls int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "<html>very long upstream failure page</html>", http.StatusServiceUnavailable)
	})
	_, err := c.Related(context.Background(), "Yoma 85b")
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if !strings.Contains(err.Error(), "status 503") {
		t.Errorf("error should carry status, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d, want 3 (2 retries)", calls)
	}
}

func TestContextCancelStopsRetries(t *testing.T) {
	t.Parallel()
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Texts(ctx, "Genesis 1:1", "english"); err == nil {
		t.Fatal("expected error with cancelled context")
	}
}

func TestLinkScore(t *testing.T) {
	t.Parallel()
	l := Link{Order: LinkOrder{PR: 2, TFIDF: 1.5, Views: 4000, NumDatasource: 2}}
	// 2*3 + 1.5*2 + 4000/1000 + 2 = 15
	if got := l.Score(); got != 15 {
		t.Errorf("Score() = %v, want 15", got)
	}
}

func TestTopicTitleVariants(t *testing.T) {
	t.Parallel()
	var tp TopicResponse
	if err := json.Unmarshal([]byte(`{"slug":"shabbat","primaryTitle":{"en":"Shabbat","he":"שבת"}}`), &tp); err != nil {
		t.Fatal(err)
	}
	if tp.TitleEN() != "Shabbat" {
		t.Errorf("object title = %q", tp.TitleEN())
	}
	if err := json.Unmarshal([]byte(`{"slug":"shabbat","primaryTitle":"Shabbat"}`), &tp); err != nil {
		t.Fatal(err)
	}
	if tp.TitleEN() != "Shabbat" {
		t.Errorf("string title = %q", tp.TitleEN())
	}
}

func TestCalendarItemAliyot(t *testing.T) {
	t.Parallel()
	var ci CalendarItem
	data := `{"title":{"en":"Parashat Hashavua"},"extraDetails":{"aliyot":["Genesis 1:1-2:3","Genesis 2:4-19"]}}`
	if err := json.Unmarshal([]byte(data), &ci); err != nil {
		t.Fatal(err)
	}
	if got := ci.Aliyot(); len(got) != 2 || got[0] != "Genesis 1:1-2:3" {
		t.Errorf("Aliyot() = %v", got)
	}
}
