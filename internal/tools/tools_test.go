package tools

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammad-safakhou/sefaria-gateway/internal/cache"
	"github.com/mohammad-safakhou/sefaria-gateway/internal/sefaria"
)

// newTestDeps wires Deps against a fake upstream handler.
func newTestDeps(t *testing.T, h http.HandlerFunc) *Deps {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client := sefaria.NewClient(log.New(io.Discard, "", 0),
		sefaria.WithBaseURL(srv.URL+"/api/"),
		sefaria.WithRetries(0),
		sefaria.WithBackoffBase(time.Millisecond),
		sefaria.WithAttemptTimeout(2*time.Second))
	return &Deps{
		Client:   client,
		Resolver: sefaria.NewResolver(client),
		Cache:    cache.New(100, time.Minute),
		Logger:   log.New(io.Discard, "", 0),
	}
}

func TestRegistryOrderAndLookup(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(&Tool{Name: "b"})
	r.Register(&Tool{Name: "a"})
	list := r.List()
	if len(list) != 2 || list[0].Name != "b" || list[1].Name != "a" {
		t.Fatalf("List() = %v", list)
	}
	if _, ok := r.Get("a"); !ok {
		t.Fatal("Get(a) missed")
	}
	if _, ok := r.Get("zzz"); ok {
		t.Fatal("Get(zzz) should miss")
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r := NewRegistry()
	r.Register(&Tool{Name: "x"})
	r.Register(&Tool{Name: "x"})
}

func TestIntArgBounds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		args    map[string]any
		want    int
		wantErr bool
	}{
		{name: "absent uses default", args: map[string]any{}, want: 10},
		{name: "zero rejected", args: map[string]any{"size": float64(0)}, wantErr: true},
		{name: "negative rejected", args: map[string]any{"size": float64(-3)}, wantErr: true},
		{name: "above max clamps", args: map[string]any{"size": float64(99)}, want: 25},
		{name: "in range", args: map[string]any{"size": float64(5)}, want: 5},
		{name: "non-number rejected", args: map[string]any{"size": "five"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := intArg(tt.args, "size", 10, 1, 25)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("want error, got %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("err = %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRequireString(t *testing.T) {
	t.Parallel()
	if _, err := requireString(map[string]any{}, "query"); err == nil {
		t.Fatal("missing field should error")
	}
	if _, err := requireString(map[string]any{"query": "  "}, "query"); err == nil {
		t.Fatal("blank field should error")
	}
	s, err := requireString(map[string]any{"query": " x "}, "query")
	if err != nil || s != "x" {
		t.Fatalf("got %q, %v", s, err)
	}
}

func TestCacheKeyDeterminism(t *testing.T) {
	t.Parallel()
	a := cacheKey("search", "q", 5, "en")
	b := cacheKey("search", "q", 5, "en")
	c := cacheKey("search", "q", 6, "en")
	if a != b {
		t.Fatal("same inputs must yield the same key")
	}
	if a == c {
		t.Fatal("different inputs must yield different keys")
	}
}

func TestCachedShortCircuits(t *testing.T) {
	t.Parallel()
	d := &Deps{Cache: cache.New(10, time.Minute)}
	calls := 0
	compute := func() (map[string]any, error) {
		calls++
		return map[string]any{"n": calls}, nil
	}
	first, err := d.cached(time.Minute, "k", compute)
	if err != nil {
		t.Fatal(err)
	}
	second, err := d.cached(time.Minute, "k", compute)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("compute ran %d times, want 1", calls)
	}
	if first["n"] != second["n"] {
		t.Fatal("cached value differs")
	}
}
