package webfetch

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// robotsCache fetches and parses robots.txt once per origin.
type robotsCache struct {
	mu      sync.Mutex
	client  *http.Client
	entries map[string]*robotstxt.RobotsData
}

func newRobotsCache(client *http.Client) *robotsCache {
	return &robotsCache{
		client:  client,
		entries: make(map[string]*robotstxt.RobotsData),
	}
}

// allowed reports whether userAgent may fetch u per its origin's robots.txt.
// An origin whose robots.txt cannot be retrieved at all is treated as open.
func (rc *robotsCache) allowed(ctx context.Context, u *url.URL, userAgent string) bool {
	origin := u.Scheme + "://" + u.Host

	rc.mu.Lock()
	data, ok := rc.entries[origin]
	rc.mu.Unlock()

	if !ok {
		data = rc.fetch(ctx, origin)
		rc.mu.Lock()
		rc.entries[origin] = data
		rc.mu.Unlock()
	}
	if data == nil {
		return true
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, userAgent)
}

func (rc *robotsCache) fetch(ctx context.Context, origin string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	resp, err := rc.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil
	}
	return data
}
