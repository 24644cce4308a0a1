// Package websearch fans a query out to the configured search providers in
// fixed order and merges their results.
package websearch

import (
	"context"
	"log"
	"net/url"
	"strings"
)

// Result is one search hit.
type Result struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Provider is a single search vendor. A provider without credentials is
// inactive and skipped.
type Provider interface {
	Name() string
	Active() bool
	Search(ctx context.Context, query string, max int) ([]Result, error)
}

// Multiplexer tries providers in declared order, filters hosts, and
// de-duplicates by origin plus path.
type Multiplexer struct {
	providers []Provider
	allow     []string
	block     []string
	logger    *log.Logger
}

// NewMultiplexer builds a multiplexer over providers in precedence order.
func NewMultiplexer(providers []Provider, allow, block []string, logger *log.Logger) *Multiplexer {
	if logger == nil {
		logger = log.New(log.Writer(), "[WEBSEARCH] ", log.LstdFlags)
	}
	return &Multiplexer{providers: providers, allow: allow, block: block, logger: logger}
}

// ActiveProviders lists the names of providers with credentials.
func (m *Multiplexer) ActiveProviders() []string {
	var names []string
	for _, p := range m.providers {
		if p.Active() {
			names = append(names, p.Name())
		}
	}
	return names
}

// Search runs the fan-out. Provider failures are logged and skipped; when
// every provider errors the result is an empty list, not an error.
func (m *Multiplexer) Search(ctx context.Context, query string, max int) []Result {
	if max <= 0 {
		max = 8
	}
	var out []Result
	seen := make(map[string]struct{})

	for _, p := range m.providers {
		if !p.Active() {
			continue
		}
		if len(out) >= max {
			break
		}
		results, err := p.Search(ctx, query, max)
		if err != nil {
			m.logger.Printf("%s search failed: %v", p.Name(), err)
			continue
		}
		for _, r := range results {
			u, perr := url.Parse(strings.TrimSpace(r.URL))
			if perr != nil || u.Host == "" {
				continue
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				continue
			}
			host := strings.ToLower(u.Hostname())
			if len(m.allow) > 0 && !hostInList(host, m.allow) {
				continue
			}
			if hostInList(host, m.block) {
				continue
			}
			key := u.Scheme + "://" + strings.ToLower(u.Host) + u.Path
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, Result{Title: strings.TrimSpace(r.Title), URL: u.String()})
			if len(out) >= max {
				break
			}
		}
	}
	return out
}

func hostInList(host string, list []string) bool {
	for _, pattern := range list {
		if host == pattern || strings.HasSuffix(host, "."+pattern) {
			return true
		}
	}
	return false
}
