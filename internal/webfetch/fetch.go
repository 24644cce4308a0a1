package webfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/mohammad-safakhou/sefaria-gateway/internal/cache"
	"github.com/mohammad-safakhou/sefaria-gateway/internal/metrics"
)

const (
	maxRedirects = 5
	hardCharCap  = 1_000_000
)

// Config tunes the fetcher. Zero values fall back to conservative defaults.
type Config struct {
	MaxBytes     int64
	MaxChars     int
	Timeout      time.Duration
	UserAgent    string
	ObeyRobots   bool
	Allowlist    []string
	Blocklist    []string
	CacheEntries int
	CacheTTL     time.Duration
}

func (c *Config) fill() {
	if c.MaxBytes <= 0 {
		c.MaxBytes = 2 * 1024 * 1024
	}
	if c.MaxChars <= 0 {
		c.MaxChars = 200_000
	}
	if c.Timeout <= 0 {
		c.Timeout = 12 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "SefariaGatewayBot/1.0"
	}
	if c.CacheEntries <= 0 {
		c.CacheEntries = 200
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
}

// cachedDoc is one fetch cache entry with its revalidation validators.
type cachedDoc struct {
	Doc          map[string]any
	ETag         string
	LastModified string
	Bytes        int
	Status       int
}

// Fetcher is the safe retrieval pipeline. A single instance serves the whole
// process.
type Fetcher struct {
	cfg      Config
	client   *http.Client
	cache    *cache.Cache
	robots   *robotsCache
	gates    *Gates
	metrics  *metrics.Metrics
	logger   *log.Logger
	resolver *net.Resolver

	// allowPrivate disables the address check so tests can target loopback
	// servers.
	allowPrivate bool
}

// NewFetcher builds a Fetcher with its own redirect-disabled HTTP client and
// strict-LRU content cache.
func NewFetcher(cfg Config, gates *Gates, m *metrics.Metrics, logger *log.Logger) *Fetcher {
	cfg.fill()
	if logger == nil {
		logger = log.New(log.Writer(), "[FETCH] ", log.LstdFlags)
	}
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Transport: &http.Transport{
			MaxIdleConns:        32,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return &Fetcher{
		cfg:     cfg,
		client:  client,
		cache:   cache.NewLRU(cfg.CacheEntries, cfg.CacheTTL),
		robots:  newRobotsCache(client),
		gates:   gates,
		metrics: m,
		logger:  logger,
	}
}

// CacheLen reports the fetch cache size.
func (f *Fetcher) CacheLen() int { return f.cache.Len() }

type fetchResult struct {
	Status   int
	Header   http.Header
	Body     []byte
	FinalURL *url.URL
}

// Fetch retrieves rawURL through the full safety pipeline and returns a
// document {id, title, text, url, metadata}.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (map[string]any, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if err := checkURL(u, f.cfg.Allowlist, f.cfg.Blocklist); err != nil {
		return nil, err
	}
	f.metrics.IncFetch()

	host := strings.ToLower(u.Hostname())
	if err := f.gates.Acquire(ctx, host); err != nil {
		return nil, err
	}
	defer f.gates.Release(host)

	var cached *cachedDoc
	if v, ok := f.cache.Get(rawURL); ok {
		if c, ok := v.(*cachedDoc); ok {
			cached = c
		}
	}
	if cached != nil && cached.ETag == "" && cached.LastModified == "" {
		// Nothing to revalidate against; serve the live cache entry.
		f.metrics.IncCacheHit()
		return cached.Doc, nil
	}

	cond := http.Header{}
	if cached != nil {
		if cached.ETag != "" {
			cond.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			cond.Set("If-Modified-Since", cached.LastModified)
		}
	}

	res, err := f.do(ctx, u, cond)
	if err != nil {
		f.metrics.IncFetchError()
		return nil, err
	}

	if res.Status == http.StatusNotModified && cached != nil {
		f.metrics.IncCacheHit()
		f.cache.Set(rawURL, cached, 0)
		return cached.Doc, nil
	}
	if res.Status < 200 || res.Status > 299 {
		f.metrics.IncFetchError()
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, res.Status)
	}

	doc := f.buildDocument(rawURL, res, maxChars)
	f.cache.Set(rawURL, &cachedDoc{
		Doc:          doc,
		ETag:         res.Header.Get("Etag"),
		LastModified: res.Header.Get("Last-Modified"),
		Bytes:        len(res.Body),
		Status:       res.Status,
	}, 0)
	return doc, nil
}

// FetchRaw runs the same safety pipeline but returns the raw body and its
// content type. Used by the image proxy.
func (f *Fetcher) FetchRaw(ctx context.Context, rawURL string) (string, []byte, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", nil, fmt.Errorf("invalid url: %w", err)
	}
	if err := checkURL(u, f.cfg.Allowlist, f.cfg.Blocklist); err != nil {
		return "", nil, err
	}
	f.metrics.IncFetch()

	host := strings.ToLower(u.Hostname())
	if err := f.gates.Acquire(ctx, host); err != nil {
		return "", nil, err
	}
	defer f.gates.Release(host)

	res, err := f.do(ctx, u, nil)
	if err != nil {
		f.metrics.IncFetchError()
		return "", nil, err
	}
	if res.Status < 200 || res.Status > 299 {
		f.metrics.IncFetchError()
		return "", nil, fmt.Errorf("fetch %s: status %d", rawURL, res.Status)
	}
	return res.Header.Get("Content-Type"), res.Body, nil
}

// do walks the redirect chain manually, re-applying the host lists, the
// address check, and robots on every hop.
func (f *Fetcher) do(ctx context.Context, u *url.URL, cond http.Header) (*fetchResult, error) {
	current := u
	visited := map[string]struct{}{u.String(): {}}

	for hop := 0; hop <= maxRedirects; hop++ {
		if err := checkURL(current, f.cfg.Allowlist, f.cfg.Blocklist); err != nil {
			return nil, err
		}
		if !f.allowPrivate {
			if err := resolveAndCheck(ctx, f.resolver, current.Hostname()); err != nil {
				return nil, err
			}
		}
		if f.cfg.ObeyRobots && !f.robots.allowed(ctx, current, f.cfg.UserAgent) {
			f.metrics.IncRobotsBlocked()
			return nil, policyErrorf("disallowed by robots.txt for %q", current.Host)
		}

		res, next, err := f.attempt(ctx, current, hop == 0, cond)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return res, nil
		}
		if current.Scheme == "https" && next.Scheme == "http" {
			return nil, policyErrorf("refusing https to http redirect to %q", next.String())
		}
		key := next.String()
		if _, loop := visited[key]; loop {
			return nil, fmt.Errorf("redirect cycle at %q", key)
		}
		visited[key] = struct{}{}
		current = next
	}
	return nil, fmt.Errorf("too many redirects (limit %d)", maxRedirects)
}

// attempt issues one request with the per-attempt timeout. A redirect status
// returns the next hop instead of a result.
func (f *Fetcher) attempt(ctx context.Context, u *url.URL, first bool, cond http.Header) (*fetchResult, *url.URL, error) {
	actx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	if first {
		for key, vals := range cond {
			for _, v := range vals {
				req.Header.Add(key, v)
			}
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		loc := resp.Header.Get("Location")
		if loc == "" {
			return nil, nil, fmt.Errorf("redirect from %q without Location", u.String())
		}
		next, perr := url.Parse(loc)
		if perr != nil {
			return nil, nil, fmt.Errorf("bad redirect location %q: %w", loc, perr)
		}
		return nil, u.ResolveReference(next), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes))
	if err != nil {
		return nil, nil, err
	}
	return &fetchResult{
		Status:   resp.StatusCode,
		Header:   resp.Header,
		Body:     body,
		FinalURL: u,
	}, nil, nil
}

// buildDocument dispatches on content type, normalizes, and truncates.
func (f *Fetcher) buildDocument(rawURL string, res *fetchResult, maxChars int) map[string]any {
	mediaType := ""
	if ct := res.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			mediaType = mt
		}
	}

	metadata := map[string]any{
		"contentType": mediaType,
		"fetchedAt":   time.Now().UTC().Format(time.RFC3339),
		"bytes":       len(res.Body),
	}

	title := "Untitled"
	var text string
	switch {
	case mediaType == "application/pdf" || strings.HasSuffix(strings.ToLower(res.FinalURL.Path), ".pdf"):
		pdfText, pageCount, err := extractPDF(res.Body)
		if err != nil {
			f.logger.Printf("pdf extraction failed for %s: %v", rawURL, err)
		}
		text = pdfText
		metadata["pageCount"] = pageCount
		if base := path.Base(res.FinalURL.Path); base != "" && base != "/" {
			title = base
		}
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		ex := extractHTML(res.Body, res.FinalURL)
		title = ex.Title
		text = ex.Text
		if ex.Canonical != "" {
			metadata["canonicalUrl"] = ex.Canonical
		}
		if ex.Language != "" {
			metadata["language"] = ex.Language
		}
	case mediaType == "text/plain" || mediaType == "":
		text = string(res.Body)
		if base := path.Base(res.FinalURL.Path); base != "" && base != "/" {
			title = base
		}
	default:
		text = stripTags(res.Body)
	}

	limit := f.cfg.MaxChars
	if maxChars > 0 && maxChars < limit {
		limit = maxChars
	}
	if limit > hardCharCap {
		limit = hardCharCap
	}
	text = normalizeText(text)
	if runes := []rune(text); len(runes) > limit {
		text = string(runes[:limit])
		metadata["truncated"] = true
	}

	return map[string]any{
		"id":       rawURL,
		"title":    title,
		"text":     text,
		"url":      res.FinalURL.String(),
		"metadata": metadata,
	}
}

// IsPolicyError reports whether err is a policy refusal rather than an
// upstream failure.
func IsPolicyError(err error) bool {
	return errors.Is(err, ErrBlockedByPolicy)
}
