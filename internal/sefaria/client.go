// Package sefaria wraps the upstream corpus API: typed endpoint calls with
// retry/backoff, plus the reference resolution helpers built on them.
package sefaria

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultBaseURL is the upstream API root.
	DefaultBaseURL = "https://www.sefaria.org/api/"
	// SiteBaseURL is the public reader root used for derived document URLs.
	SiteBaseURL = "https://www.sefaria.org/"

	defaultRetries        = 2
	defaultAttemptTimeout = 7 * time.Second
	defaultBackoffBase    = 400 * time.Millisecond

	bodyPreviewLimit = 300
)

// Client is a thin typed wrapper over the upstream HTTP API. All calls run
// with per-attempt timeouts and exponential backoff on failure.
type Client struct {
	base           string
	site           string
	http           *http.Client
	logger         *log.Logger
	retries        int
	attemptTimeout time.Duration
	backoffBase    time.Duration
}

// Option mutates a Client during construction.
type Option func(*Client)

// WithBaseURL points the client at an alternate API root (tests).
func WithBaseURL(base string) Option {
	return func(c *Client) { c.base = base }
}

// WithSiteURL points derived document URLs at an alternate reader root.
func WithSiteURL(site string) Option {
	return func(c *Client) { c.site = site }
}

// WithAttemptTimeout overrides the per-attempt timeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) { c.attemptTimeout = d }
}

// WithRetries overrides the retry count.
func WithRetries(n int) Option {
	return func(c *Client) { c.retries = n }
}

// WithBackoffBase overrides the base backoff delay (tests).
func WithBackoffBase(d time.Duration) Option {
	return func(c *Client) { c.backoffBase = d }
}

// NewClient builds a Client with keep-alive pooling and the standard
// retry/timeout policy.
func NewClient(logger *log.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = log.New(log.Writer(), "[SEFARIA] ", log.LstdFlags)
	}
	c := &Client{
		base: DefaultBaseURL,
		site: SiteBaseURL,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:         logger,
		retries:        defaultRetries,
		attemptTimeout: defaultAttemptTimeout,
		backoffBase:    defaultBackoffBase,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TextVersion is one language rendition inside a texts response. Text may be
// a string or arbitrarily nested arrays of strings.
type TextVersion struct {
	Language       string          `json:"language"`
	ActualLanguage string          `json:"actualLanguage"`
	VersionTitle   string          `json:"versionTitle"`
	Direction      string          `json:"direction"`
	Text           json.RawMessage `json:"text"`
}

// TextsResponse is the subset of v3/texts the gateway consumes.
type TextsResponse struct {
	Ref        string        `json:"ref"`
	HeRef      string        `json:"heRef"`
	SectionRef string        `json:"sectionRef"`
	Title      string        `json:"title"`
	Categories []string      `json:"categories"`
	Versions   []TextVersion `json:"versions"`
}

// Texts fetches ref with the requested version selectors, e.g. "english",
// "hebrew", or "english|versionTitle".
func (c *Client) Texts(ctx context.Context, ref string, versions ...string) (*TextsResponse, error) {
	q := url.Values{}
	for _, v := range versions {
		q.Add("version", v)
	}
	q.Set("return_format", "text_only")
	var out TextsResponse
	if err := c.doJSON(ctx, http.MethodGet, "v3/texts/"+url.PathEscape(CleanRef(ref)), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LinkOrder carries the relevance signals attached to a related link.
type LinkOrder struct {
	PR            float64 `json:"pr"`
	TFIDF         float64 `json:"tfidf"`
	Views         float64 `json:"views"`
	NumDatasource float64 `json:"numDatasource"`
}

// Link is one entry of the related-links expansion.
type Link struct {
	Ref         string    `json:"ref"`
	SourceRef   string    `json:"sourceRef"`
	SourceHeRef string    `json:"sourceHeRef"`
	AnchorRef   string    `json:"anchorRef"`
	Category    string    `json:"category"`
	Type        string    `json:"type"`
	Order       LinkOrder `json:"order"`
}

// Score is the fixed linear ranking used to order links within a category.
func (l Link) Score() float64 {
	return l.Order.PR*3 + l.Order.TFIDF*2 + l.Order.Views/1000 + l.Order.NumDatasource
}

// RelatedSheet is a user sheet referencing the anchor ref.
type RelatedSheet struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Owner string `json:"ownerName"`
	Views int64  `json:"views"`
}

// RelatedTopic is a topic tied to the anchor ref.
type RelatedTopic struct {
	Slug  string          `json:"topic"`
	Title json.RawMessage `json:"title"`
}

// TitleEN extracts the English form from a topic title that may be a plain
// string or a {en, he} object.
func (t RelatedTopic) TitleEN() string {
	return titleEN(t.Title)
}

func titleEN(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		En string `json:"en"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.En
	}
	return ""
}

// RelatedResponse is the related/{ref} payload.
type RelatedResponse struct {
	Links  []Link         `json:"links"`
	Sheets []RelatedSheet `json:"sheets"`
	Topics []RelatedTopic `json:"topics"`
}

// Related expands the link neighborhood of ref.
func (c *Client) Related(ctx context.Context, ref string) (*RelatedResponse, error) {
	var out RelatedResponse
	if err := c.doJSON(ctx, http.MethodGet, "related/"+url.PathEscape(CleanRef(ref)), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BiText is a bilingual display value or title.
type BiText struct {
	En string `json:"en"`
	He string `json:"he"`
}

// CalendarItem is one scheduled reading or learning track for a day.
type CalendarItem struct {
	Title        BiText          `json:"title"`
	DisplayValue BiText          `json:"displayValue"`
	Ref          string          `json:"ref"`
	HeRef        string          `json:"heRef"`
	URL          string          `json:"url"`
	Category     string          `json:"category"`
	Order        float64         `json:"order"`
	Description  BiText          `json:"description"`
	ExtraDetails json.RawMessage `json:"extraDetails"`
}

// Aliyot decodes the aliyah breakdown carried by parsha items, when present.
func (ci CalendarItem) Aliyot() []string {
	if len(ci.ExtraDetails) == 0 {
		return nil
	}
	var details struct {
		Aliyot []string `json:"aliyot"`
	}
	if err := json.Unmarshal(ci.ExtraDetails, &details); err != nil {
		return nil
	}
	return details.Aliyot
}

// CalendarsResponse is the calendars payload for one day.
type CalendarsResponse struct {
	Date          string         `json:"date"`
	Timezone      string         `json:"timezone"`
	CalendarItems []CalendarItem `json:"calendar_items"`
}

// CalendarsParams select the day and rite for a calendars call.
type CalendarsParams struct {
	Year     int
	Month    int
	Day      int
	Diaspora *bool
	Custom   string
	Timezone string
}

// Calendars fetches the reading calendar for one day.
func (c *Client) Calendars(ctx context.Context, p CalendarsParams) (*CalendarsResponse, error) {
	q := url.Values{}
	if p.Year != 0 {
		q.Set("year", strconv.Itoa(p.Year))
		q.Set("month", strconv.Itoa(p.Month))
		q.Set("day", strconv.Itoa(p.Day))
	}
	if p.Diaspora != nil {
		if *p.Diaspora {
			q.Set("diaspora", "1")
		} else {
			q.Set("diaspora", "0")
		}
	}
	if p.Custom != "" {
		q.Set("custom", p.Custom)
	}
	if p.Timezone != "" {
		q.Set("timezone", p.Timezone)
	}
	var out CalendarsResponse
	if err := c.doJSON(ctx, http.MethodGet, "calendars", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindRefs runs citation detection over free text. The raw document is
// returned because upstream key names vary; use ExtractRefMatches.
func (c *Client) FindRefs(ctx context.Context, text, lang string) (map[string]any, error) {
	body := map[string]any{
		"text": map[string]any{"title": "", "body": text},
	}
	if lang != "" {
		body["lang"] = lang
	}
	var out map[string]any
	if err := c.doJSON(ctx, http.MethodPost, "find-refs", nil, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TopicRef is one ref attached to a topic page.
type TopicRef struct {
	Ref     string `json:"ref"`
	IsSheet bool   `json:"is_sheet"`
}

// TopicResponse is the v2/topics payload.
type TopicResponse struct {
	Slug         string          `json:"slug"`
	PrimaryTitle json.RawMessage `json:"primaryTitle"`
	Description  json.RawMessage `json:"description"`
	Refs         []TopicRef      `json:"refs"`
}

// TitleEN extracts the English primary title.
func (t TopicResponse) TitleEN() string { return titleEN(t.PrimaryTitle) }

// Topic fetches a topic page including its refs.
func (c *Client) Topic(ctx context.Context, slug string) (*TopicResponse, error) {
	q := url.Values{}
	q.Set("with_refs", "1")
	var out TopicResponse
	if err := c.doJSON(ctx, http.MethodGet, "v2/topics/"+url.PathEscape(slug), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SheetSource is one block of a user sheet.
type SheetSource struct {
	Ref         string          `json:"ref"`
	HeRef       string          `json:"heRef"`
	Text        BiText          `json:"text"`
	OutsideText string          `json:"outsideText"`
	Comment     json.RawMessage `json:"comment"`
}

// SheetResponse is the sheets/{id} payload.
type SheetResponse struct {
	ID      int64         `json:"id"`
	Title   string        `json:"title"`
	Summary string        `json:"summary"`
	Owner   string        `json:"ownerName"`
	Views   int64         `json:"views"`
	Sources []SheetSource `json:"sources"`
}

// Sheet fetches a user sheet by numeric id.
func (c *Client) Sheet(ctx context.Context, id int64) (*SheetResponse, error) {
	var out SheetResponse
	if err := c.doJSON(ctx, http.MethodGet, "sheets/"+strconv.FormatInt(id, 10), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchHit is one OpenSearch hit.
type SearchHit struct {
	ID     string `json:"_id"`
	Source struct {
		Ref     string `json:"ref"`
		HeRef   string `json:"heRef"`
		Version string `json:"version"`
		Lang    string `json:"lang"`
	} `json:"_source"`
	Highlight map[string][]string `json:"highlight"`
}

// SearchResponse is the OpenSearch envelope.
type SearchResponse struct {
	Hits struct {
		Hits []SearchHit `json:"hits"`
	} `json:"hits"`
}

// SearchText posts an OpenSearch-style body to the text search endpoint.
func (c *Client) SearchText(ctx context.Context, body map[string]any) (*SearchResponse, error) {
	var out SearchResponse
	if err := c.doJSON(ctx, http.MethodPost, "search/text/_search", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// doJSON issues one API call with up to c.retries retries, exponential
// backoff, and a per-attempt timeout. Non-2xx statuses abort the attempt
// with a body preview for logging.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	full := c.base + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sefaria: encode %s body: %w", path, err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := c.backoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		data, err := c.attempt(ctx, method, full, payload)
		if err != nil {
			lastErr = err
			c.logger.Printf("%s %s attempt %d/%d failed: %v", method, path, attempt+1, c.retries+1, err)
			continue
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("sefaria: decode %s: %w", path, err)
		}
		return nil
	}
	return lastErr
}

func (c *Client) attempt(ctx context.Context, method, full string, payload []byte) ([]byte, error) {
	actx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(actx, method, full, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, preview(data))
	}
	return data, nil
}

func preview(data []byte) string {
	if len(data) > bodyPreviewLimit {
		data = data[:bodyPreviewLimit]
	}
	return string(data)
}
