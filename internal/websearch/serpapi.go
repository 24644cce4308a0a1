package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// SerpAPI queries the SerpAPI Google results endpoint.
// https://serpapi.com/search-api
type SerpAPI struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func (s SerpAPI) Name() string { return "serpapi" }

func (s SerpAPI) Active() bool { return s.APIKey != "" }

func (s SerpAPI) Search(ctx context.Context, query string, max int) ([]Result, error) {
	base := s.BaseURL
	if base == "" {
		base = "https://serpapi.com"
	}
	q := url.Values{}
	q.Set("engine", "google")
	q.Set("q", query)
	q.Set("num", strconv.Itoa(max))
	q.Set("api_key", s.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/search.json?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serpapi: status %d", resp.StatusCode)
	}

	var raw struct {
		OrganicResults []struct {
			Title string `json:"title"`
			Link  string `json:"link"`
		} `json:"organic_results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(raw.OrganicResults))
	for _, r := range raw.OrganicResults {
		out = append(out, Result{Title: r.Title, URL: r.Link})
	}
	return out, nil
}
