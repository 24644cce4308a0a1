package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Tavily queries the Tavily search API.
// https://docs.tavily.com/docs/rest-api
type Tavily struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func (t Tavily) Name() string { return "tavily" }

func (t Tavily) Active() bool { return t.APIKey != "" }

func (t Tavily) Search(ctx context.Context, query string, max int) ([]Result, error) {
	base := t.BaseURL
	if base == "" {
		base = "https://api.tavily.com"
	}
	payload, err := json.Marshal(map[string]any{
		"api_key":     t.APIKey,
		"query":       query,
		"max_results": max,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily: status %d", resp.StatusCode)
	}

	var raw struct {
		Results []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(raw.Results))
	for _, r := range raw.Results {
		out = append(out, Result{Title: r.Title, URL: r.URL})
	}
	return out, nil
}
