package webctx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTavilyURL = "https://api.tavily.com"
	maxResults       = 3
)

// TavilyFetcher calls the Tavily search API and joins result snippets.
type TavilyFetcher struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewTavilyFetcher(baseURL, apiKey string) *TavilyFetcher {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultTavilyURL
	}
	return &TavilyFetcher{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type tavilyRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		Content string `json:"content"`
	} `json:"results"`
}

func (f *TavilyFetcher) Search(ctx context.Context, query string) (string, error) {
	payload, err := json.Marshal(tavilyRequest{Query: query, MaxResults: maxResults})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.apiKey)

	res, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("tavily status %d: %s", res.StatusCode, string(body))
	}

	var parsed tavilyResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	snippets := make([]string, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if s := strings.TrimSpace(r.Content); s != "" {
			snippets = append(snippets, s)
		}
	}
	return strings.Join(snippets, "\n"), nil
}
