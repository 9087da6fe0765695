package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const serperEndpoint = "https://google.serper.dev/search"

// SerperClient implements SearchProvider over the Serper HTTP API.
type SerperClient struct {
	apiKey string
	client *http.Client
	gl     string
	hl     string
}

// NewSerperClient creates a client localized for Brazilian results.
func NewSerperClient(apiKey string, timeout time.Duration) *SerperClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SerperClient{
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		gl:     "br",
		hl:     "pt-br",
	}
}

type serperRequest struct {
	Q   string `json:"q"`
	GL  string `json:"gl"`
	HL  string `json:"hl"`
	Num int    `json:"num"`
}

type serperResponse struct {
	Organic []Candidate `json:"organic"`
}

// Search queries Serper and returns directory-filtered organic hits.
func (s *SerperClient) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = 10
	}
	payload, err := json.Marshal(serperRequest{Q: query, GL: s.gl, HL: s.hl, Num: limit})
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serperEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling search provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search provider returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	filtered := FilterDirectories(parsed.Organic)
	log.Debug().
		Str("query", query).
		Int("hits", len(parsed.Organic)).
		Int("after_filter", len(filtered)).
		Msg("Search completed")
	return filtered, nil
}
