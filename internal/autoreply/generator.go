package autoreply

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPGenerator calls an external text-generation service over JSON HTTP.
// The service contract is {styleProfile, history} -> {text}.
type HTTPGenerator struct {
	endpoint string
	client   *http.Client
}

// NewHTTPGenerator returns a generator posting to endpoint.
func NewHTTPGenerator(endpoint string) *HTTPGenerator {
	return &HTTPGenerator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type generateRequest struct {
	StyleProfile string         `json:"styleProfile"`
	History      []HistoryEntry `json:"history"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// Generate posts the request and decodes the reply text.
func (g *HTTPGenerator) Generate(ctx context.Context, styleProfile string, history []HistoryEntry) (string, error) {
	payload, err := json.Marshal(generateRequest{
		StyleProfile: styleProfile,
		History:      history,
	})
	if err != nil {
		return "", fmt.Errorf("autoreply: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("autoreply: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("autoreply: generator call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("autoreply: generator status %d: %s", resp.StatusCode, body)
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("autoreply: decode response: %w", err)
	}
	return decoded.Text, nil
}
