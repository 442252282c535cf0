package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
)

// HTTPEngine forwards generation requests to an out-of-process inference
// service. The service owns the model; this side only serializes the
// request/response pair.
type HTTPEngine struct {
	url    string
	client *http.Client
}

// NewHTTPEngine for the given generate endpoint
func NewHTTPEngine(url string) *HTTPEngine {
	return &HTTPEngine{
		url:    url,
		client: http.DefaultClient,
	}
}

type generateRequest struct {
	Prompt        string `json:"prompt"`
	Deterministic bool   `json:"deterministic"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// Generate implements TextEngine
func (h *HTTPEngine) Generate(ctx context.Context, prompt string, deterministic bool) (string, error) {
	body, err := json.Marshal(generateRequest{
		Prompt:        prompt,
		Deterministic: deterministic,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create generate request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call inference service: %w", err)
	}

	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("inference service returned HTTP %d", res.StatusCode)
	}

	data, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read inference response: %w", err)
	}

	parsed := generateResponse{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to unmarshal inference response: %w", err)
	}

	return StripSentinel(parsed.Text), nil
}
