package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

const defaultBaseURL = "https://api.openai.com"

// Client forwards inference requests to the metered OpenAI-style API.
// Non-2xx upstream statuses are not errors: the gateway relays them to
// the caller with the upstream's own status and body.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	mock    bool
}

// Config holds the upstream connection settings.
type Config struct {
	// BaseURL is the upstream API root (default https://api.openai.com)
	BaseURL string

	// APIKey is sent as a Bearer token
	APIKey string

	// Timeout bounds a single upstream call
	Timeout time.Duration

	// Mock short-circuits calls with a canned response (dev mode)
	Mock bool
}

// Result is the outcome of an upstream call.
type Result struct {
	StatusCode int
	Body       []byte
	Latency    time.Duration
}

// Usage holds the token counts reported by the upstream response.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Found        bool
}

// NewClient creates a client for the upstream inference API.
func NewClient(config Config) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  config.APIKey,
		mock:    config.Mock,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Responses sends a request to the upstream /v1/responses endpoint.
// The body is forwarded verbatim. An error is returned only for
// transport failures; HTTP-level failures come back in the Result.
func (c *Client) Responses(ctx context.Context, body []byte) (*Result, error) {
	if c.mock {
		return c.mockResult(body)
	}

	start := time.Now()

	url := c.baseURL + "/v1/responses"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Latency:    time.Since(start),
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// ExtractUsage pulls token counts out of an upstream response body.
// Both the Responses API field names (input_tokens/output_tokens) and
// the chat-completions names (prompt_tokens/completion_tokens) are
// accepted. Found is false when no usage object is present, which the
// caller treats as an accounting failure.
func ExtractUsage(body []byte) Usage {
	usage := gjson.GetBytes(body, "usage")
	if !usage.Exists() {
		return Usage{}
	}

	u := Usage{Found: true}
	u.InputTokens = int(usage.Get("input_tokens").Int())
	if u.InputTokens == 0 {
		u.InputTokens = int(usage.Get("prompt_tokens").Int())
	}
	u.OutputTokens = int(usage.Get("output_tokens").Int())
	if u.OutputTokens == 0 {
		u.OutputTokens = int(usage.Get("completion_tokens").Int())
	}
	return u
}

// mockResult fabricates a response for dev mode so the full escrow and
// refund path can be exercised without an upstream API key.
func (c *Client) mockResult(reqBody []byte) (*Result, error) {
	model := gjson.GetBytes(reqBody, "model").String()
	if model == "" {
		model = "gpt-3.5-turbo"
	}

	mock := map[string]interface{}{
		"id":     "resp_mock_0000000000",
		"object": "response",
		"model":  model,
		"output": []map[string]interface{}{
			{
				"type": "message",
				"role": "assistant",
				"content": []map[string]interface{}{
					{"type": "output_text", "text": "This is a mocked response."},
				},
			},
		},
		"usage": map[string]interface{}{
			"input_tokens":      12,
			"completion_tokens": 7,
			"total_tokens":      19,
		},
	}

	body, err := json.Marshal(mock)
	if err != nil {
		return nil, fmt.Errorf("failed to build mock response: %w", err)
	}

	return &Result{StatusCode: http.StatusOK, Body: body}, nil
}
