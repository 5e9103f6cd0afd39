package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const facilitatorTimeout = 30 * time.Second

// FacilitatorClient talks to an external x402 facilitator service over its
// verify/settle RPC contract. Both calls are network calls with their own
// failure and timeout semantics; callers must treat them as fallible.
type FacilitatorClient struct {
	baseURL string
	client  *http.Client
}

// NewFacilitatorClient creates a client for the facilitator at baseURL.
func NewFacilitatorClient(baseURL string) *FacilitatorClient {
	return &FacilitatorClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: facilitatorTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// facilitatorRequest is the request body for both verify and settle calls.
type facilitatorRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      *PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// Verify asks the facilitator whether the proof is valid against the
// requirement, without executing the transfer.
func (c *FacilitatorClient) Verify(ctx context.Context, payment *PaymentPayload, requirement PaymentRequirements) (*VerifyResponse, error) {
	var resp VerifyResponse
	if err := c.post(ctx, "/verify", payment, requirement, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Settle asks the facilitator to finalize the proof into a confirmed
// transfer. A proof can be spent at most once; the gateway never retries a
// failed settle.
func (c *FacilitatorClient) Settle(ctx context.Context, payment *PaymentPayload, requirement PaymentRequirements) (*SettleResponse, error) {
	var resp SettleResponse
	if err := c.post(ctx, "/settle", payment, requirement, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *FacilitatorClient) post(ctx context.Context, path string, payment *PaymentPayload, requirement PaymentRequirements, out any) error {
	body, err := json.Marshal(facilitatorRequest{
		X402Version:         Version,
		PaymentPayload:      payment,
		PaymentRequirements: requirement,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal facilitator request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create facilitator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("facilitator request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read facilitator response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("facilitator returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode facilitator response: %w", err)
	}

	return nil
}
