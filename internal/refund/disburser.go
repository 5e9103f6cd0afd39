package refund

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"x402_gateway/internal/utils"
)

// Disburser sends a refund back to a payer and returns a transaction
// reference for the ledger.
type Disburser interface {
	Send(ctx context.Context, userAddress string, amountUSD float64, currency, network string) (string, error)
}

// StubDisburser logs what would be sent and fabricates a transaction
// reference. Used in development and whenever no disbursement RPC endpoint
// is configured.
type StubDisburser struct {
	logger *utils.Logger
	seq    int
}

// NewStubDisburser creates a disburser that only pretends to pay.
func NewStubDisburser() *StubDisburser {
	return &StubDisburser{logger: utils.NewLogger("refund-stub")}
}

// Send logs the refund and returns a deterministic fake transaction hash.
func (d *StubDisburser) Send(ctx context.Context, userAddress string, amountUSD float64, currency, network string) (string, error) {
	d.seq++
	d.logger.Info("Simulated refund disbursement",
		"user_address", userAddress,
		"amount_usd", amountUSD,
		"currency", currency,
		"network", network,
	)
	return fmt.Sprintf("0xrefund%08x", d.seq), nil
}

// RPCDisburser submits refund transfers to an external disbursement service
// that holds the operator wallet key and talks to the chain.
type RPCDisburser struct {
	url    string
	client *http.Client
}

// NewRPCDisburser creates a disburser backed by the given RPC endpoint.
func NewRPCDisburser(url string) *RPCDisburser {
	return &RPCDisburser{
		url: url,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type sendTransactionRequest struct {
	To      string `json:"to"`
	Amount  int64  `json:"amount"`
	Token   string `json:"token"`
	Network string `json:"network"`
}

type sendTransactionResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error,omitempty"`
}

// Send submits a transfer of the refund amount (converted to the token's
// smallest unit, rounded down so the operator never over-refunds) and
// returns the resulting transaction hash.
func (d *RPCDisburser) Send(ctx context.Context, userAddress string, amountUSD float64, currency, network string) (string, error) {
	atomic := int64(math.Floor(amountUSD * 1e6))
	if atomic <= 0 {
		return "", fmt.Errorf("refund amount %v rounds to zero", amountUSD)
	}

	body, err := json.Marshal(sendTransactionRequest{
		To:      userAddress,
		Amount:  atomic,
		Token:   currency,
		Network: network,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal transaction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url+"/send_transaction", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("disbursement request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read disbursement response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("disbursement failed: status=%d body=%s", resp.StatusCode, respBody)
	}

	var result sendTransactionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode disbursement response: %w", err)
	}
	if result.TxHash == "" {
		return "", fmt.Errorf("disbursement returned no transaction hash: %s", result.Error)
	}

	return result.TxHash, nil
}
