package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// DecodePayment decodes a base64-encoded X-PAYMENT header value into a
// PaymentPayload.
func DecodePayment(encoded string) (*PaymentPayload, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid or malformed payment header: %w", err)
	}

	var payment PaymentPayload
	if err := json.Unmarshal(decoded, &payment); err != nil {
		return nil, fmt.Errorf("invalid or malformed payment header: %w", err)
	}
	payment.X402Version = Version

	return &payment, nil
}

// EncodePayment converts a PaymentPayload to a base64-encoded JSON string
// suitable for the X-PAYMENT header. Used by clients and tests.
func EncodePayment(payment *PaymentPayload) (string, error) {
	data, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeSettlement converts a SettleResponse to a base64-encoded JSON string
// for the X-PAYMENT-RESPONSE header.
func EncodeSettlement(settlement *SettleResponse) (string, error) {
	data, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSettlement converts a base64-encoded X-PAYMENT-RESPONSE header value
// back into a SettleResponse.
func DecodeSettlement(encoded string) (*SettleResponse, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode settlement: %w", err)
	}

	var settlement SettleResponse
	if err := json.Unmarshal(decoded, &settlement); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settlement: %w", err)
	}

	return &settlement, nil
}
