package storage

import "errors"

var (
	// ErrPaymentNotFound is returned when a payment is not found
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrAPICallNotFound is returned when an API call record is not found
	ErrAPICallNotFound = errors.New("API call record not found")

	// ErrAlreadyDisbursed is returned when a conditional refund update
	// matches no row: the payment already has a disbursement reference.
	ErrAlreadyDisbursed = errors.New("refund already disbursed")
)
