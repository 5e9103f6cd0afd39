package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the lifecycle state of an escrowed payment. Rows are
// written once the upstream outcome is known, so a payment is born as
// partial_refund or settled_no_refund; only partial_refund rows change
// state again, to refunded, when the disbursement lands.
type PaymentStatus string

const (
	// PaymentStatusPartialRefund: a refund obligation is recorded but not
	// yet disbursed.
	PaymentStatusPartialRefund PaymentStatus = "partial_refund"

	// PaymentStatusRefunded: terminal; the refund was disbursed and
	// refund_tx_hash is set.
	PaymentStatusRefunded PaymentStatus = "refunded"

	// PaymentStatusSettledNoRefund: terminal; actual cost matched the
	// escrow (within the dust threshold), nothing is owed back.
	PaymentStatusSettledNoRefund PaymentStatus = "settled_no_refund"
)

// Payment is one escrowed payment (payments table). Inserted with its
// refund figures after the upstream call completes, and updated by the
// refund processor when the refund is disbursed.
//
// Invariant: RefundTxHash is set if and only if Status is refunded;
// RefundAmount is always >= 0.
type Payment struct {
	ID                uuid.UUID     `db:"id" json:"id"`
	TxHash            string        `db:"tx_hash" json:"tx_hash"`
	PayerAddress      string        `db:"payer_address" json:"payer_address"`
	Currency          string        `db:"currency" json:"currency"`
	Blockchain        string        `db:"blockchain" json:"blockchain"`
	AmountEscrowed    float64       `db:"amount_escrowed" json:"amount_escrowed"`
	RefundAmount      float64       `db:"refund_amount" json:"refund_amount"`
	RefundTxHash      *string       `db:"refund_tx_hash" json:"refund_tx_hash,omitempty"`
	RefundProcessedAt *time.Time    `db:"refund_processed_at" json:"refund_processed_at,omitempty"`
	Status            PaymentStatus `db:"status" json:"status"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
}
