package models

// EscrowRecord bundles the persisted outcome of one settled request: the
// Payment row and, when usage data was available, the APICall audit row. It
// is what the gateway enqueues after responding, so that database writes
// stay off the request path.
type EscrowRecord struct {
	Payment Payment  `json:"payment"`
	APICall *APICall `json:"api_call,omitempty"`
}
