package payment

import (
	"bytes"
	"net/http"

	"x402_gateway/internal/x402"
)

// responseRecorder buffers the downstream handler's response so the gate can
// read the usage data and attach the settlement header before anything
// reaches the caller.
type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{
		header: make(http.Header),
		status: http.StatusOK,
	}
}

func (r *responseRecorder) Header() http.Header {
	return r.header
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	return r.body.Write(b)
}

// writeTo replays the buffered response onto the real writer, adding the
// X-PAYMENT-RESPONSE header when a settlement receipt exists.
func (r *responseRecorder) writeTo(w http.ResponseWriter, settlementHeader string) {
	for key, values := range r.header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if settlementHeader != "" {
		w.Header().Set(x402.PaymentResponseHeader, settlementHeader)
	}
	w.WriteHeader(r.status)
	w.Write(r.body.Bytes())
}
