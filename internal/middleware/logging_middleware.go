// Package middleware holds the HTTP middleware shared across routes:
// request logging and admin JWT enforcement. The payment gate lives in its
// own package; it is protocol, not plumbing.
package middleware

import (
	"net/http"
	"time"

	"x402_gateway/internal/logging"
	"x402_gateway/internal/utils"
	"x402_gateway/internal/x402"
)

// statusWriter captures the response status for logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Logging logs every request to the console logger and, when an access
// logger is configured, as a JSONL entry. accessLogger may be nil.
func Logging(accessLogger *logging.AccessLogger) func(http.Handler) http.Handler {
	consoleLogger := utils.NewLogger("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			duration := time.Since(start)
			consoleLogger.Info("Request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration", duration.String(),
			)

			if accessLogger != nil {
				accessLogger.Log(logging.Entry{
					Timestamp:  start.UTC(),
					Method:     r.Method,
					Path:       r.URL.Path,
					Status:     sw.status,
					DurationMS: float64(duration.Microseconds()) / 1000.0,
					RemoteAddr: r.RemoteAddr,
					UserAgent:  r.UserAgent(),
					TxHash:     settlementTxHash(sw.Header()),
				})
			}
		})
	}
}

// settlementTxHash pulls the transaction reference out of the response's
// settlement receipt, if one was attached.
func settlementTxHash(header http.Header) string {
	encoded := header.Get(x402.PaymentResponseHeader)
	if encoded == "" {
		return ""
	}
	settlement, err := x402.DecodeSettlement(encoded)
	if err != nil {
		return ""
	}
	return settlement.Transaction
}
