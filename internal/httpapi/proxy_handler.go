package httpapi

import (
	"io"
	"net/http"

	"x402_gateway/internal/utils"
)

// handleResponses forwards a gated inference request to the upstream API
// and relays the upstream's status and body verbatim. By the time this
// handler runs, the payment gate has already settled the escrow.
func (d *Dependencies) handleResponses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	result, err := d.Upstream.Responses(r.Context(), body)
	if err != nil {
		d.logger.Error("Upstream call failed", "error", err)
		utils.RespondWithError(w, http.StatusBadGateway, "upstream request failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.StatusCode)
	w.Write(result.Body)
}
