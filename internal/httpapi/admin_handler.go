package httpapi

import (
	"encoding/json"
	"net/http"

	"x402_gateway/internal/auth"
	"x402_gateway/internal/utils"
)

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// handleAdminLogin exchanges the operator password for a short-lived JWT.
func (d *Dependencies) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if d.Config.AdminPasswordHash == "" {
		utils.RespondWithError(w, http.StatusForbidden, "admin access is not configured")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !auth.CheckPassword(d.Config.AdminPasswordHash, req.Password) {
		utils.RespondWithError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := auth.GenerateAdminJWT(d.Config)
	if err != nil {
		d.logger.Error("Failed to generate admin token", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}

// handleAdminRefundsProcess runs a refund disbursement batch on demand.
func (d *Dependencies) handleAdminRefundsProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := d.Refunds.ProcessAllPending(r.Context())
	if err != nil {
		d.logger.Error("Refund batch failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "refund processing failed")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, stats)
}

// handleAdminRefundsStats reports what the next refund batch would pay out.
func (d *Dependencies) handleAdminRefundsStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := d.Refunds.PendingStats(r.Context())
	if err != nil {
		d.logger.Error("Failed to read pending refunds", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to read pending refunds")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, stats)
}
