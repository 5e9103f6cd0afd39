package httpapi

import (
	"net/http"

	"x402_gateway/internal/utils"
)

// handleHealth reports the health of the gateway's backing services.
func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	checks := map[string]string{}

	if d.DB != nil {
		if err := d.DB.Health(r.Context()); err != nil {
			checks["database"] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Health(r.Context()); err != nil {
			checks["redis"] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			checks["redis"] = "ok"
		}
	}

	utils.RespondWithJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// handleRoot identifies the service.
func (d *Dependencies) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		utils.RespondWithError(w, http.StatusNotFound, "not found")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{
		"service": "x402 AI Gateway",
		"version": "0.1.0",
		"status":  "running",
	})
}
