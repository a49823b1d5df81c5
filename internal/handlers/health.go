package handlers

import (
	"encoding/json"
	"net/http"
)

// HealthHandler answers liveness probes.
type HealthHandler struct{}

// Handle implements GET /healthz. The endpoint sits outside /api and carries
// no authentication.
func (HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	payload := map[string]string{
		"status":  "ok",
		"service": "loopchat",
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
