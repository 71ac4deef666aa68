package api

import "net/http"

// HealthHandler handles GET /v1/sys/health.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	count, err := s.vault.KeyCount(r.Context(), "")
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	credentialsTotal.Set(float64(count))
	activeSessionsTotal.Set(float64(s.sessions.ActiveSessions()))

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"credentials": count,
		"version":     "1.0.0",
	})
}
