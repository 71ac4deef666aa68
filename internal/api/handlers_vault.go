package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/org/keyproxy/pkg/models"
)

// ProvisionHandler handles POST /v1/vault/keys. The real secret enters here
// once and is never returned by any endpoint afterwards.
func (s *Server) ProvisionHandler(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromCtx(r.Context())
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "missing "+ownerHeader+" header")
		return
	}

	var req struct {
		ProxyID           string `json:"proxy_id"`
		Secret            string `json:"secret"`
		Provider          string `json:"provider"`
		RotationIntervalS int64  `json:"rotation_interval_s"`
		WebhookURL        string `json:"webhook_url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.vault.Provision(r.Context(), owner, req.ProxyID, req.Secret, req.Provider,
		time.Duration(req.RotationIntervalS)*time.Second, req.WebhookURL)
	if err != nil {
		writeVaultError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"proxy_id": req.ProxyID,
		"provider": req.Provider,
	})
}

// ListKeysHandler handles GET /v1/vault/keys for the unlocked owner. Metadata
// only, never ciphertext or plaintext.
func (s *Server) ListKeysHandler(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromCtx(r.Context())
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "missing "+ownerHeader+" header")
		return
	}
	keys, err := s.vault.ListKeys(r.Context(), owner)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	count, err := s.vault.KeyCount(r.Context(), owner)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"keys": keys, "count": count},
	})
}

// ResolveHandler handles POST /v1/vault/keys/{proxyID}/resolve. Decryption
// runs under the caller's own session key, so another owner's id fails like an
// unknown one. A stale id chain-resolves and returns new_proxy_id alongside
// the secret; callers should update their stored reference. Revoked chains
// return 410.
func (s *Server) ResolveHandler(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromCtx(r.Context())
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "missing "+ownerHeader+" header")
		return
	}
	proxyID := chi.URLParam(r, "proxyID")

	res, err := s.vault.Resolve(r.Context(), owner, proxyID)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	if res.Status == models.ResolveRevoked {
		writeError(w, http.StatusGone, "proxy credential revoked")
		return
	}

	body := map[string]any{
		"status":   res.Status,
		"proxy_id": res.ProxyID,
		"provider": res.Provider,
		"secret":   res.Secret,
	}
	if res.Status == models.ResolveRotated {
		body["new_proxy_id"] = res.NewProxyID
	}
	writeJSON(w, http.StatusOK, body)
}

// RevokeHandler handles DELETE /v1/vault/keys/{proxyID}. Idempotent.
func (s *Server) RevokeHandler(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromCtx(r.Context())
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "missing "+ownerHeader+" header")
		return
	}
	proxyID := chi.URLParam(r, "proxyID")

	if err := s.vault.Revoke(r.Context(), owner, proxyID); err != nil {
		writeVaultError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StatusHandler handles GET /v1/vault/keys/{proxyID}/status.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	proxyID := chi.URLParam(r, "proxyID")

	info, err := s.engine.GetRotationInfo(r.Context(), proxyID)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": info})
}

// SweepHandler handles POST /v1/rotation/sweep, for external schedulers.
func (s *Server) SweepHandler(w http.ResponseWriter, r *http.Request) {
	rotated, err := s.engine.RotateExpiredKeys(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"rotated": rotated,
			"errors":  []string{err.Error()},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rotated": rotated})
}
