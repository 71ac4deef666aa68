package api

import (
	"encoding/base64"
	"net/http"

	"github.com/org/keyproxy/internal/crypto"
)

// UnlockHandler handles POST /v1/session/unlock. The unlock key is supplied
// base64-encoded, derived client-side from the owner's wallet; the server
// keeps only the HKDF-derived key, in memory, for the session TTL.
func (s *Server) UnlockHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID   string `json:"owner_id"`
		UnlockKey string `json:"unlock_key"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OwnerID == "" || req.UnlockKey == "" {
		writeError(w, http.StatusBadRequest, "owner_id and unlock_key are required")
		return
	}

	unlockKey, err := base64.StdEncoding.DecodeString(req.UnlockKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid unlock_key encoding (must be base64)")
		return
	}
	defer crypto.ZeroBytes(unlockKey)

	if err := s.sessions.Unlock(req.OwnerID, unlockKey); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	activeSessionsTotal.Set(float64(s.sessions.ActiveSessions()))
	w.WriteHeader(http.StatusNoContent)
}

// LogoutHandler handles POST /v1/session/logout.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromCtx(r.Context())
	if owner == "" {
		var req struct {
			OwnerID string `json:"owner_id"`
		}
		decodeJSON(r, &req) //nolint:errcheck
		owner = req.OwnerID
	}
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner_id required")
		return
	}
	s.sessions.Logout(owner)
	activeSessionsTotal.Set(float64(s.sessions.ActiveSessions()))
	w.WriteHeader(http.StatusNoContent)
}
