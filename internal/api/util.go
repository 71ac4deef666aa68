package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/org/keyproxy/internal/vault"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"errors": []string{msg}})
}

// writeVaultError maps the vault error taxonomy onto HTTP statuses. Decryption
// failures are deliberately reported as not-found so the API is not an oracle
// for key correctness.
func writeVaultError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vault.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, vault.ErrUnauthorized.Error())
	case errors.Is(err, vault.ErrForbidden):
		writeError(w, http.StatusForbidden, vault.ErrForbidden.Error())
	case errors.Is(err, vault.ErrNotFound), errors.Is(err, vault.ErrDecryption):
		writeError(w, http.StatusNotFound, vault.ErrNotFound.Error())
	case errors.Is(err, vault.ErrRevoked):
		writeError(w, http.StatusGone, vault.ErrRevoked.Error())
	case errors.Is(err, vault.ErrConflict):
		writeError(w, http.StatusConflict, vault.ErrConflict.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
