package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okulov/vaultsync/internal/common"
)

// ErrorResponse carries a human message plus a stable machine-readable
// code. Clients branch on Code, never on Error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// respondServiceError maps the service error taxonomy onto HTTP statuses
// and wire codes.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
	case errors.Is(err, common.ErrAccountLocked):
		respondError(w, http.StatusLocked, "account_locked", "account temporarily locked")
	case errors.Is(err, common.ErrTwoFactorRequired):
		respondError(w, http.StatusUnauthorized, "two_factor_required", "second factor required")
	case errors.Is(err, common.ErrInvalidTwoFactorCode):
		respondError(w, http.StatusUnauthorized, "invalid_two_factor_code", "invalid one-time code")
	case errors.Is(err, common.ErrInvalidRecoveryCode):
		respondError(w, http.StatusUnauthorized, "invalid_recovery_code", "invalid recovery code")
	case errors.Is(err, common.ErrInvalidRefreshToken):
		respondError(w, http.StatusUnauthorized, "invalid_refresh_token", "refresh token not accepted")
	case errors.Is(err, common.ErrTokenExpired):
		respondError(w, http.StatusUnauthorized, "token_expired", "access token expired")
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrorUnauthorized):
		respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	case errors.Is(err, common.ErrVaultOutdated):
		respondError(w, http.StatusConflict, "vault_outdated", "a newer vault revision exists")
	case errors.Is(err, common.ErrorAlreadyExists):
		respondError(w, http.StatusConflict, "username_taken", "username already registered")
	case errors.Is(err, common.ErrorNotFound):
		respondError(w, http.StatusNotFound, "not_found", "not found")
	default:
		respondError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
