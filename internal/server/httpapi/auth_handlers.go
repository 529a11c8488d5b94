package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/okulov/vaultsync/internal/server/services"
)

type registerRequest struct {
	Username    string          `json:"username"`
	Salt        []byte          `json:"salt"`
	Verifier    []byte          `json:"verifier"`
	KDFType     string          `json:"kdfType"`
	KDFSettings json.RawMessage `json:"kdfSettings"`

	VaultBlob          []byte          `json:"vaultBlob"`
	VaultVersion       int64           `json:"vaultVersion"`
	EncryptionType     string          `json:"encryptionType"`
	EncryptionSettings json.RawMessage `json:"encryptionSettings"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.Username == "" || len(req.Salt) == 0 || len(req.Verifier) == 0 {
		respondError(w, http.StatusBadRequest, "bad_request", "username, salt and verifier are required")
		return
	}

	user, err := s.users.Register(r.Context(), services.RegisterParams{
		Username:           req.Username,
		Salt:               req.Salt,
		Verifier:           req.Verifier,
		KDFType:            req.KDFType,
		KDFSettings:        req.KDFSettings,
		VaultBlob:          req.VaultBlob,
		VaultVersion:       req.VaultVersion,
		EncryptionType:     req.EncryptionType,
		EncryptionSettings: req.EncryptionSettings,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"userId": user.ID})
}

type loginInitiateRequest struct {
	Username string `json:"username"`
}

type loginInitiateResponse struct {
	LoginID         string          `json:"loginId"`
	Salt            []byte          `json:"salt"`
	ServerEphemeral []byte          `json:"serverEphemeral"`
	KDFType         string          `json:"kdfType"`
	KDFSettings     json.RawMessage `json:"kdfSettings"`
}

func (s *Server) handleLoginInitiate(w http.ResponseWriter, r *http.Request) {
	var req loginInitiateRequest
	if err := decodeJSON(r, &req); err != nil || req.Username == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "username is required")
		return
	}

	ch, err := s.users.LoginInitiate(r.Context(), req.Username, clientIP(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, loginInitiateResponse{
		LoginID:         ch.LoginID,
		Salt:            ch.Salt,
		ServerEphemeral: ch.ServerEphemeral,
		KDFType:         ch.KDFType,
		KDFSettings:     ch.KDFSettings,
	})
}

type loginFinishRequest struct {
	LoginID         string `json:"loginId"`
	ClientEphemeral []byte `json:"clientEphemeral"`
	Proof           []byte `json:"sessionProof"`
	TOTPCode        string `json:"totpCode,omitempty"`
	RecoveryCode    string `json:"recoveryCode,omitempty"`
	RememberMe      bool   `json:"rememberMe"`
}

type loginFinishResponse struct {
	ServerProof  []byte `json:"serverProof"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleLoginFinish(w http.ResponseWriter, r *http.Request) {
	var req loginFinishRequest
	if err := decodeJSON(r, &req); err != nil || req.LoginID == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	res, err := s.users.LoginFinish(r.Context(), services.FinishParams{
		LoginID:         req.LoginID,
		ClientEphemeral: req.ClientEphemeral,
		Proof:           req.Proof,
		TOTPCode:        req.TOTPCode,
		RecoveryCode:    req.RecoveryCode,
		RememberMe:      req.RememberMe,
		Origin:          clientIP(r),
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, loginFinishResponse{
		ServerProof:  res.ServerProof,
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "refreshToken is required")
		return
	}

	pair, err := s.users.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "refreshToken is required")
		return
	}

	if err := s.users.Revoke(r.Context(), req.RefreshToken); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	LoginID         string `json:"loginId"`
	ClientEphemeral []byte `json:"clientEphemeral"`
	Proof           []byte `json:"sessionProof"`

	NewSalt        []byte          `json:"newSalt"`
	NewVerifier    []byte          `json:"newVerifier"`
	NewKDFType     string          `json:"newKdfType"`
	NewKDFSettings json.RawMessage `json:"newKdfSettings"`

	StatedCurrentRevision int64           `json:"statedCurrentRevision"`
	VaultBlob             []byte          `json:"vaultBlob"`
	VaultVersion          int64           `json:"vaultVersion"`
	EncryptionType        string          `json:"encryptionType"`
	EncryptionSettings    json.RawMessage `json:"encryptionSettings"`
}

type changePasswordResponse struct {
	ServerProof []byte `json:"serverProof"`
	NewRevision int64  `json:"newRevision"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil || req.LoginID == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if len(req.NewSalt) == 0 || len(req.NewVerifier) == 0 {
		respondError(w, http.StatusBadRequest, "bad_request", "newSalt and newVerifier are required")
		return
	}

	res, err := s.users.ChangePassword(r.Context(), services.ChangePasswordParams{
		LoginID:               req.LoginID,
		ClientEphemeral:       req.ClientEphemeral,
		Proof:                 req.Proof,
		NewSalt:               req.NewSalt,
		NewVerifier:           req.NewVerifier,
		NewKDFType:            req.NewKDFType,
		NewKDFSettings:        req.NewKDFSettings,
		StatedCurrentRevision: req.StatedCurrentRevision,
		VaultBlob:             req.VaultBlob,
		VaultVersion:          req.VaultVersion,
		EncryptionType:        req.EncryptionType,
		EncryptionSettings:    req.EncryptionSettings,
		Origin:                clientIP(r),
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, changePasswordResponse{
		ServerProof: res.ServerProof,
		NewRevision: res.NewRevision,
	})
}

type twoFactorSetupResponse struct {
	Secret        string   `json:"secret"`
	RecoveryCodes []string `json:"recoveryCodes"`
}

func (s *Server) handleEnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	setup, err := s.users.EnableTwoFactor(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, twoFactorSetupResponse{
		Secret:        setup.Secret,
		RecoveryCodes: setup.RecoveryCodes,
	})
}

func (s *Server) handleDisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	if err := s.users.DisableTwoFactor(r.Context(), userIDFromContext(r.Context())); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
