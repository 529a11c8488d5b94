package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	sc "github.com/okulov/vaultsync/internal/server/config"
	"github.com/okulov/vaultsync/internal/server/services"
)

type statusResponse struct {
	VaultRevision          int64  `json:"vaultRevision"`
	ServerVersion          string `json:"serverVersion"`
	ClientVersionSupported bool   `json:"clientVersionSupported"`
	SRPSalt                []byte `json:"srpSalt"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.vaults.Status(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, statusResponse{
		VaultRevision:          info.VaultRevision,
		ServerVersion:          sc.ServerVersion,
		ClientVersionSupported: clientVersionSupported(r.Header.Get("X-Client-Version")),
		SRPSalt:                info.Salt,
	})
}

// clientVersionSupported compares the dotted version the client sent
// against MinClientVersion. Clients that send nothing get the benefit
// of the doubt; the flag is advisory.
func clientVersionSupported(v string) bool {
	if v == "" {
		return true
	}
	got := strings.Split(v, ".")
	floor := strings.Split(sc.MinClientVersion, ".")
	for i := 0; i < len(floor); i++ {
		if i >= len(got) {
			return false
		}
		g, err := strconv.Atoi(got[i])
		if err != nil {
			return false
		}
		m, _ := strconv.Atoi(floor[i])
		if g != m {
			return g > m
		}
	}
	return true
}

type vaultResponse struct {
	Blob               []byte          `json:"blob"`
	RevisionNumber     int64           `json:"revisionNumber"`
	Version            int64           `json:"version"`
	EncryptionType     string          `json:"encryptionType"`
	EncryptionSettings json.RawMessage `json:"encryptionSettings"`
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	vault, err := s.vaults.Get(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, vaultResponse{
		Blob:               vault.Blob,
		RevisionNumber:     vault.RevisionNumber,
		Version:            vault.Version,
		EncryptionType:     vault.EncryptionType,
		EncryptionSettings: vault.EncryptionSettings,
	})
}

type uploadVaultRequest struct {
	StatedCurrentRevision int64           `json:"statedCurrentRevision"`
	Blob                  []byte          `json:"blob"`
	Version               int64           `json:"version"`
	EncryptionType        string          `json:"encryptionType"`
	EncryptionSettings    json.RawMessage `json:"encryptionSettings"`
}

type uploadVaultResponse struct {
	RevisionNumber int64 `json:"revisionNumber"`
}

func (s *Server) handleUploadVault(w http.ResponseWriter, r *http.Request) {
	var req uploadVaultRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	vault, err := s.vaults.Upload(r.Context(), services.UploadParams{
		UserID:                userIDFromContext(r.Context()),
		StatedCurrentRevision: req.StatedCurrentRevision,
		Blob:                  req.Blob,
		Version:               req.Version,
		EncryptionType:        req.EncryptionType,
		EncryptionSettings:    req.EncryptionSettings,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, uploadVaultResponse{RevisionNumber: vault.RevisionNumber})
}
