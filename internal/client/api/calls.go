package api

import (
	"context"
	"encoding/json"
	"net/http"
)

// Wire types mirror the server's JSON contract; byte slices travel as
// base64.

type RegisterParams struct {
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

func (c *Client) Register(ctx context.Context, p RegisterParams) error {
	return c.do(ctx, http.MethodPost, "/auth/register", p, nil, false, false)
}

type LoginChallenge struct {
	LoginID         string          `json:"loginId"`
	Salt            []byte          `json:"salt"`
	ServerEphemeral []byte          `json:"serverEphemeral"`
	KDFType         string          `json:"kdfType"`
	KDFSettings     json.RawMessage `json:"kdfSettings"`
}

func (c *Client) LoginInitiate(ctx context.Context, username string) (*LoginChallenge, error) {
	var ch LoginChallenge
	err := c.do(ctx, http.MethodPost, "/auth/login/initiate",
		map[string]string{"username": username}, &ch, false, false)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// ChangePasswordInitiate opens the same SRP handshake as a login but on
// the password-change route, so servers can audit them apart.
func (c *Client) ChangePasswordInitiate(ctx context.Context, username string) (*LoginChallenge, error) {
	var ch LoginChallenge
	err := c.do(ctx, http.MethodPost, "/auth/change-password/initiate",
		map[string]string{"username": username}, &ch, false, false)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

type LoginFinishParams struct {
	LoginID         string `json:"loginId"`
	ClientEphemeral []byte `json:"clientEphemeral"`
	Proof           []byte `json:"sessionProof"`
	TOTPCode        string `json:"totpCode,omitempty"`
	RecoveryCode    string `json:"recoveryCode,omitempty"`
	RememberMe      bool   `json:"rememberMe"`
}

type LoginFinishResult struct {
	ServerProof  []byte `json:"serverProof"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// LoginFinish completes the handshake. On success the returned tokens
// are installed on the client.
func (c *Client) LoginFinish(ctx context.Context, p LoginFinishParams) (*LoginFinishResult, error) {
	var res LoginFinishResult
	err := c.do(ctx, http.MethodPost, "/auth/login/finish", p, &res, false, false)
	if err != nil {
		return nil, err
	}
	c.SetTokens(res.AccessToken, res.RefreshToken)
	return &res, nil
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Logout revokes the refresh token server-side and clears both tokens.
func (c *Client) Logout(ctx context.Context) error {
	_, refreshToken := c.tokens()
	defer c.ClearTokens()
	if refreshToken == "" {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/auth/revoke",
		map[string]string{"refreshToken": refreshToken}, nil, false, false)
}

type ChangePasswordParams struct {
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

type ChangePasswordResult struct {
	ServerProof []byte `json:"serverProof"`
	NewRevision int64  `json:"newRevision"`
}

func (c *Client) ChangePassword(ctx context.Context, p ChangePasswordParams) (*ChangePasswordResult, error) {
	var res ChangePasswordResult
	err := c.do(ctx, http.MethodPost, "/auth/change-password", p, &res, false, false)
	if err != nil {
		return nil, err
	}
	// the old epoch's sessions are revoked server-side
	c.ClearTokens()
	return &res, nil
}

type Status struct {
	VaultRevision          int64  `json:"vaultRevision"`
	ServerVersion          string `json:"serverVersion"`
	ClientVersionSupported bool   `json:"clientVersionSupported"`
	SRPSalt                []byte `json:"srpSalt"`
}

func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, &st, true, false); err != nil {
		return nil, err
	}
	return &st, nil
}

type Vault struct {
	Blob               []byte          `json:"blob"`
	RevisionNumber     int64           `json:"revisionNumber"`
	Version            int64           `json:"version"`
	EncryptionType     string          `json:"encryptionType"`
	EncryptionSettings json.RawMessage `json:"encryptionSettings"`
}

func (c *Client) FetchVault(ctx context.Context) (*Vault, error) {
	var v Vault
	if err := c.do(ctx, http.MethodGet, "/vault", nil, &v, true, false); err != nil {
		return nil, err
	}
	return &v, nil
}

type UploadParams struct {
	StatedCurrentRevision int64           `json:"statedCurrentRevision"`
	Blob                  []byte          `json:"blob"`
	Version               int64           `json:"version"`
	EncryptionType        string          `json:"encryptionType"`
	EncryptionSettings    json.RawMessage `json:"encryptionSettings"`
}

// UploadVault submits a new revision and returns the number the server
// assigned it.
func (c *Client) UploadVault(ctx context.Context, p UploadParams) (int64, error) {
	var res struct {
		RevisionNumber int64 `json:"revisionNumber"`
	}
	if err := c.do(ctx, http.MethodPost, "/vault", p, &res, true, false); err != nil {
		return 0, err
	}
	return res.RevisionNumber, nil
}

type TwoFactorSetup struct {
	Secret        string   `json:"secret"`
	RecoveryCodes []string `json:"recoveryCodes"`
}

func (c *Client) EnableTwoFactor(ctx context.Context) (*TwoFactorSetup, error) {
	var setup TwoFactorSetup
	if err := c.do(ctx, http.MethodPost, "/auth/2fa/enable", nil, &setup, true, false); err != nil {
		return nil, err
	}
	return &setup, nil
}

func (c *Client) DisableTwoFactor(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/2fa/disable", nil, nil, true, false)
}
