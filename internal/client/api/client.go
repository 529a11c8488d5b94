// Package api is the HTTP client for the vaultsync server. It owns the
// token pair and performs at most one transparent refresh-and-retry when
// an access token expires mid-call.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/okulov/vaultsync/internal/client/config"
	"github.com/okulov/vaultsync/internal/common"
)

type Client struct {
	baseURL string
	http    *http.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetTokens installs a token pair, typically right after login.
func (c *Client) SetTokens(access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = access
	c.refreshToken = refresh
}

func (c *Client) ClearTokens() {
	c.SetTokens("", "")
}

func (c *Client) tokens() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken, c.refreshToken
}

// Authenticated reports whether a session token pair is installed.
func (c *Client) Authenticated() bool {
	access, _ := c.tokens()
	return access != ""
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// codeToError translates the server's machine-readable codes back into
// the shared sentinel taxonomy.
func codeToError(code, message string) error {
	var base error
	switch code {
	case "invalid_credentials":
		base = common.ErrInvalidCredentials
	case "account_locked":
		base = common.ErrAccountLocked
	case "two_factor_required":
		base = common.ErrTwoFactorRequired
	case "invalid_two_factor_code":
		base = common.ErrInvalidTwoFactorCode
	case "invalid_recovery_code":
		base = common.ErrInvalidRecoveryCode
	case "invalid_refresh_token":
		base = common.ErrInvalidRefreshToken
	case "token_expired":
		base = common.ErrTokenExpired
	case "unauthorized":
		base = common.ErrorUnauthorized
	case "vault_outdated":
		base = common.ErrVaultOutdated
	case "username_taken":
		base = common.ErrorAlreadyExists
	case "not_found":
		base = common.ErrorNotFound
	default:
		return fmt.Errorf("server error: %s", message)
	}
	return base
}

// do runs one JSON round trip. With auth set the access token rides
// along; an expired token triggers a single refresh followed by a retry
// that is tagged so it can never refresh again.
func (c *Client) do(ctx context.Context, method, path string, body, out any, auth, retried bool) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Version", config.ClientVersion)
	if auth {
		access, _ := c.tokens()
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrServerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	var apiErr errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)
	mapped := codeToError(apiErr.Code, apiErr.Error)

	if apiErr.Code == "token_expired" && auth && !retried {
		if err := c.refresh(ctx); err != nil {
			return err
		}
		return c.do(ctx, method, path, body, out, auth, true)
	}

	return mapped
}

// refresh rotates the token pair. A rejected refresh token tears the
// session down so the caller falls back to a fresh login.
func (c *Client) refresh(ctx context.Context) error {
	_, refreshToken := c.tokens()
	if refreshToken == "" {
		return common.ErrInvalidRefreshToken
	}

	var pair TokenPair
	err := c.do(ctx, http.MethodPost, "/auth/refresh",
		map[string]string{"refreshToken": refreshToken}, &pair, false, true)
	if err != nil {
		c.ClearTokens()
		return err
	}

	c.SetTokens(pair.AccessToken, pair.RefreshToken)
	return nil
}
