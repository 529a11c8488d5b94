// Package common defines shared constants and sentinel errors used across
// client and server layers of vaultsync. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Cryptographic errors. ErrDecryptionFailed covers both a wrong key and
	// corrupted ciphertext; the two are never distinguished to the user.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrDecryptionFailed     = errors.New("decryption failed")

	// ErrServerUnavailable marks transport-level failures (connection
	// refused, timeouts). The client treats these as "offline", never as
	// a rejected request.
	ErrServerUnavailable = errors.New("server unavailable")

	// Protocol/consistency errors.
	ErrVaultOutdated      = errors.New("vault outdated")
	ErrPendingMigrations  = errors.New("vault schema newer than client")
	ErrMergeEpochMismatch = errors.New("cannot reconcile: password changed concurrently")

	// Authentication errors.
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountLocked        = errors.New("account locked")
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	ErrInvalidRecoveryCode  = errors.New("invalid recovery code")
	ErrTwoFactorRequired    = errors.New("two-factor code required")

	// Token lifecycle errors.
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)
