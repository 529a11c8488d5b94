// Package models defines the server-side persistence types.
package models

import (
	"encoding/json"
	"time"
)

// User is one account. Salt is shared between the SRP verifier and the
// client-side vault key derivation; Verifier never reveals the password.
// A password change replaces Salt, Verifier and the KDF settings together
// with a re-encrypted vault, which ends one password epoch and starts
// the next.
type User struct {
	ID          string
	Username    string
	Salt        []byte
	Verifier    []byte
	KDFType     string
	KDFSettings json.RawMessage
	TOTPSecret  string // empty when 2FA is not enrolled

	FailedAttempts int
	LockedUntil    *time.Time

	CreatedAt time.Time
}

// RecoveryCode is a stored digest of a one-shot second-factor backup code.
type RecoveryCode struct {
	UserID   string
	CodeHash string
	UsedAt   *time.Time
}
