package models

import "time"

// Audit event types.
const (
	AuditLoginInitiate  = "login_initiate"
	AuditLoginFinish    = "login_finish"
	AuditTwoFactor      = "two_factor"
	AuditRecoveryCode   = "recovery_code"
	AuditPasswordChange = "password_change"
	AuditTokenRefresh   = "token_refresh"
	AuditLockout        = "lockout"
)

// Audit outcomes.
const (
	AuditOK     = "ok"
	AuditFailed = "failed"
	AuditLocked = "locked"
)

// AuditEvent is one append-only record of an authentication attempt.
// Hash chains each event to its predecessor so tampering is detectable.
type AuditEvent struct {
	ID        int64
	Username  string
	Event     string
	Outcome   string
	Origin    string // remote address, possibly anonymized upstream
	Hash      string
	CreatedAt time.Time
}
