// Package srpx wraps the SRP-6a primitive library behind the small surface
// the rest of vaultsync needs: verifier computation at registration and
// the two-sided ephemeral/proof exchange at login.
//
// The account salt is shared between the SRP verifier and the vault key
// derivation on purpose: a single password entry regenerates both. The
// "password" fed to SRP is the hex encoding of the derived vault key, so
// the cleartext password itself never reaches this package.
package srpx

import (
	"encoding/hex"
	"strings"

	srp "github.com/kong/go-srp"
)

// 2048-bit group. Large enough for a password verifier, small enough to
// keep login latency acceptable on mobile clients.
var params = srp.GetParams(2048)

const SaltLen = 32

// NormalizeUsername lowercases and trims the username. Registration,
// verifier derivation and every login must agree on this form, otherwise
// a valid password fails to authenticate.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// KeyToSecret converts the derived vault key into the secret byte string
// fed to SRP as the password.
func KeyToSecret(key []byte) []byte {
	return []byte(hex.EncodeToString(key))
}

// ComputeVerifier derives the server-held verifier from the account salt,
// the normalized username and the password-derived secret.
func ComputeVerifier(salt []byte, username string, secret []byte) []byte {
	return srp.ComputeVerifier(params, salt, []byte(NormalizeUsername(username)), secret)
}

// ClientSession holds the client half of one login attempt. It lives for
// a single initiate/finish round and is discarded afterwards.
type ClientSession struct {
	c *srp.SRPClient
}

func NewClientSession(salt []byte, username string, secret []byte) *ClientSession {
	c := srp.NewClient(params, salt, []byte(NormalizeUsername(username)), secret, srp.GenKey())
	return &ClientSession{c: c}
}

// PublicEphemeral returns A, sent to the server with the proof.
func (s *ClientSession) PublicEphemeral() []byte {
	return s.c.ComputeA()
}

// SetServerEphemeral feeds B received from the server into the session.
func (s *ClientSession) SetServerEphemeral(b []byte) {
	s.c.SetB(b)
}

// Proof returns M1, the client's evidence of password knowledge.
func (s *ClientSession) Proof() []byte {
	return s.c.ComputeM1()
}

// VerifyServerProof checks M2, proving the server really held the verifier.
func (s *ClientSession) VerifyServerProof(m2 []byte) error {
	return s.c.CheckM2(m2)
}

// ServerSession holds the server half of one login attempt, including the
// secret ephemeral that must survive between initiate and finish.
type ServerSession struct {
	s *srp.SRPServer
}

func NewServerSession(verifier []byte) *ServerSession {
	return &ServerSession{s: srp.NewServer(params, verifier, srp.GenKey())}
}

// PublicEphemeral returns B, sent to the client at login initiate.
func (s *ServerSession) PublicEphemeral() []byte {
	return s.s.ComputeB()
}

// VerifyClientProof validates M1 against the stored verifier and, on
// success, returns the server proof M2.
func (s *ServerSession) VerifyClientProof(clientEphemeral, m1 []byte) ([]byte, error) {
	s.s.SetA(clientEphemeral)
	return s.s.CheckM1(m1)
}
