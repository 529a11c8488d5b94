// Package cryptox implements the password-derived envelope encryption used
// for the vault blob: a memory-hard KDF turns (password, salt, params) into
// a 32-byte symmetric key, and an AEAD cipher seals the serialized vault
// with it. The same inputs always reproduce the same key, which is what
// lets a second device unlock the vault after re-entering the password.
package cryptox

import (
	"encoding/json"
	"fmt"

	"github.com/okulov/vaultsync/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	KDFArgon2id = "argon2id"

	KeyLen = 32

	// Floors below which derive refuses to run, so a tampered server
	// cannot hand out degenerate cost parameters.
	minArgon2Iterations  = 1
	minArgon2MemoryKiB   = 16 * 1024
	minArgon2Parallelism = 1
)

// Argon2Params are the tunable cost parameters for the argon2id KDF.
type Argon2Params struct {
	Iterations  uint32 `json:"iterations"`
	MemoryKiB   uint32 `json:"memory_kib"`
	Parallelism uint8  `json:"parallelism"`
}

// KDFConfig identifies the key-derivation algorithm and its parameters.
// It travels with every stored vault so older vaults stay decryptable
// after cost parameters change.
//
// Configs with an unrecognized Type keep their settings verbatim in Raw;
// they re-serialize unchanged but cannot derive a key.
type KDFConfig struct {
	Type   string
	Argon2 *Argon2Params
	Raw    json.RawMessage
}

// DefaultKDFConfig returns the parameters used for newly created accounts.
func DefaultKDFConfig() KDFConfig {
	return KDFConfig{
		Type:   KDFArgon2id,
		Argon2: &Argon2Params{Iterations: 3, MemoryKiB: 64 * 1024, Parallelism: 4},
	}
}

// ParseKDFConfig builds a KDFConfig from the wire representation
// (algorithm name plus raw settings JSON).
func ParseKDFConfig(typ string, settings json.RawMessage) (KDFConfig, error) {
	switch typ {
	case KDFArgon2id:
		p := &Argon2Params{}
		if len(settings) > 0 {
			if err := json.Unmarshal(settings, p); err != nil {
				return KDFConfig{}, fmt.Errorf("parsing argon2 settings: %w", err)
			}
		}
		return KDFConfig{Type: typ, Argon2: p}, nil
	default:
		raw := make(json.RawMessage, len(settings))
		copy(raw, settings)
		return KDFConfig{Type: typ, Raw: raw}, nil
	}
}

// Settings returns the wire representation of the parameters.
func (c KDFConfig) Settings() (json.RawMessage, error) {
	switch c.Type {
	case KDFArgon2id:
		p := c.Argon2
		if p == nil {
			d := DefaultKDFConfig()
			p = d.Argon2
		}
		return json.Marshal(p)
	default:
		return c.Raw, nil
	}
}

// DeriveKey derives the symmetric vault key from the password and the
// account salt. It is a pure function: identical inputs yield identical
// key bytes. Unknown algorithms fail with ErrUnsupportedAlgorithm.
func DeriveKey(password, salt []byte, cfg KDFConfig) ([]byte, error) {
	switch cfg.Type {
	case KDFArgon2id:
		p := cfg.Argon2
		if p == nil {
			return nil, fmt.Errorf("%w: missing argon2 parameters", common.ErrUnsupportedAlgorithm)
		}
		if p.Iterations < minArgon2Iterations {
			return nil, fmt.Errorf("argon2 iterations %d below minimum %d", p.Iterations, minArgon2Iterations)
		}
		if p.MemoryKiB < minArgon2MemoryKiB {
			return nil, fmt.Errorf("argon2 memory %d KiB below minimum %d", p.MemoryKiB, minArgon2MemoryKiB)
		}
		if p.Parallelism < minArgon2Parallelism {
			return nil, fmt.Errorf("argon2 parallelism %d below minimum %d", p.Parallelism, minArgon2Parallelism)
		}
		return argon2.IDKey(password, salt, p.Iterations, p.MemoryKiB, p.Parallelism, KeyLen), nil
	default:
		return nil, fmt.Errorf("%w: %q", common.ErrUnsupportedAlgorithm, cfg.Type)
	}
}
