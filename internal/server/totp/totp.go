// Package totp implements RFC 6238 time-based one-time codes used as the
// optional second login factor, plus the one-shot recovery codes that back
// them up.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/okulov/vaultsync/internal/common"
)

const (
	Step   = 30 * time.Second
	Digits = 6

	secretSize = 20 // 160-bit secret

	RecoveryCodeCount = 8
	recoveryCodeSize  = 10
)

func GenerateSecret() string {
	secret := common.GenerateRandByteArray(secretSize)
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret)
}

// Verify checks code against secret, accepting one step of clock skew in
// either direction.
func Verify(code, secret string, when time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != Digits {
		return false
	}
	secretBytes, err := decodeSecret(secret)
	if err != nil {
		return false
	}
	defer common.WipeByteArray(secretBytes)

	counter := when.Unix() / int64(Step/time.Second)
	for i := int64(-1); i <= 1; i++ {
		cur := counter + i
		if cur < 0 {
			continue
		}
		if computeCode(secretBytes, uint64(cur)) == code {
			return true
		}
	}
	return false
}

func computeCode(secret []byte, counter uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0F
	trunc := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF
	return fmt.Sprintf("%0*d", Digits, trunc%1000000)
}

func decodeSecret(secret string) ([]byte, error) {
	secret = strings.ToUpper(strings.TrimSpace(secret))
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
}

// GenerateRecoveryCodes returns freshly generated cleartext codes. Only
// their digests are stored; each code authenticates exactly once.
func GenerateRecoveryCodes() []string {
	codes := make([]string, RecoveryCodeCount)
	for i := range codes {
		codes[i] = hex.EncodeToString(common.GenerateRandByteArray(recoveryCodeSize))
	}
	return codes
}

// HashRecoveryCode digests a recovery code for storage and lookup.
// Codes are compared case-insensitively.
func HashRecoveryCode(code string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(code))))
	return hex.EncodeToString(sum[:])
}
