package cryptox

import (
	"bytes"

	"github.com/okulov/vaultsync/internal/common"
)

// canaryPlaintext is the fixed known string encrypted when a key is first
// derived. Decrypting it later validates a candidate key offline, before
// the real vault is touched with a possibly wrong key.
const canaryPlaintext = "vaultsync-canary-v1"

// MakeCanary encrypts the known string under key. The result is persisted
// locally next to the vault.
func MakeCanary(key []byte) ([]byte, error) {
	return Encrypt([]byte(canaryPlaintext), key)
}

// CheckCanary decrypts a stored canary with the candidate key. It returns
// ErrDecryptionFailed when the key is wrong, which callers surface as
// "incorrect password" without any server round-trip.
func CheckCanary(key, canary []byte) error {
	plaintext, err := Decrypt(canary, key)
	if err != nil {
		return err
	}
	if !bytes.Equal(plaintext, []byte(canaryPlaintext)) {
		return common.ErrDecryptionFailed
	}
	return nil
}
