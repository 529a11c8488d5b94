package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/okulov/vaultsync/internal/common"
)

// CipherAES256GCM names the only envelope cipher currently produced.
// It travels in the vault's encryptionType field.
const CipherAES256GCM = "aes256gcm"

// Encrypt seals plaintext with AES-256-GCM under key. The random nonce is
// prepended to the ciphertext so the single returned blob is all the caller
// needs to store. Encrypting an empty plaintext returns an empty blob
// unchanged; callers use that as the "nothing to encrypt yet" sentinel.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return []byte{}, nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt. A wrong key and corrupted data
// are indistinguishable: both fail with ErrDecryptionFailed, and that
// failure is the only reliable local signal that a derived key is wrong.
func Decrypt(blob, key []byte) ([]byte, error) {
	if len(blob) == 0 {
		return []byte{}, nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(blob) < aesgcm.NonceSize() {
		return nil, fmt.Errorf("%w: blob shorter than nonce", common.ErrDecryptionFailed)
	}

	nonce, ciphertext := blob[:aesgcm.NonceSize()], blob[aesgcm.NonceSize():]

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, common.ErrDecryptionFailed
	}
	return plaintext, nil
}
