package cryptox

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/okulov/vaultsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Small cost parameters keep the KDF tests fast while staying above the
// enforced floors.
func testKDF() KDFConfig {
	return KDFConfig{
		Type:   KDFArgon2id,
		Argon2: &Argon2Params{Iterations: 1, MemoryKiB: 16 * 1024, Parallelism: 1},
	}
}

func TestDeriveKey_Deterministic(t *testing.T) {
	password := []byte("correct horse battery staple")
	salt := []byte("fixed-salt-0123456789abcdef")

	key1, err := DeriveKey(password, salt, testKDF())
	require.NoError(t, err)
	key2, err := DeriveKey(password, salt, testKDF())
	require.NoError(t, err)

	assert.Equal(t, key1, key2)
	assert.Len(t, key1, KeyLen)
}

func TestDeriveKey_DifferentSalts(t *testing.T) {
	password := []byte("secret")

	key1, err := DeriveKey(password, []byte("salt-1"), testKDF())
	require.NoError(t, err)
	key2, err := DeriveKey(password, []byte("salt-2"), testKDF())
	require.NoError(t, err)

	assert.NotEqual(t, key1, key2)
}

func TestDeriveKey_UnknownAlgorithm(t *testing.T) {
	cfg := KDFConfig{Type: "scrypt"}
	_, err := DeriveKey([]byte("pw"), []byte("salt"), cfg)
	assert.ErrorIs(t, err, common.ErrUnsupportedAlgorithm)
}

func TestDeriveKey_RejectsWeakParams(t *testing.T) {
	cfg := KDFConfig{
		Type:   KDFArgon2id,
		Argon2: &Argon2Params{Iterations: 1, MemoryKiB: 64, Parallelism: 1},
	}
	_, err := DeriveKey([]byte("pw"), []byte("salt"), cfg)
	assert.Error(t, err)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, KeyLen)

	for _, plaintext := range [][]byte{
		[]byte("x"),
		[]byte("the quick brown fox"),
		bytes.Repeat([]byte{0x00}, 4096),
	} {
		blob, err := Encrypt(plaintext, key)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, blob)

		got, err := Decrypt(blob, key)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestEncrypt_EmptySentinel(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, KeyLen)

	blob, err := Encrypt([]byte{}, key)
	require.NoError(t, err)
	assert.Empty(t, blob)

	got, err := Decrypt([]byte{}, key)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecrypt_WrongKey(t *testing.T) {
	key1 := bytes.Repeat([]byte{0x11}, KeyLen)
	key2 := bytes.Repeat([]byte{0x22}, KeyLen)

	blob, err := Encrypt([]byte("sensitive"), key1)
	require.NoError(t, err)

	_, err = Decrypt(blob, key2)
	assert.ErrorIs(t, err, common.ErrDecryptionFailed)
}

func TestDecrypt_Corrupted(t *testing.T) {
	key := bytes.Repeat([]byte{0x33}, KeyLen)

	blob, err := Encrypt([]byte("sensitive"), key)
	require.NoError(t, err)

	blob[len(blob)-1] ^= 0xff
	_, err = Decrypt(blob, key)
	assert.ErrorIs(t, err, common.ErrDecryptionFailed)

	_, err = Decrypt([]byte{0x01, 0x02}, key)
	assert.ErrorIs(t, err, common.ErrDecryptionFailed)
}

func TestCanary(t *testing.T) {
	key := bytes.Repeat([]byte{0x55}, KeyLen)
	wrong := bytes.Repeat([]byte{0x66}, KeyLen)

	canary, err := MakeCanary(key)
	require.NoError(t, err)

	assert.NoError(t, CheckCanary(key, canary))
	assert.ErrorIs(t, CheckCanary(wrong, canary), common.ErrDecryptionFailed)
}

func TestKDFConfig_WireRoundTrip(t *testing.T) {
	cfg := DefaultKDFConfig()

	settings, err := cfg.Settings()
	require.NoError(t, err)

	parsed, err := ParseKDFConfig(KDFArgon2id, settings)
	require.NoError(t, err)
	assert.Equal(t, cfg.Argon2, parsed.Argon2)
}

func TestKDFConfig_UnknownPreservesRaw(t *testing.T) {
	raw := json.RawMessage(`{"n":16384,"r":8,"p":1}`)

	parsed, err := ParseKDFConfig("scrypt", raw)
	require.NoError(t, err)

	settings, err := parsed.Settings()
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(settings))

	_, err = DeriveKey([]byte("pw"), []byte("salt"), parsed)
	assert.True(t, errors.Is(err, common.ErrUnsupportedAlgorithm))
}
