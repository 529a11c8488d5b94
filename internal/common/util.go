package common

import (
	"crypto/rand"
	"encoding/hex"
	"runtime"
)

// GenerateRandByteArray returns size cryptographically random bytes.
// rand.Read never fails on supported platforms; a failure here means the
// process cannot continue safely, so it panics.
func GenerateRandByteArray(size int) []byte {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// MakeRandHexString returns a hex string encoding size random bytes
// (so the result is size*2 characters long).
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// WipeByteArray zeroes the buffer in place. runtime.KeepAlive prevents the
// compiler from eliding the writes. Safe to call with nil.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
