package models

import (
	"encoding/json"
	"time"
)

// Vault is one stored revision of a user's encrypted vault. Only the row
// with the highest RevisionNumber is authoritative; older rows are kept
// for recovery. The server never decrypts Blob.
//
// Blob may be empty when StorageKey is set: then the ciphertext lives in
// the object store under that key.
type Vault struct {
	ID             string
	UserID         string
	Blob           []byte
	StorageKey     string
	RevisionNumber int64
	Version        int64 // schema version of the plaintext database inside Blob
	EncryptionType string
	EncryptionSettings json.RawMessage
	CreatedAt      time.Time
}
