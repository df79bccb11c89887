package crypto

import (
	"context"
	"crypto/ecdsa"
)

// EncryptedDataKey is an opaque wrapped data key plus the metadata needed to
// route it back to the master key that produced it. Part of the message header.
type EncryptedDataKey struct {
	ProviderID   string
	ProviderInfo string
	Ciphertext   []byte
}

// DecryptionRequest carries everything needed to resolve decryption materials
// for one message. It is read-only input owned by the caller for the duration
// of a single resolution call.
type DecryptionRequest struct {
	EncryptedDataKeys []EncryptedDataKey
	Algorithm         Algorithm
	EncryptionContext EncryptionContext
}

// EncryptionRequest carries the inputs for encryption materials resolution.
type EncryptionRequest struct {
	Algorithm         Algorithm
	EncryptionContext EncryptionContext
}

// DataKey is a plaintext data key. Callers must Zero it as soon as the
// streaming engine has consumed it.
type DataKey []byte

// Zero overwrites the key material in place.
func (k DataKey) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// Clone returns an independent copy of the key material.
func (k DataKey) Clone() DataKey {
	out := make(DataKey, len(k))
	copy(out, k)
	return out
}

// DecryptionMaterials is the output of decryption materials resolution. The
// verification key, when present, is a DER-encoded SubjectPublicKeyInfo and is
// set only for signing suites.
type DecryptionMaterials struct {
	DataKey         DataKey
	VerificationKey []byte
}

// EncryptionMaterials is the output of encryption materials resolution.
// EncryptionContext includes the signer key field for signing suites and is
// the context that must be written into the message header.
type EncryptionMaterials struct {
	DataKey           DataKey
	EncryptedDataKeys []EncryptedDataKey
	SigningKey        *ecdsa.PrivateKey
	EncryptionContext EncryptionContext
}

// MaterialsResolver resolves the cryptographic materials for one message.
// Implementations must be safe for concurrent use.
type MaterialsResolver interface {
	ResolveEncryption(ctx context.Context, req EncryptionRequest) (*EncryptionMaterials, error)
	ResolveDecryption(ctx context.Context, req DecryptionRequest) (*DecryptionMaterials, error)
}
