package crypto

import (
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Algorithm identifies a cipher suite: AES-GCM key length, optional HKDF key
// derivation, and an optional ECDSA signing scheme with its named curve.
type Algorithm struct {
	ID         uint16
	Name       string
	DataKeyLen int
	IVLen      int
	TagLen     int
	kdfHash    func() hash.Hash
	curve      elliptic.Curve
}

// Algorithm suite identifiers. The numeric values are part of the message
// format and match what producers write into the header.
var (
	AlgAES128GCMNoKDF = Algorithm{
		ID: 0x0014, Name: "AES_128_GCM_IV12_TAG16",
		DataKeyLen: 16, IVLen: 12, TagLen: 16,
	}
	AlgAES256GCMNoKDF = Algorithm{
		ID: 0x0078, Name: "AES_256_GCM_IV12_TAG16",
		DataKeyLen: 32, IVLen: 12, TagLen: 16,
	}
	AlgAES256GCMHKDFSHA256 = Algorithm{
		ID: 0x0178, Name: "AES_256_GCM_IV12_TAG16_HKDF_SHA256",
		DataKeyLen: 32, IVLen: 12, TagLen: 16,
		kdfHash: sha256.New,
	}
	AlgAES128GCMHKDFSHA256ECDSAP256 = Algorithm{
		ID: 0x0214, Name: "AES_128_GCM_IV12_TAG16_HKDF_SHA256_ECDSA_P256",
		DataKeyLen: 16, IVLen: 12, TagLen: 16,
		kdfHash: sha256.New, curve: elliptic.P256(),
	}
	AlgAES192GCMHKDFSHA384ECDSAP384 = Algorithm{
		ID: 0x0346, Name: "AES_192_GCM_IV12_TAG16_HKDF_SHA384_ECDSA_P384",
		DataKeyLen: 24, IVLen: 12, TagLen: 16,
		kdfHash: sha512.New384, curve: elliptic.P384(),
	}
	AlgAES256GCMHKDFSHA384ECDSAP384 = Algorithm{
		ID: 0x0378, Name: "AES_256_GCM_IV12_TAG16_HKDF_SHA384_ECDSA_P384",
		DataKeyLen: 32, IVLen: 12, TagLen: 16,
		kdfHash: sha512.New384, curve: elliptic.P384(),
	}
)

// DefaultAlgorithm is used for encryption when the caller does not select a suite.
var DefaultAlgorithm = AlgAES256GCMHKDFSHA384ECDSAP384

var algorithmsByID = map[uint16]Algorithm{
	AlgAES128GCMNoKDF.ID:                  AlgAES128GCMNoKDF,
	AlgAES256GCMNoKDF.ID:                  AlgAES256GCMNoKDF,
	AlgAES256GCMHKDFSHA256.ID:             AlgAES256GCMHKDFSHA256,
	AlgAES128GCMHKDFSHA256ECDSAP256.ID:    AlgAES128GCMHKDFSHA256ECDSAP256,
	AlgAES192GCMHKDFSHA384ECDSAP384.ID:    AlgAES192GCMHKDFSHA384ECDSAP384,
	AlgAES256GCMHKDFSHA384ECDSAP384.ID:    AlgAES256GCMHKDFSHA384ECDSAP384,
}

// AlgorithmByID looks up a suite by its wire identifier.
func AlgorithmByID(id uint16) (Algorithm, error) {
	alg, ok := algorithmsByID[id]
	if !ok {
		return Algorithm{}, fmt.Errorf("unknown algorithm suite 0x%04x", id)
	}
	return alg, nil
}

// Signing reports whether the suite signs the ciphertext.
func (a Algorithm) Signing() bool {
	return a.curve != nil
}

// Curve returns the suite's signing curve, or nil for non-signing suites.
func (a Algorithm) Curve() elliptic.Curve {
	return a.curve
}

// FieldSize returns the byte length of one coordinate of a point on the
// suite's signing curve.
func (a Algorithm) FieldSize() int {
	if a.curve == nil {
		return 0
	}
	return (a.curve.Params().BitSize + 7) / 8
}

// SigningHash returns the hash constructor used with ECDSA for this suite.
func (a Algorithm) SigningHash() func() hash.Hash {
	if a.curve == elliptic.P256() {
		return sha256.New
	}
	return sha512.New384
}

// DeriveKey derives the message encryption key from the data key. Suites with
// a KDF run HKDF keyed by the data key with the message ID and suite ID as
// inputs; suites without one use the data key directly.
func (a Algorithm) DeriveKey(dataKey []byte, messageID []byte) ([]byte, error) {
	if len(dataKey) != a.DataKeyLen {
		return nil, fmt.Errorf("data key is %d bytes, suite %s requires %d", len(dataKey), a.Name, a.DataKeyLen)
	}
	if a.kdfHash == nil {
		out := make([]byte, a.DataKeyLen)
		copy(out, dataKey)
		return out, nil
	}

	info := make([]byte, 2+len(messageID))
	binary.BigEndian.PutUint16(info, a.ID)
	copy(info[2:], messageID)

	out := make([]byte, a.DataKeyLen)
	if _, err := io.ReadFull(hkdf.New(a.kdfHash, dataKey, nil, info), out); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return out, nil
}

func (a Algorithm) String() string {
	return a.Name
}
