package crypto

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"go.uber.org/zap"
)

// StandardResolver implements the canonical materials resolution path: the
// signer key in the encryption context must be a base64-encoded compressed
// curve point, and data keys come from the configured master key provider.
type StandardResolver struct {
	provider MasterKeyProvider
	logger   *zap.Logger
}

// NewStandardResolver creates a resolver backed by the given master key provider.
func NewStandardResolver(provider MasterKeyProvider, logger *zap.Logger) *StandardResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StandardResolver{
		provider: provider,
		logger:   logger,
	}
}

// ResolveEncryption obtains a wrapped data key from the provider and, for
// signing suites, generates a fresh signing key whose compressed public point
// is written into the returned encryption context.
func (r *StandardResolver) ResolveEncryption(ctx context.Context, req EncryptionRequest) (*EncryptionMaterials, error) {
	ec := req.EncryptionContext.Clone()

	var signingKey *ecdsa.PrivateKey
	if req.Algorithm.Signing() {
		if _, exists := ec[SignerKeyField]; exists {
			return nil, &ContextValueError{
				Field:  SignerKeyField,
				Reason: "reserved field must not be set by the caller",
			}
		}

		key, err := ecdsa.GenerateKey(req.Algorithm.Curve(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		signingKey = key

		point := elliptic.MarshalCompressed(key.Curve, key.X, key.Y)
		ec[SignerKeyField] = base64.StdEncoding.EncodeToString(point)
	}

	dataKey, edks, err := r.provider.GenerateDataKey(ctx, req.Algorithm, ec)
	if err != nil {
		return nil, &ProviderError{Op: "generate data key", Err: err}
	}

	return &EncryptionMaterials{
		DataKey:           dataKey,
		EncryptedDataKeys: edks,
		SigningKey:        signingKey,
		EncryptionContext: ec,
	}, nil
}

// ResolveDecryption validates the signer key for signing suites and unwraps
// the data key through the provider.
//
// Failure kinds are distinct by design: a missing signer key field returns
// ErrSignerKeyMissing, a signer key that is not a canonical compressed point
// returns a ContextValueError, and provider failures are wrapped as
// ProviderError.
func (r *StandardResolver) ResolveDecryption(ctx context.Context, req DecryptionRequest) (*DecryptionMaterials, error) {
	var verificationKey []byte
	if req.Algorithm.Signing() {
		key, err := r.compressedVerificationKey(req.Algorithm, req.EncryptionContext)
		if err != nil {
			return nil, err
		}
		verificationKey = key
	}

	dataKey, err := r.provider.DecryptDataKey(ctx, req.EncryptedDataKeys, req.Algorithm, req.EncryptionContext)
	if err != nil {
		return nil, &ProviderError{Op: "decrypt data key", Err: err}
	}

	return &DecryptionMaterials{
		DataKey:         dataKey,
		VerificationKey: verificationKey,
	}, nil
}

// compressedVerificationKey reads the signer key field, validates it as a
// compressed SEC1 point on the suite curve, and re-encodes it as a DER
// SubjectPublicKeyInfo.
func (r *StandardResolver) compressedVerificationKey(alg Algorithm, ec EncryptionContext) ([]byte, error) {
	encoded, ok := ec[SignerKeyField]
	if !ok {
		return nil, ErrSignerKeyMissing
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &ContextValueError{Field: SignerKeyField, Reason: "invalid base64"}
	}

	if len(raw) != 1+alg.FieldSize() {
		return nil, &ContextValueError{
			Field:  SignerKeyField,
			Reason: fmt.Sprintf("expected a %d-byte compressed point, got %d bytes", 1+alg.FieldSize(), len(raw)),
		}
	}

	curve := alg.Curve()
	x, y := elliptic.UnmarshalCompressed(curve, raw)
	if x == nil {
		return nil, &ContextValueError{
			Field:  SignerKeyField,
			Reason: fmt.Sprintf("not a compressed point on %s", curve.Params().Name),
		}
	}

	der, err := x509.MarshalPKIXPublicKey(&ecdsa.PublicKey{Curve: curve, X: x, Y: y})
	if err != nil {
		return nil, fmt.Errorf("failed to encode verification key: %w", err)
	}
	return der, nil
}
