package crypto

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"mrcrypt/mrcrypt/metrics"

	"go.uber.org/zap"
)

// uncompressedPointTag is the SEC1 leading byte of an uncompressed curve
// point. Legacy producers stored verification keys as 0x04 || X || Y.
const uncompressedPointTag = 0x04

// LegacyResolver provides decrypt compatibility with messages whose
// verification key was stored as a raw uncompressed elliptic curve point
// instead of the canonical compressed encoding.
//
// It delegates every request to the wrapped resolver first and runs the
// fallback only when that fails because the signer key field is absent or not
// in the standard encoding. Any other failure, including provider failures,
// propagates unchanged.
type LegacyResolver struct {
	standard       MaterialsResolver
	provider       MasterKeyProvider
	logger         *zap.Logger
	metricsHandler metrics.Handler
}

// NewLegacyResolver wraps a standard resolver with the uncompressed point
// fallback. The provider must be the same one backing the wrapped resolver so
// both paths produce identical data keys.
func NewLegacyResolver(
	standard MaterialsResolver,
	provider MasterKeyProvider,
	logger *zap.Logger,
	metricsHandler metrics.Handler,
) *LegacyResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metricsHandler == nil {
		metricsHandler = metrics.NopHandler
	}
	return &LegacyResolver{
		standard:       standard,
		provider:       provider,
		logger:         logger,
		metricsHandler: metricsHandler,
	}
}

// ResolveEncryption delegates to the wrapped resolver. Legacy compatibility
// only exists on the decrypt path; new messages are always written in the
// standard encoding.
func (r *LegacyResolver) ResolveEncryption(ctx context.Context, req EncryptionRequest) (*EncryptionMaterials, error) {
	return r.standard.ResolveEncryption(ctx, req)
}

// ResolveDecryption tries the standard path and falls back to decoding the
// signer key as a raw uncompressed curve point.
func (r *LegacyResolver) ResolveDecryption(ctx context.Context, req DecryptionRequest) (*DecryptionMaterials, error) {
	materials, err := r.standard.ResolveDecryption(ctx, req)
	if err == nil {
		return materials, nil
	}

	// Only the two legacy failure kinds trigger the fallback. Everything
	// else, notably provider failures, must surface to the caller untouched.
	var cve *ContextValueError
	if !errors.Is(err, ErrSignerKeyMissing) && !errors.As(err, &cve) {
		return nil, err
	}

	r.logger.Debug("standard materials resolution failed, attempting uncompressed point fallback",
		zap.Error(err))

	verificationKey, err := r.uncompressedVerificationKey(req.Algorithm, req.EncryptionContext)
	if err != nil {
		return nil, err
	}

	dataKey, err := r.provider.DecryptDataKey(ctx, req.EncryptedDataKeys, req.Algorithm, req.EncryptionContext)
	if err != nil {
		return nil, &ProviderError{Op: "decrypt data key", Err: err}
	}

	r.metricsHandler.Counter(metrics.ResolveLegacyFallbacks).Inc(1)
	r.logger.Warn("message carries an uncompressed verification key; " +
		"re-encrypting it will restore compatibility with standard-format consumers")

	return &DecryptionMaterials{
		DataKey:         dataKey,
		VerificationKey: verificationKey,
	}, nil
}

// uncompressedVerificationKey decodes the signer key field as a raw
// uncompressed point (0x04 || X || Y, fixed-width coordinates), validates it
// against the suite curve, and re-encodes it as a DER SubjectPublicKeyInfo.
//
// A context that omits the field entirely yields no verification key; the
// data key is still resolvable for such messages.
func (r *LegacyResolver) uncompressedVerificationKey(alg Algorithm, ec EncryptionContext) ([]byte, error) {
	encoded, ok := ec[SignerKeyField]
	if !ok {
		return nil, nil
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &MalformedSignerKeyError{Reason: "invalid base64"}
	}

	fieldSize := alg.FieldSize()
	if len(raw) != 1+2*fieldSize {
		return nil, &MalformedSignerKeyError{
			Reason: fmt.Sprintf("expected a %d-byte uncompressed point, got %d bytes", 1+2*fieldSize, len(raw)),
		}
	}
	if raw[0] != uncompressedPointTag {
		return nil, &MalformedSignerKeyError{
			Reason: fmt.Sprintf("leading byte 0x%02x is not the uncompressed point tag", raw[0]),
		}
	}

	curve := alg.Curve()
	x := new(big.Int).SetBytes(raw[1 : 1+fieldSize])
	y := new(big.Int).SetBytes(raw[1+fieldSize:])
	if !curve.IsOnCurve(x, y) {
		return nil, &InvalidCurvePointError{Curve: curve.Params().Name}
	}

	der, err := x509.MarshalPKIXPublicKey(&ecdsa.PublicKey{Curve: curve, X: x, Y: y})
	if err != nil {
		return nil, fmt.Errorf("failed to encode verification key: %w", err)
	}
	return der, nil
}
