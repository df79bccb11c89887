package crypto

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrSignerKeyMissing is returned when a signing suite's encryption
	// context does not contain the signer key field.
	ErrSignerKeyMissing = errors.New("encryption context is missing the signer key field")

	// ErrNoVerificationKey is returned when a signed message is decrypted
	// without a verification key in its resolved materials.
	ErrNoVerificationKey = errors.New("no verification key available for signed message")
)

// ContextValueError indicates that a value in the encryption context is
// present but not in the canonical encoding the standard resolution path
// expects.
type ContextValueError struct {
	Field  string
	Reason string
}

func (e *ContextValueError) Error() string {
	return fmt.Sprintf("malformed encryption context value %q: %s", e.Field, e.Reason)
}

// MalformedSignerKeyError indicates that the legacy fallback could not decode
// the signer key as a raw uncompressed curve point: bad base64, wrong length,
// or a missing uncompressed point tag.
type MalformedSignerKeyError struct {
	Reason string
}

func (e *MalformedSignerKeyError) Error() string {
	return fmt.Sprintf("malformed signer key: %s", e.Reason)
}

// InvalidCurvePointError indicates that a decoded coordinate pair does not lie
// on the algorithm's curve.
type InvalidCurvePointError struct {
	Curve string
}

func (e *InvalidCurvePointError) Error() string {
	return fmt.Sprintf("signer key coordinates are not a valid point on %s", e.Curve)
}

// ProviderError wraps a failure reported by a master key provider. The
// underlying error is propagated verbatim and reachable via errors.Unwrap.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("master key provider %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying provider error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}
