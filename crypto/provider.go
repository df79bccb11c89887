package crypto

import "context"

// MasterKeyProvider wraps one or more master keys. Resolvers treat it as an
// opaque capability: generate a fresh data key wrapped under every master key,
// or unwrap one of a message's encrypted data keys.
type MasterKeyProvider interface {
	// GenerateDataKey returns a new plaintext data key of the suite's length
	// together with one EncryptedDataKey per master key.
	GenerateDataKey(ctx context.Context, alg Algorithm, ec EncryptionContext) (DataKey, []EncryptedDataKey, error)

	// DecryptDataKey returns the plaintext data key for the first encrypted
	// data key it can unwrap, or an error if none can be.
	DecryptDataKey(ctx context.Context, edks []EncryptedDataKey, alg Algorithm, ec EncryptionContext) (DataKey, error)
}
