package crypto

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCachingTestResolver(t *testing.T, provider *stubProvider, cfg CachingConfig) *CachingResolver {
	t.Helper()
	resolver, err := NewCachingResolver(NewStandardResolver(provider, nil), cfg, nil)
	require.NoError(t, err)
	return resolver
}

func decryptionRequest(alg Algorithm, tag string) DecryptionRequest {
	return DecryptionRequest{
		Algorithm:         alg,
		EncryptionContext: EncryptionContext{"tag": tag},
		EncryptedDataKeys: []EncryptedDataKey{
			{ProviderID: "stub", ProviderInfo: "stub-key", Ciphertext: []byte("wrapped-" + tag)},
		},
	}
}

func TestCachingResolver_CacheHit(t *testing.T) {
	alg := AlgAES256GCMNoKDF
	provider := &stubProvider{dataKey: testDataKey(alg)}
	resolver := newCachingTestResolver(t, provider, CachingConfig{
		MaxCache:        10,
		MaxAge:          time.Minute,
		MaxMessagesUsed: 100,
	})

	req := decryptionRequest(alg, "a")
	first, err := resolver.ResolveDecryption(context.Background(), req)
	require.NoError(t, err)
	second, err := resolver.ResolveDecryption(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.DataKey, second.DataKey)
	assert.Equal(t, int32(1), provider.decryptCalls.Load(), "second resolution served from cache")
}

func TestCachingResolver_DistinctRequestsMiss(t *testing.T) {
	alg := AlgAES256GCMNoKDF
	provider := &stubProvider{dataKey: testDataKey(alg)}
	resolver := newCachingTestResolver(t, provider, CachingConfig{
		MaxCache:        10,
		MaxAge:          time.Minute,
		MaxMessagesUsed: 100,
	})

	_, err := resolver.ResolveDecryption(context.Background(), decryptionRequest(alg, "a"))
	require.NoError(t, err)
	_, err = resolver.ResolveDecryption(context.Background(), decryptionRequest(alg, "b"))
	require.NoError(t, err)

	assert.Equal(t, int32(2), provider.decryptCalls.Load())
}

func TestCachingResolver_EntryExpiry(t *testing.T) {
	alg := AlgAES256GCMNoKDF
	provider := &stubProvider{dataKey: testDataKey(alg)}
	resolver := newCachingTestResolver(t, provider, CachingConfig{
		MaxCache:        10,
		MaxAge:          10 * time.Millisecond,
		MaxMessagesUsed: 100,
	})

	req := decryptionRequest(alg, "a")
	_, err := resolver.ResolveDecryption(context.Background(), req)
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	_, err = resolver.ResolveDecryption(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), provider.decryptCalls.Load(), "expired entry must be re-resolved")
}

func TestCachingResolver_UsageCap(t *testing.T) {
	alg := AlgAES256GCMNoKDF
	provider := &stubProvider{dataKey: testDataKey(alg)}
	resolver := newCachingTestResolver(t, provider, CachingConfig{
		MaxCache:        10,
		MaxAge:          time.Minute,
		MaxMessagesUsed: 2,
	})

	req := decryptionRequest(alg, "a")
	for i := 0; i < 3; i++ {
		_, err := resolver.ResolveDecryption(context.Background(), req)
		require.NoError(t, err)
	}

	// Resolve, hit, then the cap forces a fresh resolution.
	assert.Equal(t, int32(2), provider.decryptCalls.Load())
}

func TestCachingResolver_ReturnedKeyIsIndependent(t *testing.T) {
	alg := AlgAES256GCMNoKDF
	provider := &stubProvider{dataKey: testDataKey(alg)}
	resolver := newCachingTestResolver(t, provider, CachingConfig{
		MaxCache:        10,
		MaxAge:          time.Minute,
		MaxMessagesUsed: 100,
	})

	req := decryptionRequest(alg, "a")
	first, err := resolver.ResolveDecryption(context.Background(), req)
	require.NoError(t, err)
	first.DataKey.Zero()

	second, err := resolver.ResolveDecryption(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, DataKey(testDataKey(alg)), second.DataKey, "zeroizing a returned key must not corrupt the cache")
}

func TestCachingResolver_ErrorsAreNotCached(t *testing.T) {
	alg := AlgAES256GCMNoKDF
	provider := &stubProvider{dataKey: testDataKey(alg), decryptErr: assert.AnError}
	resolver := newCachingTestResolver(t, provider, CachingConfig{
		MaxCache:        10,
		MaxAge:          time.Minute,
		MaxMessagesUsed: 100,
	})

	req := decryptionRequest(alg, "a")
	_, err := resolver.ResolveDecryption(context.Background(), req)
	require.Error(t, err)

	provider.decryptErr = nil
	materials, err := resolver.ResolveDecryption(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, DataKey(testDataKey(alg)), materials.DataKey)
	assert.Equal(t, int32(2), provider.decryptCalls.Load())
}

func TestCachingResolver_EncryptionNeverCached(t *testing.T) {
	alg := AlgAES256GCMHKDFSHA384ECDSAP384
	provider := &stubProvider{dataKey: testDataKey(alg)}
	resolver := newCachingTestResolver(t, provider, CachingConfig{
		MaxCache:        10,
		MaxAge:          time.Minute,
		MaxMessagesUsed: 100,
	})

	req := EncryptionRequest{Algorithm: alg, EncryptionContext: EncryptionContext{"tag": "a"}}
	first, err := resolver.ResolveEncryption(context.Background(), req)
	require.NoError(t, err)
	second, err := resolver.ResolveEncryption(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, first.SigningKey.D, second.SigningKey.D, "each message needs a fresh signing key")
}
