package crypto

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"mrcrypt/mrcrypt/metrics"

	lru "github.com/hashicorp/golang-lru"
)

// CachingConfig holds configuration for the caching resolver.
type CachingConfig struct {
	MaxCache        int
	MaxAge          time.Duration
	MaxMessagesUsed int
}

// CachingResolver caches resolved decryption materials so repeated messages
// wrapped under the same master keys and context do not round-trip to the
// provider. Encryption resolution is never cached: each message needs a fresh
// signing key.
type CachingResolver struct {
	cache           *lru.Cache
	mutex           sync.Mutex
	maxAge          time.Duration
	maxMessagesUsed int
	underlying      MaterialsResolver
	metricsHandler  metrics.Handler
}

type cachedMaterials struct {
	materials  *DecryptionMaterials
	createdAt  time.Time
	usageCount int
}

// NewCachingResolver creates a caching resolver over the given one.
func NewCachingResolver(
	underlying MaterialsResolver,
	config CachingConfig,
	metricsHandler metrics.Handler,
) (*CachingResolver, error) {
	cache, err := lru.New(config.MaxCache)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %v", err)
	}

	if metricsHandler == nil {
		metricsHandler = metrics.NopHandler
	}

	return &CachingResolver{
		cache:           cache,
		maxAge:          config.MaxAge,
		maxMessagesUsed: config.MaxMessagesUsed,
		underlying:      underlying,
		metricsHandler:  metricsHandler,
	}, nil
}

// ResolveEncryption delegates to the underlying resolver.
func (c *CachingResolver) ResolveEncryption(ctx context.Context, req EncryptionRequest) (*EncryptionMaterials, error) {
	return c.underlying.ResolveEncryption(ctx, req)
}

// ResolveDecryption returns cached materials when a fresh enough entry exists,
// otherwise resolves through the underlying resolver and caches the result.
// Returned materials always carry an independent data key copy so a caller
// zeroizing its key cannot corrupt other callers' materials.
func (c *CachingResolver) ResolveDecryption(ctx context.Context, req DecryptionRequest) (*DecryptionMaterials, error) {
	cacheKey := c.createCacheKey(req)

	c.mutex.Lock()
	if cachedValue, found := c.cache.Get(cacheKey); found {
		entry := cachedValue.(*cachedMaterials)
		if c.isEntryValid(entry) {
			entry.usageCount++
			materials := copyMaterials(entry.materials)
			c.mutex.Unlock()
			c.metricsHandler.Counter(metrics.ResolveCacheHits).Inc(1)
			return materials, nil
		}
		// Expired entries hold key material; drop eagerly.
		entry.materials.DataKey.Zero()
		c.cache.Remove(cacheKey)
	}
	c.mutex.Unlock()

	c.metricsHandler.Counter(metrics.ResolveCacheMisses).Inc(1)

	start := time.Now()
	c.metricsHandler.Counter(metrics.ResolveRequests).Inc(1)
	materials, err := c.underlying.ResolveDecryption(ctx, req)
	c.metricsHandler.Timer(metrics.ResolveLatency).Record(time.Since(start))
	if err != nil {
		c.metricsHandler.Counter(metrics.ResolveErrors).Inc(1)
		return nil, err
	}
	c.metricsHandler.Counter(metrics.ResolveSuccess).Inc(1)

	entry := &cachedMaterials{
		materials:  copyMaterials(materials),
		createdAt:  time.Now(),
		usageCount: 1,
	}

	c.mutex.Lock()
	c.cache.Add(cacheKey, entry)
	c.mutex.Unlock()

	return materials, nil
}

func (c *CachingResolver) isEntryValid(entry *cachedMaterials) bool {
	if time.Since(entry.createdAt) > c.maxAge {
		return false
	}

	if entry.usageCount >= c.maxMessagesUsed {
		return false
	}

	return true
}

// createCacheKey hashes the algorithm, context, and encrypted data keys of a
// request into a fixed-size cache key.
func (c *CachingResolver) createCacheKey(req DecryptionRequest) string {
	h := sha256.New()

	var algID [2]byte
	binary.BigEndian.PutUint16(algID[:], req.Algorithm.ID)
	h.Write(algID[:])

	for _, k := range req.EncryptionContext.SortedKeys() {
		h.Write([]byte(k))
		h.Write([]byte{':'})
		h.Write([]byte(req.EncryptionContext[k]))
		h.Write([]byte{';'})
	}

	for _, edk := range req.EncryptedDataKeys {
		h.Write([]byte(edk.ProviderID))
		h.Write([]byte{':'})
		h.Write([]byte(edk.ProviderInfo))
		h.Write([]byte{':'})
		h.Write(edk.Ciphertext)
		h.Write([]byte{';'})
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}

func copyMaterials(materials *DecryptionMaterials) *DecryptionMaterials {
	return &DecryptionMaterials{
		DataKey:         materials.DataKey.Clone(),
		VerificationKey: materials.VerificationKey,
	}
}
