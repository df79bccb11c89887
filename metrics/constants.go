package metrics

const (
	DefaultPrometheusPath = "/metrics"

	MrcryptPrefix = "mrcrypt_"

	// Materials resolution metrics
	ResolveLatency         = MrcryptPrefix + "resolve_latency"
	ResolveRequests        = MrcryptPrefix + "resolve_requests"
	ResolveErrors          = MrcryptPrefix + "resolve_errors"
	ResolveSuccess         = MrcryptPrefix + "resolve_success"
	ResolveLegacyFallbacks = MrcryptPrefix + "resolve_legacy_fallbacks"

	// Materials cache metrics
	ResolveCacheHits   = MrcryptPrefix + "resolve_cache_hits"
	ResolveCacheMisses = MrcryptPrefix + "resolve_cache_misses"

	// Engine metrics
	EncryptLatency  = MrcryptPrefix + "encrypt_latency"
	EncryptRequests = MrcryptPrefix + "encrypt_requests"
	EncryptErrors   = MrcryptPrefix + "encrypt_errors"
	DecryptLatency  = MrcryptPrefix + "decrypt_latency"
	DecryptRequests = MrcryptPrefix + "decrypt_requests"
	DecryptErrors   = MrcryptPrefix + "decrypt_errors"
)
