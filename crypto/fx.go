package crypto

import (
	"context"
	"fmt"
	"time"

	"mrcrypt/mrcrypt/config"
	"mrcrypt/mrcrypt/metrics"

	gcpkms "cloud.google.com/go/kms/apiv1"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ProviderParams selects and configures the master key provider for one run.
// The CLI layer assembles it from flags, arguments, and config defaults.
type ProviderParams struct {
	Provider   string
	KeyID      string
	Regions    []string
	Profile    string
	GCPKeyName string
}

func newMasterKeyProvider(params ProviderParams, logger *zap.Logger) (MasterKeyProvider, error) {
	switch params.Provider {
	case "", AWSKMSProviderID:
		return NewAWSKMSProviderFromOptions(AWSKMSOptions{
			KeyID:   params.KeyID,
			Regions: params.Regions,
			Profile: params.Profile,
		}, logger)

	case GCPKMSProviderID:
		client, err := gcpkms.NewKeyManagementClient(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to create GCP KMS client: %w", err)
		}
		return NewGCPKMSProvider(client, GCPKMSOptions{KeyName: params.GCPKeyName}), nil

	default:
		return nil, fmt.Errorf("unsupported master key provider type: %s", params.Provider)
	}
}

// newMaterialsResolver assembles the resolver chain: the standard path wrapped
// by the legacy uncompressed-point fallback, optionally behind the materials
// cache.
func newMaterialsResolver(
	provider MasterKeyProvider,
	configProvider config.ConfigProvider,
	logger *zap.Logger,
	metricsHandler metrics.Handler,
) (MaterialsResolver, error) {
	standard := NewStandardResolver(provider, logger)
	var resolver MaterialsResolver = NewLegacyResolver(standard, provider, logger, metricsHandler)

	caching := configProvider.GetConfig().Encryption.Caching
	if caching.MaxCache > 0 {
		cachingConfig := CachingConfig{
			MaxCache:        caching.MaxCache,
			MaxAge:          5 * time.Minute,
			MaxMessagesUsed: 1000,
		}
		if caching.MaxAge != "" {
			duration, err := time.ParseDuration(caching.MaxAge)
			if err != nil {
				return nil, fmt.Errorf("invalid caching max_age: %w", err)
			}
			cachingConfig.MaxAge = duration
		}
		if caching.MaxUsage > 0 {
			cachingConfig.MaxMessagesUsed = caching.MaxUsage
		}
		return NewCachingResolver(resolver, cachingConfig, metricsHandler)
	}

	return resolver, nil
}

var Module = fx.Provide(
	newMasterKeyProvider,
	newMaterialsResolver,
)
