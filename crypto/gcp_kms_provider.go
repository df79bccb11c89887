package crypto

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"
)

// GCPKMSProviderID identifies encrypted data keys produced by this provider.
const GCPKMSProviderID = "gcp-kms"

// GCPKMSOptions contains configuration options for GCPKMSProvider
type GCPKMSOptions struct {
	// KeyName is the fully qualified name of the GCP KMS key to use
	// Format: projects/{project}/locations/{location}/keyRings/{keyRing}/cryptoKeys/{cryptoKey}
	KeyName string
}

// GCPKMSClient defines the interface for GCP KMS operations
type GCPKMSClient interface {
	GenerateRandomBytes(ctx context.Context, req *kmspb.GenerateRandomBytesRequest, opts ...gax.CallOption) (*kmspb.GenerateRandomBytesResponse, error)
	Encrypt(ctx context.Context, req *kmspb.EncryptRequest, opts ...gax.CallOption) (*kmspb.EncryptResponse, error)
	Decrypt(ctx context.Context, req *kmspb.DecryptRequest, opts ...gax.CallOption) (*kmspb.DecryptResponse, error)
}

// GCPKMSProvider implements MasterKeyProvider using Google Cloud KMS.
type GCPKMSProvider struct {
	kmsClient GCPKMSClient
	keyName   string
}

// NewGCPKMSProvider creates a GCP KMS-based master key provider.
func NewGCPKMSProvider(kmsClient GCPKMSClient, options GCPKMSOptions) *GCPKMSProvider {
	return &GCPKMSProvider{
		kmsClient: kmsClient,
		keyName:   options.KeyName,
	}
}

// GenerateDataKey draws the data key from the KMS HSM random source and wraps
// it under the configured key, binding the encryption context as AAD.
func (g *GCPKMSProvider) GenerateDataKey(ctx context.Context, alg Algorithm, ec EncryptionContext) (DataKey, []EncryptedDataKey, error) {
	aad := ec.Bytes()

	randomResp, err := g.kmsClient.GenerateRandomBytes(ctx, &kmspb.GenerateRandomBytesRequest{
		Location:        extractLocationFromKeyName(g.keyName),
		LengthBytes:     int32(alg.DataKeyLen),
		ProtectionLevel: kmspb.ProtectionLevel_HSM,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}

	plaintextKey := randomResp.Data
	if len(plaintextKey) != alg.DataKeyLen {
		return nil, nil, fmt.Errorf("KMS returned %d random bytes, suite %s requires %d",
			len(plaintextKey), alg.Name, alg.DataKeyLen)
	}

	encryptResp, err := g.kmsClient.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:                        g.keyName,
		Plaintext:                   plaintextKey,
		AdditionalAuthenticatedData: aad,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encrypt data key: %w", err)
	}

	edks := []EncryptedDataKey{{
		ProviderID:   GCPKMSProviderID,
		ProviderInfo: g.keyName,
		Ciphertext:   encryptResp.Ciphertext,
	}}

	return DataKey(plaintextKey), edks, nil
}

// DecryptDataKey unwraps the first encrypted data key the configured key can
// decrypt.
func (g *GCPKMSProvider) DecryptDataKey(ctx context.Context, edks []EncryptedDataKey, alg Algorithm, ec EncryptionContext) (DataKey, error) {
	aad := ec.Bytes()

	var lastErr error
	attempted := 0
	for _, edk := range edks {
		if edk.ProviderID != GCPKMSProviderID {
			continue
		}
		attempted++

		resp, err := g.kmsClient.Decrypt(ctx, &kmspb.DecryptRequest{
			Name:                        g.keyName,
			Ciphertext:                  edk.Ciphertext,
			AdditionalAuthenticatedData: aad,
		})
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Plaintext) != alg.DataKeyLen {
			lastErr = fmt.Errorf("KMS returned a %d-byte data key, suite %s requires %d",
				len(resp.Plaintext), alg.Name, alg.DataKeyLen)
			continue
		}
		return DataKey(resp.Plaintext), nil
	}

	if attempted == 0 {
		return nil, fmt.Errorf("no encrypted data keys for provider %q", GCPKMSProviderID)
	}
	return nil, fmt.Errorf("unable to decrypt any of %d encrypted data keys: %w", attempted, lastErr)
}

// Helper function to extract location from key name
func extractLocationFromKeyName(keyName string) string {
	// Format: projects/{project}/locations/{location}/keyRings/{keyRing}/cryptoKeys/{cryptoKey}
	parts := strings.Split(keyName, "/")
	var projectID, location string

	for i, part := range parts {
		if part == "projects" && i+1 < len(parts) {
			projectID = parts[i+1]
		}
		if part == "locations" && i+1 < len(parts) {
			location = parts[i+1]
		}
	}

	if projectID != "" && location != "" {
		return fmt.Sprintf("projects/%s/locations/%s", projectID, location)
	}

	return "projects/default-project/locations/global" // Default location
}
