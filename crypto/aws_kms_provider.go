package crypto

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"
	"github.com/aws/aws-sdk-go/service/kms/kmsiface"
	"go.uber.org/zap"
)

// AWSKMSProviderID identifies encrypted data keys produced by this provider.
const AWSKMSProviderID = "aws-kms"

// AWSKMSOptions contains configuration options for AWSKMSProvider
type AWSKMSOptions struct {
	// KeyID is the ARN, ID, or alias of the KMS key to encrypt with. Not
	// required for decrypt-only use: KMS infers the key from the ciphertext.
	KeyID string

	// Regions lists the regions to wrap data keys in. The first region
	// generates the data key; the others re-wrap it.
	Regions []string

	// Profile is the shared-credentials profile to use (optional).
	Profile string
}

// RegionalKMSClient pairs a KMS client with the region it talks to.
type RegionalKMSClient struct {
	Region string
	Client kmsiface.KMSAPI
}

// AWSKMSProvider implements MasterKeyProvider using AWS KMS, with one master
// key per configured region.
type AWSKMSProvider struct {
	clients []RegionalKMSClient
	keyID   string
	logger  *zap.Logger
}

// NewAWSKMSProvider creates a KMS-based master key provider over the given
// regional clients.
func NewAWSKMSProvider(clients []RegionalKMSClient, options AWSKMSOptions, logger *zap.Logger) *AWSKMSProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AWSKMSProvider{
		clients: clients,
		keyID:   options.KeyID,
		logger:  logger,
	}
}

// NewAWSKMSProviderFromOptions builds one KMS client per region from the
// shared credential chain and wraps them in a provider.
func NewAWSKMSProviderFromOptions(options AWSKMSOptions, logger *zap.Logger) (*AWSKMSProvider, error) {
	regions := options.Regions
	if len(regions) == 0 {
		// Single client in the chain's default region
		regions = []string{""}
	}

	clients := make([]RegionalKMSClient, 0, len(regions))
	for _, region := range regions {
		sessOptions := session.Options{
			Profile:           options.Profile,
			SharedConfigState: session.SharedConfigEnable,
		}
		if region != "" {
			sessOptions.Config = aws.Config{Region: aws.String(region)}
		}

		sess, err := session.NewSessionWithOptions(sessOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to create session for region %q: %w", region, err)
		}

		clients = append(clients, RegionalKMSClient{
			Region: region,
			Client: kms.New(sess),
		})
	}

	return NewAWSKMSProvider(clients, options, logger), nil
}

// GenerateDataKey generates a data key in the first region and re-wraps it
// under the same key ID in every other region, so messages stay decryptable
// wherever a region holds a copy.
func (p *AWSKMSProvider) GenerateDataKey(ctx context.Context, alg Algorithm, ec EncryptionContext) (DataKey, []EncryptedDataKey, error) {
	if len(p.clients) == 0 {
		return nil, nil, fmt.Errorf("no KMS clients configured")
	}
	if p.keyID == "" {
		return nil, nil, fmt.Errorf("no KMS key id configured")
	}

	encryptionContext := kmsEncryptionContext(ec)

	primary := p.clients[0]
	generated, err := primary.Client.GenerateDataKeyWithContext(ctx, &kms.GenerateDataKeyInput{
		KeyId:             aws.String(p.keyID),
		NumberOfBytes:     aws.Int64(int64(alg.DataKeyLen)),
		EncryptionContext: encryptionContext,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate data key in region %q: %w", primary.Region, err)
	}
	if len(generated.Plaintext) != alg.DataKeyLen {
		return nil, nil, fmt.Errorf("KMS returned a %d-byte data key, suite %s requires %d",
			len(generated.Plaintext), alg.Name, alg.DataKeyLen)
	}

	dataKey := DataKey(generated.Plaintext)
	edks := []EncryptedDataKey{{
		ProviderID:   AWSKMSProviderID,
		ProviderInfo: aws.StringValue(generated.KeyId),
		Ciphertext:   generated.CiphertextBlob,
	}}

	for _, regional := range p.clients[1:] {
		encrypted, err := regional.Client.EncryptWithContext(ctx, &kms.EncryptInput{
			KeyId:             aws.String(p.keyID),
			Plaintext:         generated.Plaintext,
			EncryptionContext: encryptionContext,
		})
		if err != nil {
			dataKey.Zero()
			return nil, nil, fmt.Errorf("failed to wrap data key in region %q: %w", regional.Region, err)
		}
		edks = append(edks, EncryptedDataKey{
			ProviderID:   AWSKMSProviderID,
			ProviderInfo: aws.StringValue(encrypted.KeyId),
			Ciphertext:   encrypted.CiphertextBlob,
		})
	}

	return dataKey, edks, nil
}

// DecryptDataKey unwraps the first encrypted data key any regional client can
// decrypt.
func (p *AWSKMSProvider) DecryptDataKey(ctx context.Context, edks []EncryptedDataKey, alg Algorithm, ec EncryptionContext) (DataKey, error) {
	encryptionContext := kmsEncryptionContext(ec)

	var lastErr error
	attempted := 0
	for _, edk := range edks {
		if edk.ProviderID != AWSKMSProviderID {
			continue
		}
		attempted++

		for _, regional := range p.clients {
			decrypted, err := regional.Client.DecryptWithContext(ctx, &kms.DecryptInput{
				CiphertextBlob:    edk.Ciphertext,
				EncryptionContext: encryptionContext,
			})
			if err != nil {
				lastErr = err
				continue
			}
			if len(decrypted.Plaintext) != alg.DataKeyLen {
				lastErr = fmt.Errorf("KMS returned a %d-byte data key, suite %s requires %d",
					len(decrypted.Plaintext), alg.Name, alg.DataKeyLen)
				continue
			}
			return DataKey(decrypted.Plaintext), nil
		}
	}

	if attempted == 0 {
		return nil, fmt.Errorf("no encrypted data keys for provider %q", AWSKMSProviderID)
	}
	return nil, fmt.Errorf("unable to decrypt any of %d encrypted data keys: %w", attempted, lastErr)
}

func kmsEncryptionContext(ec EncryptionContext) map[string]*string {
	encryptionContext := make(map[string]*string, len(ec))
	for key, value := range ec {
		encryptionContext[key] = aws.String(value)
	}
	return encryptionContext
}
