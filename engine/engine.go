package engine

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"mrcrypt/mrcrypt/crypto"
	"mrcrypt/mrcrypt/metrics"

	"go.uber.org/zap"
)

// EncryptOptions selects the suite and context for one encryption operation.
type EncryptOptions struct {
	// Algorithm is the suite to encrypt with; the zero value selects
	// crypto.DefaultAlgorithm.
	Algorithm crypto.Algorithm

	// EncryptionContext is the caller-supplied context. The engine never
	// mutates it; signer key material is added to a copy by the resolver.
	EncryptionContext crypto.EncryptionContext
}

// Engine transforms plaintext streams into envelope-encrypted messages and
// back, consuming materials from an injected resolver.
type Engine struct {
	resolver       crypto.MaterialsResolver
	logger         *zap.Logger
	metricsHandler metrics.Handler
}

// New creates an Engine over the given materials resolver.
func New(resolver crypto.MaterialsResolver, logger *zap.Logger, metricsHandler metrics.Handler) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metricsHandler == nil {
		metricsHandler = metrics.NopHandler
	}
	return &Engine{
		resolver:       resolver,
		logger:         logger,
		metricsHandler: metricsHandler,
	}
}

// Encrypt reads all of r and writes one envelope-encrypted message to w.
// Nothing is written on error.
func (e *Engine) Encrypt(ctx context.Context, r io.Reader, w io.Writer, opts EncryptOptions) error {
	start := time.Now()
	e.metricsHandler.Counter(metrics.EncryptRequests).Inc(1)
	err := e.encrypt(ctx, r, w, opts)
	e.metricsHandler.Timer(metrics.EncryptLatency).Record(time.Since(start))
	if err != nil {
		e.metricsHandler.Counter(metrics.EncryptErrors).Inc(1)
	}
	return err
}

func (e *Engine) encrypt(ctx context.Context, r io.Reader, w io.Writer, opts EncryptOptions) error {
	alg := opts.Algorithm
	if alg.ID == 0 {
		alg = crypto.DefaultAlgorithm
	}

	materials, err := e.resolver.ResolveEncryption(ctx, crypto.EncryptionRequest{
		Algorithm:         alg,
		EncryptionContext: opts.EncryptionContext,
	})
	if err != nil {
		return err
	}
	defer materials.DataKey.Zero()

	header := Header{
		Version:           formatVersion,
		Algorithm:         alg,
		EncryptionContext: materials.EncryptionContext,
		EncryptedDataKeys: materials.EncryptedDataKeys,
	}
	if _, err := io.ReadFull(rand.Reader, header.MessageID[:]); err != nil {
		return fmt.Errorf("failed to generate message id: %w", err)
	}

	headerBytes, err := header.MarshalBinary()
	if err != nil {
		return err
	}

	messageKey, err := alg.DeriveKey(materials.DataKey, header.MessageID[:])
	if err != nil {
		return err
	}
	defer crypto.DataKey(messageKey).Zero()

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read plaintext: %w", err)
	}

	gcm, err := newGCM(messageKey)
	if err != nil {
		return err
	}

	iv := make([]byte, alg.IVLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return fmt.Errorf("failed to generate iv: %w", err)
	}

	// The header is bound to the body as additional authenticated data.
	body := gcm.Seal(nil, iv, plaintext, headerBytes)

	var msg bytes.Buffer
	msg.Write(headerBytes)
	msg.Write(iv)
	var bodyLen [8]byte
	binary.BigEndian.PutUint64(bodyLen[:], uint64(len(body)))
	msg.Write(bodyLen[:])
	msg.Write(body)

	if alg.Signing() {
		h := alg.SigningHash()()
		h.Write(msg.Bytes())
		signature, err := ecdsa.SignASN1(rand.Reader, materials.SigningKey, h.Sum(nil))
		if err != nil {
			return fmt.Errorf("failed to sign message: %w", err)
		}
		var sigLen [2]byte
		binary.BigEndian.PutUint16(sigLen[:], uint16(len(signature)))
		msg.Write(sigLen[:])
		msg.Write(signature)
	}

	if _, err := w.Write(msg.Bytes()); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	e.logger.Debug("encrypted message",
		zap.String("algorithm", alg.Name),
		zap.Int("plaintext_bytes", len(plaintext)),
		zap.Int("encrypted_data_keys", len(materials.EncryptedDataKeys)))

	return nil
}

// Decrypt reads one envelope-encrypted message from r and writes the
// plaintext to w. For signing suites the signature is verified with the
// resolved verification key before any plaintext is released.
func (e *Engine) Decrypt(ctx context.Context, r io.Reader, w io.Writer) error {
	start := time.Now()
	e.metricsHandler.Counter(metrics.DecryptRequests).Inc(1)
	err := e.decrypt(ctx, r, w)
	e.metricsHandler.Timer(metrics.DecryptLatency).Record(time.Since(start))
	if err != nil {
		e.metricsHandler.Counter(metrics.DecryptErrors).Inc(1)
	}
	return err
}

func (e *Engine) decrypt(ctx context.Context, r io.Reader, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}

	msg, err := parseMessage(data)
	if err != nil {
		return err
	}
	alg := msg.header.Algorithm

	materials, err := e.resolver.ResolveDecryption(ctx, crypto.DecryptionRequest{
		EncryptedDataKeys: msg.header.EncryptedDataKeys,
		Algorithm:         alg,
		EncryptionContext: msg.header.EncryptionContext,
	})
	if err != nil {
		return err
	}
	defer materials.DataKey.Zero()

	if alg.Signing() {
		if err := verifySignature(alg, materials.VerificationKey, msg.signedData, msg.signature); err != nil {
			return err
		}
	}

	messageKey, err := alg.DeriveKey(materials.DataKey, msg.header.MessageID[:])
	if err != nil {
		return err
	}
	defer crypto.DataKey(messageKey).Zero()

	gcm, err := newGCM(messageKey)
	if err != nil {
		return err
	}

	plaintext, err := gcm.Open(nil, msg.iv, msg.body, msg.headerRaw)
	if err != nil {
		return fmt.Errorf("failed to decrypt message body: %w", err)
	}

	if _, err := w.Write(plaintext); err != nil {
		return fmt.Errorf("failed to write plaintext: %w", err)
	}

	e.logger.Debug("decrypted message",
		zap.String("algorithm", alg.Name),
		zap.Int("plaintext_bytes", len(plaintext)))

	return nil
}

func verifySignature(alg crypto.Algorithm, verificationKey, signedData, signature []byte) error {
	if verificationKey == nil {
		return crypto.ErrNoVerificationKey
	}

	parsed, err := x509.ParsePKIXPublicKey(verificationKey)
	if err != nil {
		return fmt.Errorf("failed to parse verification key: %w", err)
	}
	publicKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("verification key is %T, expected an ECDSA public key", parsed)
	}

	h := alg.SigningHash()()
	h.Write(signedData)
	if !ecdsa.VerifyASN1(publicKey, h.Sum(nil), signature) {
		return fmt.Errorf("message signature verification failed")
	}
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
