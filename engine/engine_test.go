package engine

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrcrypt/mrcrypt/crypto"
)

// stubProvider returns a fixed data key regardless of the encrypted data keys
// presented, standing in for KMS in engine round trips.
type stubProvider struct {
	dataKey []byte
}

func (s *stubProvider) GenerateDataKey(ctx context.Context, alg crypto.Algorithm, ec crypto.EncryptionContext) (crypto.DataKey, []crypto.EncryptedDataKey, error) {
	edks := []crypto.EncryptedDataKey{{ProviderID: "stub", ProviderInfo: "stub-key", Ciphertext: []byte("wrapped")}}
	return crypto.DataKey(s.dataKey).Clone(), edks, nil
}

func (s *stubProvider) DecryptDataKey(ctx context.Context, edks []crypto.EncryptedDataKey, alg crypto.Algorithm, ec crypto.EncryptionContext) (crypto.DataKey, error) {
	return crypto.DataKey(s.dataKey).Clone(), nil
}

func testDataKey(alg crypto.Algorithm) []byte {
	dataKey := make([]byte, alg.DataKeyLen)
	for i := range dataKey {
		dataKey[i] = byte(i + 1)
	}
	return dataKey
}

// newTestEngine wires a full resolver chain over the stub provider, the same
// shape the application assembles.
func newTestEngine(dataKey []byte) *Engine {
	provider := &stubProvider{dataKey: dataKey}
	standard := crypto.NewStandardResolver(provider, nil)
	legacy := crypto.NewLegacyResolver(standard, provider, nil, nil)
	return New(legacy, nil, nil)
}

// buildMessage assembles an envelope by hand so tests can produce messages the
// engine itself never writes, such as ones with legacy verification keys.
// A nil signingKey on a signing suite leaves the message unsigned footer-free,
// which parseMessage rejects; pass a key for well-formed signed messages.
func buildMessage(t *testing.T, alg crypto.Algorithm, ec crypto.EncryptionContext, dataKey, plaintext []byte, signingKey *ecdsa.PrivateKey) []byte {
	t.Helper()

	header := Header{
		Version:           formatVersion,
		Algorithm:         alg,
		EncryptionContext: ec,
		EncryptedDataKeys: []crypto.EncryptedDataKey{
			{ProviderID: "stub", ProviderInfo: "stub-key", Ciphertext: []byte("wrapped")},
		},
	}
	_, err := io.ReadFull(rand.Reader, header.MessageID[:])
	require.NoError(t, err)

	headerBytes, err := header.MarshalBinary()
	require.NoError(t, err)

	messageKey, err := alg.DeriveKey(dataKey, header.MessageID[:])
	require.NoError(t, err)

	gcm, err := newGCM(messageKey)
	require.NoError(t, err)

	iv := make([]byte, alg.IVLen)
	_, err = io.ReadFull(rand.Reader, iv)
	require.NoError(t, err)

	body := gcm.Seal(nil, iv, plaintext, headerBytes)

	var msg bytes.Buffer
	msg.Write(headerBytes)
	msg.Write(iv)
	var bodyLen [8]byte
	binary.BigEndian.PutUint64(bodyLen[:], uint64(len(body)))
	msg.Write(bodyLen[:])
	msg.Write(body)

	if signingKey != nil {
		h := alg.SigningHash()()
		h.Write(msg.Bytes())
		signature, err := ecdsa.SignASN1(rand.Reader, signingKey, h.Sum(nil))
		require.NoError(t, err)
		var sigLen [2]byte
		binary.BigEndian.PutUint16(sigLen[:], uint16(len(signature)))
		msg.Write(sigLen[:])
		msg.Write(signature)
	}

	return msg.Bytes()
}

// legacySignerContext encodes a public key the way legacy producers stored it:
// base64 of 0x04 || X || Y with fixed-width coordinates.
func legacySignerContext(key *ecdsa.PublicKey, alg crypto.Algorithm) crypto.EncryptionContext {
	fieldSize := alg.FieldSize()
	point := make([]byte, 1+2*fieldSize)
	point[0] = 0x04
	key.X.FillBytes(point[1 : 1+fieldSize])
	key.Y.FillBytes(point[1+fieldSize:])
	return crypto.EncryptionContext{
		crypto.SignerKeyField: base64.StdEncoding.EncodeToString(point),
		"purpose":             "test",
	}
}

func TestEngineRoundTrip(t *testing.T) {
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	suites := []crypto.Algorithm{
		crypto.AlgAES128GCMNoKDF,
		crypto.AlgAES256GCMNoKDF,
		crypto.AlgAES256GCMHKDFSHA256,
		crypto.AlgAES128GCMHKDFSHA256ECDSAP256,
		crypto.AlgAES192GCMHKDFSHA384ECDSAP384,
		crypto.AlgAES256GCMHKDFSHA384ECDSAP384,
	}

	for _, alg := range suites {
		t.Run(alg.Name, func(t *testing.T) {
			engine := newTestEngine(testDataKey(alg))

			var encrypted bytes.Buffer
			err := engine.Encrypt(context.Background(), bytes.NewReader(plaintext), &encrypted, EncryptOptions{
				Algorithm:         alg,
				EncryptionContext: crypto.EncryptionContext{"purpose": "test"},
			})
			require.NoError(t, err)

			var decrypted bytes.Buffer
			err = engine.Decrypt(context.Background(), bytes.NewReader(encrypted.Bytes()), &decrypted)
			require.NoError(t, err)
			assert.Equal(t, plaintext, decrypted.Bytes())
		})
	}
}

func TestEngineRoundTripEmptyPlaintext(t *testing.T) {
	alg := crypto.AlgAES256GCMHKDFSHA384ECDSAP384
	engine := newTestEngine(testDataKey(alg))

	var encrypted bytes.Buffer
	err := engine.Encrypt(context.Background(), bytes.NewReader(nil), &encrypted, EncryptOptions{Algorithm: alg})
	require.NoError(t, err)

	var decrypted bytes.Buffer
	err = engine.Decrypt(context.Background(), bytes.NewReader(encrypted.Bytes()), &decrypted)
	require.NoError(t, err)
	assert.Empty(t, decrypted.Bytes())
}

func TestEngineDefaultAlgorithm(t *testing.T) {
	engine := newTestEngine(testDataKey(crypto.DefaultAlgorithm))

	var encrypted bytes.Buffer
	err := engine.Encrypt(context.Background(), bytes.NewReader([]byte("data")), &encrypted, EncryptOptions{})
	require.NoError(t, err)

	msg, err := parseMessage(encrypted.Bytes())
	require.NoError(t, err)
	assert.Equal(t, crypto.DefaultAlgorithm.ID, msg.header.Algorithm.ID)
}

func TestEngineDecryptLegacyMessage(t *testing.T) {
	alg := crypto.AlgAES256GCMHKDFSHA384ECDSAP384
	dataKey := testDataKey(alg)
	plaintext := []byte("written by a legacy producer")

	signingKey, err := ecdsa.GenerateKey(alg.Curve(), rand.Reader)
	require.NoError(t, err)

	message := buildMessage(t, alg, legacySignerContext(&signingKey.PublicKey, alg), dataKey, plaintext, signingKey)

	engine := newTestEngine(dataKey)
	var decrypted bytes.Buffer
	err = engine.Decrypt(context.Background(), bytes.NewReader(message), &decrypted)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted.Bytes())
}

func TestEngineDecryptTamperedBody(t *testing.T) {
	alg := crypto.AlgAES256GCMHKDFSHA384ECDSAP384
	engine := newTestEngine(testDataKey(alg))

	var encrypted bytes.Buffer
	err := engine.Encrypt(context.Background(), bytes.NewReader([]byte("payload")), &encrypted, EncryptOptions{Algorithm: alg})
	require.NoError(t, err)

	// Tampering anywhere breaks the signature before GCM even runs.
	tampered := encrypted.Bytes()
	tampered[len(tampered)-40] ^= 0x01

	err = engine.Decrypt(context.Background(), bytes.NewReader(tampered), &bytes.Buffer{})
	require.Error(t, err)
}

func TestEngineDecryptTamperedBodyNonSigning(t *testing.T) {
	alg := crypto.AlgAES256GCMNoKDF
	engine := newTestEngine(testDataKey(alg))

	var encrypted bytes.Buffer
	err := engine.Encrypt(context.Background(), bytes.NewReader([]byte("payload")), &encrypted, EncryptOptions{Algorithm: alg})
	require.NoError(t, err)

	tampered := encrypted.Bytes()
	tampered[len(tampered)-1] ^= 0x01

	err = engine.Decrypt(context.Background(), bytes.NewReader(tampered), &bytes.Buffer{})
	assert.ErrorContains(t, err, "decrypt message body")
}

func TestEngineDecryptWrongSigner(t *testing.T) {
	alg := crypto.AlgAES256GCMHKDFSHA384ECDSAP384
	dataKey := testDataKey(alg)

	contextKey, err := ecdsa.GenerateKey(alg.Curve(), rand.Reader)
	require.NoError(t, err)
	signingKey, err := ecdsa.GenerateKey(alg.Curve(), rand.Reader)
	require.NoError(t, err)

	// The context advertises one key, the footer was signed with another.
	message := buildMessage(t, alg, legacySignerContext(&contextKey.PublicKey, alg), dataKey, []byte("payload"), signingKey)

	engine := newTestEngine(dataKey)
	err = engine.Decrypt(context.Background(), bytes.NewReader(message), &bytes.Buffer{})
	assert.ErrorContains(t, err, "signature verification failed")
}

func TestEngineDecryptSignedMessageWithoutSignerKey(t *testing.T) {
	alg := crypto.AlgAES256GCMHKDFSHA384ECDSAP384
	dataKey := testDataKey(alg)

	signingKey, err := ecdsa.GenerateKey(alg.Curve(), rand.Reader)
	require.NoError(t, err)

	// No signer key field at all: materials resolve with no verification key,
	// so the mandatory signature check must fail.
	message := buildMessage(t, alg, crypto.EncryptionContext{"purpose": "test"}, dataKey, []byte("payload"), signingKey)

	engine := newTestEngine(dataKey)
	err = engine.Decrypt(context.Background(), bytes.NewReader(message), &bytes.Buffer{})
	assert.ErrorIs(t, err, crypto.ErrNoVerificationKey)
}

func TestEngineDecryptWrongDataKey(t *testing.T) {
	alg := crypto.AlgAES256GCMNoKDF
	engine := newTestEngine(testDataKey(alg))

	var encrypted bytes.Buffer
	err := engine.Encrypt(context.Background(), bytes.NewReader([]byte("payload")), &encrypted, EncryptOptions{Algorithm: alg})
	require.NoError(t, err)

	otherKey := testDataKey(alg)
	otherKey[0] ^= 0xff
	wrongEngine := newTestEngine(otherKey)

	err = wrongEngine.Decrypt(context.Background(), bytes.NewReader(encrypted.Bytes()), &bytes.Buffer{})
	assert.ErrorContains(t, err, "decrypt message body")
}
