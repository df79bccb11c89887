package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"mrcrypt/mrcrypt/crypto"
)

// Envelope container layout, all integers big-endian:
//
//	magic "MRC1" | version | suite id (u16) | message id (16 bytes)
//	context count (u16) | per pair: key len (u16), key, value len (u16), value
//	edk count (u16) | per edk: provider id len (u16), provider id,
//	                 provider info len (u16), provider info,
//	                 ciphertext len (u32), ciphertext
//	iv | body len (u64) | body
//	signing suites only: signature len (u16) | DER signature over everything above
const (
	formatVersion = 1
	messageIDLen  = 16
)

var magic = []byte("MRC1")

// Header describes one encrypted message: which suite produced it, the
// context it was bound to, and the wrapped data keys needed to read it.
type Header struct {
	Version           byte
	Algorithm         crypto.Algorithm
	MessageID         [messageIDLen]byte
	EncryptionContext crypto.EncryptionContext
	EncryptedDataKeys []crypto.EncryptedDataKey
}

// MarshalBinary encodes the header deterministically (context in key order),
// so re-encoding a parsed header is byte-identical to the original.
func (h *Header) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer

	buf.Write(magic)
	buf.WriteByte(h.Version)
	writeUint16(&buf, h.Algorithm.ID)
	buf.Write(h.MessageID[:])

	keys := h.EncryptionContext.SortedKeys()
	if len(keys) > math.MaxUint16 {
		return nil, fmt.Errorf("encryption context has too many entries: %d", len(keys))
	}
	writeUint16(&buf, uint16(len(keys)))
	for _, k := range keys {
		if err := writeLenPrefixed16(&buf, []byte(k)); err != nil {
			return nil, err
		}
		if err := writeLenPrefixed16(&buf, []byte(h.EncryptionContext[k])); err != nil {
			return nil, err
		}
	}

	if len(h.EncryptedDataKeys) > math.MaxUint16 {
		return nil, fmt.Errorf("too many encrypted data keys: %d", len(h.EncryptedDataKeys))
	}
	writeUint16(&buf, uint16(len(h.EncryptedDataKeys)))
	for _, edk := range h.EncryptedDataKeys {
		if err := writeLenPrefixed16(&buf, []byte(edk.ProviderID)); err != nil {
			return nil, err
		}
		if err := writeLenPrefixed16(&buf, []byte(edk.ProviderInfo)); err != nil {
			return nil, err
		}
		if len(edk.Ciphertext) > math.MaxUint32 {
			return nil, fmt.Errorf("encrypted data key ciphertext too large: %d bytes", len(edk.Ciphertext))
		}
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(edk.Ciphertext)))
		buf.Write(lenBuf[:])
		buf.Write(edk.Ciphertext)
	}

	return buf.Bytes(), nil
}

// parsedMessage is a fully parsed envelope with the raw slices needed for
// authentication: headerRaw is the GCM additional authenticated data, and
// signedData is everything the trailing signature covers.
type parsedMessage struct {
	header     Header
	headerRaw  []byte
	iv         []byte
	body       []byte
	signedData []byte
	signature  []byte
}

// parseMessage decodes a complete envelope from data.
func parseMessage(data []byte) (*parsedMessage, error) {
	r := &sliceReader{data: data}

	if !bytes.Equal(r.take(len(magic)), magic) {
		return nil, fmt.Errorf("not an mrcrypt message: bad magic")
	}

	version := r.takeByte()
	if r.err == nil && version != formatVersion {
		return nil, fmt.Errorf("unsupported message format version %d", version)
	}

	algID := r.takeUint16()
	if r.err != nil {
		return nil, truncated(r.err)
	}
	alg, err := crypto.AlgorithmByID(algID)
	if err != nil {
		return nil, err
	}

	var header Header
	header.Version = version
	header.Algorithm = alg
	copy(header.MessageID[:], r.take(messageIDLen))

	contextCount := int(r.takeUint16())
	header.EncryptionContext = make(crypto.EncryptionContext, contextCount)
	for i := 0; i < contextCount && r.err == nil; i++ {
		key := string(r.takeLenPrefixed16())
		value := string(r.takeLenPrefixed16())
		header.EncryptionContext[key] = value
	}

	edkCount := int(r.takeUint16())
	header.EncryptedDataKeys = make([]crypto.EncryptedDataKey, 0, edkCount)
	for i := 0; i < edkCount && r.err == nil; i++ {
		edk := crypto.EncryptedDataKey{
			ProviderID:   string(r.takeLenPrefixed16()),
			ProviderInfo: string(r.takeLenPrefixed16()),
		}
		edk.Ciphertext = append([]byte(nil), r.takeLenPrefixed32()...)
		header.EncryptedDataKeys = append(header.EncryptedDataKeys, edk)
	}

	headerEnd := r.offset
	iv := r.take(alg.IVLen)

	bodyLen := r.takeUint64()
	if r.err == nil && bodyLen > uint64(len(data)) {
		return nil, fmt.Errorf("message body length %d exceeds message size", bodyLen)
	}
	body := r.take(int(bodyLen))

	signedEnd := r.offset
	var signature []byte
	if alg.Signing() {
		signature = r.takeLenPrefixed16()
		if r.err == nil && len(signature) == 0 {
			return nil, fmt.Errorf("signed message carries an empty signature")
		}
	}

	if r.err != nil {
		return nil, truncated(r.err)
	}
	if r.offset != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after message end", len(data)-r.offset)
	}

	return &parsedMessage{
		header:     header,
		headerRaw:  data[:headerEnd],
		iv:         iv,
		body:       body,
		signedData: data[:signedEnd],
		signature:  signature,
	}, nil
}

func truncated(err error) error {
	return fmt.Errorf("truncated message: %w", err)
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeLenPrefixed16(buf *bytes.Buffer, b []byte) error {
	if len(b) > math.MaxUint16 {
		return fmt.Errorf("field too large for message header: %d bytes", len(b))
	}
	writeUint16(buf, uint16(len(b)))
	buf.Write(b)
	return nil
}

// sliceReader is a cursor over a byte slice that records the first read past
// the end instead of panicking, so parse code stays linear.
type sliceReader struct {
	data   []byte
	offset int
	err    error
}

func (r *sliceReader) take(n int) []byte {
	if r.err != nil || n < 0 || r.offset+n > len(r.data) {
		if r.err == nil {
			r.err = fmt.Errorf("need %d bytes at offset %d, have %d", n, r.offset, len(r.data)-r.offset)
		}
		return nil
	}
	out := r.data[r.offset : r.offset+n]
	r.offset += n
	return out
}

func (r *sliceReader) takeByte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *sliceReader) takeUint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *sliceReader) takeUint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *sliceReader) takeLenPrefixed16() []byte {
	return r.take(int(r.takeUint16()))
}

func (r *sliceReader) takeLenPrefixed32() []byte {
	b := r.take(4)
	if b == nil {
		return nil
	}
	return r.take(int(binary.BigEndian.Uint32(b)))
}
