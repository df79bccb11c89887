package crypto

import (
	"encoding/json"
	"sort"
)

// SignerKeyField is the well-known encryption context key that carries the
// base64-encoded verification key for signing algorithm suites. The name is
// fixed by the message producers and must not change.
const SignerKeyField = "aws-crypto-public-key"

// EncryptionContext is non-secret metadata bound to a message. It is
// authenticated by the message body cipher but travels in the clear.
type EncryptionContext map[string]string

// Bytes converts an EncryptionContext to a deterministic byte representation
// for use as additional authenticated data.
func (ec EncryptionContext) Bytes() []byte {
	// Sort keys for deterministic ordering
	keys := make([]string, 0, len(ec))
	for k := range ec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sortedMap := make(map[string]string, len(ec))
	for _, k := range keys {
		sortedMap[k] = ec[k]
	}

	data, err := json.Marshal(sortedMap)
	if err != nil {
		// Cannot happen for a map of plain strings
		return []byte{}
	}

	return data
}

// Clone returns an independent copy of the context.
func (ec EncryptionContext) Clone() EncryptionContext {
	out := make(EncryptionContext, len(ec))
	for k, v := range ec {
		out[k] = v
	}
	return out
}

// SortedKeys returns the context keys in lexical order.
func (ec EncryptionContext) SortedKeys() []string {
	keys := make([]string, 0, len(ec))
	for k := range ec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
