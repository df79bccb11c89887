package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncryptionContextBytes(t *testing.T) {
	ec := EncryptionContext{"b": "2", "a": "1", "c": "3"}

	first := ec.Bytes()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ec.Bytes(), "byte form must be deterministic")
	}

	assert.Equal(t, []byte(`{"a":"1","b":"2","c":"3"}`), first)
	assert.Equal(t, []byte(`{}`), EncryptionContext{}.Bytes())
	assert.Equal(t, []byte(`{}`), EncryptionContext(nil).Bytes())
}

func TestEncryptionContextClone(t *testing.T) {
	ec := EncryptionContext{"a": "1"}
	clone := ec.Clone()
	clone["a"] = "changed"
	clone["b"] = "new"

	assert.Equal(t, "1", ec["a"])
	assert.NotContains(t, ec, "b")

	assert.NotNil(t, EncryptionContext(nil).Clone())
}

func TestEncryptionContextSortedKeys(t *testing.T) {
	ec := EncryptionContext{"z": "", "a": "", "m": ""}
	assert.Equal(t, []string{"a", "m", "z"}, ec.SortedKeys())
	assert.Empty(t, EncryptionContext(nil).SortedKeys())
}
