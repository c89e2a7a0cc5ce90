package tiercache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CreativeUnicorns/tiercache/encryption"
)

func TestEncryptionAdapter(t *testing.T) {
	var enc Encrypter
	adapter, err := NewEncryptionAdapter([]byte(strings.Repeat("z", 32)))
	require.NoError(t, err)
	enc = adapter

	sealed, err := enc.Encrypt(`{"value":1}`)
	require.NoError(t, err)

	opened, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"value":1}`, opened)
}

func TestEncryptionAdapter_ShortKey(t *testing.T) {
	_, err := NewEncryptionAdapter([]byte("short"))
	assert.ErrorIs(t, err, encryption.ErrInvalidKeyLength)
}
