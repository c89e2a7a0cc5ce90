package tiercache

import (
	"github.com/CreativeUnicorns/tiercache/encryption"
)

// EncryptionAdapter adapts encryption.Sealer to the Encrypter interface so it
// can be handed to persisted backends.
type EncryptionAdapter struct {
	sealer *encryption.Sealer
}

// NewEncryptionAdapter creates an EncryptionAdapter from key material supplied
// by the caller's configuration loader.
func NewEncryptionAdapter(key []byte) (*EncryptionAdapter, error) {
	sealer, err := encryption.NewSealer(key)
	if err != nil {
		return nil, err
	}
	return &EncryptionAdapter{sealer: sealer}, nil
}

// Encrypt encrypts plaintext and returns the sealed value as a string.
func (e *EncryptionAdapter) Encrypt(plaintext string) (string, error) {
	return e.sealer.Encrypt(plaintext)
}

// Decrypt decrypts a sealed value and returns the original plaintext.
func (e *EncryptionAdapter) Decrypt(encrypted string) (string, error) {
	return e.sealer.Decrypt(encrypted)
}
