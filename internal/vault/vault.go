// Package vault encrypts biometric templates for at-rest storage. Templates
// are serialized as fixed-length IEEE-754 blobs and sealed with AES-256-GCM
// under a process-lifetime key supplied by a KeyProvider.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"faceattend/internal/errs"
	"faceattend/internal/face"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// KeyProvider supplies the symmetric template key. Implementations must return
// the same key for the process lifetime; losing the key invalidates every
// enrolled template.
type KeyProvider interface {
	Key() ([]byte, error)
}

// Store encrypts and decrypts descriptors with the provider's key.
type Store struct {
	provider KeyProvider
}

// NewStore builds a template store over the given key provider.
func NewStore(provider KeyProvider) *Store {
	return &Store{provider: provider}
}

// Encrypt seals a descriptor into an opaque blob. The random nonce is
// prepended to the ciphertext.
func (s *Store) Encrypt(d face.Descriptor) ([]byte, error) {
	if len(d) != face.Dim {
		return nil, errs.Ef(errs.KindValidation, "descriptor must have %d dimensions, got %d", face.Dim, len(d))
	}
	aead, err := s.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "nonce generation failed", err)
	}
	return aead.Seal(nonce, nonce, d.Bytes(), nil), nil
}

// Decrypt opens a blob produced by Encrypt. A missing key, a truncated blob,
// or a ciphertext sealed under a different key all fail with a crypto error.
func (s *Store) Decrypt(blob []byte) (face.Descriptor, error) {
	aead, err := s.aead()
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize() {
		return nil, errs.E(errs.KindCrypto, "template blob too short")
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "template decryption failed", err)
	}
	d, err := face.DescriptorFromBytes(plain)
	if err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "decrypted template malformed", err)
	}
	return d, nil
}

func (s *Store) aead() (cipher.AEAD, error) {
	key, err := s.provider.Key()
	if err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "template key unavailable", err)
	}
	if len(key) != KeySize {
		return nil, errs.Ef(errs.KindCrypto, "template key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "cipher init failed", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "gcm init failed", err)
	}
	return aead, nil
}
