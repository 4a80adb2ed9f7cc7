package vault

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"faceattend/internal/errs"
)

// FileKeyProvider persists a hex-encoded key in a single file. The key is
// generated on first use; generation is idempotent against concurrent starts
// because publication is an atomic link and losers of the race re-read the
// winner's file.
type FileKeyProvider struct {
	path string

	mu  sync.Mutex
	key []byte
}

// NewFileKeyProvider builds a provider backed by the given path.
func NewFileKeyProvider(path string) *FileKeyProvider {
	return &FileKeyProvider{path: path}
}

// Key returns the cached key, loading or generating it on first call.
func (p *FileKeyProvider) Key() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.key != nil {
		return p.key, nil
	}

	key, err := p.load()
	if errors.Is(err, os.ErrNotExist) {
		key, err = p.generate()
	}
	if err != nil {
		return nil, err
	}
	p.key = key
	return key, nil
}

func (p *FileKeyProvider) load() ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "key file corrupt", err)
	}
	if len(key) != KeySize {
		return nil, errs.Ef(errs.KindCrypto, "key file holds %d bytes, want %d", len(key), KeySize)
	}
	return key, nil
}

func (p *FileKeyProvider) generate() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "key generation failed", err)
	}

	// Write to a temp file and link it into place so the key file only ever
	// appears fully written. Concurrent generators race on the link; losers
	// read the winner's key.
	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".keygen-*")
	if err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "key file create failed", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(hex.EncodeToString(key)); err != nil {
		tmp.Close()
		return nil, errs.Wrap(errs.KindCrypto, "key file write failed", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return nil, errs.Wrap(errs.KindCrypto, "key file chmod failed", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, errs.Wrap(errs.KindCrypto, "key file write failed", err)
	}

	if err := os.Link(tmpName, p.path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return p.load()
		}
		return nil, errs.Wrap(errs.KindCrypto, "key file publish failed", err)
	}
	return key, nil
}

// StaticKeyProvider returns a fixed key. Intended for tests and for deployments
// that inject the secret from an external manager.
type StaticKeyProvider []byte

// Key returns the static key.
func (p StaticKeyProvider) Key() ([]byte, error) {
	if len(p) != KeySize {
		return nil, errs.Ef(errs.KindCrypto, "static key must be %d bytes", KeySize)
	}
	return p, nil
}
