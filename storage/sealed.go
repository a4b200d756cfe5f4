package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/awnumar/memguard"

	icrypto "github.com/jmcleod/hivekeeper/internal/crypto"
	"github.com/jmcleod/hivekeeper/internal/util"
)

// ErrSealed is returned when a stored value cannot be opened with the
// wrapping key, e.g. after tampering or a key file swap.
var ErrSealed = errors.New("sealed value could not be opened")

// Sealed wraps a Backend so every value is stored inside an AES-256-GCM
// Envelope bound to its storage key.
type Sealed struct {
	inner Backend
	key   *memguard.Enclave
}

var _ Backend = (*Sealed)(nil)

// NewSealed returns a Sealed backend. wrappingKey must be 32 bytes; it is
// moved into an enclave and wiped from the caller's slice.
func NewSealed(inner Backend, wrappingKey []byte) (*Sealed, error) {
	if len(wrappingKey) != util.AESKeySize {
		return nil, fmt.Errorf("wrapping key must be %d bytes, got %d", util.AESKeySize, len(wrappingKey))
	}
	return &Sealed{
		inner: inner,
		key:   memguard.NewEnclave(wrappingKey),
	}, nil
}

func (s *Sealed) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", key, ErrSealed, err)
	}

	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening wrapping key enclave: %w", err)
	}
	defer buf.Destroy()

	plain, err := OpenRecord(buf.Bytes(), &env, icrypto.AADStorageValue(key, envelopeVer))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", key, ErrSealed, err)
	}
	return plain, nil
}

func (s *Sealed) Put(ctx context.Context, key string, value []byte) error {
	buf, err := s.key.Open()
	if err != nil {
		return fmt.Errorf("opening wrapping key enclave: %w", err)
	}
	env, err := SealRecord(buf.Bytes(), value, icrypto.AADStorageValue(key, envelopeVer))
	buf.Destroy()
	if err != nil {
		return fmt.Errorf("sealing %s: %w", key, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.inner.Put(ctx, key, data)
}

func (s *Sealed) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *Sealed) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *Sealed) Close() error {
	return s.inner.Close()
}

// LoadOrCreateWrappingKey reads the 32-byte wrapping key at path, creating
// it with mode 0600 when absent. A key file readable by group or others is
// rejected.
func LoadOrCreateWrappingKey(path string) ([]byte, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.Mode().Perm()&0o077 != 0 {
			return nil, fmt.Errorf("wrapping key %s has insecure permissions %v", path, info.Mode().Perm())
		}
		key, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading wrapping key: %w", err)
		}
		if len(key) != util.AESKeySize {
			util.WipeBytes(key)
			return nil, fmt.Errorf("wrapping key %s has %d bytes, want %d", path, len(key), util.AESKeySize)
		}
		return key, nil
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("checking wrapping key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	key, err := util.NewAESKey()
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("creating wrapping key: %w", err)
	}
	if _, err := f.Write(key); err != nil {
		f.Close()
		util.WipeBytes(key)
		return nil, fmt.Errorf("writing wrapping key: %w", err)
	}
	if err := f.Close(); err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("writing wrapping key: %w", err)
	}
	return key, nil
}
