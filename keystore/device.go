package keystore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	icrypto "github.com/jmcleod/hivekeeper/internal/crypto"
	"github.com/jmcleod/hivekeeper/internal/util"
	"github.com/jmcleod/hivekeeper/storage"
)

const (
	deviceSecretKey  = "device_secret"
	deviceSecretSize = 32
)

// DeviceSecret is the device-bound secret behind biometric records. It is
// created on first use, persisted in the backend and cached in an enclave.
type DeviceSecret struct {
	backend storage.Backend

	mu     sync.Mutex
	secret *memguard.Enclave
}

// NewDeviceSecret returns a DeviceSecret stored in backend.
func NewDeviceSecret(backend storage.Backend) *DeviceSecret {
	return &DeviceSecret{backend: backend}
}

func (d *DeviceSecret) load(ctx context.Context) (*memguard.Enclave, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.secret != nil {
		return d.secret, nil
	}

	raw, err := d.backend.Get(ctx, deviceSecretKey)
	switch {
	case err == nil:
		if len(raw) != deviceSecretSize {
			util.WipeBytes(raw)
			return nil, fmt.Errorf("device secret has %d bytes, want %d", len(raw), deviceSecretSize)
		}
	case errors.Is(err, storage.ErrNotFound):
		raw, err = util.RandomBytes(deviceSecretSize)
		if err != nil {
			return nil, fmt.Errorf("generating device secret: %w", err)
		}
		if err := d.backend.Put(ctx, deviceSecretKey, raw); err != nil {
			util.WipeBytes(raw)
			return nil, fmt.Errorf("storing device secret: %w", err)
		}
	default:
		return nil, fmt.Errorf("loading device secret: %w", err)
	}

	d.secret = memguard.NewEnclave(raw)
	return d.secret, nil
}

// RecordSecret derives the hex secret for a biometric record with the given
// hex salt. Callers must only invoke it after a successful gate challenge.
func (d *DeviceSecret) RecordSecret(ctx context.Context, saltHex string) (string, error) {
	salt, err := util.HexDecode(saltHex)
	if err != nil || len(salt) == 0 {
		return "", fmt.Errorf("decoding salt: invalid hex")
	}
	enclave, err := d.load(ctx)
	if err != nil {
		return "", err
	}
	buf, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("opening device secret enclave: %w", err)
	}
	defer buf.Destroy()

	secret, err := icrypto.DeriveBiometricSecret(buf.Bytes(), salt)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(secret)
	return util.HexEncode(secret), nil
}
