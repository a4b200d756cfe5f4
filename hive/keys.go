// Package hive holds the Hive blockchain collaborators used by the key
// custody core: WIF key handling, posting authority lookup and follow
// operations.
package hive

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // Hive public key checksums are RIPEMD-160.
)

const (
	// PublicKeyPrefix is the address prefix of Hive mainnet public keys.
	PublicKeyPrefix = "STM"

	wifVersion       = 0x80
	compressedSuffix = 0x01
	checksumLen      = 4
)

// ErrInvalidWIF is returned for strings that are not a well-formed WIF
// private key.
var ErrInvalidWIF = errors.New("invalid WIF private key")

// ErrInvalidPublicKey is returned for malformed STM public keys.
var ErrInvalidPublicKey = errors.New("invalid public key")

// PrivateKey is a parsed secp256k1 posting key.
type PrivateKey struct {
	key *btcec.PrivateKey
}

// ParseWIF decodes a base58check WIF string.
func ParseWIF(wif string) (*PrivateKey, error) {
	wif = strings.TrimSpace(wif)
	if wif == "" {
		return nil, ErrInvalidWIF
	}
	payload, version, err := base58.CheckDecode(wif)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWIF, err)
	}
	if version != wifVersion {
		return nil, fmt.Errorf("%w: unexpected version byte 0x%02x", ErrInvalidWIF, version)
	}
	switch {
	case len(payload) == btcec.PrivKeyBytesLen:
	case len(payload) == btcec.PrivKeyBytesLen+1 && payload[btcec.PrivKeyBytesLen] == compressedSuffix:
		payload = payload[:btcec.PrivKeyBytesLen]
	default:
		return nil, fmt.Errorf("%w: unexpected payload length %d", ErrInvalidWIF, len(payload))
	}
	priv, _ := btcec.PrivKeyFromBytes(payload)
	if priv.Key.IsZero() {
		return nil, fmt.Errorf("%w: zero scalar", ErrInvalidWIF)
	}
	return &PrivateKey{key: priv}, nil
}

// PublicKey returns the STM encoded public key.
func (k *PrivateKey) PublicKey() string {
	return EncodePublicKey(k.key.PubKey())
}

// Zero clears the scalar.
func (k *PrivateKey) Zero() {
	k.key.Zero()
}

// EncodePublicKey renders pub as STM + base58(compressed || ripemd160 checksum).
func EncodePublicKey(pub *btcec.PublicKey) string {
	compressed := pub.SerializeCompressed()
	sum := checksum(compressed)
	return PublicKeyPrefix + base58.Encode(append(compressed, sum...))
}

// ParsePublicKey validates an STM public key string.
func ParsePublicKey(s string) (*btcec.PublicKey, error) {
	encoded, ok := strings.CutPrefix(s, PublicKeyPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s prefix", ErrInvalidPublicKey, PublicKeyPrefix)
	}
	raw := base58.Decode(encoded)
	if len(raw) != btcec.PubKeyBytesLenCompressed+checksumLen {
		return nil, fmt.Errorf("%w: bad length", ErrInvalidPublicKey)
	}
	key, sum := raw[:btcec.PubKeyBytesLenCompressed], raw[btcec.PubKeyBytesLenCompressed:]
	if string(checksum(key)) != string(sum) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidPublicKey)
	}
	pub, err := btcec.ParsePubKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

func checksum(b []byte) []byte {
	h := ripemd160.New()
	h.Write(b)
	return h.Sum(nil)[:checksumLen]
}
