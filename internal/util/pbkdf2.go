package util

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// MinPBKDF2Iterations is the lowest iteration count accepted for PIN derivation.
	MinPBKDF2Iterations = 100000
	// PBKDF2KeyLength is the derived key size in bytes (256 bits).
	PBKDF2KeyLength = 32
)

// PBKDF2Params configures PBKDF2-HMAC-SHA256 key derivation.
type PBKDF2Params struct {
	Iterations int `json:"iterations" yaml:"iterations"`
	KeyLen     int `json:"key_len" yaml:"key_len"`
}

func DefaultPBKDF2Params() PBKDF2Params {
	return PBKDF2Params{
		Iterations: MinPBKDF2Iterations,
		KeyLen:     PBKDF2KeyLength,
	}
}

// ValidatePBKDF2Params rejects parameters below the production minimums.
func ValidatePBKDF2Params(p PBKDF2Params) error {
	if p.Iterations < MinPBKDF2Iterations {
		return fmt.Errorf("pbkdf2 iterations %d below minimum %d", p.Iterations, MinPBKDF2Iterations)
	}
	if p.KeyLen != PBKDF2KeyLength {
		return fmt.Errorf("pbkdf2 key length must be %d bytes", PBKDF2KeyLength)
	}
	return nil
}

func DerivePBKDF2Key(passphrase string, salt []byte, params PBKDF2Params) ([]byte, error) {
	if err := ValidatePBKDF2Params(params); err != nil {
		return nil, err
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("pbkdf2 salt must not be empty")
	}
	pass := []byte(passphrase)
	defer WipeBytes(pass)
	return pbkdf2.Key(pass, salt, params.Iterations, params.KeyLen, sha256.New), nil
}
