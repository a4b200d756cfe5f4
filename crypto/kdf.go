// Package crypto provides the PIN key-derivation and record cipher primitives
// used to protect Hive private keys at rest.
package crypto

import (
	"fmt"

	"github.com/jmcleod/hivekeeper/internal/util"
)

// KDFParams configures PBKDF2-HMAC-SHA256 PIN derivation.
type KDFParams = util.PBKDF2Params

// DefaultIterations is the production PBKDF2 iteration count.
const DefaultIterations = util.MinPBKDF2Iterations

// DefaultKDFParams returns 100,000 iterations with a 256-bit output.
func DefaultKDFParams() KDFParams {
	return util.DefaultPBKDF2Params()
}

// ValidateKDFParams checks that params meet the minimum acceptable thresholds.
func ValidateKDFParams(p KDFParams) error {
	return util.ValidatePBKDF2Params(p)
}

// DeriveKey derives a hex-encoded 256-bit secret from a PIN and a hex salt.
// The PIN format is not checked here; callers validate it first.
func DeriveKey(pin, saltHex string) (string, error) {
	return DeriveKeyWithParams(pin, saltHex, DefaultKDFParams())
}

// DeriveKeyWithParams is DeriveKey with explicit KDF parameters.
func DeriveKeyWithParams(pin, saltHex string, params KDFParams) (string, error) {
	salt, err := util.HexDecode(saltHex)
	if err != nil {
		return "", fmt.Errorf("decoding salt: %w", err)
	}
	key, err := util.DerivePBKDF2Key(util.Normalize(pin), salt, params)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(key)
	return util.HexEncode(key), nil
}
