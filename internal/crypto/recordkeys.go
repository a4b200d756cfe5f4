package icrypto

import (
	"fmt"

	"github.com/jmcleod/hivekeeper/internal/util"
)

const (
	recordEncInfo    = "hivekeeper:record:enc:v1"
	recordMACInfo    = "hivekeeper:record:mac:v1"
	biometricKeyInfo = "hivekeeper:biometric:v1"
)

// DeriveRecordKeys splits a record secret into independent encryption and MAC
// keys. The IV is used as the HKDF salt so each record gets its own pair.
func DeriveRecordKeys(secret, iv []byte) (encKey, macKey []byte, err error) {
	keys, err := util.HKDFKeys(secret, iv, recordEncInfo, recordMACInfo)
	if err != nil {
		return nil, nil, fmt.Errorf("deriving record keys: %w", err)
	}
	return keys[0], keys[1], nil
}

// DeriveBiometricSecret derives the per-record secret guarding a biometric
// record from the device-bound secret and the record salt.
func DeriveBiometricSecret(deviceSecret, salt []byte) ([]byte, error) {
	return util.HKDF(deviceSecret, salt, biometricKeyInfo)
}
