package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const HKDFKeyLength = 32

// HKDF expands seed into a single HKDFKeyLength key bound to info.
func HKDF(seed, salt []byte, info string) ([]byte, error) {
	keys, err := HKDFKeys(seed, salt, info)
	if err != nil {
		return nil, err
	}
	return keys[0], nil
}

// HKDFKeys derives one independent key per label. Each label is used as the
// HKDF info string, so keys for different labels never collide.
func HKDFKeys(seed, salt []byte, labels ...string) ([][]byte, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("hkdf: empty seed")
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("hkdf: no labels")
	}
	keys := make([][]byte, 0, len(labels))
	for _, label := range labels {
		k := make([]byte, HKDFKeyLength)
		if _, err := io.ReadFull(hkdf.New(sha256.New, seed, salt, []byte(label)), k); err != nil {
			for _, prev := range keys {
				WipeBytes(prev)
			}
			return nil, fmt.Errorf("reading from HKDF: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}
