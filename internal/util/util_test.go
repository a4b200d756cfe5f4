package util

import (
	"bytes"
	"crypto/cipher"
	"errors"
	"testing"
)

func TestAES(t *testing.T) {
	key, _ := NewAESKey()
	plainText := []byte("hello world")
	aad := []byte("context")

	t.Run("EncryptDecryptWithAAD", func(t *testing.T) {
		cipherText, err := EncryptAESWithAAD(plainText, key, aad)
		if err != nil {
			t.Fatalf("EncryptAESWithAAD failed: %v", err)
		}
		decrypted, err := DecryptAESWithAAD(cipherText, key, aad)
		if err != nil {
			t.Fatalf("DecryptAESWithAAD failed: %v", err)
		}
		if !bytes.Equal(plainText, decrypted) {
			t.Errorf("expected %s, got %s", plainText, decrypted)
		}
	})

	t.Run("TamperAAD", func(t *testing.T) {
		cipherText, _ := EncryptAESWithAAD(plainText, key, aad)
		_, err := DecryptAESWithAAD(cipherText, key, []byte("wrong context"))
		if err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("RejectBadKeySize", func(t *testing.T) {
		_, err := EncryptAESWithAAD(plainText, []byte("too short"), aad)
		if err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})
}

func TestAESCBC(t *testing.T) {
	key, _ := NewAESKey()
	iv, _ := RandomBytes(AESBlockSize)

	t.Run("RoundTrip", func(t *testing.T) {
		for _, size := range []int{0, 1, 15, 16, 17, 51} {
			plain := bytes.Repeat([]byte{'k'}, size)
			ct, err := EncryptAESCBC(NewAESBlock, plain, key, iv)
			if err != nil {
				t.Fatalf("EncryptAESCBC(%d) failed: %v", size, err)
			}
			if len(ct)%AESBlockSize != 0 {
				t.Errorf("ciphertext length %d not block aligned", len(ct))
			}
			got, err := DecryptAESCBC(NewAESBlock, ct, key, iv)
			if err != nil {
				t.Fatalf("DecryptAESCBC(%d) failed: %v", size, err)
			}
			if !bytes.Equal(plain, got) {
				t.Errorf("size %d: expected %q, got %q", size, plain, got)
			}
		}
	})

	t.Run("RejectBadIV", func(t *testing.T) {
		_, err := EncryptAESCBC(NewAESBlock, []byte("x"), key, []byte("short"))
		if err == nil {
			t.Error("expected error for short IV")
		}
	})

	t.Run("RejectUnalignedCiphertext", func(t *testing.T) {
		_, err := DecryptAESCBC(NewAESBlock, []byte("abc"), key, iv)
		if err == nil {
			t.Error("expected error for unaligned ciphertext")
		}
	})

	t.Run("BlockFactoryFailure", func(t *testing.T) {
		broken := func([]byte) (cipher.Block, error) { return nil, errors.New("no aes here") }
		_, err := EncryptAESCBC(broken, []byte("x"), key, iv)
		if err == nil {
			t.Error("expected factory error to propagate")
		}
	})
}

func TestPKCS7(t *testing.T) {
	padded := pkcs7Pad([]byte("abc"), 16)
	if len(padded) != 16 || padded[15] != 13 {
		t.Fatalf("unexpected padding: %v", padded)
	}
	if _, err := pkcs7Unpad(append(bytes.Repeat([]byte{1}, 15), 0), 16); !errors.Is(err, ErrInvalidPadding) {
		t.Errorf("expected ErrInvalidPadding for zero pad byte, got %v", err)
	}
	if _, err := pkcs7Unpad(append(bytes.Repeat([]byte{1}, 14), 2, 3), 16); !errors.Is(err, ErrInvalidPadding) {
		t.Errorf("expected ErrInvalidPadding for inconsistent pad, got %v", err)
	}
}

func TestPBKDF2(t *testing.T) {
	params := DefaultPBKDF2Params()
	salt := []byte("0123456789abcdef")

	key, err := DerivePBKDF2Key("123456", salt, params)
	if err != nil {
		t.Fatalf("DerivePBKDF2Key failed: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("expected key length 32, got %d", len(key))
	}
	again, _ := DerivePBKDF2Key("123456", salt, params)
	if !bytes.Equal(key, again) {
		t.Error("DerivePBKDF2Key should be deterministic")
	}
	other, _ := DerivePBKDF2Key("654321", salt, params)
	if bytes.Equal(key, other) {
		t.Error("different passphrases should derive different keys")
	}

	t.Run("RejectLowIterations", func(t *testing.T) {
		p := params
		p.Iterations = 1000
		if _, err := DerivePBKDF2Key("123456", salt, p); err == nil {
			t.Error("expected error for low iteration count")
		}
	})

	t.Run("RejectEmptySalt", func(t *testing.T) {
		if _, err := DerivePBKDF2Key("123456", nil, params); err == nil {
			t.Error("expected error for empty salt")
		}
	})
}

func TestHKDF(t *testing.T) {
	seed := []byte("seed")
	salt := []byte("salt")

	key1, err := HKDF(seed, salt, "info")
	if err != nil {
		t.Fatalf("HKDF failed: %v", err)
	}
	if len(key1) != HKDFKeyLength {
		t.Errorf("expected key length %d, got %d", HKDFKeyLength, len(key1))
	}

	key2, _ := HKDF(seed, salt, "info")
	if !bytes.Equal(key1, key2) {
		t.Error("HKDF should be deterministic")
	}

	key3, _ := HKDF(seed, salt, "different info")
	if bytes.Equal(key1, key3) {
		t.Error("HKDF should produce different output with different info")
	}

	if _, err := HKDF(nil, salt, "info"); err == nil {
		t.Error("expected error for empty seed")
	}
}

func TestHKDFKeys(t *testing.T) {
	seed := []byte("record secret")
	iv := []byte("0123456789abcdef")

	keys, err := HKDFKeys(seed, iv, "enc", "mac")
	if err != nil {
		t.Fatalf("HKDFKeys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	if bytes.Equal(keys[0], keys[1]) {
		t.Error("labels must yield distinct keys")
	}
	single, _ := HKDF(seed, iv, "mac")
	if !bytes.Equal(single, keys[1]) {
		t.Error("HKDFKeys should match HKDF for the same label")
	}

	if _, err := HKDFKeys(seed, iv); err == nil {
		t.Error("expected error without labels")
	}
}

func TestWipeBytes(t *testing.T) {
	b := []byte{0x01, 0x02, 0x03}
	WipeBytes(b)
	if !bytes.Equal(b, make([]byte, 3)) {
		t.Errorf("WipeBytes left data behind: %v", b)
	}
	WipeBytes(nil)
}

func TestEncoding(t *testing.T) {
	s := "test string"
	encoded := HexEncode([]byte(s))
	decoded, err := HexDecode(encoded)
	if err != nil {
		t.Fatalf("HexDecode failed: %v", err)
	}
	if string(decoded) != s {
		t.Errorf("expected %s, got %s", s, string(decoded))
	}

	if _, err := HexDecodeLen(encoded, 4); err == nil {
		t.Error("HexDecodeLen should reject the wrong length")
	}

	normalized := Normalize("café")
	if normalized != "café" {
		t.Errorf("Normalize failed, got %q", normalized)
	}
}

func TestRandom(t *testing.T) {
	b1, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	b2, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	if len(b1) != 32 {
		t.Errorf("expected 32 bytes, got %d", len(b1))
	}
	if bytes.Equal(b1, b2) {
		t.Error("RandomBytes should produce different outputs")
	}

	if _, err := RandomBytesFrom(bytes.NewReader([]byte{1, 2}), 4); err == nil {
		t.Error("RandomBytesFrom should fail on a short reader")
	}
	if _, err := RandomBytes(0); err == nil {
		t.Error("RandomBytes(0) should fail")
	}
}
