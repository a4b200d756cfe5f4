package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	icrypto "github.com/jmcleod/hivekeeper/internal/crypto"
	"github.com/jmcleod/hivekeeper/internal/util"
)

const (
	// IVLength is the byte length of a record IV.
	IVLength = util.AESBlockSize

	primaryPrefix = "v1:"
	primaryVer    = 1
	macSize       = sha256.Size
)

var (
	// ErrDecrypt is the single failure returned for any decrypt mismatch:
	// wrong secret, wrong IV, tampering or a corrupted payload.
	ErrDecrypt = errors.New("decryption failed")
	// ErrCipherUnavailable is returned when the primary cipher cannot be
	// constructed and the development fallback is not permitted.
	ErrCipherUnavailable = errors.New("secure cipher unavailable")

	errPrimaryUnavailable = errors.New("primary cipher unavailable")
)

// Cipher encrypts private key strings with AES-256-CBC and HMAC-SHA256
// (encrypt-then-MAC) under a caller supplied secret and IV.
type Cipher struct {
	newBlock      util.BlockFactory
	allowFallback bool
	logger        *slog.Logger
}

// CipherOption configures a Cipher.
type CipherOption func(*Cipher)

// WithBlockFactory replaces the AES block constructor.
func WithBlockFactory(f util.BlockFactory) CipherOption {
	return func(c *Cipher) {
		c.newBlock = f
	}
}

// WithInsecureCipherFallback permits the reversible fallback encoding when the
// primary cipher fails. It has no effect unless the binary was built with the
// devfallback tag. The fallback provides no confidentiality.
func WithInsecureCipherFallback(logger *slog.Logger) CipherOption {
	return func(c *Cipher) {
		c.allowFallback = true
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCipher returns a Cipher using crypto/aes.
func NewCipher(opts ...CipherOption) *Cipher {
	c := &Cipher{
		newBlock: util.NewAESBlock,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FallbackEnabled reports whether the reversible fallback can actually be used.
func (c *Cipher) FallbackEnabled() bool {
	return c.allowFallback && insecureFallbackBuild
}

// Encrypt seals plaintext under secret and the hex IV.
func (c *Cipher) Encrypt(plaintext, secret, ivHex string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret must not be empty")
	}
	iv, err := util.HexDecodeLen(ivHex, IVLength)
	if err != nil {
		return "", fmt.Errorf("decoding iv: %w", err)
	}
	out, err := c.encryptPrimary([]byte(plaintext), []byte(secret), iv)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, errPrimaryUnavailable) {
		return "", err
	}
	if !c.FallbackEnabled() {
		return "", fmt.Errorf("%w: %v", ErrCipherUnavailable, err)
	}
	c.logger.Warn("INSECURE: primary cipher unavailable, storing key with reversible fallback encoding",
		slog.String("component", "crypto"),
		slog.String("error", err.Error()),
	)
	return encodeFallback(plaintext, secret, ivHex), nil
}

// Decrypt opens a payload produced by Encrypt. It returns "" and ErrDecrypt
// whenever the secret or IV do not match; callers treat that as a wrong
// credential, never as an empty key.
func (c *Cipher) Decrypt(ciphertext, secret, ivHex string) (string, error) {
	if secret == "" {
		return "", ErrDecrypt
	}
	iv, err := util.HexDecodeLen(ivHex, IVLength)
	if err != nil {
		return "", ErrDecrypt
	}
	plain, err := c.decryptPrimary(ciphertext, []byte(secret), iv)
	if err == nil {
		defer util.WipeBytes(plain)
		return string(plain), nil
	}
	if c.FallbackEnabled() {
		if p, ok := decodeFallback(ciphertext, secret, ivHex); ok {
			c.logger.Warn("INSECURE: opened key stored with reversible fallback encoding",
				slog.String("component", "crypto"),
			)
			return p, nil
		}
	}
	return "", ErrDecrypt
}

func (c *Cipher) encryptPrimary(plain, secret, iv []byte) (string, error) {
	encKey, macKey, err := icrypto.DeriveRecordKeys(secret, iv)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(encKey)
	defer util.WipeBytes(macKey)

	if _, err := c.newBlock(encKey); err != nil {
		return "", fmt.Errorf("%w: %v", errPrimaryUnavailable, err)
	}
	ct, err := util.EncryptAESCBC(c.newBlock, plain, encKey, iv)
	if err != nil {
		return "", err
	}
	tag := recordMAC(macKey, iv, ct)

	out := make([]byte, 0, len(ct)+len(tag))
	out = append(out, ct...)
	out = append(out, tag...)
	return primaryPrefix + base64.StdEncoding.EncodeToString(out), nil
}

func (c *Cipher) decryptPrimary(payload string, secret, iv []byte) ([]byte, error) {
	encoded, ok := strings.CutPrefix(payload, primaryPrefix)
	if !ok {
		return nil, ErrDecrypt
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) < IVLength+macSize {
		return nil, ErrDecrypt
	}
	ct, tag := raw[:len(raw)-macSize], raw[len(raw)-macSize:]

	encKey, macKey, err := icrypto.DeriveRecordKeys(secret, iv)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(encKey)
	defer util.WipeBytes(macKey)

	if !hmac.Equal(tag, recordMAC(macKey, iv, ct)) {
		return nil, ErrDecrypt
	}
	return util.DecryptAESCBC(c.newBlock, ct, encKey, iv)
}

func recordMAC(key, iv, ct []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(icrypto.AADRecordMAC(iv, ct, primaryVer))
	return m.Sum(nil)
}
