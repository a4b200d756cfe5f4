package crypto

import (
	"bytes"
	"crypto/cipher"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWIF  = "5JkPgtZXVN2tZWpWfD1AwmsmJzPZhkDhHa1uXtgs1Gx3NbXxLYr"
	testSalt = "00112233445566778899aabbccddeeff"
	testIV   = "0f0e0d0c0b0a09080706050403020100"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func brokenBlock([]byte) (cipher.Block, error) {
	return nil, errors.New("aes not available")
}

// enableFallbackBuild simulates a devfallback build for the duration of a test.
func enableFallbackBuild(t *testing.T) {
	t.Helper()
	prev := insecureFallbackBuild
	insecureFallbackBuild = true
	t.Cleanup(func() { insecureFallbackBuild = prev })
}

func quietLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, nil))
}

func TestDeriveKey(t *testing.T) {
	a, err := DeriveKey("123456", testSalt)
	require.NoError(t, err)
	b, err := DeriveKey("123456", testSalt)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c, err := DeriveKey("654321", testSalt)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	d, err := DeriveKey("123456", "ffeeddccbbaa99887766554433221100")
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestDeriveKey_DoesNotValidatePIN(t *testing.T) {
	_, err := DeriveKey("", testSalt)
	require.NoError(t, err)
	_, err = DeriveKey("not a pin", testSalt)
	require.NoError(t, err)
}

func TestDeriveKey_BadSalt(t *testing.T) {
	_, err := DeriveKey("123456", "zz")
	require.Error(t, err)
	_, err = DeriveKey("123456", "")
	require.Error(t, err)
}

func TestDeriveKeyWithParams(t *testing.T) {
	_, err := DeriveKeyWithParams("123456", testSalt, KDFParams{Iterations: 10, KeyLen: 32})
	require.Error(t, err)

	p := KDFParams{Iterations: DefaultIterations * 2, KeyLen: 32}
	require.NoError(t, ValidateKDFParams(p))
	a, err := DeriveKeyWithParams("123456", testSalt, p)
	require.NoError(t, err)
	b, err := DeriveKey("123456", testSalt)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestGenerateSalt(t *testing.T) {
	s, err := GenerateSalt(DefaultSaltLength)
	require.NoError(t, err)
	assert.Len(t, s, 2*DefaultSaltLength)

	_, err = GenerateSalt(0)
	require.Error(t, err)
}

func TestGenerateSalt_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		s, err := GenerateSalt(DefaultSaltLength)
		require.NoError(t, err)
		_, dup := seen[s]
		require.False(t, dup, "duplicate salt after %d calls", i)
		seen[s] = struct{}{}
	}
}

func TestSaltGenerator_FailsClosed(t *testing.T) {
	g := NewSaltGenerator(WithEntropy(failingReader{}), WithInsecureSaltFallback(nil))
	if insecureFallbackBuild {
		t.Skip("built with devfallback")
	}
	assert.False(t, g.FallbackEnabled())
	_, err := g.Generate(DefaultSaltLength)
	require.ErrorIs(t, err, ErrEntropyUnavailable)
}

func TestSaltGenerator_InsecureFallback(t *testing.T) {
	enableFallbackBuild(t)
	var logs bytes.Buffer
	g := NewSaltGenerator(WithEntropy(failingReader{}), WithInsecureSaltFallback(quietLogger(&logs)))
	require.True(t, g.FallbackEnabled())

	s, err := g.Generate(DefaultSaltLength)
	require.NoError(t, err)
	assert.Len(t, s, 2*DefaultSaltLength)
	assert.Contains(t, logs.String(), "INSECURE")

	// Without the option the build tag alone is not enough.
	_, err = NewSaltGenerator(WithEntropy(failingReader{})).Generate(DefaultSaltLength)
	require.ErrorIs(t, err, ErrEntropyUnavailable)
}

func TestSaltGenerator_ShortReader(t *testing.T) {
	g := NewSaltGenerator(WithEntropy(io.LimitReader(bytes.NewReader(make([]byte, 64)), 4)))
	_, err := g.Generate(DefaultSaltLength)
	require.Error(t, err)
}

func TestCipher_RoundTrip(t *testing.T) {
	c := NewCipher()
	secret, err := DeriveKey("123456", testSalt)
	require.NoError(t, err)

	for _, plain := range []string{testWIF, "", "x", strings.Repeat("k", 16), strings.Repeat("k", 100)} {
		ct, err := c.Encrypt(plain, secret, testIV)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(ct, primaryPrefix))
		if len(plain) > 8 {
			assert.NotContains(t, ct, plain)
		}

		got, err := c.Decrypt(ct, secret, testIV)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}
}

func TestCipher_WrongSecret(t *testing.T) {
	c := NewCipher()
	good, err := DeriveKey("123456", testSalt)
	require.NoError(t, err)
	bad, err := DeriveKey("000000", testSalt)
	require.NoError(t, err)

	ct, err := c.Encrypt(testWIF, good, testIV)
	require.NoError(t, err)

	got, err := c.Decrypt(ct, bad, testIV)
	require.ErrorIs(t, err, ErrDecrypt)
	assert.Empty(t, got)

	got, err = c.Decrypt(ct, good, "ffffffffffffffffffffffffffffffff")
	require.ErrorIs(t, err, ErrDecrypt)
	assert.Empty(t, got)
}

func TestCipher_Tampered(t *testing.T) {
	c := NewCipher()
	ct, err := c.Encrypt(testWIF, "secret", testIV)
	require.NoError(t, err)

	raw := []byte(ct)
	raw[len(primaryPrefix)+2] ^= 0x01
	cases := map[string]string{
		"flipped":   string(raw),
		"truncated": ct[:len(ct)-8],
		"noPrefix":  strings.TrimPrefix(ct, primaryPrefix),
		"garbage":   "v1:!!!",
		"empty":     "",
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := c.Decrypt(payload, "secret", testIV)
			require.ErrorIs(t, err, ErrDecrypt)
			assert.Empty(t, got)
		})
	}
}

func TestCipher_BadInputs(t *testing.T) {
	c := NewCipher()
	_, err := c.Encrypt(testWIF, "", testIV)
	require.Error(t, err)
	_, err = c.Encrypt(testWIF, "secret", "abcd")
	require.Error(t, err)

	_, err = c.Decrypt("v1:AAAA", "", testIV)
	require.ErrorIs(t, err, ErrDecrypt)
	_, err = c.Decrypt("v1:AAAA", "secret", "nothex")
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestCipher_FailsClosedWithoutFallback(t *testing.T) {
	c := NewCipher(WithBlockFactory(brokenBlock), WithInsecureCipherFallback(nil))
	if insecureFallbackBuild {
		t.Skip("built with devfallback")
	}
	_, err := c.Encrypt(testWIF, "secret", testIV)
	require.ErrorIs(t, err, ErrCipherUnavailable)
}

func TestCipher_FallbackRoundTrip(t *testing.T) {
	enableFallbackBuild(t)
	var logs bytes.Buffer
	c := NewCipher(WithBlockFactory(brokenBlock), WithInsecureCipherFallback(quietLogger(&logs)))

	ct, err := c.Encrypt(testWIF, "secret", testIV)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ct, fallbackPrefix))
	assert.Contains(t, logs.String(), "INSECURE")

	got, err := c.Decrypt(ct, "secret", testIV)
	require.NoError(t, err)
	assert.Equal(t, testWIF, got)

	got, err = c.Decrypt(ct, "other", testIV)
	require.ErrorIs(t, err, ErrDecrypt)
	assert.Empty(t, got)

	// A fallback payload is never accepted by a cipher that does not allow it.
	_, err = NewCipher().Decrypt(ct, "secret", testIV)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestCipher_FallbackStillPrefersPrimary(t *testing.T) {
	enableFallbackBuild(t)
	c := NewCipher(WithInsecureCipherFallback(quietLogger(&bytes.Buffer{})))

	ct, err := c.Encrypt(testWIF, "secret", testIV)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ct, primaryPrefix))

	got, err := c.Decrypt(ct, "secret", testIV)
	require.NoError(t, err)
	assert.Equal(t, testWIF, got)
}
