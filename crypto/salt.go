package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	mrand "math/rand/v2"

	"github.com/jmcleod/hivekeeper/internal/util"
)

// DefaultSaltLength is the byte length of record salts and IVs.
const DefaultSaltLength = 16

// ErrEntropyUnavailable is returned when the secure random source fails and
// no fallback is permitted.
var ErrEntropyUnavailable = errors.New("secure random source unavailable")

// SaltGenerator produces hex-encoded random salts and IVs.
type SaltGenerator struct {
	entropy       io.Reader
	allowInsecure bool
	logger        *slog.Logger
}

// SaltOption configures a SaltGenerator.
type SaltOption func(*SaltGenerator)

// WithEntropy replaces the random source. Default: crypto/rand.Reader.
func WithEntropy(r io.Reader) SaltOption {
	return func(g *SaltGenerator) {
		g.entropy = r
	}
}

// WithInsecureSaltFallback permits a math/rand fallback when the entropy
// source fails. It has no effect unless the binary was built with the
// devfallback tag.
func WithInsecureSaltFallback(logger *slog.Logger) SaltOption {
	return func(g *SaltGenerator) {
		g.allowInsecure = true
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewSaltGenerator returns a generator backed by crypto/rand.
func NewSaltGenerator(opts ...SaltOption) *SaltGenerator {
	g := &SaltGenerator{
		entropy: rand.Reader,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// FallbackEnabled reports whether the insecure fallback can actually be used.
func (g *SaltGenerator) FallbackEnabled() bool {
	return g.allowInsecure && insecureFallbackBuild
}

// Generate returns length random bytes, hex encoded.
func (g *SaltGenerator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("salt length must be positive, got %d", length)
	}
	b, err := util.RandomBytesFrom(g.entropy, length)
	if err == nil {
		defer util.WipeBytes(b)
		return util.HexEncode(b), nil
	}
	if !g.FallbackEnabled() {
		return "", fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	g.logger.Warn("INSECURE: secure random source failed, using math/rand for salt generation; this build must never ship",
		slog.String("component", "crypto"),
		slog.String("error", err.Error()),
	)
	b = make([]byte, length)
	for i := range b {
		b[i] = byte(mrand.Uint32())
	}
	return util.HexEncode(b), nil
}

var defaultSalts = NewSaltGenerator()

// GenerateSalt returns length cryptographically random bytes, hex encoded.
func GenerateSalt(length int) (string, error) {
	return defaultSalts.Generate(length)
}
