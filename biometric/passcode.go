package biometric

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jmcleod/hivekeeper/internal/util"
	"github.com/jmcleod/hivekeeper/storage"
)

const (
	passcodeVerifierKey = "device_passcode"
	passcodeSaltLen     = 16
	// MinPasscodeLength is the shortest passcode Enroll accepts.
	MinPasscodeLength  = 4
	defaultMaxAttempts = 3
)

// ErrPasscodeTooShort is returned by Enroll.
var ErrPasscodeTooShort = fmt.Errorf("device passcode must be at least %d characters", MinPasscodeLength)

type passcodeVerifier struct {
	Salt   string            `json:"salt"`
	Hash   string            `json:"hash"`
	Params util.PBKDF2Params `json:"params"`
}

// PasscodeGate is a device-passcode Gate for terminals. The passcode is
// checked against a PBKDF2 verifier kept in the storage backend; it never
// contributes to any record key.
type PasscodeGate struct {
	backend     storage.Backend
	prompter    Prompter
	params      util.PBKDF2Params
	maxAttempts int
	logger      *slog.Logger
}

var _ Gate = (*PasscodeGate)(nil)

// PasscodeOption configures a PasscodeGate.
type PasscodeOption func(*PasscodeGate)

// WithPBKDF2Params overrides the verifier KDF parameters used by Enroll.
func WithPBKDF2Params(p util.PBKDF2Params) PasscodeOption {
	return func(g *PasscodeGate) {
		g.params = p
	}
}

// WithMaxAttempts sets how many prompts one Challenge may show.
func WithMaxAttempts(n int) PasscodeOption {
	return func(g *PasscodeGate) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithLogger sets the gate logger.
func WithLogger(logger *slog.Logger) PasscodeOption {
	return func(g *PasscodeGate) {
		g.logger = logger
	}
}

// NewPasscodeGate returns a PasscodeGate reading from prompter.
func NewPasscodeGate(backend storage.Backend, prompter Prompter, opts ...PasscodeOption) *PasscodeGate {
	g := &PasscodeGate{
		backend:     backend,
		prompter:    prompter,
		params:      util.DefaultPBKDF2Params(),
		maxAttempts: defaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "biometric")
	return g
}

// Enroll sets the device passcode, replacing any previous one.
func (g *PasscodeGate) Enroll(ctx context.Context, passcode []byte) error {
	if len(passcode) < MinPasscodeLength {
		return ErrPasscodeTooShort
	}
	if err := util.ValidatePBKDF2Params(g.params); err != nil {
		return err
	}
	salt, err := util.RandomBytes(passcodeSaltLen)
	if err != nil {
		return err
	}
	hash, err := util.DerivePBKDF2Key(util.Normalize(string(passcode)), salt, g.params)
	if err != nil {
		return err
	}
	defer util.WipeBytes(hash)

	data, err := json.Marshal(passcodeVerifier{
		Salt:   util.HexEncode(salt),
		Hash:   util.HexEncode(hash),
		Params: g.params,
	})
	if err != nil {
		return err
	}
	if err := g.backend.Put(ctx, passcodeVerifierKey, data); err != nil {
		return fmt.Errorf("storing passcode verifier: %w", err)
	}
	return nil
}

// Enrolled reports whether a passcode verifier exists.
func (g *PasscodeGate) Enrolled(ctx context.Context) (bool, error) {
	_, err := g.backend.Get(ctx, passcodeVerifierKey)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (g *PasscodeGate) Capability(ctx context.Context) (Capability, error) {
	if g.prompter == nil || !g.prompter.Available() {
		return Capability{}, nil
	}
	enrolled, err := g.Enrolled(ctx)
	if err != nil {
		g.logger.Debug("passcode enrollment check failed, reporting unavailable", slog.String("error", err.Error()))
		return Capability{}, nil
	}
	if !enrolled {
		return Capability{}, nil
	}
	return Capability{
		HasDevicePasscode: true,
		SupportedTypes:    []AuthType{DevicePasscode},
		SecurityLevel:     SecuritySecret,
	}, nil
}

type readResult struct {
	secret []byte
	err    error
}

func (g *PasscodeGate) Challenge(ctx context.Context, reason string) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}
	if g.prompter == nil || !g.prompter.Available() {
		return false, ErrNotEnrolled
	}
	raw, err := g.backend.Get(ctx, passcodeVerifierKey)
	if errors.Is(err, storage.ErrNotFound) {
		return false, ErrNotEnrolled
	}
	if err != nil {
		return false, fmt.Errorf("loading passcode verifier: %w", err)
	}
	var v passcodeVerifier
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, fmt.Errorf("decoding passcode verifier: %w", err)
	}
	salt, err := util.HexDecode(v.Salt)
	if err != nil {
		return false, fmt.Errorf("decoding passcode verifier: %w", err)
	}
	want, err := util.HexDecode(v.Hash)
	if err != nil {
		return false, fmt.Errorf("decoding passcode verifier: %w", err)
	}

	prompt := "Device passcode: "
	if reason != "" {
		prompt = reason + "\nDevice passcode: "
	}
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		secret, err := g.read(ctx, prompt)
		switch {
		case ctx.Err() != nil:
			return false, nil
		case errors.Is(err, io.EOF), err == nil && len(secret) == 0:
			return false, nil
		case err != nil:
			return false, fmt.Errorf("reading passcode: %w", err)
		}

		got, err := util.DerivePBKDF2Key(util.Normalize(string(secret)), salt, v.Params)
		util.WipeBytes(secret)
		if err != nil {
			return false, err
		}
		ok := hmac.Equal(got, want)
		util.WipeBytes(got)
		if ok {
			return true, nil
		}
		g.logger.Info("device passcode mismatch", slog.Int("attempt", attempt))
	}
	return false, nil
}

// read runs the blocking prompt so a cancelled ctx resolves the challenge
// immediately. The abandoned read finishes when the terminal returns.
func (g *PasscodeGate) read(ctx context.Context, prompt string) ([]byte, error) {
	ch := make(chan readResult, 1)
	go func() {
		b, err := g.prompter.ReadSecret(prompt)
		ch <- readResult{secret: b, err: err}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.secret != nil {
				util.WipeBytes(r.secret)
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		return r.secret, r.err
	}
}
