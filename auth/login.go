package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmcleod/hivekeeper/crypto"
	"github.com/jmcleod/hivekeeper/hive"
	"github.com/jmcleod/hivekeeper/keystore"
)

// Login validates plaintextKey against username's on-chain posting
// authority, encrypts it under a PIN or biometric secret, persists the
// record and opens an authenticated session. On any failure the previous
// session is left untouched. A record is written only once the key has been
// verified; if the session changes after that, the record is kept and the
// call fails with ErrSessionChanged.
func (m *Manager) Login(ctx context.Context, username, plaintextKey string, method keystore.Method, pin string) error {
	const op = "login"
	user, err := keystore.Sanitize(username)
	if err != nil {
		return newError(KindAuth, op, ErrInvalidUsername)
	}
	gen, release, err := m.begin(op, user)
	if err != nil {
		return err
	}
	defer release()

	wif, err := m.register(ctx, op, user, plaintextKey, method, pin)
	if err != nil {
		m.audit.logFailure(ctx, AuditLoginFailure, user, err)
		return err
	}
	m.audit.log(ctx, AuditRegister, user, slog.String("method", method.String()))
	if err := m.commit(op, gen, user, wif); err != nil {
		// The record is on disk even though the session moved on.
		m.rememberStoredUser(user)
		return err
	}
	m.audit.log(ctx, AuditLoginSuccess, user, slog.String("method", method.String()))
	return nil
}

func (m *Manager) register(ctx context.Context, op, user, plaintextKey string, method keystore.Method, pin string) (string, error) {
	if method != keystore.MethodPIN && method != keystore.MethodBiometric {
		return "", newError(KindAuth, op, keystore.ErrUnknownMethod)
	}
	if method == keystore.MethodPIN {
		if err := m.validatePIN(pin); err != nil {
			return "", newError(KindAuth, op, err)
		}
	}

	key, err := hive.ParseWIF(plaintextKey)
	if err != nil {
		return "", newError(KindInvalidKeyFormat, op, err)
	}
	pub := key.PublicKey()
	key.Zero()

	acct, err := m.accounts.GetAccount(ctx, user)
	switch {
	case errors.Is(err, hive.ErrAccountNotFound):
		return "", newError(KindAccountNotFound, op, err)
	case err != nil:
		return "", newError(KindHive, op, err)
	}
	if !acct.HasPostingKey(pub) {
		return "", newError(KindInvalidKey, op, nil)
	}

	salt, err := m.salts.Generate(crypto.DefaultSaltLength)
	if err != nil {
		return "", newError(KindStorage, op, err)
	}
	iv, err := m.salts.Generate(crypto.IVLength)
	if err != nil {
		return "", newError(KindStorage, op, err)
	}
	secret, err := m.recordSecret(ctx, op, user, method, pin, salt)
	if err != nil {
		return "", err
	}

	wif := strings.TrimSpace(plaintextKey)
	encrypted, err := m.cipher.Encrypt(wif, secret, iv)
	if err != nil {
		return "", newError(KindStorage, op, err)
	}
	rec := &keystore.Record{
		Username:  user,
		Encrypted: encrypted,
		Method:    method,
		Salt:      salt,
		IV:        iv,
		CreatedAt: m.now().UnixMilli(),
	}
	if err := m.store.Put(ctx, user, rec); err != nil {
		return "", newError(KindStorage, op, err)
	}
	return wif, nil
}

// LoginStoredUser unlocks a previously registered user. pin is ignored for
// biometric records and may be empty. Wrong PINs, missing records and
// corrupted records all fail with the same generic ErrAuth. A malformed PIN
// is rejected before the record is looked up, so the result never depends
// on whether the user exists.
func (m *Manager) LoginStoredUser(ctx context.Context, username, pin string) error {
	const op = "login_stored_user"
	user, err := keystore.Sanitize(username)
	if err != nil {
		return newError(KindAuth, op, ErrInvalidUsername)
	}
	if pin != "" {
		if err := m.validatePIN(pin); err != nil {
			return newError(KindAuth, op, err)
		}
	}
	gen, release, err := m.begin(op, user)
	if err != nil {
		return err
	}
	defer release()

	if blocked, retryAfter := m.limiter.check(user); blocked {
		e := newError(KindAuth, op, ErrRateLimited)
		e.RetryAfter = retryAfter
		m.audit.log(ctx, AuditLoginRateLimited, user, slog.Duration("retry_after", retryAfter))
		return e
	}

	wif, err := m.unlock(ctx, op, user, pin)
	if err != nil {
		if KindOf(err) == KindAuth && !errors.Is(err, ErrBiometricUnavailable) {
			m.limiter.recordFailure(user)
		}
		m.audit.logFailure(ctx, AuditLoginFailure, user, err)
		return err
	}
	m.limiter.recordSuccess(user)
	if err := m.commit(op, gen, user, wif); err != nil {
		return err
	}
	m.audit.log(ctx, AuditLoginSuccess, user)
	return nil
}

// unlock loads and decrypts the record for user. An empty PIN against a PIN
// record fails at decryption like any other wrong PIN.
func (m *Manager) unlock(ctx context.Context, op, user, pin string) (string, error) {
	rec, err := m.loadRecord(ctx, op, user, pin)
	if err != nil {
		return "", err
	}
	return m.openRecord(ctx, op, user, pin, rec)
}

// openRecord decrypts rec and checks the result is a well-formed key.
func (m *Manager) openRecord(ctx context.Context, op, user, pin string, rec *keystore.Record) (string, error) {
	secret, err := m.recordSecret(ctx, op, user, rec.Method, pin, rec.Salt)
	if err != nil {
		return "", err
	}
	wif, err := m.cipher.Decrypt(rec.Encrypted, secret, rec.IV)
	if err != nil {
		return "", newError(KindAuth, op, err)
	}
	key, err := hive.ParseWIF(wif)
	if err != nil {
		return "", newError(KindAuth, op, keystore.ErrCorruptRecord)
	}
	key.Zero()
	return wif, nil
}

// ChangePIN re-encrypts username's PIN record under newPIN with a fresh salt
// and IV. The session state is not changed.
func (m *Manager) ChangePIN(ctx context.Context, username, oldPIN, newPIN string) error {
	const op = "change_pin"
	user, err := keystore.Sanitize(username)
	if err != nil {
		return newError(KindAuth, op, ErrInvalidUsername)
	}
	if err := m.validatePIN(oldPIN); err != nil {
		return newError(KindAuth, op, err)
	}
	if err := m.validatePIN(newPIN); err != nil {
		return newError(KindAuth, op, err)
	}
	_, release, err := m.begin(op, user)
	if err != nil {
		return err
	}
	defer release()

	if blocked, retryAfter := m.limiter.check(user); blocked {
		e := newError(KindAuth, op, ErrRateLimited)
		e.RetryAfter = retryAfter
		m.audit.log(ctx, AuditLoginRateLimited, user, slog.Duration("retry_after", retryAfter))
		return e
	}

	rec, err := m.loadRecord(ctx, op, user, oldPIN)
	if err == nil && rec.Method != keystore.MethodPIN {
		_, _ = m.derive(oldPIN, decoySalt, m.kdf)
		err = newError(KindAuth, op, fmt.Errorf("record is protected by %s", rec.Method))
	}
	var wif string
	if err == nil {
		wif, err = m.openRecord(ctx, op, user, oldPIN, rec)
	}
	if err != nil {
		if KindOf(err) == KindAuth {
			m.limiter.recordFailure(user)
		}
		m.audit.logFailure(ctx, AuditLoginFailure, user, err)
		return err
	}
	m.limiter.recordSuccess(user)

	salt, err := m.salts.Generate(crypto.DefaultSaltLength)
	if err != nil {
		return newError(KindStorage, op, err)
	}
	iv, err := m.salts.Generate(crypto.IVLength)
	if err != nil {
		return newError(KindStorage, op, err)
	}
	secret, err := m.derive(newPIN, salt, m.kdf)
	if err != nil {
		return newError(KindStorage, op, err)
	}
	encrypted, err := m.cipher.Encrypt(wif, secret, iv)
	if err != nil {
		return newError(KindStorage, op, err)
	}
	updated := &keystore.Record{
		Username:  user,
		Encrypted: encrypted,
		Method:    keystore.MethodPIN,
		Salt:      salt,
		IV:        iv,
		CreatedAt: rec.CreatedAt,
	}
	if err := m.store.Put(ctx, user, updated); err != nil {
		return newError(KindStorage, op, err)
	}
	m.audit.log(ctx, AuditPINChanged, user)
	return nil
}

// loadRecord reads user's record. Missing and corrupt records fail with the
// generic KindAuth after spending one PIN derivation, so they take as long
// as a wrong PIN.
func (m *Manager) loadRecord(ctx context.Context, op, user, pin string) (*keystore.Record, error) {
	rec, err := m.store.Get(ctx, user)
	switch {
	case errors.Is(err, keystore.ErrNotFound), errors.Is(err, keystore.ErrCorruptRecord):
		_, _ = m.derive(pin, decoySalt, m.kdf)
		return nil, newError(KindAuth, op, err)
	case err != nil:
		return nil, newError(KindStorage, op, err)
	}
	return rec, nil
}

// recordSecret obtains the secret for a record: a PBKDF2 derivation of the
// PIN, or the device secret after a successful gate challenge.
func (m *Manager) recordSecret(ctx context.Context, op, user string, method keystore.Method, pin, salt string) (string, error) {
	switch method {
	case keystore.MethodPIN:
		secret, err := m.derive(pin, salt, m.kdf)
		if err != nil {
			return "", newError(KindAuth, op, err)
		}
		return secret, nil
	case keystore.MethodBiometric:
		return m.biometricSecret(ctx, op, user, salt)
	default:
		return "", newError(KindAuth, op, keystore.ErrUnknownMethod)
	}
}

func (m *Manager) biometricSecret(ctx context.Context, op, user, salt string) (string, error) {
	if m.gate == nil || m.device == nil {
		return "", newError(KindAuth, op, ErrBiometricUnavailable)
	}
	capability, err := m.gate.Capability(ctx)
	if err != nil || !capability.Available() {
		m.logger.Info("biometric unavailable, PIN fallback required", slog.String("username", user))
		return "", newError(KindAuth, op, ErrBiometricUnavailable)
	}
	ok, err := m.gate.Challenge(ctx, fmt.Sprintf("Unlock Hive account @%s", user))
	if err != nil {
		return "", newError(KindAuth, op, fmt.Errorf("%w: %v", ErrBiometricUnavailable, err))
	}
	if !ok {
		return "", newError(KindAuth, op, nil)
	}
	secret, err := m.device.RecordSecret(ctx, salt)
	if err != nil {
		return "", newError(KindStorage, op, err)
	}
	return secret, nil
}

func (m *Manager) validatePIN(pin string) error {
	if len(pin) != m.pinLength {
		return ErrInvalidPIN
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return ErrInvalidPIN
		}
	}
	return nil
}

// commit installs the session unless a logout, timeout or Close happened
// since the operation began.
func (m *Manager) commit(op string, gen uint64, user, wif string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return newError(KindAuth, op, ErrClosed)
	}
	if m.generation != gen {
		return newError(KindAuth, op, ErrSessionChanged)
	}
	m.commitLocked(user, wif)
	return nil
}
