package auth

import (
	"errors"
	"fmt"
	"time"
)

// Kind groups errors into the conditions the UI distinguishes.
type Kind int

const (
	// KindAuth is the generic authentication failure. Wrong PINs, corrupted
	// records and failed gate challenges all share it so the UI cannot be
	// used as an oracle.
	KindAuth Kind = iota + 1
	KindInvalidKeyFormat
	KindAccountNotFound
	KindInvalidKey
	// KindHive is a transient blockchain lookup or broadcast failure.
	KindHive
	// KindStorage is a device or platform failure persisting key material.
	KindStorage
	KindSpectator
	KindNotAuthenticated
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindInvalidKeyFormat:
		return "invalid_key_format"
	case KindAccountNotFound:
		return "account_not_found"
	case KindInvalidKey:
		return "invalid_key"
	case KindHive:
		return "hive"
	case KindStorage:
		return "storage"
	case KindSpectator:
		return "spectator"
	case KindNotAuthenticated:
		return "not_authenticated"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidKeyFormat = errors.New("invalid private key format")
	ErrAccountNotFound  = errors.New("account not found")
	ErrInvalidKey       = errors.New("private key does not match the account's posting authority")
	ErrAuth             = errors.New("authentication failed")
	ErrHive             = errors.New("hive request failed")
	ErrStorage          = errors.New("secure storage failure")
	ErrSpectator        = errors.New("spectator mode, please log in")
	ErrNotAuthenticated = errors.New("not authenticated")

	// The following refine KindAuth.
	ErrInvalidUsername      = errors.New("invalid username")
	ErrInvalidPIN           = errors.New("invalid PIN format")
	ErrRateLimited          = errors.New("too many failed attempts")
	ErrOperationInProgress  = errors.New("operation already in progress for this user")
	ErrBiometricUnavailable = errors.New("biometric authentication unavailable")
	ErrSessionChanged       = errors.New("session changed while the operation was in flight")
	ErrClosed               = errors.New("session manager closed")
)

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidKeyFormat:
		return ErrInvalidKeyFormat
	case KindAccountNotFound:
		return ErrAccountNotFound
	case KindInvalidKey:
		return ErrInvalidKey
	case KindHive:
		return ErrHive
	case KindStorage:
		return ErrStorage
	case KindSpectator:
		return ErrSpectator
	case KindNotAuthenticated:
		return ErrNotAuthenticated
	default:
		return ErrAuth
	}
}

// Error is the typed failure returned by every Manager operation.
// errors.Is matches both the Kind sentinel and the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
	// RetryAfter is set for ErrRateLimited.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	sentinel := e.Kind.sentinel()
	if e.Err == nil || e.Err == sentinel {
		return fmt.Sprintf("%s: %v", e.Op, sentinel)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, sentinel, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// UserMessage renders err as a message suitable for display. Decrypt and
// lookup failures on quick-login share one generic message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "Something went wrong. Please try again."
	}
	switch e.Kind {
	case KindInvalidKeyFormat:
		return "That does not look like a valid private posting key."
	case KindAccountNotFound:
		return "No Hive account exists with that username."
	case KindInvalidKey:
		return "This key is not a posting key for that account."
	case KindHive:
		return "Could not reach the Hive network. Please try again."
	case KindStorage:
		return "Secure storage is unavailable on this device."
	case KindSpectator:
		return "You are browsing as a spectator. Please log in to continue."
	case KindNotAuthenticated:
		return "Please log in to continue."
	}

	switch {
	case errors.Is(e.Err, ErrRateLimited):
		secs := int(e.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		return fmt.Sprintf("Too many failed attempts. Try again in %d seconds.", secs)
	case errors.Is(e.Err, ErrInvalidPIN):
		return "Enter your numeric PIN."
	case errors.Is(e.Err, ErrInvalidUsername):
		return "That username is not valid."
	case errors.Is(e.Err, ErrBiometricUnavailable):
		return "Biometric authentication is unavailable. Use your PIN instead."
	case errors.Is(e.Err, ErrOperationInProgress):
		return "A login for this account is already in progress."
	case errors.Is(e.Err, ErrSessionChanged):
		return "The login was cancelled."
	case errors.Is(e.Err, ErrClosed):
		return "The session has ended."
	}
	return "Authentication failed. Check your credentials and try again."
}
