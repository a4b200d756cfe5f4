package auth

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKindAndCause(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("wrapped: %w", newError(KindStorage, "login", cause))

	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrAuth)
	assert.Equal(t, KindStorage, KindOf(err))
	assert.Equal(t, "wrapped: login: secure storage failure: disk full", err.Error())

	bare := newError(KindInvalidKey, "login", nil)
	assert.Equal(t, "login: private key does not match the account's posting authority", bare.Error())
	assert.Equal(t, Kind(0), KindOf(cause))
}

func TestUserMessage(t *testing.T) {
	limited := newError(KindAuth, "login_stored_user", ErrRateLimited)
	limited.RetryAfter = 90 * time.Second

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"foreign", errors.New("boom"), "Something went wrong. Please try again."},
		{"format", newError(KindInvalidKeyFormat, "login", nil), "That does not look like a valid private posting key."},
		{"not found", newError(KindAccountNotFound, "login", nil), "No Hive account exists with that username."},
		{"mismatch", newError(KindInvalidKey, "login", nil), "This key is not a posting key for that account."},
		{"spectator", newError(KindSpectator, "update", nil), "You are browsing as a spectator. Please log in to continue."},
		{"rate limited", limited, "Too many failed attempts. Try again in 90 seconds."},
		{"pin format", newError(KindAuth, "login", ErrInvalidPIN), "Enter your numeric PIN."},
		{"generic", newError(KindAuth, "login", errors.New("mac mismatch")), "Authentication failed. Check your credentials and try again."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, UserMessage(tc.err))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "auth", KindAuth.String())
	assert.Equal(t, "not_authenticated", KindNotAuthenticated.String())
	assert.Equal(t, "unknown", Kind(42).String())
	assert.Equal(t, "spectator", StateSpectator.String())
}
