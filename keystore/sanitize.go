package keystore

import (
	"errors"
	"regexp"
	"strings"
)

// KeyPrefix namespaces user records in the storage backend.
const KeyPrefix = "userkey_"

// ErrInvalidUsername is returned by Sanitize for names that cannot be used
// as a storage key.
var ErrInvalidUsername = errors.New("invalid username")

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Sanitize trims username and checks it against the storage key alphabet.
// It guards the storage namespace; it is not UX validation.
func Sanitize(username string) (string, error) {
	u := strings.TrimSpace(username)
	if u == "" || !usernamePattern.MatchString(u) {
		return "", ErrInvalidUsername
	}
	return u, nil
}

// StorageKey returns the backend key for username.
func StorageKey(username string) (string, error) {
	u, err := Sanitize(username)
	if err != nil {
		return "", err
	}
	return KeyPrefix + u, nil
}
