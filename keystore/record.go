package keystore

import (
	"errors"
	"time"
)

// Record is the persisted form of one user's encrypted posting key.
type Record struct {
	Username  string `json:"username"`
	Encrypted string `json:"encrypted"`
	Method    Method `json:"method"`
	Salt      string `json:"salt"`
	IV        string `json:"iv"`
	// CreatedAt is epoch milliseconds.
	CreatedAt int64 `json:"createdAt"`
}

// ErrInvalidRecord is returned for a record missing required fields.
var ErrInvalidRecord = errors.New("invalid key record")

// Validate checks that every field needed to decrypt the record is present.
func (r *Record) Validate() error {
	switch {
	case r == nil:
		return ErrInvalidRecord
	case r.Username == "", r.Encrypted == "", r.Salt == "", r.IV == "":
		return ErrInvalidRecord
	case r.Method != MethodPIN && r.Method != MethodBiometric:
		return ErrInvalidRecord
	}
	return nil
}

// Created returns CreatedAt as a time.Time.
func (r *Record) Created() time.Time {
	return time.UnixMilli(r.CreatedAt)
}
