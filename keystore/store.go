// Package keystore persists one encrypted posting key record per local user.
package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmcleod/hivekeeper/storage"
)

var (
	// ErrNotFound is returned by Get when no record exists for the username.
	ErrNotFound = storage.ErrNotFound
	// ErrCorruptRecord is returned by Get when the stored value cannot be
	// decoded into a usable record.
	ErrCorruptRecord = errors.New("corrupt key record")
)

// Store reads and writes Records through a storage.Backend.
type Store struct {
	backend storage.Backend
}

// NewStore returns a Store over backend.
func NewStore(backend storage.Backend) *Store {
	return &Store{backend: backend}
}

// Put writes rec under username, replacing any previous record.
func (s *Store) Put(ctx context.Context, username string, rec *Record) error {
	key, err := StorageKey(username)
	if err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	if err := s.backend.Put(ctx, key, data); err != nil {
		return fmt.Errorf("storing record for %s: %w", username, err)
	}
	return nil
}

// Get returns the record for username, or an error wrapping ErrNotFound.
func (s *Store) Get(ctx context.Context, username string) (*Record, error) {
	key, err := StorageKey(username)
	if err != nil {
		return nil, err
	}
	data, err := s.backend.Get(ctx, key)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("%s: %w", username, ErrNotFound)
		case errors.Is(err, storage.ErrSealed):
			return nil, fmt.Errorf("%s: %w: %v", username, ErrCorruptRecord, err)
		}
		return nil, fmt.Errorf("loading record for %s: %w", username, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", username, ErrCorruptRecord, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", username, ErrCorruptRecord)
	}
	return &rec, nil
}

// Delete removes the record for username. Deleting an absent record is not
// an error.
func (s *Store) Delete(ctx context.Context, username string) error {
	key, err := StorageKey(username)
	if err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("deleting record for %s: %w", username, err)
	}
	return nil
}

// Usernames lists users that have a stored record, in lexical order.
func (s *Store) Usernames(ctx context.Context) ([]string, error) {
	keys, err := s.backend.List(ctx, KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimPrefix(k, KeyPrefix))
	}
	return names, nil
}
