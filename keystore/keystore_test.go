package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/hivekeeper/internal/util"
	"github.com/jmcleod/hivekeeper/storage"
	"github.com/jmcleod/hivekeeper/storage/memory"
)

func testRecord(username string) *Record {
	return &Record{
		Username:  username,
		Encrypted: "v1:c2VhbGVk",
		Method:    MethodPIN,
		Salt:      "00112233445566778899aabbccddeeff",
		IV:        "0f0e0d0c0b0a09080706050403020100",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli(),
	}
}

func newSealedStore(t *testing.T) (*Store, storage.Backend) {
	t.Helper()
	key, err := util.NewAESKey()
	require.NoError(t, err)
	backend, err := storage.NewSealed(memory.NewBackend(), key)
	require.NoError(t, err)
	return NewStore(backend), backend
}

func TestStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newSealedStore(t)

	rec := testRecord("alice")
	require.NoError(t, s.Put(ctx, "alice", rec))

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	require.NoError(t, s.Delete(ctx, "alice"))
	_, err = s.Get(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	// Idempotent.
	require.NoError(t, s.Delete(ctx, "alice"))
}

func TestStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	s, _ := newSealedStore(t)

	require.NoError(t, s.Put(ctx, "alice", testRecord("alice")))
	second := testRecord("alice")
	second.Method = MethodBiometric
	second.Encrypted = "v1:b3RoZXI="
	require.NoError(t, s.Put(ctx, "alice", second))

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, second, got)

	names, err := s.Usernames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, names)
}

func TestStore_Usernames(t *testing.T) {
	ctx := context.Background()
	s, backend := newSealedStore(t)

	require.NoError(t, s.Put(ctx, "bob", testRecord("bob")))
	require.NoError(t, s.Put(ctx, "alice", testRecord("alice")))
	require.NoError(t, backend.Put(ctx, deviceSecretKey, make([]byte, deviceSecretSize)))

	names, err := s.Usernames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, names)
}

func TestStore_UsesSanitizedKey(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewBackend()
	s := NewStore(backend)

	require.NoError(t, s.Put(ctx, "  alice  ", testRecord("alice")))
	raw, err := backend.Get(ctx, "userkey_alice")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "pin", decoded["method"])
	for _, field := range []string{"username", "encrypted", "method", "salt", "iv", "createdAt"} {
		assert.Contains(t, decoded, field)
	}
}

func TestStore_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s, _ := newSealedStore(t)

	assert.ErrorIs(t, s.Put(ctx, "../etc", testRecord("x")), ErrInvalidUsername)
	_, err := s.Get(ctx, "a;b")
	assert.ErrorIs(t, err, ErrInvalidUsername)
	assert.ErrorIs(t, s.Delete(ctx, ""), ErrInvalidUsername)

	incomplete := testRecord("alice")
	incomplete.IV = ""
	assert.ErrorIs(t, s.Put(ctx, "alice", incomplete), ErrInvalidRecord)
}

type brokenBackend struct{ storage.Backend }

var errIO = errors.New("keychain unavailable")

func (brokenBackend) Put(context.Context, string, []byte) error      { return errIO }
func (brokenBackend) Get(context.Context, string) ([]byte, error)    { return nil, errIO }
func (brokenBackend) Delete(context.Context, string) error           { return errIO }
func (brokenBackend) List(context.Context, string) ([]string, error) { return nil, errIO }

func TestStore_PropagatesBackendErrors(t *testing.T) {
	ctx := context.Background()
	s := NewStore(brokenBackend{})

	assert.ErrorIs(t, s.Put(ctx, "alice", testRecord("alice")), errIO)
	_, err := s.Get(ctx, "alice")
	assert.ErrorIs(t, err, errIO)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "alice"), errIO)
	_, err = s.Usernames(ctx)
	assert.ErrorIs(t, err, errIO)
}

func TestSanitize(t *testing.T) {
	accept := [][2]string{
		{"alice", "alice"},
		{"  bob.smith ", "bob.smith"},
		{"user-1_x", "user-1_x"},
		{"A.B", "A.B"},
	}
	for _, tc := range accept {
		got, err := Sanitize(tc[0])
		require.NoError(t, err, tc[0])
		assert.Equal(t, tc[1], got)
	}

	for _, in := range []string{"", "   ", "../etc", "a;b", "a/b", `a\b`, "a b", "alice$", "a|b", "ålice", "a\nb"} {
		_, err := Sanitize(in)
		assert.ErrorIs(t, err, ErrInvalidUsername, "%q", in)
	}
}

func TestMethodJSON(t *testing.T) {
	for _, m := range []Method{MethodPIN, MethodBiometric} {
		b, err := json.Marshal(m)
		require.NoError(t, err)
		var got Method
		require.NoError(t, json.Unmarshal(b, &got))
		assert.Equal(t, m, got)
	}

	var m Method
	assert.ErrorIs(t, json.Unmarshal([]byte(`"face"`), &m), ErrUnknownMethod)
	_, err := json.Marshal(Method(9))
	assert.Error(t, err)

	parsed, err := ParseMethod("biometric")
	require.NoError(t, err)
	assert.Equal(t, MethodBiometric, parsed)
}

func TestDeviceSecret(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewBackend()
	d := NewDeviceSecret(backend)

	a, err := d.RecordSecret(ctx, "00112233445566778899aabbccddeeff")
	require.NoError(t, err)
	assert.Len(t, a, 64)

	again, err := d.RecordSecret(ctx, "00112233445566778899aabbccddeeff")
	require.NoError(t, err)
	assert.Equal(t, a, again)

	other, err := d.RecordSecret(ctx, "ffeeddccbbaa99887766554433221100")
	require.NoError(t, err)
	assert.NotEqual(t, a, other)

	// A fresh handle over the same backend reuses the persisted secret.
	reloaded, err := NewDeviceSecret(backend).RecordSecret(ctx, "00112233445566778899aabbccddeeff")
	require.NoError(t, err)
	assert.Equal(t, a, reloaded)

	// A different device yields a different secret.
	foreign, err := NewDeviceSecret(memory.NewBackend()).RecordSecret(ctx, "00112233445566778899aabbccddeeff")
	require.NoError(t, err)
	assert.NotEqual(t, a, foreign)

	_, err = d.RecordSecret(ctx, "nothex")
	assert.Error(t, err)
}

func TestDeviceSecret_BackendFailure(t *testing.T) {
	_, err := NewDeviceSecret(brokenBackend{}).RecordSecret(context.Background(), "00112233445566778899aabbccddeeff")
	assert.ErrorIs(t, err, errIO)
}

func TestStore_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewBackend()
	s := NewStore(backend)

	require.NoError(t, backend.Put(ctx, "userkey_alice", []byte("{not json")))
	_, err := s.Get(ctx, "alice")
	assert.ErrorIs(t, err, ErrCorruptRecord)

	require.NoError(t, backend.Put(ctx, "userkey_alice", []byte(`{"username":"alice","method":"pin"}`)))
	_, err = s.Get(ctx, "alice")
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestStore_TamperedSealedRecord(t *testing.T) {
	ctx := context.Background()
	key, err := util.NewAESKey()
	require.NoError(t, err)
	inner := memory.NewBackend()
	sealed, err := storage.NewSealed(inner, key)
	require.NoError(t, err)
	s := NewStore(sealed)

	require.NoError(t, s.Put(ctx, "alice", testRecord("alice")))
	require.NoError(t, s.Put(ctx, "bob", testRecord("bob")))
	raw, err := inner.Get(ctx, "userkey_bob")
	require.NoError(t, err)
	require.NoError(t, inner.Put(ctx, "userkey_alice", raw))

	_, err = s.Get(ctx, "alice")
	assert.ErrorIs(t, err, ErrCorruptRecord)
}
