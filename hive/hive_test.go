package hive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWIF(seed byte) string {
	key := bytes.Repeat([]byte{seed}, 32)
	return base58.CheckEncode(key, wifVersion)
}

// swapChar returns a base58 character different from c.
func swapChar(c byte) string {
	if c == '2' {
		return "3"
	}
	return "2"
}

func TestParseWIF(t *testing.T) {
	wif := testWIF(0x11)
	k, err := ParseWIF(wif)
	require.NoError(t, err)

	pub := k.PublicKey()
	assert.True(t, strings.HasPrefix(pub, PublicKeyPrefix))
	_, err = ParsePublicKey(pub)
	require.NoError(t, err)

	// Deterministic and key specific.
	again, err := ParseWIF(wif)
	require.NoError(t, err)
	assert.Equal(t, pub, again.PublicKey())
	other, err := ParseWIF(testWIF(0x22))
	require.NoError(t, err)
	assert.NotEqual(t, pub, other.PublicKey())

	// Compressed-form WIF maps to the same key.
	compressed := base58.CheckEncode(append(bytes.Repeat([]byte{0x11}, 32), compressedSuffix), wifVersion)
	ck, err := ParseWIF(compressed)
	require.NoError(t, err)
	assert.Equal(t, pub, ck.PublicKey())
}

func TestParseWIF_Invalid(t *testing.T) {
	valid := testWIF(0x11)
	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-key",
		"badChecksum":  valid[:len(valid)-1] + swapChar(valid[len(valid)-1]),
		"wrongVersion": base58.CheckEncode(bytes.Repeat([]byte{0x11}, 32), 0x00),
		"shortPayload": base58.CheckEncode(bytes.Repeat([]byte{0x11}, 20), wifVersion),
		"zeroScalar":   base58.CheckEncode(make([]byte, 32), wifVersion),
		"publicKey":    "STM6LLegbAgLAy28EHrffBVuANFWcFgmqRMW13wBmTExqFE9SCkg4",
	}
	for name, wif := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseWIF(wif)
			assert.ErrorIs(t, err, ErrInvalidWIF)
		})
	}
}

func TestParsePublicKey_Invalid(t *testing.T) {
	k, err := ParseWIF(testWIF(0x11))
	require.NoError(t, err)
	pub := k.PublicKey()

	for _, s := range []string{"", "TST" + pub[3:], pub[:len(pub)-2], pub[:10] + swapChar(pub[10]) + pub[11:]} {
		_, err := ParsePublicKey(s)
		assert.ErrorIs(t, err, ErrInvalidPublicKey, s)
	}
}

func TestStaticAccounts(t *testing.T) {
	accounts := StaticAccounts{"alice": {Name: "alice", PostingKeys: []string{"STMa"}}}
	a, err := accounts.GetAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, a.HasPostingKey("STMa"))
	assert.False(t, a.HasPostingKey("STMb"))

	_, err = accounts.GetAccount(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func accountsHandler(t *testing.T, accounts map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		body, _ := io.ReadAll(r.Body)
		if !assert.NoError(t, json.Unmarshal(body, &req)) {
			return
		}
		assert.Equal(t, "condenser_api.get_accounts", req.Method)

		var params [][]string
		raw, _ := json.Marshal(req.Params)
		if !assert.NoError(t, json.Unmarshal(raw, &params)) || len(params) == 0 {
			return
		}

		result := []any{}
		for _, name := range params[0] {
			if key, ok := accounts[name]; ok {
				result = append(result, map[string]any{
					"name": name,
					"posting": map[string]any{
						"weight_threshold": 1,
						"account_auths":    []any{},
						"key_auths":        []any{[]any{key, 1}},
					},
				})
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}
}

func newTestClient(t *testing.T, nodes ...string) *Client {
	t.Helper()
	c, err := NewClient(nodes,
		WithRetryMax(0),
		WithRetryWait(time.Millisecond, time.Millisecond),
		WithTimeout(2*time.Second),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return c
}

func TestClient_GetAccount(t *testing.T) {
	srv := httptest.NewServer(accountsHandler(t, map[string]string{"alice": "STMalicekey"}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	a, err := c.GetAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", a.Name)
	assert.Equal(t, []string{"STMalicekey"}, a.PostingKeys)

	_, err = c.GetAccount(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestClient_Failover(t *testing.T) {
	var downHits atomic.Int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downHits.Add(1)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer down.Close()
	up := httptest.NewServer(accountsHandler(t, map[string]string{"alice": "STMalicekey"}))
	defer up.Close()

	c := newTestClient(t, down.URL, up.URL)
	a, err := c.GetAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", a.Name)
	assert.Equal(t, int32(1), downHits.Load())
}

func TestClient_AllNodesDown(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer down.Close()

	c := newTestClient(t, down.URL, down.URL)
	_, err := c.GetAccount(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrAccountNotFound)
}

func TestClient_RPCErrorNotRetriedElsewhere(t *testing.T) {
	var second atomic.Int32
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": 1,
			"error": map[string]any{"code": -32602, "message": "Invalid parameters"},
		})
	}))
	defer failing.Close()
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		second.Add(1)
	}))
	defer other.Close()

	c := newTestClient(t, failing.URL, other.URL)
	err := c.Call(context.Background(), "condenser_api.get_accounts", []any{}, nil)
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32602, rpcErr.Code)
	assert.Equal(t, int32(0), second.Load())
}

func TestNewClient_RequiresNodes(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)
}

func TestFollowOperation(t *testing.T) {
	op, err := FollowOperation("alice", "bob", Follow)
	require.NoError(t, err)
	assert.Equal(t, "follow", op.ID)
	assert.Equal(t, []string{"alice"}, op.RequiredPostingAuths)
	assert.JSONEq(t, `["follow",{"follower":"alice","following":"bob","what":["blog"]}]`, op.JSON)

	op, err = FollowOperation("alice", "bob", Mute)
	require.NoError(t, err)
	assert.JSONEq(t, `["follow",{"follower":"alice","following":"bob","what":["ignore"]}]`, op.JSON)

	op, err = FollowOperation("alice", "bob", Unfollow)
	require.NoError(t, err)
	assert.JSONEq(t, `["follow",{"follower":"alice","following":"bob","what":[]}]`, op.JSON)

	_, err = FollowOperation("alice", "bob", Relationship(7))
	assert.ErrorIs(t, err, ErrUnknownRelationship)
	_, err = FollowOperation("", "bob", Follow)
	assert.Error(t, err)
}

func TestParseRelationship(t *testing.T) {
	for _, r := range []Relationship{Unfollow, Follow, Mute} {
		got, err := ParseRelationship(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	_, err := ParseRelationship("block")
	assert.ErrorIs(t, err, ErrUnknownRelationship)
}

func TestDryRunBroadcaster(t *testing.T) {
	var logs bytes.Buffer
	b := DryRunBroadcaster{Logger: slog.New(slog.NewTextHandler(&logs, nil))}
	op, err := FollowOperation("alice", "bob", Follow)
	require.NoError(t, err)

	wif := testWIF(0x11)
	require.NoError(t, b.BroadcastCustomJSON(context.Background(), op, wif))
	assert.Contains(t, logs.String(), "dry-run broadcast")
	assert.NotContains(t, logs.String(), wif)

	assert.ErrorIs(t, b.BroadcastCustomJSON(context.Background(), op, "junk"), ErrInvalidWIF)
}
