package hive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultNodes are public Hive API nodes tried in order.
var DefaultNodes = []string{
	"https://api.hive.blog",
	"https://api.deathwing.me",
	"https://anyx.io",
}

const maxResponseBytes = 4 << 20

// RPCError is a JSON-RPC error object returned by a node. It is not retried
// on other nodes.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      uint64 `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	ID     uint64          `json:"id"`
}

// Client is a minimal Hive JSON-RPC client with node failover.
type Client struct {
	nodes  []string
	http   *retryablehttp.Client
	logger *slog.Logger
	nextID atomic.Uint64
}

var _ AccountLookup = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetryMax sets the retry count per node.
func WithRetryMax(n int) ClientOption {
	return func(c *Client) {
		c.http.RetryMax = n
	}
}

// WithRetryWait sets the backoff bounds between retries.
func WithRetryWait(minWait, maxWait time.Duration) ClientOption {
	return func(c *Client) {
		c.http.RetryWaitMin = minWait
		c.http.RetryWaitMax = maxWait
	}
}

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.http.HTTPClient.Timeout = d
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient returns a Client for the given nodes.
func NewClient(nodes []string, opts ...ClientOption) (*Client, error) {
	if len(nodes) == 0 {
		return nil, errors.New("at least one hive node is required")
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second

	c := &Client{
		nodes:  append([]string(nil), nodes...),
		http:   rc,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "hive")
	rc.Logger = c.logger
	return c, nil
}

// Call invokes method on the first node that answers. RPC errors are
// returned as-is; transport failures move on to the next node and are
// finally reported wrapping ErrUnavailable.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	var lastErr error
	for _, node := range c.nodes {
		err := c.callNode(ctx, node, body, result)
		if err == nil {
			return nil
		}
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		}
		c.logger.Warn("hive node failed, trying next",
			slog.String("node", node),
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) callNode(ctx context.Context, node string, body []byte, result any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, node, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var rr rpcResponse
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&rr); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if rr.Error != nil {
		return rr.Error
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rr.Result, result); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	return nil
}

type authority struct {
	KeyAuths [][]json.RawMessage `json:"key_auths"`
}

type rpcAccount struct {
	Name    string    `json:"name"`
	Posting authority `json:"posting"`
}

// GetAccount looks up username with condenser_api.get_accounts.
func (c *Client) GetAccount(ctx context.Context, username string) (*Account, error) {
	var accounts []rpcAccount
	if err := c.Call(ctx, "condenser_api.get_accounts", []any{[]string{username}}, &accounts); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	if len(accounts) == 0 || accounts[0].Name != username {
		return nil, fmt.Errorf("%s: %w", username, ErrAccountNotFound)
	}

	acct := &Account{Name: accounts[0].Name}
	for _, auth := range accounts[0].Posting.KeyAuths {
		if len(auth) == 0 {
			continue
		}
		var key string
		if err := json.Unmarshal(auth[0], &key); err != nil {
			return nil, fmt.Errorf("decoding posting authority: %w", err)
		}
		acct.PostingKeys = append(acct.PostingKeys, key)
	}
	return acct, nil
}
