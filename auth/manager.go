// Package auth is the session and authentication manager. It is the only
// component that holds a decrypted signing key in memory.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmcleod/hivekeeper/biometric"
	"github.com/jmcleod/hivekeeper/crypto"
	"github.com/jmcleod/hivekeeper/hive"
	"github.com/jmcleod/hivekeeper/internal/uuid"
	"github.com/jmcleod/hivekeeper/keystore"
)

const (
	// DefaultPINLength is the number of digits in a PIN.
	DefaultPINLength = 6
	// DefaultInactivityTimeout clears the session after this much idle time.
	DefaultInactivityTimeout = 5 * time.Minute
)

// decoySalt is derived against when a record is missing, so looking up an
// unknown user costs the same as a wrong PIN.
var decoySalt = strings.Repeat("5a", crypto.DefaultSaltLength)

// Manager owns the authentication state machine. It is safe for concurrent
// use. Its mutex guards state only and is never held across storage,
// network, gate or key derivation calls.
type Manager struct {
	store       *keystore.Store
	accounts    hive.AccountLookup
	gate        biometric.Gate
	device      *keystore.DeviceSecret
	broadcaster hive.Broadcaster
	cipher      *crypto.Cipher
	salts       *crypto.SaltGenerator
	kdf         crypto.KDFParams
	pinLength   int
	timeout     time.Duration
	now         func() time.Time
	derive      func(pin, saltHex string, params crypto.KDFParams) (string, error)
	logger      *slog.Logger
	registerer  prometheus.Registerer
	alertFn     AlertFunc

	audit   *auditLogger
	metrics *metrics
	limiter *loginRateLimiter

	mu          sync.Mutex
	state       State
	username    string
	key         *memguard.Enclave
	sessionID   string
	startedAt   time.Time
	following   map[string]struct{}
	storedUsers []string
	generation  uint64
	timer       *time.Timer
	timerSeq    uint64
	inflight    map[string]struct{}
	subscribers map[int]chan Snapshot
	nextSub     int
	closed      bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithBiometric enables biometric records, gated by gate and keyed by the
// device secret.
func WithBiometric(gate biometric.Gate, device *keystore.DeviceSecret) Option {
	return func(m *Manager) {
		m.gate = gate
		m.device = device
	}
}

// WithBroadcaster sets the collaborator used by UpdateUserRelationship.
func WithBroadcaster(b hive.Broadcaster) Option {
	return func(m *Manager) {
		m.broadcaster = b
	}
}

// WithCipher replaces the record cipher.
func WithCipher(c *crypto.Cipher) Option {
	return func(m *Manager) {
		m.cipher = c
	}
}

// WithSaltGenerator replaces the salt and IV source.
func WithSaltGenerator(g *crypto.SaltGenerator) Option {
	return func(m *Manager) {
		m.salts = g
	}
}

// WithKDFParams sets the PIN derivation parameters.
func WithKDFParams(p crypto.KDFParams) Option {
	return func(m *Manager) {
		m.kdf = p
	}
}

// WithPINLength sets the number of digits a PIN must have.
func WithPINLength(n int) Option {
	return func(m *Manager) {
		m.pinLength = n
	}
}

// WithInactivityTimeout sets the idle period after which the decrypted key
// is dropped. Zero disables the timer.
func WithInactivityTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.timeout = d
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithRegisterer sets where metrics are registered. Default: a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		m.registerer = reg
	}
}

// WithAlertFunc sets the callback for login failure spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(m *Manager) {
		m.alertFn = fn
	}
}

// withClock overrides time for the rate limiter and audit timestamps.
func withClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// withDeriver overrides PIN derivation.
func withDeriver(fn func(pin, saltHex string, params crypto.KDFParams) (string, error)) Option {
	return func(m *Manager) {
		m.derive = fn
	}
}

// New returns a Manager in the Unauthenticated state. Call Init to load the
// stored user list.
func New(store *keystore.Store, accounts hive.AccountLookup, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("auth: key store is required")
	}
	if accounts == nil {
		return nil, errors.New("auth: account lookup is required")
	}
	m := &Manager{
		store:       store,
		accounts:    accounts,
		kdf:         crypto.DefaultKDFParams(),
		pinLength:   DefaultPINLength,
		timeout:     DefaultInactivityTimeout,
		now:         time.Now,
		derive:      crypto.DeriveKeyWithParams,
		logger:      slog.Default(),
		inflight:    make(map[string]struct{}),
		subscribers: make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := crypto.ValidateKDFParams(m.kdf); err != nil {
		return nil, err
	}
	if m.pinLength <= 0 {
		return nil, errors.New("auth: PIN length must be positive")
	}
	if m.cipher == nil {
		m.cipher = crypto.NewCipher()
	}
	if m.salts == nil {
		m.salts = crypto.NewSaltGenerator()
	}
	if m.registerer == nil {
		m.registerer = prometheus.NewRegistry()
	}
	base := m.logger
	m.logger = base.With("component", "auth")
	m.metrics = newMetrics(m.registerer, m.alertFn, m.now)
	m.audit = newAuditLogger(base, m.metrics, m.now)
	m.limiter = newLoginRateLimiter(m.now)
	return m, nil
}

// Init loads the list of users with stored records.
func (m *Manager) Init(ctx context.Context) error {
	const op = "init"
	names, err := m.store.Usernames(ctx)
	if err != nil {
		return newError(KindStorage, op, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return newError(KindAuth, op, ErrClosed)
	}
	m.storedUsers = names
	m.notifyLocked()
	return nil
}

// Close drops any session, stops the inactivity timer and closes all
// subscription channels. The Manager cannot be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.clearSessionLocked()
	m.generation++
	m.closed = true
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	return nil
}

// Snapshot returns the current session view.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// IsAuthenticated reports whether a signing key is held.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateAuthenticated
}

// StoredUsers lists users with a persisted record.
func (m *Manager) StoredUsers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.storedUsers)
}

// Subscribe returns a channel receiving the latest Snapshot after every
// state change. Slow readers only see the most recent value. The returned
// func unsubscribes.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Snapshot, 1)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = ch
	ch <- m.snapshotLocked()
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subscribers[id]; ok {
			close(c)
			delete(m.subscribers, id)
		}
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	state := m.state
	if state == StateUnauthenticated && len(m.inflight) > 0 {
		state = StateAuthenticating
	}
	return Snapshot{
		State:           state,
		Username:        m.username,
		IsAuthenticated: m.state == StateAuthenticated,
		CanBrowse:       m.state == StateAuthenticated || m.state == StateSpectator,
		StoredUsers:     slices.Clone(m.storedUsers),
		SessionID:       m.sessionID,
		StartedAt:       m.startedAt,
	}
}

func (m *Manager) notifyLocked() {
	snap := m.snapshotLocked()
	for _, ch := range m.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// begin marks username as having an operation in flight. It returns the
// session generation observed at the start, used to detect a logout or
// timeout that happens before commit.
func (m *Manager) begin(op, username string) (uint64, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, nil, newError(KindAuth, op, ErrClosed)
	}
	if _, busy := m.inflight[username]; busy {
		return 0, nil, newError(KindAuth, op, ErrOperationInProgress)
	}
	m.inflight[username] = struct{}{}
	m.notifyLocked()
	gen := m.generation
	return gen, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.inflight, username)
		if !m.closed {
			m.notifyLocked()
		}
	}, nil
}

// commitLocked installs an authenticated session for username.
func (m *Manager) commitLocked(username, wif string) {
	m.clearSessionLocked()
	m.state = StateAuthenticated
	m.username = username
	m.key = memguard.NewEnclave([]byte(wif))
	m.sessionID = uuid.New()
	m.startedAt = m.now()
	m.following = make(map[string]struct{})
	m.addStoredUserLocked(username)
	m.armTimerLocked()
	m.metrics.setAuthenticated(true)
	m.notifyLocked()
}

// rememberStoredUser adds username to the stored user list after its record
// was persisted outside a committed session.
func (m *Manager) rememberStoredUser(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.addStoredUserLocked(username) {
		m.notifyLocked()
	}
}

// addStoredUserLocked reports whether username was newly added.
func (m *Manager) addStoredUserLocked(username string) bool {
	if slices.Contains(m.storedUsers, username) {
		return false
	}
	m.storedUsers = append(m.storedUsers, username)
	slices.Sort(m.storedUsers)
	return true
}

// clearSessionLocked drops all in-memory session state.
func (m *Manager) clearSessionLocked() {
	m.stopTimerLocked()
	m.state = StateUnauthenticated
	m.username = ""
	m.key = nil
	m.sessionID = ""
	m.startedAt = time.Time{}
	m.following = nil
	m.metrics.setAuthenticated(false)
}
