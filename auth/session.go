package auth

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/hivekeeper/hive"
	"github.com/jmcleod/hivekeeper/internal/uuid"
	"github.com/jmcleod/hivekeeper/keystore"
)

// EnterSpectatorMode drops any session and starts read-only browsing with
// no key material. An in-flight login will not override it.
func (m *Manager) EnterSpectatorMode(ctx context.Context) error {
	const op = "enter_spectator_mode"
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return newError(KindAuth, op, ErrClosed)
	}
	m.clearSessionLocked()
	m.generation++
	m.state = StateSpectator
	m.username = SpectatorUsername
	m.sessionID = uuid.New()
	m.startedAt = m.now()
	m.following = make(map[string]struct{})
	m.notifyLocked()
	m.mu.Unlock()

	m.audit.log(ctx, AuditSpectatorEntered, SpectatorUsername)
	return nil
}

// Logout clears the in-memory key and username. Stored records are kept.
// Any login still in flight is discarded when it completes.
func (m *Manager) Logout(ctx context.Context) error {
	const op = "logout"
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return newError(KindAuth, op, ErrClosed)
	}
	prev := m.username
	m.clearSessionLocked()
	m.generation++
	m.notifyLocked()
	m.mu.Unlock()

	if prev != "" {
		m.audit.log(ctx, AuditLogout, prev)
	}
	return nil
}

// DeleteStoredUser removes username's record. Deleting an unknown user is
// not an error. Deleting the active user also logs out.
func (m *Manager) DeleteStoredUser(ctx context.Context, username string) error {
	const op = "delete_stored_user"
	user, err := keystore.Sanitize(username)
	if err != nil {
		return newError(KindAuth, op, ErrInvalidUsername)
	}
	_, release, err := m.begin(op, user)
	if err != nil {
		return err
	}
	defer release()

	if err := m.store.Delete(ctx, user); err != nil {
		return newError(KindStorage, op, err)
	}
	m.limiter.forget(user)

	m.mu.Lock()
	m.storedUsers = slices.DeleteFunc(m.storedUsers, func(s string) bool { return s == user })
	active := m.state == StateAuthenticated && m.username == user
	if active {
		m.clearSessionLocked()
		m.generation++
	}
	m.notifyLocked()
	m.mu.Unlock()

	m.audit.log(ctx, AuditUserDeleted, user, slog.Bool("was_active", active))
	if active {
		m.audit.log(ctx, AuditLogout, user)
	}
	return nil
}

// ResetInactivityTimer records user activity. It has no effect unless a
// key is held.
func (m *Manager) ResetInactivityTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateAuthenticated {
		m.armTimerLocked()
	}
}

func (m *Manager) armTimerLocked() {
	m.stopTimerLocked()
	if m.timeout <= 0 {
		return
	}
	seq := m.timerSeq
	m.timer = time.AfterFunc(m.timeout, func() { m.expire(seq) })
}

// stopTimerLocked cancels the timer. Bumping timerSeq makes a callback that
// already fired and is waiting on the mutex a no-op.
func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerSeq++
}

func (m *Manager) expire(seq uint64) {
	m.mu.Lock()
	if m.closed || seq != m.timerSeq || m.state != StateAuthenticated {
		m.mu.Unlock()
		return
	}
	user := m.username
	idle := m.timeout
	m.clearSessionLocked()
	m.generation++
	m.notifyLocked()
	m.mu.Unlock()

	m.audit.log(context.Background(), AuditSessionTimeout, user, slog.Duration("idle", idle))
}

// openKeyLocked checks the session can sign and opens the key enclave.
// Reading the key is not user activity and leaves the timer alone. The
// caller must destroy the returned buffer.
func (m *Manager) openKeyLocked(op string) (*memguard.LockedBuffer, error) {
	switch {
	case m.closed:
		return nil, newError(KindAuth, op, ErrClosed)
	case m.state == StateSpectator:
		return nil, newError(KindSpectator, op, nil)
	case m.state != StateAuthenticated || m.key == nil:
		return nil, newError(KindNotAuthenticated, op, nil)
	}
	buf, err := m.key.Open()
	if err != nil {
		return nil, newError(KindStorage, op, err)
	}
	return buf, nil
}

// DecryptedKey returns a copy of the active signing key. It fails with
// ErrSpectator or ErrNotAuthenticated when no key is held. Prefer
// WithSigningKey, which does not leave a copy on the heap.
func (m *Manager) DecryptedKey() (string, error) {
	const op = "decrypted_key"
	m.mu.Lock()
	buf, err := m.openKeyLocked(op)
	user := m.username
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	defer buf.Destroy()
	m.audit.log(context.Background(), AuditKeyAccessed, user, slog.String("op", op))
	return string(buf.Bytes()), nil
}

// WithSigningKey calls fn with the active username and signing key. wif is
// backed by locked memory that is wiped when fn returns; fn must not retain
// it. The manager lock is not held while fn runs.
func (m *Manager) WithSigningKey(fn func(username, wif string) error) error {
	const op = "with_signing_key"
	m.mu.Lock()
	buf, err := m.openKeyLocked(op)
	user := m.username
	m.mu.Unlock()
	if err != nil {
		return err
	}
	defer buf.Destroy()
	m.audit.log(context.Background(), AuditKeyAccessed, user, slog.String("op", op))
	return fn(user, buf.String())
}

// UpdateUserRelationship follows, unfollows or mutes target as the active
// user. Spectator sessions fail fast with ErrSpectator without reaching the
// broadcaster.
func (m *Manager) UpdateUserRelationship(ctx context.Context, target string, rel hive.Relationship) error {
	const op = "update_user_relationship"
	t, err := keystore.Sanitize(target)
	if err != nil {
		return newError(KindAuth, op, ErrInvalidUsername)
	}

	m.mu.Lock()
	if m.broadcaster == nil && m.state == StateAuthenticated {
		m.mu.Unlock()
		return newError(KindHive, op, errors.New("no broadcaster configured"))
	}
	buf, err := m.openKeyLocked(op)
	user, gen := m.username, m.generation
	m.mu.Unlock()
	if err != nil {
		return err
	}
	defer buf.Destroy()

	operation, err := hive.FollowOperation(user, t, rel)
	if err != nil {
		return newError(KindHive, op, err)
	}
	if err := m.broadcaster.BroadcastCustomJSON(ctx, operation, buf.String()); err != nil {
		return newError(KindHive, op, err)
	}

	m.mu.Lock()
	if m.generation == gen && m.following != nil {
		if rel == hive.Follow {
			m.following[t] = struct{}{}
		} else {
			delete(m.following, t)
		}
	}
	m.mu.Unlock()
	m.logger.Info("relationship updated",
		slog.String("username", user),
		slog.String("target", t),
		slog.String("relationship", rel.String()),
	)
	return nil
}

// SetFollowing replaces the cached following list of the current session.
func (m *Manager) SetFollowing(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.following == nil {
		return
	}
	clear(m.following)
	for _, n := range names {
		m.following[n] = struct{}{}
	}
}

// IsFollowing reports whether name is in the cached following list.
func (m *Manager) IsFollowing(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.following[name]
	return ok
}

// Following returns the cached following list, sorted.
func (m *Manager) Following() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.following))
	for n := range m.following {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
