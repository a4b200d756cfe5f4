package auth

import "time"

// SpectatorUsername is the session username while browsing without a key.
const SpectatorUsername = "SPECTATOR"

// State is the session state machine.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateSpectator
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateSpectator:
		return "spectator"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only view of the session. It never carries key material.
type Snapshot struct {
	State           State
	Username        string
	IsAuthenticated bool
	// CanBrowse is true for authenticated and spectator sessions.
	CanBrowse   bool
	StoredUsers []string
	SessionID   string
	StartedAt   time.Time
}
