package auth

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess     AuditEvent = "login_success"
	AuditLoginFailure     AuditEvent = "login_failure"
	AuditLoginRateLimited AuditEvent = "login_rate_limited"
	AuditRegister         AuditEvent = "register"
	AuditLogout           AuditEvent = "logout"
	AuditSessionTimeout   AuditEvent = "session_timeout"
	AuditSpectatorEntered AuditEvent = "spectator_entered"
	AuditUserDeleted      AuditEvent = "user_deleted"
	AuditPINChanged       AuditEvent = "pin_changed"
	AuditKeyAccessed      AuditEvent = "signing_key_accessed"
)

// auditLogger wraps slog.Logger for structured security audit logging.
// Entries carry usernames and reasons only, never key material or PINs.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metrics
	now     func() time.Time
}

func newAuditLogger(logger *slog.Logger, m *metrics, now func() time.Time) *auditLogger {
	return &auditLogger{
		logger:  logger.With("component", "audit"),
		metrics: m,
		now:     now,
	}
}

func (al *auditLogger) log(ctx context.Context, event AuditEvent, username string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("username", username),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}
	base = append(base, attrs...)
	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", base...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}

// logFailure logs a failed operation with its error kind.
func (al *auditLogger) logFailure(ctx context.Context, event AuditEvent, username string, err error) {
	al.log(ctx, event, username,
		slog.String("kind", KindOf(err).String()),
		slog.String("reason", err.Error()),
	)
}
