package auth

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 10
)

// metrics exports audit events as prometheus counters and watches for
// login failure spikes.
type metrics struct {
	events        *prometheus.CounterVec
	authenticated prometheus.Gauge

	mu             sync.Mutex
	loginFailures  []time.Time
	loginWindow    time.Duration
	loginThreshold int
	now            func() time.Time
	alertFn        AlertFunc
}

func newMetrics(reg prometheus.Registerer, alertFn AlertFunc, now func() time.Time) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hivekeeper",
			Subsystem: "auth",
			Name:      "events_total",
			Help:      "Security audit events by type.",
		}, []string{"event"}),
		authenticated: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hivekeeper",
			Subsystem: "auth",
			Name:      "session_authenticated",
			Help:      "1 while a decrypted signing key is held in memory.",
		}),
		loginWindow:    defaultLoginFailureWindow,
		loginThreshold: defaultLoginFailureThreshold,
		now:            now,
		alertFn:        alertFn,
	}
}

// recordEvent counts an audit event and updates anomaly windows.
func (m *metrics) recordEvent(event AuditEvent) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(event)).Inc()
	if event == AuditLoginFailure && m.alertFn != nil {
		m.recordLoginFailure()
	}
}

func (m *metrics) setAuthenticated(v bool) {
	if m == nil {
		return
	}
	if v {
		m.authenticated.Set(1)
	} else {
		m.authenticated.Set(0)
	}
}

func (m *metrics) recordLoginFailure() {
	m.mu.Lock()
	now := m.now()
	m.loginFailures = append(m.loginFailures, now)
	m.loginFailures = trimWindow(m.loginFailures, now, m.loginWindow)

	var alert *AlertEvent
	if len(m.loginFailures) >= m.loginThreshold {
		alert = &AlertEvent{
			Type:      AlertLoginFailureSpike,
			Message:   "login failure rate exceeds threshold",
			Count:     len(m.loginFailures),
			Threshold: m.loginThreshold,
			Timestamp: now,
		}
		// Reset to avoid repeated alerts within the same spike.
		m.loginFailures = m.loginFailures[:0]
	}
	m.mu.Unlock()

	if alert != nil {
		m.alertFn(*alert)
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
