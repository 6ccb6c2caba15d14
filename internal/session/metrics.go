package session

import (
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Session events recorded through MetricsRecorder.
const (
	metricSignUpSuccess     = "session.signup.success"
	metricSignUpFailure     = "session.signup.failure"
	metricLoginSuccess      = "session.login.success"
	metricLoginFailure      = "session.login.failure"
	metricFederatedSuccess  = "session.federated.success"
	metricFederatedFailure  = "session.federated.failure"
	metricLogoutSuccess     = "session.logout.success"
	metricLogoutFailure     = "session.logout.failure"
	metricResetSuccess      = "session.password_reset.success"
	metricResetFailure      = "session.password_reset.failure"
	metricProfileSuccess    = "session.profile.success"
	metricProfileFailure    = "session.profile.failure"
	metricMirrorFailure     = "session.mirror.failure"
	metricBootstrapFailure  = "session.bootstrap.failure"
	metricStaleNotification = "session.notification.stale"
	metricCredentialRefresh = "session.credential.refresh"
)

// MetricsRecorder increments counters for session events.
type MetricsRecorder interface {
	Increment(event string)
}

// EventCounter is a MetricsRecorder that keeps per-event counts for the life of a command.
type EventCounter struct {
	mutex  sync.Mutex
	counts map[string]int64
}

func NewEventCounter() *EventCounter {
	return &EventCounter{counts: make(map[string]int64)}
}

func (counter *EventCounter) Increment(event string) {
	counter.mutex.Lock()
	defer counter.mutex.Unlock()
	counter.counts[event]++
}

// Count returns how many times event was recorded.
func (counter *EventCounter) Count(event string) int64 {
	counter.mutex.Lock()
	defer counter.mutex.Unlock()
	return counter.counts[event]
}

func (counter *EventCounter) Snapshot() map[string]int64 {
	counter.mutex.Lock()
	defer counter.mutex.Unlock()
	return maps.Clone(counter.counts)
}

// Fields renders the counts as zap fields ordered by event name.
func (counter *EventCounter) Fields() []zap.Field {
	counter.mutex.Lock()
	defer counter.mutex.Unlock()
	fields := make([]zap.Field, 0, len(counter.counts))
	for _, event := range slices.Sorted(maps.Keys(counter.counts)) {
		fields = append(fields, zap.Int64(event, counter.counts[event]))
	}
	return fields
}

type noopMetrics struct{}

func (noopMetrics) Increment(string) {}
