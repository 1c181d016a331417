package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/thermolink/internal/events"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// DrainEvents returns every event currently buffered on sub without blocking.
func DrainEvents(sub *events.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

// EventKinds maps events to their Kind strings.
func EventKinds(evs []events.Event) []string {
	kinds := make([]string, 0, len(evs))
	for _, ev := range evs {
		kinds = append(kinds, ev.Kind())
	}
	return kinds
}

// WaitForEvent blocks until an event of kind arrives on sub, collecting everything
// received before it. It returns false on timeout or when sub is closed.
func WaitForEvent(sub *events.Subscription, kind string, timeout time.Duration) ([]events.Event, bool) {
	var seen []events.Event
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return seen, false
			}
			seen = append(seen, ev)
			if ev.Kind() == kind {
				return seen, true
			}
		case <-deadline.C:
			return seen, false
		}
	}
}
