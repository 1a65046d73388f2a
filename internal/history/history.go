package history

import (
	"context"
	"io"
	"time"

	"github.com/loykin/accelguard/internal/probe"
	"github.com/loykin/accelguard/internal/recovery"
)

// EventType is the kind of watchdog event exported to external systems.
type EventType string

const (
	EventProbe    EventType = "probe"
	EventRecovery EventType = "recovery"
)

// Event is one audit record: a probe result or a recovery attempt.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Target     string    `json:"target"`
	Tier       string    `json:"tier,omitempty"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for watchdog events (audit/analytics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// CloseSink closes a sink when it holds resources.
func CloseSink(s Sink) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// FromProbe converts a probe result into an audit event.
func FromProbe(target string, r probe.Result) Event {
	return Event{
		Type:       EventProbe,
		OccurredAt: r.At,
		Target:     target,
		Outcome:    string(r.Outcome),
		Detail:     r.Detail,
	}
}

// FromAttempt converts a recovery attempt into an audit event.
func FromAttempt(target string, a recovery.Attempt) Event {
	return Event{
		Type:       EventRecovery,
		OccurredAt: a.At,
		Target:     target,
		Tier:       string(a.Tier),
		Outcome:    string(a.Outcome),
		Detail:     a.Detail,
	}
}

// Clamp keeps OccurredAt sane for sinks that reject zero times.
func (e Event) Clamp() Event {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	return e
}
