package history

import (
	"testing"
	"time"

	"github.com/loykin/accelguard/internal/probe"
	"github.com/loykin/accelguard/internal/recovery"
)

func TestFromProbe(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := FromProbe("npu0", probe.Result{At: at, Outcome: probe.Hung, Detail: "diagnostic timed out"})
	if e.Type != EventProbe || e.Target != "npu0" || e.Outcome != "hung" {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.Tier != "" {
		t.Fatalf("probe events carry no tier: %+v", e)
	}
	if !e.OccurredAt.Equal(at) {
		t.Fatalf("timestamp not preserved: %v", e.OccurredAt)
	}
}

func TestFromAttempt(t *testing.T) {
	e := FromAttempt("npu0", recovery.Attempt{
		At:      time.Now(),
		Tier:    recovery.SoftRestart,
		Outcome: recovery.Failed,
		Detail:  "still hung after restart",
	})
	if e.Type != EventRecovery || e.Tier != "soft_restart" || e.Outcome != "failed" {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestClamp(t *testing.T) {
	e := Event{Type: EventProbe}.Clamp()
	if e.OccurredAt.IsZero() {
		t.Fatalf("zero timestamp not clamped")
	}
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := (Event{OccurredAt: at}).Clamp(); !got.OccurredAt.Equal(at) {
		t.Fatalf("non-zero timestamp modified: %v", got.OccurredAt)
	}
}
