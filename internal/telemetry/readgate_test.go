package telemetry

import (
	"testing"
	"time"
)

func TestReadGateClampsInterval(t *testing.T) {
	g := NewReadGate(2, time.Second)
	if g.Interval(0) != MinReadInterval {
		t.Errorf("expected interval clamped to %v, got %v", MinReadInterval, g.Interval(0))
	}
	g.SetChannelInterval(1, 30*time.Second)
	if g.Interval(1) != 30*time.Second {
		t.Errorf("expected 30s, got %v", g.Interval(1))
	}
	if g.Interval(5) != 0 {
		t.Errorf("expected 0 for out-of-range channel, got %v", g.Interval(5))
	}
}

func TestReadGateStrictlyAfterInterval(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g := NewReadGate(1, 10*time.Second)

	if !g.IsDue(0, now, true) {
		t.Fatal("never-read channel should be due")
	}
	if g.IsDue(0, now.Add(10*time.Second), true) {
		t.Error("should not be due exactly at lastRead+interval")
	}
	if !g.IsDue(0, now.Add(10*time.Second+time.Millisecond), true) {
		t.Error("should be due just after lastRead+interval")
	}
	if !g.LastRead(0).Equal(now.Add(10*time.Second + time.Millisecond)) {
		t.Errorf("reset should move lastRead, got %v", g.LastRead(0))
	}
}

func TestReadGatePeekDoesNotConsume(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g := NewReadGate(1, 5*time.Second)
	g.MarkRead(0, now)

	later := now.Add(6 * time.Second)
	if !g.IsDue(0, later, false) {
		t.Fatal("peek should report due")
	}
	if !g.IsDue(0, later, false) {
		t.Error("peek should not consume due-ness")
	}
	if !g.IsDue(0, later, true) {
		t.Error("reset check should report due")
	}
	if g.IsDue(0, later, true) {
		t.Error("second reset check at same time should not be due")
	}
}

func TestReadGateInactiveChannel(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g := NewReadGate(2, 5*time.Second)
	g.SetActive(1, false)

	if g.IsDue(1, now, true) {
		t.Error("inactive channel should never be due")
	}
	if !g.IsDue(0, now, true) {
		t.Error("active channel should be due")
	}
	if g.IsDue(-1, now, true) || g.IsDue(2, now, true) {
		t.Error("out-of-range channel should never be due")
	}
}
