package task

import (
	"testing"
	"time"
)

func TestBackoffExponentialGrowth(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(func() time.Time { return now })
	k := Key{TargetID: 1, RoomID: 2, Kind: Engagement}

	var prev time.Duration
	for i := 1; i <= 15; i++ {
		d := tr.Failure(k)
		if d < prev {
			t.Fatalf("delay decreased on failure %d: %v < %v", i, d, prev)
		}
		if d > backoffCap {
			t.Fatalf("delay exceeds cap on failure %d: %v", i, d)
		}
		prev = d
	}
	if prev != backoffCap {
		t.Fatalf("delay should saturate at cap, got %v", prev)
	}
}

func TestBackoffThreeFailuresEightSeconds(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(func() time.Time { return now })
	k := Key{TargetID: 7, RoomID: 8, Kind: Message}

	var last time.Duration
	for i := 0; i < 3; i++ {
		last = tr.Failure(k)
	}
	if tr.Failures(k) != 3 {
		t.Fatalf("failure count = %d, want 3", tr.Failures(k))
	}
	if last != 8*time.Second {
		t.Fatalf("third delay = %v, want 8s", last)
	}
	if tr.ShouldAttempt(k) {
		t.Fatal("key should not be eligible immediately after failure")
	}

	now = now.Add(9 * time.Second)
	if !tr.ShouldAttempt(k) {
		t.Fatal("key should be eligible after the delay elapses")
	}
}

func TestBackoffIneligibleFixedDelay(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(func() time.Time { return now })
	k := Key{TargetID: 1, RoomID: 2, Kind: Engagement}

	// Repeated ineligibility never grows the delay.
	for i := 0; i < 5; i++ {
		tr.Ineligible(k)
	}
	if tr.Failures(k) != 0 {
		t.Fatalf("ineligible must not count as failure, got %d", tr.Failures(k))
	}
	if tr.ShouldAttempt(k) {
		t.Fatal("key should wait out the re-check delay")
	}
	now = now.Add(recheckDelay + time.Second)
	if !tr.ShouldAttempt(k) {
		t.Fatal("key should be eligible after the re-check delay")
	}
}

func TestBackoffSuccessClearsState(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(func() time.Time { return now })
	k := Key{TargetID: 1, RoomID: 2, Kind: Presence}

	tr.Failure(k)
	tr.Failure(k)
	tr.Success(k)
	if !tr.ShouldAttempt(k) {
		t.Fatal("key should be eligible after success")
	}
	if tr.Failures(k) != 0 {
		t.Fatal("failure count should reset after success")
	}
	if tr.Failure(k) != 2*time.Second {
		t.Fatal("backoff should restart from the beginning after success")
	}
}

func TestBackoffLogThrottle(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(func() time.Time { return now })
	k := Key{TargetID: 3, RoomID: 4, Kind: Engagement}

	logged := 0
	for i := 0; i < 3; i++ {
		tr.Failure(k)
		if tr.ShouldLog(k) {
			logged++
		}
	}
	if logged != 1 {
		t.Fatalf("want exactly one log inside the window, got %d", logged)
	}

	now = now.Add(logWindow)
	if !tr.ShouldLog(k) {
		t.Fatal("a new window should allow one more log")
	}
	if tr.ShouldLog(k) {
		t.Fatal("second log in the fresh window should be throttled")
	}
}
