package bridge

import (
	"testing"
	"time"
)

func TestInboundLimiter_AllowsWithinBurstThenDenies(t *testing.T) {
	now := time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	lim := newInboundLimiter(clock, 1, 0, 2) // 2 frame burst
	if !lim.Allow(10) {
		t.Fatalf("expected allow 1")
	}
	if !lim.Allow(10) {
		t.Fatalf("expected allow 2")
	}
	if lim.Allow(10) {
		t.Fatalf("expected deny 3")
	}
}

func TestInboundLimiter_RefillsOverTime(t *testing.T) {
	now := time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	lim := newInboundLimiter(clock, 10, 0, 2) // 20 frame burst
	for i := 0; i < 20; i++ {
		if !lim.Allow(1) {
			t.Fatalf("expected allow at i=%d", i)
		}
	}
	if lim.Allow(1) {
		t.Fatalf("expected deny once tokens exhausted")
	}

	now = now.Add(100 * time.Millisecond) // should refill 1 token
	if !lim.Allow(1) {
		t.Fatalf("expected allow after refill")
	}
	if lim.Allow(1) {
		t.Fatalf("expected deny again without enough time")
	}
}

func TestInboundLimiter_BPSDeniesWhenBytesExceed(t *testing.T) {
	now := time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	lim := newInboundLimiter(clock, 0, 100, 2) // 200 byte burst
	if !lim.Allow(150) {
		t.Fatalf("expected allow 150 bytes")
	}
	if lim.Allow(60) {
		t.Fatalf("expected deny 60 bytes due to bps tokens")
	}
}

func TestInboundLimiter_AccruesAcrossShortIntervals(t *testing.T) {
	now := time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	lim := newInboundLimiter(clock, 10, 0, 2) // 1 token per 100ms
	for i := 0; i < 20; i++ {
		if !lim.Allow(1) {
			t.Fatalf("expected allow at i=%d", i)
		}
	}

	// Denied polls at sub-token intervals must not reset the accrual clock.
	now = now.Add(50 * time.Millisecond)
	if lim.Allow(1) {
		t.Fatalf("expected deny at +50ms")
	}
	now = now.Add(50 * time.Millisecond)
	if !lim.Allow(1) {
		t.Fatalf("expected allow once a full token interval elapsed")
	}
}

func TestInboundLimiter_NilWhenUnlimited(t *testing.T) {
	if lim := newInboundLimiter(nil, 0, 0, 2); lim != nil {
		t.Fatalf("expected nil limiter when both limits are off")
	}
	var lim *inboundLimiter
	if !lim.Allow(1 << 20) {
		t.Fatalf("nil limiter must allow everything")
	}
}
