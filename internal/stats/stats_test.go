package stats

import (
	"math"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestAccumulator(total int) (*Accumulator, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	acc := NewAccumulator(total, 1_000_000, 5*time.Second, clock.now)
	acc.Start()
	return acc, clock
}

func TestTickCounterBoundary(t *testing.T) {
	acc, clock := newTestAccumulator(50_000_000)

	for i := 0; i < 99; i++ {
		clock.advance(10 * time.Millisecond)
		acc.Add(10_000)
		if _, ok := acc.Tick(); ok {
			t.Fatalf("unexpected report at %d successful", acc.Successful())
		}
	}

	clock.advance(10 * time.Millisecond)
	acc.Add(10_000)
	snap, ok := acc.Tick()
	if !ok {
		t.Fatal("expected report at 1,000,000 successful")
	}
	if snap.Successful != 1_000_000 {
		t.Errorf("expected 1,000,000 in snapshot, got %d", snap.Successful)
	}
	if snap.Elapsed != time.Second {
		t.Errorf("expected 1s elapsed, got %s", snap.Elapsed)
	}
	if snap.Throughput != 1_000_000 {
		t.Errorf("expected 1,000,000 q/s, got %f", snap.Throughput)
	}
	if !snap.ETAKnown || snap.ETA != 49 {
		t.Errorf("expected ETA 49s, got %f (known=%v)", snap.ETA, snap.ETAKnown)
	}
}

func TestTickSkipsBoundaryNotLandedOn(t *testing.T) {
	acc, clock := newTestAccumulator(10_000_000)

	// 3,000 per batch: 999,000 then 1,002,000, never exactly 1,000,000.
	acc.Add(999_000)
	clock.advance(time.Second)
	if _, ok := acc.Tick(); ok {
		t.Fatal("unexpected report at 999,000")
	}
	acc.Add(3_000)
	clock.advance(time.Second)
	if _, ok := acc.Tick(); ok {
		t.Fatal("boundary crossed without landing must not fire the counter trigger")
	}
}

func TestTickInterval(t *testing.T) {
	acc, clock := newTestAccumulator(100)

	acc.Add(7)
	clock.advance(4999 * time.Millisecond)
	if _, ok := acc.Tick(); ok {
		t.Fatal("unexpected report before 5s")
	}

	clock.advance(time.Millisecond)
	if _, ok := acc.Tick(); !ok {
		t.Fatal("expected report at exactly 5s")
	}

	clock.advance(time.Second)
	if _, ok := acc.Tick(); ok {
		t.Fatal("interval should restart from the last report")
	}
}

func TestZeroElapsed(t *testing.T) {
	acc, _ := newTestAccumulator(100)

	snap := acc.Snapshot()
	if snap.Throughput != 0 {
		t.Errorf("expected zero throughput at zero elapsed, got %f", snap.Throughput)
	}
	if snap.ETAKnown {
		t.Errorf("ETA must be undefined at zero elapsed, got %f", snap.ETA)
	}
	if math.IsNaN(snap.ETA) || math.IsInf(snap.ETA, 0) {
		t.Errorf("ETA must not be NaN/Inf, got %f", snap.ETA)
	}

	acc.Add(50)
	snap = acc.Snapshot()
	if snap.Throughput != 0 || snap.ETAKnown {
		t.Errorf("zero elapsed with successes: throughput=%f known=%v", snap.Throughput, snap.ETAKnown)
	}
}

func TestThroughputAndETAFinite(t *testing.T) {
	tests := []struct {
		count     int
		elapsed   time.Duration
		remaining int
	}{
		{1, time.Nanosecond, 1},
		{100, time.Second, 0},
		{49_999_999, 150 * time.Second, 1},
		{10, time.Hour, 1_000_000},
	}
	for _, tt := range tests {
		qps := Throughput(tt.count, tt.elapsed)
		if qps < 0 || math.IsInf(qps, 0) || math.IsNaN(qps) {
			t.Errorf("Throughput(%d, %s) = %f", tt.count, tt.elapsed, qps)
		}
		eta, ok := ETA(tt.remaining, qps)
		if !ok || eta < 0 || math.IsInf(eta, 0) || math.IsNaN(eta) {
			t.Errorf("ETA(%d, %f) = %f, %v", tt.remaining, qps, eta, ok)
		}
	}
}

func TestPerQuery(t *testing.T) {
	if got := PerQuery(2*time.Second, 1_000_000); got != 2*time.Microsecond {
		t.Errorf("expected 2µs, got %s", got)
	}
	if got := PerQuery(time.Second, 0); got != 0 {
		t.Errorf("expected 0 for zero count, got %s", got)
	}
}
