// Package stats tallies successful requests and decides when to report
// progress.
package stats

import (
	"math"
	"time"
)

// Clock returns the current time. time.Now carries a monotonic reading, so
// elapsed times are immune to wall-clock adjustments during long runs.
type Clock func() time.Time

// Snapshot is the state reported in a progress line.
type Snapshot struct {
	Successful int
	Total      int
	Elapsed    time.Duration
	// Throughput is the cumulative average in queries per second.
	Throughput float64
	// ETA is the estimated remaining time in seconds; valid only when
	// ETAKnown is true.
	ETA      float64
	ETAKnown bool
}

// Accumulator is the running tally of a benchmark.
type Accumulator struct {
	total          int
	reportEvery    int
	reportInterval time.Duration
	now            Clock

	successful int
	start      time.Time
	lastReport time.Time
}

// NewAccumulator returns an accumulator for a run of total queries that
// reports whenever the successful count is a multiple of reportEvery or
// reportInterval has passed. A nil clock means time.Now.
func NewAccumulator(total, reportEvery int, reportInterval time.Duration, now Clock) *Accumulator {
	if now == nil {
		now = time.Now
	}
	return &Accumulator{
		total:          total,
		reportEvery:    reportEvery,
		reportInterval: reportInterval,
		now:            now,
	}
}

// Start marks the beginning of the timed region.
func (a *Accumulator) Start() {
	a.start = a.now()
	a.lastReport = a.start
}

// Add records n successful requests.
func (a *Accumulator) Add(n int) {
	a.successful += n
}

func (a *Accumulator) Successful() int {
	return a.successful
}

func (a *Accumulator) Total() int {
	return a.total
}

// Elapsed is the time since Start.
func (a *Accumulator) Elapsed() time.Duration {
	return a.now().Sub(a.start)
}

// Tick is evaluated once per batch boundary. It reports when the successful
// count is an exact multiple of reportEvery or when reportInterval has passed
// since the last report.
//
// The counter trigger checks the count at the boundary only: a batch that
// carries the count past a multiple without landing on it does not fire it.
// The interval trigger still bounds the gap between reports.
func (a *Accumulator) Tick() (Snapshot, bool) {
	now := a.now()
	if a.successful%a.reportEvery != 0 && now.Sub(a.lastReport) < a.reportInterval {
		return Snapshot{}, false
	}
	a.lastReport = now
	return a.snapshot(now.Sub(a.start)), true
}

// Snapshot returns the current state without affecting report timing.
func (a *Accumulator) Snapshot() Snapshot {
	return a.snapshot(a.Elapsed())
}

func (a *Accumulator) snapshot(elapsed time.Duration) Snapshot {
	qps := Throughput(a.successful, elapsed)
	eta, ok := ETA(a.total-a.successful, qps)
	return Snapshot{
		Successful: a.successful,
		Total:      a.total,
		Elapsed:    elapsed,
		Throughput: qps,
		ETA:        eta,
		ETAKnown:   ok,
	}
}

// Throughput is count/elapsed in queries per second, or zero when no time
// has elapsed.
func Throughput(count int, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 || count <= 0 {
		return 0
	}
	return float64(count) / secs
}

// ETA is remaining/qps in seconds. It is undefined when the rate is zero.
func ETA(remaining int, qps float64) (float64, bool) {
	if remaining <= 0 {
		return 0, true
	}
	if qps <= 0 || math.IsNaN(qps) || math.IsInf(qps, 0) {
		return 0, false
	}
	return float64(remaining) / qps, true
}

// PerQuery is elapsed divided evenly across count queries.
func PerQuery(elapsed time.Duration, count int) time.Duration {
	if count <= 0 {
		return 0
	}
	return elapsed / time.Duration(count)
}
