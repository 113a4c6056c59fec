package tracking

import "time"

// DefaultRateWindow is the sliding window used when none is configured.
const DefaultRateWindow = 60 * time.Second

// RateCalculator keeps per-second gain totals in a ring buffer and derives
// a smoothed per-hour rate over the trailing window.
//
// Invariant: sum always equals the sum of buckets.
type RateCalculator struct {
	buckets []int64
	window  int64
	sum     int64

	head       int   // bucket of the current second
	lastSecond int64 // unix second head refers to
	cycleStart time.Time
	started    bool

	now func() time.Time
}

// NewRateCalculator creates a calculator over window (rounded down to whole
// seconds, at least one). A nil clock means time.Now.
func NewRateCalculator(window time.Duration, now func() time.Time) *RateCalculator {
	secs := int64(window / time.Second)
	if secs < 1 {
		secs = 1
	}
	if now == nil {
		now = time.Now
	}
	return &RateCalculator{
		buckets: make([]int64, secs),
		window:  secs,
		now:     now,
	}
}

// AddGain records a positive delta into the current second.
func (r *RateCalculator) AddGain(amount int64) {
	if amount <= 0 {
		return
	}
	r.advance()
	if !r.started {
		r.start(r.now())
	}
	r.buckets[r.head] += amount
	r.sum += amount
}

// RatePerHour returns the smoothed gain per hour. During the first seconds
// of a cycle the divisor is the elapsed time rather than the full window.
func (r *RateCalculator) RatePerHour() float64 {
	r.advance()
	if r.sum == 0 {
		return 0
	}
	elapsed := int64(r.now().Sub(r.cycleStart) / time.Second)
	divisor := min(r.window, max(1, elapsed))
	return float64(r.sum) * 3600 / float64(divisor)
}

// Clear drops all recorded gains and restarts the cycle on the next gain.
func (r *RateCalculator) Clear() {
	clear(r.buckets)
	r.sum = 0
	r.head = 0
	r.lastSecond = 0
	r.cycleStart = time.Time{}
	r.started = false
}

// Total returns the gain currently inside the window.
func (r *RateCalculator) Total() int64 {
	r.advance()
	return r.sum
}

// advance rotates the ring forward by the whole seconds elapsed since the
// last call, evicting each bucket that leaves the window. A gap of a full
// window or more resets everything in one step.
func (r *RateCalculator) advance() {
	if !r.started {
		return
	}
	now := r.now()
	elapsed := now.Unix() - r.lastSecond
	if elapsed <= 0 {
		return
	}
	if elapsed >= r.window {
		clear(r.buckets)
		r.sum = 0
		r.start(now)
		return
	}
	for i := int64(0); i < elapsed; i++ {
		r.head = (r.head + 1) % len(r.buckets)
		r.sum -= r.buckets[r.head]
		r.buckets[r.head] = 0
	}
	r.lastSecond = now.Unix()
}

func (r *RateCalculator) start(now time.Time) {
	r.head = 0
	r.lastSecond = now.Unix()
	r.cycleStart = now
	r.started = true
}
