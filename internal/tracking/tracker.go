package tracking

import (
	"time"

	"github.com/dokzlo13/goald/internal/goal"
)

// GoalTracker is the runtime state of one goal: live count, the baseline
// seen when tracking began, and the gain rate.
type GoalTracker struct {
	goal goal.Goal

	baseline    int
	current     int
	initialized bool

	rate        *RateCalculator
	ratePerHour float64
}

// NewGoalTracker creates a tracker for g.
func NewGoalTracker(g goal.Goal, window time.Duration, now func() time.Time) *GoalTracker {
	return &GoalTracker{
		goal: g.Clone(),
		rate: NewRateCalculator(window, now),
	}
}

// Update commits a freshly observed count and reports whether the count
// crossed the target upward on this observation. The first observation only
// establishes the baseline and never reports completion.
func (t *GoalTracker) Update(observed int) bool {
	if !t.initialized {
		t.baseline = observed
		t.current = observed
		t.initialized = true
		return false
	}

	if delta := observed - t.current; delta > 0 {
		t.rate.AddGain(int64(delta))
	}

	target := t.goal.Target
	completed := t.current < target && observed >= target
	t.current = observed
	return completed
}

// UpdateRate refreshes the cached rate. Called on a coarser cadence than Update.
func (t *GoalTracker) UpdateRate() {
	t.ratePerHour = t.rate.RatePerHour()
}

// Progress returns current/target capped at 1; a zero target yields 0.
func (t *GoalTracker) Progress() float64 {
	if t.goal.Target <= 0 {
		return 0
	}
	return min(1.0, float64(t.current)/float64(t.goal.Target))
}

// RatePerHour returns the cached rate.
func (t *GoalTracker) RatePerHour() float64 { return t.ratePerHour }

// CurrentCount returns the last committed count.
func (t *GoalTracker) CurrentCount() int { return t.current }

// Baseline returns the count seen on the first observation.
func (t *GoalTracker) Baseline() int { return t.baseline }

// Initialized reports whether the baseline has been established.
func (t *GoalTracker) Initialized() bool { return t.initialized }

// Goal returns the goal value the tracker currently follows.
func (t *GoalTracker) Goal() goal.Goal { return t.goal }

// Matches reports whether a stack counts toward this tracker's goal.
func (t *GoalTracker) Matches(resource string, tags []string, attrs map[string]string) bool {
	return t.goal.Matches(resource, tags, attrs)
}

// setGoal swaps in an edited goal value with the same id, keeping counts
// and rate history.
func (t *GoalTracker) setGoal(g goal.Goal) {
	t.goal = g.Clone()
}

// rebaseline makes the next observation a first observation again, used
// when the goal starts matching a different set of stacks.
func (t *GoalTracker) rebaseline() {
	t.initialized = false
	t.resetRate()
}

// resetRate clears the rate window for a new session.
func (t *GoalTracker) resetRate() {
	t.rate.Clear()
	t.ratePerHour = 0
}
