package tracking

import "time"

// GoalStatus is a read-only view of one tracker.
type GoalStatus struct {
	GoalID      string  `json:"goal_id"`
	Resource    string  `json:"resource"`
	Target      int     `json:"target"`
	Count       int     `json:"count"`
	Baseline    int     `json:"baseline"`
	Progress    float64 `json:"progress"`
	RatePerHour float64 `json:"rate_per_hour"`
}

// Snapshot is the immutable state published at the end of every tick, for
// readers outside the tick goroutine.
type Snapshot struct {
	ProjectID            string       `json:"project_id,omitempty"`
	Tick                 uint64       `json:"tick"`
	LastScan             string       `json:"last_scan"`
	Goals                []GoalStatus `json:"goals"`
	SecondaryRatePerHour float64      `json:"secondary_rate_per_hour"`
	At                   time.Time    `json:"at"`
}

// Goal returns the status of one goal.
func (s *Snapshot) Goal(goalID string) (GoalStatus, bool) {
	for _, g := range s.Goals {
		if g.GoalID == goalID {
			return g, true
		}
	}
	return GoalStatus{}, false
}

func (e *Engine) publishSnapshot() {
	trackers := e.state.All()
	goals := make([]GoalStatus, 0, len(trackers))
	for _, t := range trackers {
		g := t.Goal()
		goals = append(goals, GoalStatus{
			GoalID:      g.ID,
			Resource:    g.Matcher.String(),
			Target:      g.Target,
			Count:       t.CurrentCount(),
			Baseline:    t.Baseline(),
			Progress:    t.Progress(),
			RatePerHour: t.RatePerHour(),
		})
	}
	e.snapshot.Store(&Snapshot{
		ProjectID:            e.projectID,
		Tick:                 e.ticks,
		LastScan:             e.lastScope.String(),
		Goals:                goals,
		SecondaryRatePerHour: e.secondaryRate,
		At:                   e.now(),
	})
}
