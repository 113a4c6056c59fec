package tracking

import (
	"time"

	"github.com/dokzlo13/goald/internal/goal"
)

// SyncResult summarises what TrackerState.Sync changed.
type SyncResult struct {
	Added   int
	Removed int
	Edited  int

	// Rematched counts edited goals whose matching rules changed.
	Rematched int
}

// NeedsScan reports whether some tracker has no valid count yet.
func (r SyncResult) NeedsScan() bool {
	return r.Added > 0 || r.Rematched > 0
}

// TrackerState maps goal ids to trackers and keeps lookup indexes by
// resource type and by tag for scan dispatch.
type TrackerState struct {
	window time.Duration
	now    func() time.Time

	trackers map[string]*GoalTracker
	order    []string

	byResource map[string][]*GoalTracker
	byTag      map[string][]*GoalTracker
}

// NewTrackerState creates an empty registry. Trackers it creates use the
// given rate window and clock.
func NewTrackerState(window time.Duration, now func() time.Time) *TrackerState {
	s := &TrackerState{
		window:   window,
		now:      now,
		trackers: make(map[string]*GoalTracker),
	}
	s.rebuildIndexes()
	return s
}

// Sync reconciles the registry against the live goal list. Trackers of
// surviving goal ids are kept (with their counts and rate history) and
// follow the new goal value. Indexes are rebuilt only when membership or a
// matcher changes.
func (s *TrackerState) Sync(goals []goal.Goal) SyncResult {
	var res SyncResult
	rebuild := false

	live := make(map[string]struct{}, len(goals))
	order := make([]string, 0, len(goals))
	for _, g := range goals {
		if _, dup := live[g.ID]; dup {
			continue
		}
		live[g.ID] = struct{}{}
		order = append(order, g.ID)

		t, ok := s.trackers[g.ID]
		if !ok {
			s.trackers[g.ID] = NewGoalTracker(g, s.window, s.now)
			res.Added++
			rebuild = true
			continue
		}
		if goalChanged(t.goal, g) {
			if t.goal.Matcher != g.Matcher {
				rebuild = true
			}
			if matchingChanged(t.goal, g) {
				t.rebaseline()
				res.Rematched++
			}
			t.setGoal(g)
			res.Edited++
		}
	}

	for id := range s.trackers {
		if _, ok := live[id]; !ok {
			delete(s.trackers, id)
			res.Removed++
			rebuild = true
		}
	}

	s.order = order
	if rebuild {
		s.rebuildIndexes()
	}
	return res
}

// Reset discards every tracker.
func (s *TrackerState) Reset() {
	s.trackers = make(map[string]*GoalTracker)
	s.order = nil
	s.rebuildIndexes()
}

// Get returns the tracker of a goal.
func (s *TrackerState) Get(goalID string) (*GoalTracker, bool) {
	t, ok := s.trackers[goalID]
	return t, ok
}

// All returns the trackers in goal order.
func (s *TrackerState) All() []*GoalTracker {
	out := make([]*GoalTracker, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.trackers[id])
	}
	return out
}

// Len returns the number of live trackers.
func (s *TrackerState) Len() int { return len(s.trackers) }

// ByResource returns the exact-type trackers for a resource.
func (s *TrackerState) ByResource(resource string) []*GoalTracker {
	return s.byResource[resource]
}

// ByTag returns the tag trackers for a tag.
func (s *TrackerState) ByTag(tag string) []*GoalTracker {
	return s.byTag[tag]
}

// TagTrackers returns every tag-matched tracker.
func (s *TrackerState) TagTrackers() []*GoalTracker {
	var out []*GoalTracker
	for _, t := range s.All() {
		if t.goal.Matcher.Kind == goal.MatchTag {
			out = append(out, t)
		}
	}
	return out
}

// candidates returns the trackers a stack could count toward, deduplicated.
func (s *TrackerState) candidates(resource string, tags []string) []*GoalTracker {
	out := s.byResource[resource]
	if len(tags) == 0 {
		return out
	}
	out = append([]*GoalTracker(nil), out...)
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, s.byTag[tag]...)
	}
	return out
}

func (s *TrackerState) rebuildIndexes() {
	s.byResource = make(map[string][]*GoalTracker)
	s.byTag = make(map[string][]*GoalTracker)
	for _, id := range s.order {
		t := s.trackers[id]
		m := t.goal.Matcher
		switch m.Kind {
		case goal.MatchTag:
			s.byTag[m.Name] = append(s.byTag[m.Name], t)
		default:
			s.byResource[m.Name] = append(s.byResource[m.Name], t)
		}
	}
}

func goalChanged(a, b goal.Goal) bool {
	return a.Target != b.Target || matchingChanged(a, b) || !a.Filter.Equal(b.Filter)
}

// matchingChanged reports whether b counts different stacks than a. The
// filter only matters on strict goals.
func matchingChanged(a, b goal.Goal) bool {
	if a.Matcher != b.Matcher || a.Strict != b.Strict {
		return true
	}
	return a.Strict && !a.Filter.Equal(b.Filter)
}
