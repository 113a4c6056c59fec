package goal

import "slices"

// AddGoal adds g to the project, folding it into an existing goal for the
// same resource when one qualifies. A merge keeps the existing goal's id,
// strictness and filter and only sums the targets.
func AddGoal(p Project, g Goal) Project {
	out := p.Clone()
	for i, existing := range out.Goals {
		if !mergeable(existing, g) {
			continue
		}
		out.Goals[i].Target += g.Target
		return out
	}
	out.Goals = append(out.Goals, g.Clone())
	return out
}

// mergeable reports whether incoming folds into existing. A quick add folds
// into a plain goal; any add folds into a strict goal with an identical filter.
func mergeable(existing, incoming Goal) bool {
	if existing.Matcher != incoming.Matcher {
		return false
	}
	if !incoming.Strict && !existing.Strict {
		return true
	}
	return existing.Strict && existing.Filter.Equal(incoming.Filter)
}

// RemoveGoal drops the goal with the given id. Unknown ids leave the goal
// list unchanged.
func RemoveGoal(p Project, goalID string) Project {
	out := p.Clone()
	out.Goals = slices.DeleteFunc(out.Goals, func(g Goal) bool {
		return g.ID == goalID
	})
	return out
}

// UpdateGoal replaces the goal sharing g's id, keeping its position.
func UpdateGoal(p Project, g Goal) (Project, error) {
	idx := slices.IndexFunc(p.Goals, func(existing Goal) bool {
		return existing.ID == g.ID
	})
	if idx < 0 {
		return p, ErrGoalNotFound
	}
	out := p.Clone()
	out.Goals[idx] = g.Clone()
	return out, nil
}

// SetTarget changes the target of one goal.
func SetTarget(p Project, goalID string, target int) (Project, error) {
	if target <= 0 {
		return p, ErrInvalidTarget
	}
	g, ok := p.Goal(goalID)
	if !ok {
		return p, ErrGoalNotFound
	}
	g.Target = target
	return UpdateGoal(p, g)
}
