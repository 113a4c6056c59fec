// Package goal holds the project/goal value model and the pure operations
// that edit it. Projects and goals are values: every edit returns a new
// Project and never mutates the one passed in.
package goal

import (
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrInvalidTarget is returned when a target amount is not a positive integer.
	ErrInvalidTarget = errors.New("target amount must be a positive integer")
	// ErrGoalNotFound is returned when a goal id is not part of the project.
	ErrGoalNotFound = errors.New("goal not found")
)

// Goal is a target quantity of a matched resource.
type Goal struct {
	ID      string
	Matcher Matcher
	Target  int
	Strict  bool
	// Filter is only consulted when Strict is set.
	Filter AttributeFilter
}

// Project is an ordered list of goals plus project-level switches.
type Project struct {
	ID                 string
	Name               string
	Goals              []Goal
	TrackSecondaryRate bool
}

// NewProject creates an empty project with a fresh id.
func NewProject(name string) Project {
	return Project{ID: uuid.NewString(), Name: name}
}

// NewGoal creates a non-strict goal with a fresh id.
func NewGoal(m Matcher, target int) Goal {
	return Goal{ID: uuid.NewString(), Matcher: m, Target: target}
}

// NewStrictGoal creates a strict goal with a fresh id.
func NewStrictGoal(m Matcher, target int, filter AttributeFilter) Goal {
	return Goal{ID: uuid.NewString(), Matcher: m, Target: target, Strict: true, Filter: filter.clone()}
}

// Matches reports whether a stack with the given identity and attributes
// counts toward this goal.
func (g Goal) Matches(resource string, tags []string, attrs map[string]string) bool {
	if !g.Matcher.Matches(resource, tags) {
		return false
	}
	if !g.Strict {
		return true
	}
	return g.Filter.Matches(attrs)
}

// Clone returns a deep copy of the goal.
func (g Goal) Clone() Goal {
	g.Filter = g.Filter.clone()
	return g
}

// Clone returns a deep copy of the project.
func (p Project) Clone() Project {
	goals := make([]Goal, len(p.Goals))
	for i, g := range p.Goals {
		goals[i] = g.Clone()
	}
	p.Goals = goals
	return p
}

// Goal returns the goal with the given id.
func (p Project) Goal(id string) (Goal, bool) {
	for _, g := range p.Goals {
		if g.ID == id {
			return g, true
		}
	}
	return Goal{}, false
}

// ParseTarget parses user input for a target amount.
func ParseTarget(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, ErrInvalidTarget
	}
	return n, nil
}
