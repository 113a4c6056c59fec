package app

import (
	"time"

	"github.com/dokzlo13/goald/internal/goal"
)

type attributesView struct {
	Match  map[string]string `json:"match,omitempty"`
	Ignore []string          `json:"ignore,omitempty"`
}

type goalView struct {
	ID         string          `json:"id"`
	Resource   string          `json:"resource"`
	Target     int             `json:"target"`
	Strict     bool            `json:"strict,omitempty"`
	Attributes *attributesView `json:"attributes,omitempty"`
}

type projectView struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	TrackSecondaryRate bool       `json:"track_secondary_rate"`
	Goals              []goalView `json:"goals"`
}

type ledgerView struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	ProjectID string         `json:"project_id,omitempty"`
	GoalID    string         `json:"goal_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func toProjectView(p goal.Project) projectView {
	goals := make([]goalView, 0, len(p.Goals))
	for _, g := range p.Goals {
		v := goalView{
			ID:       g.ID,
			Resource: g.Matcher.String(),
			Target:   g.Target,
			Strict:   g.Strict,
		}
		if g.Strict && (len(g.Filter.Match) > 0 || len(g.Filter.Ignore) > 0) {
			v.Attributes = &attributesView{Match: g.Filter.Match, Ignore: g.Filter.Ignore}
		}
		goals = append(goals, v)
	}
	return projectView{
		ID:                 p.ID,
		Name:               p.Name,
		TrackSecondaryRate: p.TrackSecondaryRate,
		Goals:              goals,
	}
}
