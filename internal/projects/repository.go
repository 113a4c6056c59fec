// Package projects persists projects and owns the live, mutable project list
// the tracker reads every tick.
package projects

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/goald/internal/goal"
	"github.com/dokzlo13/goald/internal/storage"
)

// ErrProjectNotFound is returned for an unknown project id.
var ErrProjectNotFound = errors.New("project not found")

const projectKind = "project"

// Repository loads and stores whole projects.
type Repository interface {
	LoadAll(ctx context.Context) ([]goal.Project, error)
	// SaveAll stores projects and deletes the removed ids. Stored projects
	// named in neither list are kept.
	SaveAll(ctx context.Context, projects []goal.Project, removed []string) error
}

type attributesRecord struct {
	Match  map[string]string `json:"match,omitempty"`
	Ignore []string          `json:"ignore,omitempty"`
}

type goalRecord struct {
	ID           string            `json:"id,omitempty"`
	Resource     string            `json:"resource"`
	TargetAmount int               `json:"target_amount"`
	Strict       bool              `json:"strict,omitempty"`
	Attributes   *attributesRecord `json:"attributes,omitempty"`
}

type projectRecord struct {
	Name               string       `json:"name"`
	ID                 string       `json:"id"`
	Goals              []goalRecord `json:"goals"`
	TrackSecondaryRate bool         `json:"track_secondary_rate,omitempty"`
}

func recordID(r projectRecord) string { return r.ID }

func toRecord(p goal.Project) projectRecord {
	r := projectRecord{
		Name:               p.Name,
		ID:                 p.ID,
		Goals:              make([]goalRecord, 0, len(p.Goals)),
		TrackSecondaryRate: p.TrackSecondaryRate,
	}
	for _, g := range p.Goals {
		gr := goalRecord{
			ID:           g.ID,
			Resource:     g.Matcher.String(),
			TargetAmount: g.Target,
			Strict:       g.Strict,
		}
		if len(g.Filter.Match) > 0 || len(g.Filter.Ignore) > 0 {
			gr.Attributes = &attributesRecord{Match: g.Filter.Match, Ignore: g.Filter.Ignore}
		}
		r.Goals = append(r.Goals, gr)
	}
	return r
}

// fromRecord converts a stored record. Goals stored without an id get a
// fresh one; goals with a non-positive target are dropped.
func fromRecord(r projectRecord) (goal.Project, error) {
	if r.ID == "" {
		return goal.Project{}, fmt.Errorf("project %q has no id", r.Name)
	}
	p := goal.Project{
		ID:                 r.ID,
		Name:               r.Name,
		Goals:              make([]goal.Goal, 0, len(r.Goals)),
		TrackSecondaryRate: r.TrackSecondaryRate,
	}
	for _, gr := range r.Goals {
		if gr.TargetAmount <= 0 || gr.Resource == "" {
			log.Warn().
				Str("project", r.ID).
				Str("resource", gr.Resource).
				Int("target", gr.TargetAmount).
				Msg("Dropping invalid goal record")
			continue
		}
		g := goal.Goal{
			ID:      gr.ID,
			Matcher: goal.ParseMatcher(gr.Resource),
			Target:  gr.TargetAmount,
			Strict:  gr.Strict,
		}
		if g.ID == "" {
			g.ID = uuid.NewString()
		}
		if gr.Attributes != nil {
			g.Filter = goal.AttributeFilter{Match: gr.Attributes.Match, Ignore: gr.Attributes.Ignore}
		}
		p.Goals = append(p.Goals, g)
	}
	return p, nil
}

// SQLiteRepository stores one JSON record per project in the shared state store.
type SQLiteRepository struct {
	store *storage.TypedStore[projectRecord]
}

// NewSQLiteRepository creates a repository over store.
func NewSQLiteRepository(store *storage.Store) *SQLiteRepository {
	return &SQLiteRepository{store: storage.NewTypedStore[projectRecord](store, projectKind)}
}

// LoadAll returns every stored project in creation order. Records that fail
// to decode are logged and skipped.
func (r *SQLiteRepository) LoadAll(ctx context.Context) ([]goal.Project, error) {
	records, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load projects: %w", err)
	}
	out := make([]goal.Project, 0, len(records))
	for _, rec := range records {
		p, err := fromRecord(rec)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping corrupt project record")
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Load returns one stored project with its record version.
func (r *SQLiteRepository) Load(ctx context.Context, id string) (goal.Project, int64, error) {
	rec, version, err := r.store.Get(ctx, id)
	if err != nil {
		return goal.Project{}, 0, fmt.Errorf("failed to load project %s: %w", id, err)
	}
	if version == 0 {
		return goal.Project{}, 0, ErrProjectNotFound
	}
	p, err := fromRecord(rec)
	if err != nil {
		return goal.Project{}, 0, err
	}
	return p, version, nil
}

// SaveAll upserts projects and deletes the removed ids. Records LoadAll
// skipped stay in the database untouched.
func (r *SQLiteRepository) SaveAll(ctx context.Context, projects []goal.Project, removed []string) error {
	records := make([]projectRecord, 0, len(projects))
	for _, p := range projects {
		records = append(records, toRecord(p))
	}
	if err := r.store.Write(ctx, records, recordID, removed); err != nil {
		return fmt.Errorf("failed to save projects: %w", err)
	}
	return nil
}
