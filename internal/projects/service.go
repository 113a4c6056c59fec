package projects

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/goald/internal/debounce"
	"github.com/dokzlo13/goald/internal/eventbus"
	"github.com/dokzlo13/goald/internal/goal"
	"github.com/dokzlo13/goald/internal/storage/kv"
)

const (
	activeProjectKey = "active_project"
	saveTimeout      = 10 * time.Second
)

// Publisher receives save outcome events.
type Publisher interface {
	Publish(eventbus.Event)
}

// Service owns the live project list. Every mutation replaces a project
// value and schedules a debounced write of the whole list.
type Service struct {
	repo     Repository
	settings kv.Bucket
	bus      Publisher

	debouncer *debounce.Debouncer
	quiet     time.Duration

	mu       sync.RWMutex
	projects []goal.Project
	activeID string
	// removed holds deleted ids no successful write has dropped yet.
	removed []string

	saveMu     sync.Mutex
	saveFailed atomic.Bool
	lastErr    error
}

// NewService loads all projects from repo and restores the active project
// from settings. bus may be nil.
func NewService(ctx context.Context, repo Repository, settings kv.Bucket, bus Publisher, quiet time.Duration) (*Service, error) {
	loaded, err := repo.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	s := &Service{
		repo:      repo,
		settings:  settings,
		bus:       bus,
		debouncer: debounce.New(),
		quiet:     quiet,
		projects:  loaded,
	}

	var active string
	if _, err := settings.Get(activeProjectKey, &active); err != nil {
		log.Warn().Err(err).Msg("Failed to read active project, none selected")
	}
	if active != "" && s.indexOf(active) >= 0 {
		s.activeID = active
	}

	log.Info().
		Int("projects", len(loaded)).
		Str("active", s.activeID).
		Msg("Projects loaded")
	return s, nil
}

// List returns a copy of all projects in creation order.
func (s *Service) List() []goal.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]goal.Project, len(s.projects))
	for i, p := range s.projects {
		out[i] = p.Clone()
	}
	return out
}

// Get returns one project.
func (s *Service) Get(id string) (goal.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(id)
	if i < 0 {
		return goal.Project{}, ErrProjectNotFound
	}
	return s.projects[i].Clone(), nil
}

// Active returns a copy of the active project, or nil when none is selected.
func (s *Service) Active() *goal.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(s.activeID)
	if i < 0 {
		return nil
	}
	p := s.projects[i].Clone()
	return &p
}

// ActiveID returns the id of the active project.
func (s *Service) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// SetActive selects the project the tracker follows and remembers it.
func (s *Service) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(id) < 0 {
		return ErrProjectNotFound
	}
	return s.activateLocked(id)
}

// Create adds a new empty project. The first project becomes active.
func (s *Service) Create(name string) (goal.Project, error) {
	p := goal.NewProject(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.projects = append(s.projects, p)
	s.scheduleSaveLocked()
	log.Info().Str("project", p.ID).Str("name", name).Msg("Project created")

	if s.activeID == "" {
		if err := s.activateLocked(p.ID); err != nil {
			return p.Clone(), err
		}
	}
	return p.Clone(), nil
}

func (s *Service) activateLocked(id string) error {
	if err := s.settings.Put(activeProjectKey, id); err != nil {
		return fmt.Errorf("failed to store active project: %w", err)
	}
	s.activeID = id
	log.Info().Str("project", id).Msg("Active project changed")
	return nil
}

// Delete removes a project. Deleting the active project leaves none active.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return ErrProjectNotFound
	}
	s.projects = slices.Delete(s.projects, i, i+1)
	s.removed = append(s.removed, id)
	if s.activeID == id {
		s.activeID = ""
		if _, err := s.settings.Delete(activeProjectKey); err != nil {
			log.Warn().Err(err).Msg("Failed to clear active project")
		}
	}
	s.scheduleSaveLocked()
	log.Info().Str("project", id).Msg("Project deleted")
	return nil
}

// AddGoal adds g to a project, merging into an existing goal when allowed.
func (s *Service) AddGoal(projectID string, g goal.Goal) (goal.Project, error) {
	if g.Target <= 0 {
		return goal.Project{}, goal.ErrInvalidTarget
	}
	return s.mutate(projectID, func(p goal.Project) (goal.Project, error) {
		return goal.AddGoal(p, g), nil
	})
}

// RemoveGoal drops a goal from a project.
func (s *Service) RemoveGoal(projectID, goalID string) (goal.Project, error) {
	return s.mutate(projectID, func(p goal.Project) (goal.Project, error) {
		if _, ok := p.Goal(goalID); !ok {
			return p, goal.ErrGoalNotFound
		}
		return goal.RemoveGoal(p, goalID), nil
	})
}

// UpdateGoal replaces the goal with g's id.
func (s *Service) UpdateGoal(projectID string, g goal.Goal) (goal.Project, error) {
	if g.Target <= 0 {
		return goal.Project{}, goal.ErrInvalidTarget
	}
	return s.mutate(projectID, func(p goal.Project) (goal.Project, error) {
		return goal.UpdateGoal(p, g)
	})
}

// SetTarget changes one goal's target amount.
func (s *Service) SetTarget(projectID, goalID string, target int) (goal.Project, error) {
	if target <= 0 {
		return goal.Project{}, goal.ErrInvalidTarget
	}
	return s.mutate(projectID, func(p goal.Project) (goal.Project, error) {
		return goal.SetTarget(p, goalID, target)
	})
}

// SetTrackSecondary toggles the secondary counter rate for a project.
func (s *Service) SetTrackSecondary(projectID string, enabled bool) (goal.Project, error) {
	return s.mutate(projectID, func(p goal.Project) (goal.Project, error) {
		p.TrackSecondaryRate = enabled
		return p, nil
	})
}

// mutate replaces one project with fn's result. A failing fn leaves the
// list untouched and schedules nothing.
func (s *Service) mutate(projectID string, fn func(goal.Project) (goal.Project, error)) (goal.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(projectID)
	if i < 0 {
		return goal.Project{}, ErrProjectNotFound
	}
	next, err := fn(s.projects[i].Clone())
	if err != nil {
		return goal.Project{}, err
	}
	s.projects[i] = next
	s.scheduleSaveLocked()
	return next.Clone(), nil
}

// SaveFailed reports whether the last write failed. It stays set until a
// later write succeeds.
func (s *Service) SaveFailed() bool {
	return s.saveFailed.Load()
}

// Flush writes a pending snapshot now and returns the outcome of the
// latest write.
func (s *Service) Flush() error {
	s.debouncer.Flush()

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.lastErr
}

// Close flushes pending work and stops the debouncer.
func (s *Service) Close() error {
	err := s.Flush()
	s.debouncer.Shutdown()
	return err
}

// scheduleSaveLocked captures an immutable copy of the list; the write
// never observes later mutations. Caller holds s.mu.
func (s *Service) scheduleSaveLocked() {
	snapshot := make([]goal.Project, len(s.projects))
	for i, p := range s.projects {
		snapshot[i] = p.Clone()
	}
	removed := slices.Clone(s.removed)
	s.debouncer.Schedule(func() { s.persist(snapshot, removed) }, s.quiet)
}

func (s *Service) persist(snapshot []goal.Project, removed []string) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := s.repo.SaveAll(ctx, snapshot, removed); err != nil {
		s.lastErr = err
		s.saveFailed.Store(true)
		log.Error().Err(err).Int("projects", len(snapshot)).Msg("Failed to save projects")
		s.publish(eventbus.Event{Type: eventbus.EventTypeSaveFailed, Payload: err})
		return
	}

	s.mu.Lock()
	s.removed = slices.DeleteFunc(s.removed, func(id string) bool { return slices.Contains(removed, id) })
	s.mu.Unlock()

	s.lastErr = nil
	if s.saveFailed.Swap(false) {
		log.Info().Msg("Project saves recovered")
	}
	log.Debug().Int("projects", len(snapshot)).Msg("Projects saved")
	s.publish(eventbus.Event{Type: eventbus.EventTypeSaved, Payload: len(snapshot)})
}

func (s *Service) publish(e eventbus.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

func (s *Service) indexOf(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.projects, func(p goal.Project) bool { return p.ID == id })
}
