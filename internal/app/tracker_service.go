package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/goald/internal/goal"
	"github.com/dokzlo13/goald/internal/inventory"
	"github.com/dokzlo13/goald/internal/tracking"
)

// SubjectSource supplies the inventory snapshot for the next tick.
type SubjectSource interface {
	Subject() inventory.Subject
}

// ActiveProject supplies the project the tracker follows.
type ActiveProject interface {
	Active() *goal.Project
}

// TrackerService drives the engine from a ticker. It is the only goroutine
// that calls Engine.OnTick.
type TrackerService struct {
	engine   *tracking.Engine
	source   SubjectSource
	projects ActiveProject
	interval time.Duration

	done chan struct{}
}

// NewTrackerService creates a new TrackerService.
func NewTrackerService(engine *tracking.Engine, source SubjectSource, projects ActiveProject, interval time.Duration) *TrackerService {
	return &TrackerService{
		engine:   engine,
		source:   source,
		projects: projects,
		interval: interval,
	}
}

// Start runs the tick loop in the background.
func (s *TrackerService) Start(ctx context.Context) {
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.Run(ctx)
	}()
}

// Run ticks until ctx is cancelled.
func (s *TrackerService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("Tracker started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Tracker stopped")
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick runs a single engine cycle.
func (s *TrackerService) Tick() {
	s.engine.OnTick(s.source.Subject(), s.projects.Active())
}

// Wait blocks until a loop started with Start has returned.
func (s *TrackerService) Wait() {
	if s.done != nil {
		<-s.done
	}
}
