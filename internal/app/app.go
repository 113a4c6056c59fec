// Package app wires goald's services together and manages their lifecycle.
package app

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/goald/internal/config"
)

// App is the tracker daemon. The inventory watcher, the tick loop, ledger
// retention and the status API all stop when its context ends.
type App struct {
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New opens the database, loads projects and builds the tracking engine.
// Nothing runs until Start.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{services: services}, nil
}

// Start launches the background services under a child of ctx. A fatal
// service error cancels that child, which ends Wait.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	err := a.services.Start(a.ctx, func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel()
	})
	if err != nil {
		return err
	}

	log.Info().
		Int("projects", len(a.services.Projects.List())).
		Str("active", a.services.Projects.ActiveID()).
		Msg("goald started")
	return nil
}

// Stop ends the tick loop and writes pending project edits before closing
// the database.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")
	if a.cancel != nil {
		a.cancel()
	}
	return a.services.Stop()
}

// Wait blocks until shutdown is requested.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// Run starts the daemon, waits for ctx or a fatal error and shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		a.Stop()
		return err
	}
	a.Wait()
	return a.Stop()
}

// SignalContext returns a context cancelled by SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		if parent.Err() == nil {
			log.Warn().Msg("Received shutdown signal")
		}
	}()
	return ctx, stop
}
