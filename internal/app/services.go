package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/goald/internal/config"
	"github.com/dokzlo13/goald/internal/db"
	"github.com/dokzlo13/goald/internal/eventbus"
	"github.com/dokzlo13/goald/internal/inventory"
	"github.com/dokzlo13/goald/internal/inventory/filesource"
	"github.com/dokzlo13/goald/internal/inventory/script"
	"github.com/dokzlo13/goald/internal/ledger"
	"github.com/dokzlo13/goald/internal/projects"
	"github.com/dokzlo13/goald/internal/storage"
	"github.com/dokzlo13/goald/internal/storage/kv"
	"github.com/dokzlo13/goald/internal/tracking"
)

const settingsBucket = "settings"

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB       *db.DB
	Store    *storage.Store
	Settings kv.Bucket
	Bus      *eventbus.Bus
	Ledger   *ledger.Ledger

	Projects *projects.Service

	// Inventory
	Inventory *filesource.Source
	Script    *script.Extension
	Provider  inventory.Provider

	Engine *tracking.Engine

	// Background services
	Tracker       *TrackerService
	LedgerCleanup *LedgerService
	Status        *StatusService

	unsubscribeLedger func()
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Store = storage.NewStore(database.DB)
	s.Settings = kv.NewSQLiteBucket(database.DB, settingsBucket)
	s.Bus = eventbus.New()

	s.Ledger = ledger.New(database.DB)
	s.unsubscribeLedger = s.Ledger.Subscribe(s.Bus)

	s.Projects, err = projects.NewService(
		context.Background(),
		projects.NewSQLiteRepository(s.Store),
		s.Settings,
		s.Bus,
		cfg.Persistence.Debounce.Duration(),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load projects: %w", err)
	}

	s.Inventory, err = filesource.Open(cfg.Inventory.File)
	if err != nil {
		s.Close()
		return nil, err
	}

	var extensions []inventory.Capability
	if cfg.Inventory.Script != "" {
		s.Script, err = script.Load(cfg.Inventory.Script)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to load inventory script: %w", err)
		}
		extensions = append(extensions, s.Script)
	}
	s.Provider = inventory.NewCompositeProvider(cfg.Tracker.MaxDepth, extensions...)

	s.Engine = tracking.NewEngine(s.Provider, s.Bus, tracking.Config{
		RateWindow:       cfg.Tracker.RateWindow.Duration(),
		RateRefreshTicks: cfg.Tracker.RateRefreshTicks,
		FullScanRPS:      cfg.Tracker.FullScanRPS,
		FullScanBurst:    cfg.Tracker.FullScanBurst,
	})

	s.Tracker = NewTrackerService(s.Engine, s.Inventory, s.Projects, cfg.Tracker.TickInterval.Duration())
	s.LedgerCleanup = NewLedgerService(cfg, s.Ledger)
	s.Status = NewStatusService(cfg, s.Engine, s.Projects, s.Ledger)

	return s, nil
}

// Start starts all background services.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	go func() {
		if err := s.Inventory.Watch(ctx); err != nil {
			onFatalError(fmt.Errorf("inventory watcher: %w", err))
		}
	}()

	s.Tracker.Start(ctx)
	s.LedgerCleanup.Start(ctx)
	s.Status.Start(ctx)

	return nil
}

// Stop waits for the tick loop to exit, then writes pending project edits
// and releases all resources.
func (s *Services) Stop() error {
	if s.Tracker != nil {
		s.Tracker.Wait()
	}
	return s.Close()
}

// Close releases all resources.
func (s *Services) Close() error {
	var errs []error
	if s.Projects != nil {
		if err := s.Projects.Close(); err != nil {
			errs = append(errs, fmt.Errorf("final project save: %w", err))
		}
	}
	if s.unsubscribeLedger != nil {
		s.unsubscribeLedger()
	}
	if s.Bus != nil {
		s.Bus.Close()
	}
	if s.Script != nil {
		s.Script.Close()
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		log.Error().Errs("errors", errs).Msg("Errors while closing services")
	}
	return errors.Join(errs...)
}

// Admin gives command line tools access to stored projects without starting
// the tracker. Edits are written on Close.
type Admin struct {
	DB       *db.DB
	Repo     *projects.SQLiteRepository
	Projects *projects.Service
	Ledger   *ledger.Ledger
}

// OpenAdmin opens the database and loads the project list.
func OpenAdmin(ctx context.Context, cfg *config.Config) (*Admin, error) {
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	repo := projects.NewSQLiteRepository(storage.NewStore(database.DB))
	svc, err := projects.NewService(
		ctx,
		repo,
		kv.NewSQLiteBucket(database.DB, settingsBucket),
		nil,
		cfg.Persistence.Debounce.Duration(),
	)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to load projects: %w", err)
	}

	return &Admin{DB: database, Repo: repo, Projects: svc, Ledger: ledger.New(database.DB)}, nil
}

// Close saves pending edits and closes the database.
func (a *Admin) Close() error {
	saveErr := a.Projects.Close()
	return errors.Join(saveErr, a.DB.Close())
}
