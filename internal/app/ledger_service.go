package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/goald/internal/config"
	"github.com/dokzlo13/goald/internal/ledger"
)

// LedgerService periodically removes ledger entries past their retention.
type LedgerService struct {
	ledger    *ledger.Ledger
	interval  time.Duration
	retention time.Duration
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(cfg *config.Config, l *ledger.Ledger) *LedgerService {
	return &LedgerService{
		ledger:    l,
		interval:  cfg.Ledger.CleanupInterval.Duration(),
		retention: time.Duration(cfg.Ledger.RetentionDays) * 24 * time.Hour,
	}
}

// Start begins the cleanup loop. A non-positive retention keeps everything.
func (s *LedgerService) Start(ctx context.Context) {
	if s.retention <= 0 || s.interval <= 0 {
		log.Info().Msg("Ledger cleanup is disabled")
		return
	}
	go s.run(ctx)
}

func (s *LedgerService) run(ctx context.Context) {
	s.cleanup()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *LedgerService) cleanup() {
	deleted, err := s.ledger.DeleteOlderThan(s.retention)
	if err != nil {
		log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
	} else if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", s.retention).Msg("Cleaned up old ledger entries")
	}
}
