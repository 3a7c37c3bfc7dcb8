package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/EduMatch-2025/contract-service/internal/services"
)

// Scheduler runs the periodic expiry sweep. The sweep is idempotent and
// guarded by a status compare-and-swap, so overlapping runs across service
// instances are harmless.
type Scheduler struct {
	cron     *cron.Cron
	contract services.ContractService
	logger   *slog.Logger
}

func NewScheduler(contract services.ContractService, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		contract: contract,
		logger:   logger,
	}
}

func (s *Scheduler) Start() error {
	// every minute
	if _, err := s.cron.AddFunc("0 * * * * *", s.sweepExpired); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("Expiry scheduler started")
	return nil
}

func (s *Scheduler) Stop() context.CancelFunc {
	_, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	go func() {
		<-s.cron.Stop().Done()
		cancel()
	}()
	return cancel
}

func (s *Scheduler) sweepExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ids, err := s.contract.ExpireOverdue(ctx)
	if err != nil {
		s.logger.Error("Expiry sweep failed", "error", err)
		return
	}
	if len(ids) > 0 {
		s.logger.Info("Expiry sweep moved contracts to expired", "contract_ids", ids)
	}
}
