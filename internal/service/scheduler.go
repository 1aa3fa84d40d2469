package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/newsletter-engine/internal/domain"
	"github.com/kursadbilgin/newsletter-engine/internal/queue"
	"github.com/kursadbilgin/newsletter-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSchedulerScanInterval = 30 * time.Second
	defaultSchedulerScanLimit    = 100
)

// Scheduler periodically starts scheduled campaigns whose send time has come.
type Scheduler struct {
	campaigns repository.CampaignRepository
	launcher  CampaignLauncher
	logger    *zap.Logger
	interval  time.Duration
	limit     int
	now       func() time.Time
}

func NewScheduler(
	campaigns repository.CampaignRepository,
	launcher CampaignLauncher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*Scheduler, error) {
	if interval <= 0 {
		interval = defaultSchedulerScanInterval
	}
	if limit <= 0 {
		limit = defaultSchedulerScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		campaigns: campaigns,
		launcher:  launcher,
		logger:    logger,
		interval:  interval,
		limit:     limit,
		now:       time.Now,
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("scheduler scan failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) scanDue(ctx context.Context) error {
	due, err := s.campaigns.GetDueScheduled(ctx, s.now().UTC(), s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due scheduled campaigns: %w", err)
	}

	for i := range due {
		campaign := due[i]
		if _, err := s.launcher.StartDispatch(ctx, campaign.ID, queue.ReasonScheduled); err != nil {
			// Someone else started or finished it since the scan.
			if errors.Is(err, domain.ErrConflict) {
				s.logger.Info("scheduled campaign already started",
					zap.String("campaignId", campaign.ID),
					zap.Error(err),
				)
				continue
			}
			s.logger.Error("failed to start scheduled campaign",
				zap.String("campaignId", campaign.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}
