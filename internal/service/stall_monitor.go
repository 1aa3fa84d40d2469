package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/newsletter-engine/internal/observability"
	"github.com/kursadbilgin/newsletter-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultStallScanInterval = time.Minute
	defaultStallThreshold    = time.Hour
	defaultStallScanLimit    = 100
)

// StallMonitor reports campaigns that have been in sending for longer than
// the threshold. It never retries or finalizes them.
type StallMonitor struct {
	campaigns repository.CampaignRepository
	logger    *zap.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	threshold time.Duration
	limit     int
	now       func() time.Time
}

func NewStallMonitor(
	campaigns repository.CampaignRepository,
	interval time.Duration,
	threshold time.Duration,
	logger *zap.Logger,
) (*StallMonitor, error) {
	if campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if interval <= 0 {
		interval = defaultStallScanInterval
	}
	if threshold <= 0 {
		threshold = defaultStallThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StallMonitor{
		campaigns: campaigns,
		logger:    logger,
		interval:  interval,
		threshold: threshold,
		limit:     defaultStallScanLimit,
		now:       time.Now,
	}, nil
}

func (m *StallMonitor) SetMetrics(metrics *observability.Metrics) {
	if m == nil {
		return
	}
	m.metrics = metrics
}

func (m *StallMonitor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := m.scan(ctx); err != nil && ctx.Err() == nil {
		m.logger.Error("stall monitor initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				m.logger.Error("stall monitor scan failed", zap.Error(err))
			}
		}
	}
}

func (m *StallMonitor) scan(ctx context.Context) error {
	now := m.now().UTC()
	stalled, err := m.campaigns.ListStalled(ctx, now.Add(-m.threshold), m.limit)
	if err != nil {
		return fmt.Errorf("failed to list stalled campaigns: %w", err)
	}

	m.metrics.SetCampaignsStalled(len(stalled))
	for _, campaign := range stalled {
		m.logger.Warn("campaign stalled in sending",
			zap.String("campaignId", campaign.ID),
			zap.Int("attempt", campaign.DispatchAttempt),
			zap.Duration("sendingFor", now.Sub(campaign.UpdatedAt)),
		)
	}
	return nil
}
