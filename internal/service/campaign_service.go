package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/newsletter-engine/internal/domain"
	"github.com/kursadbilgin/newsletter-engine/internal/observability"
	"github.com/kursadbilgin/newsletter-engine/internal/queue"
	"github.com/kursadbilgin/newsletter-engine/internal/repository"
	"go.uber.org/zap"
)

type CreateCampaignInput struct {
	Subject    string
	TemplateID string
	TopicID    *string
	PostID     *string
	PostType   *domain.PostType
}

// CampaignLauncher creates campaigns and starts their dispatch runs. It is
// what the publication trigger and the scheduled scanner depend on.
type CampaignLauncher interface {
	Create(ctx context.Context, in CreateCampaignInput) (*domain.Campaign, error)
	StartDispatch(ctx context.Context, id string, reason queue.DispatchReason) (*domain.Campaign, error)
}

type CampaignService struct {
	campaigns repository.CampaignRepository
	logs      repository.CampaignLogRepository
	templates repository.TemplateRepository
	topics    repository.TopicRepository
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewCampaignService(
	campaigns repository.CampaignRepository,
	logs repository.CampaignLogRepository,
	templates repository.TemplateRepository,
	topics repository.TopicRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*CampaignService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CampaignService{
		campaigns: campaigns,
		logs:      logs,
		templates: templates,
		topics:    topics,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *CampaignService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Create stores a draft campaign after checking that its template and topic
// exist.
func (s *CampaignService) Create(ctx context.Context, in CreateCampaignInput) (*domain.Campaign, error) {
	campaign := &domain.Campaign{
		ID:         uuid.NewString(),
		Subject:    strings.TrimSpace(in.Subject),
		TemplateID: strings.TrimSpace(in.TemplateID),
		TopicID:    trimOptional(in.TopicID),
		PostID:     trimOptional(in.PostID),
		PostType:   in.PostType,
		Status:     domain.CampaignStatusDraft,
	}
	if err := campaign.Validate(); err != nil {
		return nil, err
	}
	if (campaign.PostID == nil) != (campaign.PostType == nil) {
		return nil, fmt.Errorf("%w: post id and post type must be set together", domain.ErrValidation)
	}

	if _, err := s.templates.GetByID(ctx, campaign.TemplateID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: template %q does not exist", domain.ErrValidation, campaign.TemplateID)
		}
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	if campaign.TopicID != nil {
		if _, err := s.topics.GetByID(ctx, *campaign.TopicID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("%w: topic %q does not exist", domain.ErrValidation, *campaign.TopicID)
			}
			return nil, fmt.Errorf("failed to load topic: %w", err)
		}
	}

	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	s.logger.Info("campaign created",
		zap.String("campaignId", campaign.ID),
		zap.String("templateId", campaign.TemplateID),
	)
	return campaign, nil
}

func (s *CampaignService) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.campaigns.GetByID(ctx, id)
}

func (s *CampaignService) List(ctx context.Context, params repository.CampaignListParams) ([]domain.Campaign, int64, error) {
	return s.campaigns.List(ctx, params)
}

// ListLogs returns the delivery log of a campaign across all of its runs.
func (s *CampaignService) ListLogs(ctx context.Context, campaignID string, params repository.LogListParams) ([]domain.CampaignLog, int64, error) {
	if _, err := s.campaigns.GetByID(ctx, campaignID); err != nil {
		return nil, 0, err
	}
	return s.logs.ListByCampaign(ctx, campaignID, params)
}

// Schedule sets the send time of a campaign that is neither being sent nor
// already sent.
func (s *CampaignService) Schedule(ctx context.Context, id string, when time.Time) (*domain.Campaign, error) {
	if when.IsZero() {
		return nil, fmt.Errorf("%w: scheduled time is required", domain.ErrValidation)
	}

	campaign, err := s.campaigns.Schedule(ctx, id, when.UTC())
	if err != nil {
		return nil, err
	}

	s.logger.Info("campaign scheduled",
		zap.String("campaignId", id),
		zap.Time("scheduledAt", when.UTC()),
	)
	return campaign, nil
}

// SendNow starts a manual dispatch run.
func (s *CampaignService) SendNow(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.StartDispatch(ctx, id, queue.ReasonManual)
}

// StartDispatch moves the campaign to sending and enqueues the run. It
// returns as soon as the message is published; delivery happens in the
// dispatch worker. When the message cannot be published the run is closed as
// failed so the campaign can be triggered again.
func (s *CampaignService) StartDispatch(ctx context.Context, id string, reason queue.DispatchReason) (*domain.Campaign, error) {
	campaign, err := s.campaigns.MarkSending(ctx, id)
	if err != nil {
		return nil, err
	}

	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("campaignId", campaign.ID),
		zap.Int("attempt", campaign.DispatchAttempt),
		zap.String("reason", string(reason)),
	)

	msg := queue.DispatchMessage{
		CampaignID: campaign.ID,
		Attempt:    campaign.DispatchAttempt,
		Reason:     reason,
	}
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		msg.CorrelationID = correlationID
	}

	if err := s.publisher.Publish(ctx, queue.DispatchQueue, msg); err != nil {
		logger.Error("failed to enqueue dispatch", zap.Error(err))

		lastError := fmt.Sprintf("failed to enqueue dispatch: %v", err)
		outcome := domain.Outcome{Status: domain.CampaignStatusFailed, LastError: &lastError}
		if finalizeErr := s.campaigns.Finalize(ctx, campaign.ID, outcome, nil); finalizeErr != nil {
			logger.Error("failed to mark campaign as failed after enqueue error", zap.Error(finalizeErr))
			return nil, fmt.Errorf("failed to enqueue dispatch: %w (failed to mark as failed: %v)", err, finalizeErr)
		}
		return nil, fmt.Errorf("failed to enqueue dispatch: %w", err)
	}

	s.metrics.IncCampaignEnqueued(string(reason))
	logger.Info("campaign dispatch enqueued")
	return campaign, nil
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
