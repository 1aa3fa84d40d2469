package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/newsletter-engine/internal/domain"
	"github.com/kursadbilgin/newsletter-engine/internal/mailer"
	"github.com/kursadbilgin/newsletter-engine/internal/observability"
	"github.com/kursadbilgin/newsletter-engine/internal/queue"
	"github.com/kursadbilgin/newsletter-engine/internal/ratelimit"
	"github.com/kursadbilgin/newsletter-engine/internal/render"
	"github.com/kursadbilgin/newsletter-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency   = 1
	minDispatchConcurrency = 1
	defaultSendTimeout     = 30 * time.Second
	logWriteTimeout        = 5 * time.Second
)

// RecipientResolver returns the audience of a campaign.
type RecipientResolver interface {
	Resolve(ctx context.Context, campaign domain.Campaign) ([]domain.Subscriber, error)
}

// CampaignPreparer resolves the per-campaign render values once per run.
type CampaignPreparer interface {
	Prepare(ctx context.Context, campaign domain.Campaign) (*render.CampaignView, error)
}

type DispatchDeps struct {
	Campaigns   repository.CampaignRepository
	Logs        repository.CampaignLogRepository
	Templates   repository.TemplateRepository
	Audience    RecipientResolver
	Renderer    CampaignPreparer
	Mailer      mailer.Mailer
	RateLimiter ratelimit.RateLimiter
	Consumer    queue.Consumer
}

type DispatchOptions struct {
	// Consumers is the number of queue consumers, i.e. campaigns dispatched
	// in parallel by one process.
	Consumers int
	// RecipientConcurrency bounds in-flight sends within one campaign.
	RecipientConcurrency int
	SendTimeout          time.Duration
}

// DispatchWorker consumes dispatch messages and delivers a campaign to every
// recipient of its audience, one log row per recipient and run.
type DispatchWorker struct {
	deps    DispatchDeps
	opts    DispatchOptions
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewDispatchWorker(deps DispatchDeps, opts DispatchOptions, logger *zap.Logger) (*DispatchWorker, error) {
	switch {
	case deps.Campaigns == nil, deps.Logs == nil, deps.Templates == nil:
		return nil, fmt.Errorf("dispatch worker requires campaign, log and template repositories")
	case deps.Audience == nil, deps.Renderer == nil, deps.Mailer == nil:
		return nil, fmt.Errorf("dispatch worker requires audience, renderer and mailer")
	}

	if opts.Consumers < minWorkerConcurrency {
		opts.Consumers = minWorkerConcurrency
	}
	if opts.RecipientConcurrency < minDispatchConcurrency {
		opts.RecipientConcurrency = minDispatchConcurrency
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchWorker{
		deps:   deps,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (w *DispatchWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes the dispatch queue until context cancellation.
func (w *DispatchWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if w.deps.Consumer == nil {
		return fmt.Errorf("dispatch worker has no queue consumer")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.opts.Consumers; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("dispatch consumer started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.DispatchQueue),
			)

			err := w.deps.Consumer.Consume(groupCtx, queue.DispatchQueue, w.handleMessage)
			if err != nil {
				w.logger.Error("dispatch consumer stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("dispatch consumer stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *DispatchWorker) handleMessage(ctx context.Context, msg queue.DispatchMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}

	campaign, ok, err := w.loadSending(ctx, msg.CampaignID)
	if err != nil || !ok {
		return err
	}
	if campaign.DispatchAttempt != msg.Attempt {
		w.logger.Info("stale dispatch message, skipping",
			zap.String("campaignId", campaign.ID),
			zap.Int("messageAttempt", msg.Attempt),
			zap.Int("attempt", campaign.DispatchAttempt),
		)
		return nil
	}

	return w.run(ctx, campaign)
}

// Dispatch runs the current dispatch attempt of a campaign in sending.
// Campaigns in any other status are skipped.
func (w *DispatchWorker) Dispatch(ctx context.Context, campaignID string) error {
	campaign, ok, err := w.loadSending(ctx, campaignID)
	if err != nil || !ok {
		return err
	}
	return w.run(ctx, campaign)
}

func (w *DispatchWorker) loadSending(ctx context.Context, campaignID string) (*domain.Campaign, bool, error) {
	campaign, err := w.deps.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			w.logger.Warn("campaign not found for dispatch, skipping", zap.String("campaignId", campaignID))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load campaign: %w", err)
	}

	// Redelivery of a finished run.
	if campaign.Status != domain.CampaignStatusSending {
		w.logger.Info("campaign not in sending, skipping dispatch",
			zap.String("campaignId", campaign.ID),
			zap.String("status", campaign.Status.String()),
		)
		return nil, false, nil
	}
	return campaign, true, nil
}

func (w *DispatchWorker) run(ctx context.Context, campaign *domain.Campaign) error {
	w.metrics.IncDispatchInFlight()
	defer w.metrics.DecDispatchInFlight()

	logger := observability.WithContextLogger(w.logger, ctx).With(
		zap.String("campaignId", campaign.ID),
		zap.Int("attempt", campaign.DispatchAttempt),
	)

	tpl, err := w.deps.Templates.GetByID(ctx, campaign.TemplateID)
	if err == nil && strings.TrimSpace(tpl.Content) == "" {
		err = fmt.Errorf("%w: template body is empty", domain.ErrValidation)
	}
	if err != nil {
		// The campaign stays in sending; the stall monitor reports it.
		logger.Error("dispatch aborted: template unavailable",
			zap.String("templateId", campaign.TemplateID),
			zap.Error(err),
		)
		w.metrics.IncDispatchAborted("template")
		return nil
	}

	view, err := w.deps.Renderer.Prepare(ctx, *campaign)
	if err != nil {
		return fmt.Errorf("failed to prepare campaign view: %w", err)
	}

	recipients, err := w.deps.Audience.Resolve(ctx, *campaign)
	if err != nil {
		return fmt.Errorf("failed to resolve audience: %w", err)
	}
	if err := w.deps.Campaigns.SetTotalRecipients(ctx, campaign.ID, len(recipients)); err != nil {
		return fmt.Errorf("failed to set total recipients: %w", err)
	}

	logged, err := w.deps.Logs.LoggedSubscriberIDs(ctx, campaign.ID, campaign.DispatchAttempt)
	if err != nil {
		return fmt.Errorf("failed to load delivered recipients: %w", err)
	}
	if len(logged) > 0 {
		logger.Info("resuming dispatch run", zap.Int("alreadyLogged", len(logged)))
	}

	logger.Info("dispatch started", zap.Int("recipients", len(recipients)))

	var sent, failed atomic.Int64
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.RecipientConcurrency)
	for _, sub := range recipients {
		if _, done := logged[sub.ID]; done {
			continue
		}
		if groupCtx.Err() != nil {
			break
		}

		g.Go(func() error {
			// A slot can free up after another recipient already failed the run.
			if groupCtx.Err() != nil {
				return nil
			}
			status, err := w.deliver(groupCtx, campaign, tpl.Content, view, sub, logger)
			if err != nil {
				return err
			}
			if status == domain.LogStatusSent {
				sent.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	counts, err := w.deps.Logs.CountByStatus(ctx, campaign.ID, campaign.DispatchAttempt)
	if err != nil {
		return fmt.Errorf("failed to count delivery results: %w", err)
	}

	total := counts.Sent + counts.Failed
	if total != len(recipients) {
		// The audience changed between deliveries of this run.
		if err := w.deps.Campaigns.SetTotalRecipients(ctx, campaign.ID, total); err != nil {
			return fmt.Errorf("failed to set total recipients: %w", err)
		}
	}

	outcome := domain.FinalizeOutcome(total, counts.Failed, counts.FirstError)
	sentAt := w.now().UTC()
	if err := w.deps.Campaigns.Finalize(ctx, campaign.ID, outcome, &sentAt); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			logger.Warn("campaign left sending before finalize, skipping")
			return nil
		}
		return fmt.Errorf("failed to finalize campaign: %w", err)
	}
	w.metrics.IncCampaignFinalized(outcome.Status.String())

	fields := []zap.Field{
		zap.String("status", outcome.Status.String()),
		zap.Int("total", total),
		zap.Int("sent", counts.Sent),
		zap.Int("failed", counts.Failed),
		zap.Int64("deliveredThisPass", sent.Load()),
		zap.Int64("failedThisPass", failed.Load()),
	}
	if outcome.Status == domain.CampaignStatusFailed {
		logger.Error("dispatch finished: every recipient failed", fields...)
	} else {
		logger.Info("dispatch finished", fields...)
	}
	return nil
}

// deliver sends the campaign to one subscriber and appends its log row.
// Render and send failures are recorded as failed rows; only infrastructure
// errors and cancellation are returned.
func (w *DispatchWorker) deliver(
	ctx context.Context,
	campaign *domain.Campaign,
	body string,
	view *render.CampaignView,
	sub domain.Subscriber,
	logger *zap.Logger,
) (domain.LogStatus, error) {
	if w.deps.RateLimiter != nil {
		if err := w.deps.RateLimiter.Wait(ctx, ratelimit.BucketEmail); err != nil {
			return "", fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	var sendErr error
	failureReason := ""
	html, err := view.Body(body, sub)
	if err != nil {
		sendErr = fmt.Errorf("render failed: %w", err)
		failureReason = "render"
	} else {
		sendCtx, cancel := context.WithTimeout(ctx, w.opts.SendTimeout)
		start := w.now()
		sendErr = w.deps.Mailer.Send(sendCtx, sub.Email, view.Subject(sub), html)
		cancel()
		w.metrics.ObserveSendDuration(w.now().Sub(start))

		if sendErr != nil {
			if ctx.Err() != nil {
				// Shutting down; the recipient is retried on redelivery.
				return "", ctx.Err()
			}
			failureReason = "permanent"
			if mailer.IsTransient(sendErr) {
				failureReason = "transient"
			}
		}
	}

	entry := &domain.CampaignLog{
		ID:           uuid.NewString(),
		CampaignID:   campaign.ID,
		SubscriberID: sub.ID,
		Attempt:      campaign.DispatchAttempt,
		Status:       domain.LogStatusSent,
		CreatedAt:    w.now().UTC(),
	}
	if sendErr != nil {
		msg := sendErr.Error()
		entry.Status = domain.LogStatusFailed
		entry.ErrorMessage = &msg
	}

	// The mail is out; the row must be written even if ctx is cancelled now.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
	defer cancel()
	if err := w.deps.Logs.Create(writeCtx, entry); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return "", fmt.Errorf("failed to record delivery for subscriber %s: %w", sub.ID, err)
		}
		logger.Info("delivery already logged by a concurrent run", zap.String("subscriberId", sub.ID))
	}

	if sendErr != nil {
		w.metrics.IncRecipientFailed(failureReason)
		logger.Warn("delivery failed",
			zap.String("subscriberId", sub.ID),
			zap.String("reason", failureReason),
			zap.Error(sendErr),
		)
		return domain.LogStatusFailed, nil
	}

	w.metrics.IncRecipientSent()
	logger.Debug("delivered", zap.String("subscriberId", sub.ID))
	return domain.LogStatusSent, nil
}
