package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/newsletter-engine/internal/domain"
	"github.com/kursadbilgin/newsletter-engine/internal/observability"
	"github.com/kursadbilgin/newsletter-engine/internal/queue"
	"github.com/kursadbilgin/newsletter-engine/internal/render"
	"github.com/kursadbilgin/newsletter-engine/internal/repository"
	"go.uber.org/zap"
)

// ContentPublishedHandler is notified after a post has been saved in the
// published state. It never fails the content save.
type ContentPublishedHandler interface {
	OnContentPublished(ctx context.Context, event domain.ContentPublished)
}

type publicationRule struct {
	templatePatterns []string
	topicSlugs       []string
	subjectPrefix    string
}

var publicationRules = map[domain.PostType]publicationRule{
	domain.PostTypeBlog: {
		templatePatterns: []string{"New Post", "Artikel"},
		topicSlugs:       []string{"blog"},
		subjectPrefix:    "Artikel Baru",
	},
	domain.PostTypeNews: {
		templatePatterns: []string{"New Post", "Berita"},
		topicSlugs:       []string{"news", "berita"},
		subjectPrefix:    "Berita Baru",
	},
}

const (
	triggerOutcomeDispatched = "dispatched"
	triggerOutcomeNoTemplate = "no_template"
	triggerOutcomeInvalid    = "invalid"
	triggerOutcomeError      = "error"
	triggerOutcomePanic      = "panic"
)

// PublicationTrigger turns a publish event into a campaign sent right away to
// the matching topic audience.
type PublicationTrigger struct {
	templates repository.TemplateRepository
	topics    repository.TopicRepository
	posts     render.PostFinder
	campaigns CampaignLauncher
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewPublicationTrigger builds the trigger. posts may be nil; it is only used
// to fill in a missing event title.
func NewPublicationTrigger(
	templates repository.TemplateRepository,
	topics repository.TopicRepository,
	posts render.PostFinder,
	campaigns CampaignLauncher,
	logger *zap.Logger,
) (*PublicationTrigger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PublicationTrigger{
		templates: templates,
		topics:    topics,
		posts:     posts,
		campaigns: campaigns,
		logger:    logger,
	}, nil
}

func (t *PublicationTrigger) SetMetrics(metrics *observability.Metrics) {
	if t == nil {
		return
	}
	t.metrics = metrics
}

func (t *PublicationTrigger) OnContentPublished(ctx context.Context, event domain.ContentPublished) {
	logger := observability.WithContextLogger(t.logger, ctx).With(
		zap.String("postId", event.PostID),
		zap.String("postType", event.PostType.String()),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("publication trigger panicked", zap.Any("panic", r))
			t.metrics.IncPublicationTrigger(event.PostType.String(), triggerOutcomePanic)
		}
	}()

	outcome, err := t.trigger(ctx, event, logger)
	t.metrics.IncPublicationTrigger(event.PostType.String(), outcome)
	if err != nil {
		logger.Error("publication trigger failed", zap.Error(err))
	}
}

func (t *PublicationTrigger) trigger(ctx context.Context, event domain.ContentPublished, logger *zap.Logger) (string, error) {
	if err := event.Validate(); err != nil {
		return triggerOutcomeInvalid, err
	}
	rule := publicationRules[event.PostType]

	tpl, err := t.templates.FindByNamePatterns(ctx, rule.templatePatterns)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("no newsletter template for published post, skipping",
			zap.Strings("patterns", rule.templatePatterns),
		)
		return triggerOutcomeNoTemplate, nil
	}
	if err != nil {
		return triggerOutcomeError, fmt.Errorf("failed to find template: %w", err)
	}

	// A missing topic broadcasts to every eligible subscriber.
	var topicID *string
	topic, err := t.topics.FindBySlugs(ctx, rule.topicSlugs)
	switch {
	case err == nil:
		topicID = &topic.ID
	case errors.Is(err, domain.ErrNotFound):
		logger.Info("no topic for post type, sending to all subscribers", zap.Strings("slugs", rule.topicSlugs))
	default:
		return triggerOutcomeError, fmt.Errorf("failed to find topic: %w", err)
	}

	title := strings.TrimSpace(event.Title)
	if title == "" && t.posts != nil {
		if post, err := t.posts.FindPost(ctx, event.PostType, event.PostID); err == nil && post != nil {
			title = post.Title
		}
	}

	postID := event.PostID
	postType := event.PostType
	campaign, err := t.campaigns.Create(ctx, CreateCampaignInput{
		Subject:    fmt.Sprintf("%s: %s", rule.subjectPrefix, title),
		TemplateID: tpl.ID,
		TopicID:    topicID,
		PostID:     &postID,
		PostType:   &postType,
	})
	if err != nil {
		return triggerOutcomeError, fmt.Errorf("failed to create campaign: %w", err)
	}

	if _, err := t.campaigns.StartDispatch(ctx, campaign.ID, queue.ReasonPublished); err != nil {
		return triggerOutcomeError, fmt.Errorf("failed to start dispatch of campaign %s: %w", campaign.ID, err)
	}

	logger.Info("publication campaign dispatched",
		zap.String("campaignId", campaign.ID),
		zap.String("templateId", tpl.ID),
	)
	return triggerOutcomeDispatched, nil
}
