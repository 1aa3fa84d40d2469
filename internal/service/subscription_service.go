package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/newsletter-engine/internal/domain"
	"github.com/kursadbilgin/newsletter-engine/internal/mailer"
	"github.com/kursadbilgin/newsletter-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultLocale   = "id"
	maxLocaleLength = 10

	verificationSubject = "Konfirmasi langganan newsletter"
	welcomeSubject      = "Selamat datang di newsletter kami"
)

// SubscriberLinks builds the public links embedded in subscription mails.
type SubscriberLinks interface {
	VerifyURL(token string) string
	PreferenceURL(token string) string
	UnsubscribeURL(email string) string
}

type SubscribeInput struct {
	Email    string
	Name     *string
	Locale   string
	TopicIDs []string
}

// UpdatePreferencesInput leaves a field untouched when it is nil.
type UpdatePreferencesInput struct {
	Name     *string
	Locale   *string
	TopicIDs *[]string
}

type SubscriptionService struct {
	subscribers repository.SubscriberRepository
	topics      repository.TopicRepository
	mailer      mailer.Mailer
	links       SubscriberLinks
	logger      *zap.Logger
	now         func() time.Time
	newToken    func() string
}

func NewSubscriptionService(
	subscribers repository.SubscriberRepository,
	topics repository.TopicRepository,
	mail mailer.Mailer,
	links SubscriberLinks,
	logger *zap.Logger,
) (*SubscriptionService, error) {
	if subscribers == nil || topics == nil {
		return nil, fmt.Errorf("subscription service requires subscriber and topic repositories")
	}
	if mail == nil || links == nil {
		return nil, fmt.Errorf("subscription service requires a mailer and a link builder")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SubscriptionService{
		subscribers: subscribers,
		topics:      topics,
		mailer:      mail,
		links:       links,
		logger:      logger,
		now:         time.Now,
		newToken:    uuid.NewString,
	}, nil
}

// Subscribe registers an address pending verification and mails the
// verification link. An active subscriber is returned unchanged; any other
// existing address starts verification over with a fresh token.
func (s *SubscriptionService) Subscribe(ctx context.Context, in SubscribeInput) (*domain.Subscriber, error) {
	email, err := domain.NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	locale, err := normalizeLocale(in.Locale)
	if err != nil {
		return nil, err
	}
	topicIDs, err := s.resolveTopics(ctx, in.TopicIDs)
	if err != nil {
		return nil, err
	}

	existing, err := s.subscribers.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		sub := &domain.Subscriber{
			ID:       uuid.NewString(),
			Email:    email,
			Name:     trimOptional(in.Name),
			Token:    s.newToken(),
			Locale:   locale,
			TopicIDs: topicIDs,
		}
		if err := s.subscribers.Create(ctx, sub); err != nil {
			return nil, fmt.Errorf("failed to create subscriber: %w", err)
		}
		s.logger.Info("subscriber registered", zap.String("subscriberId", sub.ID))
		return sub, s.sendVerification(ctx, sub)
	case err != nil:
		return nil, fmt.Errorf("failed to load subscriber: %w", err)
	}

	// Profile edits of an active subscriber go through the token-guarded
	// preference centre, never through the public form.
	if existing.Subscribed && existing.IsVerified() {
		s.logger.Info("subscribe for active subscriber ignored", zap.String("subscriberId", existing.ID))
		return existing, nil
	}

	existing.Name = trimOptional(in.Name)
	existing.Locale = locale
	existing.TopicIDs = topicIDs
	existing.Subscribed = false
	existing.VerifiedAt = nil
	existing.UnsubscribeReason = nil
	existing.Token = s.newToken()
	if err := s.subscribers.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to update subscriber: %w", err)
	}

	s.logger.Info("subscriber re-registered", zap.String("subscriberId", existing.ID))
	return existing, s.sendVerification(ctx, existing)
}

// Verify redeems a verification token and sends the welcome mail. A token
// can only be redeemed once; later calls get ErrAlreadyVerified and no mail.
func (s *SubscriptionService) Verify(ctx context.Context, token string) (*domain.Subscriber, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", domain.ErrValidation)
	}

	sub, err := s.subscribers.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if sub.IsVerified() {
		return nil, domain.ErrAlreadyVerified
	}

	verifiedAt := s.now().UTC()
	if err := s.subscribers.MarkVerified(ctx, sub.ID, verifiedAt); err != nil {
		return nil, err
	}
	sub.VerifiedAt = &verifiedAt
	sub.Subscribed = true

	if err := s.mailer.Send(ctx, sub.Email, welcomeSubject, s.welcomeBody(sub)); err != nil {
		s.logger.Error("failed to send welcome email",
			zap.String("subscriberId", sub.ID),
			zap.Error(err),
		)
	}

	s.logger.Info("subscriber verified", zap.String("subscriberId", sub.ID))
	return sub, nil
}

func (s *SubscriptionService) Unsubscribe(ctx context.Context, email string, reason *string) error {
	normalized, err := domain.NormalizeEmail(email)
	if err != nil {
		return err
	}
	if err := s.subscribers.Unsubscribe(ctx, normalized, trimOptional(reason)); err != nil {
		return err
	}

	s.logger.Info("subscriber unsubscribed", zap.Bool("withReason", trimOptional(reason) != nil))
	return nil
}

// Preferences returns the subscriber owning the preference-centre token.
func (s *SubscriptionService) Preferences(ctx context.Context, token string) (*domain.Subscriber, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", domain.ErrValidation)
	}
	return s.subscribers.GetByToken(ctx, token)
}

func (s *SubscriptionService) UpdatePreferences(ctx context.Context, token string, in UpdatePreferencesInput) (*domain.Subscriber, error) {
	sub, err := s.Preferences(ctx, token)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		sub.Name = trimOptional(in.Name)
	}
	if in.Locale != nil {
		locale, err := normalizeLocale(*in.Locale)
		if err != nil {
			return nil, err
		}
		sub.Locale = locale
	}
	if in.TopicIDs != nil {
		topicIDs, err := s.validateTopics(ctx, *in.TopicIDs)
		if err != nil {
			return nil, err
		}
		sub.TopicIDs = topicIDs
	}

	if err := s.subscribers.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscriber: %w", err)
	}
	return sub, nil
}

// resolveTopics falls back to the default topics when none are given.
func (s *SubscriptionService) resolveTopics(ctx context.Context, topicIDs []string) ([]string, error) {
	if len(topicIDs) > 0 {
		return s.validateTopics(ctx, topicIDs)
	}

	defaults, err := s.topics.ListDefault(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list default topics: %w", err)
	}
	ids := make([]string, 0, len(defaults))
	for _, topic := range defaults {
		ids = append(ids, topic.ID)
	}
	return ids, nil
}

func (s *SubscriptionService) validateTopics(ctx context.Context, topicIDs []string) ([]string, error) {
	unique := make([]string, 0, len(topicIDs))
	for _, id := range topicIDs {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(unique, id) {
			continue
		}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return unique, nil
	}

	count, err := s.topics.CountByIDs(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("failed to check topics: %w", err)
	}
	if int(count) != len(unique) {
		return nil, fmt.Errorf("%w: unknown topic in %v", domain.ErrValidation, unique)
	}
	return unique, nil
}

func (s *SubscriptionService) sendVerification(ctx context.Context, sub *domain.Subscriber) error {
	body := fmt.Sprintf(
		`<p>Halo %s,</p><p>Klik tautan berikut untuk mengonfirmasi langganan Anda:</p><p><a href="%s">Konfirmasi langganan</a></p>`,
		html.EscapeString(sub.DisplayName("Subscriber")),
		html.EscapeString(s.links.VerifyURL(sub.Token)),
	)
	if err := s.mailer.Send(ctx, sub.Email, verificationSubject, body); err != nil {
		s.logger.Error("failed to send verification email",
			zap.String("subscriberId", sub.ID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to send verification email: %w", err)
	}
	return nil
}

func (s *SubscriptionService) welcomeBody(sub *domain.Subscriber) string {
	return fmt.Sprintf(
		`<p>Halo %s,</p><p>Terima kasih telah berlangganan.</p><p><a href="%s">Atur preferensi</a> | <a href="%s">Berhenti berlangganan</a></p>`,
		html.EscapeString(sub.DisplayName("Subscriber")),
		html.EscapeString(s.links.PreferenceURL(sub.Token)),
		html.EscapeString(s.links.UnsubscribeURL(sub.Email)),
	)
}

func normalizeLocale(locale string) (string, error) {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if locale == "" {
		return defaultLocale, nil
	}
	if len(locale) > maxLocaleLength {
		return "", fmt.Errorf("%w: locale %q is too long", domain.ErrValidation, locale)
	}
	return locale, nil
}
