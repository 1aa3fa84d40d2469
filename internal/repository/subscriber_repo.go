package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/newsletter-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubscriberRepository interface {
	Create(ctx context.Context, s *domain.Subscriber) error
	Update(ctx context.Context, s *domain.Subscriber) error
	GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error)
	GetByToken(ctx context.Context, token string) (*domain.Subscriber, error)
	MarkVerified(ctx context.Context, id string, at time.Time) error
	Unsubscribe(ctx context.Context, email string, reason *string) error
	ListEligible(ctx context.Context, topicID *string) ([]domain.Subscriber, error)
}

type GormSubscriberRepo struct {
	db *gorm.DB
}

func NewGormSubscriberRepo(db *gorm.DB) *GormSubscriberRepo {
	return &GormSubscriberRepo{db: db}
}

func (r *GormSubscriberRepo) Create(ctx context.Context, s *domain.Subscriber) error {
	model := subscriberModelFromDomain(s)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		return replaceTopics(tx, model.ID, s.TopicIDs)
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrConflict
	}
	if err != nil {
		return err
	}
	*s = *subscriberModelToDomain(model, s.TopicIDs)
	return nil
}

// Update saves every mutable column and replaces the topic memberships.
func (r *GormSubscriberRepo) Update(ctx context.Context, s *domain.Subscriber) error {
	model := subscriberModelFromDomain(s)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&SubscriberModel{}).
			Where("id = ?", model.ID).
			Updates(map[string]any{
				"name":               model.Name,
				"subscribed":         model.Subscribed,
				"verified_at":        model.VerifiedAt,
				"token":              model.Token,
				"locale":             model.Locale,
				"unsubscribe_reason": model.UnsubscribeReason,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return replaceTopics(tx, model.ID, s.TopicIDs)
	})
}

func (r *GormSubscriberRepo) GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	return r.getBy(ctx, "email = ?", email)
}

func (r *GormSubscriberRepo) GetByToken(ctx context.Context, token string) (*domain.Subscriber, error) {
	return r.getBy(ctx, "token = ?", token)
}

func (r *GormSubscriberRepo) getBy(ctx context.Context, query string, arg any) (*domain.Subscriber, error) {
	var model SubscriberModel
	err := r.db.WithContext(ctx).Where(query, arg).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var topicIDs []string
	err = r.db.WithContext(ctx).
		Model(&SubscriberTopicModel{}).
		Where("subscriber_id = ?", model.ID).
		Order("topic_id").
		Pluck("topic_id", &topicIDs).Error
	if err != nil {
		return nil, err
	}

	return subscriberModelToDomain(&model, topicIDs), nil
}

// MarkVerified redeems the verification token once. A second redemption
// returns ErrAlreadyVerified.
func (r *GormSubscriberRepo) MarkVerified(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&SubscriberModel{}).
		Where("id = ? AND verified_at IS NULL", id).
		Updates(map[string]any{
			"verified_at": at,
			"subscribed":  true,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrAlreadyVerified
	}
	return nil
}

func (r *GormSubscriberRepo) Unsubscribe(ctx context.Context, email string, reason *string) error {
	result := r.db.WithContext(ctx).
		Model(&SubscriberModel{}).
		Where("email = ?", email).
		Updates(map[string]any{
			"subscribed":         false,
			"unsubscribe_reason": reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListEligible returns subscribed, verified subscribers in insertion order,
// restricted to members of topicID when it is set.
func (r *GormSubscriberRepo) ListEligible(ctx context.Context, topicID *string) ([]domain.Subscriber, error) {
	query := r.db.WithContext(ctx).
		Model(&SubscriberModel{}).
		Where("subscribers.subscribed = ? AND subscribers.verified_at IS NOT NULL", true)
	if topicID != nil {
		query = query.
			Joins("JOIN subscriber_topics st ON st.subscriber_id = subscribers.id").
			Where("st.topic_id = ?", *topicID)
	}

	var models []SubscriberModel
	if err := query.Order("subscribers.created_at ASC, subscribers.id ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	subscribers := make([]domain.Subscriber, 0, len(models))
	for i := range models {
		var topics []string
		if topicID != nil {
			topics = []string{*topicID}
		}
		subscribers = append(subscribers, *subscriberModelToDomain(&models[i], topics))
	}
	return subscribers, nil
}

func replaceTopics(tx *gorm.DB, subscriberID string, topicIDs []string) error {
	if err := tx.Where("subscriber_id = ?", subscriberID).Delete(&SubscriberTopicModel{}).Error; err != nil {
		return err
	}
	if len(topicIDs) == 0 {
		return nil
	}

	rows := make([]SubscriberTopicModel, 0, len(topicIDs))
	for _, id := range topicIDs {
		rows = append(rows, SubscriberTopicModel{SubscriberID: subscriberID, TopicID: id})
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}
