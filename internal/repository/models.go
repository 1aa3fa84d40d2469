package repository

import (
	"time"

	"github.com/kursadbilgin/newsletter-engine/internal/domain"
)

// CampaignModel is the persistence model for the campaigns table.
type CampaignModel struct {
	ID              string                `gorm:"type:uuid;primaryKey"`
	Subject         string                `gorm:"type:varchar(255);not null"`
	TemplateID      string                `gorm:"type:uuid;not null"`
	TopicID         *string               `gorm:"type:uuid"`
	PostID          *string               `gorm:"type:uuid"`
	PostType        *domain.PostType      `gorm:"type:varchar(10)"`
	Status          domain.CampaignStatus `gorm:"type:varchar(20);not null"`
	ScheduledAt     *time.Time            `gorm:"type:timestamptz"`
	SentAt          *time.Time            `gorm:"type:timestamptz"`
	TotalRecipients int                   `gorm:"not null;default:0"`
	LastError       *string               `gorm:"type:text"`
	DispatchAttempt int                   `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

// CampaignLogModel is the persistence model for campaign_logs.
type CampaignLogModel struct {
	ID           string           `gorm:"type:uuid;primaryKey"`
	CampaignID   string           `gorm:"type:uuid;not null"`
	SubscriberID string           `gorm:"type:uuid;not null"`
	Attempt      int              `gorm:"not null;default:1"`
	Status       domain.LogStatus `gorm:"type:varchar(10);not null"`
	ErrorMessage *string          `gorm:"type:text"`
	OpenedAt     *time.Time       `gorm:"type:timestamptz"`
	ClickedAt    *time.Time       `gorm:"type:timestamptz"`
	CreatedAt    time.Time
}

func (CampaignLogModel) TableName() string {
	return "campaign_logs"
}

// SubscriberModel is the persistence model for subscribers.
type SubscriberModel struct {
	ID                string     `gorm:"type:uuid;primaryKey"`
	Email             string     `gorm:"type:varchar(255);not null;uniqueIndex"`
	Name              *string    `gorm:"type:varchar(255)"`
	Subscribed        bool       `gorm:"not null;default:false"`
	VerifiedAt        *time.Time `gorm:"type:timestamptz"`
	Token             string     `gorm:"type:varchar(64);not null;uniqueIndex"`
	Locale            string     `gorm:"type:varchar(10);not null;default:'id'"`
	UnsubscribeReason *string    `gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (SubscriberModel) TableName() string {
	return "subscribers"
}

// SubscriberTopicModel is the join row between subscribers and topics.
type SubscriberTopicModel struct {
	SubscriberID string `gorm:"type:uuid;primaryKey"`
	TopicID      string `gorm:"type:uuid;primaryKey"`
	CreatedAt    time.Time
}

func (SubscriberTopicModel) TableName() string {
	return "subscriber_topics"
}

// TemplateModel is the persistence model for newsletter templates.
type TemplateModel struct {
	ID        string         `gorm:"type:uuid;primaryKey"`
	Name      string         `gorm:"type:varchar(255);not null"`
	Content   string         `gorm:"type:text;not null"`
	Meta      map[string]any `gorm:"type:jsonb;serializer:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TemplateModel) TableName() string {
	return "newsletter_templates"
}

// TopicModel is the persistence model for topics.
type TopicModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Name      string `gorm:"type:varchar(255);not null"`
	Slug      string `gorm:"type:varchar(255);not null;uniqueIndex"`
	IsDefault bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TopicModel) TableName() string {
	return "topics"
}

// PostModel is the read model for published blog and news items.
type PostModel struct {
	ID        string            `gorm:"type:uuid;primaryKey"`
	Type      domain.PostType   `gorm:"type:varchar(10);not null"`
	Title     string            `gorm:"type:varchar(255);not null"`
	SubTitle  *string           `gorm:"type:varchar(255)"`
	Excerpt   string            `gorm:"type:text;not null;default:''"`
	Slug      string            `gorm:"type:varchar(255);not null"`
	Status    domain.PostStatus `gorm:"type:varchar(20);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PostModel) TableName() string {
	return "posts"
}

func campaignModelFromDomain(c *domain.Campaign) *CampaignModel {
	if c == nil {
		return nil
	}

	return &CampaignModel{
		ID:              c.ID,
		Subject:         c.Subject,
		TemplateID:      c.TemplateID,
		TopicID:         c.TopicID,
		PostID:          c.PostID,
		PostType:        c.PostType,
		Status:          c.Status,
		ScheduledAt:     c.ScheduledAt,
		SentAt:          c.SentAt,
		TotalRecipients: c.TotalRecipients,
		LastError:       c.LastError,
		DispatchAttempt: c.DispatchAttempt,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func campaignModelToDomain(m *CampaignModel) *domain.Campaign {
	if m == nil {
		return nil
	}

	return &domain.Campaign{
		ID:              m.ID,
		Subject:         m.Subject,
		TemplateID:      m.TemplateID,
		TopicID:         m.TopicID,
		PostID:          m.PostID,
		PostType:        m.PostType,
		Status:          m.Status,
		ScheduledAt:     m.ScheduledAt,
		SentAt:          m.SentAt,
		TotalRecipients: m.TotalRecipients,
		LastError:       m.LastError,
		DispatchAttempt: m.DispatchAttempt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func campaignLogModelFromDomain(l *domain.CampaignLog) *CampaignLogModel {
	if l == nil {
		return nil
	}

	return &CampaignLogModel{
		ID:           l.ID,
		CampaignID:   l.CampaignID,
		SubscriberID: l.SubscriberID,
		Attempt:      l.Attempt,
		Status:       l.Status,
		ErrorMessage: l.ErrorMessage,
		OpenedAt:     l.OpenedAt,
		ClickedAt:    l.ClickedAt,
		CreatedAt:    l.CreatedAt,
	}
}

func campaignLogModelToDomain(m *CampaignLogModel) *domain.CampaignLog {
	if m == nil {
		return nil
	}

	return &domain.CampaignLog{
		ID:           m.ID,
		CampaignID:   m.CampaignID,
		SubscriberID: m.SubscriberID,
		Attempt:      m.Attempt,
		Status:       m.Status,
		ErrorMessage: m.ErrorMessage,
		OpenedAt:     m.OpenedAt,
		ClickedAt:    m.ClickedAt,
		CreatedAt:    m.CreatedAt,
	}
}

func subscriberModelFromDomain(s *domain.Subscriber) *SubscriberModel {
	if s == nil {
		return nil
	}

	return &SubscriberModel{
		ID:                s.ID,
		Email:             s.Email,
		Name:              s.Name,
		Subscribed:        s.Subscribed,
		VerifiedAt:        s.VerifiedAt,
		Token:             s.Token,
		Locale:            s.Locale,
		UnsubscribeReason: s.UnsubscribeReason,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func subscriberModelToDomain(m *SubscriberModel, topicIDs []string) *domain.Subscriber {
	if m == nil {
		return nil
	}

	return &domain.Subscriber{
		ID:                m.ID,
		Email:             m.Email,
		Name:              m.Name,
		Subscribed:        m.Subscribed,
		VerifiedAt:        m.VerifiedAt,
		Token:             m.Token,
		Locale:            m.Locale,
		UnsubscribeReason: m.UnsubscribeReason,
		TopicIDs:          topicIDs,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func templateModelToDomain(m *TemplateModel) *domain.Template {
	if m == nil {
		return nil
	}

	return &domain.Template{
		ID:      m.ID,
		Name:    m.Name,
		Content: m.Content,
		Meta:    m.Meta,
	}
}

func topicModelToDomain(m *TopicModel) *domain.Topic {
	if m == nil {
		return nil
	}

	return &domain.Topic{
		ID:        m.ID,
		Name:      m.Name,
		Slug:      m.Slug,
		IsDefault: m.IsDefault,
	}
}

func postModelFromDomain(p *domain.Post) *PostModel {
	if p == nil {
		return nil
	}

	return &PostModel{
		ID:       p.ID,
		Type:     p.Type,
		Title:    p.Title,
		SubTitle: p.SubTitle,
		Excerpt:  p.Excerpt,
		Slug:     p.Slug,
		Status:   p.Status,
	}
}

func postModelToDomain(m *PostModel) *domain.Post {
	if m == nil {
		return nil
	}

	return &domain.Post{
		ID:       m.ID,
		Type:     m.Type,
		Title:    m.Title,
		SubTitle: m.SubTitle,
		Excerpt:  m.Excerpt,
		Slug:     m.Slug,
		Status:   m.Status,
	}
}
