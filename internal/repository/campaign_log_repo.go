package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/newsletter-engine/internal/domain"
	"gorm.io/gorm"
)

type LogListParams struct {
	Status   *domain.LogStatus
	Page     int
	PageSize int
}

type LogSummary struct {
	Status domain.LogStatus `gorm:"column:status"`
	Count  int              `gorm:"column:count"`
}

type CampaignLogRepository interface {
	Create(ctx context.Context, l *domain.CampaignLog) error
	ListByCampaign(ctx context.Context, campaignID string, params LogListParams) ([]domain.CampaignLog, int64, error)
	LoggedSubscriberIDs(ctx context.Context, campaignID string, attempt int) (map[string]struct{}, error)
	CountByStatus(ctx context.Context, campaignID string, attempt int) (domain.LogCounts, error)
}

type GormCampaignLogRepo struct {
	db *gorm.DB
}

func NewGormCampaignLogRepo(db *gorm.DB) *GormCampaignLogRepo {
	return &GormCampaignLogRepo{db: db}
}

// Create appends a log row. A second row for the same recipient and attempt
// returns ErrConflict.
func (r *GormCampaignLogRepo) Create(ctx context.Context, l *domain.CampaignLog) error {
	model := campaignLogModelFromDomain(l)
	err := r.db.WithContext(ctx).Create(model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrConflict
	}
	if err != nil {
		return err
	}
	if l != nil {
		*l = *campaignLogModelToDomain(model)
	}
	return nil
}

func (r *GormCampaignLogRepo) ListByCampaign(ctx context.Context, campaignID string, params LogListParams) ([]domain.CampaignLog, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&CampaignLogModel{}).
		Where("campaign_id = ?", campaignID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(params.Page, params.PageSize)

	var models []CampaignLogModel
	err := query.
		Order("created_at ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	logs := make([]domain.CampaignLog, 0, len(models))
	for i := range models {
		logs = append(logs, *campaignLogModelToDomain(&models[i]))
	}
	return logs, total, nil
}

// LoggedSubscriberIDs returns the subscribers that already have a log row for
// the given dispatch attempt.
func (r *GormCampaignLogRepo) LoggedSubscriberIDs(ctx context.Context, campaignID string, attempt int) (map[string]struct{}, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&CampaignLogModel{}).
		Where("campaign_id = ? AND attempt = ?", campaignID, attempt).
		Pluck("subscriber_id", &ids).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return seen, nil
}

func (r *GormCampaignLogRepo) CountByStatus(ctx context.Context, campaignID string, attempt int) (domain.LogCounts, error) {
	var summaries []LogSummary
	err := r.db.WithContext(ctx).
		Model(&CampaignLogModel{}).
		Select("status, COUNT(*) as count").
		Where("campaign_id = ? AND attempt = ?", campaignID, attempt).
		Group("status").
		Scan(&summaries).Error
	if err != nil {
		return domain.LogCounts{}, err
	}

	var counts domain.LogCounts
	for _, s := range summaries {
		switch s.Status {
		case domain.LogStatusSent:
			counts.Sent = s.Count
		case domain.LogStatusFailed:
			counts.Failed = s.Count
		}
	}
	if counts.Failed == 0 {
		return counts, nil
	}

	var first CampaignLogModel
	err = r.db.WithContext(ctx).
		Where("campaign_id = ? AND attempt = ? AND status = ?", campaignID, attempt, domain.LogStatusFailed).
		Order("created_at ASC").
		Limit(1).
		Find(&first).Error
	if err != nil {
		return domain.LogCounts{}, err
	}
	if first.ErrorMessage != nil {
		counts.FirstError = *first.ErrorMessage
	}
	return counts, nil
}
