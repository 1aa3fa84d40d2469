package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/newsletter-engine/internal/domain"
	"gorm.io/gorm"
)

type CampaignListParams struct {
	Status   *domain.CampaignStatus
	Page     int
	PageSize int
}

type CampaignRepository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, params CampaignListParams) ([]domain.Campaign, int64, error)
	Schedule(ctx context.Context, id string, at time.Time) (*domain.Campaign, error)
	MarkSending(ctx context.Context, id string) (*domain.Campaign, error)
	SetTotalRecipients(ctx context.Context, id string, total int) error
	Finalize(ctx context.Context, id string, outcome domain.Outcome, sentAt *time.Time) error
	GetDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)
	ListStalled(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Campaign, error)
}

type GormCampaignRepo struct {
	db *gorm.DB
}

func NewGormCampaignRepo(db *gorm.DB) *GormCampaignRepo {
	return &GormCampaignRepo{db: db}
}

func (r *GormCampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	model := campaignModelFromDomain(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if c != nil {
		*c = *campaignModelToDomain(model)
	}
	return nil
}

func (r *GormCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var model CampaignModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return campaignModelToDomain(&model), nil
}

func (r *GormCampaignRepo) List(ctx context.Context, params CampaignListParams) ([]domain.Campaign, int64, error) {
	query := r.db.WithContext(ctx).Model(&CampaignModel{})
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(params.Page, params.PageSize)

	var models []CampaignModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	campaigns := make([]domain.Campaign, 0, len(models))
	for i := range models {
		campaigns = append(campaigns, *campaignModelToDomain(&models[i]))
	}

	return campaigns, total, nil
}

// Schedule sets scheduled_at and moves the campaign to scheduled unless it
// is being sent or was already sent.
func (r *GormCampaignRepo) Schedule(ctx context.Context, id string, at time.Time) (*domain.Campaign, error) {
	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND status NOT IN ?", id, []domain.CampaignStatus{domain.CampaignStatusSending, domain.CampaignStatusSent}).
		Updates(map[string]any{
			"status":       domain.CampaignStatusScheduled,
			"scheduled_at": at,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if guardErr := current.Status.SendNowError(); guardErr != nil {
			return nil, guardErr
		}
		return nil, domain.ErrConflict
	}
	return r.GetByID(ctx, id)
}

// MarkSending is the compare-and-set entry into a dispatch run. Exactly one
// concurrent caller wins; the others get ErrAlreadySending or ErrAlreadySent.
func (r *GormCampaignRepo) MarkSending(ctx context.Context, id string) (*domain.Campaign, error) {
	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND status NOT IN ?", id, []domain.CampaignStatus{domain.CampaignStatusSending, domain.CampaignStatusSent}).
		Updates(map[string]any{
			"status":           domain.CampaignStatusSending,
			"dispatch_attempt": gorm.Expr("dispatch_attempt + 1"),
			"last_error":       nil,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if guardErr := current.Status.SendNowError(); guardErr != nil {
			return nil, guardErr
		}
		return nil, domain.ErrConflict
	}
	return r.GetByID(ctx, id)
}

func (r *GormCampaignRepo) SetTotalRecipients(ctx context.Context, id string, total int) error {
	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ?", id).
		Update("total_recipients", total)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Finalize writes the terminal status of the current dispatch run. Only a
// campaign still in sending is updated; sent_at is left alone when sentAt is
// nil.
func (r *GormCampaignRepo) Finalize(ctx context.Context, id string, outcome domain.Outcome, sentAt *time.Time) error {
	updates := map[string]any{
		"status":     outcome.Status,
		"last_error": outcome.LastError,
	}
	if sentAt != nil {
		updates["sent_at"] = *sentAt
	}

	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND status = ?", id, domain.CampaignStatusSending).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormCampaignRepo) GetDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	var models []CampaignModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", domain.CampaignStatusScheduled, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return campaignModelsToDomain(models), nil
}

func (r *GormCampaignRepo) ListStalled(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Campaign, error) {
	var models []CampaignModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", domain.CampaignStatusSending, updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return campaignModelsToDomain(models), nil
}

func campaignModelsToDomain(models []CampaignModel) []domain.Campaign {
	campaigns := make([]domain.Campaign, 0, len(models))
	for i := range models {
		campaigns = append(campaigns, *campaignModelToDomain(&models[i]))
	}
	return campaigns
}

func normalizePage(page, pageSize int) (int, int) {
	page = max(page, 1)
	if pageSize < 1 {
		pageSize = 50
	}
	return page, min(pageSize, 100)
}
