package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/kursadbilgin/newsletter-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TemplateRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Template, error)
	FindByNamePatterns(ctx context.Context, patterns []string) (*domain.Template, error)
}

type TopicRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Topic, error)
	FindBySlugs(ctx context.Context, slugs []string) (*domain.Topic, error)
	ListDefault(ctx context.Context) ([]domain.Topic, error)
	CountByIDs(ctx context.Context, ids []string) (int64, error)
}

type PostRepository interface {
	FindPost(ctx context.Context, postType domain.PostType, id string) (*domain.Post, error)
	Upsert(ctx context.Context, p *domain.Post) error
}

type GormTemplateRepo struct {
	db *gorm.DB
}

func NewGormTemplateRepo(db *gorm.DB) *GormTemplateRepo {
	return &GormTemplateRepo{db: db}
}

func (r *GormTemplateRepo) GetByID(ctx context.Context, id string) (*domain.Template, error) {
	var model TemplateModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return templateModelToDomain(&model), nil
}

// FindByNamePatterns returns the oldest template whose name contains any of
// the patterns, case-insensitively.
func (r *GormTemplateRepo) FindByNamePatterns(ctx context.Context, patterns []string) (*domain.Template, error) {
	if len(patterns) == 0 {
		return nil, domain.ErrNotFound
	}

	clauses := make([]string, 0, len(patterns))
	args := make([]any, 0, len(patterns))
	for _, p := range patterns {
		clauses = append(clauses, "name ILIKE ?")
		args = append(args, "%"+escapeLike(p)+"%")
	}

	var model TemplateModel
	err := r.db.WithContext(ctx).
		Where(strings.Join(clauses, " OR "), args...).
		Order("created_at ASC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return templateModelToDomain(&model), nil
}

type GormTopicRepo struct {
	db *gorm.DB
}

func NewGormTopicRepo(db *gorm.DB) *GormTopicRepo {
	return &GormTopicRepo{db: db}
}

func (r *GormTopicRepo) GetByID(ctx context.Context, id string) (*domain.Topic, error) {
	var model TopicModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return topicModelToDomain(&model), nil
}

// FindBySlugs returns the first topic matching the slugs in the given order.
func (r *GormTopicRepo) FindBySlugs(ctx context.Context, slugs []string) (*domain.Topic, error) {
	if len(slugs) == 0 {
		return nil, domain.ErrNotFound
	}

	var models []TopicModel
	if err := r.db.WithContext(ctx).Where("slug IN ?", slugs).Find(&models).Error; err != nil {
		return nil, err
	}
	for _, slug := range slugs {
		for i := range models {
			if models[i].Slug == slug {
				return topicModelToDomain(&models[i]), nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

func (r *GormTopicRepo) ListDefault(ctx context.Context) ([]domain.Topic, error) {
	var models []TopicModel
	if err := r.db.WithContext(ctx).Where("is_default = ?", true).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	topics := make([]domain.Topic, 0, len(models))
	for i := range models {
		topics = append(topics, *topicModelToDomain(&models[i]))
	}
	return topics, nil
}

func (r *GormTopicRepo) CountByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&TopicModel{}).Where("id IN ?", ids).Count(&count).Error
	return count, err
}

type GormPostRepo struct {
	db *gorm.DB
}

func NewGormPostRepo(db *gorm.DB) *GormPostRepo {
	return &GormPostRepo{db: db}
}

func (r *GormPostRepo) FindPost(ctx context.Context, postType domain.PostType, id string) (*domain.Post, error) {
	var model PostModel
	err := r.db.WithContext(ctx).First(&model, "id = ? AND type = ?", id, postType).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return postModelToDomain(&model), nil
}

// Upsert stores the read model of a post pushed by the content service.
func (r *GormPostRepo) Upsert(ctx context.Context, p *domain.Post) error {
	model := postModelFromDomain(p)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"type", "title", "sub_title", "excerpt", "slug", "status", "updated_at"}),
		}).
		Create(model).Error
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
