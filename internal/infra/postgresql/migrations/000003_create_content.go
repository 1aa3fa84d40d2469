package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/newsletter-engine/internal/repository"
	"gorm.io/gorm"
)

func createContentTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_content",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.TemplateModel{}, &repository.PostModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_posts_type ON posts (type, id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PostModel{}, &repository.TemplateModel{})
		},
	}
}
