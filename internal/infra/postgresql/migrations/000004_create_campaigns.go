package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/newsletter-engine/internal/repository"
	"gorm.io/gorm"
)

func createCampaignsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_campaigns",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CampaignModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_campaigns_status_created ON campaigns (status, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_campaigns_scheduled_due ON campaigns (scheduled_at) WHERE status = 'scheduled' AND scheduled_at IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_campaigns_sending_updated ON campaigns (updated_at) WHERE status = 'sending'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CampaignModel{})
		},
	}
}
