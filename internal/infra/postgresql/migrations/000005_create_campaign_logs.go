package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/newsletter-engine/internal/repository"
	"gorm.io/gorm"
)

func createCampaignLogsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_campaign_logs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CampaignLogModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_campaign_logs_campaign_attempt ON campaign_logs (campaign_id, attempt, status)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_campaign_logs_recipient ON campaign_logs (campaign_id, attempt, subscriber_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CampaignLogModel{})
		},
	}
}
