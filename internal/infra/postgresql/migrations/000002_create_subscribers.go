package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/newsletter-engine/internal/repository"
	"gorm.io/gorm"
)

func createSubscribersTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_subscribers",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SubscriberModel{}, &repository.SubscriberTopicModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_subscribers_eligible ON subscribers (created_at) WHERE subscribed AND verified_at IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_subscriber_topics_topic ON subscriber_topics (topic_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SubscriberTopicModel{}, &repository.SubscriberModel{})
		},
	}
}
