package database

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/customeros/supportstack/config"
	"github.com/customeros/supportstack/internal/models"
)

func InitDatabase(dbConfig *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := NewConnection(dbConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to the database")
	}
	return db, nil
}

// MigrateDatabase creates or updates every table the service owns.
func MigrateDatabase(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Ticket{},
		&models.Message{},
		&models.Attachment{},
		&models.WebhookConfig{},
		&models.WebhookLog{},
		&models.JobRecord{},
	)
	if err != nil {
		return errors.Wrap(err, "auto migrate")
	}
	return nil
}
