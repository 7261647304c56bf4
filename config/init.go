package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	cronconf "github.com/customeros/supportstack/internal/cron/config"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/tracing"
)

type Config struct {
	AppConfig        *AppConfig
	Logger           *logger.Config
	Tracing          *tracing.JaegerConfig
	DatabaseConfig   *DatabaseConfig
	StorageConfig    *StorageConfig
	SESConfig        *SESConfig
	EmailConfig      *EmailConfig
	AttachmentConfig *AttachmentConfig
	QueueConfig      *QueueConfig
	CronConfig       *cronconf.Config
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:        &AppConfig{},
		Logger:           &logger.Config{},
		Tracing:          &tracing.JaegerConfig{},
		DatabaseConfig:   &DatabaseConfig{},
		StorageConfig:    &StorageConfig{},
		SESConfig:        &SESConfig{},
		EmailConfig:      &EmailConfig{},
		AttachmentConfig: &AttachmentConfig{},
		QueueConfig:      &QueueConfig{},
		CronConfig:       &cronconf.Config{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading supportstack config: %v", err)
	}

	return config, nil
}
