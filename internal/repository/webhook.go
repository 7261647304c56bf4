package repository

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/models"
	"github.com/customeros/supportstack/internal/tracing"
)

type webhookConfigRepository struct {
	db *gorm.DB
}

func NewWebhookConfigRepository(db *gorm.DB) interfaces.WebhookConfigRepository {
	return &webhookConfigRepository{db: db}
}

func (r *webhookConfigRepository) ListActiveForEvent(ctx context.Context, event enum.WebhookEvent) ([]*models.WebhookConfig, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "webhookConfigRepository.ListActiveForEvent")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag("event", event.String())

	var configs []*models.WebhookConfig
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND ? = ANY(events)", true, event.String()).
		Order("created_at ASC").
		Find(&configs).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return configs, nil
}

type webhookLogRepository struct {
	db *gorm.DB
}

func NewWebhookLogRepository(db *gorm.DB) interfaces.WebhookLogRepository {
	return &webhookLogRepository{db: db}
}

func (r *webhookLogRepository) Create(ctx context.Context, log *models.WebhookLog) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "webhookLogRepository.Create")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag("webhook_config_id", log.WebhookConfigID)

	err := r.db.WithContext(ctx).Create(log).Error
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}
