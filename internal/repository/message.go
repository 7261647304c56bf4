package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/models"
	"github.com/customeros/supportstack/internal/tracing"
)

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) interfaces.MessageRepository {
	return &messageRepository{db: db}
}

// CreateWithAttachments stores the message and its attachment rows atomically.
func (r *messageRepository) CreateWithAttachments(ctx context.Context, message *models.Message, attachments []*models.Attachment) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.CreateWithAttachments")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag("attachments", len(attachments))

	if message == nil || message.TicketID == "" {
		tracing.TraceErr(span, ErrInvalidInput)
		return ErrInvalidInput
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(message).Error; err != nil {
			return err
		}
		if len(attachments) == 0 {
			return nil
		}
		for _, attachment := range attachments {
			attachment.MessageID = message.ID
		}
		return tx.Create(&attachments).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateMessage
		}
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "create message")
	}
	tracing.TagEntity(span, message.ID)
	return nil
}

func (r *messageRepository) CreateReply(ctx context.Context, message *models.Message, now time.Time) (*models.Ticket, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.CreateReply")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	if message == nil || message.TicketID == "" {
		tracing.TraceErr(span, ErrInvalidInput)
		return nil, ErrInvalidInput
	}
	tracing.TagEntity(span, message.TicketID)

	var ticket models.Ticket
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockTicket(tx, message.TicketID, &ticket); err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Create(message).Error; err != nil {
			return err
		}
		ticket.ApplyStatus(enum.TicketStatusWaiting, now)
		ticket.TouchLastMessage(now)
		return saveTicketState(tx, &ticket)
	})
	if err != nil {
		if errors.Is(err, ErrTicketNotFound) {
			return nil, err
		}
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "create reply")
	}
	return &ticket, nil
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var message models.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &message, nil
}

func (r *messageRepository) GetByMessageID(ctx context.Context, messageID string) (*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.GetByMessageID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag("message_id", messageID)

	if messageID == "" {
		return nil, nil
	}

	var message models.Message
	err := r.db.WithContext(ctx).Where("message_id = ?", messageID).First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &message, nil
}

func (r *messageRepository) GetLatestForTicket(ctx context.Context, ticketID string) (*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.GetLatestForTicket")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, ticketID)

	var message models.Message
	err := r.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("sent_at DESC").
		Order("created_at DESC").
		First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &message, nil
}

func (r *messageRepository) ClaimDelivery(ctx context.Context, id string, now time.Time, claimTTL time.Duration) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.ClaimDelivery")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND delivered_at IS NULL AND (delivery_claimed_at IS NULL OR delivery_claimed_at < ?)", id, now.Add(-claimTTL)).
		Update("delivery_claimed_at", now)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return false, result.Error
	}
	claimed := result.RowsAffected == 1
	span.SetTag("claimed", claimed)
	return claimed, nil
}

func (r *messageRepository) ReleaseDeliveryClaim(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.ReleaseDeliveryClaim")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND delivered_at IS NULL", id).
		Update("delivery_claimed_at", nil).Error
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (r *messageRepository) MarkDelivered(ctx context.Context, id, providerMessageID string, deliveredAt time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.MarkDelivered")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"delivered_at":        deliveredAt,
			"provider_message_id": providerMessageID,
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (r *messageRepository) ListUndeliveredOutbound(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.ListUndeliveredOutbound")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag("limit", limit)

	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Where("direction = ? AND delivered_at IS NULL AND created_at < ? AND (delivery_claimed_at IS NULL OR delivery_claimed_at < ?)",
			enum.MessageOutbound, createdBefore, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return messages, nil
}
