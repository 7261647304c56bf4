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

type ticketRepository struct {
	db *gorm.DB
}

func NewTicketRepository(db *gorm.DB) interfaces.TicketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *models.Ticket) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ticketRepository.Create")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	if ticket == nil {
		tracing.TraceErr(span, ErrInvalidInput)
		return ErrInvalidInput
	}

	err := r.db.WithContext(ctx).Omit(clause.Associations).Create(ticket).Error
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateTicket
		}
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "create ticket")
	}
	tracing.TagEntity(span, ticket.ID)
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*models.Ticket, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ticketRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var ticket models.Ticket
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) GetByEmailMessageID(ctx context.Context, emailMessageID string) (*models.Ticket, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ticketRepository.GetByEmailMessageID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag("message_id", emailMessageID)

	if emailMessageID == "" {
		return nil, nil
	}

	var ticket models.Ticket
	err := r.db.WithContext(ctx).
		Where("email_message_id = ?", emailMessageID).
		First(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) FindByThreadMessageID(ctx context.Context, messageID string) (*models.Ticket, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ticketRepository.FindByThreadMessageID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag("message_id", messageID)

	if messageID == "" {
		return nil, nil
	}

	var ticket models.Ticket
	err := r.db.WithContext(ctx).
		Where("email_message_id = ? OR id IN (SELECT ticket_id FROM messages WHERE message_id = ?)", messageID, messageID).
		Order("created_at ASC").
		First(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) TouchForInbound(ctx context.Context, ticketID string, now time.Time) (*models.Ticket, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ticketRepository.TouchForInbound")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, ticketID)

	var ticket models.Ticket
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockTicket(tx, ticketID, &ticket); err != nil {
			return err
		}
		if ticket.Status == enum.TicketStatusResolved {
			ticket.ApplyStatus(enum.TicketStatusReopened, now)
		}
		ticket.TouchLastMessage(now)
		return saveTicketState(tx, &ticket)
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.SetTag("status", ticket.Status.String())
	return &ticket, nil
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, ticketID string, status enum.TicketStatus, now time.Time) (*models.Ticket, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ticketRepository.UpdateStatus")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, ticketID)
	span.SetTag("status", status.String())

	var ticket models.Ticket
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockTicket(tx, ticketID, &ticket); err != nil {
			return err
		}
		ticket.ApplyStatus(status, now)
		return saveTicketState(tx, &ticket)
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &ticket, nil
}

func lockTicket(tx *gorm.DB, ticketID string, ticket *models.Ticket) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", ticketID).
		First(ticket).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTicketNotFound
	}
	return err
}

// saveTicketState writes the mutable lifecycle columns, including a cleared resolved_at.
func saveTicketState(tx *gorm.DB, ticket *models.Ticket) error {
	return tx.Model(&models.Ticket{}).
		Where("id = ?", ticket.ID).
		Updates(map[string]interface{}{
			"status":          ticket.Status,
			"resolved_at":     ticket.ResolvedAt,
			"last_message_at": ticket.LastMessageAt,
			"updated_at":      ticket.UpdatedAt,
		}).Error
}
