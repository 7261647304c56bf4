package threading

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/models"
	"github.com/customeros/supportstack/internal/repository"
	"github.com/customeros/supportstack/internal/tracing"
	"github.com/customeros/supportstack/internal/utils"
	"github.com/customeros/supportstack/services/email_parser"
)

const maxCreateAttempts = 3

var ErrTicketCreateConflict = errors.New("ticket creation kept conflicting")

type Resolution struct {
	Ticket  *models.Ticket
	Created bool
}

type ThreadResolver struct {
	tickets interfaces.TicketRepository
	log     logger.Logger
	now     func() time.Time
}

func NewThreadResolver(tickets interfaces.TicketRepository, log logger.Logger) *ThreadResolver {
	return &ThreadResolver{
		tickets: tickets,
		log:     log,
		now:     utils.Now,
	}
}

// Resolve attaches the email to the ticket its In-Reply-To points at, or opens a new ticket.
func (r *ThreadResolver) Resolve(ctx context.Context, parsed *email_parser.ParsedEmail) (*Resolution, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ThreadResolver.Resolve")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("message_id", parsed.MessageID)
	span.SetTag("in_reply_to", parsed.InReplyTo)

	now := r.now()

	if parsed.InReplyTo != "" {
		ticket, err := r.tickets.FindByThreadMessageID(ctx, parsed.InReplyTo)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, errors.Wrap(err, "find ticket by in-reply-to")
		}
		if ticket != nil {
			resolution, err := r.attach(ctx, ticket, now)
			if err != nil {
				tracing.TraceErr(span, err)
				return nil, err
			}
			tracing.TagEntity(span, resolution.Ticket.ID)
			return resolution, nil
		}
		r.log.Info("in-reply-to did not match a ticket, opening a new one",
			zap.String("inReplyTo", parsed.InReplyTo),
			zap.String("messageId", parsed.MessageID))
	}

	resolution, err := r.create(ctx, parsed, now)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	tracing.TagEntity(span, resolution.Ticket.ID)
	span.SetTag("created", resolution.Created)
	return resolution, nil
}

func (r *ThreadResolver) attach(ctx context.Context, ticket *models.Ticket, now time.Time) (*Resolution, error) {
	touched, err := r.tickets.TouchForInbound(ctx, ticket.ID, now)
	if err != nil {
		return nil, errors.Wrapf(err, "touch ticket %s", ticket.ID)
	}
	if ticket.Status == enum.TicketStatusResolved {
		r.log.Info("ticket reopened by customer reply", zap.String("ticketId", ticket.ID))
	}
	return &Resolution{Ticket: touched, Created: false}, nil
}

// create inserts a NEW ticket. The only unique key is the originating message-id, so a
// conflict means this same email is being ingested concurrently (an SNS redelivery); that
// ticket is re-read and returned.
func (r *ThreadResolver) create(ctx context.Context, parsed *email_parser.ParsedEmail, now time.Time) (*Resolution, error) {
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		ticket := newTicket(parsed, now)
		err := r.tickets.Create(ctx, ticket)
		if err == nil {
			r.log.Info("ticket created",
				zap.String("ticketId", ticket.ID),
				zap.String("customerEmail", ticket.CustomerEmail))
			return &Resolution{Ticket: ticket, Created: true}, nil
		}
		if !errors.Is(err, repository.ErrDuplicateTicket) {
			return nil, errors.Wrap(err, "create ticket")
		}

		existing, err := r.tickets.GetByEmailMessageID(ctx, parsed.MessageID)
		if err != nil {
			return nil, errors.Wrap(err, "re-read conflicting ticket")
		}
		if existing != nil {
			r.log.Info("concurrent ingestion of the same email resolved to existing ticket",
				zap.String("ticketId", existing.ID),
				zap.Int("attempt", attempt))
			resolution, err := r.attach(ctx, existing, now)
			if err != nil {
				return nil, err
			}
			// the ticket was opened by this email, so it still counts as new
			resolution.Created = true
			return resolution, nil
		}
	}
	return nil, ErrTicketCreateConflict
}

func newTicket(parsed *email_parser.ParsedEmail, now time.Time) *models.Ticket {
	references := parsed.References
	if references == nil {
		references = []string{}
	}
	return &models.Ticket{
		CustomerEmail:   parsed.From.Address,
		CustomerName:    email_parser.CustomerName(parsed.From.Address, parsed.From.Name),
		Subject:         parsed.Subject,
		Status:          enum.TicketStatusNew,
		Priority:        enum.TicketPriorityMedium,
		Tags:            pq.StringArray{},
		EmailMessageID:  parsed.MessageID,
		EmailReferences: pq.StringArray(references),
		LastMessageAt:   now,
	}
}
