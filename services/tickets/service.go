package tickets

import (
	"context"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/customeros/supportstack/config"
	"github.com/customeros/supportstack/dto"
	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/models"
	"github.com/customeros/supportstack/internal/tracing"
	"github.com/customeros/supportstack/internal/utils"
)

var (
	ErrEmptyReplyBody = errors.New("body_text is required")
	ErrInvalidStatus  = errors.New("invalid ticket status")
	// ErrReplyNotQueued means the reply was stored but send-email could not be enqueued.
	ErrReplyNotQueued = errors.New("reply stored but not queued for delivery")
)

type TicketService struct {
	tickets   interfaces.TicketRepository
	messages  interfaces.MessageRepository
	publisher interfaces.JobPublisher
	log       logger.Logger
	cfg       *config.EmailConfig
	now       func() time.Time
}

func NewTicketService(tickets interfaces.TicketRepository, messages interfaces.MessageRepository, publisher interfaces.JobPublisher, log logger.Logger, cfg *config.EmailConfig) *TicketService {
	return &TicketService{
		tickets:   tickets,
		messages:  messages,
		publisher: publisher,
		log:       log,
		cfg:       cfg,
		now:       utils.Now,
	}
}

// Reply stores an agent reply as an undelivered OUTBOUND message, moves the ticket to
// WAITING and enqueues its delivery.
func (s *TicketService) Reply(ctx context.Context, ticketID string, request *dto.ReplyRequest) (*models.Message, *models.Ticket, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "TicketService.Reply")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, ticketID)

	if request == nil || strings.TrimSpace(request.BodyText) == "" {
		tracing.TraceErr(span, ErrEmptyReplyBody)
		return nil, nil, ErrEmptyReplyBody
	}

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, err
	}
	latest, err := s.messages.GetLatestForTicket(ctx, ticket.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, errors.Wrap(err, "load latest message")
	}

	now := s.now()
	message := s.buildReply(ctx, ticket, latest, request, now)
	updated, err := s.messages.CreateReply(ctx, message, now)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, errors.Wrap(err, "store reply")
	}
	span.SetTag("message.id", message.ID)

	_, err = s.publisher.Enqueue(ctx, enum.JobSendEmail, dto.SendEmailJob{MessageId: message.ID})
	if err != nil {
		tracing.TraceErr(span, err)
		s.log.Error("failed to enqueue send-email",
			zap.String("ticketId", ticket.ID),
			zap.String("messageId", message.ID),
			zap.Error(err))
		return message, updated, errors.Wrap(ErrReplyNotQueued, err.Error())
	}

	s.log.Info("reply queued",
		zap.String("ticketId", ticket.ID),
		zap.String("messageId", message.ID))
	return message, updated, nil
}

func (s *TicketService) buildReply(ctx context.Context, ticket *models.Ticket, latest *models.Message, request *dto.ReplyRequest, now time.Time) *models.Message {
	fromName := utils.GetUserNameFromContext(ctx)
	if fromName == "" {
		fromName = s.cfg.FromName
	}

	inReplyTo := ticket.EmailMessageID
	if latest != nil && latest.MessageID != "" {
		inReplyTo = latest.MessageID
	}

	return &models.Message{
		TicketID:   ticket.ID,
		Direction:  enum.MessageOutbound,
		FromEmail:  s.cfg.FromAddress,
		FromName:   fromName,
		ToEmail:    ticket.CustomerEmail,
		Subject:    ReplySubject(ticket.Subject),
		BodyText:   request.BodyText,
		BodyHTML:   request.BodyHTML,
		MessageID:  utils.GenerateMessageID(s.cfg.Domain, ticket.ID),
		InReplyTo:  inReplyTo,
		References: replyReferences(ticket.EmailReferences, inReplyTo),
		SentAt:     now,
	}
}

func (s *TicketService) UpdateStatus(ctx context.Context, ticketID string, status enum.TicketStatus) (*models.Ticket, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "TicketService.UpdateStatus")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, ticketID)
	span.SetTag("status", status.String())

	if !status.IsValid() {
		tracing.TraceErr(span, ErrInvalidStatus)
		return nil, errors.Wrapf(ErrInvalidStatus, "%q", status)
	}

	ticket, err := s.tickets.UpdateStatus(ctx, ticketID, status, s.now())
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	s.log.Info("ticket status updated",
		zap.String("ticketId", ticketID),
		zap.String("status", status.String()))
	return ticket, nil
}

// ReplySubject strips any Re:/Fwd: chain and prefixes a single "Re: ".
func ReplySubject(subject string) string {
	return "Re: " + utils.NormalizeEmailSubject(subject)
}

func replyReferences(references []string, inReplyTo string) pq.StringArray {
	result := make(pq.StringArray, 0, len(references)+1)
	result = append(result, references...)
	if inReplyTo != "" && !utils.IsStringInSlice(inReplyTo, result) {
		result = append(result, inReplyTo)
	}
	return result
}
