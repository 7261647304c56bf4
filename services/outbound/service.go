package outbound

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/customeros/supportstack/config"
	"github.com/customeros/supportstack/dto"
	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/metrics"
	"github.com/customeros/supportstack/internal/models"
	"github.com/customeros/supportstack/internal/tracing"
	"github.com/customeros/supportstack/internal/utils"
)

const (
	defaultClaimTTL     = 5 * time.Minute
	defaultRequeueAfter = 15 * time.Minute
	requeueBatchSize    = 100
)

var ErrNotOutbound = errors.New("message is not outbound")

type SendResult struct {
	ProviderMessageID string
	// Skipped is set when the message was already delivered or another worker holds it.
	Skipped bool
}

type OutboundService struct {
	messages    interfaces.MessageRepository
	transmitter interfaces.EmailTransmitter
	publisher   interfaces.JobPublisher
	log         logger.Logger
	cfg         *config.EmailConfig
	now         func() time.Time
}

func NewOutboundService(messages interfaces.MessageRepository, transmitter interfaces.EmailTransmitter, publisher interfaces.JobPublisher, log logger.Logger, cfg *config.EmailConfig) *OutboundService {
	return &OutboundService{
		messages:    messages,
		transmitter: transmitter,
		publisher:   publisher,
		log:         log,
		cfg:         cfg,
		now:         utils.Now,
	}
}

// Send delivers one OUTBOUND message. The delivery claim makes duplicate send-email
// jobs for the same message a no-op.
func (s *OutboundService) Send(ctx context.Context, messageID string) (*SendResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "OutboundService.Send")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, messageID)

	message, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "load message %s", messageID)
	}
	if !message.IsOutbound() {
		tracing.TraceErr(span, ErrNotOutbound)
		return nil, errors.Wrapf(ErrNotOutbound, "message %s is %s", messageID, message.Direction)
	}
	if message.DeliveredAt != nil {
		s.log.Info("message already delivered, skipping", zap.String("messageId", messageID))
		metrics.EmailsSent.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return &SendResult{ProviderMessageID: message.ProviderMessageID, Skipped: true}, nil
	}

	claimed, err := s.messages.ClaimDelivery(ctx, messageID, s.now(), s.claimTTL())
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "claim delivery")
	}
	if !claimed {
		s.log.Info("message delivered or claimed by another worker, skipping", zap.String("messageId", messageID))
		metrics.EmailsSent.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return &SendResult{Skipped: true}, nil
	}

	providerID, err := s.transmitter.Send(ctx, s.outboundEmail(message))
	if err != nil {
		tracing.TraceErr(span, err)
		metrics.EmailsSent.WithLabelValues(metrics.OutcomeFailure).Inc()
		if releaseErr := s.messages.ReleaseDeliveryClaim(ctx, messageID); releaseErr != nil {
			s.log.Error("failed to release delivery claim",
				zap.String("messageId", messageID),
				zap.Error(releaseErr))
		}
		return nil, errors.Wrap(err, "transmit email")
	}

	if err := s.messages.MarkDelivered(ctx, messageID, providerID, s.now()); err != nil {
		// the claim stays so retries within the claim TTL do not send again
		tracing.TraceErr(span, err)
		s.log.Error("email sent but delivery state not saved",
			zap.String("messageId", messageID),
			zap.String("providerMessageId", providerID),
			zap.Error(err))
		return nil, errors.Wrap(err, "mark delivered")
	}
	metrics.EmailsSent.WithLabelValues(metrics.OutcomeSuccess).Inc()
	s.log.Info("email sent",
		zap.String("messageId", messageID),
		zap.String("ticketId", message.TicketID),
		zap.String("providerMessageId", providerID))

	_, err = s.publisher.Enqueue(ctx, enum.JobDispatchWebhook, dto.DispatchWebhookJob{
		Event:     enum.WebhookEventEmailSent,
		TicketId:  message.TicketID,
		MessageId: message.ID,
	})
	if err != nil {
		s.log.Error("failed to enqueue email.sent webhook",
			zap.String("messageId", messageID),
			zap.Error(err))
	}

	return &SendResult{ProviderMessageID: providerID}, nil
}

// RequeueUndelivered enqueues send-email again for replies that were never delivered
// nor claimed within the requeue window.
func (s *OutboundService) RequeueUndelivered(ctx context.Context) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "OutboundService.RequeueUndelivered")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	cutoff := s.now().Add(-s.requeueAfter())
	messages, err := s.messages.ListUndeliveredOutbound(ctx, cutoff, requeueBatchSize)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, errors.Wrap(err, "list undelivered messages")
	}

	requeued := 0
	for _, message := range messages {
		_, err := s.publisher.Enqueue(ctx, enum.JobSendEmail, dto.SendEmailJob{MessageId: message.ID})
		if err != nil {
			tracing.TraceErr(span, err)
			return requeued, errors.Wrapf(err, "requeue message %s", message.ID)
		}
		requeued++
	}
	span.SetTag("requeued", requeued)
	if requeued > 0 {
		s.log.Info("requeued undelivered replies", zap.Int("count", requeued))
	}
	return requeued, nil
}

func (s *OutboundService) outboundEmail(message *models.Message) *dto.OutboundEmail {
	return &dto.OutboundEmail{
		To:         message.ToEmail,
		Subject:    message.Subject,
		BodyText:   message.BodyText,
		BodyHTML:   message.BodyHTML,
		From:       message.FromEmail,
		FromName:   message.FromName,
		ReplyTo:    s.cfg.FromAddress,
		MessageID:  message.MessageID,
		InReplyTo:  message.InReplyTo,
		References: message.References,
	}
}

func (s *OutboundService) claimTTL() time.Duration {
	if s.cfg.DeliveryClaimTTL > 0 {
		return s.cfg.DeliveryClaimTTL
	}
	return defaultClaimTTL
}

func (s *OutboundService) requeueAfter() time.Duration {
	if s.cfg.RequeueAfter > 0 {
		return s.cfg.RequeueAfter
	}
	return defaultRequeueAfter
}
