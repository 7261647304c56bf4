package ingestion

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/lib/pq"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/customeros/supportstack/dto"
	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/metrics"
	"github.com/customeros/supportstack/internal/models"
	"github.com/customeros/supportstack/internal/repository"
	"github.com/customeros/supportstack/internal/tracing"
	"github.com/customeros/supportstack/internal/utils"
	"github.com/customeros/supportstack/services/email_parser"
	"github.com/customeros/supportstack/services/threading"
)

var (
	ErrInvalidEnvelope           = errors.New("invalid notification envelope")
	ErrMalformedEmail            = errors.New("malformed email content")
	ErrSubscriptionConfirmFailed = errors.New("subscription confirmation failed")
)

type threadResolver interface {
	Resolve(ctx context.Context, parsed *email_parser.ParsedEmail) (*threading.Resolution, error)
}

type attachmentStore interface {
	StoreAll(ctx context.Context, parsed []email_parser.ParsedAttachment) []*models.Attachment
}

type IngestionService struct {
	resolver    threadResolver
	attachments attachmentStore
	messages    interfaces.MessageRepository
	publisher   interfaces.JobPublisher
	dedup       interfaces.DedupStore
	log         logger.Logger
	httpClient  *http.Client
	domain      string
	now         func() time.Time
}

func NewIngestionService(
	resolver threadResolver,
	attachments attachmentStore,
	messages interfaces.MessageRepository,
	publisher interfaces.JobPublisher,
	dedup interfaces.DedupStore,
	log logger.Logger,
	domain string,
) *IngestionService {
	return &IngestionService{
		resolver:    resolver,
		attachments: attachments,
		messages:    messages,
		publisher:   publisher,
		dedup:       dedup,
		log:         log,
		httpClient:  http.DefaultClient,
		domain:      domain,
		now:         utils.Now,
	}
}

// Ingest handles one SNS push. On a Notification that failed after its content was read, the
// returned result carries RawContent so the caller can hand the mail to the queue.
func (s *IngestionService) Ingest(ctx context.Context, notification *dto.SNSNotification) (*dto.IngestResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IngestionService.Ingest")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if err := validateEnvelope(notification); err != nil {
		tracing.TraceErr(span, err)
		metrics.InboundEmails.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, err
	}
	span.SetTag("sns.type", notification.Type)
	span.SetTag("sns.message_id", notification.MessageId)

	switch notification.Type {
	case dto.SNSTypeSubscriptionConfirmation:
		if err := s.confirmSubscription(ctx, notification.SubscribeURL); err != nil {
			tracing.TraceErr(span, err)
			s.log.Error("failed to confirm sns subscription",
				zap.String("topicArn", notification.TopicArn),
				zap.Error(err))
			return nil, err
		}
		s.log.Info("sns subscription confirmed", zap.String("topicArn", notification.TopicArn))
		return &dto.IngestResult{Confirmed: true}, nil
	case dto.SNSTypeUnsubscribeConfirmation:
		s.log.Info("sns unsubscribe confirmation received", zap.String("topicArn", notification.TopicArn))
		return &dto.IngestResult{}, nil
	}

	content, err := s.readContent(notification.Message)
	if err != nil {
		tracing.TraceErr(span, err)
		metrics.InboundEmails.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, err
	}

	firstSeen, err := s.dedup.MarkSeen(ctx, notification.MessageId)
	if err != nil {
		s.log.Warn("dedup store unavailable, processing anyway",
			zap.String("snsMessageId", notification.MessageId),
			zap.Error(err))
		firstSeen = true
	}
	if !firstSeen {
		s.log.Info("duplicate sns delivery skipped", zap.String("snsMessageId", notification.MessageId))
		metrics.InboundEmails.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		return &dto.IngestResult{Duplicate: true}, nil
	}

	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		s.forget(ctx, notification.MessageId)
		err = errors.Wrapf(ErrMalformedEmail, "base64 content: %v", err)
		tracing.TraceErr(span, err)
		metrics.InboundEmails.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, err
	}

	result, err := s.ingest(ctx, notification.MessageId, raw)
	if err != nil {
		s.forget(ctx, notification.MessageId)
		tracing.TraceErr(span, err)
		metrics.InboundEmails.WithLabelValues(metrics.OutcomeFailure).Inc()
		if errors.Is(err, ErrMalformedEmail) {
			return nil, err
		}
		return &dto.IngestResult{RawContent: content}, err
	}
	return result, nil
}

// IngestRaw runs the notification pipeline on already decoded MIME bytes.
func (s *IngestionService) IngestRaw(ctx context.Context, snsMessageID string, raw []byte) (*dto.IngestResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IngestionService.IngestRaw")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("sns.message_id", snsMessageID)

	result, err := s.ingest(ctx, snsMessageID, raw)
	if err != nil {
		tracing.TraceErr(span, err)
		metrics.InboundEmails.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, err
	}
	return result, nil
}

func (s *IngestionService) Requeue(ctx context.Context, snsMessageID, rawContent string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IngestionService.Requeue")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("sns.message_id", snsMessageID)

	jobID, err := s.publisher.Enqueue(ctx, enum.JobProcessInbound, dto.ProcessInboundJob{
		SNSMessageId: snsMessageID,
		RawEmail:     rawContent,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "enqueue process-inbound")
	}
	metrics.InboundEmails.WithLabelValues(metrics.OutcomeQueued).Inc()
	s.log.Info("inbound email queued for reprocessing",
		zap.String("snsMessageId", snsMessageID),
		zap.String("jobId", jobID))
	return nil
}

func (s *IngestionService) ingest(ctx context.Context, snsMessageID string, raw []byte) (*dto.IngestResult, error) {
	parsed, err := email_parser.Decode(raw)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedEmail, "%v", err)
	}
	if parsed.MessageID == "" {
		parsed.MessageID = utils.GenerateMessageID(s.domain, snsMessageID)
		s.log.Warn("inbound email has no message-id, generated one",
			zap.String("snsMessageId", snsMessageID),
			zap.String("messageId", parsed.MessageID))
	}

	existing, err := s.messages.GetByMessageID(ctx, parsed.MessageID)
	if err != nil {
		return nil, errors.Wrap(err, "check existing message")
	}
	if existing != nil {
		return s.duplicateResult(existing), nil
	}

	resolution, err := s.resolver.Resolve(ctx, parsed)
	if err != nil {
		return nil, errors.Wrap(err, "resolve thread")
	}
	ticket := resolution.Ticket

	// uploads happen before the write so a failed write never references missing objects
	attachments := s.attachments.StoreAll(ctx, parsed.Attachments)

	message := buildInboundMessage(ticket.ID, parsed, attachments, s.now())
	if err := s.messages.CreateWithAttachments(ctx, message, attachments); err != nil {
		if errors.Is(err, repository.ErrDuplicateMessage) {
			existing, getErr := s.messages.GetByMessageID(ctx, parsed.MessageID)
			if getErr == nil && existing != nil {
				return s.duplicateResult(existing), nil
			}
		}
		return nil, errors.Wrap(err, "persist message")
	}

	event := enum.WebhookEventEmailReceived
	if resolution.Created {
		event = enum.WebhookEventTicketCreated
	}
	s.enqueueWebhook(ctx, event, ticket.ID, message.ID)

	metrics.InboundEmails.WithLabelValues(metrics.OutcomeSuccess).Inc()
	s.log.Info("inbound email ingested",
		zap.String("ticketId", ticket.ID),
		zap.String("messageId", message.ID),
		zap.Bool("ticketCreated", resolution.Created),
		zap.Int("attachments", len(attachments)))

	return &dto.IngestResult{
		TicketID:  ticket.ID,
		MessageID: message.ID,
		Created:   resolution.Created,
	}, nil
}

func (s *IngestionService) duplicateResult(existing *models.Message) *dto.IngestResult {
	s.log.Info("inbound email already stored",
		zap.String("messageId", existing.ID),
		zap.String("emailMessageId", existing.MessageID))
	metrics.InboundEmails.WithLabelValues(metrics.OutcomeDuplicate).Inc()
	return &dto.IngestResult{
		TicketID:  existing.TicketID,
		MessageID: existing.ID,
		Duplicate: true,
	}
}

// enqueueWebhook is best effort; the message is already committed.
func (s *IngestionService) enqueueWebhook(ctx context.Context, event enum.WebhookEvent, ticketID, messageID string) {
	_, err := s.publisher.Enqueue(ctx, enum.JobDispatchWebhook, dto.DispatchWebhookJob{
		Event:     event,
		TicketId:  ticketID,
		MessageId: messageID,
	})
	if err != nil {
		s.log.Error("failed to enqueue webhook dispatch",
			zap.String("event", event.String()),
			zap.String("ticketId", ticketID),
			zap.String("messageId", messageID),
			zap.Error(err))
	}
}

func (s *IngestionService) readContent(message string) (string, error) {
	var sesMessage dto.SESMessage
	if err := json.Unmarshal([]byte(message), &sesMessage); err != nil {
		return "", errors.Wrapf(ErrMalformedEmail, "ses message: %v", err)
	}
	if sesMessage.Content == "" {
		return "", errors.Wrap(ErrMalformedEmail, "ses message has no content")
	}

	receipt := sesMessage.Receipt
	s.log.Debug("ses receipt verdicts",
		zap.String("sesMessageId", sesMessage.Mail.MessageId),
		zap.Strings("recipients", receipt.Recipients),
		zap.String("spam", receipt.SpamVerdict.Status),
		zap.String("virus", receipt.VirusVerdict.Status),
		zap.String("spf", receipt.SPFVerdict.Status),
		zap.String("dkim", receipt.DKIMVerdict.Status),
		zap.String("dmarc", receipt.DMARCVerdict.Status))

	return sesMessage.Content, nil
}

func (s *IngestionService) confirmSubscription(ctx context.Context, subscribeURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		return errors.Wrapf(ErrSubscriptionConfirmFailed, "build request: %v", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(ErrSubscriptionConfirmFailed, "%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(ErrSubscriptionConfirmFailed, "status %d", resp.StatusCode)
	}
	return nil
}

func (s *IngestionService) forget(ctx context.Context, snsMessageID string) {
	if err := s.dedup.Forget(ctx, snsMessageID); err != nil {
		s.log.Warn("failed to clear dedup marker",
			zap.String("snsMessageId", snsMessageID),
			zap.Error(err))
	}
}

func validateEnvelope(notification *dto.SNSNotification) error {
	if notification == nil {
		return errors.Wrap(ErrInvalidEnvelope, "empty body")
	}
	switch {
	case notification.Type == "":
		return errors.Wrap(ErrInvalidEnvelope, "missing Type")
	case notification.MessageId == "":
		return errors.Wrap(ErrInvalidEnvelope, "missing MessageId")
	case notification.SignatureVersion == "":
		return errors.Wrap(ErrInvalidEnvelope, "missing SignatureVersion")
	case notification.Signature == "":
		return errors.Wrap(ErrInvalidEnvelope, "missing Signature")
	}

	switch notification.Type {
	case dto.SNSTypeSubscriptionConfirmation:
		if notification.SubscribeURL == "" {
			return errors.Wrap(ErrInvalidEnvelope, "missing SubscribeURL")
		}
	case dto.SNSTypeNotification:
		if notification.Message == "" {
			return errors.Wrap(ErrInvalidEnvelope, "missing Message")
		}
	case dto.SNSTypeUnsubscribeConfirmation:
	default:
		return errors.Wrapf(ErrInvalidEnvelope, "unknown Type %q", notification.Type)
	}
	return nil
}

func buildInboundMessage(ticketID string, parsed *email_parser.ParsedEmail, attachments []*models.Attachment, now time.Time) *models.Message {
	toEmail := ""
	if len(parsed.To) > 0 {
		toEmail = parsed.To[0].Address
	}
	references := parsed.References
	if references == nil {
		references = []string{}
	}

	return &models.Message{
		TicketID:        ticketID,
		Direction:       enum.MessageInbound,
		FromEmail:       parsed.From.Address,
		FromName:        parsed.From.Name,
		ToEmail:         toEmail,
		Subject:         parsed.Subject,
		BodyText:        parsed.Text,
		BodyHTML:        parsed.HTML,
		StrippedText:    email_parser.StripSignature(parsed.Text),
		MessageID:       parsed.MessageID,
		InReplyTo:       parsed.InReplyTo,
		References:      pq.StringArray(references),
		HasAttachments:  len(attachments) > 0,
		AttachmentCount: len(attachments),
		SentAt:          parsed.Date,
		DeliveredAt:     &now,
	}
}
