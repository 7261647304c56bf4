package listeners

import (
	"context"
	"encoding/base64"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/customeros/supportstack/dto"
	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/tracing"
	"github.com/customeros/supportstack/services/events"
	"github.com/customeros/supportstack/services/ingestion"
)

// ProcessInboundListener re-runs ingestion for mail the webhook endpoint read but
// could not persist.
type ProcessInboundListener struct {
	events.BaseJobListener
	ingestion interfaces.IngestionService
}

func NewProcessInboundListener(logger logger.Logger, ingestion interfaces.IngestionService) interfaces.JobHandler {
	return &ProcessInboundListener{
		BaseJobListener: events.NewBaseJobListener(logger, enum.JobProcessInbound),
		ingestion:       ingestion,
	}
}

func (l *ProcessInboundListener) Handle(ctx context.Context, job *dto.Job) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ProcessInboundListener.Handle")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)

	if err := l.ValidateJob(ctx, job); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	tracing.TagJob(span, job.Id, job.Class.String())

	payload, err := events.DecodePayload[dto.ProcessInboundJob](ctx, job)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	raw, err := base64.StdEncoding.DecodeString(payload.RawEmail)
	if err != nil {
		err = errors.Wrapf(events.ErrUnknownPayload, "raw_email is not base64: %v", err)
		tracing.TraceErr(span, err)
		return err
	}

	result, err := l.ingestion.IngestRaw(ctx, payload.SNSMessageId, raw)
	if err != nil {
		if errors.Is(err, ingestion.ErrMalformedEmail) {
			// a retry decodes the same bytes
			err = errors.Wrap(events.ErrUnknownPayload, err.Error())
		}
		tracing.TraceErr(span, err)
		return err
	}

	l.Logger().Info("queued inbound email processed",
		zap.String("snsMessageId", payload.SNSMessageId),
		zap.String("ticketId", result.TicketID),
		zap.String("messageId", result.MessageID),
		zap.Bool("duplicate", result.Duplicate))
	return nil
}
