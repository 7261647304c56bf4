package listeners

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/customeros/supportstack/dto"
	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/tracing"
	"github.com/customeros/supportstack/services/events"
	"github.com/customeros/supportstack/services/outbound"
)

type emailSender interface {
	Send(ctx context.Context, messageID string) (*outbound.SendResult, error)
}

type SendEmailListener struct {
	events.BaseJobListener
	sender emailSender
}

func NewSendEmailListener(logger logger.Logger, sender emailSender) interfaces.JobHandler {
	return &SendEmailListener{
		BaseJobListener: events.NewBaseJobListener(logger, enum.JobSendEmail),
		sender:          sender,
	}
}

func (l *SendEmailListener) Handle(ctx context.Context, job *dto.Job) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SendEmailListener.Handle")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)

	if err := l.ValidateJob(ctx, job); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	tracing.TagJob(span, job.Id, job.Class.String())

	payload, err := events.DecodePayload[dto.SendEmailJob](ctx, job)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	tracing.TagEntity(span, payload.MessageId)

	result, err := l.sender.Send(ctx, payload.MessageId)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if result.Skipped {
		l.Logger().Debug("send-email job skipped", zap.String("jobId", job.Id), zap.String("messageId", payload.MessageId))
	}
	return nil
}
