package listeners

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/supportstack/dto"
	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/tracing"
	"github.com/customeros/supportstack/services/events"
	"github.com/customeros/supportstack/services/webhooks"
)

type webhookDispatcher interface {
	Dispatch(ctx context.Context, job dto.DispatchWebhookJob, attempt int) (*webhooks.DispatchResult, error)
}

type DispatchWebhookListener struct {
	events.BaseJobListener
	dispatcher webhookDispatcher
}

func NewDispatchWebhookListener(logger logger.Logger, dispatcher webhookDispatcher) interfaces.JobHandler {
	return &DispatchWebhookListener{
		BaseJobListener: events.NewBaseJobListener(logger, enum.JobDispatchWebhook),
		dispatcher:      dispatcher,
	}
}

// Handle fails only when the event data cannot be loaded; endpoint failures are
// recorded per endpoint by the dispatcher.
func (l *DispatchWebhookListener) Handle(ctx context.Context, job *dto.Job) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DispatchWebhookListener.Handle")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)

	if err := l.ValidateJob(ctx, job); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	tracing.TagJob(span, job.Id, job.Class.String())

	payload, err := events.DecodePayload[dto.DispatchWebhookJob](ctx, job)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	result, err := l.dispatcher.Dispatch(ctx, payload, job.Attempt)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	span.SetTag("webhooks.success", result.SuccessCount)
	return nil
}
