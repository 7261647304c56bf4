package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/customeros/supportstack/dto"
	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/metrics"
	"github.com/customeros/supportstack/internal/models"
	"github.com/customeros/supportstack/internal/tracing"
	"github.com/customeros/supportstack/internal/utils"
)

const (
	maxResponseBodyChars = 1000
	timestampLayout      = "2006-01-02T15:04:05.000Z07:00"
)

type DispatchResult struct {
	Total        int
	SuccessCount int
}

type Dispatcher struct {
	configs   interfaces.WebhookConfigRepository
	logs      interfaces.WebhookLogRepository
	tickets   interfaces.TicketRepository
	messages  interfaces.MessageRepository
	log       logger.Logger
	userAgent string
	transport http.RoundTripper
	now       func() time.Time
}

func NewDispatcher(configs interfaces.WebhookConfigRepository, logs interfaces.WebhookLogRepository, tickets interfaces.TicketRepository, messages interfaces.MessageRepository, log logger.Logger, productName string) *Dispatcher {
	return &Dispatcher{
		configs:   configs,
		logs:      logs,
		tickets:   tickets,
		messages:  messages,
		log:       log,
		userAgent: productName + "-Webhook/1.0",
		transport: http.DefaultTransport,
		now:       utils.Now,
	}
}

// Dispatch POSTs the event to every active subscriber. A failing endpoint is logged and
// counted, it does not fail the job; only errors loading the event's data do.
func (d *Dispatcher) Dispatch(ctx context.Context, job dto.DispatchWebhookJob, attempt int) (*DispatchResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Dispatcher.Dispatch")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, job.TicketId)
	span.SetTag("event", job.Event.String())

	configs, err := d.configs.ListActiveForEvent(ctx, job.Event)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "list webhook configs")
	}
	if len(configs) == 0 {
		return &DispatchResult{}, nil
	}

	payload, err := d.buildPayload(ctx, job)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "marshal webhook payload")
	}
	payloadMap, err := models.ToJSONMap(payload)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "snapshot webhook payload")
	}

	delivered := make([]bool, len(configs))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, cfg := range configs {
		i, cfg := i, cfg
		group.Go(func() error {
			webhookLog := d.deliver(groupCtx, cfg, body, attempt)
			webhookLog.Event = job.Event.String()
			webhookLog.Payload = payloadMap
			if err := d.logs.Create(groupCtx, webhookLog); err != nil {
				d.log.Error("failed to save webhook log",
					zap.String("webhookConfigId", cfg.ID),
					zap.Error(err))
			}
			delivered[i] = webhookLog.ErrorMessage == nil
			return nil
		})
	}
	_ = group.Wait()

	result := &DispatchResult{Total: len(configs)}
	for _, ok := range delivered {
		if ok {
			result.SuccessCount++
		}
	}
	span.SetTag("webhooks.total", result.Total)
	span.SetTag("webhooks.success", result.SuccessCount)
	d.log.Info("webhook event dispatched",
		zap.String("event", job.Event.String()),
		zap.String("ticketId", job.TicketId),
		zap.Int("total", result.Total),
		zap.Int("success", result.SuccessCount))
	return result, nil
}

func (d *Dispatcher) buildPayload(ctx context.Context, job dto.DispatchWebhookJob) (*dto.WebhookPayload, error) {
	ticket, err := d.tickets.GetByID(ctx, job.TicketId)
	if err != nil {
		return nil, errors.Wrapf(err, "load ticket %s", job.TicketId)
	}
	latest, err := d.messages.GetLatestForTicket(ctx, ticket.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "load latest message for ticket %s", ticket.ID)
	}

	tags := []string(ticket.Tags)
	if tags == nil {
		tags = []string{}
	}
	payload := &dto.WebhookPayload{
		Event:     job.Event,
		Timestamp: FormatTimestamp(d.now()),
		Ticket: dto.WebhookTicketPayload{
			Id:       ticket.ID,
			Status:   ticket.Status,
			Priority: ticket.Priority,
			Customer: dto.WebhookCustomer{
				Name:  ticket.CustomerName,
				Email: ticket.CustomerEmail,
			},
			Subject: ticket.Subject,
			Tags:    tags,
		},
	}
	if latest != nil {
		payload.Ticket.LatestMessage = &dto.WebhookMessagePayload{
			From: latest.FromEmail,
			Body: latest.Body(),
			Date: FormatTimestamp(latest.SentAt),
		}
	}
	return payload, nil
}

func (d *Dispatcher) deliver(ctx context.Context, cfg *models.WebhookConfig, body []byte, attempt int) *models.WebhookLog {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Dispatcher.deliver")
	defer span.Finish()
	tracing.TagEntity(span, cfg.ID)

	webhookLog := &models.WebhookLog{
		WebhookConfigID: cfg.ID,
		AttemptNumber:   attempt,
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()

	start := time.Now()
	statusCode, responseBody, err := d.post(ctx, cfg, body)
	duration := time.Since(start)
	webhookLog.DurationMs = duration.Milliseconds()
	metrics.WebhookLatency.Observe(duration.Seconds())

	if statusCode != 0 {
		webhookLog.StatusCode = utils.ToPtr(statusCode)
		webhookLog.ResponseBody = utils.ToPtr(utils.Truncate(responseBody, maxResponseBodyChars))
	}
	if err == nil && (statusCode < 200 || statusCode > 299) {
		err = errors.Errorf("endpoint responded with HTTP %d", statusCode)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		webhookLog.ErrorMessage = utils.ToPtr(err.Error())
		metrics.WebhookDeliveries.WithLabelValues(metrics.OutcomeFailure).Inc()
		d.log.Warn("webhook delivery failed",
			zap.String("webhookConfigId", cfg.ID),
			zap.String("url", cfg.URL),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return webhookLog
	}
	metrics.WebhookDeliveries.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return webhookLog
}

func (d *Dispatcher) post(ctx context.Context, cfg *models.WebhookConfig, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)
	req = tracing.InjectSpanContextIntoHTTPRequest(req, opentracing.SpanFromContext(ctx))
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	client := &http.Client{Transport: d.transport, Timeout: cfg.Timeout()}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyChars*4))
	if err != nil {
		d.log.Warn("failed to read webhook response body", zap.String("webhookConfigId", cfg.ID), zap.Error(err))
	}
	return resp.StatusCode, string(responseBody), nil
}

// FormatTimestamp renders t as UTC RFC 3339 with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
