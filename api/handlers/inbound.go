package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/customeros/supportstack/dto"
	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/tracing"
	"github.com/customeros/supportstack/services/ingestion"
)

// maxInboundBodyBytes covers the SES 40 MB message ceiling after base64 and JSON framing.
const maxInboundBodyBytes = 64 << 20

type InboundHandler struct {
	ingestion interfaces.IngestionService
	log       logger.Logger
}

func NewInboundHandler(ingestion interfaces.IngestionService, log logger.Logger) *InboundHandler {
	return &InboundHandler{
		ingestion: ingestion,
		log:       log,
	}
}

// ReceiveEmail is the SNS HTTP push endpoint. SNS posts with a text/plain content type,
// so the body is decoded by hand instead of through gin binding.
func (h *InboundHandler) ReceiveEmail() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "InboundHandler.ReceiveEmail")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInboundBodyBytes))
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read request body"})
			return
		}
		var notification dto.SNSNotification
		if err := json.Unmarshal(body, &notification); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification body"})
			return
		}
		span.SetTag("sns.type", notification.Type)
		span.SetTag("sns.message_id", notification.MessageId)

		result, err := h.ingestion.Ingest(ctx, &notification)
		if err != nil {
			tracing.TraceErr(span, err)
			h.handleIngestError(c, &notification, result, err)
			return
		}

		if notification.Type != dto.SNSTypeNotification {
			message := "OK"
			if result.Confirmed {
				message = "Subscription confirmed"
			}
			c.JSON(http.StatusOK, dto.InboundResponse{Success: true, Message: message})
			return
		}

		c.JSON(http.StatusOK, dto.InboundResponse{
			Success:   true,
			TicketId:  result.TicketID,
			MessageId: result.MessageID,
		})
	}
}

func (h *InboundHandler) handleIngestError(c *gin.Context, notification *dto.SNSNotification, result *dto.IngestResult, err error) {
	ctx := c.Request.Context()

	switch {
	case errors.Is(err, ingestion.ErrInvalidEnvelope), errors.Is(err, ingestion.ErrMalformedEmail):
		h.log.Warn("rejected inbound notification",
			zap.String("snsMessageId", notification.MessageId),
			zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, ingestion.ErrSubscriptionConfirmFailed):
		h.log.Error("sns subscription confirmation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscription confirmation failed"})
		return
	}

	if result == nil || result.RawContent == "" {
		h.log.Error("inbound email processing failed",
			zap.String("snsMessageId", notification.MessageId),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process inbound email"})
		return
	}

	// the mail was read but not stored; hand it to the queue so retries happen there
	if requeueErr := h.ingestion.Requeue(ctx, notification.MessageId, result.RawContent); requeueErr != nil {
		h.log.Error("inbound email processing and queue hand-off failed",
			zap.String("snsMessageId", notification.MessageId),
			zap.NamedError("ingestError", err),
			zap.Error(requeueErr))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process inbound email"})
		return
	}
	h.log.Warn("inbound email queued for reprocessing",
		zap.String("snsMessageId", notification.MessageId),
		zap.Error(err))
	c.JSON(http.StatusOK, dto.InboundResponse{Success: true, Queued: true})
}
