package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	custom_err "github.com/customeros/supportstack/api/errors"
	"github.com/customeros/supportstack/dto"
	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/repository"
	"github.com/customeros/supportstack/internal/tracing"
	"github.com/customeros/supportstack/services/tickets"
)

type TicketsHandler struct {
	tickets interfaces.TicketService
	log     logger.Logger
}

func NewTicketsHandler(tickets interfaces.TicketService, log logger.Logger) *TicketsHandler {
	return &TicketsHandler{
		tickets: tickets,
		log:     log,
	}
}

// Reply queues an agent reply on a ticket
func (h *TicketsHandler) Reply() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "TicketsHandler.Reply")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		ticketID := c.Param("id")
		tracing.TagEntity(span, ticketID)

		var request dto.ReplyRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			respondWithError(c, span, http.StatusBadRequest, "Invalid request format", err)
			return
		}
		if errs := validateReplyRequest(&request); errs.HasErrors() {
			tracing.TraceErr(span, errs)
			c.JSON(http.StatusBadRequest, gin.H{"error": errs.Error(), "fields": errs.Fields()})
			return
		}

		message, ticket, err := h.tickets.Reply(ctx, ticketID, &request)
		switch {
		case errors.Is(err, tickets.ErrEmptyReplyBody):
			respondWithError(c, span, http.StatusBadRequest, err.Error(), err)
			return
		case errors.Is(err, repository.ErrTicketNotFound):
			respondWithError(c, span, http.StatusNotFound, "ticket "+ticketID+" not found", err)
			return
		case err != nil:
			respondWithError(c, span, http.StatusInternalServerError, "Failed to queue reply", err)
			return
		}

		c.JSON(http.StatusCreated, dto.ReplyResponse{
			MessageId:      message.ID,
			EmailMessageId: message.MessageID,
			TicketStatus:   ticket.Status.String(),
		})
	}
}

func (h *TicketsHandler) UpdateStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "TicketsHandler.UpdateStatus")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		ticketID := c.Param("id")
		tracing.TagEntity(span, ticketID)

		var request dto.UpdateTicketStatusRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			respondWithError(c, span, http.StatusBadRequest, "Invalid request format", err)
			return
		}

		ticket, err := h.tickets.UpdateStatus(ctx, ticketID, request.Status)
		switch {
		case errors.Is(err, tickets.ErrInvalidStatus):
			respondWithError(c, span, http.StatusBadRequest, err.Error(), err)
			return
		case errors.Is(err, repository.ErrTicketNotFound):
			respondWithError(c, span, http.StatusNotFound, "ticket "+ticketID+" not found", err)
			return
		case err != nil:
			respondWithError(c, span, http.StatusInternalServerError, "Failed to update ticket status", err)
			return
		}

		c.JSON(http.StatusOK, ticket)
	}
}

func validateReplyRequest(request *dto.ReplyRequest) *custom_err.MultiErrors {
	errs := custom_err.NewMultiErrors()
	if strings.TrimSpace(request.BodyText) == "" {
		errs.Add("body_text", "please provide a non-empty text body", tickets.ErrEmptyReplyBody)
	}
	return errs
}

func respondWithError(c *gin.Context, span opentracing.Span, status int, message string, err error) {
	if err != nil {
		tracing.TraceErr(span, err)
	}
	c.JSON(status, gin.H{"error": message})
}
