package interfaces

import (
	"context"

	"github.com/customeros/supportstack/dto"
	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/models"
)

type IngestionService interface {
	Ingest(ctx context.Context, notification *dto.SNSNotification) (*dto.IngestResult, error)
	IngestRaw(ctx context.Context, snsMessageID string, raw []byte) (*dto.IngestResult, error)
	// Requeue hands base64 mail content to the process-inbound queue.
	Requeue(ctx context.Context, snsMessageID, rawContent string) error
}

type TicketService interface {
	Reply(ctx context.Context, ticketID string, request *dto.ReplyRequest) (*models.Message, *models.Ticket, error)
	UpdateStatus(ctx context.Context, ticketID string, status enum.TicketStatus) (*models.Ticket, error)
}
