package interfaces

import (
	"context"
	"time"

	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/models"
)

type TicketRepository interface {
	// Create returns repository.ErrDuplicateTicket when another ticket already owns the originating message-id.
	Create(ctx context.Context, ticket *models.Ticket) error
	GetByID(ctx context.Context, id string) (*models.Ticket, error)
	// GetByEmailMessageID finds the ticket created from emailMessageID; nil, nil when none.
	GetByEmailMessageID(ctx context.Context, emailMessageID string) (*models.Ticket, error)
	// FindByThreadMessageID matches the originating id or any message on the ticket; nil, nil when none.
	FindByThreadMessageID(ctx context.Context, messageID string) (*models.Ticket, error)
	// TouchForInbound locks the ticket, reopens it if resolved and bumps last_message_at.
	TouchForInbound(ctx context.Context, ticketID string, now time.Time) (*models.Ticket, error)
	UpdateStatus(ctx context.Context, ticketID string, status enum.TicketStatus, now time.Time) (*models.Ticket, error)
}

type MessageRepository interface {
	CreateWithAttachments(ctx context.Context, message *models.Message, attachments []*models.Attachment) error
	// CreateReply stores an outbound message and moves its ticket to WAITING in one transaction.
	CreateReply(ctx context.Context, message *models.Message, now time.Time) (*models.Ticket, error)
	GetByID(ctx context.Context, id string) (*models.Message, error)
	GetByMessageID(ctx context.Context, messageID string) (*models.Message, error)
	GetLatestForTicket(ctx context.Context, ticketID string) (*models.Message, error)
	// ClaimDelivery reports false when the message is delivered or held by a live claim.
	ClaimDelivery(ctx context.Context, id string, now time.Time, claimTTL time.Duration) (bool, error)
	ReleaseDeliveryClaim(ctx context.Context, id string) error
	MarkDelivered(ctx context.Context, id, providerMessageID string, deliveredAt time.Time) error
	ListUndeliveredOutbound(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Message, error)
}

type WebhookConfigRepository interface {
	ListActiveForEvent(ctx context.Context, event enum.WebhookEvent) ([]*models.WebhookConfig, error)
}

type WebhookLogRepository interface {
	Create(ctx context.Context, log *models.WebhookLog) error
}

type JobRecordRepository interface {
	Save(ctx context.Context, record *models.JobRecord) error
	// Prune keeps the newest keep records of class/state; with keepFor > 0 older records go too.
	Prune(ctx context.Context, class enum.JobClass, state enum.JobState, keep int, keepFor time.Duration) (int64, error)
}
