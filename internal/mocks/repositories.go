package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/models"
)

type TicketRepository struct {
	mock.Mock
}

func (m *TicketRepository) Create(ctx context.Context, ticket *models.Ticket) error {
	return m.Called(ctx, ticket).Error(0)
}

func (m *TicketRepository) GetByID(ctx context.Context, id string) (*models.Ticket, error) {
	args := m.Called(ctx, id)
	return ticketOrNil(args.Get(0)), args.Error(1)
}

func (m *TicketRepository) GetByEmailMessageID(ctx context.Context, emailMessageID string) (*models.Ticket, error) {
	args := m.Called(ctx, emailMessageID)
	return ticketOrNil(args.Get(0)), args.Error(1)
}

func (m *TicketRepository) FindByThreadMessageID(ctx context.Context, messageID string) (*models.Ticket, error) {
	args := m.Called(ctx, messageID)
	return ticketOrNil(args.Get(0)), args.Error(1)
}

func (m *TicketRepository) TouchForInbound(ctx context.Context, ticketID string, now time.Time) (*models.Ticket, error) {
	args := m.Called(ctx, ticketID, now)
	return ticketOrNil(args.Get(0)), args.Error(1)
}

func (m *TicketRepository) UpdateStatus(ctx context.Context, ticketID string, status enum.TicketStatus, now time.Time) (*models.Ticket, error) {
	args := m.Called(ctx, ticketID, status, now)
	return ticketOrNil(args.Get(0)), args.Error(1)
}

type MessageRepository struct {
	mock.Mock
}

func (m *MessageRepository) CreateWithAttachments(ctx context.Context, message *models.Message, attachments []*models.Attachment) error {
	return m.Called(ctx, message, attachments).Error(0)
}

func (m *MessageRepository) CreateReply(ctx context.Context, message *models.Message, now time.Time) (*models.Ticket, error) {
	args := m.Called(ctx, message, now)
	return ticketOrNil(args.Get(0)), args.Error(1)
}

func (m *MessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	args := m.Called(ctx, id)
	return messageOrNil(args.Get(0)), args.Error(1)
}

func (m *MessageRepository) GetByMessageID(ctx context.Context, messageID string) (*models.Message, error) {
	args := m.Called(ctx, messageID)
	return messageOrNil(args.Get(0)), args.Error(1)
}

func (m *MessageRepository) GetLatestForTicket(ctx context.Context, ticketID string) (*models.Message, error) {
	args := m.Called(ctx, ticketID)
	return messageOrNil(args.Get(0)), args.Error(1)
}

func (m *MessageRepository) ClaimDelivery(ctx context.Context, id string, now time.Time, claimTTL time.Duration) (bool, error) {
	args := m.Called(ctx, id, now, claimTTL)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepository) ReleaseDeliveryClaim(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MessageRepository) MarkDelivered(ctx context.Context, id, providerMessageID string, deliveredAt time.Time) error {
	return m.Called(ctx, id, providerMessageID, deliveredAt).Error(0)
}

func (m *MessageRepository) ListUndeliveredOutbound(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Message, error) {
	args := m.Called(ctx, createdBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Message), args.Error(1)
}

type WebhookConfigRepository struct {
	mock.Mock
}

func (m *WebhookConfigRepository) ListActiveForEvent(ctx context.Context, event enum.WebhookEvent) ([]*models.WebhookConfig, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.WebhookConfig), args.Error(1)
}

type WebhookLogRepository struct {
	mock.Mock
}

func (m *WebhookLogRepository) Create(ctx context.Context, log *models.WebhookLog) error {
	return m.Called(ctx, log).Error(0)
}

type JobRecordRepository struct {
	mock.Mock
}

func (m *JobRecordRepository) Save(ctx context.Context, record *models.JobRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *JobRecordRepository) Prune(ctx context.Context, class enum.JobClass, state enum.JobState, keep int, keepFor time.Duration) (int64, error) {
	args := m.Called(ctx, class, state, keep, keepFor)
	return args.Get(0).(int64), args.Error(1)
}

func ticketOrNil(v interface{}) *models.Ticket {
	if v == nil {
		return nil
	}
	return v.(*models.Ticket)
}

func messageOrNil(v interface{}) *models.Message {
	if v == nil {
		return nil
	}
	return v.(*models.Message)
}
