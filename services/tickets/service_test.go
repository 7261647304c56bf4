package tickets

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/supportstack/config"
	"github.com/customeros/supportstack/dto"
	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/mocks"
	"github.com/customeros/supportstack/internal/models"
	"github.com/customeros/supportstack/internal/repository"
	"github.com/customeros/supportstack/internal/utils"
)

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

type fixture struct {
	tickets   *mocks.TicketRepository
	messages  *mocks.MessageRepository
	publisher *mocks.JobPublisher
	service   *TicketService
}

func newFixture() *fixture {
	f := &fixture{
		tickets:   new(mocks.TicketRepository),
		messages:  new(mocks.MessageRepository),
		publisher: new(mocks.JobPublisher),
	}
	f.service = NewTicketService(f.tickets, f.messages, f.publisher, getLogger(), &config.EmailConfig{
		FromAddress: "support@acme.io",
		FromName:    "Acme Support",
		Domain:      "acme.io",
	})
	f.service.now = func() time.Time { return fixedNow }
	return f
}

func openTicket() *models.Ticket {
	return &models.Ticket{
		ID:              "tckt_1",
		CustomerEmail:   "alice@example.com",
		Subject:         "Printer on fire",
		Status:          enum.TicketStatusNew,
		EmailMessageID:  "<first@example.com>",
		EmailReferences: []string{},
	}
}

func assignReplyID(args mock.Arguments) {
	args.Get(1).(*models.Message).ID = "msg_reply"
}

func TestReply_CreatesOutboundMessageAndQueuesDelivery(t *testing.T) {
	// Arrange
	f := newFixture()
	f.tickets.On("GetByID", mock.Anything, "tckt_1").Return(openTicket(), nil)
	f.messages.On("GetLatestForTicket", mock.Anything, "tckt_1").Return(&models.Message{MessageID: "<second@example.com>"}, nil)
	f.messages.On("CreateReply", mock.Anything, mock.AnythingOfType("*models.Message"), fixedNow).
		Return(&models.Ticket{ID: "tckt_1", Status: enum.TicketStatusWaiting}, nil).
		Run(assignReplyID)
	f.publisher.On("Enqueue", mock.Anything, enum.JobSendEmail, dto.SendEmailJob{MessageId: "msg_reply"}).Return("job_1", nil)

	ctx := utils.WithCustomContext(context.Background(), &utils.CustomContext{UserName: "Jane Agent"})

	// Act
	message, ticket, err := f.service.Reply(ctx, "tckt_1", &dto.ReplyRequest{BodyText: "We are on it.", BodyHTML: "<p>We are on it.</p>"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, enum.TicketStatusWaiting, ticket.Status)
	assert.Equal(t, "msg_reply", message.ID)
	assert.Equal(t, enum.MessageOutbound, message.Direction)
	assert.Equal(t, "support@acme.io", message.FromEmail)
	assert.Equal(t, "Jane Agent", message.FromName)
	assert.Equal(t, "alice@example.com", message.ToEmail)
	assert.Equal(t, "Re: Printer on fire", message.Subject)
	assert.Equal(t, "<p>We are on it.</p>", message.BodyHTML)
	assert.True(t, strings.HasPrefix(message.MessageID, "<"))
	assert.True(t, strings.HasSuffix(message.MessageID, "@acme.io>"))
	assert.Equal(t, "<second@example.com>", message.InReplyTo)
	assert.Equal(t, []string{"<second@example.com>"}, []string(message.References))
	assert.Nil(t, message.DeliveredAt)
	f.publisher.AssertExpectations(t)
}

func TestReply_FallsBackToTicketOriginAndConfiguredName(t *testing.T) {
	f := newFixture()
	ticket := openTicket()
	ticket.Subject = "RE: Printer on fire"
	ticket.EmailReferences = []string{"<root@example.com>"}
	f.tickets.On("GetByID", mock.Anything, "tckt_1").Return(ticket, nil)
	f.messages.On("GetLatestForTicket", mock.Anything, "tckt_1").Return(nil, nil)
	f.messages.On("CreateReply", mock.Anything, mock.Anything, fixedNow).Return(ticket, nil).Run(assignReplyID)
	f.publisher.On("Enqueue", mock.Anything, enum.JobSendEmail, mock.Anything).Return("job_1", nil)

	message, _, err := f.service.Reply(context.Background(), "tckt_1", &dto.ReplyRequest{BodyText: "Hi"})

	require.NoError(t, err)
	assert.Equal(t, "Acme Support", message.FromName)
	assert.Equal(t, "RE: Printer on fire", message.Subject)
	assert.Equal(t, "<first@example.com>", message.InReplyTo)
	assert.Equal(t, []string{"<root@example.com>", "<first@example.com>"}, []string(message.References))
}

func TestReply_EmptyBodyRejectedBeforeAnyWrite(t *testing.T) {
	for _, body := range []string{"", "   ", "\n\t"} {
		f := newFixture()

		_, _, err := f.service.Reply(context.Background(), "tckt_1", &dto.ReplyRequest{BodyText: body, BodyHTML: "<p>x</p>"})

		assert.ErrorIs(t, err, ErrEmptyReplyBody)
		f.tickets.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
		f.messages.AssertNotCalled(t, "CreateReply", mock.Anything, mock.Anything, mock.Anything)
	}
}

func TestReply_UnknownTicket(t *testing.T) {
	f := newFixture()
	f.tickets.On("GetByID", mock.Anything, "tckt_missing").Return(nil, repository.ErrTicketNotFound)

	_, _, err := f.service.Reply(context.Background(), "tckt_missing", &dto.ReplyRequest{BodyText: "Hi"})

	assert.ErrorIs(t, err, repository.ErrTicketNotFound)
	f.messages.AssertNotCalled(t, "CreateReply", mock.Anything, mock.Anything, mock.Anything)
}

func TestReply_EnqueueFailureSurfaces(t *testing.T) {
	// Arrange
	f := newFixture()
	f.tickets.On("GetByID", mock.Anything, "tckt_1").Return(openTicket(), nil)
	f.messages.On("GetLatestForTicket", mock.Anything, "tckt_1").Return(nil, nil)
	f.messages.On("CreateReply", mock.Anything, mock.Anything, fixedNow).Return(openTicket(), nil).Run(assignReplyID)
	f.publisher.On("Enqueue", mock.Anything, enum.JobSendEmail, mock.Anything).Return("", assert.AnError)

	// Act
	message, _, err := f.service.Reply(context.Background(), "tckt_1", &dto.ReplyRequest{BodyText: "Hi"})

	// Assert
	assert.ErrorIs(t, err, ErrReplyNotQueued)
	require.NotNil(t, message)
	assert.Equal(t, "msg_reply", message.ID)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture()
	resolvedAt := fixedNow
	f.tickets.On("UpdateStatus", mock.Anything, "tckt_1", enum.TicketStatusResolved, fixedNow).
		Return(&models.Ticket{ID: "tckt_1", Status: enum.TicketStatusResolved, ResolvedAt: &resolvedAt}, nil)

	ticket, err := f.service.UpdateStatus(context.Background(), "tckt_1", enum.TicketStatusResolved)

	require.NoError(t, err)
	assert.Equal(t, enum.TicketStatusResolved, ticket.Status)
	assert.NotNil(t, ticket.ResolvedAt)
}

func TestUpdateStatus_InvalidStatus(t *testing.T) {
	f := newFixture()

	_, err := f.service.UpdateStatus(context.Background(), "tckt_1", enum.TicketStatus("CLOSED"))

	assert.ErrorIs(t, err, ErrInvalidStatus)
	f.tickets.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: Help", ReplySubject("Help"))
	assert.Equal(t, "Re: Help", ReplySubject("Re: Help"))
	assert.Equal(t, "Re: help", ReplySubject("  re: help "))
	assert.Equal(t, "Re: Help", ReplySubject("RE: Fwd: Help"))
	assert.Equal(t, "Re: (no subject)", ReplySubject("(no subject)"))
}
