package ingestion

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/supportstack/dto"
	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/mocks"
	"github.com/customeros/supportstack/internal/models"
	"github.com/customeros/supportstack/internal/repository"
	"github.com/customeros/supportstack/services/email_parser"
	"github.com/customeros/supportstack/services/threading"
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, parsed *email_parser.ParsedEmail) (*threading.Resolution, error) {
	args := m.Called(ctx, parsed)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*threading.Resolution), args.Error(1)
}

type mockAttachmentStore struct {
	mock.Mock
}

func (m *mockAttachmentStore) StoreAll(ctx context.Context, parsed []email_parser.ParsedAttachment) []*models.Attachment {
	args := m.Called(ctx, parsed)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]*models.Attachment)
}

func assignMessageID(args mock.Arguments) {
	args.Get(1).(*models.Message).ID = "msg_new"
}

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

type fixture struct {
	resolver    *mockResolver
	attachments *mockAttachmentStore
	messages    *mocks.MessageRepository
	publisher   *mocks.JobPublisher
	dedup       *mocks.DedupStore
	service     *IngestionService
}

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	f := &fixture{
		resolver:    new(mockResolver),
		attachments: new(mockAttachmentStore),
		messages:    new(mocks.MessageRepository),
		publisher:   new(mocks.JobPublisher),
		dedup:       new(mocks.DedupStore),
	}
	f.service = NewIngestionService(f.resolver, f.attachments, f.messages, f.publisher, f.dedup, getLogger(), "support.example.com")
	f.service.now = func() time.Time { return fixedNow }
	return f
}

const rawEmail = "From: Alice Smith <alice@example.com>\r\n" +
	"To: support@example.com\r\n" +
	"Subject: Printer on fire\r\n" +
	"Message-ID: <first@example.com>\r\n" +
	"Date: Fri, 01 May 2026 10:00:00 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"It is still burning.\r\n" +
	"--\r\n" +
	"Alice\r\n"

func notification(raw string) *dto.SNSNotification {
	sesMessage, _ := json.Marshal(dto.SESMessage{
		NotificationType: "Received",
		Content:          base64.StdEncoding.EncodeToString([]byte(raw)),
		Receipt:          dto.SESReceipt{Recipients: []string{"support@example.com"}},
	})
	return &dto.SNSNotification{
		Type:             dto.SNSTypeNotification,
		MessageId:        "sns-1",
		TopicArn:         "arn:aws:sns:eu-west-1:123:inbound",
		Message:          string(sesMessage),
		SignatureVersion: "1",
		Signature:        "c2ln",
	}
}

func TestIngest_NewTicket(t *testing.T) {
	// Arrange
	f := newFixture()
	ticket := &models.Ticket{ID: "tckt_1"}
	f.dedup.On("MarkSeen", mock.Anything, "sns-1").Return(true, nil)
	f.messages.On("GetByMessageID", mock.Anything, "<first@example.com>").Return(nil, nil)
	f.resolver.On("Resolve", mock.Anything, mock.Anything).Return(&threading.Resolution{Ticket: ticket, Created: true}, nil)
	f.attachments.On("StoreAll", mock.Anything, mock.Anything).Return([]*models.Attachment{})
	f.messages.On("CreateWithAttachments", mock.Anything, mock.AnythingOfType("*models.Message"), mock.Anything).Return(nil).Run(assignMessageID)
	f.publisher.On("Enqueue", mock.Anything, enum.JobDispatchWebhook, dto.DispatchWebhookJob{
		Event:     enum.WebhookEventTicketCreated,
		TicketId:  "tckt_1",
		MessageId: "msg_new",
	}).Return("job-1", nil)

	// Act
	result, err := f.service.Ingest(context.Background(), notification(rawEmail))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "tckt_1", result.TicketID)
	assert.Equal(t, "msg_new", result.MessageID)
	assert.True(t, result.Created)

	stored := f.messages.Calls[1].Arguments.Get(1).(*models.Message)
	assert.Equal(t, enum.MessageInbound, stored.Direction)
	assert.Equal(t, "alice@example.com", stored.FromEmail)
	assert.Equal(t, "Alice Smith", stored.FromName)
	assert.Equal(t, "support@example.com", stored.ToEmail)
	assert.Equal(t, "It is still burning.", stored.StrippedText)
	assert.False(t, stored.HasAttachments)
	assert.Equal(t, 0, stored.AttachmentCount)
	require.NotNil(t, stored.DeliveredAt)
	assert.Equal(t, fixedNow, *stored.DeliveredAt)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC), stored.SentAt.UTC())
	f.publisher.AssertExpectations(t)
}

func TestIngest_ReplyEnqueuesEmailReceived(t *testing.T) {
	f := newFixture()
	f.dedup.On("MarkSeen", mock.Anything, "sns-1").Return(true, nil)
	f.messages.On("GetByMessageID", mock.Anything, mock.Anything).Return(nil, nil)
	f.resolver.On("Resolve", mock.Anything, mock.Anything).Return(&threading.Resolution{Ticket: &models.Ticket{ID: "tckt_1"}}, nil)
	f.attachments.On("StoreAll", mock.Anything, mock.Anything).Return([]*models.Attachment{{Filename: "a.pdf"}})
	f.messages.On("CreateWithAttachments", mock.Anything, mock.Anything, mock.Anything).Return(nil).Run(assignMessageID)
	f.publisher.On("Enqueue", mock.Anything, enum.JobDispatchWebhook, mock.MatchedBy(func(job dto.DispatchWebhookJob) bool {
		return job.Event == enum.WebhookEventEmailReceived
	})).Return("job-1", nil)

	result, err := f.service.Ingest(context.Background(), notification(rawEmail))

	require.NoError(t, err)
	assert.False(t, result.Created)
	stored := f.messages.Calls[1].Arguments.Get(1).(*models.Message)
	assert.True(t, stored.HasAttachments)
	assert.Equal(t, 1, stored.AttachmentCount)
	f.publisher.AssertExpectations(t)
}

func TestIngest_EnqueueFailureDoesNotFailIngestion(t *testing.T) {
	f := newFixture()
	f.dedup.On("MarkSeen", mock.Anything, mock.Anything).Return(true, nil)
	f.messages.On("GetByMessageID", mock.Anything, mock.Anything).Return(nil, nil)
	f.resolver.On("Resolve", mock.Anything, mock.Anything).Return(&threading.Resolution{Ticket: &models.Ticket{ID: "tckt_1"}, Created: true}, nil)
	f.attachments.On("StoreAll", mock.Anything, mock.Anything).Return(nil)
	f.messages.On("CreateWithAttachments", mock.Anything, mock.Anything, mock.Anything).Return(nil).Run(assignMessageID)
	f.publisher.On("Enqueue", mock.Anything, mock.Anything, mock.Anything).Return("", assert.AnError)

	result, err := f.service.Ingest(context.Background(), notification(rawEmail))

	require.NoError(t, err)
	assert.Equal(t, "msg_new", result.MessageID)
}

func TestIngest_InvalidEnvelope(t *testing.T) {
	cases := map[string]func(n *dto.SNSNotification){
		"missing type":      func(n *dto.SNSNotification) { n.Type = "" },
		"unknown type":      func(n *dto.SNSNotification) { n.Type = "Bogus" },
		"missing signature": func(n *dto.SNSNotification) { n.Signature = "" },
		"missing version":   func(n *dto.SNSNotification) { n.SignatureVersion = "" },
		"missing message":   func(n *dto.SNSNotification) { n.Message = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			n := notification(rawEmail)
			mutate(n)

			result, err := f.service.Ingest(context.Background(), n)

			assert.Nil(t, result)
			assert.ErrorIs(t, err, ErrInvalidEnvelope)
			f.resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
		})
	}
}

func TestIngest_UndecodableContentCreatesNothing(t *testing.T) {
	f := newFixture()
	f.dedup.On("MarkSeen", mock.Anything, "sns-1").Return(true, nil)
	f.dedup.On("Forget", mock.Anything, "sns-1").Return(nil)
	n := notification(rawEmail)
	sesMessage, _ := json.Marshal(dto.SESMessage{Content: "!!!not-base64!!!"})
	n.Message = string(sesMessage)

	result, err := f.service.Ingest(context.Background(), n)

	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrMalformedEmail)
	f.resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
	f.messages.AssertNotCalled(t, "CreateWithAttachments", mock.Anything, mock.Anything, mock.Anything)
	f.dedup.AssertCalled(t, "Forget", mock.Anything, "sns-1")
}

func TestIngest_MessageWithoutContent(t *testing.T) {
	f := newFixture()
	n := notification(rawEmail)
	n.Message = `{"notificationType":"Received"}`

	_, err := f.service.Ingest(context.Background(), n)

	assert.ErrorIs(t, err, ErrMalformedEmail)
}

func TestIngest_DuplicateSNSDeliverySkipped(t *testing.T) {
	f := newFixture()
	f.dedup.On("MarkSeen", mock.Anything, "sns-1").Return(false, nil)

	result, err := f.service.Ingest(context.Background(), notification(rawEmail))

	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	f.messages.AssertNotCalled(t, "GetByMessageID", mock.Anything, mock.Anything)
}

func TestIngest_AlreadyStoredMessageReturnsExistingIds(t *testing.T) {
	f := newFixture()
	f.dedup.On("MarkSeen", mock.Anything, "sns-1").Return(true, nil)
	f.messages.On("GetByMessageID", mock.Anything, "<first@example.com>").
		Return(&models.Message{ID: "msg_old", TicketID: "tckt_old", MessageID: "<first@example.com>"}, nil)

	result, err := f.service.Ingest(context.Background(), notification(rawEmail))

	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, "tckt_old", result.TicketID)
	assert.Equal(t, "msg_old", result.MessageID)
	f.resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
}

func TestIngest_PersistFailureCarriesRawContent(t *testing.T) {
	// Arrange
	f := newFixture()
	n := notification(rawEmail)
	f.dedup.On("MarkSeen", mock.Anything, "sns-1").Return(true, nil)
	f.dedup.On("Forget", mock.Anything, "sns-1").Return(nil)
	f.messages.On("GetByMessageID", mock.Anything, mock.Anything).Return(nil, nil)
	f.resolver.On("Resolve", mock.Anything, mock.Anything).Return(&threading.Resolution{Ticket: &models.Ticket{ID: "tckt_1"}}, nil)
	f.attachments.On("StoreAll", mock.Anything, mock.Anything).Return(nil)
	f.messages.On("CreateWithAttachments", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)

	// Act
	result, err := f.service.Ingest(context.Background(), n)

	// Assert
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedEmail)
	require.NotNil(t, result)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte(rawEmail)), result.RawContent)
	f.publisher.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_ConcurrentDuplicateWriteReturnsExisting(t *testing.T) {
	f := newFixture()
	f.dedup.On("MarkSeen", mock.Anything, mock.Anything).Return(true, nil)
	f.messages.On("GetByMessageID", mock.Anything, mock.Anything).Return(nil, nil).Once()
	f.messages.On("GetByMessageID", mock.Anything, mock.Anything).
		Return(&models.Message{ID: "msg_other", TicketID: "tckt_1"}, nil).Once()
	f.resolver.On("Resolve", mock.Anything, mock.Anything).Return(&threading.Resolution{Ticket: &models.Ticket{ID: "tckt_1"}}, nil)
	f.attachments.On("StoreAll", mock.Anything, mock.Anything).Return(nil)
	f.messages.On("CreateWithAttachments", mock.Anything, mock.Anything, mock.Anything).Return(repository.ErrDuplicateMessage)

	result, err := f.service.Ingest(context.Background(), notification(rawEmail))

	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, "msg_other", result.MessageID)
	f.publisher.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_MissingMessageIDIsGenerated(t *testing.T) {
	f := newFixture()
	raw := strings.Replace(rawEmail, "Message-ID: <first@example.com>\r\n", "", 1)
	f.dedup.On("MarkSeen", mock.Anything, mock.Anything).Return(true, nil)
	f.messages.On("GetByMessageID", mock.Anything, mock.MatchedBy(func(id string) bool {
		return strings.HasSuffix(id, "@support.example.com>")
	})).Return(nil, nil)
	f.resolver.On("Resolve", mock.Anything, mock.Anything).Return(&threading.Resolution{Ticket: &models.Ticket{ID: "tckt_1"}, Created: true}, nil)
	f.attachments.On("StoreAll", mock.Anything, mock.Anything).Return(nil)
	f.messages.On("CreateWithAttachments", mock.Anything, mock.Anything, mock.Anything).Return(nil).Run(assignMessageID)
	f.publisher.On("Enqueue", mock.Anything, mock.Anything, mock.Anything).Return("job-1", nil)

	_, err := f.service.Ingest(context.Background(), notification(raw))

	require.NoError(t, err)
	f.messages.AssertExpectations(t)
}

func TestIngest_SubscriptionConfirmation(t *testing.T) {
	// Arrange
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newFixture()
	n := notification(rawEmail)
	n.Type = dto.SNSTypeSubscriptionConfirmation
	n.SubscribeURL = server.URL + "/confirm?token=abc"

	// Act
	result, err := f.service.Ingest(context.Background(), n)

	// Assert
	require.NoError(t, err)
	assert.True(t, result.Confirmed)
	assert.True(t, called)
	f.dedup.AssertNotCalled(t, "MarkSeen", mock.Anything, mock.Anything)
}

func TestIngest_SubscriptionConfirmationNon200Fails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	f := newFixture()
	n := notification(rawEmail)
	n.Type = dto.SNSTypeSubscriptionConfirmation
	n.SubscribeURL = server.URL

	result, err := f.service.Ingest(context.Background(), n)

	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrSubscriptionConfirmFailed)
}

func TestIngest_SubscriptionConfirmationWithoutURLIsInvalid(t *testing.T) {
	f := newFixture()
	n := notification(rawEmail)
	n.Type = dto.SNSTypeSubscriptionConfirmation

	_, err := f.service.Ingest(context.Background(), n)

	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestIngest_UnsubscribeConfirmationIsAcknowledged(t *testing.T) {
	f := newFixture()
	n := notification(rawEmail)
	n.Type = dto.SNSTypeUnsubscribeConfirmation

	result, err := f.service.Ingest(context.Background(), n)

	require.NoError(t, err)
	assert.False(t, result.Confirmed)
	assert.Empty(t, result.TicketID)
}

func TestRequeue_EnqueuesProcessInbound(t *testing.T) {
	f := newFixture()
	f.publisher.On("Enqueue", mock.Anything, enum.JobProcessInbound, dto.ProcessInboundJob{
		SNSMessageId: "sns-1",
		RawEmail:     "cmF3",
	}).Return("job-9", nil)

	err := f.service.Requeue(context.Background(), "sns-1", "cmF3")

	require.NoError(t, err)
	f.publisher.AssertExpectations(t)
}

func TestRequeue_PublishFailure(t *testing.T) {
	f := newFixture()
	f.publisher.On("Enqueue", mock.Anything, mock.Anything, mock.Anything).Return("", assert.AnError)

	err := f.service.Requeue(context.Background(), "sns-1", "cmF3")

	assert.ErrorIs(t, err, assert.AnError)
}

func TestIngestRaw_DecodeFailure(t *testing.T) {
	f := newFixture()

	_, err := f.service.IngestRaw(context.Background(), "sns-1", []byte("   "))

	assert.ErrorIs(t, err, ErrMalformedEmail)
}
