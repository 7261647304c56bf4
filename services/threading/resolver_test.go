package threading

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/mocks"
	"github.com/customeros/supportstack/internal/models"
	"github.com/customeros/supportstack/internal/repository"
	"github.com/customeros/supportstack/services/email_parser"
)

func assignTicketID(id string) func(args mock.Arguments) {
	return func(args mock.Arguments) {
		args.Get(1).(*models.Ticket).ID = id
	}
}

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newResolver(repo *mocks.TicketRepository) *ThreadResolver {
	r := NewThreadResolver(repo, getLogger())
	r.now = func() time.Time { return fixedNow }
	return r
}

func TestResolve_NoParentCreatesNewTicket(t *testing.T) {
	// Arrange
	repo := new(mocks.TicketRepository)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*models.Ticket")).Return(nil).Run(assignTicketID("tckt_new")).Once()
	resolver := newResolver(repo)

	parsed := &email_parser.ParsedEmail{
		From:      email_parser.Address{Address: "alice@example.com"},
		Subject:   "Help",
		MessageID: "<first@example.com>",
	}

	// Act
	resolution, err := resolver.Resolve(context.Background(), parsed)

	// Assert
	require.NoError(t, err)
	assert.True(t, resolution.Created)
	ticket := resolution.Ticket
	assert.Equal(t, enum.TicketStatusNew, ticket.Status)
	assert.Equal(t, enum.TicketPriorityMedium, ticket.Priority)
	assert.Equal(t, "alice@example.com", ticket.CustomerEmail)
	assert.Equal(t, "Alice", ticket.CustomerName)
	assert.Equal(t, "Help", ticket.Subject)
	assert.Equal(t, "<first@example.com>", ticket.EmailMessageID)
	assert.Equal(t, fixedNow, ticket.LastMessageAt)
	repo.AssertNotCalled(t, "FindByThreadMessageID", mock.Anything, mock.Anything)
	repo.AssertNumberOfCalls(t, "Create", 1)
}

func TestResolve_ReplyReturnsSameTicket(t *testing.T) {
	// Arrange
	repo := new(mocks.TicketRepository)
	existing := &models.Ticket{ID: "tckt_1", Status: enum.TicketStatusWaiting}
	touched := &models.Ticket{ID: "tckt_1", Status: enum.TicketStatusWaiting, LastMessageAt: fixedNow}
	repo.On("FindByThreadMessageID", mock.Anything, "<first@example.com>").Return(existing, nil)
	repo.On("TouchForInbound", mock.Anything, "tckt_1", fixedNow).Return(touched, nil)
	resolver := newResolver(repo)

	parsed := &email_parser.ParsedEmail{
		From:      email_parser.Address{Address: "someone-else@example.org"},
		MessageID: "<second@example.com>",
		InReplyTo: "<first@example.com>",
	}

	// Act
	resolution, err := resolver.Resolve(context.Background(), parsed)

	// Assert
	require.NoError(t, err)
	assert.False(t, resolution.Created)
	assert.Equal(t, "tckt_1", resolution.Ticket.ID)
	assert.Equal(t, enum.TicketStatusWaiting, resolution.Ticket.Status)
	assert.Equal(t, fixedNow, resolution.Ticket.LastMessageAt)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestResolve_ReplyToResolvedTicketReopens(t *testing.T) {
	repo := new(mocks.TicketRepository)
	existing := &models.Ticket{ID: "tckt_1", Status: enum.TicketStatusResolved}
	reopened := &models.Ticket{ID: "tckt_1", Status: enum.TicketStatusReopened, ResolvedAt: nil}
	repo.On("FindByThreadMessageID", mock.Anything, "<first@example.com>").Return(existing, nil)
	repo.On("TouchForInbound", mock.Anything, "tckt_1", fixedNow).Return(reopened, nil)
	resolver := newResolver(repo)

	resolution, err := resolver.Resolve(context.Background(), &email_parser.ParsedEmail{
		From:      email_parser.Address{Address: "alice@example.com"},
		MessageID: "<third@example.com>",
		InReplyTo: "<first@example.com>",
	})

	require.NoError(t, err)
	assert.Equal(t, enum.TicketStatusReopened, resolution.Ticket.Status)
	assert.Nil(t, resolution.Ticket.ResolvedAt)
}

func TestResolve_UnknownParentOpensNewTicket(t *testing.T) {
	repo := new(mocks.TicketRepository)
	repo.On("FindByThreadMessageID", mock.Anything, "<lost@example.com>").Return(nil, nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil).Run(assignTicketID("tckt_new"))
	resolver := newResolver(repo)

	resolution, err := resolver.Resolve(context.Background(), &email_parser.ParsedEmail{
		From:       email_parser.Address{Address: "bob@example.com", Name: "Bob"},
		MessageID:  "<new@example.com>",
		InReplyTo:  "<lost@example.com>",
		References: []string{"<root@example.com>", "<lost@example.com>"},
	})

	require.NoError(t, err)
	assert.True(t, resolution.Created)
	assert.Equal(t, "<new@example.com>", resolution.Ticket.EmailMessageID)
	assert.Equal(t, []string{"<root@example.com>", "<lost@example.com>"}, []string(resolution.Ticket.EmailReferences))
}

func TestResolve_UnknownParentInsideKnownThreadStillOpensNewTicket(t *testing.T) {
	// Arrange
	repo := new(mocks.TicketRepository)
	repo.On("FindByThreadMessageID", mock.Anything, "<unknown@elsewhere>").Return(nil, nil)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*models.Ticket")).Return(nil).Run(assignTicketID("tckt_second")).Once()
	resolver := newResolver(repo)

	// References[0] is the originating message of an existing RESOLVED ticket
	parsed := &email_parser.ParsedEmail{
		From:       email_parser.Address{Address: "alice@example.com"},
		MessageID:  "<reply@example.com>",
		InReplyTo:  "<unknown@elsewhere>",
		References: []string{"<first@example.com>", "<unknown@elsewhere>"},
	}

	// Act
	resolution, err := resolver.Resolve(context.Background(), parsed)

	// Assert
	require.NoError(t, err)
	assert.True(t, resolution.Created)
	assert.Equal(t, "tckt_second", resolution.Ticket.ID)
	assert.Equal(t, enum.TicketStatusNew, resolution.Ticket.Status)
	repo.AssertNotCalled(t, "TouchForInbound", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "GetByEmailMessageID", mock.Anything, mock.Anything)
}

func TestResolve_ConcurrentIngestOfSameEmailReturnsExistingTicket(t *testing.T) {
	// Arrange
	repo := new(mocks.TicketRepository)
	earlier := &models.Ticket{ID: "tckt_earlier", EmailMessageID: "<first@example.com>", Status: enum.TicketStatusNew}
	repo.On("Create", mock.Anything, mock.Anything).Return(repository.ErrDuplicateTicket).Once()
	repo.On("GetByEmailMessageID", mock.Anything, "<first@example.com>").Return(earlier, nil)
	repo.On("TouchForInbound", mock.Anything, "tckt_earlier", fixedNow).Return(earlier, nil)
	resolver := newResolver(repo)

	// Act
	resolution, err := resolver.Resolve(context.Background(), &email_parser.ParsedEmail{
		From:      email_parser.Address{Address: "alice@example.com"},
		MessageID: "<first@example.com>",
	})

	// Assert
	require.NoError(t, err)
	assert.True(t, resolution.Created)
	assert.Equal(t, "tckt_earlier", resolution.Ticket.ID)
}

func TestResolve_ConflictRetriesAreBounded(t *testing.T) {
	repo := new(mocks.TicketRepository)
	repo.On("Create", mock.Anything, mock.Anything).Return(repository.ErrDuplicateTicket)
	repo.On("GetByEmailMessageID", mock.Anything, mock.Anything).Return(nil, nil)
	resolver := newResolver(repo)

	resolution, err := resolver.Resolve(context.Background(), &email_parser.ParsedEmail{
		From:      email_parser.Address{Address: "alice@example.com"},
		MessageID: "<first@example.com>",
	})

	assert.Nil(t, resolution)
	assert.ErrorIs(t, err, ErrTicketCreateConflict)
	repo.AssertNumberOfCalls(t, "Create", maxCreateAttempts)
}

func TestResolve_RepositoryErrorPropagates(t *testing.T) {
	repo := new(mocks.TicketRepository)
	repo.On("FindByThreadMessageID", mock.Anything, mock.Anything).Return(nil, assert.AnError)
	resolver := newResolver(repo)

	_, err := resolver.Resolve(context.Background(), &email_parser.ParsedEmail{InReplyTo: "<x@y>"})

	assert.ErrorIs(t, err, assert.AnError)
}
