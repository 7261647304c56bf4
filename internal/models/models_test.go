package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/supportstack/internal/enum"
)

func TestTicket_ApplyStatus_ResolvedSetsResolvedAt(t *testing.T) {
	ticket := &Ticket{Status: enum.TicketStatusInProgress}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	ticket.ApplyStatus(enum.TicketStatusResolved, now)

	require.NotNil(t, ticket.ResolvedAt)
	assert.Equal(t, now, *ticket.ResolvedAt)
	assert.Equal(t, now, ticket.UpdatedAt)
}

func TestTicket_ApplyStatus_ReopenedClearsResolvedAt(t *testing.T) {
	resolved := time.Now()
	ticket := &Ticket{Status: enum.TicketStatusResolved, ResolvedAt: &resolved}

	ticket.ApplyStatus(enum.TicketStatusReopened, time.Now())

	assert.Nil(t, ticket.ResolvedAt)
	assert.Equal(t, enum.TicketStatusReopened, ticket.Status)
}

func TestTicket_BeforeCreateDefaults(t *testing.T) {
	ticket := &Ticket{CustomerEmail: "alice@example.com"}

	require.NoError(t, ticket.BeforeCreate(nil))

	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, enum.TicketStatusNew, ticket.Status)
	assert.Equal(t, enum.TicketPriorityMedium, ticket.Priority)
	assert.False(t, ticket.LastMessageAt.IsZero())
}

func TestMessage_Body(t *testing.T) {
	m := &Message{BodyText: "Hi\n-- \nsig", StrippedText: "Hi"}
	assert.Equal(t, "Hi", m.Body())

	m.StrippedText = ""
	assert.Equal(t, "Hi\n-- \nsig", m.Body())
}

func TestWebhookConfig_Timeout(t *testing.T) {
	assert.Equal(t, DefaultWebhookTimeout, (&WebhookConfig{}).Timeout())
	assert.Equal(t, 1500*time.Millisecond, (&WebhookConfig{TimeoutMs: 1500}).Timeout())
}

func TestStringMap_Scan(t *testing.T) {
	var m StringMap

	require.NoError(t, m.Scan([]byte(`{"X-Token":"abc"}`)))

	assert.Equal(t, "abc", m["X-Token"])
}
