package enum

type WebhookEvent string

const (
	WebhookEventTicketCreated WebhookEvent = "ticket.created"
	WebhookEventEmailReceived WebhookEvent = "email.received"
	WebhookEventEmailSent     WebhookEvent = "email.sent"
)

func (t WebhookEvent) String() string {
	return string(t)
}
