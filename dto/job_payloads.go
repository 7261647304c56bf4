package dto

import (
	"github.com/pkg/errors"

	"github.com/customeros/supportstack/internal/enum"
)

type SendEmailJob struct {
	MessageId string `json:"message_id"`
}

func (j SendEmailJob) Validate() error {
	if j.MessageId == "" {
		return errors.New("message_id is required")
	}
	return nil
}

type DispatchWebhookJob struct {
	Event     enum.WebhookEvent `json:"event"`
	TicketId  string            `json:"ticket_id"`
	MessageId string            `json:"message_id,omitempty"`
}

func (j DispatchWebhookJob) Validate() error {
	switch j.Event {
	case enum.WebhookEventTicketCreated, enum.WebhookEventEmailReceived, enum.WebhookEventEmailSent:
	default:
		return errors.Errorf("unknown webhook event %q", j.Event)
	}
	if j.TicketId == "" {
		return errors.New("ticket_id is required")
	}
	return nil
}

type ProcessInboundJob struct {
	SNSMessageId string `json:"sns_message_id"`
	// RawEmail is the base64 MIME content as delivered by SES.
	RawEmail string `json:"raw_email,omitempty"`
}

func (j ProcessInboundJob) Validate() error {
	if j.SNSMessageId == "" {
		return errors.New("sns_message_id is required")
	}
	if j.RawEmail == "" {
		return errors.New("raw_email is required")
	}
	return nil
}
