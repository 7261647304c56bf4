package dto

import "github.com/customeros/supportstack/internal/enum"

type ReplyRequest struct {
	BodyText string `json:"body_text"`
	BodyHTML string `json:"body_html,omitempty"`
}

type ReplyResponse struct {
	MessageId      string `json:"messageId"`
	EmailMessageId string `json:"emailMessageId"`
	TicketStatus   string `json:"ticketStatus"`
}

type UpdateTicketStatusRequest struct {
	Status enum.TicketStatus `json:"status"`
}

type InboundResponse struct {
	Success   bool   `json:"success"`
	TicketId  string `json:"ticketId,omitempty"`
	MessageId string `json:"messageId,omitempty"`
	Queued    bool   `json:"queued,omitempty"`
	Message   string `json:"message,omitempty"`
}

// IngestResult is the outcome of one inbound push.
type IngestResult struct {
	TicketID  string
	MessageID string
	Created   bool
	Confirmed bool
	Duplicate bool
	// RawContent is set when the notification was read but not persisted, for queue hand-off.
	RawContent string
}
