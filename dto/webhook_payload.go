package dto

import "github.com/customeros/supportstack/internal/enum"

// WebhookPayload is the body POSTed to subscriber endpoints.
type WebhookPayload struct {
	Event     enum.WebhookEvent    `json:"event"`
	Timestamp string               `json:"timestamp"`
	Ticket    WebhookTicketPayload `json:"ticket"`
}

type WebhookTicketPayload struct {
	Id            string                 `json:"id"`
	Status        enum.TicketStatus      `json:"status"`
	Priority      enum.TicketPriority    `json:"priority"`
	Customer      WebhookCustomer        `json:"customer"`
	Subject       string                 `json:"subject"`
	LatestMessage *WebhookMessagePayload `json:"latest_message,omitempty"`
	Tags          []string               `json:"tags"`
}

type WebhookCustomer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type WebhookMessagePayload struct {
	From string `json:"from"`
	Body string `json:"body"`
	Date string `json:"date"`
}
