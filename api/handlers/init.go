package handlers

import (
	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/logger"
)

type APIHandlers struct {
	Inbound *InboundHandler
	Tickets *TicketsHandler
	Health  *HealthHandler
}

func InitHandlers(ingestion interfaces.IngestionService, tickets interfaces.TicketService, log logger.Logger, dependencies map[string]Pinger) *APIHandlers {
	return &APIHandlers{
		Inbound: NewInboundHandler(ingestion, log),
		Tickets: NewTicketsHandler(tickets, log),
		Health:  NewHealthHandler(dependencies),
	}
}
