package internal

import (
	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/listeners"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/services"
)

// InitListeners registers one handler per job class on the subscriber
func InitListeners(subscriber interfaces.JobSubscriber, s *services.Services, log logger.Logger) {
	handlers := []interfaces.JobHandler{
		listeners.NewSendEmailListener(log, s.OutboundService),
		listeners.NewDispatchWebhookListener(log, s.WebhookDispatcher),
		listeners.NewProcessInboundListener(log, s.IngestionService),
	}

	for _, handler := range handlers {
		subscriber.RegisterHandler(handler)
		log.Infof("Registered %s listener", handler.JobClass())
	}
}
