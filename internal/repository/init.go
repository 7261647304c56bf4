package repository

import (
	"gorm.io/gorm"

	"github.com/customeros/supportstack/interfaces"
)

type Repositories struct {
	TicketRepository        interfaces.TicketRepository
	MessageRepository       interfaces.MessageRepository
	WebhookConfigRepository interfaces.WebhookConfigRepository
	WebhookLogRepository    interfaces.WebhookLogRepository
	JobRecordRepository     interfaces.JobRecordRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		TicketRepository:        NewTicketRepository(db),
		MessageRepository:       NewMessageRepository(db),
		WebhookConfigRepository: NewWebhookConfigRepository(db),
		WebhookLogRepository:    NewWebhookLogRepository(db),
		JobRecordRepository:     NewJobRecordRepository(db),
	}
}
