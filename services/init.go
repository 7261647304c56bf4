package services

import (
	"github.com/redis/go-redis/v9"

	"github.com/customeros/supportstack/config"
	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/cache"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/repository"
	"github.com/customeros/supportstack/services/attachments"
	"github.com/customeros/supportstack/services/events"
	"github.com/customeros/supportstack/services/ingestion"
	"github.com/customeros/supportstack/services/outbound"
	"github.com/customeros/supportstack/services/ses"
	"github.com/customeros/supportstack/services/storage"
	"github.com/customeros/supportstack/services/threading"
	"github.com/customeros/supportstack/services/tickets"
	"github.com/customeros/supportstack/services/webhooks"
)

type Services struct {
	EventsService     *events.EventsService
	DedupStore        interfaces.DedupStore
	StorageService    interfaces.StorageService
	AttachmentService *attachments.AttachmentService
	ThreadResolver    *threading.ThreadResolver
	IngestionService  *ingestion.IngestionService
	OutboundService   *outbound.OutboundService
	WebhookDispatcher *webhooks.Dispatcher
	TicketService     *tickets.TicketService
}

// InitServices builds the service graph. redisClient may be nil, in which case SNS
// MessageId dedup is disabled.
func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories, redisClient *redis.Client) (*Services, error) {
	eventsService, err := events.NewEventsService(cfg.AppConfig.RabbitMQURL, log, cfg.QueueConfig, repos.JobRecordRepository)
	if err != nil {
		return nil, err
	}

	dedup := cache.NewNoopDedupStore()
	if redisClient != nil {
		dedup = cache.NewRedisDedupStore(redisClient, 0)
	}

	storageService := storage.NewStorageServiceFromConfig(cfg.StorageConfig)
	attachmentService := attachments.NewAttachmentService(storageService, log, cfg.AttachmentConfig)
	resolver := threading.NewThreadResolver(repos.TicketRepository, log)

	publisher := eventsService.Publisher

	return &Services{
		EventsService:     eventsService,
		DedupStore:        dedup,
		StorageService:    storageService,
		AttachmentService: attachmentService,
		ThreadResolver:    resolver,
		IngestionService: ingestion.NewIngestionService(
			resolver,
			attachmentService,
			repos.MessageRepository,
			publisher,
			dedup,
			log,
			cfg.EmailConfig.Domain,
		),
		OutboundService: outbound.NewOutboundService(
			repos.MessageRepository,
			ses.NewSESTransmitter(cfg.SESConfig),
			publisher,
			log,
			cfg.EmailConfig,
		),
		WebhookDispatcher: webhooks.NewDispatcher(
			repos.WebhookConfigRepository,
			repos.WebhookLogRepository,
			repos.TicketRepository,
			repos.MessageRepository,
			log,
			cfg.AppConfig.ProductName,
		),
		TicketService: tickets.NewTicketService(
			repos.TicketRepository,
			repos.MessageRepository,
			publisher,
			log,
			cfg.EmailConfig,
		),
	}, nil
}
