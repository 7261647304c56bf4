package events

import (
	"fmt"

	"github.com/customeros/supportstack/config"
	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/logger"
)

type EventsService struct {
	Publisher  *RabbitMQPublisher
	Subscriber *RabbitMQSubscriber
}

func NewEventsService(rabbitmqURL string, log logger.Logger, queueConfig *config.QueueConfig, jobRecords interfaces.JobRecordRepository) (*EventsService, error) {
	topology := NewTopology(queueConfig)

	publisher, err := NewRabbitMQPublisher(rabbitmqURL, log, topology, nil)
	if err != nil {
		return nil, err
	}

	subscriber, err := NewRabbitMQSubscriber(rabbitmqURL, log, topology, publisher, jobRecords, NewSubscriberConfig(queueConfig))
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	return &EventsService{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

func (s *EventsService) Close() error {
	var errs []error

	if s.Subscriber != nil {
		if err := s.Subscriber.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing events service: %v", errs)
	}

	return nil
}
