package interfaces

import (
	"context"

	"github.com/customeros/supportstack/dto"
	"github.com/customeros/supportstack/internal/enum"
)

type JobPublisher interface {
	// Enqueue returns the job id once the broker has confirmed the job.
	Enqueue(ctx context.Context, class enum.JobClass, payload interface{}) (string, error)
	Close() error
}

// JobHandler processes one job of its class. A returned error is retried per queue policy.
type JobHandler interface {
	Handle(ctx context.Context, job *dto.Job) error
	JobClass() enum.JobClass
}

type JobSubscriber interface {
	RegisterHandler(handler JobHandler)
	Start(ctx context.Context) error
	Close() error
}
