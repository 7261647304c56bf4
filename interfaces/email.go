package interfaces

import (
	"context"

	"github.com/customeros/supportstack/dto"
)

// EmailTransmitter hands a rendered email to the outbound provider and returns its message id.
type EmailTransmitter interface {
	Send(ctx context.Context, email *dto.OutboundEmail) (string, error)
}
