package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/customeros/supportstack/dto"
	"github.com/customeros/supportstack/internal/enum"
)

type JobPublisher struct {
	mock.Mock
}

func (m *JobPublisher) Enqueue(ctx context.Context, class enum.JobClass, payload interface{}) (string, error) {
	args := m.Called(ctx, class, payload)
	return args.String(0), args.Error(1)
}

func (m *JobPublisher) Close() error {
	return nil
}

type EmailTransmitter struct {
	mock.Mock
}

func (m *EmailTransmitter) Send(ctx context.Context, email *dto.OutboundEmail) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

type DedupStore struct {
	mock.Mock
}

func (m *DedupStore) MarkSeen(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *DedupStore) Forget(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type IngestionService struct {
	mock.Mock
}

func (m *IngestionService) Ingest(ctx context.Context, notification *dto.SNSNotification) (*dto.IngestResult, error) {
	args := m.Called(ctx, notification)
	return resultOrNil(args.Get(0)), args.Error(1)
}

func (m *IngestionService) IngestRaw(ctx context.Context, snsMessageID string, raw []byte) (*dto.IngestResult, error) {
	args := m.Called(ctx, snsMessageID, raw)
	return resultOrNil(args.Get(0)), args.Error(1)
}

func (m *IngestionService) Requeue(ctx context.Context, snsMessageID, rawContent string) error {
	return m.Called(ctx, snsMessageID, rawContent).Error(0)
}

func resultOrNil(v interface{}) *dto.IngestResult {
	if v == nil {
		return nil
	}
	return v.(*dto.IngestResult)
}
