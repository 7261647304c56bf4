package events

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/supportstack/dto"
	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/tracing"
)

// ErrUnknownPayload marks a job whose payload does not match its class. Such jobs are
// dead-lettered without retry.
var ErrUnknownPayload = errors.New("unknown job payload")

type validatable interface {
	Validate() error
}

// BaseJobListener provides common functionality for all listeners
type BaseJobListener struct {
	logger logger.Logger
	class  enum.JobClass
}

func NewBaseJobListener(logger logger.Logger, class enum.JobClass) BaseJobListener {
	return BaseJobListener{
		logger: logger,
		class:  class,
	}
}

func (b BaseJobListener) JobClass() enum.JobClass {
	return b.class
}

func (b BaseJobListener) Logger() logger.Logger {
	return b.logger
}

// ValidateJob checks the envelope belongs to this listener's class.
func (b BaseJobListener) ValidateJob(ctx context.Context, job *dto.Job) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "Listener.ValidateJob")
	defer span.Finish()

	if job == nil {
		err := errors.Wrap(ErrUnknownPayload, "job is nil")
		tracing.TraceErr(span, err)
		return err
	}
	if job.Id == "" {
		err := errors.Wrap(ErrUnknownPayload, "job id is empty")
		tracing.TraceErr(span, err)
		return err
	}
	if job.Class != b.class {
		err := errors.Wrapf(ErrUnknownPayload, "job class %q delivered to %s listener", job.Class, b.class)
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// DecodePayload strictly decodes a job payload: unknown fields or missing required
// fields fail closed with ErrUnknownPayload.
func DecodePayload[T validatable](ctx context.Context, job *dto.Job) (T, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Listener.DecodePayload")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)

	var decoded T

	decoder := json.NewDecoder(bytes.NewReader(job.Payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&decoded); err != nil {
		err = errors.Wrapf(ErrUnknownPayload, "%s payload: %v", job.Class, err)
		tracing.TraceErr(span, err)
		return decoded, err
	}
	if decoder.More() {
		err := errors.Wrapf(ErrUnknownPayload, "%s payload has trailing data", job.Class)
		tracing.TraceErr(span, err)
		return decoded, err
	}

	if err := decoded.Validate(); err != nil {
		err = errors.Wrapf(ErrUnknownPayload, "%s payload: %v", job.Class, err)
		tracing.TraceErr(span, err)
		return decoded, err
	}

	return decoded, nil
}
