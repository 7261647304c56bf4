package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/customeros/supportstack/config"
	"github.com/customeros/supportstack/dto"
	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/metrics"
	"github.com/customeros/supportstack/internal/models"
	"github.com/customeros/supportstack/internal/tracing"
	"github.com/customeros/supportstack/internal/utils"
)

type SubscriberConfig struct {
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
	Concurrency         map[enum.JobClass]int
}

func NewSubscriberConfig(cfg *config.QueueConfig) *SubscriberConfig {
	subscriberConfig := &SubscriberConfig{
		ReconnectBackoff:    DefaultReconnectBackoff,
		MaxReconnectBackoff: DefaultMaxReconnectBackoff,
		Concurrency: map[enum.JobClass]int{
			enum.JobSendEmail:       5,
			enum.JobDispatchWebhook: 3,
			enum.JobProcessInbound:  10,
		},
	}
	if cfg == nil {
		return subscriberConfig
	}
	setPositive(subscriberConfig.Concurrency, enum.JobSendEmail, cfg.SendEmailConcurrency)
	setPositive(subscriberConfig.Concurrency, enum.JobDispatchWebhook, cfg.WebhookConcurrency)
	setPositive(subscriberConfig.Concurrency, enum.JobProcessInbound, cfg.ProcessInboundConcurrency)
	return subscriberConfig
}

func setPositive(m map[enum.JobClass]int, class enum.JobClass, value int) {
	if value > 0 {
		m[class] = value
	}
}

// jobRepublisher moves a failed job into a delay queue.
type jobRepublisher interface {
	Republish(ctx context.Context, job *dto.Job, queue string) error
}

type RabbitMQSubscriber struct {
	connection      *amqp091.Connection
	connectionMutex sync.Mutex
	url             string
	logger          logger.Logger
	config          SubscriberConfig
	topology        Topology
	republisher     jobRepublisher
	jobRecords      interfaces.JobRecordRepository
	handlers        map[enum.JobClass]interfaces.JobHandler
	handlerMutex    sync.RWMutex
	closed          bool
}

func NewRabbitMQSubscriber(rabbitmqURL string, logger logger.Logger, topology Topology, republisher jobRepublisher, jobRecords interfaces.JobRecordRepository, config *SubscriberConfig) (*RabbitMQSubscriber, error) {
	if config == nil {
		config = NewSubscriberConfig(nil)
	}

	subscriber := &RabbitMQSubscriber{
		url:         rabbitmqURL,
		logger:      logger,
		config:      *config,
		topology:    topology,
		republisher: republisher,
		jobRecords:  jobRecords,
		handlers:    make(map[enum.JobClass]interfaces.JobHandler),
	}

	err := subscriber.connect()
	if err != nil {
		return nil, err
	}

	return subscriber, nil
}

func (r *RabbitMQSubscriber) RegisterHandler(handler interfaces.JobHandler) {
	r.handlerMutex.Lock()
	defer r.handlerMutex.Unlock()

	class := handler.JobClass()
	r.handlers[class] = handler
	r.logger.Infof("Registered handler for job class: %s on queue: %s", class, QueueName(class))
}

// Start consumes every registered class with its own worker pool until ctx is done.
func (r *RabbitMQSubscriber) Start(ctx context.Context) error {
	r.handlerMutex.RLock()
	defer r.handlerMutex.RUnlock()

	if len(r.handlers) == 0 {
		return errors.New("no job handlers registered")
	}
	for _, handler := range r.handlers {
		go r.consume(ctx, handler)
	}
	return nil
}

func (r *RabbitMQSubscriber) concurrency(class enum.JobClass) int {
	if n := r.config.Concurrency[class]; n > 0 {
		return n
	}
	return 1
}

func (r *RabbitMQSubscriber) consume(ctx context.Context, handler interfaces.JobHandler) {
	class := handler.JobClass()
	queueName := QueueName(class)
	workers := r.concurrency(class)

	for {
		if ctx.Err() != nil {
			return
		}

		channel, err := r.openChannel()
		if err != nil {
			r.logger.Errorf("Failed to open channel for queue %s: %v. Retrying...", queueName, err)
			r.sleep(ctx, 5*time.Second)
			continue
		}

		// prefetch bounds the unacked jobs to the worker count
		if err := channel.Qos(workers, 0, false); err != nil {
			r.logger.Errorf("Failed to set prefetch on queue %s: %v. Retrying...", queueName, err)
			_ = channel.Close()
			r.sleep(ctx, 5*time.Second)
			continue
		}

		deliveries, err := channel.Consume(
			queueName, // queue
			"",        // consumer tag
			false,     // auto-ack
			false,     // exclusive
			false,     // no-local
			false,     // no-wait
			nil,       // args
		)
		if err != nil {
			r.logger.Errorf("Failed to register consumer on queue %s: %v. Retrying...", queueName, err)
			_ = channel.Close()
			r.sleep(ctx, 5*time.Second)
			continue
		}

		r.logger.Infof("Listening for jobs on queue %s with %d workers", queueName, workers)

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for d := range deliveries {
					r.handleDelivery(d, handler)
				}
			}()
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-ctx.Done():
			_ = channel.Close()
			<-done
			return
		case <-done:
		}

		r.logger.Warnf("Connection lost for queue %s. Reconnecting...", queueName)
		r.sleep(ctx, 5*time.Second)
	}
}

func (r *RabbitMQSubscriber) handleDelivery(d amqp091.Delivery, handler interfaces.JobHandler) {
	defer tracing.RecoverAndLogToJaeger(r.logger)

	class := handler.JobClass()

	var job dto.Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		r.logger.Errorf("Unreadable job envelope on queue %s: %v", QueueName(class), err)
		r.finishFailed(context.Background(), d, &dto.Job{Id: d.MessageId, Class: class, Attempt: 1}, errors.Wrap(ErrUnknownPayload, err.Error()))
		return
	}
	if job.Attempt < 1 {
		job.Attempt = 1
	}

	ctx := utils.WithCustomContext(context.Background(), &utils.CustomContext{AppSource: job.Metadata.AppSource})
	ctx, span := tracing.StartRabbitMQMessageTracerSpanWithHeader(ctx, "RabbitMQSubscriber.HandleJob", job.Metadata.UberTraceId)
	defer span.Finish()
	tracing.TagComponentListener(span)
	tracing.TagJob(span, job.Id, class.String())
	span.SetTag("attempt", job.Attempt)

	err := r.runHandler(ctx, handler, &job)
	switch {
	case err == nil:
		r.finishCompleted(ctx, d, &job)
	case errors.Is(err, ErrUnknownPayload):
		tracing.TraceErr(span, err)
		r.logger.Errorf("Job %s (%s) has an invalid payload, dead-lettering: %v", job.Id, class, err)
		r.finishFailed(ctx, d, &job, err)
	case job.Attempt >= r.topology.MaxAttempts:
		tracing.TraceErr(span, err)
		r.logger.Errorf("Job %s (%s) failed on final attempt %d: %v", job.Id, class, job.Attempt, err)
		r.finishFailed(ctx, d, &job, err)
	default:
		tracing.TraceErr(span, err)
		r.scheduleRetry(ctx, d, &job, err)
	}
}

// runHandler turns a handler panic into a job failure so the delivery is still settled.
func (r *RabbitMQSubscriber) runHandler(ctx context.Context, handler interfaces.JobHandler, job *dto.Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("job handler panic: %v", p)
		}
	}()
	return handler.Handle(ctx, job)
}

func (r *RabbitMQSubscriber) scheduleRetry(ctx context.Context, d amqp091.Delivery, job *dto.Job, cause error) {
	step := job.Attempt
	retryQueue := RetryQueueName(job.Class, step)

	next := *job
	next.Attempt = job.Attempt + 1
	next.Metadata.Timestamp = utils.Now().Format(time.RFC3339)

	if err := r.republisher.Republish(ctx, &next, retryQueue); err != nil {
		// without a retry copy the original goes back to the queue head
		r.logger.Errorf("Failed to schedule retry for job %s: %v", job.Id, err)
		r.retryAckNack(d, false, true)
		return
	}

	r.logger.Warnf("Job %s (%s) attempt %d failed, retrying in %v: %v",
		job.Id, job.Class, job.Attempt, r.topology.RetryDelay(step), cause)
	metrics.JobsProcessed.WithLabelValues(job.Class.String(), metrics.OutcomeRetry).Inc()
	r.retryAckNack(d, true, false)
}

func (r *RabbitMQSubscriber) finishCompleted(ctx context.Context, d amqp091.Delivery, job *dto.Job) {
	r.retryAckNack(d, true, false)
	metrics.JobsProcessed.WithLabelValues(job.Class.String(), metrics.OutcomeSuccess).Inc()
	r.saveRecord(ctx, job, enum.JobStateCompleted, nil)
}

// finishFailed nacks without requeue so the broker dead-letters the job to its DLQ.
func (r *RabbitMQSubscriber) finishFailed(ctx context.Context, d amqp091.Delivery, job *dto.Job, cause error) {
	r.retryAckNack(d, false, false)
	metrics.JobsProcessed.WithLabelValues(job.Class.String(), metrics.OutcomeDead).Inc()
	r.saveRecord(ctx, job, enum.JobStateFailed, cause)
}

func (r *RabbitMQSubscriber) saveRecord(ctx context.Context, job *dto.Job, state enum.JobState, cause error) {
	if r.jobRecords == nil || job.Id == "" {
		return
	}

	record := &models.JobRecord{
		ID:         job.Id,
		Class:      job.Class,
		State:      state,
		Attempts:   job.Attempt,
		Payload:    payloadAsMap(job.Payload),
		FinishedAt: utils.Now(),
	}
	if cause != nil {
		record.Error = cause.Error()
	}

	if err := r.jobRecords.Save(ctx, record); err != nil {
		r.logger.Errorf("Failed to save %s record for job %s: %v", state, job.Id, err)
	}
}

func payloadAsMap(payload json.RawMessage) models.JSONMap {
	m := models.JSONMap{}
	if len(payload) == 0 {
		return m
	}
	if err := json.Unmarshal(payload, &m); err != nil {
		return models.JSONMap{"raw": string(payload)}
	}
	return m
}

func (r *RabbitMQSubscriber) openChannel() (*amqp091.Channel, error) {
	r.connectionMutex.Lock()
	connection := r.connection
	r.connectionMutex.Unlock()

	if connection == nil || connection.IsClosed() {
		return nil, errors.New("RabbitMQ connection is not open")
	}
	return connection.Channel()
}

func (r *RabbitMQSubscriber) connect() error {
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	if r.closed {
		return errors.New("subscriber is closed")
	}

	connection, err := amqp091.Dial(r.url)
	if err != nil {
		return errors.Wrap(err, "Failed to connect to RabbitMQ")
	}
	r.connection = connection

	go func() {
		notifyClose := connection.NotifyClose(make(chan *amqp091.Error, 1))
		closeErr, ok := <-notifyClose
		if !ok || closeErr == nil {
			return
		}
		r.logger.Warnf("RabbitMQ connection closed: %v, attempting to reconnect", closeErr)
		r.reconnect()
	}()

	return nil
}

func (r *RabbitMQSubscriber) reconnect() {
	backoff := r.config.ReconnectBackoff
	for {
		err := r.connect()
		if err == nil {
			r.logger.Info("Successfully reconnected to RabbitMQ")
			return
		}
		r.connectionMutex.Lock()
		closed := r.closed
		r.connectionMutex.Unlock()
		if closed {
			return
		}

		r.logger.Errorf("Failed to reconnect: %v, retrying in %v", err, backoff)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > r.config.MaxReconnectBackoff {
			backoff = r.config.MaxReconnectBackoff
		}
	}
}

func (r *RabbitMQSubscriber) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (r *RabbitMQSubscriber) retryAckNack(d amqp091.Delivery, ack, requeue bool) {
	maxRetries := 5
	retryDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		var err error
		if ack {
			err = d.Ack(false)
		} else {
			err = d.Nack(false, requeue)
		}

		if err == nil {
			return
		}

		time.Sleep(retryDelay)
	}

	r.logger.Errorf("Failed to %s message after %d attempts",
		map[bool]string{true: "acknowledge", false: "negative acknowledge"}[ack],
		maxRetries)
}

func (r *RabbitMQSubscriber) Close() error {
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	r.closed = true
	if r.connection != nil && !r.connection.IsClosed() {
		return r.connection.Close()
	}
	return nil
}
