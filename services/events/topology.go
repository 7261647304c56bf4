package events

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/customeros/supportstack/config"
	"github.com/customeros/supportstack/internal/enum"
)

const (
	ExchangeDeadLetter = "dead-letter"

	DefaultExchange    = "supportstack-jobs"
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 2 * time.Second
	DefaultMessageTTL  = 240 * time.Hour // unconsumed jobs move to the DLQ after this
)

// queueDeclarer is the subset of *amqp091.Channel used to declare the topology.
type queueDeclarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
}

// Topology describes the exchanges and queues backing every job class:
// a main queue bound to the jobs exchange, a DLQ for exhausted jobs and one
// delay queue per retry step that dead-letters back into the main queue.
type Topology struct {
	Exchange    string
	MaxAttempts int
	BackoffBase time.Duration
	MessageTTL  time.Duration
}

func NewTopology(cfg *config.QueueConfig) Topology {
	t := Topology{
		Exchange:    DefaultExchange,
		MaxAttempts: DefaultMaxAttempts,
		BackoffBase: DefaultBackoffBase,
		MessageTTL:  DefaultMessageTTL,
	}
	if cfg == nil {
		return t
	}
	if cfg.Exchange != "" {
		t.Exchange = cfg.Exchange
	}
	if cfg.MaxAttempts > 0 {
		t.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BackoffBase > 0 {
		t.BackoffBase = cfg.BackoffBase
	}
	return t
}

func QueueName(class enum.JobClass) string {
	return class.String()
}

func DLQName(class enum.JobClass) string {
	return class.String() + "-dlq"
}

// RetryQueueName is the delay queue a job enters after its step-th failed attempt.
func RetryQueueName(class enum.JobClass, step int) string {
	return fmt.Sprintf("%s-retry-%d", class, step)
}

// RetryDelay is base * 2^(step-1).
func (t Topology) RetryDelay(step int) time.Duration {
	if step < 1 {
		step = 1
	}
	return t.BackoffBase * time.Duration(1<<uint(step-1))
}

func (t Topology) Declare(channel queueDeclarer) error {
	err := channel.ExchangeDeclare(
		ExchangeDeadLetter,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return errors.Wrap(err, "Failed to declare dead letter exchange")
	}

	err = channel.ExchangeDeclare(t.Exchange, "direct", true, false, false, false, nil)
	if err != nil {
		return errors.Wrapf(err, "Failed to declare exchange %s", t.Exchange)
	}

	for _, class := range enum.JobClasses {
		if err := t.declareClass(channel, class); err != nil {
			return err
		}
	}
	return nil
}

func (t Topology) declareClass(channel queueDeclarer, class enum.JobClass) error {
	dlq := DLQName(class)
	_, err := channel.QueueDeclare(dlq, true, false, false, false, nil)
	if err != nil {
		return errors.Wrapf(err, "Failed to declare DLQ %s", dlq)
	}
	err = channel.QueueBind(dlq, dlq, ExchangeDeadLetter, false, nil)
	if err != nil {
		return errors.Wrapf(err, "Failed to bind DLQ %s to exchange", dlq)
	}

	queue := QueueName(class)
	args := amqp091.Table{
		"x-dead-letter-exchange":    ExchangeDeadLetter,
		"x-dead-letter-routing-key": dlq,
	}
	if t.MessageTTL > 0 {
		args["x-message-ttl"] = t.MessageTTL.Milliseconds()
	}
	_, err = channel.QueueDeclare(queue, true, false, false, false, args)
	if err != nil {
		return errors.Wrapf(err, "Failed to declare queue %s", queue)
	}
	err = channel.QueueBind(queue, queue, t.Exchange, false, nil)
	if err != nil {
		return errors.Wrapf(err, "Failed to bind queue %s to exchange %s", queue, t.Exchange)
	}

	for step := 1; step < t.MaxAttempts; step++ {
		retryQueue := RetryQueueName(class, step)
		_, err = channel.QueueDeclare(retryQueue, true, false, false, false, amqp091.Table{
			"x-message-ttl":             t.RetryDelay(step).Milliseconds(),
			"x-dead-letter-exchange":    t.Exchange,
			"x-dead-letter-routing-key": queue,
		})
		if err != nil {
			return errors.Wrapf(err, "Failed to declare retry queue %s", retryQueue)
		}
	}
	return nil
}
