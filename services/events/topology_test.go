package events

import (
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/supportstack/config"
	"github.com/customeros/supportstack/internal/enum"
)

type declaredQueue struct {
	name string
	args amqp091.Table
}

type binding struct {
	queue, key, exchange string
}

type recordingDeclarer struct {
	exchanges []string
	queues    []declaredQueue
	bindings  []binding
}

func (d *recordingDeclarer) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error {
	d.exchanges = append(d.exchanges, name)
	return nil
}

func (d *recordingDeclarer) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error) {
	d.queues = append(d.queues, declaredQueue{name: name, args: args})
	return amqp091.Queue{Name: name}, nil
}

func (d *recordingDeclarer) QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error {
	d.bindings = append(d.bindings, binding{queue: name, key: key, exchange: exchange})
	return nil
}

func (d *recordingDeclarer) queue(name string) (declaredQueue, bool) {
	for _, q := range d.queues {
		if q.name == name {
			return q, true
		}
	}
	return declaredQueue{}, false
}

func TestNewTopology_Defaults(t *testing.T) {
	topology := NewTopology(nil)

	assert.Equal(t, "supportstack-jobs", topology.Exchange)
	assert.Equal(t, 3, topology.MaxAttempts)
	assert.Equal(t, 2*time.Second, topology.BackoffBase)
}

func TestNewTopology_FromConfig(t *testing.T) {
	topology := NewTopology(&config.QueueConfig{Exchange: "jobs", MaxAttempts: 5, BackoffBase: time.Second})

	assert.Equal(t, "jobs", topology.Exchange)
	assert.Equal(t, 5, topology.MaxAttempts)
	assert.Equal(t, time.Second, topology.BackoffBase)
}

func TestTopology_RetryDelayIsExponential(t *testing.T) {
	topology := NewTopology(nil)

	assert.Equal(t, 2*time.Second, topology.RetryDelay(1))
	assert.Equal(t, 4*time.Second, topology.RetryDelay(2))
	assert.Equal(t, 8*time.Second, topology.RetryDelay(3))
}

func TestQueueNames(t *testing.T) {
	assert.Equal(t, "send-email", QueueName(enum.JobSendEmail))
	assert.Equal(t, "send-email-dlq", DLQName(enum.JobSendEmail))
	assert.Equal(t, "dispatch-webhook-retry-2", RetryQueueName(enum.JobDispatchWebhook, 2))
}

func TestTopology_Declare(t *testing.T) {
	// Arrange
	declarer := &recordingDeclarer{}
	topology := NewTopology(nil)

	// Act
	err := topology.Declare(declarer)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{ExchangeDeadLetter, "supportstack-jobs"}, declarer.exchanges)

	for _, class := range enum.JobClasses {
		main, ok := declarer.queue(QueueName(class))
		require.True(t, ok, class)
		assert.Equal(t, ExchangeDeadLetter, main.args["x-dead-letter-exchange"])
		assert.Equal(t, DLQName(class), main.args["x-dead-letter-routing-key"])
		assert.Contains(t, declarer.bindings, binding{queue: QueueName(class), key: QueueName(class), exchange: "supportstack-jobs"})
		assert.Contains(t, declarer.bindings, binding{queue: DLQName(class), key: DLQName(class), exchange: ExchangeDeadLetter})

		first, ok := declarer.queue(RetryQueueName(class, 1))
		require.True(t, ok)
		assert.Equal(t, int64(2000), first.args["x-message-ttl"])
		assert.Equal(t, "supportstack-jobs", first.args["x-dead-letter-exchange"])
		assert.Equal(t, QueueName(class), first.args["x-dead-letter-routing-key"])

		second, ok := declarer.queue(RetryQueueName(class, 2))
		require.True(t, ok)
		assert.Equal(t, int64(4000), second.args["x-message-ttl"])

		_, ok = declarer.queue(RetryQueueName(class, 3))
		assert.False(t, ok, "no delay queue after the final attempt")
	}
}
