package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "supportstack"

var (
	InboundEmails = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_emails_total",
		Help:      "Inbound emails processed, by outcome",
	}, []string{"outcome"})

	AttachmentsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "attachments_rejected_total",
		Help:      "Attachments dropped by the type/size policy or a storage failure",
	}, []string{"reason"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_processed_total",
		Help:      "Queue jobs handled, by class and outcome",
	}, []string{"class", "outcome"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_deliveries_total",
		Help:      "Webhook POST attempts, by outcome",
	}, []string{"outcome"})

	WebhookLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "webhook_delivery_duration_seconds",
		Help:      "Webhook POST duration",
		Buckets:   prometheus.DefBuckets,
	})

	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "emails_sent_total",
		Help:      "Outbound emails handed to the provider, by outcome",
	}, []string{"outcome"})
)

const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeRetry     = "retry"
	OutcomeDead      = "dead"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
	OutcomeQueued    = "queued"

	ReasonContentType = "content_type"
	ReasonSize        = "size"
	ReasonStorage     = "storage"
)
