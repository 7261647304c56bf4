package enum

type JobClass string

const (
	JobSendEmail       JobClass = "send-email"
	JobProcessInbound  JobClass = "process-inbound"
	JobDispatchWebhook JobClass = "dispatch-webhook"
)

func (t JobClass) String() string {
	return string(t)
}

// JobClasses lists every class the queue declares, in declaration order.
var JobClasses = []JobClass{JobSendEmail, JobProcessInbound, JobDispatchWebhook}

type JobState string

const (
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

func (t JobState) String() string {
	return string(t)
}
