package dto

import (
	"encoding/json"

	"github.com/customeros/supportstack/internal/enum"
)

// Job is the envelope carried on the broker for every job class.
type Job struct {
	Id       string          `json:"id"`
	Class    enum.JobClass   `json:"class"`
	Attempt  int             `json:"attempt"`
	Payload  json.RawMessage `json:"payload"`
	Metadata JobMetadata     `json:"metadata"`
}

type JobMetadata struct {
	UberTraceId string `json:"uber-trace-id"`
	AppSource   string `json:"appSource,omitempty"`
	Timestamp   string `json:"timestamp"`
}
