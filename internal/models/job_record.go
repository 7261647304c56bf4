package models

import (
	"time"

	"github.com/customeros/supportstack/internal/enum"
)

// JobRecord keeps the terminal outcome of a queue job for inspection.
// Retention is enforced by the cron pruner.
type JobRecord struct {
	ID         string        `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	Class      enum.JobClass `gorm:"column:class;type:varchar(50);index:idx_job_records_class_state;not null" json:"class"`
	State      enum.JobState `gorm:"column:state;type:varchar(20);index:idx_job_records_class_state;not null" json:"state"`
	Attempts   int           `gorm:"column:attempts" json:"attempts"`
	Payload    JSONMap       `gorm:"column:payload;type:jsonb" json:"payload"`
	Error      string        `gorm:"column:error;type:text" json:"error,omitempty"`
	FinishedAt time.Time     `gorm:"column:finished_at;type:timestamp;index" json:"finishedAt"`
}

func (JobRecord) TableName() string {
	return "job_records"
}
