package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/customeros/supportstack/internal/utils"
)

const DefaultWebhookTimeout = 5 * time.Second

// WebhookConfig is managed outside this service; the dispatcher only reads it.
type WebhookConfig struct {
	ID        string         `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	Name      string         `gorm:"column:name;type:varchar(255)" json:"name"`
	URL       string         `gorm:"column:url;type:varchar(2000);not null" json:"url"`
	Events    pq.StringArray `gorm:"column:events;type:text[]" json:"events"`
	Headers   StringMap      `gorm:"column:headers;type:jsonb" json:"headers"`
	TimeoutMs int            `gorm:"column:timeout_ms;default:5000" json:"timeoutMs"`
	IsActive  bool           `gorm:"column:is_active;index;default:true" json:"isActive"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (WebhookConfig) TableName() string {
	return "webhook_configs"
}

func (w *WebhookConfig) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = utils.GenerateNanoIDWithPrefix("whk", 16)
	}
	return nil
}

func (w *WebhookConfig) Timeout() time.Duration {
	if w.TimeoutMs <= 0 {
		return DefaultWebhookTimeout
	}
	return time.Duration(w.TimeoutMs) * time.Millisecond
}

// WebhookLog is an append-only record of one delivery attempt to one endpoint.
type WebhookLog struct {
	ID              string  `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	WebhookConfigID string  `gorm:"column:webhook_config_id;type:varchar(50);index;not null" json:"webhookConfigId"`
	Event           string  `gorm:"column:event;type:varchar(100);index" json:"event"`
	Payload         JSONMap `gorm:"column:payload;type:jsonb" json:"payload"`
	StatusCode      *int    `gorm:"column:status_code" json:"statusCode"`
	ResponseBody    *string `gorm:"column:response_body;type:text" json:"responseBody"`
	ErrorMessage    *string `gorm:"column:error_message;type:text" json:"errorMessage"`
	DurationMs      int64   `gorm:"column:duration_ms" json:"durationMs"`
	AttemptNumber   int     `gorm:"column:attempt_number;default:1" json:"attemptNumber"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp;index" json:"createdAt"`
}

func (WebhookLog) TableName() string {
	return "webhook_logs"
}

func (w *WebhookLog) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = utils.GenerateNanoIDWithPrefix("whl", 20)
	}
	w.CreatedAt = utils.Now()
	return nil
}
