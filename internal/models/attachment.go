package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/supportstack/internal/utils"
)

// Attachment is owned by exactly one message and created atomically with it.
type Attachment struct {
	ID          string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	MessageID   string `gorm:"column:message_id;type:varchar(50);index;not null" json:"messageId"`
	Filename    string `gorm:"column:filename;type:varchar(500)" json:"filename"`
	StorageKey  string `gorm:"column:storage_key;type:varchar(1000);not null" json:"storageKey"`
	ContentType string `gorm:"column:content_type;type:varchar(255)" json:"contentType"`
	Size        int64  `gorm:"column:size;default:0" json:"size"`
	URL         string `gorm:"column:url;type:varchar(2000)" json:"url"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
}

func (Attachment) TableName() string {
	return "attachments"
}

func (a *Attachment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("att", 16)
	}
	a.CreatedAt = utils.Now()
	return nil
}
