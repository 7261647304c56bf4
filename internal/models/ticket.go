package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/utils"
)

// Ticket is a customer conversation; it owns its messages.
type Ticket struct {
	ID              string              `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	CustomerEmail   string              `gorm:"column:customer_email;type:varchar(255);index;not null" json:"customerEmail"`
	CustomerName    string              `gorm:"column:customer_name;type:varchar(255)" json:"customerName"`
	Subject         string              `gorm:"column:subject;type:varchar(1000)" json:"subject"`
	Status          enum.TicketStatus   `gorm:"column:status;type:varchar(20);index;not null;default:NEW" json:"status"`
	Priority        enum.TicketPriority `gorm:"column:priority;type:varchar(20);index;not null;default:MEDIUM" json:"priority"`
	Tags            pq.StringArray      `gorm:"column:tags;type:text[]" json:"tags"`
	EmailMessageID  string              `gorm:"column:email_message_id;type:varchar(255);uniqueIndex:idx_tickets_email_message_id,where:email_message_id <> ''" json:"emailMessageId"`
	EmailReferences pq.StringArray      `gorm:"column:email_references;type:text[]" json:"emailReferences"`

	CreatedAt     time.Time  `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	LastMessageAt time.Time  `gorm:"column:last_message_at;type:timestamp;index" json:"lastMessageAt"`
	ResolvedAt    *time.Time `gorm:"column:resolved_at;type:timestamp" json:"resolvedAt,omitempty"`

	Messages []Message `gorm:"foreignKey:TicketID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Ticket) TableName() string {
	return "tickets"
}

func (t *Ticket) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = utils.GenerateNanoIDWithPrefix("tckt", 16)
	}
	now := utils.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.LastMessageAt.IsZero() {
		t.LastMessageAt = now
	}
	if t.Status == "" {
		t.Status = enum.TicketStatusNew
	}
	if t.Priority == "" {
		t.Priority = enum.TicketPriorityMedium
	}
	if t.Tags == nil {
		t.Tags = pq.StringArray{}
	}
	return nil
}

// ApplyStatus moves the ticket to status, keeping resolved_at consistent:
// RESOLVED sets it, REOPENED clears it.
func (t *Ticket) ApplyStatus(status enum.TicketStatus, now time.Time) {
	t.Status = status
	t.UpdatedAt = now
	switch status {
	case enum.TicketStatusResolved:
		t.ResolvedAt = &now
	case enum.TicketStatusReopened:
		t.ResolvedAt = nil
	}
}

// TouchLastMessage records new activity on the thread.
func (t *Ticket) TouchLastMessage(now time.Time) {
	t.LastMessageAt = now
	t.UpdatedAt = now
}
