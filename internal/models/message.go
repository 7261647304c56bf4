package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/utils"
)

// Message is one directed email exchange on a ticket.
type Message struct {
	ID        string                `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	TicketID  string                `gorm:"column:ticket_id;type:varchar(50);index;not null" json:"ticketId"`
	Direction enum.MessageDirection `gorm:"column:direction;type:varchar(10);index;not null" json:"direction"`

	FromEmail string `gorm:"column:from_email;type:varchar(255);index" json:"fromEmail"`
	FromName  string `gorm:"column:from_name;type:varchar(255)" json:"fromName"`
	ToEmail   string `gorm:"column:to_email;type:varchar(255)" json:"toEmail"`
	Subject   string `gorm:"column:subject;type:varchar(1000)" json:"subject"`

	BodyText     string `gorm:"column:body_text;type:text" json:"bodyText"`
	BodyHTML     string `gorm:"column:body_html;type:text" json:"bodyHtml,omitempty"`
	StrippedText string `gorm:"column:stripped_text;type:text" json:"strippedText,omitempty"`

	MessageID  string         `gorm:"column:message_id;uniqueIndex;type:varchar(255);not null" json:"messageId"`
	InReplyTo  string         `gorm:"column:in_reply_to;type:varchar(255);index" json:"inReplyTo,omitempty"`
	References pq.StringArray `gorm:"column:references;type:text[]" json:"references"`

	HasAttachments  bool `gorm:"column:has_attachments;default:false" json:"hasAttachments"`
	AttachmentCount int  `gorm:"column:attachment_count;default:0" json:"attachmentCount"`

	SentAt            time.Time  `gorm:"column:sent_at;type:timestamp;index" json:"sentAt"`
	DeliveredAt       *time.Time `gorm:"column:delivered_at;type:timestamp" json:"deliveredAt,omitempty"`
	DeliveryClaimedAt *time.Time `gorm:"column:delivery_claimed_at;type:timestamp" json:"-"`
	ProviderMessageID string     `gorm:"column:provider_message_id;type:varchar(255)" json:"providerMessageId,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`

	Attachments []Attachment `gorm:"foreignKey:MessageID;references:ID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("msg", 20)
	}
	now := utils.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.SentAt.IsZero() {
		m.SentAt = now
	}
	if m.References == nil {
		m.References = pq.StringArray{}
	}
	return nil
}

func (m *Message) IsOutbound() bool {
	return m.Direction == enum.MessageOutbound
}

// Body is the signature-stripped text when available, otherwise the raw text.
func (m *Message) Body() string {
	if m.StrippedText != "" {
		return m.StrippedText
	}
	return m.BodyText
}
