package dto

const (
	SNSTypeSubscriptionConfirmation = "SubscriptionConfirmation"
	SNSTypeNotification             = "Notification"
	SNSTypeUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

// SNSNotification is the HTTP push envelope posted by SNS.
type SNSNotification struct {
	Type             string `json:"Type"`
	MessageId        string `json:"MessageId"`
	Token            string `json:"Token,omitempty"`
	TopicArn         string `json:"TopicArn"`
	Subject          string `json:"Subject,omitempty"`
	Message          string `json:"Message"`
	Timestamp        string `json:"Timestamp"`
	SignatureVersion string `json:"SignatureVersion"`
	Signature        string `json:"Signature"`
	SigningCertURL   string `json:"SigningCertURL"`
	SubscribeURL     string `json:"SubscribeURL,omitempty"`
	UnsubscribeURL   string `json:"UnsubscribeURL,omitempty"`
}

// SESMessage is the JSON document inside a Notification's Message field.
type SESMessage struct {
	NotificationType string     `json:"notificationType"`
	Mail             SESMail    `json:"mail"`
	Receipt          SESReceipt `json:"receipt"`
	// Content is the base64 raw MIME message.
	Content string `json:"content"`
}

type SESMail struct {
	Timestamp   string   `json:"timestamp"`
	Source      string   `json:"source"`
	MessageId   string   `json:"messageId"`
	Destination []string `json:"destination"`
}

type SESReceipt struct {
	Timestamp            string     `json:"timestamp"`
	Recipients           []string   `json:"recipients"`
	SpamVerdict          SESVerdict `json:"spamVerdict"`
	VirusVerdict         SESVerdict `json:"virusVerdict"`
	SPFVerdict           SESVerdict `json:"spfVerdict"`
	DKIMVerdict          SESVerdict `json:"dkimVerdict"`
	DMARCVerdict         SESVerdict `json:"dmarcVerdict"`
	ProcessingTimeMillis int64      `json:"processingTimeMillis"`
}

type SESVerdict struct {
	Status string `json:"status"`
}
