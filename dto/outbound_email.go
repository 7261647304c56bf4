package dto

type OutboundEmail struct {
	To         string
	Subject    string
	BodyText   string
	BodyHTML   string
	From       string
	FromName   string
	ReplyTo    string
	MessageID  string
	InReplyTo  string
	References []string
}
