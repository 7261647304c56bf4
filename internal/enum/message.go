package enum

type MessageDirection string

const (
	MessageInbound  MessageDirection = "INBOUND"
	MessageOutbound MessageDirection = "OUTBOUND"
)

func (t MessageDirection) String() string {
	return string(t)
}
