package enum

type TicketStatus string

const (
	TicketStatusNew        TicketStatus = "NEW"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusWaiting    TicketStatus = "WAITING"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusReopened   TicketStatus = "REOPENED"
)

func (t TicketStatus) String() string {
	return string(t)
}

func (t TicketStatus) IsValid() bool {
	switch t {
	case TicketStatusNew, TicketStatusInProgress, TicketStatusWaiting, TicketStatusResolved, TicketStatusReopened:
		return true
	}
	return false
}

type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
	TicketPriorityUrgent TicketPriority = "URGENT"
)

func (t TicketPriority) String() string {
	return string(t)
}
