package valueobject

type EventType string

const (
	EventMatchFoundHighPriority   EventType = "match-found-high-priority"
	EventMatchFoundNormalPriority EventType = "match-found-normal-priority"
	EventEscrowStateChanged       EventType = "escrow-state-changed"
	EventPaymentUpdate            EventType = "payment-update"
	EventDisputeOpened            EventType = "dispute-opened"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusPublished OutboxStatus = "PUBLISHED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

type Channel string

const (
	ChannelSMS  Channel = "sms"
	ChannelPush Channel = "push"
	ChannelUSSD Channel = "ussd"
)
