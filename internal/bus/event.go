package bus

import "time"

// Event kinds published by the chat core. Key carries the id the event is
// about so subscribers can filter cheaply: the conversation id for message
// and typing events, the affected member's user id for conversation events,
// the user id for presence events.
const (
	KindMessageChanged      = "message.changed"
	KindConversationChanged = "conversation.changed"
	KindPresenceChanged     = "realtime.status"
	KindTypingChanged       = "realtime.typing"
	KindStatusChanged       = "daemon.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Key       string
	Timestamp time.Time
	Payload   any
}
