package imtypes

import "time"

// EventType names a push event.
type EventType string

const (
	EventMessage        EventType = "message"
	EventMessageDeleted EventType = "message_deleted"
	EventTyping         EventType = "typing"
	EventReadStatus     EventType = "read_status"
	EventPresence       EventType = "presence"
	EventError          EventType = "error"
)

// Event is pushed from the gateway to subscribed connections and travels
// between gateway instances on the fan-out bus. Exactly one payload field is set
// according to Type.
type Event struct {
	ID             string             `json:"id"`
	Type           EventType          `json:"type"`
	ConversationID string             `json:"conversationId,omitempty"`
	Message        *Message           `json:"message,omitempty"`
	MessageID      string             `json:"messageId,omitempty"`
	Typing         *TypingIndicator   `json:"typing,omitempty"`
	ReadStatus     *MessageReadStatus `json:"readStatus,omitempty"`
	Presence       *UserPresence      `json:"presence,omitempty"`
	Error          string             `json:"error,omitempty"`
	OccurredAt     time.Time          `json:"occurredAt"`
}

// FrameAction is a client to gateway control request on the websocket.
type FrameAction string

const (
	ActionSubscribe           FrameAction = "subscribe"
	ActionUnsubscribe         FrameAction = "unsubscribe"
	ActionSubscribePresence   FrameAction = "subscribe_presence"
	ActionUnsubscribePresence FrameAction = "unsubscribe_presence"
)

// Frame is a control message sent by the client over the websocket.
type Frame struct {
	Action         FrameAction `json:"action"`
	ConversationID string      `json:"conversationId,omitempty"`
	UserIDs        []string    `json:"userIds,omitempty"`
}
