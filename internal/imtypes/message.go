package imtypes

import "time"

// MessageType defines the type of a message.
type MessageType string

const (
	TextMessageType   MessageType = "text"
	FileMessageType   MessageType = "file"
	VoiceMessageType  MessageType = "voice"
	SystemMessageType MessageType = "system" // e.g. user joined/left
)

// DeliveryState tracks an outgoing message from optimistic echo to acknowledgement.
type DeliveryState string

const (
	DeliveryPending DeliveryState = "pending"
	DeliverySent    DeliveryState = "sent"
	DeliveryFailed  DeliveryState = "failed"
)

// Attachment is a file carried by a message.
type Attachment struct {
	ID       string  `json:"id"`
	FileID   string  `json:"fileId"`
	FileName string  `json:"fileName"`
	FileType string  `json:"fileType"`
	FileSize int64   `json:"fileSize"`
	FileURL  string  `json:"fileUrl"`
	Duration float64 `json:"duration,omitempty"` // seconds, voice only
}

// MessageReadStatus records that a user read a message. One per (message, user).
type MessageReadStatus struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	ReadAt    time.Time `json:"readAt"`
}

// Message is immutable once created except for its read state.
type Message struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversationId"`
	SenderID       string              `json:"senderId"`
	SenderName     string              `json:"senderName"`
	Type           MessageType         `json:"type"`
	Content        string              `json:"content,omitempty"`
	Attachments    []Attachment        `json:"attachments"`
	CreatedAt      time.Time           `json:"createdAt"`
	ReadBy         []MessageReadStatus `json:"readBy"`
	Delivery       DeliveryState       `json:"delivery,omitempty"`
}

// IsReadBy reports whether userID has a receipt on m.
func (m *Message) IsReadBy(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// AddReceipt appends r unless the user already has a receipt. It reports whether m changed.
func (m *Message) AddReceipt(r MessageReadStatus) bool {
	if m.IsReadBy(r.UserID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, r)
	return true
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	out := m
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.ReadBy != nil {
		out.ReadBy = append([]MessageReadStatus(nil), m.ReadBy...)
	}
	return out
}

// SendMessageRequest is what a client submits to create a message.
// ID is generated by the client so the optimistic echo can be reconciled.
type SendMessageRequest struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	SenderName     string       `json:"senderName"`
	Type           MessageType  `json:"type"`
	Content        string       `json:"content,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}
