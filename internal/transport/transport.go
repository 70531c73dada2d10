// Package transport defines the collaborator the messaging core talks to:
// request/response operations plus push subscriptions.
package transport

import (
	"context"
	"io"

	"assoc-messaging/internal/imtypes"
)

// CancelFunc releases a subscription. Calling it more than once is safe.
type CancelFunc func()

// ConversationHandlers receive push events for one conversation.
type ConversationHandlers struct {
	OnMessage        func(imtypes.Message)
	OnTyping         func(imtypes.TypingIndicator)
	OnReadStatus     func(imtypes.MessageReadStatus)
	OnMessageDeleted func(messageID string) // optional
}

// GlobalCallbacks receive every push event and connection changes.
type GlobalCallbacks struct {
	OnMessage          func(imtypes.Message)
	OnTyping           func(imtypes.TypingIndicator)
	OnReadStatus       func(imtypes.MessageReadStatus)
	OnPresenceChange   func(imtypes.UserPresence)
	OnConnectionChange func(connected bool)
	OnError            func(error)
}

// Upload is a file to store as an attachment.
type Upload struct {
	FileName string
	MimeType string
	Size     int64
	Body     io.Reader
}

// Service holds the request/response operations.
type Service interface {
	GetUserConversations(ctx context.Context, userID string) ([]imtypes.Conversation, error)
	CreateConversation(ctx context.Context, name string, participantIDs []string, isGroup bool) (*imtypes.Conversation, error)
	// GetConversationMessages returns one page, newest page first by offset, each page in chronological order.
	GetConversationMessages(ctx context.Context, conversationID string, limit, offset int) ([]imtypes.Message, error)
	SendMessage(ctx context.Context, req imtypes.SendMessageRequest) (*imtypes.Message, error)
	MarkMessageAsRead(ctx context.Context, messageID string) (*imtypes.MessageReadStatus, error)
	JoinConversation(ctx context.Context, conversationID string) error
	LeaveConversation(ctx context.Context, conversationID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
	DeleteMessage(ctx context.Context, messageID string) error
	UploadAttachment(ctx context.Context, file Upload) (*imtypes.FileInfo, error)
	GetFileDownloadURL(ctx context.Context, fileID string) (string, error)
}

// Realtime holds the push side.
type Realtime interface {
	SubscribeToConversation(ctx context.Context, conversationID string, handlers ConversationHandlers) (CancelFunc, error)
	SubscribeToPresence(ctx context.Context, userIDs []string, onPresence func(imtypes.UserPresence)) (CancelFunc, error)
	// UpdatePresence returns once the status has been acknowledged.
	UpdatePresence(ctx context.Context, status imtypes.PresenceStatus) error
	UpdateTypingIndicator(ctx context.Context, conversationID string, isTyping bool) error
	SetGlobalCallbacks(callbacks GlobalCallbacks)
}

// Transport is everything the messaging core needs.
type Transport interface {
	Service
	Realtime
}
