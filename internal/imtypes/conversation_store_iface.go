// internal/imtypes/conversation_store_iface.go
package imtypes

import "context"

// ConversationStore persists conversations, messages and read receipts for the gateway.
// Lookups of missing records return ErrNotFound.
type ConversationStore interface {
	// ListConversations returns userID's conversations, most recent activity first,
	// with LastMessage and the user's UnreadCount filled in.
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	CreateConversation(ctx context.Context, c Conversation) (*Conversation, error)
	// FindDirectConversation returns the non-group conversation between exactly a and b.
	FindDirectConversation(ctx context.Context, a, b string) (*Conversation, error)
	AddParticipant(ctx context.Context, conversationID string, p Participant) error
	RemoveParticipant(ctx context.Context, conversationID, userID string) error
	DeleteConversation(ctx context.Context, id string) error

	// ListMessages pages backwards from the newest message: offset 0 is the newest page.
	// Each page is returned in chronological order.
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error)
	// SaveMessage stores m. Saving an id that already exists returns the stored
	// message and created=false, so client retries are idempotent.
	SaveMessage(ctx context.Context, m Message) (saved *Message, created bool, err error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	DeleteMessage(ctx context.Context, id string) error
	// MarkRead records r once per (message, user); a repeat returns the first receipt.
	MarkRead(ctx context.Context, r MessageReadStatus) (stored *MessageReadStatus, created bool, err error)
}
