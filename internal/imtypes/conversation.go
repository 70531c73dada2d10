package imtypes

import "time"

// Participant is a member of a conversation.
type Participant struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName,omitempty"`
	Role     string    `json:"role"` // admin | member
	JoinedAt time.Time `json:"joinedAt"`
}

// Conversation is a direct or group thread. Participants change only on join/leave.
type Conversation struct {
	ID             string        `json:"id"`
	Name           string        `json:"name,omitempty"`
	IsGroup        bool          `json:"isGroup"`
	Participants   []Participant `json:"participants"`
	CreatedBy      string        `json:"createdBy"`
	CreatedAt      time.Time     `json:"createdAt"`
	LastActivityAt time.Time     `json:"lastActivityAt"`
	LastMessage    *Message      `json:"lastMessage,omitempty"`
	UnreadCount    int           `json:"unreadCount"`
}

// HasParticipant reports whether userID belongs to c.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs returns the member ids in stored order.
func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// CreateConversationRequest is the payload for creating a conversation.
type CreateConversationRequest struct {
	Name           string   `json:"name,omitempty"`
	ParticipantIDs []string `json:"participantIds"`
	IsGroup        bool     `json:"isGroup"`
}
