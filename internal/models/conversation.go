package models

import (
	"time"

	"assoc-messaging/internal/imtypes"
)

// Conversation is a direct or group thread.
type Conversation struct {
	BaseModel
	Name           string    `gorm:"type:varchar(100)" json:"name,omitempty"`
	IsGroup        bool      `gorm:"not null;default:false;index" json:"isGroup"`
	CreatedBy      string    `gorm:"type:varchar(64);not null" json:"createdBy"`
	LastActivityAt time.Time `gorm:"index" json:"lastActivityAt"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"participants,omitempty"`
}

// TableName 指定 Conversation 模型的表名。
func (Conversation) TableName() string {
	return "conversations"
}

// ConversationParticipant links a user to a conversation.
type ConversationParticipant struct {
	ConversationID string    `gorm:"primaryKey;type:varchar(64)" json:"conversationId"`
	UserID         string    `gorm:"primaryKey;type:varchar(64);index" json:"userId"`
	UserName       string    `gorm:"type:varchar(100)" json:"userName,omitempty"`
	Role           string    `gorm:"type:varchar(20);default:'member'" json:"role"`
	JoinedAt       time.Time `json:"joinedAt"`
}

// TableName 指定 ConversationParticipant 模型的表名。
func (ConversationParticipant) TableName() string {
	return "conversation_participants"
}

// Participant roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// ToType converts the row to the wire type. LastMessage and UnreadCount are
// per-viewer and filled in by the store.
func (c *Conversation) ToType() imtypes.Conversation {
	out := imtypes.Conversation{
		ID:             c.ID,
		Name:           c.Name,
		IsGroup:        c.IsGroup,
		CreatedBy:      c.CreatedBy,
		CreatedAt:      c.CreatedAt,
		LastActivityAt: c.LastActivityAt,
		Participants:   make([]imtypes.Participant, 0, len(c.Participants)),
	}
	for _, p := range c.Participants {
		out.Participants = append(out.Participants, p.ToType())
	}
	return out
}

func (p ConversationParticipant) ToType() imtypes.Participant {
	return imtypes.Participant{UserID: p.UserID, UserName: p.UserName, Role: p.Role, JoinedAt: p.JoinedAt}
}

// ConversationFromType builds a row and its participant rows from c.
func ConversationFromType(c imtypes.Conversation) *Conversation {
	row := &Conversation{
		BaseModel:      BaseModel{ID: c.ID, CreatedAt: c.CreatedAt},
		Name:           c.Name,
		IsGroup:        c.IsGroup,
		CreatedBy:      c.CreatedBy,
		LastActivityAt: c.LastActivityAt,
	}
	for _, p := range c.Participants {
		row.Participants = append(row.Participants, ParticipantFromType(c.ID, p))
	}
	return row
}

func ParticipantFromType(conversationID string, p imtypes.Participant) ConversationParticipant {
	role := p.Role
	if role == "" {
		role = RoleMember
	}
	return ConversationParticipant{
		ConversationID: conversationID,
		UserID:         p.UserID,
		UserName:       p.UserName,
		Role:           role,
		JoinedAt:       p.JoinedAt,
	}
}
