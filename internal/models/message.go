package models

import (
	"strconv"
	"time"

	"assoc-messaging/internal/imtypes"
)

// Message 代表存储在数据库中的聊天消息。
type Message struct {
	BaseModel
	ConversationID string `gorm:"type:varchar(64);index;not null" json:"conversationId"`
	SenderID       string `gorm:"type:varchar(64);index;not null" json:"senderId"`
	SenderName     string `gorm:"type:varchar(100)" json:"senderName"`
	Type           string `gorm:"type:varchar(20);not null" json:"type"`
	Content        string `gorm:"type:text" json:"content"`

	Attachments []Attachment     `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
	Receipts    []MessageReceipt `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"readBy,omitempty"`
}

// TableName 指定 Message 模型的表名。
func (Message) TableName() string {
	return "messages"
}

// Attachment is a stored file referenced by a message.
type Attachment struct {
	ID        string  `gorm:"primaryKey;type:varchar(64)" json:"id"`
	MessageID string  `gorm:"type:varchar(64);index;not null" json:"messageId"`
	FileID    string  `gorm:"type:varchar(128);not null" json:"fileId"`
	FileName  string  `gorm:"type:varchar(255)" json:"fileName"`
	FileType  string  `gorm:"type:varchar(100)" json:"fileType"`
	FileSize  int64   `json:"fileSize"`
	FileURL   string  `gorm:"type:varchar(512)" json:"fileUrl"`
	Duration  float64 `json:"duration,omitempty"`
}

func (Attachment) TableName() string {
	return "message_attachments"
}

// MessageReceipt records that a user read a message. One row per (message, user).
type MessageReceipt struct {
	MessageID string    `gorm:"primaryKey;type:varchar(64)" json:"messageId"`
	UserID    string    `gorm:"primaryKey;type:varchar(64);index" json:"userId"`
	UserName  string    `gorm:"type:varchar(100)" json:"userName,omitempty"`
	ReadAt    time.Time `gorm:"not null" json:"readAt"`
}

func (MessageReceipt) TableName() string {
	return "message_receipts"
}

func (m *Message) ToType() imtypes.Message {
	out := imtypes.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Type:           imtypes.MessageType(m.Type),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		Attachments:    []imtypes.Attachment{},
		ReadBy:         []imtypes.MessageReadStatus{},
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, imtypes.Attachment{
			ID:       a.ID,
			FileID:   a.FileID,
			FileName: a.FileName,
			FileType: a.FileType,
			FileSize: a.FileSize,
			FileURL:  a.FileURL,
			Duration: a.Duration,
		})
	}
	for _, r := range m.Receipts {
		out.ReadBy = append(out.ReadBy, r.ToType())
	}
	return out
}

func (r MessageReceipt) ToType() imtypes.MessageReadStatus {
	return imtypes.MessageReadStatus{MessageID: r.MessageID, UserID: r.UserID, UserName: r.UserName, ReadAt: r.ReadAt}
}

// MessageFromType builds a row from m. Attachment ids default to
// "<message id>-<index>" so re-saving the same message is stable.
func MessageFromType(m imtypes.Message) *Message {
	row := &Message{
		BaseModel:      BaseModel{ID: m.ID, CreatedAt: m.CreatedAt},
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Type:           string(m.Type),
		Content:        m.Content,
	}
	for i, a := range m.Attachments {
		id := a.ID
		if id == "" {
			id = m.ID + "-" + strconv.Itoa(i)
		}
		row.Attachments = append(row.Attachments, Attachment{
			ID:        id,
			MessageID: m.ID,
			FileID:    a.FileID,
			FileName:  a.FileName,
			FileType:  a.FileType,
			FileSize:  a.FileSize,
			FileURL:   a.FileURL,
			Duration:  a.Duration,
		})
	}
	for _, r := range m.ReadBy {
		row.Receipts = append(row.Receipts, MessageReceipt{MessageID: m.ID, UserID: r.UserID, UserName: r.UserName, ReadAt: r.ReadAt})
	}
	return row
}
