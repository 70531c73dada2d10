package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/models"
)

// gormStore implements imtypes.ConversationStore with GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a conversation store over db. Run AutoMigrateTables first.
func NewGormStore(db *gorm.DB) imtypes.ConversationStore {
	return &gormStore{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return imtypes.ErrNotFound
	}
	return err
}

func withMessageRelations(db *gorm.DB) *gorm.DB {
	return db.Preload("Attachments").Preload("Receipts", func(db *gorm.DB) *gorm.DB {
		return db.Order("read_at ASC")
	})
}

func (s *gormStore) ListConversations(ctx context.Context, userID string) ([]imtypes.Conversation, error) {
	var rows []models.Conversation
	err := s.db.WithContext(ctx).
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ?", userID).
		Preload("Participants").
		Order("conversations.last_activity_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations for %s: %w", userID, err)
	}

	out := make([]imtypes.Conversation, 0, len(rows))
	for i := range rows {
		conv := rows[i].ToType()

		var last models.Message
		err := withMessageRelations(s.db.WithContext(ctx)).
			Where("conversation_id = ?", conv.ID).
			Order("created_at DESC").
			First(&last).Error
		switch {
		case err == nil:
			m := last.ToType()
			conv.LastMessage = &m
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, fmt.Errorf("load last message of %s: %w", conv.ID, err)
		}

		var unread int64
		err = s.db.WithContext(ctx).Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id <> ?", conv.ID, userID).
			Where("NOT EXISTS (SELECT 1 FROM message_receipts r WHERE r.message_id = messages.id AND r.user_id = ?)", userID).
			Count(&unread).Error
		if err != nil {
			return nil, fmt.Errorf("count unread in %s: %w", conv.ID, err)
		}
		conv.UnreadCount = int(unread)
		out = append(out, conv)
	}
	return out, nil
}

func (s *gormStore) GetConversation(ctx context.Context, id string) (*imtypes.Conversation, error) {
	var row models.Conversation
	if err := s.db.WithContext(ctx).Preload("Participants").First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	conv := row.ToType()
	return &conv, nil
}

func (s *gormStore) CreateConversation(ctx context.Context, c imtypes.Conversation) (*imtypes.Conversation, error) {
	row := models.ConversationFromType(c)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	conv := row.ToType()
	return &conv, nil
}

func (s *gormStore) FindDirectConversation(ctx context.Context, a, b string) (*imtypes.Conversation, error) {
	db := s.db.WithContext(ctx)
	member := func(userID string) *gorm.DB {
		return db.Model(&models.ConversationParticipant{}).Select("conversation_id").Where("user_id = ?", userID)
	}
	var rows []models.Conversation
	err := db.Where("is_group = ?", false).
		Where("id IN (?)", member(a)).
		Where("id IN (?)", member(b)).
		Preload("Participants").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find direct conversation: %w", err)
	}
	for i := range rows {
		if len(rows[i].Participants) == 2 {
			conv := rows[i].ToType()
			return &conv, nil
		}
	}
	return nil, imtypes.ErrNotFound
}

func (s *gormStore) AddParticipant(ctx context.Context, conversationID string, p imtypes.Participant) error {
	row := models.ParticipantFromType(conversationID, p)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("add %s to %s: %w", p.UserID, conversationID, err)
	}
	return nil
}

func (s *gormStore) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	res := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Delete(&models.ConversationParticipant{})
	if res.Error != nil {
		return fmt.Errorf("remove %s from %s: %w", userID, conversationID, res.Error)
	}
	if res.RowsAffected == 0 {
		return imtypes.ErrNotFound
	}
	return nil
}

func (s *gormStore) DeleteConversation(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.Conversation{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("delete conversation %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return imtypes.ErrNotFound
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&models.ConversationParticipant{}).Error; err != nil {
			return fmt.Errorf("delete participants of %s: %w", id, err)
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return fmt.Errorf("delete messages of %s: %w", id, err)
		}
		return nil
	})
}

func (s *gormStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]imtypes.Message, error) {
	var rows []models.Message
	query := withMessageRelations(s.db.WithContext(ctx)).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", conversationID, err)
	}

	out := make([]imtypes.Message, len(rows))
	for i := range rows {
		out[len(rows)-1-i] = rows[i].ToType()
	}
	return out, nil
}

func (s *gormStore) SaveMessage(ctx context.Context, m imtypes.Message) (*imtypes.Message, bool, error) {
	var saved imtypes.Message
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Message
		err := withMessageRelations(tx).First(&existing, "id = ?", m.ID).Error
		if err == nil {
			saved = existing.ToType()
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		row := models.MessageFromType(m)
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		err = tx.Model(&models.Conversation{}).
			Where("id = ? AND last_activity_at < ?", m.ConversationID, m.CreatedAt).
			Update("last_activity_at", m.CreatedAt).Error
		if err != nil {
			return err
		}
		saved = row.ToType()
		created = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("save message %s: %w", m.ID, err)
	}
	return &saved, created, nil
}

func (s *gormStore) GetMessage(ctx context.Context, id string) (*imtypes.Message, error) {
	var row models.Message
	if err := withMessageRelations(s.db.WithContext(ctx)).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	m := row.ToType()
	return &m, nil
}

func (s *gormStore) DeleteMessage(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.Message{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete message %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return imtypes.ErrNotFound
	}
	return nil
}

func (s *gormStore) MarkRead(ctx context.Context, r imtypes.MessageReadStatus) (*imtypes.MessageReadStatus, bool, error) {
	var stored imtypes.MessageReadStatus
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg models.Message
		if err := tx.Select("id").First(&msg, "id = ?", r.MessageID).Error; err != nil {
			return notFound(err)
		}
		var existing models.MessageReceipt
		err := tx.First(&existing, "message_id = ? AND user_id = ?", r.MessageID, r.UserID).Error
		if err == nil {
			stored = existing.ToType()
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		row := models.MessageReceipt{MessageID: r.MessageID, UserID: r.UserID, UserName: r.UserName, ReadAt: r.ReadAt}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		stored = row.ToType()
		created = true
		return nil
	})
	if err != nil {
		if errors.Is(err, imtypes.ErrNotFound) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("mark %s read: %w", r.MessageID, err)
	}
	return &stored, created, nil
}
