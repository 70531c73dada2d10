// Package gateway is the development realtime backend: REST for request and
// response calls, a websocket hub for push, and a fan-out bus between instances.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"assoc-messaging/internal/auth"
	"assoc-messaging/internal/clock"
	"assoc-messaging/internal/fanout"
	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	maxContentLength   = 1000
	maxGroupNameLength = 50
	defaultPageSize    = 50
	maxPageSize        = 200
)

// ErrForbidden is returned when the caller is not allowed to act on a resource.
var ErrForbidden = errors.New("forbidden")

// Service holds the gateway's rules. Every method acts on behalf of caller.
type Service interface {
	ListConversations(ctx context.Context, caller auth.Identity) ([]imtypes.Conversation, error)
	CreateConversation(ctx context.Context, caller auth.Identity, req imtypes.CreateConversationRequest) (*imtypes.Conversation, error)
	ListMessages(ctx context.Context, caller auth.Identity, conversationID string, limit, offset int) ([]imtypes.Message, error)
	SendMessage(ctx context.Context, caller auth.Identity, conversationID string, req imtypes.SendMessageRequest) (*imtypes.Message, error)
	MarkRead(ctx context.Context, caller auth.Identity, messageID string) (*imtypes.MessageReadStatus, error)
	DeleteMessage(ctx context.Context, caller auth.Identity, messageID string) error
	JoinConversation(ctx context.Context, caller auth.Identity, conversationID string) error
	LeaveConversation(ctx context.Context, caller auth.Identity, conversationID string) error
	DeleteConversation(ctx context.Context, caller auth.Identity, conversationID string) error
	UpdatePresence(ctx context.Context, caller auth.Identity, status imtypes.PresenceStatus) error
	GetPresence(ctx context.Context, userIDs []string) ([]imtypes.UserPresence, error)
	UpdateTyping(ctx context.Context, caller auth.Identity, conversationID string, isTyping bool) error
	FileURL(ctx context.Context, fileID string) (string, error)

	// CanSubscribe and PresenceSnapshot back the websocket hub.
	CanSubscribe(ctx context.Context, userID, conversationID string) (bool, error)
	PresenceSnapshot(ctx context.Context, userIDs []string) ([]imtypes.UserPresence, error)
}

type service struct {
	store       imtypes.ConversationStore
	presence    imtypes.PresenceStore
	files       imtypes.StorageService
	bus         fanout.Bus
	metrics     *metrics.Metrics
	clock       clock.Clock
	presenceTTL time.Duration
	log         *logrus.Entry
}

// NewService wires the gateway rules to their collaborators. A nil clock uses wall time.
func NewService(store imtypes.ConversationStore, presence imtypes.PresenceStore, files imtypes.StorageService, bus fanout.Bus, m *metrics.Metrics, clk clock.Clock, presenceTTL time.Duration) Service {
	if presenceTTL <= 0 {
		presenceTTL = 2 * time.Minute
	}
	return &service{
		store:       store,
		presence:    presence,
		files:       files,
		bus:         bus,
		metrics:     m,
		clock:       clock.OrReal(clk),
		presenceTTL: presenceTTL,
		log:         logrus.WithField("component", "gateway"),
	}
}

func invalid(field, reason string) error {
	return &imtypes.ValidationError{Field: field, Reason: reason}
}

func (s *service) now() time.Time { return s.clock.Now().UTC() }

// publish hands ev to the bus. The request already succeeded, so a failed
// publish is logged rather than returned.
func (s *service) publish(ctx context.Context, ev imtypes.Event) {
	ev.ID = uuid.NewString()
	ev.OccurredAt = s.now()
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.log.WithFields(logrus.Fields{"type": ev.Type, "conversation_id": ev.ConversationID, "error": err}).Error("failed to publish event")
		return
	}
	s.metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
}

// member loads a conversation and checks that caller belongs to it.
func (s *service) member(ctx context.Context, caller auth.Identity, conversationID string) (*imtypes.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(caller.UserID) {
		return nil, ErrForbidden
	}
	return conv, nil
}

func (s *service) ListConversations(ctx context.Context, caller auth.Identity) ([]imtypes.Conversation, error) {
	return s.store.ListConversations(ctx, caller.UserID)
}

func (s *service) CreateConversation(ctx context.Context, caller auth.Identity, req imtypes.CreateConversationRequest) (*imtypes.Conversation, error) {
	seen := map[string]bool{caller.UserID: true}
	var others []string
	for _, id := range req.ParticipantIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		others = append(others, id)
	}
	if len(others) == 0 {
		return nil, invalid("participantIds", "at least one other participant is required")
	}

	name := strings.TrimSpace(req.Name)
	if req.IsGroup {
		if name == "" {
			return nil, invalid("name", "group conversations need a name")
		}
		if len([]rune(name)) > maxGroupNameLength {
			return nil, invalid("name", fmt.Sprintf("must be at most %d characters", maxGroupNameLength))
		}
	} else {
		if len(others) != 1 {
			return nil, invalid("participantIds", "a direct conversation has exactly one other participant")
		}
		existing, err := s.store.FindDirectConversation(ctx, caller.UserID, others[0])
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, imtypes.ErrNotFound) {
			return nil, err
		}
	}

	now := s.now()
	conv := imtypes.Conversation{
		ID:             uuid.NewString(),
		Name:           name,
		IsGroup:        req.IsGroup,
		CreatedBy:      caller.UserID,
		CreatedAt:      now,
		LastActivityAt: now,
		Participants:   []imtypes.Participant{{UserID: caller.UserID, UserName: caller.Name, Role: "admin", JoinedAt: now}},
	}
	for _, id := range others {
		conv.Participants = append(conv.Participants, imtypes.Participant{UserID: id, Role: "member", JoinedAt: now})
	}
	created, err := s.store.CreateConversation(ctx, conv)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"conversation_id": created.ID, "is_group": created.IsGroup, "participants": len(created.Participants)}).Info("conversation created")
	return created, nil
}

func (s *service) ListMessages(ctx context.Context, caller auth.Identity, conversationID string, limit, offset int) ([]imtypes.Message, error) {
	if _, err := s.member(ctx, caller, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		return nil, invalid("offset", "must not be negative")
	}
	return s.store.ListMessages(ctx, conversationID, limit, offset)
}

func validateMessage(req imtypes.SendMessageRequest) error {
	switch req.Type {
	case imtypes.TextMessageType:
		if req.Content == "" {
			return invalid("content", "must not be empty")
		}
	case imtypes.FileMessageType, imtypes.VoiceMessageType:
		if len(req.Attachments) == 0 {
			return invalid("attachments", fmt.Sprintf("a %s message needs an attachment", req.Type))
		}
		for _, a := range req.Attachments {
			if a.FileID == "" {
				return invalid("attachments", "every attachment needs a file id")
			}
		}
	default:
		return invalid("type", fmt.Sprintf("unsupported message type %q", req.Type))
	}
	if len([]rune(req.Content)) > maxContentLength {
		return invalid("content", fmt.Sprintf("must be at most %d characters", maxContentLength))
	}
	return nil
}

func (s *service) SendMessage(ctx context.Context, caller auth.Identity, conversationID string, req imtypes.SendMessageRequest) (*imtypes.Message, error) {
	if req.ConversationID != "" && req.ConversationID != conversationID {
		return nil, invalid("conversationId", "does not match the path")
	}
	if req.Type == "" {
		req.Type = imtypes.TextMessageType
	}
	req.Content = strings.TrimSpace(req.Content)
	if err := validateMessage(req); err != nil {
		return nil, err
	}
	if _, err := s.member(ctx, caller, conversationID); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	senderName := caller.Name
	if senderName == "" {
		senderName = req.SenderName
	}
	msg := imtypes.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       caller.UserID,
		SenderName:     senderName,
		Type:           req.Type,
		Content:        req.Content,
		Attachments:    req.Attachments,
		CreatedAt:      s.now(),
	}
	saved, created, err := s.store.SaveMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	if saved.ConversationID != conversationID || saved.SenderID != caller.UserID {
		// id reused by someone else
		return nil, invalid("id", "already in use")
	}
	if created {
		m := saved.Clone()
		s.publish(ctx, imtypes.Event{Type: imtypes.EventMessage, ConversationID: conversationID, Message: &m})
	}
	return saved, nil
}

func (s *service) MarkRead(ctx context.Context, caller auth.Identity, messageID string) (*imtypes.MessageReadStatus, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.member(ctx, caller, msg.ConversationID); err != nil {
		return nil, err
	}
	receipt, created, err := s.store.MarkRead(ctx, imtypes.MessageReadStatus{
		MessageID: messageID,
		UserID:    caller.UserID,
		UserName:  caller.Name,
		ReadAt:    s.now(),
	})
	if err != nil {
		return nil, err
	}
	if created {
		r := *receipt
		s.publish(ctx, imtypes.Event{Type: imtypes.EventReadStatus, ConversationID: msg.ConversationID, ReadStatus: &r})
	}
	return receipt, nil
}

func (s *service) DeleteMessage(ctx context.Context, caller auth.Identity, messageID string) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != caller.UserID {
		return ErrForbidden
	}
	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		return err
	}
	s.publish(ctx, imtypes.Event{Type: imtypes.EventMessageDeleted, ConversationID: msg.ConversationID, MessageID: messageID})
	return nil
}

func (s *service) JoinConversation(ctx context.Context, caller auth.Identity, conversationID string) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.HasParticipant(caller.UserID) {
		return nil
	}
	if !conv.IsGroup {
		return ErrForbidden
	}
	return s.store.AddParticipant(ctx, conversationID, imtypes.Participant{
		UserID:   caller.UserID,
		UserName: caller.Name,
		Role:     "member",
		JoinedAt: s.now(),
	})
}

func (s *service) LeaveConversation(ctx context.Context, caller auth.Identity, conversationID string) error {
	if _, err := s.member(ctx, caller, conversationID); err != nil {
		return err
	}
	return s.store.RemoveParticipant(ctx, conversationID, caller.UserID)
}

func (s *service) DeleteConversation(ctx context.Context, caller auth.Identity, conversationID string) error {
	conv, err := s.member(ctx, caller, conversationID)
	if err != nil {
		return err
	}
	if conv.IsGroup && conv.CreatedBy != caller.UserID {
		return ErrForbidden
	}
	return s.store.DeleteConversation(ctx, conversationID)
}

func (s *service) UpdatePresence(ctx context.Context, caller auth.Identity, status imtypes.PresenceStatus) error {
	if !status.Valid() {
		return invalid("status", fmt.Sprintf("unknown presence status %q", status))
	}
	p := imtypes.UserPresence{UserID: caller.UserID, Status: status, LastSeen: s.now()}
	if err := s.presence.Set(ctx, p, s.presenceTTL); err != nil {
		return err
	}
	s.publish(ctx, imtypes.Event{Type: imtypes.EventPresence, Presence: &p})
	return nil
}

func (s *service) GetPresence(ctx context.Context, userIDs []string) ([]imtypes.UserPresence, error) {
	var ids []string
	for _, id := range userIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, invalid("userIds", "at least one user id is required")
	}
	return s.presence.Get(ctx, ids)
}

func (s *service) UpdateTyping(ctx context.Context, caller auth.Identity, conversationID string, isTyping bool) error {
	if _, err := s.member(ctx, caller, conversationID); err != nil {
		return err
	}
	s.publish(ctx, imtypes.Event{
		Type:           imtypes.EventTyping,
		ConversationID: conversationID,
		Typing: &imtypes.TypingIndicator{
			ConversationID: conversationID,
			UserID:         caller.UserID,
			UserName:       caller.Name,
			IsTyping:       isTyping,
			UpdatedAt:      s.now(),
		},
	})
	return nil
}

func (s *service) FileURL(ctx context.Context, fileID string) (string, error) {
	return s.files.FileURL(ctx, fileID)
}

func (s *service) CanSubscribe(ctx context.Context, userID, conversationID string) (bool, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, imtypes.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return conv.HasParticipant(userID), nil
}

func (s *service) PresenceSnapshot(ctx context.Context, userIDs []string) ([]imtypes.UserPresence, error) {
	return s.presence.Get(ctx, userIDs)
}
