package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"sync"
	"unicode/utf8"

	"assoc-messaging/internal/auth"
	"assoc-messaging/internal/clock"
	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/realtime"
	"assoc-messaging/internal/recorder"
	"assoc-messaging/internal/transport"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// MaxContentLength is the longest text a message may carry, in characters.
	MaxContentLength = 1000
	// MaxGroupNameLength is the longest group conversation name.
	MaxGroupNameLength = 50
)

// MessagingService is the client-side use-case layer: it validates input,
// talks to the transport and keeps the session state in step.
type MessagingService interface {
	LoadConversations(ctx context.Context) ([]imtypes.Conversation, error)
	CreateConversation(ctx context.Context, req imtypes.CreateConversationRequest) (*imtypes.Conversation, error)
	// SelectConversation opens a conversation: loads its newest page,
	// subscribes to its events and marks the newest unread message as read.
	SelectConversation(ctx context.Context, conversationID string) error
	LoadMoreMessages(ctx context.Context) error
	// SendMessage sends a text message (with optional attachments) to the selected conversation.
	SendMessage(ctx context.Context, content string, attachments []imtypes.Attachment) (*imtypes.Message, error)
	SendVoiceMessage(ctx context.Context, blob recorder.Blob) (*imtypes.Message, error)
	UploadFile(ctx context.Context, upload transport.Upload) (*imtypes.Attachment, error)
	MarkAsRead(ctx context.Context, messageID string) error
	DeleteMessage(ctx context.Context, messageID string) error
	JoinConversation(ctx context.Context, conversationID string) error
	LeaveConversation(ctx context.Context, conversationID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
	DownloadURL(ctx context.Context, fileID string) (string, error)
	// Close drops the subscription of the selected conversation.
	Close()
}

type messagingService struct {
	sess     *realtime.Session
	svc      transport.Service
	identity auth.Provider
	clock    clock.Clock
	handlers transport.ConversationHandlers

	mu             sync.Mutex
	selectedCancel transport.CancelFunc
}

// NewMessagingService builds the service. handlers receive the selected
// conversation's events after the session has applied them.
func NewMessagingService(sess *realtime.Session, svc transport.Service, identity auth.Provider, clk clock.Clock, handlers transport.ConversationHandlers) MessagingService {
	if identity == nil {
		identity = auth.Anonymous
	}
	return &messagingService{
		sess:     sess,
		svc:      svc,
		identity: identity,
		clock:    clock.OrReal(clk),
		handlers: handlers,
	}
}

func (s *messagingService) requireAuth(op string) (auth.Identity, error) {
	id := s.identity.Identity()
	if !id.IsAuthenticated {
		return id, &imtypes.AuthRequiredError{Op: op}
	}
	return id, nil
}

func (s *messagingService) fail(op string, err error) error {
	terr := &imtypes.TransportError{Op: op, Err: err}
	s.sess.Report("messaging", terr)
	return terr
}

func (s *messagingService) LoadConversations(ctx context.Context) ([]imtypes.Conversation, error) {
	id, err := s.requireAuth("loadConversations")
	if err != nil {
		return nil, err
	}
	s.sess.State.SetLoading(true)
	defer s.sess.State.SetLoading(false)

	convs, err := s.svc.GetUserConversations(ctx, id.UserID)
	if err != nil {
		return nil, s.fail("getUserConversations", err)
	}
	s.sess.State.SetConversations(convs)
	s.sess.State.ClearError()
	return convs, nil
}

func (s *messagingService) CreateConversation(ctx context.Context, req imtypes.CreateConversationRequest) (*imtypes.Conversation, error) {
	id, err := s.requireAuth("createConversation")
	if err != nil {
		return nil, err
	}

	others := normalizeParticipants(req.ParticipantIDs, id.UserID)
	if len(others) == 0 {
		return nil, &imtypes.ValidationError{Field: "participantIds", Reason: "select at least one participant"}
	}
	name := strings.TrimSpace(req.Name)
	if req.IsGroup {
		if name == "" {
			return nil, &imtypes.ValidationError{Field: "name", Reason: "group name is required"}
		}
		if utf8.RuneCountInString(name) > MaxGroupNameLength {
			return nil, &imtypes.ValidationError{Field: "name", Reason: fmt.Sprintf("at most %d characters", MaxGroupNameLength)}
		}
	} else {
		if len(others) > 1 {
			return nil, &imtypes.ValidationError{Field: "participantIds", Reason: "a direct conversation takes exactly one other participant"}
		}
		if existing, ok := s.findDirect(id.UserID, others[0]); ok {
			logrus.WithFields(logrus.Fields{
				"component":      "messaging",
				"conversationId": existing.ID,
			}).Debug("reusing existing direct conversation")
			return &existing, nil
		}
	}

	conv, err := s.svc.CreateConversation(ctx, name, others, req.IsGroup)
	if err != nil {
		return nil, s.fail("createConversation", err)
	}
	s.sess.State.UpsertConversation(*conv)
	return conv, nil
}

func (s *messagingService) findDirect(self, other string) (imtypes.Conversation, bool) {
	for _, c := range s.sess.State.Conversations() {
		if c.IsGroup || len(c.Participants) != 2 {
			continue
		}
		if c.HasParticipant(self) && c.HasParticipant(other) {
			return c, true
		}
	}
	return imtypes.Conversation{}, false
}

// normalizeParticipants trims, dedups and drops self, keeping input order.
func normalizeParticipants(ids []string, self string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" || id == self {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *messagingService) SelectConversation(ctx context.Context, conversationID string) error {
	if _, err := s.requireAuth("selectConversation"); err != nil {
		return err
	}
	if conversationID == "" {
		return &imtypes.ValidationError{Field: "conversationId", Reason: "must not be empty"}
	}

	previous := s.sess.State.SelectedConversationID()
	s.sess.State.SelectConversation(conversationID)
	if previous != conversationID {
		s.dropSelectedSubscription()
	}

	if err := s.sess.Ingestion.LoadMessages(ctx, conversationID, 0, 0); err != nil {
		return err
	}

	cancel := s.sess.Open(ctx, conversationID, s.handlers)
	s.mu.Lock()
	s.selectedCancel = cancel
	s.mu.Unlock()

	s.sess.State.UpdateConversation(conversationID, func(c *imtypes.Conversation) { c.UnreadCount = 0 })
	s.markNewestRead(ctx)
	return nil
}

func (s *messagingService) markNewestRead(ctx context.Context) {
	self := s.identity.Identity().UserID
	msgs := s.sess.State.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.SenderID == self {
			continue
		}
		if !m.IsReadBy(self) {
			_ = s.MarkAsRead(ctx, m.ID)
		}
		return
	}
}

func (s *messagingService) dropSelectedSubscription() {
	s.mu.Lock()
	cancel := s.selectedCancel
	s.selectedCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *messagingService) LoadMoreMessages(ctx context.Context) error {
	return s.sess.Ingestion.LoadMore(ctx)
}

func (s *messagingService) SendMessage(ctx context.Context, content string, attachments []imtypes.Attachment) (*imtypes.Message, error) {
	msgType := imtypes.TextMessageType
	if strings.TrimSpace(content) == "" && len(attachments) > 0 {
		msgType = imtypes.FileMessageType
	}
	return s.send(ctx, msgType, content, attachments)
}

func (s *messagingService) send(ctx context.Context, msgType imtypes.MessageType, content string, attachments []imtypes.Attachment) (*imtypes.Message, error) {
	id, err := s.requireAuth("sendMessage")
	if err != nil {
		return nil, err
	}
	conversationID := s.sess.State.SelectedConversationID()
	if conversationID == "" {
		return nil, &imtypes.ValidationError{Field: "conversationId", Reason: "no conversation selected"}
	}
	content = strings.TrimSpace(content)
	switch msgType {
	case imtypes.TextMessageType:
		if content == "" {
			return nil, &imtypes.ValidationError{Field: "content", Reason: "message must not be empty"}
		}
	case imtypes.FileMessageType, imtypes.VoiceMessageType:
		if len(attachments) == 0 {
			return nil, &imtypes.ValidationError{Field: "attachments", Reason: "an attachment is required"}
		}
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, &imtypes.ValidationError{Field: "content", Reason: fmt.Sprintf("at most %d characters", MaxContentLength)}
	}

	req := imtypes.SendMessageRequest{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       id.UserID,
		SenderName:     id.Name,
		Type:           msgType,
		Content:        content,
		Attachments:    attachments,
	}
	s.sess.Ingestion.ApplyLocal(imtypes.Message{
		ID:             req.ID,
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		SenderName:     req.SenderName,
		Type:           req.Type,
		Content:        req.Content,
		Attachments:    req.Attachments,
		CreatedAt:      s.clock.Now(),
	})

	// Sending ends the local typing burst.
	if err := s.sess.Typing.SetTyping(ctx, conversationID, false); err != nil {
		logrus.WithFields(logrus.Fields{"component": "messaging", "error": err}).Debug("typing stop before send failed")
	}

	sent, err := s.svc.SendMessage(ctx, req)
	if err != nil {
		s.sess.Ingestion.MarkFailed(req.ID)
		return nil, s.fail("sendMessage", err)
	}
	if sent.ID == "" {
		sent.ID = req.ID
	}
	sent.Delivery = imtypes.DeliverySent
	s.sess.Ingestion.ApplyIncoming(*sent)
	return sent, nil
}

func (s *messagingService) UploadFile(ctx context.Context, upload transport.Upload) (*imtypes.Attachment, error) {
	if _, err := s.requireAuth("uploadFile"); err != nil {
		return nil, err
	}
	if upload.Body == nil || upload.Size <= 0 {
		return nil, &imtypes.ValidationError{Field: "file", Reason: "file is empty"}
	}
	info, err := s.svc.UploadAttachment(ctx, upload)
	if err != nil {
		return nil, s.fail("uploadAttachment", err)
	}
	return &imtypes.Attachment{
		ID:       uuid.NewString(),
		FileID:   info.ID,
		FileName: info.FileName,
		FileType: info.MimeType,
		FileSize: info.Size,
		FileURL:  info.URL,
	}, nil
}

func (s *messagingService) SendVoiceMessage(ctx context.Context, blob recorder.Blob) (*imtypes.Message, error) {
	if _, err := s.requireAuth("sendVoiceMessage"); err != nil {
		return nil, err
	}
	if blob.Size() == 0 {
		return nil, &imtypes.ValidationError{Field: "recording", Reason: "no voice recording found"}
	}
	if s.sess.State.SelectedConversationID() == "" {
		return nil, &imtypes.ValidationError{Field: "conversationId", Reason: "no conversation selected"}
	}

	att, err := s.UploadFile(ctx, transport.Upload{
		FileName: voiceFileName(blob.MimeType),
		MimeType: blob.MimeType,
		Size:     int64(blob.Size()),
		Body:     bytes.NewReader(blob.Data),
	})
	if err != nil {
		return nil, err
	}
	att.Duration = float64(blob.Duration)
	return s.send(ctx, imtypes.VoiceMessageType, "", []imtypes.Attachment{*att})
}

// voiceFileName picks a file name whose extension matches the recording's container.
func voiceFileName(mimeType string) string {
	ext := ".webm"
	if base, _, err := mime.ParseMediaType(mimeType); err == nil {
		switch base {
		case "audio/ogg":
			ext = ".ogg"
		case "audio/mp4":
			ext = ".m4a"
		}
	}
	return "voice-" + uuid.NewString() + ext
}

// MarkAsRead records the caller's receipt. Failures are logged and returned
// but do not set the session error.
func (s *messagingService) MarkAsRead(ctx context.Context, messageID string) error {
	id, err := s.requireAuth("markAsRead")
	if err != nil {
		return err
	}
	if messageID == "" {
		return &imtypes.ValidationError{Field: "messageId", Reason: "must not be empty"}
	}
	status, err := s.svc.MarkMessageAsRead(ctx, messageID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "messaging",
			"messageId": messageID,
			"error":     err,
		}).Warn("mark as read failed")
		return &imtypes.TransportError{Op: "markMessageAsRead", Err: err}
	}
	receipt := imtypes.MessageReadStatus{MessageID: messageID, UserID: id.UserID, UserName: id.Name, ReadAt: s.clock.Now()}
	if status != nil {
		receipt = *status
	}
	s.sess.Ingestion.ApplyReadStatus(receipt)
	return nil
}

func (s *messagingService) DeleteMessage(ctx context.Context, messageID string) error {
	if _, err := s.requireAuth("deleteMessage"); err != nil {
		return err
	}
	if messageID == "" {
		return &imtypes.ValidationError{Field: "messageId", Reason: "must not be empty"}
	}
	if err := s.svc.DeleteMessage(ctx, messageID); err != nil {
		return s.fail("deleteMessage", err)
	}
	s.sess.Ingestion.ApplyDeleted(messageID)
	return nil
}

func (s *messagingService) JoinConversation(ctx context.Context, conversationID string) error {
	if _, err := s.requireAuth("joinConversation"); err != nil {
		return err
	}
	if conversationID == "" {
		return &imtypes.ValidationError{Field: "conversationId", Reason: "must not be empty"}
	}
	if err := s.svc.JoinConversation(ctx, conversationID); err != nil {
		return s.fail("joinConversation", err)
	}
	_, err := s.LoadConversations(ctx)
	return err
}

func (s *messagingService) LeaveConversation(ctx context.Context, conversationID string) error {
	return s.removeConversation(ctx, "leaveConversation", conversationID, s.svc.LeaveConversation)
}

func (s *messagingService) DeleteConversation(ctx context.Context, conversationID string) error {
	return s.removeConversation(ctx, "deleteConversation", conversationID, s.svc.DeleteConversation)
}

func (s *messagingService) removeConversation(ctx context.Context, op, conversationID string, call func(context.Context, string) error) error {
	if _, err := s.requireAuth(op); err != nil {
		return err
	}
	if conversationID == "" {
		return &imtypes.ValidationError{Field: "conversationId", Reason: "must not be empty"}
	}
	if err := call(ctx, conversationID); err != nil {
		return s.fail(op, err)
	}
	if s.sess.State.SelectedConversationID() == conversationID {
		s.dropSelectedSubscription()
		s.sess.Ingestion.Reset()
	}
	s.sess.State.RemoveConversation(conversationID)
	return nil
}

func (s *messagingService) DownloadURL(ctx context.Context, fileID string) (string, error) {
	if fileID == "" {
		return "", &imtypes.ValidationError{Field: "fileId", Reason: "must not be empty"}
	}
	url, err := s.svc.GetFileDownloadURL(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("get download url for %s: %w", fileID, err)
	}
	return url, nil
}

func (s *messagingService) Close() {
	s.dropSelectedSubscription()
}

// IsValidation reports whether err was rejected before reaching the transport.
func IsValidation(err error) bool {
	var v *imtypes.ValidationError
	return errors.As(err, &v)
}
