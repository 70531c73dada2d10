package services

import (
	"context"
	"errors"
	"io"
	"sync"

	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/transport"
)

var errBackend = errors.New("backend unavailable")

type fakeSub struct {
	handlers  transport.ConversationHandlers
	cancelled bool
}

// fakeTransport is an in-memory transport recording every call.
type fakeTransport struct {
	mu sync.Mutex

	conversations []imtypes.Conversation
	history       map[string][]imtypes.Message
	subs          map[string][]*fakeSub

	created   []imtypes.CreateConversationRequest
	sent      []imtypes.SendMessageRequest
	reads     []string
	deleted   []string
	left      []string
	joined    []string
	uploads   []transport.Upload
	uploaded  [][]byte
	typing    []bool
	sendErr   error
	readErr   error
	createErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		history: make(map[string][]imtypes.Message),
		subs:    make(map[string][]*fakeSub),
	}
}

func (f *fakeTransport) GetUserConversations(context.Context, string) ([]imtypes.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]imtypes.Conversation(nil), f.conversations...), nil
}

func (f *fakeTransport) CreateConversation(_ context.Context, name string, ids []string, isGroup bool) (*imtypes.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, imtypes.CreateConversationRequest{Name: name, ParticipantIDs: ids, IsGroup: isGroup})
	return &imtypes.Conversation{ID: "created", Name: name, IsGroup: isGroup}, nil
}

func (f *fakeTransport) GetConversationMessages(_ context.Context, id string, limit, offset int) ([]imtypes.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.history[id]
	end := len(all) - offset
	if end <= 0 {
		return nil, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return append([]imtypes.Message(nil), all[start:end]...), nil
}

func (f *fakeTransport) SendMessage(_ context.Context, req imtypes.SendMessageRequest) (*imtypes.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &imtypes.Message{
		ID:             req.ID,
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		SenderName:     req.SenderName,
		Type:           req.Type,
		Content:        req.Content,
		Attachments:    req.Attachments,
	}, nil
}

func (f *fakeTransport) MarkMessageAsRead(_ context.Context, id string) (*imtypes.MessageReadStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	f.reads = append(f.reads, id)
	return &imtypes.MessageReadStatus{MessageID: id, UserID: "alice"}, nil
}

func (f *fakeTransport) JoinConversation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, id)
	return nil
}

func (f *fakeTransport) LeaveConversation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, id)
	return nil
}

func (f *fakeTransport) DeleteConversation(_ context.Context, id string) error {
	return f.LeaveConversation(context.Background(), id)
}

func (f *fakeTransport) DeleteMessage(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeTransport) UploadAttachment(_ context.Context, up transport.Upload) (*imtypes.FileInfo, error) {
	data, err := io.ReadAll(up.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, up)
	f.uploaded = append(f.uploaded, data)
	return &imtypes.FileInfo{ID: "file-1", URL: "/uploads/file-1", Size: int64(len(data)), MimeType: up.MimeType, FileName: up.FileName}, nil
}

func (f *fakeTransport) GetFileDownloadURL(_ context.Context, id string) (string, error) {
	return "/uploads/" + id, nil
}

func (f *fakeTransport) SubscribeToConversation(_ context.Context, id string, h transport.ConversationHandlers) (transport.CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSub{handlers: h}
	f.subs[id] = append(f.subs[id], s)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		s.cancelled = true
	}, nil
}

func (f *fakeTransport) SubscribeToPresence(context.Context, []string, func(imtypes.UserPresence)) (transport.CancelFunc, error) {
	return func() {}, nil
}

func (f *fakeTransport) UpdatePresence(context.Context, imtypes.PresenceStatus) error { return nil }

func (f *fakeTransport) UpdateTypingIndicator(_ context.Context, _ string, isTyping bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, isTyping)
	return nil
}

func (f *fakeTransport) SetGlobalCallbacks(transport.GlobalCallbacks) {}

func (f *fakeTransport) live(id string) []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeSub
	for _, s := range f.subs[id] {
		if !s.cancelled {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeTransport) push(msg imtypes.Message) {
	for _, s := range f.live(msg.ConversationID) {
		s.handlers.OnMessage(msg)
	}
}
