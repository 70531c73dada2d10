package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"assoc-messaging/internal/auth"
	"assoc-messaging/internal/clock"
	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/transport"
)

var errTransport = errors.New("transport unavailable")

type typingCall struct {
	conversationID string
	isTyping       bool
}

type convSub struct {
	id        int
	handlers  transport.ConversationHandlers
	cancelled int
}

type presenceSub struct {
	id        int
	ids       []string
	onChange  func(imtypes.UserPresence)
	cancelled int
}

// mockTransport records calls and lets tests push events into live subscriptions.
type mockTransport struct {
	mu sync.Mutex

	subscribeErr error
	presenceErr  error
	typingErr    error
	messagesErr  error
	// inFlight runs inside UpdatePresence before it returns, outside the lock.
	inFlight     func(imtypes.PresenceStatus)
	// beforeFetch runs at the start of GetConversationMessages, outside the lock.
	beforeFetch  func(id string, offset int)

	seq           int
	convSubs      map[string][]*convSub
	presenceSubs  []*presenceSub
	presenceCalls []imtypes.PresenceStatus
	typingCalls   []typingCall
	globals       transport.GlobalCallbacks
	pages         map[string][]imtypes.Message // conversation -> chronological history
	sent          []imtypes.SendMessageRequest
	// events records cancel/subscribe order for ordering assertions.
	events []string
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		convSubs: make(map[string][]*convSub),
		pages:    make(map[string][]imtypes.Message),
	}
}

func (m *mockTransport) SubscribeToConversation(_ context.Context, id string, h transport.ConversationHandlers) (transport.CancelFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	m.seq++
	s := &convSub{id: m.seq, handlers: h}
	m.convSubs[id] = append(m.convSubs[id], s)
	m.events = append(m.events, "subscribe:"+id)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		s.cancelled++
		m.events = append(m.events, "cancel:"+id)
	}, nil
}

func (m *mockTransport) SubscribeToPresence(_ context.Context, ids []string, on func(imtypes.UserPresence)) (transport.CancelFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	m.seq++
	s := &presenceSub{id: m.seq, ids: append([]string(nil), ids...), onChange: on}
	m.presenceSubs = append(m.presenceSubs, s)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		s.cancelled++
	}, nil
}

func (m *mockTransport) UpdatePresence(_ context.Context, status imtypes.PresenceStatus) error {
	m.mu.Lock()
	if m.presenceErr != nil {
		err := m.presenceErr
		m.mu.Unlock()
		return err
	}
	m.presenceCalls = append(m.presenceCalls, status)
	hook := m.inFlight
	m.mu.Unlock()
	if hook != nil {
		hook(status)
	}
	return nil
}

func (m *mockTransport) UpdateTypingIndicator(_ context.Context, id string, isTyping bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typingCalls = append(m.typingCalls, typingCall{conversationID: id, isTyping: isTyping})
	return m.typingErr
}

func (m *mockTransport) SetGlobalCallbacks(cb transport.GlobalCallbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globals = cb
}

func (m *mockTransport) GetUserConversations(context.Context, string) ([]imtypes.Conversation, error) {
	return nil, nil
}

func (m *mockTransport) CreateConversation(_ context.Context, name string, ids []string, isGroup bool) (*imtypes.Conversation, error) {
	return &imtypes.Conversation{ID: "new", Name: name, IsGroup: isGroup}, nil
}

// GetConversationMessages pages newest-first over the stored history.
func (m *mockTransport) GetConversationMessages(_ context.Context, id string, limit, offset int) ([]imtypes.Message, error) {
	m.mu.Lock()
	hook := m.beforeFetch
	m.mu.Unlock()
	if hook != nil {
		hook(id, offset)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.messagesErr != nil {
		return nil, m.messagesErr
	}
	all := m.pages[id]
	end := len(all) - offset
	if end <= 0 {
		return []imtypes.Message{}, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return append([]imtypes.Message(nil), all[start:end]...), nil
}

func (m *mockTransport) SendMessage(_ context.Context, req imtypes.SendMessageRequest) (*imtypes.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, req)
	return &imtypes.Message{ID: req.ID, ConversationID: req.ConversationID, SenderID: req.SenderID, Content: req.Content}, nil
}

func (m *mockTransport) MarkMessageAsRead(_ context.Context, id string) (*imtypes.MessageReadStatus, error) {
	return &imtypes.MessageReadStatus{MessageID: id}, nil
}

func (m *mockTransport) JoinConversation(context.Context, string) error   { return nil }
func (m *mockTransport) LeaveConversation(context.Context, string) error  { return nil }
func (m *mockTransport) DeleteConversation(context.Context, string) error { return nil }
func (m *mockTransport) DeleteMessage(context.Context, string) error      { return nil }

func (m *mockTransport) UploadAttachment(context.Context, transport.Upload) (*imtypes.FileInfo, error) {
	return &imtypes.FileInfo{ID: "f1"}, nil
}

func (m *mockTransport) GetFileDownloadURL(_ context.Context, id string) (string, error) {
	return "/uploads/" + id, nil
}

// helpers

func (m *mockTransport) liveConvSubs(id string) []*convSub {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*convSub
	for _, s := range m.convSubs[id] {
		if s.cancelled == 0 {
			out = append(out, s)
		}
	}
	return out
}

func (m *mockTransport) pushTyping(ind imtypes.TypingIndicator) {
	for _, s := range m.liveConvSubs(ind.ConversationID) {
		s.handlers.OnTyping(ind)
	}
}

func (m *mockTransport) pushMessage(msg imtypes.Message) {
	for _, s := range m.liveConvSubs(msg.ConversationID) {
		s.handlers.OnMessage(msg)
	}
}

func (m *mockTransport) typingFalseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.typingCalls {
		if !c.isTyping {
			n++
		}
	}
	return n
}

func (m *mockTransport) globalCallbacks() transport.GlobalCallbacks {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.globals
}

func (m *mockTransport) presenceStatuses() []imtypes.PresenceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]imtypes.PresenceStatus(nil), m.presenceCalls...)
}

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

var alice = auth.Static{UserID: "alice", Name: "Alice", IsAuthenticated: true}

type harness struct {
	tr      *mockTransport
	clk     *clock.Fake
	sess    *Session
	errsMu  sync.Mutex
	errs    []error
	pending []func()
}

func newHarness(identity auth.Provider) *harness {
	h := &harness{tr: newMockTransport(), clk: clock.NewFake(testStart)}
	opts := DefaultOptions()
	opts.Clock = h.clk
	opts.OnError = func(err error) {
		h.errsMu.Lock()
		h.errs = append(h.errs, err)
		h.errsMu.Unlock()
	}
	opts.Async = func(f func()) { h.pending = append(h.pending, f) }
	h.sess = NewSession(identity, h.tr, opts)
	return h
}

func (h *harness) reported() []error {
	h.errsMu.Lock()
	defer h.errsMu.Unlock()
	return append([]error(nil), h.errs...)
}

func (h *harness) runAsync() {
	pending := h.pending
	h.pending = nil
	for _, f := range pending {
		f()
	}
}

func msgAt(id, conv, sender string, at time.Duration) imtypes.Message {
	return imtypes.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       sender,
		SenderName:     sender,
		Type:           imtypes.TextMessageType,
		Content:        "msg " + id,
		CreatedAt:      testStart.Add(at),
	}
}
