package realtime

import (
	"context"
	"sync"

	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/transport"

	"github.com/sirupsen/logrus"
)

// handle wraps a transport cancel so it runs at most once.
type handle struct {
	once   sync.Once
	cancel transport.CancelFunc
}

func (h *handle) release() {
	h.once.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
	})
}

// SubscriptionManager keeps at most one live push subscription per conversation.
type SubscriptionManager struct {
	mu     sync.Mutex
	rt     transport.Realtime
	typing *TypingCoordinator
	report *reporter
	subs   map[string]*handle
}

func newSubscriptionManager(rt transport.Realtime, typing *TypingCoordinator, rep *reporter) *SubscriptionManager {
	return &SubscriptionManager{
		rt:     rt,
		typing: typing,
		report: rep,
		subs:   make(map[string]*handle),
	}
}

// Subscribe opens the push subscription for conversationID, tearing down any
// previous one first. Remote typing events update the shared typing list
// before cb.OnTyping runs. If the transport refuses the subscription a
// SubscriptionError is reported and a no-op cancel is returned.
func (m *SubscriptionManager) Subscribe(ctx context.Context, conversationID string, cb transport.ConversationHandlers) transport.CancelFunc {
	if conversationID == "" {
		m.report.report("subscriptions", &imtypes.SubscriptionError{
			Target: "conversation",
			Err:    &imtypes.ValidationError{Field: "conversationId", Reason: "must not be empty"},
		})
		return func() {}
	}

	wrapped := transport.ConversationHandlers{
		OnMessage: func(msg imtypes.Message) {
			if cb.OnMessage != nil {
				cb.OnMessage(msg)
			}
		},
		OnTyping: func(ind imtypes.TypingIndicator) {
			m.typing.ApplyRemote(ind)
			if cb.OnTyping != nil {
				cb.OnTyping(ind)
			}
		},
		OnReadStatus: func(status imtypes.MessageReadStatus) {
			if cb.OnReadStatus != nil {
				cb.OnReadStatus(status)
			}
		},
		OnMessageDeleted: func(messageID string) {
			if cb.OnMessageDeleted != nil {
				cb.OnMessageDeleted(messageID)
			}
		},
	}

	m.mu.Lock()
	if prev, ok := m.subs[conversationID]; ok {
		delete(m.subs, conversationID)
		prev.release()
	}
	cancel, err := m.rt.SubscribeToConversation(ctx, conversationID, wrapped)
	if err != nil {
		m.mu.Unlock()
		m.report.report("subscriptions", &imtypes.SubscriptionError{Target: "conversation " + conversationID, Err: err})
		return func() {}
	}
	h := &handle{cancel: cancel}
	m.subs[conversationID] = h
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"component":      "subscriptions",
		"conversationId": conversationID,
	}).Debug("subscribed to conversation")

	return func() {
		m.mu.Lock()
		current := m.subs[conversationID] == h
		if current {
			delete(m.subs, conversationID)
		}
		m.mu.Unlock()
		h.release()
		if current {
			m.typing.ClearRemote(conversationID)
		}
	}
}

// IsSubscribed reports whether a live handle exists for conversationID.
func (m *SubscriptionManager) IsSubscribed(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[conversationID]
	return ok
}

// Count returns the number of live handles.
func (m *SubscriptionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// CancelAll releases every handle.
func (m *SubscriptionManager) CancelAll() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]*handle)
	m.mu.Unlock()

	for _, h := range subs {
		h.release()
	}
}
