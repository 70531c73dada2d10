package realtime

import (
	"context"

	"assoc-messaging/internal/auth"
	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/transport"
)

// Session wires the realtime components around one SessionState.
type Session struct {
	State         *SessionState
	Subscriptions *SubscriptionManager
	Presence      *PresenceTracker
	Typing        *TypingCoordinator
	Ingestion     *IngestionPipeline
	Lifecycle     *LifecycleController

	report *reporter
}

// NewSession builds a session for identity on top of t.
func NewSession(identity auth.Provider, t transport.Transport, opts Options) *Session {
	if identity == nil {
		identity = auth.Anonymous
	}
	opts = opts.withDefaults()

	state := NewSessionState()
	rep := &reporter{state: state, onError: opts.OnError}

	typing := newTypingCoordinator(t, identity, state, rep, opts.Clock, opts.TypingExpiry, opts.RemoteTypingTTL)
	subs := newSubscriptionManager(t, typing, rep)
	presence := newPresenceTracker(t, identity, state, rep, opts.Clock, opts.Observers.OnPresenceChange)
	ingestion := newIngestionPipeline(t, identity, state, rep, opts.PageSize, opts.GroupGap, opts.NearBottomThreshold)

	lifecycle := &LifecycleController{
		rt:        t,
		identity:  identity,
		state:     state,
		presence:  presence,
		subs:      subs,
		typing:    typing,
		ingestion: ingestion,
		report:    rep,
		observers: opts.Observers,
		async:     opts.Async,
	}

	return &Session{
		State:         state,
		Subscriptions: subs,
		Presence:      presence,
		Typing:        typing,
		Ingestion:     ingestion,
		Lifecycle:     lifecycle,
		report:        rep,
	}
}

// Report records a non-fatal error from a collaborator built on top of the
// session, the same way the session's own components do.
func (s *Session) Report(component string, err error) {
	s.report.report(component, err)
}

// Open subscribes to a conversation and feeds its events into the
// ingestion pipeline before handing them to extra.
func (s *Session) Open(ctx context.Context, conversationID string, extra transport.ConversationHandlers) transport.CancelFunc {
	return s.Subscriptions.Subscribe(ctx, conversationID, transport.ConversationHandlers{
		OnMessage: func(msg imtypes.Message) {
			s.Ingestion.ApplyIncoming(msg)
			if extra.OnMessage != nil {
				extra.OnMessage(msg)
			}
		},
		OnTyping: extra.OnTyping,
		OnReadStatus: func(status imtypes.MessageReadStatus) {
			s.Ingestion.ApplyReadStatus(status)
			if extra.OnReadStatus != nil {
				extra.OnReadStatus(status)
			}
		},
		OnMessageDeleted: func(messageID string) {
			s.Ingestion.ApplyDeleted(messageID)
			if extra.OnMessageDeleted != nil {
				extra.OnMessageDeleted(messageID)
			}
		},
	})
}
