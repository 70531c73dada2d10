package realtime

import (
	"context"
	"errors"
	"sync"

	"assoc-messaging/internal/auth"
	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/transport"

	"github.com/sirupsen/logrus"
)

// ErrDisconnected is reported when the transport drops the connection.
var ErrDisconnected = errors.New("realtime connection lost")

// Phase is the lifecycle state of a session.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseReady
	PhaseTearingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitializing:
		return "initializing"
	case PhaseReady:
		return "ready"
	case PhaseTearingDown:
		return "tearing-down"
	}
	return "unknown"
}

// LifecycleController brings a session up and down and maps window focus
// changes onto presence.
type LifecycleController struct {
	mu        sync.Mutex
	phase     Phase
	rt        transport.Realtime
	identity  auth.Provider
	state     *SessionState
	presence  *PresenceTracker
	subs      *SubscriptionManager
	typing    *TypingCoordinator
	ingestion *IngestionPipeline
	report    *reporter
	observers transport.GlobalCallbacks
	async     func(func())
}

// Phase returns the current lifecycle phase.
func (l *LifecycleController) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Initialize registers the global callbacks and announces the user as online.
// Calling it on a session that is already initializing or ready does nothing.
func (l *LifecycleController) Initialize(ctx context.Context) error {
	id := l.identity.Identity()
	if !id.IsAuthenticated {
		return &imtypes.AuthRequiredError{Op: "initialize"}
	}

	l.mu.Lock()
	if l.phase != PhaseUninitialized {
		l.mu.Unlock()
		return nil
	}
	l.phase = PhaseInitializing
	l.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{"component": "lifecycle", "userId": id.UserID})
	log.Info("initializing realtime session")

	l.rt.SetGlobalCallbacks(l.globalCallbacks())
	err := l.presence.UpdatePresence(ctx, imtypes.PresenceOnline)

	l.mu.Lock()
	if l.phase == PhaseInitializing {
		l.phase = PhaseReady
	}
	l.mu.Unlock()

	if err != nil {
		log.WithField("error", err).Warn("session ready but initial presence update failed")
	}
	return err
}

func (l *LifecycleController) globalCallbacks() transport.GlobalCallbacks {
	obs := l.observers
	log := logrus.WithField("component", "lifecycle")
	return transport.GlobalCallbacks{
		OnMessage: func(msg imtypes.Message) {
			log.WithFields(logrus.Fields{"conversationId": msg.ConversationID, "messageId": msg.ID}).Debug("message event")
			if obs.OnMessage != nil {
				obs.OnMessage(msg)
			}
		},
		OnTyping: func(ind imtypes.TypingIndicator) {
			log.WithFields(logrus.Fields{"conversationId": ind.ConversationID, "userId": ind.UserID, "isTyping": ind.IsTyping}).Debug("typing event")
			if obs.OnTyping != nil {
				obs.OnTyping(ind)
			}
		},
		OnReadStatus: func(status imtypes.MessageReadStatus) {
			log.WithFields(logrus.Fields{"messageId": status.MessageID, "userId": status.UserID}).Debug("read status event")
			if obs.OnReadStatus != nil {
				obs.OnReadStatus(status)
			}
		},
		OnPresenceChange: func(p imtypes.UserPresence) {
			log.WithFields(logrus.Fields{"userId": p.UserID, "status": p.Status}).Debug("presence event")
			if obs.OnPresenceChange != nil {
				obs.OnPresenceChange(p)
			}
		},
		OnConnectionChange: func(connected bool) {
			l.state.SetConnected(connected)
			log.WithField("connected", connected).Info("connection state changed")
			if !connected {
				l.report.report("lifecycle", &imtypes.TransportError{Op: "connection", Err: ErrDisconnected})
			}
			if obs.OnConnectionChange != nil {
				obs.OnConnectionChange(connected)
			}
		},
		OnError: func(err error) {
			l.report.report("transport", err)
		},
	}
}

// Focus marks the user online again. It is a no-op unless the session is ready.
func (l *LifecycleController) Focus(ctx context.Context) error {
	if l.Phase() != PhaseReady {
		return nil
	}
	return l.presence.UpdatePresence(ctx, imtypes.PresenceOnline)
}

// Blur marks the user away. It is a no-op unless the session is ready.
func (l *LifecycleController) Blur(ctx context.Context) error {
	if l.Phase() != PhaseReady {
		return nil
	}
	return l.presence.UpdatePresence(ctx, imtypes.PresenceAway)
}

// Unload sends a best-effort offline update without waiting for it.
func (l *LifecycleController) Unload() {
	if l.Phase() != PhaseReady {
		return
	}
	id := l.identity.Identity()
	// bound to the current epoch so a Cleanup that runs first keeps the map empty
	epoch := l.presence.currentEpoch()
	l.async(func() {
		if err := l.presence.updateInEpoch(context.Background(), id, imtypes.PresenceOffline, epoch); err != nil {
			logrus.WithFields(logrus.Fields{"component": "lifecycle", "error": err}).Debug("offline update on unload failed")
		}
	})
}

// Cleanup releases every subscription and timer and resets the ephemeral
// state. It is safe to call repeatedly.
func (l *LifecycleController) Cleanup() {
	l.mu.Lock()
	if l.phase == PhaseTearingDown {
		l.mu.Unlock()
		return
	}
	l.phase = PhaseTearingDown
	l.mu.Unlock()

	l.subs.CancelAll()
	l.presence.CancelAll()
	l.typing.Reset()
	l.ingestion.Reset()
	l.rt.SetGlobalCallbacks(transport.GlobalCallbacks{})

	l.state.ResetTyping()
	l.state.ResetPresence()
	l.state.SetConnected(false)

	l.mu.Lock()
	l.phase = PhaseUninitialized
	l.mu.Unlock()

	logrus.WithField("component", "lifecycle").Info("realtime session cleaned up")
}
