package realtime

import (
	"context"
	"sync"
	"time"

	"assoc-messaging/internal/auth"
	"assoc-messaging/internal/clock"
	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/transport"

	"github.com/sirupsen/logrus"
)

type typingKey struct {
	conversationID string
	userID         string
}

type typingTimer struct {
	gen   uint64
	timer clock.Timer
}

// TypingCoordinator owns the typing indicators of the session.
//
// The local user's indicator follows a debounce-to-silence rule: every
// SetTyping(true) restarts a single expiry timer, and when it fires the entry
// is removed and isTyping=false is sent. Remote indicators are driven by the
// events that arrive; they only age out locally when RemoteTypingTTL is set.
type TypingCoordinator struct {
	mu        sync.Mutex
	rt        transport.Realtime
	identity  auth.Provider
	state     *SessionState
	report    *reporter
	clock     clock.Clock
	expiry    time.Duration
	remoteTTL time.Duration
	timers    map[typingKey]*typingTimer
	gen       uint64
}

func newTypingCoordinator(rt transport.Realtime, identity auth.Provider, state *SessionState, rep *reporter, clk clock.Clock, expiry, remoteTTL time.Duration) *TypingCoordinator {
	return &TypingCoordinator{
		rt:        rt,
		identity:  identity,
		state:     state,
		report:    rep,
		clock:     clk,
		expiry:    expiry,
		remoteTTL: remoteTTL,
		timers:    make(map[typingKey]*typingTimer),
	}
}

// SetTyping records the local user's typing state in conversationID and sends it.
func (c *TypingCoordinator) SetTyping(ctx context.Context, conversationID string, isTyping bool) error {
	id := c.identity.Identity()
	if !id.IsAuthenticated {
		return &imtypes.AuthRequiredError{Op: "setTyping"}
	}
	if conversationID == "" {
		return &imtypes.ValidationError{Field: "conversationId", Reason: "must not be empty"}
	}

	key := typingKey{conversationID: conversationID, userID: id.UserID}
	c.mu.Lock()
	if isTyping {
		c.state.UpsertTyping(imtypes.TypingIndicator{
			ConversationID: conversationID,
			UserID:         id.UserID,
			UserName:       id.Name,
			IsTyping:       true,
			UpdatedAt:      c.clock.Now(),
		})
		c.armLocked(key, c.expiry, func() func() {
			c.state.RemoveTyping(key.conversationID, key.userID)
			return func() { c.sendExpired(key) }
		})
	} else {
		c.disarmLocked(key)
		c.state.RemoveTyping(conversationID, id.UserID)
	}
	c.mu.Unlock()

	if err := c.rt.UpdateTypingIndicator(ctx, conversationID, isTyping); err != nil {
		terr := &imtypes.TransportError{Op: "updateTypingIndicator", Err: err}
		c.report.report("typing", terr)
		return terr
	}
	return nil
}

// sendExpired tells the transport the local user stopped typing, unless a
// SetTyping(true) re-armed the key after the timer fired.
func (c *TypingCoordinator) sendExpired(key typingKey) {
	c.mu.Lock()
	_, rearmed := c.timers[key]
	c.mu.Unlock()
	if rearmed {
		return
	}
	logrus.WithFields(logrus.Fields{
		"component":      "typing",
		"conversationId": key.conversationID,
	}).Debug("typing expired")

	if err := c.rt.UpdateTypingIndicator(context.Background(), key.conversationID, false); err != nil {
		c.report.report("typing", &imtypes.TransportError{Op: "updateTypingIndicator", Err: err})
	}
}

// ApplyRemote applies a typing event pushed by the transport. Echoes of the
// local user's own indicator are ignored.
func (c *TypingCoordinator) ApplyRemote(ind imtypes.TypingIndicator) {
	if ind.UserID == "" || ind.UserID == c.identity.Identity().UserID {
		return
	}
	key := typingKey{conversationID: ind.ConversationID, userID: ind.UserID}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ind.IsTyping {
		c.disarmLocked(key)
		c.state.RemoveTyping(ind.ConversationID, ind.UserID)
		return
	}

	if ind.UpdatedAt.IsZero() {
		ind.UpdatedAt = c.clock.Now()
	}
	c.state.UpsertTyping(ind)
	if c.remoteTTL > 0 {
		c.armLocked(key, c.remoteTTL, func() func() {
			c.state.RemoveTyping(key.conversationID, key.userID)
			return nil
		})
	}
}

// ClearRemote drops other users' indicators for a conversation whose
// subscription has ended, since their stop events will no longer arrive.
func (c *TypingCoordinator) ClearRemote(conversationID string) {
	self := c.identity.Identity().UserID
	for _, ind := range c.state.TypingUsers(conversationID) {
		if ind.UserID == self {
			continue
		}
		c.mu.Lock()
		c.disarmLocked(typingKey{conversationID: conversationID, userID: ind.UserID})
		c.state.RemoveTyping(conversationID, ind.UserID)
		c.mu.Unlock()
	}
}

// ActiveTimers returns the number of pending expiry timers.
func (c *TypingCoordinator) ActiveTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Reset cancels every timer.
func (c *TypingCoordinator) Reset() {
	c.mu.Lock()
	timers := c.timers
	c.timers = make(map[typingKey]*typingTimer)
	c.mu.Unlock()

	for _, t := range timers {
		t.timer.Stop()
	}
}

// armLocked replaces the timer for key. When the timer fires and is still the
// current one for key, expired runs under c.mu and the func it returns, if
// any, runs after the lock is released. The generation check keeps a timer
// that fired concurrently with its replacement from acting.
func (c *TypingCoordinator) armLocked(key typingKey, d time.Duration, expired func() func()) {
	if prev, ok := c.timers[key]; ok {
		prev.timer.Stop()
	}
	c.gen++
	gen := c.gen
	t := &typingTimer{gen: gen}
	c.timers[key] = t
	t.timer = c.clock.AfterFunc(d, func() {
		c.mu.Lock()
		cur, ok := c.timers[key]
		if !ok || cur.gen != gen {
			c.mu.Unlock()
			return
		}
		delete(c.timers, key)
		after := expired()
		c.mu.Unlock()
		if after != nil {
			after()
		}
	})
}

func (c *TypingCoordinator) disarmLocked(key typingKey) {
	if t, ok := c.timers[key]; ok {
		t.timer.Stop()
		delete(c.timers, key)
	}
}
