package websocket

import (
	"context"
	"encoding/json"
	"time"

	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// control is a subscription change requested by a connection. A non-empty
// denied reason is answered with an error event instead.
type control struct {
	client *Client
	frame  imtypes.Frame
	denied string
	// current presence of the watched users, sent right after subscribing
	snapshot []imtypes.UserPresence
}

// Hub maintains the set of active clients and routes events to the clients
// subscribed to them.
type Hub struct {
	clients map[*Client]struct{}

	// conversation id -> subscribed clients
	conversations map[string]map[*Client]struct{}

	// presence user id -> watching clients
	presence map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	control    chan control
	events     chan imtypes.Event
	inspect    chan func()
	done       chan struct{}

	metrics *metrics.Metrics
	log     *logrus.Entry
}

// NewHub creates a new Hub. eventBuffer bounds the queue of events waiting to
// be routed.
func NewHub(m *metrics.Metrics, eventBuffer int) *Hub {
	if eventBuffer <= 0 {
		eventBuffer = 256
	}
	return &Hub{
		clients:       make(map[*Client]struct{}),
		conversations: make(map[string]map[*Client]struct{}),
		presence:      make(map[string]map[*Client]struct{}),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		control:       make(chan control, 64),
		events:        make(chan imtypes.Event, eventBuffer),
		inspect:       make(chan func()),
		done:          make(chan struct{}),
		metrics:       m,
		log:           logrus.WithField("component", "hub"),
	}
}

// Deliver queues an event for routing. It never blocks the caller (the
// fan-out bus consumer); a full queue drops the event.
func (h *Hub) Deliver(ev imtypes.Event) {
	select {
	case h.events <- ev:
	default:
		h.metrics.DroppedSends.Inc()
		h.log.WithFields(logrus.Fields{"type": ev.Type, "conversation_id": ev.ConversationID}).Warn("hub event queue is full, dropping event")
	}
}

// Run routes events until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("hub run loop started")
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			close(h.done)
			h.log.Info("hub run loop stopped")
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.metrics.Connections.Inc()
			h.log.WithField("user_id", c.UserID).Info("client registered")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.remove(c)
				h.log.WithField("user_id", c.UserID).Info("client unregistered")
			}

		case ctl := <-h.control:
			h.apply(ctl)

		case ev := <-h.events:
			h.route(ev)

		case fn := <-h.inspect:
			fn()
		}
	}
}

// remove drops every subscription of c and closes its send channel. Only the
// run loop calls it.
func (h *Hub) remove(c *Client) {
	for id := range c.conversations {
		h.leave(h.conversations, id, c)
		h.metrics.Subscriptions.Dec()
	}
	for id := range c.watching {
		h.leave(h.presence, id, c)
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.Connections.Dec()
}

func (h *Hub) leave(index map[string]map[*Client]struct{}, id string, c *Client) {
	set := index[id]
	delete(set, c)
	if len(set) == 0 {
		delete(index, id)
	}
}

func (h *Hub) join(index map[string]map[*Client]struct{}, id string, c *Client) {
	set, ok := index[id]
	if !ok {
		set = make(map[*Client]struct{})
		index[id] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) apply(ctl control) {
	c := ctl.client
	if _, ok := h.clients[c]; !ok {
		return
	}
	if ctl.denied != "" {
		h.enqueue(c, imtypes.Event{
			ID:             uuid.NewString(),
			Type:           imtypes.EventError,
			ConversationID: ctl.frame.ConversationID,
			Error:          ctl.denied,
			OccurredAt:     time.Now().UTC(),
		})
		return
	}

	f := ctl.frame
	switch f.Action {
	case imtypes.ActionSubscribe:
		if _, ok := c.conversations[f.ConversationID]; ok {
			return
		}
		c.conversations[f.ConversationID] = struct{}{}
		h.join(h.conversations, f.ConversationID, c)
		h.metrics.Subscriptions.Inc()
	case imtypes.ActionUnsubscribe:
		if _, ok := c.conversations[f.ConversationID]; !ok {
			return
		}
		delete(c.conversations, f.ConversationID)
		h.leave(h.conversations, f.ConversationID, c)
		h.metrics.Subscriptions.Dec()
	case imtypes.ActionSubscribePresence:
		for _, id := range f.UserIDs {
			c.watching[id] = struct{}{}
			h.join(h.presence, id, c)
		}
		for i := range ctl.snapshot {
			p := ctl.snapshot[i]
			h.enqueue(c, imtypes.Event{
				ID:         uuid.NewString(),
				Type:       imtypes.EventPresence,
				Presence:   &p,
				OccurredAt: time.Now().UTC(),
			})
		}
	case imtypes.ActionUnsubscribePresence:
		for _, id := range f.UserIDs {
			if _, ok := c.watching[id]; ok {
				delete(c.watching, id)
				h.leave(h.presence, id, c)
			}
		}
	}
}

func (h *Hub) route(ev imtypes.Event) {
	var targets map[*Client]struct{}
	switch ev.Type {
	case imtypes.EventPresence:
		if ev.Presence == nil {
			return
		}
		targets = h.presence[ev.Presence.UserID]
	default:
		targets = h.conversations[ev.ConversationID]
	}
	if len(targets) == 0 {
		return
	}
	for c := range targets {
		h.enqueue(c, ev)
	}
}

// enqueue marshals ev onto the client's send buffer. A client whose buffer is
// full is too slow to keep up and gets disconnected.
func (h *Hub) enqueue(c *Client, ev imtypes.Event) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.WithField("error", err).Error("marshal event")
		return
	}
	select {
	case c.send <- data:
		h.metrics.EventsDelivered.WithLabelValues(string(ev.Type)).Inc()
	default:
		h.metrics.DroppedSends.Inc()
		h.log.WithFields(logrus.Fields{"user_id": c.UserID, "type": ev.Type}).Warn("send buffer full, removing client")
		h.remove(c)
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

// count runs fn on the loop goroutine. A stopped hub reports zero.
func (h *Hub) count(fn func() int) int {
	n := make(chan int, 1)
	select {
	case h.inspect <- func() { n <- fn() }:
		return <-n
	case <-h.done:
		return 0
	}
}

// SubscriberCount reports how many clients follow a conversation. It must not
// be called from inside the run loop.
func (h *Hub) SubscriberCount(conversationID string) int {
	return h.count(func() int { return len(h.conversations[conversationID]) })
}

// WatcherCount reports how many clients watch a user's presence.
func (h *Hub) WatcherCount(userID string) int {
	return h.count(func() int { return len(h.presence[userID]) })
}

// ClientCount reports the number of registered clients.
func (h *Hub) ClientCount() int {
	return h.count(func() int { return len(h.clients) })
}
