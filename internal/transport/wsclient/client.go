// Package wsclient implements transport.Transport against the messaging
// gateway: REST for request/response calls, one websocket for push events.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"assoc-messaging/internal/config"
	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/transport"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Config holds what the client needs to reach the gateway.
type Config struct {
	APIURL         string
	WSURL          string
	Token          string
	RequestTimeout time.Duration
	EventBuffer    int
	WebSocket      config.WebSocketConfig
}

// ConfigFrom maps the CLIENT, MESSAGING and WEBSOCKET sections.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		APIURL:         cfg.Client.APIURL,
		WSURL:          cfg.Client.WSURL,
		Token:          cfg.Client.Token,
		RequestTimeout: cfg.Client.RequestTimeout,
		EventBuffer:    cfg.Messaging.EventBuffer,
		WebSocket:      cfg.WebSocket,
	}
}

type convSubscription struct {
	id     string
	stream *transport.Stream
}

type presenceSubscription struct {
	id      string
	userIDs map[string]struct{}
	stream  *transport.Stream
}

// Client is a transport.Transport backed by the gateway.
type Client struct {
	cfg  Config
	http *http.Client
	log  *logrus.Entry

	mu           sync.Mutex
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	connected    bool
	globals      transport.GlobalCallbacks
	globalStream *transport.Stream
	convSubs     map[string]map[string]*convSubscription
	presenceSubs map[string]*presenceSubscription
	watched      map[string]int // presence user id -> number of subscriptions watching it
}

// New returns a client. Call Connect before expecting push events.
func New(cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.WebSocket.WriteWaitSeconds <= 0 {
		cfg.WebSocket.WriteWaitSeconds = 10
	}
	if cfg.WebSocket.PongWaitSeconds <= 0 {
		cfg.WebSocket.PongWaitSeconds = 60
	}
	if cfg.WebSocket.PingPeriodSeconds <= 0 || cfg.WebSocket.PingPeriodSeconds >= cfg.WebSocket.PongWaitSeconds {
		cfg.WebSocket.PingPeriodSeconds = cfg.WebSocket.PongWaitSeconds * 9 / 10
	}
	if cfg.WebSocket.SendBufferSize <= 0 {
		cfg.WebSocket.SendBufferSize = 256
	}
	c := &Client{
		cfg:          cfg,
		http:         &http.Client{Timeout: cfg.RequestTimeout},
		log:          logrus.WithField("component", "wsclient"),
		convSubs:     make(map[string]map[string]*convSubscription),
		presenceSubs: make(map[string]*presenceSubscription),
		watched:      make(map[string]int),
	}
	c.globalStream = transport.NewStream("global", cfg.EventBuffer, c.dispatchGlobal)
	return c
}

// Connect dials the websocket and replays the current subscriptions. The
// client does not reconnect by itself; call Connect again after a drop.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.cfg.WSURL)
	if err != nil {
		return fmt.Errorf("parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.WSURL, err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.send = make(chan []byte, c.cfg.WebSocket.SendBufferSize)
	c.done = make(chan struct{})
	c.connected = true
	send, done := c.send, c.done
	frames := c.replayFramesLocked()
	onConn := c.globals.OnConnectionChange
	c.mu.Unlock()

	go c.writePump(conn, send, done)
	go c.readPump(conn, done)

	for _, f := range frames {
		c.sendFrame(f)
	}
	c.log.WithField("url", c.cfg.WSURL).Info("websocket connected")
	if onConn != nil {
		onConn(true)
	}
	return nil
}

func (c *Client) replayFramesLocked() []imtypes.Frame {
	frames := make([]imtypes.Frame, 0, len(c.convSubs)+1)
	for id := range c.convSubs {
		frames = append(frames, imtypes.Frame{Action: imtypes.ActionSubscribe, ConversationID: id})
	}
	if len(c.watched) > 0 {
		ids := make([]string, 0, len(c.watched))
		for id := range c.watched {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		frames = append(frames, imtypes.Frame{Action: imtypes.ActionSubscribePresence, UserIDs: ids})
	}
	return frames
}

// Connected reports whether the websocket is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close tears the socket down. Subscriptions stay registered so that a later
// Connect resumes them.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return conn.Close()
}

func (c *Client) disconnected(conn *websocket.Conn, done chan struct{}) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	close(done)
	onConn := c.globals.OnConnectionChange
	c.mu.Unlock()

	c.log.Info("websocket disconnected")
	if onConn != nil {
		onConn(false)
	}
}

func (c *Client) readPump(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		conn.Close()
		c.disconnected(conn, done)
	}()
	pongWait := time.Duration(c.cfg.WebSocket.PongWaitSeconds) * time.Second
	if c.cfg.WebSocket.MaxMessageSizeBytes > 0 {
		conn.SetReadLimit(int64(c.cfg.WebSocket.MaxMessageSizeBytes) * 16)
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Duration(c.cfg.WebSocket.WriteWaitSeconds)*time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithField("error", err).Warn("websocket read failed")
			}
			return
		}
		// the gateway may batch several events separated by newlines
		for _, line := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			var ev imtypes.Event
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				c.log.WithField("error", err).Warn("discarding malformed event")
				continue
			}
			c.route(ev)
		}
	}
}

func (c *Client) writePump(conn *websocket.Conn, send chan []byte, done chan struct{}) {
	writeWait := time.Duration(c.cfg.WebSocket.WriteWaitSeconds) * time.Second
	ticker := time.NewTicker(time.Duration(c.cfg.WebSocket.PingPeriodSeconds) * time.Second)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case <-done:
			return
		case message := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.WithField("error", err).Warn("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendFrame(f imtypes.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.log.WithField("error", err).Error("marshal frame")
		return
	}
	c.mu.Lock()
	send, done, connected := c.send, c.done, c.connected
	c.mu.Unlock()
	if !connected {
		// replayed by the next Connect
		return
	}
	select {
	case send <- data:
	case <-done:
	default:
		c.log.WithField("action", f.Action).Warn("send buffer full, dropping frame")
	}
}

// route fans an event out to the matching subscriptions and the global callbacks.
func (c *Client) route(ev imtypes.Event) {
	c.mu.Lock()
	var targets []*transport.Stream
	switch ev.Type {
	case imtypes.EventPresence:
		if ev.Presence != nil {
			for _, s := range c.presenceSubs {
				if _, ok := s.userIDs[ev.Presence.UserID]; ok {
					targets = append(targets, s.stream)
				}
			}
		}
	default:
		for _, s := range c.convSubs[ev.ConversationID] {
			targets = append(targets, s.stream)
		}
	}
	c.mu.Unlock()

	for _, s := range targets {
		s.Deliver(ev)
	}
	c.globalStream.Deliver(ev)
}

func (c *Client) dispatchGlobal(ev imtypes.Event) {
	c.mu.Lock()
	g := c.globals
	c.mu.Unlock()

	switch ev.Type {
	case imtypes.EventMessage:
		if g.OnMessage != nil && ev.Message != nil {
			g.OnMessage(*ev.Message)
		}
	case imtypes.EventTyping:
		if g.OnTyping != nil && ev.Typing != nil {
			g.OnTyping(*ev.Typing)
		}
	case imtypes.EventReadStatus:
		if g.OnReadStatus != nil && ev.ReadStatus != nil {
			g.OnReadStatus(*ev.ReadStatus)
		}
	case imtypes.EventPresence:
		if g.OnPresenceChange != nil && ev.Presence != nil {
			g.OnPresenceChange(*ev.Presence)
		}
	case imtypes.EventError:
		if g.OnError != nil {
			g.OnError(&imtypes.TransportError{Op: "push", Err: errors.New(ev.Error)})
		}
	}
}

func (c *Client) SetGlobalCallbacks(callbacks transport.GlobalCallbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globals = callbacks
}

func (c *Client) SubscribeToConversation(ctx context.Context, conversationID string, h transport.ConversationHandlers) (transport.CancelFunc, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &convSubscription{id: uuid.NewString()}
	sub.stream = transport.NewStream("conversation:"+conversationID, c.cfg.EventBuffer, func(ev imtypes.Event) {
		dispatchConversation(ev, h)
	})

	c.mu.Lock()
	subs, existing := c.convSubs[conversationID]
	if !existing {
		subs = make(map[string]*convSubscription)
		c.convSubs[conversationID] = subs
	}
	subs[sub.id] = sub
	c.mu.Unlock()

	if !existing {
		c.sendFrame(imtypes.Frame{Action: imtypes.ActionSubscribe, ConversationID: conversationID})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.stream.Close()
			c.mu.Lock()
			subs := c.convSubs[conversationID]
			delete(subs, sub.id)
			last := len(subs) == 0
			if last {
				delete(c.convSubs, conversationID)
			}
			c.mu.Unlock()
			if last {
				c.sendFrame(imtypes.Frame{Action: imtypes.ActionUnsubscribe, ConversationID: conversationID})
			}
		})
	}, nil
}

func dispatchConversation(ev imtypes.Event, h transport.ConversationHandlers) {
	switch ev.Type {
	case imtypes.EventMessage:
		if h.OnMessage != nil && ev.Message != nil {
			h.OnMessage(*ev.Message)
		}
	case imtypes.EventTyping:
		if h.OnTyping != nil && ev.Typing != nil {
			h.OnTyping(*ev.Typing)
		}
	case imtypes.EventReadStatus:
		if h.OnReadStatus != nil && ev.ReadStatus != nil {
			h.OnReadStatus(*ev.ReadStatus)
		}
	case imtypes.EventMessageDeleted:
		if h.OnMessageDeleted != nil {
			h.OnMessageDeleted(ev.MessageID)
		}
	}
}

func (c *Client) SubscribeToPresence(ctx context.Context, userIDs []string, onPresence func(imtypes.UserPresence)) (transport.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil, errors.New("at least one user id is required")
	}

	sub := &presenceSubscription{id: uuid.NewString(), userIDs: set}
	sub.stream = transport.NewStream("presence", c.cfg.EventBuffer, func(ev imtypes.Event) {
		if onPresence != nil && ev.Presence != nil {
			onPresence(*ev.Presence)
		}
	})

	c.mu.Lock()
	c.presenceSubs[sub.id] = sub
	var added []string
	for id := range set {
		c.watched[id]++
		if c.watched[id] == 1 {
			added = append(added, id)
		}
	}
	c.mu.Unlock()

	if len(added) > 0 {
		sort.Strings(added)
		c.sendFrame(imtypes.Frame{Action: imtypes.ActionSubscribePresence, UserIDs: added})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.stream.Close()
			c.mu.Lock()
			delete(c.presenceSubs, sub.id)
			var removed []string
			for id := range set {
				c.watched[id]--
				if c.watched[id] <= 0 {
					delete(c.watched, id)
					removed = append(removed, id)
				}
			}
			c.mu.Unlock()
			if len(removed) > 0 {
				sort.Strings(removed)
				c.sendFrame(imtypes.Frame{Action: imtypes.ActionUnsubscribePresence, UserIDs: removed})
			}
		})
	}, nil
}
