package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"assoc-messaging/internal/config"
	"assoc-messaging/internal/imtypes"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var newline = []byte("\n")

// Authorizer decides whether a user may follow a conversation's events.
type Authorizer interface {
	CanSubscribe(ctx context.Context, userID, conversationID string) (bool, error)
}

// PresenceSource is optionally implemented by an Authorizer to answer a
// presence subscription with the users' current status.
type PresenceSource interface {
	PresenceSnapshot(ctx context.Context, userIDs []string) ([]imtypes.UserPresence, error)
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound events. Closed by the hub.
	send chan []byte

	// Authenticated user id for this client.
	UserID string

	authz Authorizer
	log   *logrus.Entry

	// owned by the hub run loop
	conversations map[string]struct{}
	watching      map[string]struct{}
}

// readPump turns control frames from the peer into hub subscription changes.
func (c *Client) readPump(wsCfg config.WebSocketConfig) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	pongWait := time.Duration(wsCfg.PongWaitSeconds) * time.Second
	c.conn.SetReadLimit(int64(wsCfg.MaxMessageSizeBytes))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithField("error", err).Warn("websocket closed unexpectedly")
			} else {
				c.log.WithField("error", err).Debug("websocket read ended")
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.log.WithField("message_type", messageType).Warn("ignoring non-text frame")
			continue
		}

		var frame imtypes.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.WithField("error", err).Warn("discarding malformed frame")
			continue
		}
		ctl, ok := c.check(frame)
		if !ok {
			continue
		}
		select {
		case c.hub.control <- ctl:
		case <-c.hub.done:
			return
		}
	}
}

// check validates a frame and runs the participant check for subscriptions.
func (c *Client) check(frame imtypes.Frame) (control, bool) {
	ctl := control{client: c, frame: frame}
	switch frame.Action {
	case imtypes.ActionSubscribe, imtypes.ActionUnsubscribe:
		frame.ConversationID = strings.TrimSpace(frame.ConversationID)
		ctl.frame = frame
		if frame.ConversationID == "" {
			ctl.denied = "conversationId is required"
			return ctl, true
		}
		if frame.Action == imtypes.ActionUnsubscribe {
			return ctl, true
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		allowed, err := c.authz.CanSubscribe(ctx, c.UserID, frame.ConversationID)
		if err != nil {
			c.log.WithFields(logrus.Fields{"conversation_id": frame.ConversationID, "error": err}).Error("subscription check failed")
			ctl.denied = "subscription check failed"
		} else if !allowed {
			c.log.WithField("conversation_id", frame.ConversationID).Warn("subscription denied")
			ctl.denied = "not a participant of conversation " + frame.ConversationID
		}
		return ctl, true
	case imtypes.ActionSubscribePresence, imtypes.ActionUnsubscribePresence:
		ids := frame.UserIDs[:0:0]
		for _, id := range frame.UserIDs {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return ctl, false
		}
		ctl.frame.UserIDs = ids
		if src, ok := c.authz.(PresenceSource); ok && frame.Action == imtypes.ActionSubscribePresence {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			snapshot, err := src.PresenceSnapshot(ctx, ids)
			if err != nil {
				c.log.WithField("error", err).Warn("presence snapshot failed")
			}
			ctl.snapshot = snapshot
		}
		return ctl, true
	default:
		c.log.WithField("action", frame.Action).Warn("unknown frame action")
		ctl.denied = "unknown action " + string(frame.Action)
		return ctl, true
	}
}

// writePump pumps events from the hub to the websocket connection, batching
// whatever is already queued into one frame separated by newlines.
func (c *Client) writePump(wsCfg config.WebSocketConfig) {
	writeWait := time.Duration(wsCfg.WriteWaitSeconds) * time.Second
	ticker := time.NewTicker(time.Duration(wsCfg.PingPeriodSeconds) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write(newline)
				w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades the request and registers the connection for userID.
func ServeWs(hub *Hub, authz Authorizer, userID string, w http.ResponseWriter, r *http.Request, wsCfg config.WebSocketConfig) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsCfg.MaxMessageSizeBytes,
		WriteBufferSize: wsCfg.MaxMessageSizeBytes,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{"component": "websocket", "error": err}).Warn("upgrade failed")
		return
	}
	buffer := wsCfg.SendBufferSize
	if buffer <= 0 {
		buffer = 256
	}
	client := &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, buffer),
		UserID:        userID,
		authz:         authz,
		log:           logrus.WithFields(logrus.Fields{"component": "websocket", "user_id": userID}),
		conversations: make(map[string]struct{}),
		watching:      make(map[string]struct{}),
	}
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump(wsCfg)
	go client.readPump(wsCfg)
}
