package wsclient_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"assoc-messaging/internal/auth"
	"assoc-messaging/internal/config"
	"assoc-messaging/internal/gateway"
	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/storage"
	"assoc-messaging/internal/transport"
	"assoc-messaging/internal/transport/wsclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type harness struct {
	cfg config.Config
	gw  *gateway.Gateway
	srv *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Config{
		Auth:    config.AuthConfig{JWTSecretKey: "test-secret", JWTExpiry: time.Hour},
		Gateway: config.GatewayConfig{WebSocketPath: "/ws", PresenceTTL: time.Minute, CORS: config.CORSConfig{AllowedOrigins: []string{"*"}}},
		WebSocket: config.WebSocketConfig{
			WriteWaitSeconds:    10,
			PongWaitSeconds:     60,
			PingPeriodSeconds:   54,
			MaxMessageSizeBytes: 4096,
			SendBufferSize:      64,
		},
		Storage: config.StorageConfig{LocalPath: t.TempDir(), PublicPrefix: "/uploads", MaxFileSizeMB: 1},
	}
	files, err := storage.NewLocalStorageService(cfg.Storage)
	require.NoError(t, err)
	gw := gateway.New(cfg, gateway.Deps{Store: storage.NewMemoryStore(), Files: files})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, gw.Start(ctx))
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		gw.Close()
	})
	return &harness{cfg: cfg, gw: gw, srv: srv}
}

func (h *harness) client(t *testing.T, userID, name string) *wsclient.Client {
	t.Helper()
	token, err := auth.GenerateToken(userID, name, "", h.cfg.Auth)
	require.NoError(t, err)
	c := wsclient.New(wsclient.Config{
		APIURL: h.srv.URL,
		WSURL:  "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws",
		Token:  token,
	})
	t.Cleanup(func() { c.Close() })
	return c
}

func (h *harness) waitSubscribed(t *testing.T, conversationID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.gw.Hub.SubscriberCount(conversationID) == n }, waitFor, 10*time.Millisecond)
}

func receive[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for %T", *new(T))
		var zero T
		return zero
	}
}

func TestConversationEventsReachSubscribers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.client(t, "alice", "Alice")
	bob := h.client(t, "bob", "Bob")

	conv, err := alice.CreateConversation(ctx, "", []string{"bob"}, false)
	require.NoError(t, err)

	messages := make(chan imtypes.Message, 4)
	typing := make(chan imtypes.TypingIndicator, 4)
	reads := make(chan imtypes.MessageReadStatus, 4)
	deleted := make(chan string, 4)
	require.NoError(t, bob.Connect(ctx))
	cancel, err := bob.SubscribeToConversation(ctx, conv.ID, transport.ConversationHandlers{
		OnMessage:        func(m imtypes.Message) { messages <- m },
		OnTyping:         func(ti imtypes.TypingIndicator) { typing <- ti },
		OnReadStatus:     func(r imtypes.MessageReadStatus) { reads <- r },
		OnMessageDeleted: func(id string) { deleted <- id },
	})
	require.NoError(t, err)
	defer cancel()
	h.waitSubscribed(t, conv.ID, 1)

	sent, err := alice.SendMessage(ctx, imtypes.SendMessageRequest{ID: "m-1", ConversationID: conv.ID, Type: imtypes.TextMessageType, Content: "hello bob"})
	require.NoError(t, err)
	assert.Equal(t, "alice", sent.SenderID)
	assert.Equal(t, "Alice", sent.SenderName)

	got := receive(t, messages)
	assert.Equal(t, "m-1", got.ID)
	assert.Equal(t, "hello bob", got.Content)

	require.NoError(t, alice.UpdateTypingIndicator(ctx, conv.ID, true))
	ti := receive(t, typing)
	assert.Equal(t, "alice", ti.UserID)
	assert.True(t, ti.IsTyping)

	receipt, err := bob.MarkMessageAsRead(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "bob", receipt.UserID)
	assert.Equal(t, "m-1", receive(t, reads).MessageID)

	page, err := bob.GetConversationMessages(ctx, conv.ID, 20, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.True(t, page[0].IsReadBy("bob"))

	require.NoError(t, alice.DeleteMessage(ctx, "m-1"))
	assert.Equal(t, "m-1", receive(t, deleted))

	cancel()
	h.waitSubscribed(t, conv.ID, 0)
}

func TestNonParticipantIsRefused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.client(t, "alice", "Alice")
	mallory := h.client(t, "mallory", "Mallory")

	conv, err := alice.CreateConversation(ctx, "", []string{"bob"}, false)
	require.NoError(t, err)

	pushErrors := make(chan error, 1)
	mallory.SetGlobalCallbacks(transport.GlobalCallbacks{OnError: func(err error) { pushErrors <- err }})
	require.NoError(t, mallory.Connect(ctx))
	_, err = mallory.SubscribeToConversation(ctx, conv.ID, transport.ConversationHandlers{})
	require.NoError(t, err)

	pushErr := receive(t, pushErrors)
	assert.Contains(t, pushErr.Error(), "not a participant")
	assert.Equal(t, 0, h.gw.Hub.SubscriberCount(conv.ID))

	_, err = mallory.GetConversationMessages(ctx, conv.ID, 20, 0)
	var apiErr *wsclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)

	_, err = mallory.SendMessage(ctx, imtypes.SendMessageRequest{ConversationID: conv.ID, Type: imtypes.TextMessageType, Content: "hi"})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestRejectsBadToken(t *testing.T) {
	h := newHarness(t)
	c := wsclient.New(wsclient.Config{
		APIURL: h.srv.URL,
		WSURL:  "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws",
		Token:  "not-a-token",
	})
	_, err := c.GetUserConversations(context.Background(), "alice")
	var apiErr *wsclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	assert.Error(t, c.Connect(context.Background()))
	assert.False(t, c.Connected())
}

func TestPresenceSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.client(t, "alice", "Alice")
	bob := h.client(t, "bob", "Bob")

	updates := make(chan imtypes.UserPresence, 8)
	require.NoError(t, bob.Connect(ctx))
	_, err := bob.SubscribeToPresence(ctx, []string{"alice"}, func(p imtypes.UserPresence) { updates <- p })
	require.NoError(t, err)

	initial := receive(t, updates)
	assert.Equal(t, "alice", initial.UserID)
	assert.Equal(t, imtypes.PresenceOffline, initial.Status)
	require.Eventually(t, func() bool { return h.gw.Hub.WatcherCount("alice") == 1 }, waitFor, 10*time.Millisecond)

	require.NoError(t, alice.UpdatePresence(ctx, imtypes.PresenceOnline))
	online := receive(t, updates)
	assert.Equal(t, imtypes.PresenceOnline, online.Status)

	var apiErr *wsclient.APIError
	require.True(t, errors.As(alice.UpdatePresence(ctx, "busy"), &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestUploadAndDownloadURL(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.client(t, "alice", "Alice")

	info, err := alice.UploadAttachment(ctx, transport.Upload{FileName: "note.ogg", MimeType: "audio/ogg", Size: 5, Body: strings.NewReader("voice")})
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "note.ogg", info.FileName)

	url, err := alice.GetFileDownloadURL(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.URL, url)

	resp, err := http.Get(h.srv.URL + url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "voice", string(body))

	_, err = alice.GetFileDownloadURL(ctx, "missing.ogg")
	var apiErr *wsclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestConnectionChanges(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, "alice", "Alice")
	changes := make(chan bool, 2)
	c.SetGlobalCallbacks(transport.GlobalCallbacks{OnConnectionChange: func(up bool) { changes <- up }})

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, receive(t, changes))
	assert.True(t, c.Connected())
	require.Eventually(t, func() bool { return h.gw.Hub.ClientCount() == 1 }, waitFor, 10*time.Millisecond)

	c.Close()
	assert.False(t, receive(t, changes))
	assert.False(t, c.Connected())
	require.Eventually(t, func() bool { return h.gw.Hub.ClientCount() == 0 }, waitFor, 10*time.Millisecond)
}
