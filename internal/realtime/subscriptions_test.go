package realtime

import (
	"context"
	"errors"
	"testing"

	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transportHandlersNoop() transport.ConversationHandlers {
	return transport.ConversationHandlers{}
}

func TestSubscribeTwiceKeepsOneLiveHandle(t *testing.T) {
	h := newHarness(alice)
	ctx := context.Background()

	var firstMsgs, secondMsgs int
	h.sess.Subscriptions.Subscribe(ctx, "c1", transport.ConversationHandlers{
		OnMessage: func(imtypes.Message) { firstMsgs++ },
	})
	cancel2 := h.sess.Subscriptions.Subscribe(ctx, "c1", transport.ConversationHandlers{
		OnMessage: func(imtypes.Message) { secondMsgs++ },
	})

	subs := h.tr.convSubs["c1"]
	require.Len(t, subs, 2)
	assert.Equal(t, 1, subs[0].cancelled, "first handle cancelled exactly once")
	assert.Equal(t, 0, subs[1].cancelled)
	assert.Equal(t, []string{"subscribe:c1", "cancel:c1", "subscribe:c1"}, h.tr.events)
	assert.Equal(t, 1, h.sess.Subscriptions.Count())

	h.tr.pushMessage(msgAt("m1", "c1", "bob", 0))
	assert.Equal(t, 0, firstMsgs)
	assert.Equal(t, 1, secondMsgs)

	cancel2()
	cancel2()
	assert.Equal(t, 1, subs[1].cancelled, "cancel is idempotent")
	assert.False(t, h.sess.Subscriptions.IsSubscribed("c1"))
}

func TestStaleCancelDoesNotRemoveNewHandle(t *testing.T) {
	h := newHarness(alice)
	ctx := context.Background()

	cancel1 := h.sess.Subscriptions.Subscribe(ctx, "c1", transportHandlersNoop())
	h.sess.Subscriptions.Subscribe(ctx, "c1", transportHandlersNoop())

	cancel1()
	assert.True(t, h.sess.Subscriptions.IsSubscribed("c1"))
	assert.Equal(t, 1, h.tr.convSubs["c1"][0].cancelled)
	assert.Equal(t, 0, h.tr.convSubs["c1"][1].cancelled)
}

func TestSubscribeFailureReportsAndReturnsNoop(t *testing.T) {
	h := newHarness(alice)
	h.tr.subscribeErr = errTransport

	cancel := h.sess.Subscriptions.Subscribe(context.Background(), "c1", transportHandlersNoop())
	require.NotNil(t, cancel)
	assert.NotPanics(t, func() { cancel() })

	errs := h.reported()
	require.Len(t, errs, 1)
	var subErr *imtypes.SubscriptionError
	assert.True(t, errors.As(errs[0], &subErr))
	assert.ErrorIs(t, errs[0], errTransport)
	assert.Equal(t, 0, h.sess.Subscriptions.Count())
}

func TestCancelClearsRemoteTypingForConversation(t *testing.T) {
	h := newHarness(alice)
	ctx := context.Background()
	cancel := h.sess.Subscriptions.Subscribe(ctx, "c1", transportHandlersNoop())

	h.tr.pushTyping(imtypes.TypingIndicator{ConversationID: "c1", UserID: "bob", IsTyping: true})
	require.NoError(t, h.sess.Typing.SetTyping(ctx, "c1", true))
	require.Len(t, h.sess.State.TypingUsers("c1"), 2)

	cancel()
	users := h.sess.State.TypingUsers("c1")
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].UserID)
}

func TestSessionOpenFeedsIngestion(t *testing.T) {
	h := newHarness(alice)
	ctx := context.Background()
	require.NoError(t, h.sess.Ingestion.LoadMessages(ctx, "c1", 50, 0))

	var seen []string
	cancel := h.sess.Open(ctx, "c1", transport.ConversationHandlers{
		OnMessage: func(m imtypes.Message) { seen = append(seen, m.ID) },
	})
	defer cancel()

	h.tr.pushMessage(msgAt("m1", "c1", "bob", 0))
	h.tr.liveConvSubs("c1")[0].handlers.OnReadStatus(imtypes.MessageReadStatus{MessageID: "m1", UserID: "carol"})

	assert.Equal(t, []string{"m1"}, seen)
	msgs := h.sess.State.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsReadBy("carol"))

	h.tr.liveConvSubs("c1")[0].handlers.OnMessageDeleted("m1")
	assert.Empty(t, h.sess.State.Messages())
}
