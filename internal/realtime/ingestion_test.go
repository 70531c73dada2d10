package realtime

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"assoc-messaging/internal/imtypes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(msgs []imtypes.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func seedHistory(tr *mockTransport, conv string, n int) {
	for i := 0; i < n; i++ {
		tr.pages[conv] = append(tr.pages[conv], msgAt(fmt.Sprintf("m%02d", i), conv, "bob", time.Duration(i)*time.Second))
	}
}

func TestLoadMessagesReplacesThenPrependsOlder(t *testing.T) {
	h := newHarness(alice)
	seedHistory(h.tr, "c1", 5)
	ctx := context.Background()

	require.NoError(t, h.sess.Ingestion.LoadMessages(ctx, "c1", 2, 0))
	assert.Equal(t, []string{"m03", "m04"}, ids(h.sess.State.Messages()))
	assert.True(t, h.sess.Ingestion.HasMore())

	require.NoError(t, h.sess.Ingestion.LoadMore(ctx))
	assert.Equal(t, []string{"m01", "m02", "m03", "m04"}, ids(h.sess.State.Messages()))

	require.NoError(t, h.sess.Ingestion.LoadMore(ctx))
	assert.Equal(t, []string{"m00", "m01", "m02", "m03", "m04"}, ids(h.sess.State.Messages()))
	assert.False(t, h.sess.Ingestion.HasMore())

	require.NoError(t, h.sess.Ingestion.LoadMore(ctx))
	assert.Len(t, h.sess.State.Messages(), 5)
	assert.False(t, h.sess.State.Loading())
}

func TestLoadMessagesOffsetZeroReplaces(t *testing.T) {
	h := newHarness(alice)
	seedHistory(h.tr, "c1", 3)
	seedHistory(h.tr, "c2", 1)
	ctx := context.Background()

	require.NoError(t, h.sess.Ingestion.LoadMessages(ctx, "c1", 50, 0))
	require.NoError(t, h.sess.Ingestion.LoadMessages(ctx, "c2", 50, 0))
	msgs := h.sess.State.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "c2", msgs[0].ConversationID)
	assert.Equal(t, "c2", h.sess.Ingestion.ActiveConversation())
}

func TestLoadMessagesFailureReports(t *testing.T) {
	h := newHarness(alice)
	h.tr.messagesErr = errTransport

	err := h.sess.Ingestion.LoadMessages(context.Background(), "c1", 50, 0)
	var terr *imtypes.TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "getConversationMessages", terr.Op)
	assert.False(t, h.sess.State.Loading())
	assert.Len(t, h.reported(), 1)
}

func TestLoadMessagesDiscardsOvertakenPage(t *testing.T) {
	h := newHarness(alice)
	seedHistory(h.tr, "c1", 5)
	ctx := context.Background()

	// The first offset-0 load is still waiting on the transport when a
	// second one starts and completes.
	var newer error
	started := false
	h.tr.beforeFetch = func(id string, offset int) {
		if started {
			return
		}
		started = true
		newer = h.sess.Ingestion.LoadMessages(ctx, "c1", 2, 0)
	}

	require.NoError(t, h.sess.Ingestion.LoadMessages(ctx, "c1", 5, 0))
	require.NoError(t, newer)

	assert.Equal(t, []string{"m03", "m04"}, ids(h.sess.State.Messages()))
	assert.True(t, h.sess.Ingestion.HasMore())
	assert.False(t, h.sess.State.Loading())
	assert.Empty(t, h.reported())

	h.tr.beforeFetch = nil
	require.NoError(t, h.sess.Ingestion.LoadMore(ctx))
	assert.Equal(t, []string{"m01", "m02", "m03", "m04"}, ids(h.sess.State.Messages()))
}

func TestApplyIncomingReconcilesById(t *testing.T) {
	h := newHarness(alice)
	ctx := context.Background()
	require.NoError(t, h.sess.Ingestion.LoadMessages(ctx, "c1", 50, 0))

	local := msgAt("m1", "c1", "alice", 0)
	h.sess.Ingestion.ApplyLocal(local)
	got, _ := h.sess.State.Message("m1")
	assert.Equal(t, imtypes.DeliveryPending, got.Delivery)

	res := h.sess.Ingestion.ApplyIncoming(msgAt("m2", "c1", "bob", time.Second))
	assert.True(t, res.Applied)
	assert.Equal(t, ScrollToBottom, res.Scroll)

	// server echo for the optimistic message arrives after m2
	res = h.sess.Ingestion.ApplyIncoming(msgAt("m1", "c1", "alice", 0))
	assert.True(t, res.Reconciled)
	assert.Equal(t, []string{"m1", "m2"}, ids(h.sess.State.Messages()))
	got, _ = h.sess.State.Message("m1")
	assert.Equal(t, imtypes.DeliverySent, got.Delivery)
}

func TestApplyIncomingOtherConversationBumpsUnread(t *testing.T) {
	h := newHarness(alice)
	h.sess.State.SetConversations([]imtypes.Conversation{{ID: "c1"}, {ID: "c2"}})
	require.NoError(t, h.sess.Ingestion.LoadMessages(context.Background(), "c1", 50, 0))

	res := h.sess.Ingestion.ApplyIncoming(msgAt("x1", "c2", "bob", time.Minute))
	assert.False(t, res.Applied)
	h.sess.Ingestion.ApplyIncoming(msgAt("x2", "c2", "alice", 2*time.Minute))

	c2, _ := h.sess.State.Conversation("c2")
	assert.Equal(t, 1, c2.UnreadCount)
	assert.Equal(t, testStart.Add(2*time.Minute), c2.LastActivityAt)
	require.NotNil(t, c2.LastMessage)
	assert.Equal(t, "x2", c2.LastMessage.ID)
	assert.Empty(t, h.sess.State.Messages())
}

func TestApplyIncomingWhileScrolledUpShowsAffordance(t *testing.T) {
	h := newHarness(alice)
	require.NoError(t, h.sess.Ingestion.LoadMessages(context.Background(), "c1", 50, 0))
	vp := h.sess.Ingestion.Viewport()

	vp.Update(0, 2000, 600) // 1400px from the bottom
	res := h.sess.Ingestion.ApplyIncoming(msgAt("m1", "c1", "bob", 0))
	assert.Equal(t, ShowNewMessages, res.Scroll)
	h.sess.Ingestion.ApplyIncoming(msgAt("m2", "c1", "bob", time.Second))
	assert.Equal(t, 2, vp.Unseen())

	vp.Update(1350, 2000, 600) // 50px from the bottom
	assert.Equal(t, 0, vp.Unseen())
	res = h.sess.Ingestion.ApplyIncoming(msgAt("m3", "c1", "bob", 2*time.Second))
	assert.Equal(t, ScrollToBottom, res.Scroll)
}

func TestApplyReadStatusIsPerUser(t *testing.T) {
	h := newHarness(alice)
	require.NoError(t, h.sess.Ingestion.LoadMessages(context.Background(), "c1", 50, 0))
	h.sess.Ingestion.ApplyIncoming(msgAt("m1", "c1", "bob", 0))

	assert.True(t, h.sess.Ingestion.ApplyReadStatus(imtypes.MessageReadStatus{MessageID: "m1", UserID: "carol"}))
	assert.False(t, h.sess.Ingestion.ApplyReadStatus(imtypes.MessageReadStatus{MessageID: "m1", UserID: "carol"}))
	assert.False(t, h.sess.Ingestion.ApplyReadStatus(imtypes.MessageReadStatus{MessageID: "nope", UserID: "carol"}))

	// a later echo of the message keeps the receipt
	h.sess.Ingestion.ApplyIncoming(msgAt("m1", "c1", "bob", 0))
	m, _ := h.sess.State.Message("m1")
	assert.True(t, m.IsReadBy("carol"))
}

func TestGroupMessages(t *testing.T) {
	msgs := []imtypes.Message{
		msgAt("1", "c", "A", 0),
		msgAt("2", "c", "A", 100*time.Second),
		msgAt("3", "c", "B", 101*time.Second),
	}
	groups := GroupMessages(msgs, DefaultGroupGap)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"1", "2"}, ids(groups[0].Messages))
	assert.Equal(t, []string{"3"}, ids(groups[1].Messages))
	assert.Equal(t, "B", groups[1].SenderID)

	gap := []imtypes.Message{
		msgAt("1", "c", "A", 0),
		msgAt("2", "c", "A", 5*time.Minute),
		msgAt("3", "c", "A", 5*time.Minute+time.Second),
	}
	groups = GroupMessages(gap, DefaultGroupGap)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"2", "3"}, ids(groups[1].Messages))

	assert.Empty(t, GroupMessages(nil, DefaultGroupGap))
}
