package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"assoc-messaging/internal/auth"
	"assoc-messaging/internal/clock"
	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/realtime"
	"assoc-messaging/internal/recorder"
	"assoc-messaging/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice     = auth.Static{UserID: "alice", Name: "Alice", IsAuthenticated: true}
	testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

type fixture struct {
	tr   *fakeTransport
	sess *realtime.Session
	svc  MessagingService
	errs []error
}

func newFixture(t *testing.T, identity auth.Provider) *fixture {
	t.Helper()
	f := &fixture{tr: newFakeTransport()}
	clk := clock.NewFake(testStart)
	opts := realtime.DefaultOptions()
	opts.Clock = clk
	opts.OnError = func(err error) { f.errs = append(f.errs, err) }
	f.sess = realtime.NewSession(identity, f.tr, opts)
	f.svc = NewMessagingService(f.sess, f.tr, identity, clk, transport.ConversationHandlers{})
	t.Cleanup(f.svc.Close)
	return f
}

func msg(id, conv, sender string, minute int) imtypes.Message {
	return imtypes.Message{ID: id, ConversationID: conv, SenderID: sender, Content: id, CreatedAt: testStart.Add(time.Duration(minute) * time.Minute)}
}

func TestUnauthenticatedCallsFail(t *testing.T) {
	f := newFixture(t, auth.Anonymous)
	ctx := context.Background()

	var authErr *imtypes.AuthRequiredError
	_, err := f.svc.LoadConversations(ctx)
	assert.True(t, errors.As(err, &authErr))
	_, err = f.svc.SendMessage(ctx, "hi", nil)
	assert.True(t, errors.As(err, &authErr))
	assert.True(t, errors.As(f.svc.SelectConversation(ctx, "c1"), &authErr))
	assert.Empty(t, f.tr.sent)
}

func TestCreateConversationValidation(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()

	_, err := f.svc.CreateConversation(ctx, imtypes.CreateConversationRequest{ParticipantIDs: []string{" ", "alice"}})
	assert.True(t, IsValidation(err), "self and blanks are dropped")

	_, err = f.svc.CreateConversation(ctx, imtypes.CreateConversationRequest{ParticipantIDs: []string{"bob"}, IsGroup: true, Name: "  "})
	assert.True(t, IsValidation(err))

	_, err = f.svc.CreateConversation(ctx, imtypes.CreateConversationRequest{ParticipantIDs: []string{"bob"}, IsGroup: true, Name: strings.Repeat("x", MaxGroupNameLength+1)})
	assert.True(t, IsValidation(err))

	_, err = f.svc.CreateConversation(ctx, imtypes.CreateConversationRequest{ParticipantIDs: []string{"bob", "carol"}})
	assert.True(t, IsValidation(err))
	assert.Empty(t, f.tr.created)

	conv, err := f.svc.CreateConversation(ctx, imtypes.CreateConversationRequest{ParticipantIDs: []string{"bob", "carol", "bob"}, IsGroup: true, Name: " Board "})
	require.NoError(t, err)
	assert.Equal(t, "created", conv.ID)
	require.Len(t, f.tr.created, 1)
	assert.Equal(t, []string{"bob", "carol"}, f.tr.created[0].ParticipantIDs)
	assert.Equal(t, "Board", f.tr.created[0].Name)

	_, ok := f.sess.State.Conversation("created")
	assert.True(t, ok)
}

func TestCreateDirectReusesExisting(t *testing.T) {
	f := newFixture(t, alice)
	f.tr.conversations = []imtypes.Conversation{{
		ID:           "dm-bob",
		Participants: []imtypes.Participant{{UserID: "alice"}, {UserID: "bob"}},
	}}
	ctx := context.Background()
	_, err := f.svc.LoadConversations(ctx)
	require.NoError(t, err)

	conv, err := f.svc.CreateConversation(ctx, imtypes.CreateConversationRequest{ParticipantIDs: []string{"bob"}})
	require.NoError(t, err)
	assert.Equal(t, "dm-bob", conv.ID)
	assert.Empty(t, f.tr.created)
}

func TestSelectConversationLoadsSubscribesAndMarksRead(t *testing.T) {
	f := newFixture(t, alice)
	f.tr.conversations = []imtypes.Conversation{{ID: "c1", UnreadCount: 3}, {ID: "c2"}}
	f.tr.history["c1"] = []imtypes.Message{msg("m1", "c1", "bob", 0), msg("m2", "c1", "bob", 1)}
	ctx := context.Background()
	_, err := f.svc.LoadConversations(ctx)
	require.NoError(t, err)

	require.NoError(t, f.svc.SelectConversation(ctx, "c1"))
	assert.Equal(t, "c1", f.sess.State.SelectedConversationID())
	assert.Len(t, f.sess.State.Messages(), 2)
	assert.Len(t, f.tr.live("c1"), 1)
	assert.Equal(t, []string{"m2"}, f.tr.reads)
	c1, _ := f.sess.State.Conversation("c1")
	assert.Equal(t, 0, c1.UnreadCount)

	m2, _ := f.sess.State.Message("m2")
	assert.True(t, m2.IsReadBy("alice"))

	// switching drops the previous subscription
	require.NoError(t, f.svc.SelectConversation(ctx, "c2"))
	assert.Empty(t, f.tr.live("c1"))
	assert.Len(t, f.tr.live("c2"), 1)
	assert.Empty(t, f.sess.State.Messages())
}

func TestSendMessageOptimisticEcho(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()
	require.NoError(t, f.svc.SelectConversation(ctx, "c1"))

	_, err := f.svc.SendMessage(ctx, "   ", nil)
	assert.True(t, IsValidation(err))
	_, err = f.svc.SendMessage(ctx, strings.Repeat("a", MaxContentLength+1), nil)
	assert.True(t, IsValidation(err))

	sent, err := f.svc.SendMessage(ctx, "  hello ", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", sent.Content)
	require.Len(t, f.tr.sent, 1)
	assert.NotEmpty(t, f.tr.sent[0].ID)
	assert.Equal(t, sent.ID, f.tr.sent[0].ID)

	msgs := f.sess.State.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, imtypes.DeliverySent, msgs[0].Delivery)

	// the push echo of the same id reconciles instead of duplicating
	f.tr.push(imtypes.Message{ID: sent.ID, ConversationID: "c1", SenderID: "alice", Content: "hello"})
	require.Eventually(t, func() bool { return len(f.sess.State.Messages()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Contains(t, f.tr.typing, false)
}

func TestSendMessageFailureMarksEchoFailed(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()
	require.NoError(t, f.svc.SelectConversation(ctx, "c1"))
	f.tr.sendErr = errBackend

	_, err := f.svc.SendMessage(ctx, "hello", nil)
	var terr *imtypes.TransportError
	require.True(t, errors.As(err, &terr))
	assert.ErrorIs(t, err, errBackend)

	msgs := f.sess.State.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, imtypes.DeliveryFailed, msgs[0].Delivery)
	assert.Len(t, f.errs, 1)
	assert.Equal(t, err, f.sess.State.Err())
}

func TestSendWithoutSelectionFails(t *testing.T) {
	f := newFixture(t, alice)
	_, err := f.svc.SendMessage(context.Background(), "hi", nil)
	assert.True(t, IsValidation(err))
}

func TestSendVoiceMessageUploadsThenSends(t *testing.T) {
	f := newFixture(t, alice)
	ctx := context.Background()
	require.NoError(t, f.svc.SelectConversation(ctx, "c1"))

	_, err := f.svc.SendVoiceMessage(ctx, recorder.Blob{})
	assert.True(t, IsValidation(err))

	blob := recorder.Blob{Data: []byte("opus"), MimeType: "audio/ogg;codecs=opus", Duration: 7}
	sent, err := f.svc.SendVoiceMessage(ctx, blob)
	require.NoError(t, err)

	require.Len(t, f.tr.uploads, 1)
	assert.True(t, strings.HasSuffix(f.tr.uploads[0].FileName, ".ogg"))
	assert.Equal(t, []byte("opus"), f.tr.uploaded[0])

	assert.Equal(t, imtypes.VoiceMessageType, sent.Type)
	require.Len(t, sent.Attachments, 1)
	assert.Equal(t, "file-1", sent.Attachments[0].FileID)
	assert.Equal(t, float64(7), sent.Attachments[0].Duration)
}

func TestMarkAsReadFailureDoesNotSetSessionError(t *testing.T) {
	f := newFixture(t, alice)
	f.tr.readErr = errBackend

	err := f.svc.MarkAsRead(context.Background(), "m1")
	require.Error(t, err)
	assert.NoError(t, f.sess.State.Err())
	assert.Empty(t, f.errs)
}

func TestDeleteAndLeave(t *testing.T) {
	f := newFixture(t, alice)
	f.tr.conversations = []imtypes.Conversation{{ID: "c1"}}
	f.tr.history["c1"] = []imtypes.Message{msg("m1", "c1", "alice", 0), msg("m2", "c1", "alice", 1)}
	ctx := context.Background()
	_, err := f.svc.LoadConversations(ctx)
	require.NoError(t, err)
	require.NoError(t, f.svc.SelectConversation(ctx, "c1"))

	require.NoError(t, f.svc.DeleteMessage(ctx, "m1"))
	assert.Equal(t, []string{"m1"}, f.tr.deleted)
	assert.Len(t, f.sess.State.Messages(), 1)

	require.NoError(t, f.svc.LeaveConversation(ctx, "c1"))
	assert.Equal(t, []string{"c1"}, f.tr.left)
	assert.Empty(t, f.tr.live("c1"))
	assert.Empty(t, f.sess.State.Conversations())
	assert.Equal(t, "", f.sess.State.SelectedConversationID())
}

func TestJoinRefreshesConversations(t *testing.T) {
	f := newFixture(t, alice)
	f.tr.conversations = []imtypes.Conversation{{ID: "c9"}}

	require.NoError(t, f.svc.JoinConversation(context.Background(), "c9"))
	assert.Equal(t, []string{"c9"}, f.tr.joined)
	assert.Len(t, f.sess.State.Conversations(), 1)
}

func TestDownloadURL(t *testing.T) {
	f := newFixture(t, alice)
	url, err := f.svc.DownloadURL(context.Background(), "file-1")
	require.NoError(t, err)
	assert.Equal(t, "/uploads/file-1", url)

	_, err = f.svc.DownloadURL(context.Background(), "")
	assert.True(t, IsValidation(err))
}
