package realtime

import (
	"context"
	"errors"
	"testing"

	"assoc-messaging/internal/auth"
	"assoc-messaging/internal/imtypes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeIsIdempotent(t *testing.T) {
	h := newHarness(alice)
	ctx := context.Background()

	require.NoError(t, h.sess.Lifecycle.Initialize(ctx))
	require.NoError(t, h.sess.Lifecycle.Initialize(ctx))

	assert.Equal(t, PhaseReady, h.sess.Lifecycle.Phase())
	assert.Equal(t, []imtypes.PresenceStatus{imtypes.PresenceOnline}, h.tr.presenceStatuses())
	assert.NotNil(t, h.tr.globalCallbacks().OnConnectionChange)
}

func TestInitializeRequiresAuthentication(t *testing.T) {
	h := newHarness(auth.Anonymous)
	err := h.sess.Lifecycle.Initialize(context.Background())
	var authErr *imtypes.AuthRequiredError
	assert.True(t, errors.As(err, &authErr))
	assert.Equal(t, PhaseUninitialized, h.sess.Lifecycle.Phase())
}

func TestFocusBlurUnloadMapToPresence(t *testing.T) {
	h := newHarness(alice)
	ctx := context.Background()

	// ignored before initialize
	require.NoError(t, h.sess.Lifecycle.Blur(ctx))
	h.sess.Lifecycle.Unload()
	assert.Empty(t, h.pending)

	require.NoError(t, h.sess.Lifecycle.Initialize(ctx))
	require.NoError(t, h.sess.Lifecycle.Blur(ctx))
	require.NoError(t, h.sess.Lifecycle.Focus(ctx))
	h.sess.Lifecycle.Unload()
	require.Len(t, h.pending, 1)
	h.runAsync()

	assert.Equal(t, []imtypes.PresenceStatus{
		imtypes.PresenceOnline,
		imtypes.PresenceAway,
		imtypes.PresenceOnline,
		imtypes.PresenceOffline,
	}, h.tr.presenceStatuses())
}

func TestConnectionLossFlipsFlagAndReports(t *testing.T) {
	h := newHarness(alice)
	require.NoError(t, h.sess.Lifecycle.Initialize(context.Background()))
	cb := h.tr.globalCallbacks()

	cb.OnConnectionChange(true)
	assert.True(t, h.sess.State.IsConnected())

	cb.OnConnectionChange(false)
	assert.False(t, h.sess.State.IsConnected())
	errs := h.reported()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrDisconnected)
}

func TestCleanupReleasesEverything(t *testing.T) {
	h := newHarness(alice)
	ctx := context.Background()
	require.NoError(t, h.sess.Lifecycle.Initialize(ctx))
	h.tr.globalCallbacks().OnConnectionChange(true)

	h.sess.Subscriptions.Subscribe(ctx, "c1", transportHandlersNoop())
	h.sess.Subscriptions.Subscribe(ctx, "c2", transportHandlersNoop())
	h.sess.Presence.Subscribe(ctx, []string{"bob"})
	require.NoError(t, h.sess.Typing.SetTyping(ctx, "c1", true))
	h.tr.pushTyping(imtypes.TypingIndicator{ConversationID: "c2", UserID: "bob", IsTyping: true})

	h.sess.Lifecycle.Cleanup()
	h.sess.Lifecycle.Cleanup()

	assert.Equal(t, 1, h.tr.convSubs["c1"][0].cancelled)
	assert.Equal(t, 1, h.tr.convSubs["c2"][0].cancelled)
	assert.Equal(t, 1, h.tr.presenceSubs[0].cancelled)
	assert.Equal(t, 0, h.sess.Typing.ActiveTimers())
	assert.Equal(t, 0, h.clk.Pending())

	snap := h.sess.State.Snapshot()
	assert.Empty(t, snap.TypingUsers)
	assert.Empty(t, snap.Presence)
	assert.False(t, snap.IsConnected)
	assert.Equal(t, PhaseUninitialized, h.sess.Lifecycle.Phase())
	assert.Nil(t, h.tr.globalCallbacks().OnConnectionChange)

	// the session can come back up
	require.NoError(t, h.sess.Lifecycle.Initialize(ctx))
	assert.Equal(t, PhaseReady, h.sess.Lifecycle.Phase())
}

func TestUnloadAckAfterCleanupLeavesPresenceEmpty(t *testing.T) {
	h := newHarness(alice)
	ctx := context.Background()
	require.NoError(t, h.sess.Lifecycle.Initialize(ctx))

	h.sess.Lifecycle.Unload()
	h.sess.Lifecycle.Cleanup()
	assert.Empty(t, h.sess.State.PresenceMap())

	// the offline update still goes out, its ack just lands nowhere
	h.runAsync()
	assert.Empty(t, h.sess.State.PresenceMap())
	assert.Equal(t, []imtypes.PresenceStatus{imtypes.PresenceOnline, imtypes.PresenceOffline}, h.tr.presenceStatuses())
	assert.Empty(t, h.reported())
}

func TestCleanupDuringInitializeDropsAck(t *testing.T) {
	h := newHarness(alice)
	h.tr.inFlight = func(imtypes.PresenceStatus) { h.sess.Presence.CancelAll() }

	require.NoError(t, h.sess.Lifecycle.Initialize(context.Background()))
	assert.Empty(t, h.sess.State.PresenceMap())

	// updates started after the teardown apply normally
	h.tr.inFlight = nil
	require.NoError(t, h.sess.Presence.UpdatePresence(context.Background(), imtypes.PresenceAway))
	assert.Equal(t, imtypes.PresenceAway, h.sess.State.PresenceMap()["alice"].Status)
}

func TestPresenceEventAfterCancelAllIsIgnored(t *testing.T) {
	h := newHarness(alice)
	h.sess.Presence.Subscribe(context.Background(), []string{"bob"})
	onChange := h.tr.presenceSubs[0].onChange

	h.sess.Lifecycle.Cleanup()
	onChange(imtypes.UserPresence{UserID: "bob", Status: imtypes.PresenceOnline})
	assert.Empty(t, h.sess.State.PresenceMap())
}

func TestInitializePresenceFailureStillReady(t *testing.T) {
	h := newHarness(alice)
	h.tr.presenceErr = errTransport

	err := h.sess.Lifecycle.Initialize(context.Background())
	assert.ErrorIs(t, err, errTransport)
	assert.Equal(t, PhaseReady, h.sess.Lifecycle.Phase())
}
