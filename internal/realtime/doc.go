// Package realtime coordinates the client side of realtime messaging: push
// subscriptions per conversation, presence, typing indicators, message
// ingestion and the session lifecycle.
//
// All components share one SessionState owned by a Session. Each component
// guards its own bookkeeping with a mutex and never invokes callbacks while
// holding it. Timers go through clock.Clock so tests can drive them with
// clock.Fake.
//
//	sess := realtime.NewSession(identity, transport, realtime.DefaultOptions())
//	if err := sess.Lifecycle.Initialize(ctx); err != nil {
//		return err
//	}
//	cancel := sess.Open(ctx, conversationID, transport.ConversationHandlers{})
//	defer cancel()
//	defer sess.Lifecycle.Cleanup()
package realtime
