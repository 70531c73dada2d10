package main

import (
	"context"

	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/realtime"
	"assoc-messaging/internal/transport"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func runCmd(a *app) *cobra.Command {
	var (
		conversations []string
		all           bool
		watch         []string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect, follow conversations and log their events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return a.run(ctx, conversations, all, watch)
		},
	}
	cmd.Flags().StringSliceVar(&conversations, "conversation", nil, "conversation id to follow (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "follow every conversation the user belongs to")
	cmd.Flags().StringSliceVar(&watch, "watch", nil, "user id whose presence to follow (repeatable)")
	return cmd
}

func (a *app) run(ctx context.Context, conversations []string, all bool, watch []string) error {
	log := logrus.WithField("component", "messenger")

	opts := realtime.OptionsFromConfig(a.cfg.Messaging)
	// the process exits right after unload, so the offline update must finish first
	opts.Async = func(f func()) { f() }
	opts.OnError = func(err error) { log.WithField("error", err).Warn("session error") }
	opts.Observers = transport.GlobalCallbacks{
		OnMessage: func(m imtypes.Message) {
			log.WithFields(logrus.Fields{"conversationId": m.ConversationID, "from": m.SenderName, "type": m.Type}).Info(m.Content)
		},
		OnTyping: func(t imtypes.TypingIndicator) {
			log.WithFields(logrus.Fields{"conversationId": t.ConversationID, "userId": t.UserID, "typing": t.IsTyping}).Debug("typing")
		},
		OnReadStatus: func(r imtypes.MessageReadStatus) {
			log.WithFields(logrus.Fields{"messageId": r.MessageID, "userId": r.UserID}).Debug("read")
		},
		OnPresenceChange: func(p imtypes.UserPresence) {
			log.WithFields(logrus.Fields{"userId": p.UserID, "status": p.Status}).Info("presence")
		},
		OnConnectionChange: func(connected bool) {
			log.WithField("connected", connected).Info("connection changed")
		},
	}

	c, err := a.newClient(opts, transport.ConversationHandlers{})
	if err != nil {
		return err
	}
	defer c.close()

	// a failed presence update still leaves the session usable
	if err := c.session.Lifecycle.Initialize(ctx); err != nil {
		log.WithField("error", err).Warn("initial presence update failed")
	}
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}

	convs, err := c.messaging.LoadConversations(ctx)
	if err != nil {
		return err
	}
	if all {
		conversations = conversations[:0]
		for _, conv := range convs {
			conversations = append(conversations, conv.ID)
		}
	}
	for _, id := range conversations {
		c.session.Open(ctx, id, transport.ConversationHandlers{})
	}
	if len(watch) > 0 {
		c.session.Presence.Subscribe(ctx, watch)
	}
	log.WithFields(logrus.Fields{
		"userId":        c.identity.UserID,
		"conversations": len(conversations),
		"watching":      len(watch),
	}).Info("following events, press Ctrl+C to stop")

	<-ctx.Done()
	c.session.Lifecycle.Unload()
	return nil
}
