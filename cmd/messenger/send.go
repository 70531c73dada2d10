package main

import (
	"context"
	"fmt"
	"strings"

	"assoc-messaging/internal/realtime"
	"assoc-messaging/internal/transport"

	"github.com/spf13/cobra"
)

func sendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation-id> <text>...",
		Short: "Send one text message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return a.send(ctx, args[0], strings.Join(args[1:], " "))
		},
	}
}

func (a *app) send(ctx context.Context, conversationID, text string) error {
	c, err := a.newClient(realtime.OptionsFromConfig(a.cfg.Messaging), transport.ConversationHandlers{})
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.messaging.SelectConversation(ctx, conversationID); err != nil {
		return err
	}
	msg, err := c.messaging.SendMessage(ctx, text, nil)
	if err != nil {
		return err
	}
	fmt.Printf("sent %s at %s\n", msg.ID, msg.CreatedAt.Format("15:04:05"))
	return nil
}
