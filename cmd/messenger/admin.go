package main

import (
	"context"
	"fmt"
	"time"

	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/storage"

	"github.com/spf13/cobra"
)

const adminTimeFormat = "2006-01-02 15:04:05"

// adminCmd inspects the gateway's postgres store directly.
func adminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Inspect the gateway database (DATABASE_* settings)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the messaging tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := storage.InitDB(a.cfg.Database)
			if err != nil {
				return err
			}
			if err := storage.AutoMigrateTables(db); err != nil {
				return err
			}
			fmt.Println("tables are up to date")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show-conversation <conversation-id>",
		Short: "Show one conversation and its latest message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(ctx context.Context, store imtypes.ConversationStore) error {
				conv, err := store.GetConversation(ctx, args[0])
				if err != nil {
					return err
				}
				printConversation(conv)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list-participants <conversation-id>",
		Short: "List the participants of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(ctx context.Context, store imtypes.ConversationStore) error {
				conv, err := store.GetConversation(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Participants of %s (%d):\n", conv.ID, len(conv.Participants))
				fmt.Println("--------------------------------------")
				for i, p := range conv.Participants {
					fmt.Printf("#%d user: %s, name: %s, role: %s, joined: %s\n",
						i+1, p.UserID, p.UserName, p.Role, p.JoinedAt.Format(adminTimeFormat))
				}
				return nil
			})
		},
	})

	var userID string
	list := &cobra.Command{
		Use:   "list-conversations",
		Short: "List the conversations of one user, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(ctx context.Context, store imtypes.ConversationStore) error {
				convs, err := store.ListConversations(ctx, userID)
				if err != nil {
					return err
				}
				for _, c := range convs {
					kind := "direct"
					if c.IsGroup {
						kind = "group"
					}
					fmt.Printf("%s\t%s\t%s\t%d participants\tlast activity %s\n",
						c.ID, kind, c.Name, len(c.Participants), c.LastActivityAt.Format(adminTimeFormat))
				}
				return nil
			})
		},
	}
	list.Flags().StringVar(&userID, "user", "", "user id (required)")
	_ = list.MarkFlagRequired("user")
	cmd.AddCommand(list)

	return cmd
}

func (a *app) withStore(fn func(ctx context.Context, store imtypes.ConversationStore) error) error {
	db, err := storage.InitDB(a.cfg.Database)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return fn(ctx, storage.NewGormStore(db))
}

func printConversation(c *imtypes.Conversation) {
	kind := "direct"
	if c.IsGroup {
		kind = "group"
	}
	fmt.Printf("Conversation %s:\n", c.ID)
	fmt.Println("--------------------------------------")
	fmt.Printf("Type: %s\n", kind)
	if c.Name != "" {
		fmt.Printf("Name: %s\n", c.Name)
	}
	fmt.Printf("Created by: %s\n", c.CreatedBy)
	fmt.Printf("Created at: %s\n", c.CreatedAt.Format(adminTimeFormat))
	fmt.Printf("Participants: %d\n", len(c.Participants))
	if m := c.LastMessage; m != nil {
		fmt.Printf("Last message: [%s] %s: %s\n", m.CreatedAt.Format(adminTimeFormat), m.SenderID, m.Content)
	}
}
