package main

import (
	"fmt"

	"assoc-messaging/internal/auth"

	"github.com/spf13/cobra"
)

func tokenCmd(a *app) *cobra.Command {
	var userID, name, email string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development session token signed with AUTH_JWT_SECRET_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.GenerateToken(userID, name, email, a.cfg.Auth)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
