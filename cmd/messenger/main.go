// Command messenger is a headless client for the messaging gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"assoc-messaging/internal/auth"
	"assoc-messaging/internal/config"
	"assoc-messaging/internal/logging"
	"assoc-messaging/internal/realtime"
	"assoc-messaging/internal/services"
	"assoc-messaging/internal/transport"
	"assoc-messaging/internal/transport/wsclient"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every subcommand shares once flags are parsed.
type app struct {
	configPath string
	token      string
	logLevel   string

	cfg config.Config
}

func rootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "messenger",
		Short:         "Headless client for the messaging gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ./config/config.yaml)")
	cmd.PersistentFlags().StringVar(&a.token, "token", "", "session token (overrides CLIENT_TOKEN)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	cmd.AddCommand(runCmd(a), sendCmd(a), voiceCmd(a), tokenCmd(a), adminCmd(a))
	return cmd
}

func (a *app) load() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.token != "" {
		cfg.Client.Token = a.token
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// client bundles a connected-or-not transport with a session on top of it.
type client struct {
	identity  auth.Identity
	transport *wsclient.Client
	session   *realtime.Session
	messaging services.MessagingService
}

func (a *app) newClient(opts realtime.Options, handlers transport.ConversationHandlers) (*client, error) {
	if a.cfg.Client.Token == "" {
		return nil, errors.New("no session token: pass --token or set CLIENT_TOKEN")
	}
	id, err := auth.IdentityFromToken(a.cfg.Client.Token)
	if err != nil {
		return nil, err
	}
	provider := auth.Static(id)
	t := wsclient.New(wsclient.ConfigFrom(a.cfg))
	sess := realtime.NewSession(provider, t, opts)
	return &client{
		identity:  id,
		transport: t,
		session:   sess,
		messaging: services.NewMessagingService(sess, t, provider, nil, handlers),
	}, nil
}

func (c *client) close() {
	c.messaging.Close()
	c.session.Lifecycle.Cleanup()
	if err := c.transport.Close(); err != nil {
		logrus.WithField("error", err).Debug("close transport")
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
