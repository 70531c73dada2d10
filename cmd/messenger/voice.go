package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"assoc-messaging/internal/realtime"
	"assoc-messaging/internal/recorder"
	"assoc-messaging/internal/transport"

	"github.com/spf13/cobra"
)

func voiceCmd(a *app) *cobra.Command {
	var (
		duration time.Duration
		mimeType string
	)
	cmd := &cobra.Command{
		Use:   "voice <conversation-id>",
		Short: "Record encoded audio from stdin and send it as a voice message",
		Example: `  ffmpeg -f pulse -i default -c:a libopus -f webm - | messenger voice c1 --duration 10s
  messenger voice c1 --mime audio/ogg < note.ogg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return a.voice(ctx, args[0], duration, mimeType)
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "how long to record, capped by RECORDER_MAX_DURATION_SECONDS")
	cmd.Flags().StringVar(&mimeType, "mime", recorder.DefaultMimeType, "container of the audio on stdin")
	return cmd
}

func (a *app) voice(ctx context.Context, conversationID string, duration time.Duration, mimeType string) error {
	cfg := recorder.ConfigFrom(a.cfg.Recorder)
	cfg.MimeType = mimeType

	completed := make(chan recorder.Blob, 1)
	rec := recorder.New(recorder.NewPipeDevice(os.Stdin, mimeType), cfg,
		recorder.OnComplete(func(b recorder.Blob) {
			select {
			case completed <- b:
			default:
			}
		}),
		recorder.OnDurationChange(func(seconds int) {
			fmt.Fprintf(os.Stderr, "\rrecording %s", recorder.FormatDuration(seconds))
		}),
	)
	if !rec.IsSupported() {
		return errors.New(recorder.UnsupportedMessage)
	}

	c, err := a.newClient(realtime.OptionsFromConfig(a.cfg.Messaging), transport.ConversationHandlers{})
	if err != nil {
		return err
	}
	defer c.close()
	if err := c.messaging.SelectConversation(ctx, conversationID); err != nil {
		return err
	}

	if err := rec.Start(ctx); err != nil {
		return err
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()

	var blob *recorder.Blob
	select {
	case b := <-completed:
		// the recorder stopped itself at its maximum duration
		blob = &b
	case <-timer.C:
	case <-ctx.Done():
		rec.Cancel()
		fmt.Fprintln(os.Stderr)
		return ctx.Err()
	}
	if blob == nil {
		if blob, err = rec.Stop(); err != nil {
			return err
		}
	}
	fmt.Fprintln(os.Stderr)
	if blob == nil {
		return errors.New("no audio was recorded")
	}

	msg, err := c.messaging.SendVoiceMessage(ctx, *blob)
	if err != nil {
		return err
	}
	rec.Clear()
	fmt.Printf("sent voice message %s (%s, %s)\n", msg.ID, recorder.FormatDuration(blob.Duration), blob.HumanSize())
	return nil
}
