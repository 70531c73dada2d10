package realtime

import (
	"time"

	"assoc-messaging/internal/clock"
	"assoc-messaging/internal/config"
	"assoc-messaging/internal/transport"
)

const (
	DefaultTypingExpiry        = 3 * time.Second
	DefaultGroupGap            = 5 * time.Minute
	DefaultNearBottomThreshold = 100
	DefaultPageSize            = 50
)

// Options configures a Session.
type Options struct {
	TypingExpiry time.Duration
	// RemoteTypingTTL ages out remote typing entries that never received an
	// explicit stop. Zero disables it.
	RemoteTypingTTL     time.Duration
	GroupGap            time.Duration
	NearBottomThreshold float64
	PageSize            int
	Clock               clock.Clock
	// OnError receives every error reported to the session.
	OnError func(error)
	// Observers receive every push event after the session has applied it.
	Observers transport.GlobalCallbacks
	// Async runs fire-and-forget work such as the offline update on unload.
	Async func(func())
}

// DefaultOptions returns the stock timings.
func DefaultOptions() Options {
	return Options{
		TypingExpiry:        DefaultTypingExpiry,
		GroupGap:            DefaultGroupGap,
		NearBottomThreshold: DefaultNearBottomThreshold,
		PageSize:            DefaultPageSize,
	}
}

// OptionsFromConfig maps the MESSAGING config section onto Options.
func OptionsFromConfig(cfg config.MessagingConfig) Options {
	opts := DefaultOptions()
	if cfg.TypingExpiry > 0 {
		opts.TypingExpiry = cfg.TypingExpiry
	}
	if cfg.RemoteTypingTTL > 0 {
		opts.RemoteTypingTTL = cfg.RemoteTypingTTL
	}
	if cfg.GroupGap > 0 {
		opts.GroupGap = cfg.GroupGap
	}
	if cfg.NearBottomThreshold > 0 {
		opts.NearBottomThreshold = cfg.NearBottomThreshold
	}
	if cfg.PageSize > 0 {
		opts.PageSize = cfg.PageSize
	}
	return opts
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TypingExpiry <= 0 {
		o.TypingExpiry = d.TypingExpiry
	}
	if o.GroupGap <= 0 {
		o.GroupGap = d.GroupGap
	}
	if o.NearBottomThreshold <= 0 {
		o.NearBottomThreshold = d.NearBottomThreshold
	}
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	o.Clock = clock.OrReal(o.Clock)
	if o.Async == nil {
		o.Async = func(f func()) { go f() }
	}
	return o
}
