package gateway

import (
	"context"
	"fmt"
	"net/http"

	"assoc-messaging/internal/clock"
	"assoc-messaging/internal/config"
	"assoc-messaging/internal/fanout"
	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/metrics"
	"assoc-messaging/internal/websocket"
)

// Deps are the pluggable backends chosen by the caller.
type Deps struct {
	Store    imtypes.ConversationStore
	Presence imtypes.PresenceStore
	Files    imtypes.StorageService
	Bus      fanout.Bus
	Metrics  *metrics.Metrics
	Clock    clock.Clock
}

// Gateway ties the service, the websocket hub and the fan-out bus together.
type Gateway struct {
	Service Service
	Hub     *websocket.Hub

	bus     fanout.Bus
	handler http.Handler
}

// New assembles a gateway. Call Start before serving requests.
func New(cfg config.Config, deps Deps) *Gateway {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Presence == nil {
		deps.Presence = NewMemoryPresenceStore(deps.Clock)
	}
	if deps.Bus == nil {
		deps.Bus = fanout.NewMemoryBus()
	}
	svc := NewService(deps.Store, deps.Presence, deps.Files, deps.Bus, deps.Metrics, deps.Clock, cfg.Gateway.PresenceTTL)
	hub := websocket.NewHub(deps.Metrics, cfg.Messaging.EventBuffer)
	h := NewHandler(svc, deps.Files, cfg.Storage)
	return &Gateway{
		Service: svc,
		Hub:     hub,
		bus:     deps.Bus,
		handler: NewRouter(cfg, h, svc, hub, deps.Metrics),
	}
}

// Start runs the hub until ctx is cancelled and feeds it from the bus.
func (g *Gateway) Start(ctx context.Context) error {
	go g.Hub.Run(ctx)
	if err := g.bus.Subscribe(g.Hub.Deliver); err != nil {
		return fmt.Errorf("subscribe hub to fan-out bus: %w", err)
	}
	return nil
}

// Handler is the root HTTP handler.
func (g *Gateway) Handler() http.Handler { return g.handler }

// Close releases the bus. The hub stops with the context given to Start.
func (g *Gateway) Close() error {
	return g.bus.Close()
}
