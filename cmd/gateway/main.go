package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"assoc-messaging/internal/config"
	"assoc-messaging/internal/fanout"
	"assoc-messaging/internal/gateway"
	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/kafka"
	"assoc-messaging/internal/logging"
	"assoc-messaging/internal/metrics"
	appRedis "assoc-messaging/internal/redis"
	"assoc-messaging/internal/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		logrus.Fatalf("configure logging: %v", err)
	}
	log := logging.For("gateway")

	// every instance gets its own id so that each one sees every fanned-out event
	instanceID := uuid.NewString()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	presence, err := openPresence(cfg)
	if err != nil {
		log.Fatalf("open presence store: %v", err)
	}
	bus, err := openBus(cfg, instanceID)
	if err != nil {
		log.Fatalf("open fan-out bus: %v", err)
	}
	files, err := storage.NewLocalStorageService(cfg.Storage)
	if err != nil {
		log.Fatalf("init attachment storage: %v", err)
	}

	gw := gateway.New(cfg, gateway.Deps{
		Store:    store,
		Presence: presence,
		Files:    files,
		Bus:      bus,
		Metrics:  metrics.New(),
	})

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	if err := gw.Start(hubCtx); err != nil {
		log.Fatalf("start gateway: %v", err)
	}

	serverAddr := fmt.Sprintf("%s:%s", cfg.Gateway.Host, cfg.Gateway.Port)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      gw.Handler(),
		ReadTimeout:  cfg.Gateway.ReadTimeout,
		WriteTimeout: cfg.Gateway.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"addr":     serverAddr,
			"ws_path":  cfg.Gateway.WebSocketPath,
			"store":    cfg.Gateway.Store,
			"presence": cfg.Gateway.Presence,
			"fanout":   cfg.Gateway.Fanout,
			"instance": instanceID,
		}).Info("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("gateway server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down gateway")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.WithField("error", err).Error("forced gateway shutdown")
	}
	stopHub()
	<-gw.Hub.Done()
	if err := gw.Close(); err != nil {
		log.WithField("error", err).Warn("close fan-out bus")
	}
	log.Info("gateway stopped")
}

func openStore(cfg config.Config) (imtypes.ConversationStore, error) {
	switch cfg.Gateway.Store {
	case "", "memory":
		return storage.NewMemoryStore(), nil
	case "postgres":
		db, err := storage.InitDB(cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := storage.AutoMigrateTables(db); err != nil {
			return nil, err
		}
		return storage.NewGormStore(db), nil
	default:
		return nil, fmt.Errorf("unsupported store %q", cfg.Gateway.Store)
	}
}

func openPresence(cfg config.Config) (imtypes.PresenceStore, error) {
	switch cfg.Gateway.Presence {
	case "", "memory":
		return gateway.NewMemoryPresenceStore(nil), nil
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client, err := appRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return appRedis.NewRedisPresenceStore(client, cfg.Redis.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported presence store %q", cfg.Gateway.Presence)
	}
}

func openBus(cfg config.Config, instanceID string) (fanout.Bus, error) {
	switch cfg.Gateway.Fanout {
	case "", "memory":
		return fanout.NewMemoryBus(), nil
	case "kafka":
		return kafka.NewBus(cfg.Kafka, instanceID)
	case "nats":
		return fanout.NewNatsBus(cfg.NATS, "gateway-"+instanceID)
	default:
		return nil, fmt.Errorf("unsupported fan-out bus %q", cfg.Gateway.Fanout)
	}
}
