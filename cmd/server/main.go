package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-relay/internal/bus"
	"github.com/Tyrowin/gochat-relay/internal/chat"
	"github.com/Tyrowin/gochat-relay/internal/logger"
	"github.com/Tyrowin/gochat-relay/internal/presence"
	"github.com/Tyrowin/gochat-relay/internal/server"
)

func main() {
	envErr := godotenv.Load()

	cfg := server.NewConfigFromEnv().Sanitize()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	if envErr != nil {
		log.Debug("no .env file loaded", zap.Error(envErr))
	}
	log = log.With(zap.String("node_id", cfg.NodeID))

	err = run(cfg, log)
	if err != nil {
		log.Error("chat relay stopped", zap.Error(err))
	}
	_ = log.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run wires the relay and blocks until a signal arrives or the HTTP server
// fails. Everything started here is stopped before it returns.
func run(cfg server.Config, log *zap.Logger) error {
	log.Info("starting chat relay",
		zap.String("port", cfg.Port),
		zap.Strings("allowed_origins", cfg.AllowedOrigins),
		zap.String("outbound_event", cfg.OutboundEvent))

	registry := chat.NewRegistry()
	rooms := chat.NewRooms()

	relayOpts := []chat.RelayOption{chat.WithOutboundEvent(cfg.OutboundEvent)}
	var b *bus.Bus
	if cfg.NATS.URL != "" {
		var err error
		b, err = bus.Connect(bus.Config{URL: cfg.NATS.URL, Subject: cfg.NATS.Subject, NodeID: cfg.NodeID}, log.Named("bus"))
		if err != nil {
			return errors.Wrap(err, "connect to nats")
		}
		defer b.Close()
		relayOpts = append(relayOpts, chat.WithFanout(b))
		log.Info("cross-node fan-out enabled", zap.String("subject", cfg.NATS.Subject))
	}
	relay := chat.NewRelay(rooms, log.Named("relay"), relayOpts...)

	var store presence.Store = presence.Nop{}
	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rs, err := presence.NewRedisStore(ctx, presence.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.PresenceTTL,
			NodeID:   cfg.NodeID,
		})
		cancel()
		if err != nil {
			return errors.Wrap(err, "connect to redis")
		}
		store = rs
		log.Info("presence mirror enabled", zap.String("redis_addr", cfg.Redis.Addr))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("error closing presence store", zap.Error(err))
		}
	}()

	hub := server.NewHub(&cfg, registry, rooms, relay, log.Named("hub"), server.WithPresence(store))
	go hub.Run()
	defer func() {
		if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
			log.Warn("hub did not shut down cleanly", zap.Error(err))
		}
	}()
	log.Info("hub started and ready to manage WebSocket connections")

	if b != nil {
		if err := b.Subscribe(hub.DeliverRemote); err != nil {
			return errors.Wrap(err, "subscribe to nats")
		}
	}

	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(hub))

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.StartServer(httpServer, log)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var serveErr error
	select {
	case serveErr = <-serverErrors:
	case sig := <-sigChan:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log); err != nil {
		log.Warn("http server did not shut down cleanly", zap.Error(err))
	}
	return serveErr
}
