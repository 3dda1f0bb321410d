// Command worker publishes scheduled posts when they fall due.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/sujalbistaa/murmur/internal/config"
	"github.com/sujalbistaa/murmur/internal/db"
	"github.com/sujalbistaa/murmur/internal/schedule"
	"github.com/sujalbistaa/murmur/internal/telemetry"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	initLogger(cfg)
	if envErr != nil {
		slog.Debug("No .env file found, reading from environment")
	}
	slog.Info("Starting murmur worker", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.ServiceName+"-worker", cfg.Env, cfg.OtelEndpoint)
	if err != nil {
		slog.Error("Failed to init tracer", "error", err)
	} else {
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	database, err := db.Init(cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(database); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	if cfg.NatsURL == "" {
		slog.Info("NATS_URL not set, polling the database for due posts")
		publisher := schedule.NewPublisher(database, nil)
		schedule.NewPoller(database, publisher, cfg.PollInterval).Run(ctx)
		return
	}

	nc, err := nats.Connect(cfg.NatsURL, nats.Name(cfg.ServiceName+"-worker"))
	if err != nil {
		slog.Error("Unable to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Drain()

	js, err := jetstream.New(nc)
	if err != nil {
		slog.Error("JetStream init failed", "error", err)
		os.Exit(1)
	}
	// Creating the queue makes sure the stream exists before the consumer binds to it.
	if _, err := schedule.NewNatsQueue(ctx, js); err != nil {
		slog.Error("Failed to create schedule stream", "error", err)
		os.Exit(1)
	}

	publisher := schedule.NewPublisher(database, schedule.NewNatsAnnouncer(nc))
	// Picks up rows whose enqueue failed or whose job was dropped.
	go schedule.NewPoller(database, publisher, cfg.SweepInterval).Run(ctx)
	if err := schedule.NewConsumer(js, publisher).Run(ctx); err != nil {
		slog.Error("Consumer stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("Worker exiting")
}

func initLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if cfg.IsLocal() {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
