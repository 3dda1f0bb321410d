package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sujalbistaa/murmur/internal/cache"
	"github.com/sujalbistaa/murmur/internal/config"
	"github.com/sujalbistaa/murmur/internal/db"
	"github.com/sujalbistaa/murmur/internal/feed"
	routes "github.com/sujalbistaa/murmur/internal/http"
	"github.com/sujalbistaa/murmur/internal/identity"
	"github.com/sujalbistaa/murmur/internal/media"
	"github.com/sujalbistaa/murmur/internal/schedule"
	"github.com/sujalbistaa/murmur/internal/store"
	"github.com/sujalbistaa/murmur/internal/telemetry"
	"github.com/sujalbistaa/murmur/internal/ws"
)

func main() {
	// Production sets the environment directly, so a missing .env is fine.
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
	slog.Info("Starting murmur API", "env", cfg.Env, "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.ServiceName, cfg.Env, cfg.OtelEndpoint)
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
	slog.Info("Running database migrations...")
	if err := db.Migrate(database); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	var followCache cache.FollowCache = cache.Noop{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisotel.InstrumentTracing(rdb); err != nil {
			slog.Error("Failed to instrument Redis", "error", err)
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("Unable to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		followCache = cache.NewRedisFollowCache(rdb, 10*time.Minute)
		slog.Info("Connected to Redis", "addr", cfg.RedisAddr)
	}

	mediaStore, err := media.NewStore(cfg.MediaRoot, media.DefaultMaxBytes)
	if err != nil {
		slog.Error("Failed to prepare media root", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub()
	go hub.Run(ctx)

	tokens := identity.NewTokenProvider(cfg.JWTSecret, cfg.TokenTTL, cfg.ServiceName)
	env := &routes.Env{
		Identity:     identity.NewService(database, identity.NewArgon2Hasher(identity.DefaultParams), tokens),
		Profiles:     store.NewProfileStore(database),
		Posts:        store.NewPostStore(database),
		Interactions: store.NewInteractionStore(database),
		Feed:         feed.NewResolver(database, followCache),
		Media:        mediaStore,
		Hub:          hub,
	}

	var queue schedule.Queue = schedule.StoreQueue{}
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL, nats.Name(cfg.ServiceName))
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
		if queue, err = schedule.NewNatsQueue(ctx, js); err != nil {
			slog.Error("Failed to create schedule stream", "error", err)
			os.Exit(1)
		}
		// Posts published by the worker reach connected followers through this process.
		if _, err := schedule.SubscribePublished(nc, func(ctx context.Context, ev schedule.PublishedEvent) {
			post, err := env.Posts.Get(ctx, ev.PostID)
			if err == nil {
				err = env.AnnouncePost(ctx, post)
			}
			if err != nil {
				slog.Warn("Failed to relay published post", "post_id", ev.PostID, "error", err)
			}
		}); err != nil {
			slog.Error("Failed to subscribe to NATS", "error", err)
			os.Exit(1)
		}
		slog.Info("Connected to NATS", "url", cfg.NatsURL)
	}
	env.Scheduler = schedule.NewScheduler(database, queue)

	if cfg.InlineWorker {
		publisher := schedule.NewPublisher(database, schedule.AnnouncerFunc(env.AnnouncePost))
		go schedule.NewPoller(database, publisher, cfg.PollInterval).Run(ctx)
	}

	if !cfg.IsLocal() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	routes.SetupRoutes(ctx, router, env, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(router, cfg.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	slog.Info("Server exiting")
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
