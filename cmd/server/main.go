package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"realchat/internal/chat"
	"realchat/internal/config"
	"realchat/internal/db"
	myMiddleware "realchat/internal/middleware"
	"realchat/internal/store"
	"realchat/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/redis/go-redis/v9"
)

const (
	shutdownTimeout = 10 * time.Second
	flagsTTL        = time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Config & Flags
	addr := flag.String("addr", "", "http service address (overrides HTTP_ADDR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage
	gateway := &store.Gateway{Timeout: cfg.StoreTimeout}
	var userStore user.Store

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		database, err := db.NewDatabase(ctx, cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("failed to connect to DB: %w", err)
		}
		defer database.Close()
		log.Info("✅ Connected to PostgreSQL")

		if err := database.AutoMigrate(ctx); err != nil {
			return err
		}
		log.Info("✅ Database schema initialized")

		pg := store.NewPostgres(database.Conn)
		gateway.Messages, gateway.Users, gateway.Flags = pg, pg, pg
		userStore = user.NewRepository(database.Conn)

	case config.DriverBadger:
		bdb, err := store.OpenBadger(cfg.BadgerPath, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("Closing BadgerDB...")
			_ = bdb.Close()
		}()
		gateway.Messages, gateway.Users, gateway.Flags = bdb, bdb, bdb
		userStore = bdb
	}

	hub := chat.NewHub(log, gateway)

	// 3. Redis (optional): shared online flags and cross-instance broadcast
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Info("✅ Connected to Redis", "addr", cfg.RedisAddr)

		flags := store.NewRedisFlags(redisClient, cfg.RedisChannel, uuid.NewString(), flagsTTL)
		if err := flags.Reset(ctx); err != nil {
			return fmt.Errorf("resetting online flags: %w", err)
		}
		gateway.Flags = flags
		go flags.Keepalive(ctx)

		relay := chat.NewRelay(log, redisClient, cfg.RedisChannel, hub)
		if err := relay.Subscribe(ctx); err != nil {
			return fmt.Errorf("subscribing to %s: %w", cfg.RedisChannel, err)
		}
		hub.UsePublisher(relay)
	} else if err := hub.ResetStaleFlags(ctx); err != nil {
		return fmt.Errorf("resetting online flags: %w", err)
	}

	// 4. Features
	userService := user.NewService(userStore, cfg.JWTSecret, cfg.TokenTTL)
	userHandler := user.NewHandler(userService)

	go hub.Run()

	chatHandler := chat.NewHandler(log, hub, chat.NewAuthGate(userService, gateway), gateway, chat.HandlerOptions{
		AllowedOrigins: cfg.Origins(),
		MaxMessageSize: cfg.MaxMessageSize,
		SendBuffer:     cfg.SendBufferSize,
		HistoryLimit:   cfg.HistoryLimit,
	})

	authMiddleware := myMiddleware.NewAuthMiddleware(userService, gateway)

	// 5. Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	// The websocket handler authenticates before upgrading.
	r.Get("/ws", chatHandler.ServeWs)

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Get("/api/users/online", chatHandler.GetOnlineUsers)
		r.Get("/api/messages/private", chatHandler.GetChatHistory)
	})

	// 6. Serve until a signal arrives
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errChan := make(chan error, 1)
	go func() {
		log.Info("🚀 Server starting", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver, "clustered", cfg.RedisAddr != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return fmt.Errorf("http server error: %w", err)
	}

	return shutdown(log, srv, hub)
}

func shutdown(log *slog.Logger, srv *http.Server, hub *chat.Hub) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by the server, the hub
	// closes them.
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("HTTP shutdown failed", "error", err)
	}
	if err := hub.Shutdown(ctx); err != nil {
		return fmt.Errorf("hub shutdown: %w", err)
	}
	log.Info("Program stopped cleanly")
	return nil
}
