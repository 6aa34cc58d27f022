package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"roomchat/internal/cache"
	"roomchat/internal/chat"
	"roomchat/internal/config"
	"roomchat/internal/db"
	"roomchat/internal/files"
	"roomchat/internal/logger"
	"roomchat/internal/middleware"
	"roomchat/internal/user"
	"roomchat/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, json or toml)")
	flag.Parse()

	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(cfg.Log.Dev)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logr.Sync()

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDatabase(cfg.DB.DSN, db.Options{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime(),
	}, logr)
	if err != nil {
		return err
	}
	defer database.Close()
	logr.Info("connected to postgres")

	if err := database.AutoMigrate(ctx); err != nil {
		return err
	}
	logr.Info("database schema initialized")

	chatRepo := chat.NewRepository(database)
	var members ws.MemberSource = chatRepo
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		logr.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
		members = cache.NewMemberCache(redisClient, chatRepo, cfg.MemberTTL(), logr)
	}

	registry := ws.NewRegistry()
	broadcaster := ws.NewBroadcaster(registry, members, logr)

	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWT.Secret, cfg.TokenTTL(), logr)
	userHandler := user.NewHandler(userService, cfg.TokenTTL(), logr)

	messageService := chat.NewMessageService(chatRepo, logr)
	roomService := chat.NewRoomService(chatRepo, messageService, broadcaster, logr)
	chatHandler := chat.NewHandler(roomService, messageService, logr)

	fileService, err := files.NewService(cfg.Files.Dir, chatRepo, userRepo, broadcaster, logr)
	if err != nil {
		return err
	}
	fileHandler := files.NewHandler(fileService, cfg.Files.MaxUploadBytes, logr)

	wsHandler := ws.NewHandler(registry, messageService, broadcaster, ws.Options{
		WriteWait:      cfg.WriteWait(),
		PongWait:       cfg.PongWait(),
		PingPeriod:     cfg.PingPeriod(),
		MaxMessageSize: cfg.WS.MaxMessageBytes,
		SendBuffer:     cfg.WS.SendBuffer,
		OpTimeout:      cfg.OpTimeout(),
		RatePerSecond:  cfg.WS.RatePerSecond,
		RateBurst:      cfg.WS.RateBurst,
		AllowedOrigin:  cfg.Server.FrontendURL,
	}, logr)

	authMiddleware := middleware.NewAuthMiddleware(userService)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger(logr))
	r.Use(chimw.Recoverer)

	// Public Routes
	userHandler.PublicRoutes(r)
	fileHandler.PublicRoutes(r)

	// Protected Routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/ws", wsHandler.ServeWs)
		userHandler.Routes(r)
		chatHandler.Routes(r)
		fileHandler.Routes(r)
	})

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.Server.FrontendURL},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(r)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down", zap.Int("connections", registry.Len()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	// http.Server.Shutdown does not touch hijacked connections, so the
	// websockets are closed separately once no new upgrade can start.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := wsHandler.Shutdown(shutdownCtx); err != nil {
		logr.Warn("websocket connections not drained", zap.Int("connections", registry.Len()), zap.Error(err))
		return err
	}
	logr.Info("websocket connections closed")
	return nil
}
