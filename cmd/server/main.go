package main

import (
	"context"
	"flag"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"smartnote-chat/internal/chat"
	"smartnote-chat/internal/config"
	"smartnote-chat/internal/db"
	"smartnote-chat/internal/logging"
	"smartnote-chat/internal/middleware"
	"smartnote-chat/internal/user"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if cfg.DatabaseDSN == "" {
		logger.Fatal("database_dsn is not set")
	}
	if cfg.JWTSecret == "" {
		logger.Fatal("jwt_secret is not set")
	}

	database, err := db.NewDatabase(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("connect to postgres", zap.Error(err))
	}
	if err := database.AutoMigrate(); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}
	logger.Info("database schema initialized")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Fatal("connect to redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService, logger)

	chatRepo := chat.NewRepository(database.Conn)
	hub := chat.NewHub(logger, redisClient, chatRepo)
	go hub.Run()
	go hub.SubscribeToRedis()

	chatHandler := chat.NewHandler(hub, chatRepo, logger)
	authMiddleware := middleware.NewAuthMiddleware(userService)

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)

		r.Get("/ws", chatHandler.ServeWs)

		r.Post("/api/conversations", chatHandler.StartConversation)
		r.Post("/api/groups", chatHandler.CreateGroup)
		r.Get("/api/chat/private/{peerID}", chatHandler.GetPrivateHistory)
		r.Get("/api/chat/group/{groupID}", chatHandler.GetGroupHistory)
	})

	logger.Info("server starting", zap.String("addr", cfg.HTTPAddress))
	if err := http.ListenAndServe(cfg.HTTPAddress, r); err != nil {
		logger.Fatal("listen and serve", zap.Error(err))
	}
}
