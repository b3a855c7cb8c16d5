package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"chatsync/backend/internal/api/handler"
	"chatsync/backend/internal/chathub"
	"chatsync/backend/internal/config"
	"chatsync/backend/internal/storage"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

func setupDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gorm.DB, *redis.Client) {
	// 1. PostgreSQL
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		logger.Fatal("failed to connect PostgreSQL", zap.Error(err))
	}

	// 2. Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		logger.Fatal("failed to connect Redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}

	logger.Info("database and redis connections established")
	return db, rdb
}

func main() {
	cfg, envLoaded, err := config.Load()
	logger := newLogger(os.Getenv("LOG_LEVEL"))
	defer logger.Sync()

	if !envLoaded {
		logger.Warn("no .env file loaded, using process environment")
	}
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Ініціалізація залежностей
	db, rdb := setupDependencies(ctx, cfg, logger)
	store := storage.NewStorageService(db)
	if err := store.Migrate(); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	if err := store.EnsureDefaultRooms(ctx); err != nil {
		logger.Fatal("failed to seed default rooms", zap.Error(err))
	}

	// 2. Ініціалізація Chat Hub
	hub := chathub.NewManagerService(store, logger.Named("hub"), chathub.Options{
		PersistTimeout:      cfg.PersistTimeout,
		TypingTTL:           cfg.TypingTTL,
		UnreadSweepInterval: cfg.UnreadSweepInterval,
		PingInterval:        cfg.PingInterval,
		PongWait:            cfg.PongWait,
	})
	mirror := storage.NewRedisPresenceMirror(rdb, logger.Named("presence-mirror"))
	hub.Presence.SetMirror(mirror)

	// 3. Запуск основних Goroutines
	hubCtx, stopHub := context.WithCancel(ctx)
	mirrorCtx, stopMirror := context.WithCancel(ctx)
	go hub.Run(hubCtx)
	go mirror.Run(mirrorCtx)

	// 4. Налаштування Gin та роутингу
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	tokens := handler.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	handler.NewHandler(hub, store, tokens, logger.Named("http")).Register(r, cfg.AllowDevTokens)
	if cfg.AllowDevTokens {
		logger.Warn("dev token endpoint enabled")
	}

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http": func(ctx context.Context) error {
				return server.Shutdown(ctx)
			},
			"hub": func(ctx context.Context) error {
				stopHub()
				return nil
			},
			"redis": func(ctx context.Context) error {
				stopMirror()
				return rdb.Close()
			},
			"db": func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.Close()
			},
		},
	)

	exitCode := <-wait
	logger.Info("server exited", zap.Int("code", exitCode))
	logger.Sync()
	os.Exit(exitCode)
}
