package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/willpeters615/student-swap-sub000/config"
	"github.com/willpeters615/student-swap-sub000/controller"
	"github.com/willpeters615/student-swap-sub000/entity"
	"github.com/willpeters615/student-swap-sub000/events"
	"github.com/willpeters615/student-swap-sub000/metrics"
	"github.com/willpeters615/student-swap-sub000/middleware"
	"github.com/willpeters615/student-swap-sub000/migration"
	"github.com/willpeters615/student-swap-sub000/service"
	"github.com/willpeters615/student-swap-sub000/ws"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	var zl *zap.Logger
	var err error
	if cfg.Development {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer func() { _ = zl.Sync() }()
	log := zl.Sugar()

	db, err := openDB(cfg)
	if err != nil {
		log.Fatalw("opening database failed", "error", err)
	}

	// external tables first; the messaging schema references them
	if err := db.AutoMigrate(&entity.User{}, &entity.Listing{}); err != nil {
		log.Fatalw("migrating external tables failed", "error", err)
	}
	// best-effort by contract: a failed run is logged and the server
	// starts with whatever state exists
	if !migration.Run(db, log) {
		log.Errorw("legacy message migration did not complete; serving existing state")
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)

	convSvc := service.NewConversationService(db)
	userSvc := service.NewUserService(db)
	listingSvc := service.NewListingService(db)

	hub := ws.NewHub(ws.Config{
		TypingTTL:       cfg.TypingTTL,
		SweepInterval:   cfg.SweepInterval,
		LivenessTimeout: cfg.LivenessTimeout,
		EventsPerMinute: cfg.WSEventsPerMinute,
		EventBurst:      cfg.WSEventBurst,
	}, log)

	convCtrl := controller.NewConversationController(convSvc, userSvc, listingSvc, hub, publisher, log)

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	protected := r.Group("/api")
	protected.Use(middleware.Auth(cfg.JWTSecret))
	protected.Use(middleware.RateLimit(rdb, "studentswap:rl", cfg.RateLimitRequests, cfg.RateLimitWindow))
	convCtrl.RegisterRoutes(protected)
	protected.GET("/ws", func(c *gin.Context) {
		ws.ServeWS(hub, convSvc, log, c)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Infow("server starting", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("http shutdown failed", "error", err)
	}
	hub.Stop()
	if err := publisher.Close(); err != nil {
		log.Errorw("closing event publisher failed", "error", err)
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.DatabaseURL != "" {
		return gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	}
	if cfg.DBFile == "" {
		cfg.DBFile = "dev.db"
	}
	return gorm.Open(sqlite.Open(cfg.DBFile), &gorm.Config{})
}
