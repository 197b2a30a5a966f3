package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/grigta/hotspot/pkg/cache"
	"github.com/grigta/hotspot/pkg/config"
	"github.com/grigta/hotspot/pkg/crypto"
	"github.com/grigta/hotspot/pkg/database"
	"github.com/grigta/hotspot/pkg/logger"
	"github.com/grigta/hotspot/pkg/messaging"
	"github.com/grigta/hotspot/pkg/middleware"
	"github.com/grigta/hotspot/services/payment-service/internal/catalog"
	"github.com/grigta/hotspot/services/payment-service/internal/handlers"
	"github.com/grigta/hotspot/services/payment-service/internal/repository"
	"github.com/grigta/hotspot/services/payment-service/internal/service"
)

const (
	serviceName     = "payment-service"
	sessionCacheTTL = 24 * time.Hour
	shutdownTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log := logger.NewLogrus(cfg.App.LogLevel, cfg.App.LogFormat, os.Stdout)
	logger.SetDefault(logger.FromLogrus(log))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MongoDB
	mongoDB, err := database.NewMongoDB(cfg.Database.URI, cfg.Database.DBName, cfg.Database.Timeout)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer mongoDB.Close()

	var encryptor *crypto.Encryptor
	if cfg.Crypto.EncryptionKey != "" {
		encryptor, err = crypto.NewEncryptor(cfg.Crypto.EncryptionKey)
		if err != nil {
			log.Fatalf("Invalid encryption key: %v", err)
		}
	} else {
		log.Warn("ENCRYPTION_KEY not set; payer phone numbers are stored in clear text")
	}

	sessionRepo := repository.NewSessionRepository(mongoDB.GetDatabase(), encryptor, log)
	indexCtx, indexCancel := context.WithTimeout(ctx, cfg.Database.Timeout)
	if err := sessionRepo.EnsureIndexes(indexCtx); err != nil {
		log.Fatalf("Failed to create indexes: %v", err)
	}
	indexCancel()

	packages, err := catalog.Load(cfg.Payment.PackagesPath)
	if err != nil {
		log.Fatalf("Failed to load packages: %v", err)
	}

	metrics := service.NewMetricsCollector(prometheus.DefaultRegisterer)
	extras := service.Collaborators{Metrics: metrics}

	// Redis and RabbitMQ are optional; the purchase flow works without them.
	var cacheService *service.CacheService
	redisCache, err := cache.NewRedisCache(cache.Options{
		Host:      cfg.Redis.Host,
		Port:      cfg.Redis.Port,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		Namespace: "hotspot:",
	})
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, session snapshots disabled")
	} else {
		defer redisCache.Close()
		cacheService = service.NewCacheService(redisCache, sessionCacheTTL, log)
		extras.Cache = cacheService
	}

	rabbit, err := messaging.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
	if err != nil {
		log.WithError(err).Warn("RabbitMQ unavailable, status events disabled")
	} else {
		defer rabbit.Close()
		extras.Events = service.NewEventPublisher(rabbit, cfg.RabbitMQ.Exchange, log)
	}

	if cfg.Telegram.BotToken != "" && cfg.Telegram.SupportChatID != 0 {
		notifier, err := service.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.SupportChatID, "", log)
		if err != nil {
			log.WithError(err).Warn("Support alerts disabled")
		} else {
			extras.Support = notifier
		}
	}

	// Initialize services
	initiator, err := service.NewPaymentInitiator(
		cfg.Payment.InitiateURL(),
		cfg.Payment.IdentityPattern,
		cfg.Payment.RequestTimeout,
		metrics,
		log,
	)
	if err != nil {
		log.Fatalf("Failed to create payment initiator: %v", err)
	}

	poller := service.NewStatusPoller(
		cfg.Payment.VerifyURL(),
		cfg.Payment.PendingResultCodes,
		cfg.Payment.RequestTimeout,
		metrics,
		log,
	)

	auth := middleware.NewAuthMiddleware(cfg.Access.ServiceSecret)
	granter := service.NewAccessGrantClient(cfg.Access.URL, auth, cfg.Access.RequestTimeout, log)

	orchestrator := service.NewSessionOrchestrator(
		initiator,
		poller,
		granter,
		sessionRepo,
		extras,
		service.OrchestratorConfig{
			Budget: service.PollBudget{
				Interval:    cfg.Payment.PollingInterval(),
				MaxAttempts: cfg.Payment.MaxPollingAttempts,
			},
			AllowPlaceholderIdentity: cfg.Access.AllowPlaceholderIdentity,
			GrantTimeout:             cfg.Access.RequestTimeout,
		},
		log,
	)

	lookup := service.NewSessionLookup(cacheService, sessionRepo, log)
	statistics := service.NewStatisticsService(sessionRepo)
	httpHandler := handlers.NewHTTPHandler(orchestrator, lookup, statistics, packages, log)
	httpHandler.AddHealthCheck("mongodb", mongoDB)
	if redisCache != nil {
		httpHandler.AddHealthCheck("redis", redisCache)
	}

	// Start gRPC health server
	grpcPort := fmt.Sprintf(":%d", cfg.Monitoring.GRPCPort)
	lis, err := net.Listen("tcp", grpcPort)
	if err != nil {
		log.Fatalf("Failed to listen on gRPC port %s: %v", grpcPort, err)
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	go func() {
		log.Infof("Starting gRPC server on %s", grpcPort)
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatalf("Failed to serve gRPC: %v", err)
		}
	}()

	// Start HTTP server
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger.FromLogrus(log), "/health", "/metrics"))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var purchaseLimit gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		purchaseLimit = middleware.NewRateLimiter(ctx, cfg.RateLimit.Requests, cfg.RateLimit.Window).Middleware()
	}
	httpHandler.SetupRoutes(router, purchaseLimit)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.Port),
		Handler: router,
	}

	go func() {
		log.Infof("Starting HTTP server on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down servers...")
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Sessions did not finish before shutdown deadline")
	}

	grpcServer.GracefulStop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithFields(logrus.Fields{"error": err}).Error("HTTP server forced to shutdown")
	}

	log.Info("Servers exited")
}
