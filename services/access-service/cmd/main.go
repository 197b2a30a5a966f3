package main

import (
	"context"
	"flag"
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
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/grigta/hotspot/pkg/database"
	"github.com/grigta/hotspot/pkg/logger"
	"github.com/grigta/hotspot/pkg/middleware"
	"github.com/grigta/hotspot/services/access-service/internal/config"
	"github.com/grigta/hotspot/services/access-service/internal/handlers"
	"github.com/grigta/hotspot/services/access-service/internal/repository"
	"github.com/grigta/hotspot/services/access-service/internal/service"
)

const serviceName = "access-service"

func main() {
	configPath := flag.String("config", "./configs/access.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", logger.Err(err))
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat).WithField("service", serviceName)
	logger.SetDefault(log)

	mongoDB, err := database.NewMongoDB(cfg.MongoURI, cfg.DatabaseName, cfg.MongoTimeout)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB", logger.Err(err))
	}
	defer mongoDB.Close()

	grantRepo := repository.NewGrantRepository(mongoDB.GetDatabase())
	indexCtx, indexCancel := context.WithTimeout(context.Background(), cfg.MongoTimeout)
	if err := grantRepo.EnsureIndexes(indexCtx); err != nil {
		log.Fatal("Failed to create indexes", logger.Err(err))
	}
	indexCancel()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", logger.Err(err))
	}
	defer redisClient.Close()

	metrics := service.NewMetricsCollector(prometheus.DefaultRegisterer)
	controller := service.NewControllerClient(cfg.Controller, metrics, log)
	grantService := service.NewGrantService(
		controller,
		grantRepo,
		service.NewRedisLocker(redisClient),
		metrics,
		service.GrantServiceConfig{
			LockTTL:          cfg.LockTTL,
			AllowPlaceholder: cfg.Controller.AllowPlaceholder,
		},
		log,
	)

	// Start gRPC health server
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		log.Fatal("Failed to listen on gRPC port", logger.Err(err))
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	go func() {
		log.Info("Starting gRPC server", logger.Field{Key: "port", Value: cfg.GRPCPort})
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal("Failed to serve gRPC", logger.Err(err))
		}
	}()

	// Start HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log, "/health", "/metrics"))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpHandler := handlers.NewHTTPHandler(grantService, middleware.NewAuthMiddleware(cfg.ServiceSecret), log)
	httpHandler.AddHealthCheck("mongodb", mongoDB.Ping)
	httpHandler.AddHealthCheck("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	httpHandler.SetupRoutes(router)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		log.Info("Starting HTTP server", logger.Field{Key: "addr", Value: httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", logger.Err(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down servers...")
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	grpcServer.GracefulStop()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("HTTP server forced to shutdown", logger.Err(err))
	}

	log.Info("Servers exited")
}
