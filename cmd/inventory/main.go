package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tair/roomsync/internal/bulkops"
	"github.com/tair/roomsync/internal/channel"
	"github.com/tair/roomsync/internal/inventory"
	httpDelivery "github.com/tair/roomsync/internal/inventory/delivery/http"
	"github.com/tair/roomsync/internal/inventory/repository"
	"github.com/tair/roomsync/internal/lock"
	"github.com/tair/roomsync/internal/roomlock"
	"github.com/tair/roomsync/kafka"
	"github.com/tair/roomsync/pkg/database"
	"github.com/tair/roomsync/pkg/logger"
	"github.com/tair/roomsync/pkg/tracing"
)

func main() {
	// Initialize logger
	serviceName := getEnv("OTEL_SERVICE_NAME", "roomsync-inventory")
	isDevelopment := getEnv("ENVIRONMENT", "development") == "development"
	logger.Init(serviceName, isDevelopment)

	logLevel := getEnv("LOG_LEVEL", "info")
	logger.SetLevel(logLevel)

	logger.Logger.Info().
		Str("service", serviceName).
		Str("environment", getEnv("ENVIRONMENT", "development")).
		Str("log_level", logLevel).
		Msg("Starting inventory service")

	// Initialize tracing
	tp, err := tracing.InitTracer(serviceName)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to initialize tracer")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(ctx, tp); err != nil {
			logger.Logger.Error().Err(err).Msg("Failed to shutdown tracer")
		}
	}()

	// Load database configuration
	dbConfig := database.Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		DBName:   getEnv("DB_NAME", "roomsyncdb"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	// Connect to database
	db, err := database.NewGormConnection(dbConfig)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to connect to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to get database instance")
	}
	defer sqlDB.Close()

	// Run migrations
	availabilityStore := repository.NewGormAvailabilityStore(db)
	bookingRepo := repository.NewGormBookingRepository(db)
	leaseRepo := roomlock.NewGormLeaseRepository(db)
	roomRepo := bulkops.NewGormRoomRepository(db)
	for _, migrate := range []func() error{
		availabilityStore.AutoMigrate,
		bookingRepo.AutoMigrate,
		leaseRepo.AutoMigrate,
		roomRepo.AutoMigrate,
	} {
		if err := migrate(); err != nil {
			logger.Logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	logger.Logger.Info().Msg("Database initialized successfully")

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       0,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	// Kafka publisher
	brokers := strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")
	publisher, err := kafka.NewPublisher(brokers)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to create Kafka publisher")
	}
	defer publisher.Close()

	// Inventory engine via Wire DI
	engineConfig := inventory.DefaultConfig()
	if channels := getEnv("DOWNSTREAM_CHANNELS", ""); channels != "" {
		engineConfig.DownstreamChannels = strings.Split(channels, ",")
	}
	engine, err := inventory.InitializeEngine(db, redisClient, publisher, engineConfig)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to initialize inventory engine")
	}

	// Background workers run until shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Channel ingest consumer
	consumer, err := kafka.NewConsumer(brokers, getEnv("KAFKA_GROUP_ID", "roomsync-inventory"), []string{kafka.TopicChannelEvents})
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to create Kafka consumer")
	}
	defer consumer.Close()

	locks := lock.NewRedisManager(redisClient)
	tracedStore := repository.NewTracingAvailabilityStore(availabilityStore)
	ingest := channel.NewIngest(engine, bookingRepo, tracedStore, locks, publisher)
	ingest.Register(consumer)

	if err := consumer.Start(ctx); err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to start Kafka consumer")
	}

	// Reconciliation sweeper for records whose delta publish failed
	sweepInterval := getDurationEnv("SYNC_SWEEP_INTERVAL", time.Minute)
	sweeper := channel.NewSweeper(availabilityStore, publisher, sweepInterval)
	go sweeper.Run(ctx)

	// Room-edit lock service and lease reaper
	lockService := roomlock.NewService(leaseRepo, locks)
	go lockService.RunReaper(ctx, getDurationEnv("LEASE_REAP_INTERVAL", time.Minute))

	// Bulk operation coordinator
	registry := bulkops.NewRegistry(redisClient)
	go registry.Run(ctx, getDurationEnv("BATCH_EVICT_INTERVAL", time.Hour))
	coordinator := bulkops.NewCoordinator(roomRepo, bookingRepo, lockService, registry)

	// Start HTTP server
	inventoryHandler := httpDelivery.NewInventoryHandler(engine)
	lockHandler := roomlock.NewHandler(lockService)
	bulkHandler := bulkops.NewHandler(coordinator)

	httpPort := getEnv("HTTP_PORT", "8082")
	go startHTTPServer(inventoryHandler, lockHandler, bulkHandler, sqlDB, httpPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Logger.Info().Msg("Shutting down server...")
	cancel()
}

func startHTTPServer(inventoryHandler *httpDelivery.InventoryHandler, lockHandler *roomlock.Handler, bulkHandler *bulkops.Handler, db *sql.DB, port string) {
	// Setup router
	router := mux.NewRouter()

	// Register routes
	inventoryHandler.RegisterRoutes(router)
	lockHandler.RegisterRoutes(router)
	bulkHandler.RegisterRoutes(router)

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods("GET")

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	logger.Logger.Info().
		Str("port", port).
		Str("metrics_endpoint", "/metrics").
		Msg("HTTP server started")

	handler := otelhttp.NewHandler(c.Handler(router), "http.server")
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to start HTTP server")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
