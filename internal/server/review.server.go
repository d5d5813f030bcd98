package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"review-service/internal/config"
	"review-service/internal/events"
	"review-service/internal/handler"
	"review-service/internal/ordersclient"
	"review-service/internal/repository"
	"review-service/internal/router"
	"review-service/internal/usecase"
	"review-service/pkg/cache"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const healthCheckInterval = 15 * time.Second

type Server struct {
	HTTP *http.Server
	GRPC *grpc.Server

	logger      *zap.Logger
	db          *pgxpool.Pool
	rdb         *redis.Client
	kafkaWriter *kafka.Writer
	orders      *ordersclient.OrdersService
	health      *HealthReporter
	stopHealth  context.CancelFunc
}

func NewServer(cfg config.AppConfig, logger *zap.Logger) (*Server, error) {
	// --- DB connection ---
	db, err := config.ConnectDB(logger)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	// --- Repositories ---
	reviewRepo := repository.NewReviewRepo(db, logger)

	// --- Redis client (optional) ---
	var (
		limiterRdb  redis.UniversalClient
		ratingCache *cache.RatingCache
	)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		logger.Warn("redis unavailable, rating cache and rate limiting disabled",
			zap.String("addr", cfg.RedisAddr),
			zap.Error(err))
		_ = rdb.Close()
		rdb = nil
	} else {
		limiterRdb = rdb
		ratingCache = cache.NewRatingCache(rdb, cfg.RatingCacheTTL, logger)
	}

	// --- Kafka publisher (optional) ---
	var (
		kafkaWriter *kafka.Writer
		publisher   *events.EventPublisher
	)
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) > 0 {
		kafkaWriter = events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		publisher = events.NewEventPublisher(kafkaWriter, logger)
		logger.Info("review events enabled",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic))
	}

	// --- Order authority client ---
	orders, err := ordersclient.NewOrdersService(cfg.OrdersTarget(), cfg.OrdersTimeout, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	// --- Usecase ---
	reviewUC := usecase.NewReviewUsecase(reviewRepo, orders, ratingCache, publisher, logger)

	// --- Handlers ---
	reviewHandler := handler.NewReviewHandler(reviewUC, logger)

	// --- HTTP router ---
	r := router.SetupRoutes(reviewHandler, router.Options{
		AllowedOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Redis:              limiterRdb,
	}, logger)

	// --- HTTP server ---
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// --- gRPC server ---
	grpcSrv := grpc.NewServer()
	healthReporter := NewHealthReporter(reviewUC, logger)
	healthpb.RegisterHealthServer(grpcSrv, healthReporter.Server())

	// enable reflection for testing (grpcurl / evans)
	reflection.Register(grpcSrv)

	healthCtx, stopHealth := context.WithCancel(context.Background())
	go healthReporter.Run(healthCtx, healthCheckInterval)

	return &Server{
		HTTP:        httpSrv,
		GRPC:        grpcSrv,
		logger:      logger,
		db:          db,
		rdb:         rdb,
		kafkaWriter: kafkaWriter,
		orders:      orders,
		health:      healthReporter,
		stopHealth:  stopHealth,
	}, nil
}

// StartGRPC runs the gRPC server on grpcAddr
func (s *Server) StartGRPC(grpcAddr string) error {
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return err
	}
	s.logger.Info("review gRPC service listening", zap.String("addr", grpcAddr))
	return s.GRPC.Serve(lis)
}

// StartHTTP runs the HTTP server
func (s *Server) StartHTTP() error {
	s.logger.Info("review HTTP service listening", zap.String("addr", s.HTTP.Addr))
	if err := s.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops both servers and releases every backing resource.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopHealth()
	s.health.Shutdown()

	var errs []error
	if err := s.HTTP.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	s.GRPC.GracefulStop()

	if s.kafkaWriter != nil {
		// flushes pending async messages
		if err := s.kafkaWriter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka writer: %w", err))
		}
	}
	if err := s.orders.Close(); err != nil {
		errs = append(errs, fmt.Errorf("orders client: %w", err))
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	s.db.Close()

	return errors.Join(errs...)
}
