package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	metricsprom "github.com/slok/go-http-metrics/metrics/prometheus"
	httpmetrics "github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"

	"github.com/Nzyazin/walletledger/internal/core/cache"
	"github.com/Nzyazin/walletledger/internal/core/events"
	"github.com/Nzyazin/walletledger/internal/core/handler"
	"github.com/Nzyazin/walletledger/internal/core/logger"
	"github.com/Nzyazin/walletledger/internal/core/metrics"
	middlWre "github.com/Nzyazin/walletledger/internal/core/middleware"
	"github.com/Nzyazin/walletledger/internal/core/models"
	"github.com/Nzyazin/walletledger/internal/core/repository/postgres"
	"github.com/Nzyazin/walletledger/internal/core/usecase"
	"github.com/Nzyazin/walletledger/pkg/config"
	"github.com/Nzyazin/walletledger/pkg/postgresdb"
)

type Server struct {
	cfg           *config.Config
	router        *mux.Router
	log           logger.Logger
	httpServer    *http.Server
	walletHandler *handler.WalletHandler
	db            *postgresdb.Database
	redis         *redis.Client
	publisher     *events.KafkaPublisher
	subscriber    *events.Subscriber
	cancelWorkers context.CancelFunc
}

func NewServer(ctx context.Context, cfg *config.Config, log logger.Logger) (*Server, error) {
	db, err := postgresdb.NewPostgresDB(ctx, cfg.DB, log)
	if err != nil {
		return nil, err
	}

	if cfg.DB.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("Database schema ensured")
	}

	server := &Server{
		cfg:    cfg,
		log:    log,
		router: mux.NewRouter(),
		db:     db,
	}

	opts := []usecase.Option{
		usecase.WithDefaults(usecase.Defaults{
			DecimalPlaces:     cfg.Ledger.DefaultDecimalPlaces,
			MinAllowedBalance: cfg.Ledger.DefaultMinAllowedBalance,
		}),
		usecase.WithMetrics(metrics.New(prometheus.DefaultRegisterer)),
	}

	if cfg.Redis.Enabled {
		server.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := server.redis.Ping(ctx).Err(); err != nil {
			log.Warn("Redis unavailable, balance cache disabled", logger.ErrorField("error", err))
			_ = server.redis.Close()
			server.redis = nil
		} else {
			opts = append(opts, usecase.WithBalanceCache(cache.NewRedisBalanceCache(server.redis, cfg.Redis.BalanceTTL)))
		}
	}

	if cfg.Kafka.Enabled {
		server.publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, []string{
			models.WalletCreatedTopic,
			models.TransactionCreatedTopic,
			models.BalanceRefreshedTopic,
			models.OwnerCreatedDLQTopic,
		}, cfg.Kafka.GetRetryConfig(), log)
		opts = append(opts, usecase.WithPublisher(server.publisher))
	}

	walletRepository := postgres.NewPostgresWalletRepo(db.DB, log)
	ledger, err := usecase.NewLedger(walletRepository, log, opts...)
	if err != nil {
		_ = server.closeResources()
		return nil, err
	}

	if cfg.Kafka.Enabled {
		server.subscriber = events.NewSubscriber(cfg.Kafka.Brokers, cfg.Kafka.GroupID, ledger, server.publisher, cfg.Kafka.GetRetryConfig(), log)
	}

	server.walletHandler = handler.NewWalletHandler(ledger, log)

	server.router.Use(middlWre.Logging(server.log))

	mw := httpmetrics.New(httpmetrics.Config{
		Recorder: metricsprom.NewRecorder(metricsprom.Config{}),
	})
	server.router.Use(func(next http.Handler) http.Handler {
		return std.Handler("", mw, next)
	})

	server.RegisterRoutes()

	return server, nil
}

func (s *Server) RegisterRoutes() {
	s.router.Use(middlWre.Recovery(s.log))
	s.walletHandler.RegisterRoutes(s.router)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		s.log.Warn("Health check failed", logger.ErrorField("error", err))
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// StartWorkers launches background consumers. They stop on Shutdown.
func (s *Server) StartWorkers(ctx context.Context) {
	if s.subscriber == nil {
		return
	}
	ctx, s.cancelWorkers = context.WithCancel(ctx)
	go func() {
		s.log.Info("Starting owner event subscriber", logger.StringField("topic", models.OwnerCreatedTopic))
		if err := s.subscriber.Run(ctx); err != nil {
			s.log.Error("Owner event subscriber stopped", logger.ErrorField("error", err))
		}
	}()
}

func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       9 * time.Second,
		WriteTimeout:      12 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 6 * time.Second,
	}

	s.httpServer = srv

	return srv.ListenAndServe()
}

func (s *Server) RunTLS(addr, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       9 * time.Second,
		WriteTimeout:      9 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 6 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}

	s.httpServer = srv
	return srv.ListenAndServeTLS(certFile, keyFile)
}

func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	var shutdownErr error

	go func() {
		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.log.Error("failed to shutdown HTTP server", logger.ErrorField("error", err))
				shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
			}
		}

		if s.cancelWorkers != nil {
			s.cancelWorkers()
		}

		if err := s.closeResources(); err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}

		close(done)
	}()

	select {
	case <-done:
		return shutdownErr
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (s *Server) closeResources() error {
	var errs []error
	if s.subscriber != nil {
		if err := s.subscriber.Close(); err != nil {
			s.log.Error("failed to close subscriber", logger.ErrorField("error", err))
			errs = append(errs, fmt.Errorf("subscriber close error: %w", err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.log.Error("failed to close publisher", logger.ErrorField("error", err))
			errs = append(errs, fmt.Errorf("publisher close error: %w", err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Error("failed to close redis client", logger.ErrorField("error", err))
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Error("failed to close database connection", logger.ErrorField("error", err))
			errs = append(errs, fmt.Errorf("database shutdown error: %w", err))
		}
	}
	return errors.Join(errs...)
}
