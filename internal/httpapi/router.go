// Package httpapi wires the gateway's HTTP surface: the payment-gated
// inference proxy, health and metrics endpoints, and the operator's refund
// administration routes.
package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"x402_gateway/internal/config"
	"x402_gateway/internal/logging"
	"x402_gateway/internal/metrics"
	"x402_gateway/internal/middleware"
	"x402_gateway/internal/payment"
	"x402_gateway/internal/queue"
	"x402_gateway/internal/refund"
	"x402_gateway/internal/storage"
	"x402_gateway/internal/upstream"
	"x402_gateway/internal/utils"
	"x402_gateway/internal/x402"
)

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Config       *config.Config
	DB           *storage.DB
	Redis        *storage.RedisClient
	Upstream     *upstream.Client
	Gate         *payment.Gate
	Refunds      *refund.Service
	RecordWorker *storage.RecordQueueWorker
	Metrics      *metrics.Metrics
	AccessLogger *logging.AccessLogger

	logger *utils.Logger
}

// NewRouter creates an HTTP router with all dependencies wired up.
func NewRouter(cfg *config.Config) (*http.ServeMux, *Dependencies, error) {
	db, err := storage.NewDB(storage.DBConfig{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Redis backs the escrow record queue when configured; without it the
	// queue falls back to memory (single-pod, no persistence).
	var redisClient *storage.RedisClient
	useRedis := cfg.Redis.Address != ""
	if useRedis {
		redisClient, err = storage.NewRedisClient(storage.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
	}

	// Escrow record queue + batch writer
	recordQueueCfg := queue.DefaultConfig("escrow_records")
	recordQueueCfg.UseRedis = useRedis

	var recordQueue queue.Queue
	var recordDLQ queue.DeadLetterQueue
	if useRedis {
		recordQueueCfg.RedisAddr = cfg.Redis.Address
		recordQueueCfg.RedisPassword = cfg.Redis.Password
		recordQueueCfg.RedisDB = cfg.Redis.DB
		recordQueue, err = queue.NewRedisQueue(recordQueueCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create record queue: %w", err)
		}
		recordDLQ, err = queue.NewRedisDeadLetterQueue(recordQueueCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create record DLQ: %w", err)
		}
	} else {
		recordQueue = queue.NewMemoryQueue(recordQueueCfg)
		recordDLQ = queue.NewMemoryDeadLetterQueue()
	}

	recordWorker := storage.NewRecordQueueWorker(recordQueue, recordDLQ, db, recordQueueCfg)
	recordWorker.Start(context.Background())

	// Payment pipeline
	m := metrics.New()
	facilitator := x402.NewFacilitatorClient(cfg.Payment.FacilitatorURL)
	gate := payment.NewGate(cfg, facilitator, recordWorker, m)

	upstreamClient := upstream.NewClient(upstream.Config{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  cfg.Upstream.APIKey,
		Timeout: cfg.Upstream.RequestTimeout,
		Mock:    cfg.DevMode,
	})

	// Refund disbursement (also runs standalone in cmd/refunder)
	var disburser refund.Disburser
	if cfg.Refund.DisburserRPCURL != "" {
		disburser = refund.NewRPCDisburser(cfg.Refund.DisburserRPCURL)
	} else {
		disburser = refund.NewStubDisburser()
	}
	refundService := refund.NewService(db.NewPaymentRepository(), disburser, cfg.Payment.MinRefundThresholdUSD)

	var accessLogger *logging.AccessLogger
	if cfg.AccessLog.FilePathTemplate != "" {
		accessLogger, err = logging.NewAccessLogger(
			cfg.AccessLog.FilePathTemplate,
			cfg.AccessLog.MaxSize,
			cfg.AccessLog.MaxFiles,
			cfg.AccessLog.BufferSize,
			cfg.AccessLog.FlushInterval,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize access logger: %w", err)
		}
	}

	deps := &Dependencies{
		Config:       cfg,
		DB:           db,
		Redis:        redisClient,
		Upstream:     upstreamClient,
		Gate:         gate,
		Refunds:      refundService,
		RecordWorker: recordWorker,
		Metrics:      m,
		AccessLogger: accessLogger,
		logger:       utils.NewLogger("httpapi"),
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps)

	return mux, deps, nil
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	logMW := middleware.Logging(deps.AccessLogger)
	gateMW := deps.Gate.Middleware

	// Payment-gated inference proxy
	mux.Handle("/v1/responses", logMW(gateMW(http.HandlerFunc(deps.handleResponses))))

	// Public endpoints
	mux.Handle("/health", logMW(http.HandlerFunc(deps.handleHealth)))
	mux.Handle("/", logMW(http.HandlerFunc(deps.handleRoot)))
	mux.Handle("/metrics", deps.Metrics.Handler())

	// Operator surface
	adminJWT := middleware.AdminJWT(deps.Config)
	mux.Handle("/admin/auth/login", logMW(http.HandlerFunc(deps.handleAdminLogin)))
	mux.Handle("/admin/refunds/process", logMW(adminJWT(http.HandlerFunc(deps.handleAdminRefundsProcess))))
	mux.Handle("/admin/refunds/stats", logMW(adminJWT(http.HandlerFunc(deps.handleAdminRefundsStats))))
}

// Close shuts down everything NewRouter started, draining the record queue
// first so settled escrows are not lost.
func (d *Dependencies) Close() {
	if d.RecordWorker != nil {
		if err := d.RecordWorker.Stop(); err != nil {
			d.logger.Error("Failed to stop record worker", "error", err)
		}
	}
	if d.AccessLogger != nil {
		d.AccessLogger.Shutdown()
	}
	if d.Upstream != nil {
		d.Upstream.Close()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.logger.Error("Failed to close Redis client", "error", err)
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			d.logger.Error("Failed to close database", "error", err)
		}
	}
}
