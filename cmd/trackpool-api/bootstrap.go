package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rjcommerce/trackpool/config"
	"github.com/rjcommerce/trackpool/internal/api/poolapi"
	"github.com/rjcommerce/trackpool/internal/audit"
	"github.com/rjcommerce/trackpool/internal/broker/kafka"
	"github.com/rjcommerce/trackpool/internal/cache/rediscache"
	"github.com/rjcommerce/trackpool/internal/integrations/shopapi"
	"github.com/rjcommerce/trackpool/internal/integrations/shopapi/fake"
	"github.com/rjcommerce/trackpool/internal/integrations/shopapi/woohttp"
	"github.com/rjcommerce/trackpool/internal/services/assign"
	"github.com/rjcommerce/trackpool/internal/services/ingest"
	"github.com/rjcommerce/trackpool/internal/services/report"
	"github.com/rjcommerce/trackpool/internal/storage/pgpool"
)

type app struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   appOpts

	api      *poolapi.API
	assigner *assign.Service
	consumer *kafka.Consumer
	producer *kafka.Producer
	closeDB  func()
}

// importRepo narrows the pool store to what the ingest service needs.
type importRepo struct {
	st *pgpool.Storage
}

func (r importRepo) BeginImport(ctx context.Context) (ingest.ImportTx, error) {
	return r.st.BeginImport(ctx)
}

func mustBootstrap() *app {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	httpAddr := cfg.TrackPool.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.TrackPool.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "trackpool-api"
	}
	createdTopic := cfg.Kafka.OrderCreatedTopic
	if createdTopic == "" {
		createdTopic = "orders.created"
	}
	statusTopic := cfg.Kafka.OrderStatusChangedTopic
	if statusTopic == "" {
		statusTopic = "orders.status_changed"
	}
	assignedTopic := cfg.Kafka.TrackingAssignedTopic
	if assignedTopic == "" {
		assignedTopic = "tracking.assigned"
	}
	logsDir := cfg.TrackPool.LogsDir
	if logsDir == "" {
		logsDir = "./logs"
	}
	countsTTL := time.Duration(cfg.TrackPool.CountsTTLSeconds) * time.Second
	uploadWindow := time.Duration(cfg.TrackPool.UploadRateWindowSeconds) * time.Second

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	limiter := rediscache.NewRateLimiter(redisAddr)

	auditLog, err := audit.New(logsDir)
	if err != nil {
		panic(fmt.Sprintf("failed to set up audit logs: %v", err))
	}

	var shop shopapi.Client
	if cfg.ShopAPI.Mode == "fake" {
		shop = fake.New()
	} else {
		shop = woohttp.New(cfg.ShopAPI.BaseURL, cfg.ShopAPI.APIKey)
	}

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, []string{createdTopic, statusTopic}, consumerGroup)

	assigner := assign.New(st, shop, producer, auditLog, log, assign.Config{
		ReadyToShipStatus: cfg.TrackPool.ReadyToShipStatus,
		WeightPolicy:      assign.WeightPolicy(cfg.TrackPool.WeightPolicy),
		AssignedTopic:     assignedTopic,
	})
	ingester := ingest.New(importRepo{st: st}, auditLog, log)
	reporter := report.New(st, shop, log)

	api := poolapi.New(ingester, assigner, reporter, st, shop, auditLog, rc, limiter, log, poolapi.Config{
		CountsTTL:        countsTTL,
		UploadRateLimit:  int64(cfg.TrackPool.UploadRateLimit),
		UploadRateWindow: uploadWindow,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &app{
		ctx:    ctx,
		cancel: cancel,
		opts: appOpts{
			httpAddr:      httpAddr,
			createdTopic:  createdTopic,
			statusTopic:   statusTopic,
			consumerGroup: consumerGroup,
		},
		api:      api,
		assigner: assigner,
		consumer: consumer,
		producer: producer,
		closeDB:  st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgpool.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgpool.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *app) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *app) Run() error {
	return runTrackPoolAPI(a.ctx, a.opts, a.api, a.assigner, a.consumer)
}
