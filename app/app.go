package app

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/crystalmix/exchange-core/configs"
	"github.com/crystalmix/exchange-core/internal/feed"
	"github.com/crystalmix/exchange-core/internal/handlers"
	"github.com/crystalmix/exchange-core/internal/hub"
	"github.com/crystalmix/exchange-core/internal/ledger"
	"github.com/crystalmix/exchange-core/internal/order"
	"github.com/crystalmix/exchange-core/internal/rates"
	"github.com/crystalmix/exchange-core/internal/reconcile"
	"github.com/crystalmix/exchange-core/pkg"
	"github.com/crystalmix/exchange-core/pkg/cache"
	"github.com/crystalmix/exchange-core/pkg/database"
	kafkautils "github.com/crystalmix/exchange-core/pkg/kafka"
	middleware "github.com/crystalmix/exchange-core/pkg/middlewares"
	"github.com/crystalmix/exchange-core/pkg/utils"
)

// dedupTTL bounds how long a deposit tx id is remembered for idempotency.
const dedupTTL = 48 * time.Hour

// NewApp wires dependencies, builds the Gin engine, and returns the API
// server, the metrics server, and a cleanup func. It reads configuration
// from environment variables via configs.Load.
func NewApp(ctx context.Context, logger *zap.Logger) (*http.Server, *http.Server, func(), error) {
	// Load config
	cfg, err := configs.Load(logger)
	if err != nil {
		return nil, nil, nil, err
	}

	// Initialize postgres db, retrying while the database comes up.
	dbConfig := database.Config{
		PrimaryDSN:  cfg.PrimaryDbAddr,
		ReplicaDSNs: []string{cfg.ReadDbAddr},
		MaxConns:    cfg.MaxDbCons,
		MinConns:    cfg.MinDbCons,
	}
	var db *database.DB
	var disconnect func()
	err = backoff.Retry(func() error {
		var dbErr error
		db, disconnect, dbErr = database.New(ctx, logger, dbConfig)
		if dbErr != nil {
			logger.Warn("database not ready, retrying", zap.Error(dbErr))
		}
		return dbErr
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx))
	if err != nil {
		return nil, nil, nil, err
	}

	// Run migrations on primary
	if err = database.RunMigrations(logger, cfg.PrimaryDbAddr); err != nil {
		disconnect()
		return nil, nil, nil, err
	}

	// Redis backs deposit deduplication.
	var redisClient *redis.Client
	var redisCloser func()
	err = backoff.Retry(func() error {
		var redisErr error
		redisClient, redisCloser, redisErr = cache.New(ctx, cache.Config{Addr: cfg.RedisAddr})
		if redisErr != nil {
			logger.Warn("redis not ready, retrying", zap.Error(redisErr))
		}
		return redisErr
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx))
	if err != nil {
		disconnect()
		return nil, nil, nil, err
	}

	aesKey, err := utils.DecodeString(cfg.AesKey)
	if err != nil {
		disconnect()
		redisCloser()
		return nil, nil, nil, fmt.Errorf("decoding AES_KEY: %w", err)
	}
	tolerance, err := decimal.NewFromString(cfg.DepositTolerancePct)
	if err != nil {
		disconnect()
		redisCloser()
		return nil, nil, nil, fmt.Errorf("parsing DEPOSIT_TOLERANCE_PCT: %w", err)
	}
	platformFee, err := decimal.NewFromString(cfg.PlatformFeePct)
	if err != nil {
		disconnect()
		redisCloser()
		return nil, nil, nil, fmt.Errorf("parsing PLATFORM_FEE_PCT: %w", err)
	}
	networkFees, err := parseNetworkFees(cfg.NetworkFees)
	if err != nil {
		disconnect()
		redisCloser()
		return nil, nil, nil, err
	}

	// Core services
	rateCache := rates.NewCache(logger)
	lockManager := rates.NewLockManager(rateCache)
	store := ledger.NewPostgres(db, logger, aesKey)
	orderService := order.NewService(logger, order.Config{
		LockWindow:          cfg.RateLockWindow,
		AbandonAfter:        cfg.AbandonAfter,
		DepositTolerancePct: tolerance,
		PlatformFeePct:      platformFee,
		NetworkFees:         networkFees,
	}, store, rateCache, lockManager)

	// Re-arm abandonment timers for orders that were awaiting a deposit
	// when the previous process stopped.
	if err = orderService.RearmAbandonSweep(ctx); err != nil {
		disconnect()
		redisCloser()
		return nil, nil, nil, err
	}

	reconciler := reconcile.New(logger, reconcile.Config{
		FreshnessWindow: cfg.DepositFreshness,
	}, orderService, store, reconcile.NewRedisDedup(redisClient, dedupTTL))

	// Realtime rate hub
	rateHub := hub.New(logger, rateCache)
	go rateHub.Run(ctx)

	// Kafka feeds. Topics are provisioned up front so a fresh cluster does
	// not reject the consumers.
	err = kafkautils.InitKafkaTopics(logger, ctx, kafkautils.KafkaConfig{
		BootstrapServers: cfg.KafkaBrokers,
		Topics: []kafkautils.TopicConfig{
			{Topic: cfg.KafkaRateTopic, NumPartitions: 1, ReplicationFactor: 1},
			{Topic: cfg.KafkaDepositTopic, NumPartitions: cfg.KafkaPartitions, ReplicationFactor: 1},
			{Topic: cfg.KafkaDepositDLQTopic, NumPartitions: 1, ReplicationFactor: 1,
				Config: map[string]string{"retention.ms": strconv.FormatInt(cfg.KafkaDLQRetention.Milliseconds(), 10)}},
		},
	})
	if err != nil {
		disconnect()
		redisCloser()
		return nil, nil, nil, err
	}

	closeRateFeed := feed.NewRateConsumer(feed.RateConsumerConfig{
		Context:       ctx,
		Logger:        logger,
		Brokers:       cfg.KafkaBrokers,
		Topic:         cfg.KafkaRateTopic,
		ConsumerGroup: cfg.KafkaRateConsumerGroup,
		Cache:         rateCache,
	}).Start()
	closeDepositFeed := feed.NewDepositConsumer(feed.DepositConsumerConfig{
		Context:       ctx,
		Logger:        logger,
		Brokers:       cfg.KafkaBrokers,
		Topic:         cfg.KafkaDepositTopic,
		DLQTopic:      cfg.KafkaDepositDLQTopic,
		ConsumerGroup: cfg.KafkaDepositConsumerGroup,
		MaxConcurrent: cfg.MaxDepositConcurrentJobs,
		Reconciler:    reconciler,
	}).Start()

	// Handlers
	createLimiter := pkg.NewDistributedLimiter(redisClient, "exchange:orders:create_rate",
		cfg.OrderRateLimit, cfg.OrderRateBurst, time.Minute, logger)
	baseHandler := handlers.NewBaseHandler(logger)
	orderHandler := handlers.NewOrderHandler(logger, orderService, createLimiter)
	rateHandler := handlers.NewRateHandler(logger, rateCache)

	// Router
	r := gin.Default()

	api := r.Group("/api/v1")
	api.Use(middleware.TraceID())
	api.Use(middleware.Metrics())

	orderHandler.RegisterRoutes(api)
	rateHandler.RegisterRoutes(api)
	baseHandler.RegisterRoutes(r)
	r.GET("/ws", rateHub.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%s", cfg.Port), Handler: r}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	cleanup := func() {
		closeRateFeed()
		closeDepositFeed()
		orderService.Close()
		redisCloser()
		disconnect()
	}

	return srv, metricsSrv, cleanup, nil
}

// parseNetworkFees parses "currency:fee" pairs separated by commas.
func parseNetworkFees(raw string) (map[string]decimal.Decimal, error) {
	fees := make(map[string]decimal.Decimal)
	if strings.TrimSpace(raw) == "" {
		return fees, nil
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed NETWORK_FEES entry %q", entry)
		}
		fee, err := decimal.NewFromString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("malformed NETWORK_FEES fee %q: %w", parts[1], err)
		}
		fees[parts[0]] = fee
	}
	return fees, nil
}
