package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/ShipTrack/config"
	shipmentsapi "github.com/BearBump/ShipTrack/internal/api/shipments_api"
	"github.com/BearBump/ShipTrack/internal/auth"
	"github.com/BearBump/ShipTrack/internal/broker/kafka"
	"github.com/BearBump/ShipTrack/internal/cache"
	"github.com/BearBump/ShipTrack/internal/cache/rediscache"
	"github.com/BearBump/ShipTrack/internal/metrics"
	"github.com/BearBump/ShipTrack/internal/services/shipments"
	"github.com/BearBump/ShipTrack/internal/storage/memshipment"
	"github.com/BearBump/ShipTrack/internal/storage/pgshipment"
)

type shipmentStore interface {
	shipments.Repository
	Ping(ctx context.Context) error
	Close()
}

type shiptrackAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    shiptrackAPIOpts
	svc     *shipments.Service
	api     *shipmentsapi.ShipmentsAPI
	metrics *metrics.Metrics

	// nil without kafka
	consumer *kafka.Consumer
	closers  []func()
}

func mustBootstrapShiptrackAPI() *shiptrackAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	logger := newLogger(cfg.ShipTrack.LogLevel)
	slog.SetDefault(logger)

	app := &shiptrackAPIApp{}
	m := metrics.New("shiptrack-api")
	app.metrics = m

	st := mustOpenStore(cfg, 60*time.Second)
	app.closers = append(app.closers, st.Close)
	pingers := []func(ctx context.Context) error{st.Ping}

	var trackCache cache.BytesCache
	var limiter shipmentsapi.RateLimiter
	if addr := cfg.RedisAddr(); addr != "" {
		rc := rediscache.New(addr)
		rl := rediscache.NewRateLimiter(addr)
		app.closers = append(app.closers, func() { _ = rc.Close() }, func() { _ = rl.Close() })
		pingers = append(pingers, rc.Ping)
		trackCache, limiter = rc, rl
	} else {
		logger.Warn("redis is not configured, tracking cache and rate limit are off")
	}

	svc := shipments.New(st, trackCache, cfg.ShipTrack.TrackCacheTTL()).
		WithMetrics(m).
		WithLogger(logger.With("component", "shipments"))

	topic := cfg.Kafka.ShipmentEventsTopicName
	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		producer := kafka.NewProducer(brokers)
		app.closers = append(app.closers, func() { _ = producer.Close() })
		svc.WithPublisher(kafka.NewShipmentEventPublisher(producer, topic))

		app.consumer = kafka.NewConsumer(brokers, topic, cfg.ShipTrack.KafkaConsumerGroup)
	} else {
		logger.Warn("kafka is not configured, shipment events are recorded locally")
	}

	users := make([]auth.User, 0, len(cfg.ShipTrack.Users))
	for _, u := range cfg.ShipTrack.Users {
		users = append(users, auth.User{Username: u.Username, PasswordHash: u.PasswordHash})
	}
	authenticator, err := auth.New(cfg.ShipTrack.JWTSecret, cfg.ShipTrack.TokenTTL(), users)
	if err != nil {
		panic(fmt.Sprintf("failed to init auth: %v", err))
	}

	limit := int64(cfg.ShipTrack.TrackRateLimitPerMinute)
	if limit == 0 {
		limit = shipmentsapi.DefaultTrackLimit
	}
	api := shipmentsapi.New(svc, authenticator, limiter).
		WithMetrics(m).
		WithLogger(logger.With("component", "http")).
		WithTrackLimit(limit, time.Minute)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	app.ctx = ctx
	app.cancel = cancel
	app.svc = svc
	app.api = api
	app.opts = shiptrackAPIOpts{
		httpAddr:      cfg.ShipTrack.HTTPAddr,
		swaggerPath:   swaggerPath,
		topic:         topic,
		consumerGroup: cfg.ShipTrack.KafkaConsumerGroup,
		ready: func(ctx context.Context) error {
			for _, ping := range pingers {
				if err := ping(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return app
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func mustOpenStore(cfg *config.Config, wait time.Duration) shipmentStore {
	switch cfg.ShipTrack.StorageDriver {
	case config.StorageDriverMemory:
		slog.Warn("using in-memory storage, data is lost on restart")
		return memshipment.New()
	case config.StorageDriverPostgres:
		return mustOpenPostgresWithRetry(cfg.PostgresConnString(), wait)
	default:
		panic(fmt.Sprintf("unknown storage driver %q", cfg.ShipTrack.StorageDriver))
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgshipment.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		st, err := pgshipment.New(ctx, connString)
		cancel()
		if err == nil {
			return st
		}
		lastErr = err
		slog.Info("waiting for postgres", "error", err)
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *shiptrackAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *shiptrackAPIApp) Run() error {
	var consumer kafkaConsumer
	if a.consumer != nil {
		consumer = a.consumer
	}
	return runShiptrackAPI(a.ctx, a.opts, a.api, a.metrics, a.svc, consumer)
}
