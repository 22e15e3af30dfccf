package main

import (
	"context"
	"log/slog"

	"github.com/BearBump/ShipTrack/config"
	"github.com/BearBump/ShipTrack/internal/broker/kafka"
	"github.com/BearBump/ShipTrack/internal/metrics"
	"github.com/BearBump/ShipTrack/internal/services/shipments"
	"github.com/BearBump/ShipTrack/internal/services/sweeper"
	"github.com/BearBump/ShipTrack/internal/storage/pgshipment"
	"github.com/pkg/errors"
)

// ErrMemoryStorage is returned for storage_driver: memory. The memory store lives inside the API
// process, so a standalone worker would sweep an empty copy.
var ErrMemoryStorage = errors.New("shiptrack-worker requires storage_driver postgres, the memory store is not shared between processes")

type workerFactories struct {
	newStorage func(cfg *config.Config) (repo shipments.Repository, closeFn func(), err error)
	// returns a nil publisher when kafka is not configured
	newPublisher func(cfg *config.Config) (pub shipments.EventPublisher, closeFn func())
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (shipments.Repository, func(), error) {
			st, err := pgshipment.New(context.Background(), cfg.PostgresConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newPublisher: func(cfg *config.Config) (shipments.EventPublisher, func()) {
			brokers := cfg.KafkaBrokers()
			if len(brokers) == 0 {
				return nil, func() {}
			}
			p := kafka.NewProducer(brokers)
			return kafka.NewShipmentEventPublisher(p, cfg.Kafka.ShipmentEventsTopicName), func() { _ = p.Close() }
		},
	}
}

// RunShiptrackWorker runs the overdue sweep and the worker HTTP surface until ctx is done.
func RunShiptrackWorker(ctx context.Context, cfg *config.Config, f workerFactories, httpOpts workerHTTPOpts) error {
	st := cfg.ShipTrack
	if st.StorageDriver == config.StorageDriverMemory {
		return ErrMemoryStorage
	}
	schedule := st.SweepSchedule
	if schedule == "" {
		schedule = sweeper.DefaultSchedule
	}
	if err := sweeper.ValidateSchedule(schedule); err != nil {
		return err
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	if closeFn != nil {
		defer closeFn()
	}

	m := httpOpts.metrics
	if m == nil {
		m = metrics.New("shiptrack-worker")
		httpOpts.metrics = m
	}
	svc := shipments.New(repo, nil, 0).
		WithMetrics(m).
		WithLogger(slog.Default().With("component", "shipments"))

	pub, closePub := f.newPublisher(cfg)
	if closePub != nil {
		defer closePub()
	}
	if pub != nil {
		svc.WithPublisher(pub)
	} else {
		slog.Warn("kafka is not configured, overdue notices are recorded locally only")
	}

	sw := sweeper.New(svc, slog.Default()).
		WithSettings(schedule, st.SweepBatchSize, st.SweepMaxBatches).
		WithMetrics(m)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpOpts.sweeper = sw
	httpOpts.cfg = cfg
	httpErr := make(chan error, 1)
	go func() { httpErr <- runWorkerHTTPServer(ctx, httpOpts) }()

	sweepErr := make(chan error, 1)
	go func() { sweepErr <- sw.Run(ctx) }()

	select {
	case err = <-sweepErr:
		cancel()
		<-httpErr
	case err = <-httpErr:
		cancel()
		<-sweepErr
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
