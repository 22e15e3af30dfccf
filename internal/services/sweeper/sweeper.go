package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ShipTrack/internal/metrics"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

const (
	// DefaultSchedule runs the sweep at the start of every minute (cron with seconds field).
	DefaultSchedule  = "0 * * * * *"
	DefaultBatchSize = 100
	// upper bound of batches drained in one run
	DefaultMaxBatches = 50
)

// Notifier claims newly overdue shipments and emits their notices.
type Notifier interface {
	NotifyOverdue(ctx context.Context, limit int) (int, error)
}

// Sweeper periodically announces shipments whose estimated delivery has passed.
type Sweeper struct {
	notifier Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger

	schedule   string
	batchSize  int
	maxBatches int

	triggerCh chan struct{}
	runMu     sync.Mutex

	startedAtUnixNano   int64
	lastRunUnixNano     atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalRuns           atomic.Int64
	totalNotified       atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(notifier Notifier, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		notifier:          notifier,
		log:               logger.With("component", "overdue_sweeper"),
		schedule:          DefaultSchedule,
		batchSize:         DefaultBatchSize,
		maxBatches:        DefaultMaxBatches,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Sweeper) WithSettings(schedule string, batchSize, maxBatches int) *Sweeper {
	if schedule != "" {
		s.schedule = schedule
	}
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	if maxBatches > 0 {
		s.maxBatches = maxBatches
	}
	return s
}

func (s *Sweeper) WithMetrics(m *metrics.Metrics) *Sweeper {
	s.metrics = m
	return s
}

// ValidateSchedule checks a cron expression in the format the sweeper uses.
func ValidateSchedule(schedule string) error {
	_, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).
		Parse(schedule)
	if err != nil {
		return errors.Wrapf(err, "invalid sweep schedule %q", schedule)
	}
	return nil
}

// Trigger requests an immediate sweep (best-effort, non-blocking).
func (s *Sweeper) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	Schedule      string     `json:"schedule"`
	BatchSize     int        `json:"batchSize"`
	StartedAt     time.Time  `json:"startedAt"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalRuns     int64      `json:"totalRuns"`
	TotalNotified int64      `json:"totalNotified"`
	TotalErrors   int64      `json:"totalErrors"`
	LastError     string     `json:"lastError,omitempty"`
}

func (s *Sweeper) Stats() Stats {
	st := Stats{
		Schedule:      s.schedule,
		BatchSize:     s.batchSize,
		StartedAt:     time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalRuns:     s.totalRuns.Load(),
		TotalNotified: s.totalNotified.Load(),
		TotalErrors:   s.totalErrors.Load(),
	}
	if n := s.lastRunUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastRunAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

// Run schedules the sweep with cron and serves triggers until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if err := ValidateSchedule(s.schedule); err != nil {
		return err
	}

	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return errors.Wrap(err, "schedule sweep")
	}
	c.Start()
	s.log.Info("overdue sweeper started", "schedule", s.schedule, "batch_size", s.batchSize)
	defer func() {
		<-c.Stop().Done()
		s.log.Info("overdue sweeper stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.triggerCh:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce drains overdue shipments batch by batch. A run that overlaps a running one is skipped.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	if !s.runMu.TryLock() {
		s.log.Debug("sweep already running, skipped")
		return 0
	}
	defer s.runMu.Unlock()

	s.lastRunUnixNano.Store(time.Now().UTC().UnixNano())
	s.totalRuns.Add(1)

	total := 0
	var runErr error
	for i := 0; i < s.maxBatches; i++ {
		n, err := s.notifier.NotifyOverdue(ctx, s.batchSize)
		total += n
		if err != nil {
			runErr = err
			break
		}
		if n < s.batchSize {
			break
		}
	}

	s.totalNotified.Add(int64(total))
	s.metrics.RecordSweep(total, runErr)
	if runErr != nil {
		s.totalErrors.Add(1)
		s.lastErrorMu.Lock()
		s.lastError = runErr.Error()
		s.lastErrorMu.Unlock()
		s.log.Error("overdue sweep failed", "notified", total, "error", runErr.Error())
		return total
	}
	if total > 0 {
		s.log.Info("overdue sweep done", "notified", total)
	}
	return total
}
