package shipments

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/ShipTrack/internal/broker/messages"
	"github.com/BearBump/ShipTrack/internal/cache"
	"github.com/BearBump/ShipTrack/internal/metrics"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateShipment(ctx context.Context, sh *models.Shipment) (*models.Shipment, error)
	GetShipmentByID(ctx context.Context, id uint64) (*models.Shipment, error)
	GetShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Shipment, error)
	ListShipments(ctx context.Context, req models.PageRequest) ([]*models.Shipment, int64, error)
	ListShipmentsByStatus(ctx context.Context, status models.Status) ([]*models.Shipment, error)
	ListOverdueShipments(ctx context.Context, now time.Time) ([]*models.Shipment, error)
	UpdateShipment(ctx context.Context, id uint64, mutate func(*models.Shipment) error) (*models.Shipment, error)
	DeleteShipment(ctx context.Context, id uint64, guard func(*models.Shipment) error) (*models.Shipment, error)
	ClaimOverdueShipments(ctx context.Context, now time.Time, limit int) ([]*models.Shipment, error)
	AppendShipmentEvent(ctx context.Context, e *models.ShipmentEvent) (bool, error)
	ListShipmentEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.ShipmentEvent, error)
}

type EventPublisher interface {
	PublishShipmentEvent(ctx context.Context, ev messages.ShipmentEvent) error
}

type Service struct {
	repo     Repository
	cache    cache.BytesCache
	trackTTL time.Duration

	// nil: events go straight into the local history
	publisher EventPublisher
	metrics   *metrics.Metrics
	log       *slog.Logger

	now               func() time.Time
	newTrackingNumber func() string
}

func New(repo Repository, c cache.BytesCache, trackTTL time.Duration) *Service {
	return &Service{
		repo:              repo,
		cache:             c,
		trackTTL:          trackTTL,
		log:               slog.Default().With("component", "shipments"),
		now:               time.Now,
		newTrackingNumber: NewTrackingNumber,
	}
}

func (s *Service) WithPublisher(p EventPublisher) *Service {
	s.publisher = p
	return s
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) WithLogger(l *slog.Logger) *Service {
	if l != nil {
		s.log = l
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Now is the service clock, used by callers that derive read-time fields such as overdue.
func (s *Service) Now() time.Time {
	return s.now()
}

func (s *Service) Create(ctx context.Context, in models.ShipmentCreateInput) (*models.Shipment, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxTrackingNumberAttempts; attempt++ {
		sh := models.NewShipment(in, s.newTrackingNumber(), s.now())
		created, err := s.repo.CreateShipment(ctx, sh)
		if errors.Is(err, models.ErrTrackingNumberTaken) {
			s.log.Warn("tracking number collision", "tracking_number", sh.TrackingNumber, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}

		s.metrics.RecordCreated()
		s.emit(ctx, newEvent(models.EventShipmentCreated, created, nil, created.CreatedAt))
		return created, nil
	}
	return nil, errors.Errorf("no free tracking number after %d attempts", maxTrackingNumberAttempts)
}

func (s *Service) GetByID(ctx context.Context, id uint64) (*models.Shipment, error) {
	return s.repo.GetShipmentByID(ctx, id)
}

// Track looks a shipment up by tracking number, serving from the cache when it can.
// Cache failures only cost a database read.
func (s *Service) Track(ctx context.Context, trackingNumber string) (*models.Shipment, error) {
	if trackingNumber == "" {
		return nil, models.NewValidationError("trackingNumber", "is required")
	}
	key := trackKey(trackingNumber)

	if s.cacheEnabled() {
		b, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.log.Warn("tracking cache get failed", "err", err)
		}
		if err == nil && ok {
			var sh models.Shipment
			if json.Unmarshal(b, &sh) == nil {
				s.metrics.RecordCacheLookup(true)
				return &sh, nil
			}
		}
		s.metrics.RecordCacheLookup(false)
	}

	sh, err := s.repo.GetShipmentByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}

	if s.cacheEnabled() {
		b, _ := json.Marshal(sh)
		if err := s.cache.Set(ctx, key, b, s.trackTTL); err != nil {
			s.log.Warn("tracking cache set failed", "err", err)
		} else {
			s.dropIfStale(ctx, key, sh)
		}
	}
	return sh, nil
}

// dropIfStale re-reads the shipment after a cache fill. An update or delete that committed between
// the read and the Set has already run its invalidation, so the snapshot just written must go.
func (s *Service) dropIfStale(ctx context.Context, key string, cached *models.Shipment) {
	cur, err := s.repo.GetShipmentByTrackingNumber(ctx, cached.TrackingNumber)
	if err == nil && cur.UpdatedAt.Equal(cached.UpdatedAt) {
		return
	}
	if err := s.cache.Del(ctx, key); err != nil {
		s.log.Warn("tracking cache invalidate failed", "tracking_number", cached.TrackingNumber, "err", err)
	}
}

func (s *Service) List(ctx context.Context, req models.PageRequest) (models.Page[*models.Shipment], error) {
	if err := req.Validate(); err != nil {
		return models.Page[*models.Shipment]{}, err
	}
	items, total, err := s.repo.ListShipments(ctx, req)
	if err != nil {
		return models.Page[*models.Shipment]{}, err
	}
	return models.NewPage(items, req, total), nil
}

func (s *Service) ListByStatus(ctx context.Context, status models.Status) ([]*models.Shipment, error) {
	if !status.Valid() {
		return nil, models.NewValidationError("status", "unknown status "+string(status))
	}
	return s.repo.ListShipmentsByStatus(ctx, status)
}

func (s *Service) ListOverdue(ctx context.Context) ([]*models.Shipment, error) {
	return s.repo.ListOverdueShipments(ctx, s.now())
}

// UpdateStatus validates the transition against the committed state inside the repository's
// atomic section, so of two racing conflicting updates only one can win.
func (s *Service) UpdateStatus(ctx context.Context, id uint64, next models.Status) (*models.Shipment, error) {
	var prev models.Status
	updated, err := s.repo.UpdateShipment(ctx, id, func(sh *models.Shipment) error {
		prev = sh.Status
		return sh.Transition(next, s.now())
	})
	if err != nil {
		var te *models.TransitionError
		if errors.As(err, &te) {
			s.metrics.RecordTransition(string(te.From), string(te.To), false)
		}
		return nil, err
	}

	s.metrics.RecordTransition(string(prev), string(updated.Status), true)
	s.invalidate(ctx, updated.TrackingNumber)
	s.emit(ctx, newEvent(models.EventShipmentStatusUpdated, updated, &prev, updated.UpdatedAt))
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id uint64) error {
	deleted, err := s.repo.DeleteShipment(ctx, id, func(sh *models.Shipment) error {
		return sh.CheckDeletable()
	})
	if err != nil {
		return err
	}

	s.metrics.RecordDeleted()
	s.invalidate(ctx, deleted.TrackingNumber)
	ev := newEvent(models.EventShipmentDeleted, deleted, nil, s.now())
	ev.Shipment = nil
	s.emit(ctx, ev)
	return nil
}

// ListEvents returns the history of an existing shipment, newest first.
func (s *Service) ListEvents(ctx context.Context, id uint64, limit, offset int) ([]*models.ShipmentEvent, error) {
	if _, err := s.repo.GetShipmentByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListShipmentEvents(ctx, id, limit, offset)
}

// ApplyEvent records a consumed event in the history. Redelivered events are ignored.
func (s *Service) ApplyEvent(ctx context.Context, ev messages.ShipmentEvent) error {
	if err := ev.Validate(); err != nil {
		s.metrics.RecordConsume(ev.EventType, err)
		return err
	}
	inserted, err := s.repo.AppendShipmentEvent(ctx, ev.HistoryEntry())
	s.metrics.RecordConsume(ev.EventType, err)
	if err != nil {
		return err
	}
	if !inserted {
		s.log.Debug("duplicate shipment event", "event_id", ev.EventID)
	}
	return nil
}

// NotifyOverdue claims up to limit shipments that became overdue since the last run and emits one
// SHIPMENT_OVERDUE event for each. Returns the number of notices emitted.
func (s *Service) NotifyOverdue(ctx context.Context, limit int) (int, error) {
	now := s.now()
	claimed, err := s.repo.ClaimOverdueShipments(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	for _, sh := range claimed {
		s.emit(ctx, newEvent(models.EventShipmentOverdue, sh, nil, now))
	}
	return len(claimed), nil
}

func (s *Service) emit(ctx context.Context, ev messages.ShipmentEvent) {
	if s.publisher == nil {
		if err := s.ApplyEvent(ctx, ev); err != nil {
			s.log.Error("record shipment event", "event_type", ev.EventType, "shipment_id", ev.ShipmentID, "err", err)
		}
		return
	}

	err := s.publisher.PublishShipmentEvent(ctx, ev)
	s.metrics.RecordPublish(ev.EventType, err)
	if err != nil {
		// the mutation is committed; a lost event only leaves a gap in the history
		s.log.Error("publish shipment event", "event_type", ev.EventType, "shipment_id", ev.ShipmentID, "err", err)
	}
}

func (s *Service) invalidate(ctx context.Context, trackingNumber string) {
	if !s.cacheEnabled() {
		return
	}
	if err := s.cache.Del(ctx, trackKey(trackingNumber)); err != nil {
		s.log.Warn("tracking cache invalidate failed", "tracking_number", trackingNumber, "err", err)
	}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.trackTTL > 0
}

func newEvent(eventType string, sh *models.Shipment, prev *models.Status, at time.Time) messages.ShipmentEvent {
	return messages.ShipmentEvent{
		EventID:        uuid.NewString(),
		EventType:      eventType,
		ShipmentID:     sh.ID,
		TrackingNumber: sh.TrackingNumber,
		Status:         sh.Status,
		PreviousStatus: prev,
		OccurredAt:     at.UTC().Truncate(models.TimePrecision),
		Shipment:       sh.Clone(),
	}
}

func trackKey(trackingNumber string) string {
	return "shipment:track:" + trackingNumber
}
