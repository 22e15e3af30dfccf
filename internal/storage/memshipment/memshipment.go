// Package memshipment keeps shipments in process memory. It backs local runs without PostgreSQL
// and the service tests.
package memshipment

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/BearBump/ShipTrack/internal/models"
)

type Storage struct {
	mu sync.RWMutex

	nextID      uint64
	nextEventID uint64

	byID       map[uint64]*models.Shipment
	byTracking map[string]uint64
	// every tracking number ever issued, deleted shipments included
	issued map[string]struct{}

	events     map[uint64][]*models.ShipmentEvent
	seenEvents map[string]struct{}

	now func() time.Time
}

func New() *Storage {
	return &Storage{
		byID:       make(map[uint64]*models.Shipment),
		byTracking: make(map[string]uint64),
		issued:     make(map[string]struct{}),
		events:     make(map[uint64][]*models.ShipmentEvent),
		seenEvents: make(map[string]struct{}),
		now:        time.Now,
	}
}

func (s *Storage) Close() {}

func (s *Storage) Ping(ctx context.Context) error { return nil }

func (s *Storage) CreateShipment(ctx context.Context, sh *models.Shipment) (*models.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.issued[sh.TrackingNumber]; taken {
		return nil, models.ErrTrackingNumberTaken
	}

	s.nextID++
	c := sh.Clone()
	c.ID = s.nextID
	s.byID[c.ID] = c
	s.byTracking[c.TrackingNumber] = c.ID
	s.issued[c.TrackingNumber] = struct{}{}
	return c.Clone(), nil
}

func (s *Storage) GetShipmentByID(ctx context.Context, id uint64) (*models.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sh, ok := s.byID[id]
	if !ok {
		return nil, models.NewNotFoundError("shipment", strconv.FormatUint(id, 10))
	}
	return sh.Clone(), nil
}

func (s *Storage) GetShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byTracking[trackingNumber]
	if !ok {
		return nil, models.NewNotFoundError("shipment", trackingNumber)
	}
	return s.byID[id].Clone(), nil
}

func (s *Storage) ListShipments(ctx context.Context, req models.PageRequest) ([]*models.Shipment, int64, error) {
	s.mu.RLock()
	all := make([]*models.Shipment, 0, len(s.byID))
	for _, sh := range s.byID {
		all = append(all, sh.Clone())
	}
	s.mu.RUnlock()

	sortShipments(all, req.Sort)

	total := int64(len(all))
	from := req.Offset()
	if from < 0 || from >= len(all) {
		return []*models.Shipment{}, total, nil
	}
	to := from + req.Size
	if to < from || to > len(all) {
		to = len(all)
	}
	return all[from:to], total, nil
}

func (s *Storage) ListShipmentsByStatus(ctx context.Context, status models.Status) ([]*models.Shipment, error) {
	return s.filter(func(sh *models.Shipment) bool { return sh.Status == status }, models.DefaultSort()), nil
}

func (s *Storage) ListOverdueShipments(ctx context.Context, now time.Time) ([]*models.Shipment, error) {
	return s.filter(func(sh *models.Shipment) bool { return sh.IsOverdue(now) },
		models.Sort{Field: models.SortByEstimatedDelivery}), nil
}

// UpdateShipment applies mutate to a copy under the store lock and commits it only on success.
func (s *Storage) UpdateShipment(ctx context.Context, id uint64, mutate func(*models.Shipment) error) (*models.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[id]
	if !ok {
		return nil, models.NewNotFoundError("shipment", strconv.FormatUint(id, 10))
	}
	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	s.byID[id] = next
	return next.Clone(), nil
}

func (s *Storage) DeleteShipment(ctx context.Context, id uint64, guard func(*models.Shipment) error) (*models.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[id]
	if !ok {
		return nil, models.NewNotFoundError("shipment", strconv.FormatUint(id, 10))
	}
	if guard != nil {
		if err := guard(cur.Clone()); err != nil {
			return nil, err
		}
	}
	delete(s.byID, id)
	delete(s.byTracking, cur.TrackingNumber)
	return cur.Clone(), nil
}

// ClaimOverdueShipments returns overdue shipments without an overdue notice and marks them.
func (s *Storage) ClaimOverdueShipments(ctx context.Context, now time.Time, limit int) ([]*models.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.Shipment
	for _, sh := range s.byID {
		if sh.OverdueNotifiedAt == nil && sh.IsOverdue(now) {
			due = append(due, sh)
		}
	}
	sortShipments(due, models.Sort{Field: models.SortByEstimatedDelivery})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	marked := now.UTC().Truncate(models.TimePrecision)
	out := make([]*models.Shipment, 0, len(due))
	for _, sh := range due {
		t := marked
		sh.OverdueNotifiedAt = &t
		out = append(out, sh.Clone())
	}
	return out, nil
}

// AppendShipmentEvent records e unless an event with the same EventID was already stored.
func (s *Storage) AppendShipmentEvent(ctx context.Context, e *models.ShipmentEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seenEvents[e.EventID]; dup {
		return false, nil
	}
	s.seenEvents[e.EventID] = struct{}{}

	s.nextEventID++
	c := *e
	c.ID = s.nextEventID
	c.RecordedAt = s.now().UTC().Truncate(models.TimePrecision)
	s.events[e.ShipmentID] = append(s.events[e.ShipmentID], &c)
	return true, nil
}

// ListShipmentEvents returns history newest first.
func (s *Storage) ListShipmentEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.ShipmentEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	evs := make([]*models.ShipmentEvent, 0, len(s.events[shipmentID]))
	for _, e := range s.events[shipmentID] {
		c := *e
		evs = append(evs, &c)
	}
	s.mu.RUnlock()

	sort.SliceStable(evs, func(i, j int) bool {
		if !evs[i].OccurredAt.Equal(evs[j].OccurredAt) {
			return evs[i].OccurredAt.After(evs[j].OccurredAt)
		}
		return evs[i].ID > evs[j].ID
	})
	if offset >= len(evs) {
		return []*models.ShipmentEvent{}, nil
	}
	evs = evs[offset:]
	if len(evs) > limit {
		evs = evs[:limit]
	}
	return evs, nil
}

func (s *Storage) filter(keep func(*models.Shipment) bool, order models.Sort) []*models.Shipment {
	s.mu.RLock()
	out := make([]*models.Shipment, 0)
	for _, sh := range s.byID {
		if keep(sh) {
			out = append(out, sh.Clone())
		}
	}
	s.mu.RUnlock()

	sortShipments(out, order)
	return out
}

func sortShipments(items []*models.Shipment, order models.Sort) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		c := compare(a, b, order.Field)
		if c == 0 {
			// ties: id in the same direction as the main key
			c = cmpUint(a.ID, b.ID)
		}
		if order.Desc {
			return c > 0
		}
		return c < 0
	})
}

func compare(a, b *models.Shipment, f models.SortField) int {
	switch f {
	case models.SortByCreatedAt:
		return a.CreatedAt.Compare(b.CreatedAt)
	case models.SortByEstimatedDelivery:
		return cmpTimePtr(a.EstimatedDelivery, b.EstimatedDelivery)
	case models.SortByStatus:
		switch {
		case a.Status < b.Status:
			return -1
		case a.Status > b.Status:
			return 1
		}
		return 0
	case models.SortByID:
		return cmpUint(a.ID, b.ID)
	default:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	}
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// nil sorts last, as NULLS LAST in PostgreSQL ascending order
func cmpTimePtr(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}
