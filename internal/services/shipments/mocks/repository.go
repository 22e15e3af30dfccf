package mocks

import (
	"context"
	"time"

	"github.com/BearBump/ShipTrack/internal/broker/messages"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockRepository is a testify mock of shipments.Repository. UpdateShipment and DeleteShipment run
// the callback against the shipment passed as the second return value of the expectation.
type MockRepository struct {
	mock.Mock
}

func shipment(v any) *models.Shipment {
	if v == nil {
		return nil
	}
	return v.(*models.Shipment)
}

func shipmentList(v any) []*models.Shipment {
	if v == nil {
		return nil
	}
	return v.([]*models.Shipment)
}

func (m *MockRepository) CreateShipment(ctx context.Context, sh *models.Shipment) (*models.Shipment, error) {
	args := m.Called(ctx, sh)
	return shipment(args.Get(0)), args.Error(1)
}

func (m *MockRepository) GetShipmentByID(ctx context.Context, id uint64) (*models.Shipment, error) {
	args := m.Called(ctx, id)
	return shipment(args.Get(0)), args.Error(1)
}

func (m *MockRepository) GetShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Shipment, error) {
	args := m.Called(ctx, trackingNumber)
	return shipment(args.Get(0)), args.Error(1)
}

func (m *MockRepository) ListShipments(ctx context.Context, req models.PageRequest) ([]*models.Shipment, int64, error) {
	args := m.Called(ctx, req)
	return shipmentList(args.Get(0)), args.Get(1).(int64), args.Error(2)
}

func (m *MockRepository) ListShipmentsByStatus(ctx context.Context, status models.Status) ([]*models.Shipment, error) {
	args := m.Called(ctx, status)
	return shipmentList(args.Get(0)), args.Error(1)
}

func (m *MockRepository) ListOverdueShipments(ctx context.Context, now time.Time) ([]*models.Shipment, error) {
	args := m.Called(ctx, now)
	return shipmentList(args.Get(0)), args.Error(1)
}

func (m *MockRepository) UpdateShipment(ctx context.Context, id uint64, mutate func(*models.Shipment) error) (*models.Shipment, error) {
	args := m.Called(ctx, id)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	sh := shipment(args.Get(0)).Clone()
	if err := mutate(sh); err != nil {
		return nil, err
	}
	return sh, nil
}

func (m *MockRepository) DeleteShipment(ctx context.Context, id uint64, guard func(*models.Shipment) error) (*models.Shipment, error) {
	args := m.Called(ctx, id)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	sh := shipment(args.Get(0)).Clone()
	if guard != nil {
		if err := guard(sh); err != nil {
			return nil, err
		}
	}
	return sh, nil
}

func (m *MockRepository) ClaimOverdueShipments(ctx context.Context, now time.Time, limit int) ([]*models.Shipment, error) {
	args := m.Called(ctx, now, limit)
	return shipmentList(args.Get(0)), args.Error(1)
}

func (m *MockRepository) AppendShipmentEvent(ctx context.Context, e *models.ShipmentEvent) (bool, error) {
	args := m.Called(ctx, e)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) ListShipmentEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.ShipmentEvent, error) {
	args := m.Called(ctx, shipmentID, limit, offset)
	var out []*models.ShipmentEvent
	if v := args.Get(0); v != nil {
		out = v.([]*models.ShipmentEvent)
	}
	return out, args.Error(1)
}

// MockEventPublisher is a testify mock of shipments.EventPublisher.
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishShipmentEvent(ctx context.Context, ev messages.ShipmentEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}
