package pgshipment

import (
	"context"

	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/pkg/errors"
)

// AppendShipmentEvent stores e once per EventID. It reports false for a redelivered event.
func (s *Storage) AppendShipmentEvent(ctx context.Context, e *models.ShipmentEvent) (bool, error) {
	tag, err := s.db.Exec(ctx, `
INSERT INTO shipment_events (
  event_id, shipment_id, tracking_number, event_type,
  status, previous_status, occurred_at, recorded_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7, now())
ON CONFLICT (event_id) DO NOTHING
`, e.EventID, e.ShipmentID, e.TrackingNumber, e.EventType,
		string(e.Status), statusPtr(e.PreviousStatus), e.OccurredAt.UTC())
	if err != nil {
		return false, errors.Wrap(err, "insert shipment event")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Storage) ListShipmentEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.ShipmentEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT
  id, event_id, shipment_id, tracking_number, event_type,
  status, previous_status, occurred_at, recorded_at
FROM shipment_events
WHERE shipment_id = $1
ORDER BY occurred_at DESC, id DESC
LIMIT $2 OFFSET $3
`, shipmentID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	out := make([]*models.ShipmentEvent, 0)
	for rows.Next() {
		var e models.ShipmentEvent
		var status string
		var prev *string
		if err := rows.Scan(
			&e.ID, &e.EventID, &e.ShipmentID, &e.TrackingNumber, &e.EventType,
			&status, &prev, &e.OccurredAt, &e.RecordedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		e.Status = models.Status(status)
		if prev != nil {
			p := models.Status(*prev)
			e.PreviousStatus = &p
		}
		e.OccurredAt = e.OccurredAt.UTC()
		e.RecordedAt = e.RecordedAt.UTC()
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
