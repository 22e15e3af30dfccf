package pgshipment

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		// Registry of every tracking number ever issued. Rows are never deleted, so a number
		// cannot come back after its shipment is removed.
		`
CREATE TABLE IF NOT EXISTS tracking_numbers (
  tracking_number TEXT PRIMARY KEY,
  issued_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS shipments (
  id BIGSERIAL PRIMARY KEY,
  tracking_number TEXT NOT NULL UNIQUE REFERENCES tracking_numbers(tracking_number),
  origin TEXT NOT NULL,
  destination TEXT NOT NULL,
  description TEXT NULL,
  status TEXT NOT NULL,
  delayed_from TEXT NULL,
  estimated_delivery TIMESTAMPTZ NULL,
  overdue_notified_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  CHECK (updated_at >= created_at)
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_status ON shipments(status)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_updated_at ON shipments(updated_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_estimated_delivery ON shipments(estimated_delivery)`,
		`
CREATE TABLE IF NOT EXISTS shipment_events (
  id BIGSERIAL PRIMARY KEY,
  event_id TEXT NOT NULL,
  shipment_id BIGINT NOT NULL,
  tracking_number TEXT NOT NULL,
  event_type TEXT NOT NULL,
  status TEXT NOT NULL,
  previous_status TEXT NULL,
  occurred_at TIMESTAMPTZ NOT NULL,
  recorded_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_shipment_events_event_id ON shipment_events(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_shipment_events_shipment_id_occurred_at ON shipment_events(shipment_id, occurred_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
