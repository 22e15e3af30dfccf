package messages

import (
	"time"

	"github.com/BearBump/ShipTrack/internal/models"
)

// ShipmentEvent is the payload written to the shipment events topic.
type ShipmentEvent struct {
	EventID        string         `json:"event_id"`
	EventType      string         `json:"event_type"`
	ShipmentID     uint64         `json:"shipment_id"`
	TrackingNumber string         `json:"tracking_number"`
	Status         models.Status  `json:"status"`
	PreviousStatus *models.Status `json:"previous_status,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`

	Shipment *models.Shipment `json:"shipment,omitempty"`
}

// HistoryEntry converts the message into a history record.
func (e ShipmentEvent) HistoryEntry() *models.ShipmentEvent {
	var prev *models.Status
	if e.PreviousStatus != nil {
		p := *e.PreviousStatus
		prev = &p
	}
	return &models.ShipmentEvent{
		EventID:        e.EventID,
		ShipmentID:     e.ShipmentID,
		TrackingNumber: e.TrackingNumber,
		EventType:      e.EventType,
		Status:         e.Status,
		PreviousStatus: prev,
		OccurredAt:     e.OccurredAt.UTC(),
	}
}

func (e ShipmentEvent) Validate() error {
	switch {
	case e.EventID == "":
		return models.NewValidationError("event_id", "is required")
	case e.ShipmentID == 0:
		return models.NewValidationError("shipment_id", "is required")
	case !e.Status.Valid():
		return models.NewValidationError("status", "unknown status "+string(e.Status))
	}
	return nil
}
