package models

import "time"

// Event types published for every committed shipment mutation.
const (
	EventShipmentCreated       = "SHIPMENT_CREATED"
	EventShipmentStatusUpdated = "SHIPMENT_STATUS_UPDATED"
	EventShipmentDeleted       = "SHIPMENT_DELETED"
	EventShipmentOverdue       = "SHIPMENT_OVERDUE"
)

// ShipmentEvent is one entry of a shipment's history.
type ShipmentEvent struct {
	ID             uint64    `json:"id"`
	EventID        string    `json:"eventId"`
	ShipmentID     uint64    `json:"shipmentId"`
	TrackingNumber string    `json:"trackingNumber"`
	EventType      string    `json:"eventType"`
	Status         Status    `json:"status"`
	PreviousStatus *Status   `json:"previousStatus,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
	RecordedAt     time.Time `json:"recordedAt"`
}
