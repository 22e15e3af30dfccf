package shipments_api

import (
	"strings"
	"time"

	"github.com/BearBump/ShipTrack/internal/auth"
	"github.com/BearBump/ShipTrack/internal/models"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	Username    string    `json:"username"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func toLoginResponse(t auth.Token) loginResponse {
	return loginResponse{AccessToken: t.AccessToken, TokenType: t.TokenType, Username: t.Username, ExpiresAt: t.ExpiresAt}
}

type validateResponse struct {
	Valid    bool   `json:"valid"`
	Username string `json:"username"`
}

type createShipmentRequest struct {
	Origin            string  `json:"origin"`
	Destination       string  `json:"destination"`
	Description       *string `json:"description"`
	EstimatedDelivery *string `json:"estimatedDelivery"`
}

// estimated delivery layouts accepted on input; zone-less values are UTC
var deliveryLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

func (r createShipmentRequest) toInput() (models.ShipmentCreateInput, error) {
	in := models.ShipmentCreateInput{
		Origin:      strings.TrimSpace(r.Origin),
		Destination: strings.TrimSpace(r.Destination),
		Description: r.Description,
	}
	if r.EstimatedDelivery != nil && strings.TrimSpace(*r.EstimatedDelivery) != "" {
		raw := strings.TrimSpace(*r.EstimatedDelivery)
		for _, layout := range deliveryLayouts {
			if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
				in.EstimatedDelivery = &t
				break
			}
		}
		if in.EstimatedDelivery == nil {
			return in, models.NewValidationError("estimatedDelivery", "must be an ISO-8601 date-time")
		}
	}
	return in, nil
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// publicShipment is what anonymous tracking lookups see. It carries no internal id.
type publicShipment struct {
	TrackingNumber    string         `json:"trackingNumber"`
	Origin            string         `json:"origin"`
	Destination       string         `json:"destination"`
	Description       *string        `json:"description,omitempty"`
	Status            models.Status  `json:"status"`
	StatusLabel       string         `json:"statusLabel"`
	DelayedFrom       *models.Status `json:"delayedFrom,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	EstimatedDelivery *time.Time     `json:"estimatedDelivery,omitempty"`
	Overdue           bool           `json:"overdue"`
}

type shipmentResponse struct {
	ID uint64 `json:"id"`
	publicShipment
}

func toPublicShipment(sh *models.Shipment, now time.Time) publicShipment {
	return publicShipment{
		TrackingNumber:    sh.TrackingNumber,
		Origin:            sh.Origin,
		Destination:       sh.Destination,
		Description:       sh.Description,
		Status:            sh.Status,
		StatusLabel:       sh.Status.Label(),
		DelayedFrom:       sh.DelayedFrom,
		CreatedAt:         sh.CreatedAt,
		UpdatedAt:         sh.UpdatedAt,
		EstimatedDelivery: sh.EstimatedDelivery,
		Overdue:           sh.IsOverdue(now),
	}
}

func toShipmentResponse(sh *models.Shipment, now time.Time) shipmentResponse {
	return shipmentResponse{ID: sh.ID, publicShipment: toPublicShipment(sh, now)}
}

func toShipmentResponses(items []*models.Shipment, now time.Time) []shipmentResponse {
	out := make([]shipmentResponse, 0, len(items))
	for _, sh := range items {
		out = append(out, toShipmentResponse(sh, now))
	}
	return out
}

type eventResponse struct {
	EventID        string         `json:"eventId"`
	EventType      string         `json:"eventType"`
	Status         models.Status  `json:"status"`
	StatusLabel    string         `json:"statusLabel"`
	PreviousStatus *models.Status `json:"previousStatus,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
}

func toEventResponses(evs []*models.ShipmentEvent) []eventResponse {
	out := make([]eventResponse, 0, len(evs))
	for _, e := range evs {
		out = append(out, eventResponse{
			EventID:        e.EventID,
			EventType:      e.EventType,
			Status:         e.Status,
			StatusLabel:    e.Status.Label(),
			PreviousStatus: e.PreviousStatus,
			OccurredAt:     e.OccurredAt,
		})
	}
	return out
}

type errorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
