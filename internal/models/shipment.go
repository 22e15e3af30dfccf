package models

import (
	"time"
	"unicode/utf8"
)

const (
	DefaultDeliveryWindow = 72 * time.Hour

	LocationMinLen    = 3
	LocationMaxLen    = 100
	DescriptionMaxLen = 500

	// Timestamps are kept at microsecond precision so the in-memory and PostgreSQL stores agree.
	TimePrecision = time.Microsecond
)

type Shipment struct {
	ID                uint64     `json:"id"`
	TrackingNumber    string     `json:"trackingNumber"`
	Origin            string     `json:"origin"`
	Destination       string     `json:"destination"`
	Description       *string    `json:"description,omitempty"`
	Status            Status     `json:"status"`
	DelayedFrom       *Status    `json:"delayedFrom,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`

	// set once the sweeper has published the overdue notice
	OverdueNotifiedAt *time.Time `json:"-"`
}

type ShipmentCreateInput struct {
	Origin            string
	Destination       string
	Description       *string
	EstimatedDelivery *time.Time
}

// Validate checks the bounds of a creation request without modifying it.
func (in ShipmentCreateInput) Validate() error {
	if err := validateLocation("origin", in.Origin); err != nil {
		return err
	}
	if err := validateLocation("destination", in.Destination); err != nil {
		return err
	}
	if in.Description != nil && utf8.RuneCountInString(*in.Description) > DescriptionMaxLen {
		return NewValidationError("description", "must not exceed 500 characters")
	}
	return nil
}

func validateLocation(field, v string) error {
	n := utf8.RuneCountInString(v)
	switch {
	case n == 0:
		return NewValidationError(field, "is required")
	case n < LocationMinLen || n > LocationMaxLen:
		return NewValidationError(field, "must be between 3 and 100 characters")
	}
	return nil
}

// NewShipment builds a CREATED shipment. The id is assigned by the repository.
func NewShipment(in ShipmentCreateInput, trackingNumber string, now time.Time) *Shipment {
	now = now.UTC().Truncate(TimePrecision)
	eta := now.Add(DefaultDeliveryWindow)
	if in.EstimatedDelivery != nil {
		eta = in.EstimatedDelivery.UTC().Truncate(TimePrecision)
	}
	var desc *string
	if in.Description != nil {
		d := *in.Description
		desc = &d
	}
	return &Shipment{
		TrackingNumber:    trackingNumber,
		Origin:            in.Origin,
		Destination:       in.Destination,
		Description:       desc,
		Status:            StatusCreated,
		CreatedAt:         now,
		UpdatedAt:         now,
		EstimatedDelivery: &eta,
	}
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (s *Shipment) Clone() *Shipment {
	if s == nil {
		return nil
	}
	c := *s
	if s.Description != nil {
		d := *s.Description
		c.Description = &d
	}
	if s.DelayedFrom != nil {
		d := *s.DelayedFrom
		c.DelayedFrom = &d
	}
	if s.EstimatedDelivery != nil {
		t := *s.EstimatedDelivery
		c.EstimatedDelivery = &t
	}
	if s.OverdueNotifiedAt != nil {
		t := *s.OverdueNotifiedAt
		c.OverdueNotifiedAt = &t
	}
	return &c
}

func (s *Shipment) delayedFrom() Status {
	if s.DelayedFrom == nil {
		return ""
	}
	return *s.DelayedFrom
}

// Transition moves the shipment to next, refreshing UpdatedAt. On error nothing is modified.
func (s *Shipment) Transition(next Status, now time.Time) error {
	if !next.Valid() {
		return NewValidationError("status", "unknown status "+string(next))
	}
	if !s.Status.CanTransitionTo(next, s.delayedFrom()) {
		return &TransitionError{From: s.Status, To: next}
	}

	switch {
	case next == StatusDelayed:
		from := s.Status
		s.DelayedFrom = &from
	default:
		s.DelayedFrom = nil
	}
	s.Status = next
	s.UpdatedAt = NextUpdatedAt(s.UpdatedAt, now)
	return nil
}

// CheckDeletable rejects deletion of terminal shipments.
func (s *Shipment) CheckDeletable() error {
	if s.Status.IsTerminal() {
		return &ConflictError{
			Reason: "shipment in terminal status " + string(s.Status) + " cannot be deleted",
			Status: s.Status,
		}
	}
	return nil
}

// IsOverdue reports whether the estimated delivery has passed for a shipment still in flight.
func (s *Shipment) IsOverdue(now time.Time) bool {
	if s.EstimatedDelivery == nil || s.Status.IsTerminal() {
		return false
	}
	return s.EstimatedDelivery.Before(now)
}

// NextUpdatedAt returns now at storage precision, bumped past prev when the clock did not advance.
func NextUpdatedAt(prev, now time.Time) time.Time {
	now = now.UTC().Truncate(TimePrecision)
	if !now.After(prev) {
		return prev.Add(TimePrecision)
	}
	return now
}
