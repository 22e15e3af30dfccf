package models

import (
	"strings"
)

// Status is a shipment lifecycle state.
type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusPickedUp       Status = "PICKED_UP"
	StatusInTransit      Status = "IN_TRANSIT"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusDelayed        Status = "DELAYED"
	StatusReturned       Status = "RETURNED"
	StatusCancelled      Status = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order, side states last.
var AllStatuses = []Status{
	StatusCreated,
	StatusPickedUp,
	StatusInTransit,
	StatusOutForDelivery,
	StatusDelivered,
	StatusDelayed,
	StatusReturned,
	StatusCancelled,
}

// TerminalStatuses are the states a shipment never leaves.
var TerminalStatuses = []Status{StatusDelivered, StatusReturned, StatusCancelled}

var statusLabels = map[Status]string{
	StatusCreated:        "Order created",
	StatusPickedUp:       "Picked up from origin",
	StatusInTransit:      "In transit",
	StatusOutForDelivery: "Out for delivery",
	StatusDelivered:      "Delivered",
	StatusDelayed:        "Delayed",
	StatusReturned:       "Returned to sender",
	StatusCancelled:      "Cancelled",
}

// happy path successor of each forward state
var nextOnPath = map[Status]Status{
	StatusCreated:        StatusPickedUp,
	StatusPickedUp:       StatusInTransit,
	StatusInTransit:      StatusOutForDelivery,
	StatusOutForDelivery: StatusDelivered,
}

var transitions = map[Status][]Status{
	StatusCreated:        {StatusPickedUp, StatusDelayed, StatusCancelled},
	StatusPickedUp:       {StatusInTransit, StatusDelayed, StatusReturned, StatusCancelled},
	StatusInTransit:      {StatusOutForDelivery, StatusDelayed, StatusReturned},
	StatusOutForDelivery: {StatusDelivered, StatusDelayed, StatusReturned},
}

// ParseStatus accepts the canonical upper-case name; surrounding spaces and case are ignored.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", NewValidationError("status", "unknown status "+strings.TrimSpace(s))
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

func (s Status) String() string {
	return string(s)
}

// Label is the human readable name shown to customers.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return "Unknown"
}

func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusReturned || s == StatusCancelled
}

// Next returns the following happy-path state, if any.
func (s Status) Next() (Status, bool) {
	n, ok := nextOnPath[s]
	return n, ok
}

// AllowedTransitions returns the states reachable from s. For DELAYED the result depends on the
// state the shipment stalled at (empty when unknown).
func (s Status) AllowedTransitions(delayedFrom Status) []Status {
	if s.IsTerminal() {
		return nil
	}
	if s != StatusDelayed {
		return append([]Status(nil), transitions[s]...)
	}

	var out []Status
	switch delayedFrom {
	case StatusPickedUp, StatusInTransit, StatusOutForDelivery:
		out = append(out, delayedFrom)
		if n, ok := delayedFrom.Next(); ok {
			out = append(out, n)
		}
	case StatusCreated:
		out = append(out, StatusPickedUp)
	default:
		out = append(out, StatusPickedUp, StatusInTransit, StatusOutForDelivery)
	}
	return append(out, StatusReturned, StatusCancelled)
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s Status) CanTransitionTo(next Status, delayedFrom Status) bool {
	for _, st := range s.AllowedTransitions(delayedFrom) {
		if st == next {
			return true
		}
	}
	return false
}
