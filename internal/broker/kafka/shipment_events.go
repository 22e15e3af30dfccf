package kafka

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/BearBump/ShipTrack/internal/broker/messages"
	"github.com/pkg/errors"
)

type publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// ShipmentEventPublisher writes shipment events as JSON keyed by shipment id, so all events of one
// shipment land in the same partition and keep their order.
type ShipmentEventPublisher struct {
	p     publisher
	topic string
}

func NewShipmentEventPublisher(p publisher, topic string) *ShipmentEventPublisher {
	return &ShipmentEventPublisher{p: p, topic: topic}
}

func (s *ShipmentEventPublisher) PublishShipmentEvent(ctx context.Context, ev messages.ShipmentEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal shipment event")
	}
	return s.p.Publish(ctx, s.topic, []byte(strconv.FormatUint(ev.ShipmentID, 10)), b)
}
