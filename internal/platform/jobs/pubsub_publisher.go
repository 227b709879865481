package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/pawmart/api/internal/services"
)

// PubSubOrderEventPublisher publishes order events to a Pub/Sub topic. Messages for the same order
// share an ordering key.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.OrderEventPublisher = (*PubSubOrderEventPublisher)(nil)

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubOrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent blocks until Pub/Sub acknowledges the message.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order publisher: not initialised")
	}

	data, err := p.marshal(newEnvelope(event))
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  eventAttributes(event),
		OrderingKey: event.OrderID,
	})
	if _, err := result.Get(ctx); err != nil {
		p.topic.ResumePublish(event.OrderID)
		return fmt.Errorf("publish order event %s: %w", event.Type, err)
	}
	return nil
}

// Close flushes pending messages.
func (p *PubSubOrderEventPublisher) Close() error {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
	return nil
}
