package telemetry

import (
	"context"

	"github.com/devdanny2024/wanzami-sub000/internal/catalog"
	"github.com/devdanny2024/wanzami-sub000/pkg/kafka"
)

// EventAppender persists engagement events.
type EventAppender interface {
	AppendEvents(ctx context.Context, events []catalog.EngagementEvent) error
}

// KafkaPublisher produces events keyed by profile id so a profile's events
// stay ordered within one partition.
type KafkaPublisher struct {
	producer *kafka.Producer
}

func NewKafkaPublisher(producer *kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event catalog.EngagementEvent) error {
	key := ""
	if event.ProfileID != nil {
		key = *event.ProfileID
	}
	return p.producer.Publish(ctx, kafka.Event{Key: key, Value: event})
}

// StorePublisher appends events straight to the event store.
type StorePublisher struct {
	store EventAppender
}

func NewStorePublisher(store EventAppender) *StorePublisher {
	return &StorePublisher{store: store}
}

func (p *StorePublisher) Publish(ctx context.Context, event catalog.EngagementEvent) error {
	return p.store.AppendEvents(ctx, []catalog.EngagementEvent{event})
}

// Tee publishes to every publisher in order and returns the first error.
func Tee(publishers ...Publisher) Publisher {
	return PublisherFunc(func(ctx context.Context, event catalog.EngagementEvent) error {
		for _, p := range publishers {
			if err := p.Publish(ctx, event); err != nil {
				return err
			}
		}
		return nil
	})
}
