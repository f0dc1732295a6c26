package dispatch

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-marketplace-orders/internal/fulfillment"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

// Dispatcher publishes order notifications, fulfillment tasks and queued
// submissions as enveloped events, each on its own topic.
type Dispatcher struct {
	events      Publisher
	tasks       Publisher
	submissions Publisher
	producer    string
	log         *zap.Logger
}

type Publishers struct {
	Events      Publisher
	Tasks       Publisher
	Submissions Publisher
}

func New(p Publishers, producer string, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		events:      p.Events,
		tasks:       p.Tasks,
		submissions: p.Submissions,
		producer:    producer,
		log:         log,
	}
}

// Notify publishes an order event keyed by order id so a consumer sees one order's events in order.
func (d *Dispatcher) Notify(ctx context.Context, eventType string, p orders.OrderEventPayload) error {
	return d.publish(ctx, d.events, orders.TopicOrderEvents, eventType, p.OrderID, p)
}

// DispatchTask publishes a fulfillment task keyed by seller.
func (d *Dispatcher) DispatchTask(ctx context.Context, t fulfillment.Task) error {
	return d.publish(ctx, d.tasks, orders.TopicFulfillmentTasks, orders.EventFulfillmentTask, t.SellerID, t)
}

// EnqueueSubmission publishes a submission for the asynchronous worker.
func (d *Dispatcher) EnqueueSubmission(ctx context.Context, p orders.OrderSubmittedPayload) error {
	return d.publish(ctx, d.submissions, orders.TopicOrderSubmissions, orders.EventOrderSubmitted, p.CorrelationID, p)
}

func (d *Dispatcher) publish(ctx context.Context, pub Publisher, topic, eventType, key string, payload any) error {
	if pub == nil {
		return fmt.Errorf("no publisher for %s", topic)
	}
	b, err := kafkax.NewEnvelope(ctx, eventType, d.producer, key, payload)
	if err != nil {
		return err
	}
	if err := pub.Publish(ctx, orders.PartitionKey(key), b,
		kafka.Header{Key: "event_type", Value: []byte(eventType)}); err != nil {
		d.log.Warn("publish failed", zap.String("topic", topic), zap.String("event_type", eventType), zap.String("key", key), zap.Error(err))
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	d.log.Debug("event published", zap.String("topic", topic), zap.String("event_type", eventType), zap.String("key", key))
	return nil
}
