package kafka

import (
	"context"
	"errors"
	"fmt"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"sync"
	"time"
)

// Handler must return nil only when the message is done with and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	defaultAttempts = 3
	defaultBackoff  = 200 * time.Millisecond
)

type Consumer struct {
	r        MessageReader
	topic    string
	workers  int
	attempts int
	backoff  time.Duration
	log      *zap.Logger
	tracer   trace.Tracer
}

type ConsumerOption func(*Consumer)

// WithRetry sets how often a failing message is handed to the handler before it is skipped.
func WithRetry(attempts int, backoff time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if backoff >= 0 {
			c.backoff = backoff
		}
	}
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger, opts ...ConsumerOption) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return NewConsumerWithReader(r, topic, workers, log, opts...)
}

func NewConsumerWithReader(r MessageReader, topic string, workers int, log *zap.Logger, opts ...ConsumerOption) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Consumer{
		r:        r,
		topic:    topic,
		workers:  workers,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		log:      log.With(zap.String("topic", topic)),
		tracer:   otel.Tracer("github.com/ariefcatur/go-marketplace-orders/internal/kafka"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start fetches until ctx is cancelled and fans messages out to the workers.
// It returns nil on shutdown and the fetch error otherwise.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, c.workers*4)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				c.process(ctx, h, m)
			}
		}()
	}
	defer wg.Wait()
	defer close(jobs)

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch %s: %w", c.topic, err)
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) {
	mctx, span := c.tracer.Start(ExtractTrace(ctx, m.Headers), "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", c.topic),
			attribute.Int("messaging.kafka.partition", m.Partition),
			attribute.Int64("messaging.kafka.offset", m.Offset),
		))
	defer span.End()

	log := c.log.With(zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset))
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = h(mctx, m); err == nil {
			break
		}
		log.Warn("handler failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < c.attempts {
			select {
			case <-time.After(c.backoff * time.Duration(attempt)):
			case <-ctx.Done():
				// Leave it uncommitted; the group will redeliver.
				return
			}
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		log.Error("giving up on message", zap.ByteString("key", m.Key), zap.Error(err))
	}
	if err := c.r.CommitMessages(context.WithoutCancel(ctx), m); err != nil {
		log.Error("commit offset", zap.Error(err))
	}
}
