package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ariefcatur/go-marketplace-orders/internal/dispatch"
	"github.com/ariefcatur/go-marketplace-orders/internal/fulfillment"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	key     string
	value   []byte
	headers []kafka.Header
}

type recorder struct {
	msgs []published
	err  error
}

func (r *recorder) Publish(_ context.Context, key, value []byte, headers ...kafka.Header) error {
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, published{key: string(key), value: value, headers: headers})
	return nil
}

func TestNotify(t *testing.T) {
	events := &recorder{}
	d := dispatch.New(dispatch.Publishers{Events: events}, "order-api", nil)

	err := d.Notify(context.Background(), orders.EventOrderConfirmed, orders.OrderEventPayload{
		OrderID: "o-1", Status: orders.StatusConfirmed, TotalCents: 274,
	})
	require.NoError(t, err)
	require.Len(t, events.msgs, 1)
	assert.Equal(t, "o-1", events.msgs[0].key)
	assert.Equal(t, "event_type", events.msgs[0].headers[0].Key)

	env, err := kafkax.UnmarshalEnvelope(events.msgs[0].value)
	require.NoError(t, err)
	assert.Equal(t, orders.EventOrderConfirmed, env.EventType)
	assert.Equal(t, "order-api", env.Producer)
	p, err := kafkax.UnwrapPayload[orders.OrderEventPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, p.Status)
}

func TestDispatchTask_KeyedBySeller(t *testing.T) {
	tasks := &recorder{}
	d := dispatch.New(dispatch.Publishers{Tasks: tasks}, "order-api", nil)

	err := d.DispatchTask(context.Background(), fulfillment.Task{
		TaskID: "t-1", OrderID: "o-1", SellerID: "s1",
		Items:    []fulfillment.TaskItem{{ProductID: "P", Quantity: 2}},
		Priority: fulfillment.PriorityHigh,
	})
	require.NoError(t, err)
	require.Len(t, tasks.msgs, 1)
	assert.Equal(t, "s1", tasks.msgs[0].key)

	env, err := kafkax.UnmarshalEnvelope(tasks.msgs[0].value)
	require.NoError(t, err)
	task, err := kafkax.UnwrapPayload[fulfillment.Task](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.PriorityHigh, task.Priority)
	assert.Equal(t, 2, task.Items[0].Quantity)
}

func TestEnqueueSubmission(t *testing.T) {
	subs := &recorder{}
	d := dispatch.New(dispatch.Publishers{Submissions: subs}, "order-api", nil)

	err := d.EnqueueSubmission(context.Background(), orders.OrderSubmittedPayload{
		CorrelationID: "corr-1",
		Submission:    orders.Submission{CustomerID: "c1"},
	})
	require.NoError(t, err)

	env, err := kafkax.UnmarshalEnvelope(subs.msgs[0].value)
	require.NoError(t, err)
	assert.Equal(t, orders.EventOrderSubmitted, env.EventType)
	assert.Equal(t, "corr-1", env.CorrelationID)
}

func TestPublishErrors(t *testing.T) {
	d := dispatch.New(dispatch.Publishers{Events: &recorder{err: kafkax.ErrProducerClosed}}, "order-api", nil)

	err := d.Notify(context.Background(), orders.EventOrderCancelled, orders.OrderEventPayload{OrderID: "o-1"})
	assert.True(t, errors.Is(err, kafkax.ErrProducerClosed))

	err = d.DispatchTask(context.Background(), fulfillment.Task{SellerID: "s1"})
	assert.Error(t, err)
}
