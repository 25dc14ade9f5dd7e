package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"swiftpay/internal/domain"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisherPublishPayment(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, logger: zap.NewNop()}

	event := domain.PaymentEvent{
		ID:        "evt_1",
		Event:     domain.EventPaymentCompleted,
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Data: domain.PaymentEventData{
			CheckoutRequestID: "ws_CO_abc",
			Status:            domain.StatusCompleted,
			Amount:            130,
		},
	}
	require.NoError(t, p.PublishPayment(context.Background(), event))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "ws_CO_abc", string(msg.Key))
	assert.Equal(t, "payment.completed", string(msg.Headers[0].Value))
	assert.Equal(t, "evt_1", string(msg.Headers[1].Value))

	var decoded domain.PaymentEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, int64(130), decoded.Data.Amount)
}

func TestKafkaPublisherError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker down")}, logger: zap.NewNop()}
	err := p.PublishPayment(context.Background(), domain.PaymentEvent{})
	assert.ErrorContains(t, err, "broker down")
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	assert.NoError(t, p.PublishPayment(context.Background(), domain.PaymentEvent{}))
	assert.NoError(t, p.Close())
}
