package events

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func TestEventJSON(t *testing.T) {
	amount := decimal.RequireFromString("12.5")
	at := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	e := Event{
		ID:         "e1",
		Type:       TypePromotionRedeemed,
		Subject:    "promo-1",
		OrderID:    "o1",
		UserID:     "u1",
		Amount:     &amount,
		OccurredAt: at,
	}

	data, err := e.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "e1",
		"type": "promotion.redeemed",
		"subject": "promo-1",
		"order_id": "o1",
		"user_id": "u1",
		"amount": "12.50",
		"occurred_at": "2025-06-15T12:00:00Z"
	}`, string(data))

	var got Event
	require.NoError(t, got.UnmarshalJSON(data))
	assert.Equal(t, e.Subject, got.Subject)
	assert.True(t, amount.Equal(*got.Amount))
	assert.True(t, at.Equal(got.OccurredAt))
}

func TestEventJSON_SkipsUnknownFields(t *testing.T) {
	var got Event
	err := got.UnmarshalJSON([]byte(`{"type":"product_sale.expired","count":3,"extra":{"a":[1,2]}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeProductSaleExpired, got.Type)
	assert.Equal(t, int64(3), got.Count)
	assert.Nil(t, got.Amount)
}

func TestKafkaPublisher(t *testing.T) {
	w := &mockWriter{}
	p := NewKafkaPublisher(w)

	err := p.Publish(context.Background(),
		Event{ID: "1", Type: TypePromotionExpired, Subject: "promo-1"},
		Event{ID: "2", Type: TypeBundleRepriced, Subject: "bundle-1"},
	)
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "promo-1", string(w.msgs[0].Key))
	assert.Equal(t, "bundle.repriced", string(w.msgs[1].Headers[0].Value))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_Errors(t *testing.T) {
	w := &mockWriter{err: errors.New("broker down")}
	p := NewKafkaPublisher(w)

	require.NoError(t, p.Publish(context.Background()), "empty batch is a no-op")

	err := p.Publish(context.Background(), Event{Type: TypePromotionExpired, Subject: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestRecorder(t *testing.T) {
	var r Recorder
	require.NoError(t, r.Publish(context.Background(),
		Event{Type: TypePromotionRedeemed, Subject: "a"},
		Event{Type: TypePromotionExpired, Subject: "b"},
	))
	assert.Len(t, r.Events(), 2)
	assert.Len(t, r.OfType(TypePromotionExpired), 1)

	r.FailWith(errors.New("boom"))
	require.Error(t, r.Publish(context.Background(), Event{}))
	assert.Len(t, r.Events(), 2)
}
