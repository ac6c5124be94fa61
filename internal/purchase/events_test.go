package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/pkg/kafka"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProducer struct {
	ProduceFunc func(ctx context.Context, msg *kafka.Message) error
	sent        []*kafka.Message
}

func (m *mockProducer) Produce(ctx context.Context, msg *kafka.Message) error {
	if m.ProduceFunc != nil {
		if err := m.ProduceFunc(ctx, msg); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, msg)
	return nil
}

func paidOrder() *domain.Order {
	return &domain.Order{
		ID:       "order-1",
		BuyerID:  "buyer-1",
		Total:    decimal.RequireFromString("90"),
		Currency: "eur",
		Status:   domain.OrderPaid,
		State:    domain.StateCommitted,
	}
}

func TestNewKafkaEventPublisher(t *testing.T) {
	_, err := NewKafkaEventPublisher(nil, nil)
	assert.Error(t, err)

	p, err := NewKafkaEventPublisher(&mockProducer{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultEventsTopic, p.topic)
	assert.Equal(t, "ticket-engine", p.serviceName)
}

func TestKafkaEventPublisher_Events(t *testing.T) {
	producer := &mockProducer{}
	p, err := NewKafkaEventPublisher(producer, &EventPublisherConfig{Topic: "test-events", ServiceName: "test"})
	require.NoError(t, err)
	ctx := context.Background()

	order := paidOrder()
	tickets := []*domain.Ticket{{ID: "t1"}, {ID: "t2"}}
	require.NoError(t, p.PublishOrderPaid(ctx, order, tickets))

	failed := paidOrder()
	failed.Status = domain.OrderFailed
	failed.FailureReason = "card declined"
	require.NoError(t, p.PublishOrderFailed(ctx, failed))

	require.NoError(t, p.PublishReconciliationRequired(ctx, order, errors.New("commit failed")))

	refunded := paidOrder()
	refunded.Status = domain.OrderRefunded
	require.NoError(t, p.PublishOrderRefunded(ctx, refunded))

	redeemedAt := time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)
	require.NoError(t, p.TicketRedeemed(ctx, &domain.Ticket{ID: "t1", OrderID: "order-1", BuyerID: "buyer-1", State: domain.TicketRedeemed, RedeemedAt: &redeemedAt}))

	require.Len(t, producer.sent, 5)
	wantTypes := []EventType{EventOrderPaid, EventOrderFailed, EventOrderReconciliationRequired, EventOrderRefunded, EventTicketRedeemed}
	for i, msg := range producer.sent {
		assert.Equal(t, "test-events", msg.Topic)
		assert.Equal(t, "order-1", string(msg.Key))
		assert.Equal(t, string(wantTypes[i]), msg.Headers["event_type"])
		assert.Equal(t, "test", msg.Headers["source"])

		var event Event
		require.NoError(t, json.Unmarshal(msg.Value, &event))
		assert.Equal(t, wantTypes[i], event.EventType)
		assert.Equal(t, msg.Headers["event_id"], event.EventID)
	}

	var paid Event
	require.NoError(t, json.Unmarshal(producer.sent[0].Value, &paid))
	assert.Equal(t, []string{"t1", "t2"}, paid.TicketIDs)
	assert.Equal(t, "90.00", paid.Total)

	var recon Event
	require.NoError(t, json.Unmarshal(producer.sent[2].Value, &recon))
	assert.Equal(t, "commit failed", recon.Reason)

	var redeemed Event
	require.NoError(t, json.Unmarshal(producer.sent[4].Value, &redeemed))
	assert.True(t, redeemed.OccurredAt.Equal(redeemedAt))
}

func TestKafkaEventPublisher_ProducerError(t *testing.T) {
	producer := &mockProducer{ProduceFunc: func(context.Context, *kafka.Message) error {
		return errors.New("broker unavailable")
	}}
	p, err := NewKafkaEventPublisher(producer, nil)
	require.NoError(t, err)

	err = p.PublishOrderFailed(context.Background(), paidOrder())
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(EventOrderFailed))
}

func TestNoOpEventPublisher(t *testing.T) {
	p := NewNoOpEventPublisher()
	ctx := context.Background()
	assert.NoError(t, p.PublishOrderPaid(ctx, paidOrder(), nil))
	assert.NoError(t, p.PublishOrderFailed(ctx, paidOrder()))
	assert.NoError(t, p.PublishReconciliationRequired(ctx, paidOrder(), nil))
	assert.NoError(t, p.PublishOrderRefunded(ctx, paidOrder()))
	assert.NoError(t, p.TicketRedeemed(ctx, &domain.Ticket{}))
	assert.NoError(t, p.Close())
}

func TestRequestHash(t *testing.T) {
	base := request("buyer-1", "k", LineRequest{TicketTypeID: "a", Quantity: 1}, LineRequest{TicketTypeID: "a", Quantity: 1})
	merged := request("buyer-1", "k", LineRequest{TicketTypeID: "a", Quantity: 2})
	assert.Equal(t, base.Hash(), merged.Hash(), "repeated lines fold together")

	code := request("buyer-1", "k", LineRequest{TicketTypeID: "a", Quantity: 2})
	code.VoucherCode = " save10"
	upper := request("buyer-1", "k", LineRequest{TicketTypeID: "a", Quantity: 2})
	upper.VoucherCode = "SAVE10"
	assert.Equal(t, code.Hash(), upper.Hash())
	assert.NotEqual(t, merged.Hash(), upper.Hash())
}
