package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prohmpiriya/ticket-engine/pkg/kafka"
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

func TestKafkaNotifier_SendTicket(t *testing.T) {
	p := &mockProducer{}
	n := NewKafkaNotifier(p, "")

	require.NoError(t, n.SendTicket(context.Background(), "buyer@example.com", "ticket-1", []byte("png")))
	require.Len(t, p.sent, 1)

	msg := p.sent[0]
	assert.Equal(t, DefaultTopic, msg.Topic)
	assert.Equal(t, "ticket-1", string(msg.Key))

	var body TicketNotification
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "buyer@example.com", body.Recipient)
	png, err := base64.StdEncoding.DecodeString(body.QRCodePNG)
	require.NoError(t, err)
	assert.Equal(t, "png", string(png))
}

func TestKafkaNotifier_ProducerError(t *testing.T) {
	p := &mockProducer{ProduceFunc: func(context.Context, *kafka.Message) error { return errors.New("broker down") }}
	n := NewKafkaNotifier(p, "custom")

	err := n.SendTicket(context.Background(), "a@b.c", "ticket-1", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ticket-1")
}

func TestNoOpNotifier(t *testing.T) {
	assert.NoError(t, NewNoOpNotifier(nil).SendTicket(context.Background(), "a@b.c", "t", nil))
}
