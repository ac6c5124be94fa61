// Package notify delivers issued tickets to buyers.
package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/ticket-engine/pkg/kafka"
	"github.com/prohmpiriya/ticket-engine/pkg/logger"
)

// DefaultTopic carries ticket delivery requests to the mailer
const DefaultTopic = "ticket.notifications"

// Notifier sends a ticket and its QR image to a recipient
type Notifier interface {
	SendTicket(ctx context.Context, recipient, ticketID string, qrPNG []byte) error
}

// Producer is the subset of the Kafka producer the notifier needs
type Producer interface {
	Produce(ctx context.Context, msg *kafka.Message) error
}

// TicketNotification is the message consumed by the mailer
type TicketNotification struct {
	NotificationID string    `json:"notification_id"`
	Recipient      string    `json:"recipient"`
	TicketID       string    `json:"ticket_id"`
	QRCodePNG      string    `json:"qr_code_png"` // base64
	CreatedAt      time.Time `json:"created_at"`
}

// KafkaNotifier hands notifications to a downstream mailer through Kafka
type KafkaNotifier struct {
	producer Producer
	topic    string
}

// NewKafkaNotifier creates a KafkaNotifier; an empty topic uses DefaultTopic
func NewKafkaNotifier(producer Producer, topic string) *KafkaNotifier {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaNotifier{producer: producer, topic: topic}
}

var _ Notifier = (*KafkaNotifier)(nil)

// SendTicket publishes one notification keyed by ticket id
func (n *KafkaNotifier) SendTicket(ctx context.Context, recipient, ticketID string, qrPNG []byte) error {
	msg := TicketNotification{
		NotificationID: uuid.New().String(),
		Recipient:      recipient,
		TicketID:       ticketID,
		QRCodePNG:      base64.StdEncoding.EncodeToString(qrPNG),
		CreatedAt:      time.Now().UTC(),
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	err = n.producer.Produce(ctx, &kafka.Message{
		Topic: n.topic,
		Key:   []byte(ticketID),
		Value: value,
		Headers: map[string]string{
			"notification_id": msg.NotificationID,
			"content_type":    "application/json",
		},
		Timestamp: msg.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to send ticket %s: %w", ticketID, err)
	}
	return nil
}

// NoOpNotifier only logs
type NoOpNotifier struct {
	log *logger.Logger
}

// NewNoOpNotifier creates a new no-op notifier
func NewNoOpNotifier(log *logger.Logger) *NoOpNotifier {
	if log == nil {
		log = logger.Get()
	}
	return &NoOpNotifier{log: log}
}

// SendTicket is a no-op
func (n *NoOpNotifier) SendTicket(_ context.Context, recipient, ticketID string, _ []byte) error {
	n.log.Debug(fmt.Sprintf("Skipping delivery of ticket %s to %s", ticketID, recipient))
	return nil
}
