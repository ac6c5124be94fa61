package purchase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/ticket-engine/internal/admission"
	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/pkg/kafka"
)

// DefaultEventsTopic carries purchase lifecycle events
const DefaultEventsTopic = "purchase-events"

// EventType is the type of a purchase lifecycle event
type EventType string

const (
	EventOrderPaid                   EventType = "order.paid"
	EventOrderFailed                 EventType = "order.failed"
	EventOrderReconciliationRequired EventType = "order.reconciliation_required"
	EventOrderRefunded               EventType = "order.refunded"
	EventTicketRedeemed              EventType = "ticket.redeemed"
)

// Event is the payload published for every lifecycle change
type Event struct {
	EventID    string    `json:"event_id"`
	EventType  EventType `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`

	OrderID   string   `json:"order_id"`
	BuyerID   string   `json:"buyer_id"`
	Total     string   `json:"total,omitempty"`
	Currency  string   `json:"currency,omitempty"`
	State     string   `json:"state,omitempty"`
	TicketIDs []string `json:"ticket_ids,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Key partitions events by order so consumers see them in order
func (e *Event) Key() string {
	return e.OrderID
}

func newOrderEvent(eventType EventType, order *domain.Order) *Event {
	return &Event{
		EventID:    uuid.New().String(),
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		OrderID:    order.ID,
		BuyerID:    order.BuyerID,
		Total:      order.Total.StringFixed(2),
		Currency:   order.Currency,
		State:      string(order.State),
		Reason:     order.FailureReason,
	}
}

// EventPublisher defines the interface for publishing purchase events
type EventPublisher interface {
	// PublishOrderPaid publishes an order paid event
	PublishOrderPaid(ctx context.Context, order *domain.Order, tickets []*domain.Ticket) error

	// PublishOrderFailed publishes an order failed event
	PublishOrderFailed(ctx context.Context, order *domain.Order) error

	// PublishReconciliationRequired flags a charged order that could not commit
	PublishReconciliationRequired(ctx context.Context, order *domain.Order, cause error) error

	// PublishOrderRefunded publishes an order refunded event
	PublishOrderRefunded(ctx context.Context, order *domain.Order) error

	admission.RedemptionListener

	// Close closes the event publisher
	Close() error
}

// Producer is the subset of the Kafka producer the publisher needs
type Producer interface {
	Produce(ctx context.Context, msg *kafka.Message) error
}

// EventPublisherConfig contains configuration for the event publisher
type EventPublisherConfig struct {
	Topic       string
	ServiceName string
}

// KafkaEventPublisher implements EventPublisher using Kafka
type KafkaEventPublisher struct {
	producer    Producer
	topic       string
	serviceName string
}

// NewKafkaEventPublisher creates a new Kafka event publisher over a shared producer
func NewKafkaEventPublisher(producer Producer, cfg *EventPublisherConfig) (*KafkaEventPublisher, error) {
	if producer == nil {
		return nil, fmt.Errorf("kafka producer is required")
	}

	topic := DefaultEventsTopic
	serviceName := "ticket-engine"
	if cfg != nil {
		if cfg.Topic != "" {
			topic = cfg.Topic
		}
		if cfg.ServiceName != "" {
			serviceName = cfg.ServiceName
		}
	}

	return &KafkaEventPublisher{
		producer:    producer,
		topic:       topic,
		serviceName: serviceName,
	}, nil
}

var _ EventPublisher = (*KafkaEventPublisher)(nil)

// PublishOrderPaid publishes an order paid event
func (p *KafkaEventPublisher) PublishOrderPaid(ctx context.Context, order *domain.Order, tickets []*domain.Ticket) error {
	event := newOrderEvent(EventOrderPaid, order)
	for _, t := range tickets {
		event.TicketIDs = append(event.TicketIDs, t.ID)
	}
	return p.publish(ctx, event)
}

// PublishOrderFailed publishes an order failed event
func (p *KafkaEventPublisher) PublishOrderFailed(ctx context.Context, order *domain.Order) error {
	return p.publish(ctx, newOrderEvent(EventOrderFailed, order))
}

// PublishReconciliationRequired publishes an order reconciliation event
func (p *KafkaEventPublisher) PublishReconciliationRequired(ctx context.Context, order *domain.Order, cause error) error {
	event := newOrderEvent(EventOrderReconciliationRequired, order)
	if cause != nil {
		event.Reason = cause.Error()
	}
	return p.publish(ctx, event)
}

// PublishOrderRefunded publishes an order refunded event
func (p *KafkaEventPublisher) PublishOrderRefunded(ctx context.Context, order *domain.Order) error {
	return p.publish(ctx, newOrderEvent(EventOrderRefunded, order))
}

// TicketRedeemed publishes a ticket redeemed event
func (p *KafkaEventPublisher) TicketRedeemed(ctx context.Context, ticket *domain.Ticket) error {
	event := &Event{
		EventID:    uuid.New().String(),
		EventType:  EventTicketRedeemed,
		OccurredAt: time.Now().UTC(),
		OrderID:    ticket.OrderID,
		BuyerID:    ticket.BuyerID,
		State:      string(ticket.State),
		TicketIDs:  []string{ticket.ID},
	}
	if ticket.RedeemedAt != nil {
		event.OccurredAt = ticket.RedeemedAt.UTC()
	}
	return p.publish(ctx, event)
}

// Close is a no-op; the shared producer is closed by its owner
func (p *KafkaEventPublisher) Close() error {
	return nil
}

func (p *KafkaEventPublisher) publish(ctx context.Context, event *Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.Key()),
		Value: value,
		Headers: map[string]string{
			"event_type":   string(event.EventType),
			"event_id":     event.EventID,
			"source":       p.serviceName,
			"content_type": "application/json",
		},
		Timestamp: event.OccurredAt,
	}

	if err := p.producer.Produce(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.EventType, err)
	}
	return nil
}

// NoOpEventPublisher is a no-op implementation of EventPublisher
type NoOpEventPublisher struct{}

// NewNoOpEventPublisher creates a new no-op event publisher
func NewNoOpEventPublisher() *NoOpEventPublisher {
	return &NoOpEventPublisher{}
}

var _ EventPublisher = (*NoOpEventPublisher)(nil)

func (p *NoOpEventPublisher) PublishOrderPaid(context.Context, *domain.Order, []*domain.Ticket) error {
	return nil
}

func (p *NoOpEventPublisher) PublishOrderFailed(context.Context, *domain.Order) error {
	return nil
}

func (p *NoOpEventPublisher) PublishReconciliationRequired(context.Context, *domain.Order, error) error {
	return nil
}

func (p *NoOpEventPublisher) PublishOrderRefunded(context.Context, *domain.Order) error {
	return nil
}

func (p *NoOpEventPublisher) TicketRedeemed(context.Context, *domain.Ticket) error {
	return nil
}

func (p *NoOpEventPublisher) Close() error {
	return nil
}
