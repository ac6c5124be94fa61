package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

var ErrNoBrokers = errors.New("kafka: no brokers configured")

// ProducerConfig holds configuration for the Kafka producer
type ProducerConfig struct {
	Brokers       []string
	ClientID      string
	MaxRetries    int
	RetryInterval time.Duration
	// ProduceTimeout bounds a single synchronous produce
	ProduceTimeout time.Duration
}

// Producer publishes records synchronously through a franz-go client
type Producer struct {
	client *kgo.Client
	config *ProducerConfig
}

// NewProducer connects to the cluster, pinging with retries
func NewProducer(ctx context.Context, cfg *ProducerConfig) (*Producer, error) {
	if cfg == nil || len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.ProduceTimeout <= 0 {
		cfg.ProduceTimeout = 5 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.RecordRetries(3),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(cfg.RetryInterval)
		}
		if lastErr = client.Ping(ctx); lastErr == nil {
			return &Producer{client: client, config: cfg}, nil
		}
	}

	client.Close()
	return nil, fmt.Errorf("failed to reach kafka after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

// Message is one record to publish
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Produce writes one record and waits for the broker ack
func (p *Producer) Produce(ctx context.Context, msg *Message) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.ProduceTimeout)
	defer cancel()

	record := &kgo.Record{
		Topic:     msg.Topic,
		Key:       msg.Key,
		Value:     msg.Value,
		Timestamp: msg.Timestamp,
	}
	for k, v := range msg.Headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", msg.Topic, err)
	}
	return nil
}

// ProduceJSON marshals value and produces it
func (p *Producer) ProduceJSON(ctx context.Context, topic, key string, value interface{}, headers map[string]string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.Produce(ctx, &Message{
		Topic:     topic,
		Key:       []byte(key),
		Value:     data,
		Headers:   headers,
		Timestamp: time.Now(),
	})
}

// Close flushes pending records and closes the client
func (p *Producer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.client.Flush(ctx)
	p.client.Close()
	return err
}
