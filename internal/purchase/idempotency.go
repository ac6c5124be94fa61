package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	pkgredis "github.com/prohmpiriya/ticket-engine/pkg/redis"
	"github.com/redis/go-redis/v9"
)

// Idempotency defaults
const (
	DefaultIdempotencyTTL = 24 * time.Hour
	IdempotencyKeyPrefix  = "idempotency:purchase:"
)

// IdempotencyStatus represents the status of an idempotency record
type IdempotencyStatus string

const (
	StatusProcessing IdempotencyStatus = "processing"
	StatusCompleted  IdempotencyStatus = "completed"
)

// IdempotencyRecord stores the state of an idempotent purchase
type IdempotencyRecord struct {
	Key         string            `json:"key"`
	Status      IdempotencyStatus `json:"status"`
	RequestHash string            `json:"request_hash"`
	OrderID     string            `json:"order_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// IdempotencyStore claims idempotency keys before a purchase starts
type IdempotencyStore interface {
	// Claim stores record if the key is free. Otherwise it returns the
	// existing record and false.
	Claim(ctx context.Context, record *IdempotencyRecord, ttl time.Duration) (*IdempotencyRecord, bool, error)
	// Complete overwrites the record with its final state
	Complete(ctx context.Context, record *IdempotencyRecord, ttl time.Duration) error
	// Release drops a claim that produced no order
	Release(ctx context.Context, key string) error
}

func scopedKey(buyerID, key string) string {
	return buyerID + ":" + key
}

// MemoryIdempotencyStore keeps records in process
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	record    IdempotencyRecord
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates an empty store
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{records: make(map[string]memoryRecord), now: time.Now}
}

var _ IdempotencyStore = (*MemoryIdempotencyStore)(nil)

func (s *MemoryIdempotencyStore) Claim(_ context.Context, record *IdempotencyRecord, ttl time.Duration) (*IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.records[record.Key]; ok && now.Before(existing.expiresAt) {
		rec := existing.record
		return &rec, false, nil
	}
	s.records[record.Key] = memoryRecord{record: *record, expiresAt: now.Add(ttl)}
	return record, true, nil
}

func (s *MemoryIdempotencyStore) Complete(_ context.Context, record *IdempotencyRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Key] = memoryRecord{record: *record, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// RedisIdempotencyStore stores records as JSON strings claimed with SETNX
type RedisIdempotencyStore struct {
	client *pkgredis.Client
}

// NewRedisIdempotencyStore creates a new RedisIdempotencyStore
func NewRedisIdempotencyStore(client *pkgredis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

var _ IdempotencyStore = (*RedisIdempotencyStore)(nil)

func (s *RedisIdempotencyStore) Claim(ctx context.Context, record *IdempotencyRecord, ttl time.Duration) (*IdempotencyRecord, bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal idempotency record: %w", err)
	}
	redisKey := IdempotencyKeyPrefix + record.Key

	// The existing record can expire between SETNX and GET; one more round settles it
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, redisKey, data, ttl).Result()
		if err != nil {
			return nil, false, fmt.Errorf("failed to claim idempotency key: %w", err)
		}
		if ok {
			return record, true, nil
		}

		existing, err := s.get(ctx, redisKey)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("failed to claim idempotency key %s", record.Key)
}

func (s *RedisIdempotencyStore) get(ctx context.Context, redisKey string) (*IdempotencyRecord, error) {
	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}
	var rec IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("corrupt idempotency record: %w", err)
	}
	return &rec, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, record *IdempotencyRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, IdempotencyKeyPrefix+record.Key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to complete idempotency record: %w", err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, IdempotencyKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
