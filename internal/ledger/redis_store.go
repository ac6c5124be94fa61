package ledger

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
	pkgredis "github.com/prohmpiriya/ticket-engine/pkg/redis"
	"github.com/prohmpiriya/ticket-engine/pkg/telemetry"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

//go:embed scripts/seed_stock.lua
var seedStockScript string

//go:embed scripts/apply_change.lua
var applyChangeScript string

// Script names for caching
const (
	scriptSeedStock   = "ledger_seed_stock"
	scriptApplyChange = "ledger_apply_change"
)

const heldReservationsKey = "ledger:holds"

func stockKey(ticketTypeID string) string {
	return fmt.Sprintf("ledger:stock:%s", ticketTypeID)
}

func reservationKey(reservationID string) string {
	return fmt.Sprintf("ledger:reservation:%s", reservationID)
}

// RedisStore keeps the ledger in Redis; every write is one Lua CAS
type RedisStore struct {
	client *pkgredis.Client
}

// NewRedisStore creates a new RedisStore
func NewRedisStore(client *pkgredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

var _ Store = (*RedisStore)(nil)

// LoadScripts preloads the Lua scripts
func (s *RedisStore) LoadScripts(ctx context.Context) error {
	scripts := map[string]string{
		scriptSeedStock:   seedStockScript,
		scriptApplyChange: applyChangeScript,
	}
	for name, script := range scripts {
		if _, err := s.client.LoadScript(ctx, name, script); err != nil {
			return fmt.Errorf("failed to load script %s: %w", name, err)
		}
	}
	return nil
}

func (s *RedisStore) Seed(ctx context.Context, stock domain.Stock) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.ledger.seed")
	defer span.End()
	span.SetAttributes(attribute.String("ticket_type_id", stock.TicketTypeID))

	created, err := s.client.EvalWithFallback(ctx, scriptSeedStock, seedStockScript,
		[]string{stockKey(stock.TicketTypeID)}, stock.EventID, stock.Capacity).Int64()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to execute seed_stock script: %w", err)
	}
	return created == 1, nil
}

func (s *RedisStore) GetStock(ctx context.Context, ticketTypeID string) (*domain.Stock, error) {
	fields, err := s.client.HGetAll(ctx, stockKey(ticketTypeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stock: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrTicketTypeNotFound
	}

	stock := &domain.Stock{TicketTypeID: ticketTypeID, EventID: fields["event_id"]}
	ints := []struct {
		name string
		dst  *int
	}{
		{"capacity", &stock.Capacity},
		{"sold", &stock.Sold},
		{"reserved", &stock.Reserved},
	}
	for _, f := range ints {
		if *f.dst, err = strconv.Atoi(fields[f.name]); err != nil {
			return nil, fmt.Errorf("corrupt stock field %s: %w", f.name, err)
		}
	}
	if stock.Version, err = strconv.ParseInt(fields["version"], 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt stock field version: %w", err)
	}
	return stock, nil
}

func (s *RedisStore) GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	data, err := s.client.Client().HGet(ctx, reservationKey(reservationID), "data").Result()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read reservation: %w", err)
	}

	var res domain.Reservation
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("failed to decode reservation: %w", err)
	}
	return &res, nil
}

func (s *RedisStore) Apply(ctx context.Context, change Change) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.ledger.apply")
	defer span.End()

	stock := change.Stock
	span.SetAttributes(
		attribute.String("ticket_type_id", stock.TicketTypeID),
		attribute.Int64("expected_version", stock.Version),
	)

	keys := []string{stockKey(stock.TicketTypeID), "", heldReservationsKey}
	args := []interface{}{
		stock.Version,  // ARGV[1]
		stock.Capacity, // ARGV[2]
		stock.Sold,     // ARGV[3]
		stock.Reserved, // ARGV[4]
		"0", "", "", "", 0, "",
	}

	if res := change.Reservation; res != nil {
		data, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("failed to encode reservation: %w", err)
		}
		keys[1] = reservationKey(res.ID)
		args[4] = "1"
		args[5] = string(change.ExpectedStatus)
		args[6] = string(res.Status)
		args[7] = string(data)
		args[8] = res.ExpiresAt.UnixMilli()
		args[9] = res.ID
		span.SetAttributes(attribute.String("reservation_id", res.ID))
	} else {
		// Unused, but every key must be present for the script
		keys[1] = reservationKey("-")
	}

	values, err := s.client.EvalWithFallback(ctx, scriptApplyChange, applyChangeScript, keys, args...).Slice()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to execute apply_change script: %w", err)
	}
	if len(values) < 2 {
		span.SetStatus(codes.Error, "unexpected result length")
		return fmt.Errorf("unexpected script result length: %d", len(values))
	}

	if ok, _ := values[0].(int64); ok == 1 {
		span.SetStatus(codes.Ok, "")
		return nil
	}

	code, _ := values[1].(string)
	span.SetAttributes(attribute.String("error_code", code))
	switch code {
	case "VERSION_CONFLICT":
		return ErrVersionConflict
	case "NOT_FOUND":
		return domain.ErrTicketTypeNotFound
	default:
		return fmt.Errorf("apply_change script failed: %s", code)
	}
}

func (s *RedisStore) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]string, error) {
	opt := &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, heldReservationsKey, opt).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list expired holds: %w", err)
	}
	return ids, nil
}
