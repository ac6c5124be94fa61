package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/pkg/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresOrderRepository implements OrderRepository using PostgreSQL
type PostgresOrderRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresOrderRepository creates a new PostgresOrderRepository
func NewPostgresOrderRepository(pool *pgxpool.Pool) *PostgresOrderRepository {
	return &PostgresOrderRepository{pool: pool}
}

var _ OrderRepository = (*PostgresOrderRepository)(nil)

const orderColumns = `
	id, buyer_id, email, idempotency_key, request_hash, lines, voucher_code,
	subtotal::text, discount::text, total::text, currency, status, state,
	payment_provider, payment_reference, failure_code, failure_reason, reconciliation_required,
	created_at, updated_at
`

func (r *PostgresOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.order.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.String("buyer_id", order.BuyerID),
	)

	lines, err := json.Marshal(order.Lines)
	if err != nil {
		return fmt.Errorf("failed to marshal order lines: %w", err)
	}

	query := `
		INSERT INTO purchase_orders (
			id, buyer_id, email, idempotency_key, request_hash, lines, voucher_code,
			subtotal, discount, total, currency, status, state,
			payment_provider, payment_reference, failure_code, failure_reason, reconciliation_required,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10::numeric, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err = r.pool.Exec(ctx, query,
		order.ID, order.BuyerID, order.Email, order.IdempotencyKey, order.RequestHash, lines, order.VoucherCode,
		order.Subtotal.StringFixed(2), order.Discount.StringFixed(2), order.Total.StringFixed(2),
		order.Currency, string(order.Status), string(order.State),
		order.PaymentProvider, order.PaymentReference, order.FailureCode, order.FailureReason, order.ReconciliationRequired,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			span.SetStatus(codes.Error, "duplicate idempotency key")
			return domain.ErrIdempotencyConflict
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create order: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (r *PostgresOrderRepository) Update(ctx context.Context, order *domain.Order) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.order.update")
	defer span.End()
	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.String("state", string(order.State)),
	)

	lines, err := json.Marshal(order.Lines)
	if err != nil {
		return fmt.Errorf("failed to marshal order lines: %w", err)
	}

	query := `
		UPDATE purchase_orders SET
			lines = $2, voucher_code = $3, subtotal = $4::numeric, discount = $5::numeric, total = $6::numeric,
			status = $7, state = $8, payment_provider = $9, payment_reference = $10,
			failure_code = $11, failure_reason = $12, reconciliation_required = $13, updated_at = $14
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		order.ID, lines, order.VoucherCode,
		order.Subtotal.StringFixed(2), order.Discount.StringFixed(2), order.Total.StringFixed(2),
		string(order.Status), string(order.State), order.PaymentProvider, order.PaymentReference,
		order.FailureCode, order.FailureReason, order.ReconciliationRequired, order.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "not found")
		return domain.ErrOrderNotFound
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o                         domain.Order
		lines                     []byte
		subtotal, discount, total string
		status, state             string
	)
	err := row.Scan(
		&o.ID, &o.BuyerID, &o.Email, &o.IdempotencyKey, &o.RequestHash, &lines, &o.VoucherCode,
		&subtotal, &discount, &total, &o.Currency, &status, &state,
		&o.PaymentProvider, &o.PaymentReference, &o.FailureCode, &o.FailureReason, &o.ReconciliationRequired,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(lines, &o.Lines); err != nil {
		return nil, fmt.Errorf("corrupt order lines for %s: %w", o.ID, err)
	}
	for _, pair := range []struct {
		dst *decimal.Decimal
		src string
	}{{&o.Subtotal, subtotal}, {&o.Discount, discount}, {&o.Total, total}} {
		d, err := decimal.NewFromString(pair.src)
		if err != nil {
			return nil, fmt.Errorf("corrupt amount for %s: %w", o.ID, err)
		}
		*pair.dst = d
	}
	o.Status = domain.OrderStatus(status)
	o.State = domain.PurchaseState(state)
	return &o, nil
}

func (r *PostgresOrderRepository) getOne(ctx context.Context, spanName, where string, args ...interface{}) (*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, spanName)
	defer span.End()

	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE `+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrOrderNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	span.SetAttributes(attribute.String("order_id", o.ID))
	span.SetStatus(codes.Ok, "")
	return o, nil
}

func (r *PostgresOrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOne(ctx, "repo.postgres.order.get", "id = $1", id)
}

func (r *PostgresOrderRepository) GetByIdempotencyKey(ctx context.Context, buyerID, key string) (*domain.Order, error) {
	return r.getOne(ctx, "repo.postgres.order.get_by_idempotency_key", "buyer_id = $1 AND idempotency_key = $2", buyerID, key)
}

func (r *PostgresOrderRepository) ListByBuyer(ctx context.Context, buyerID string, limit, offset int) ([]*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.order.list_by_buyer")
	defer span.End()
	span.SetAttributes(attribute.String("buyer_id", buyerID), attribute.Int("limit", limit), attribute.Int("offset", offset))

	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM purchase_orders
		WHERE buyer_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, buyerID, limit, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := []*domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return orders, nil
}
