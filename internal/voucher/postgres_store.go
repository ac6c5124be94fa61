package voucher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/pkg/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresStore implements Store using PostgreSQL with pgxpool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Get(ctx context.Context, code string) (*domain.Voucher, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.voucher.get")
	defer span.End()
	span.SetAttributes(attribute.String("code", code))

	query := `
		SELECT code, kind, amount::text, expires_at, remaining_uses, held_uses, version
		FROM vouchers
		WHERE code = $1
	`

	var (
		v         domain.Voucher
		kind      string
		amount    string
		expiresAt *time.Time
		remaining *int
	)
	err := s.pool.QueryRow(ctx, query, code).Scan(
		&v.Code, &kind, &amount, &expiresAt, &remaining, &v.HeldUses, &v.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrVoucherNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get voucher: %w", err)
	}

	if v.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt voucher amount: %w", err)
	}
	v.Kind = domain.VoucherKind(kind)
	v.ExpiresAt = expiresAt
	v.RemainingUses = remaining

	span.SetStatus(codes.Ok, "")
	return &v, nil
}

func (s *PostgresStore) Save(ctx context.Context, v *domain.Voucher) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.voucher.save")
	defer span.End()
	span.SetAttributes(attribute.String("code", v.Code))

	query := `
		INSERT INTO vouchers (code, kind, amount, expires_at, remaining_uses, held_uses, version)
		VALUES ($1, $2, $3::numeric, $4, $5, 0, 1)
		ON CONFLICT (code) DO UPDATE SET
			kind = EXCLUDED.kind,
			amount = EXCLUDED.amount,
			expires_at = EXCLUDED.expires_at,
			remaining_uses = EXCLUDED.remaining_uses,
			version = vouchers.version + 1
	`

	_, err := s.pool.Exec(ctx, query, v.Code, string(v.Kind), v.Amount.String(), v.ExpiresAt, v.RemainingUses)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to save voucher: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *PostgresStore) CompareAndSwap(ctx context.Context, v *domain.Voucher) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.voucher.cas")
	defer span.End()
	span.SetAttributes(attribute.String("code", v.Code), attribute.Int64("expected_version", v.Version))

	query := `
		UPDATE vouchers
		SET remaining_uses = $2, held_uses = $3, version = version + 1
		WHERE code = $1 AND version = $4
	`

	tag, err := s.pool.Exec(ctx, query, v.Code, v.RemainingUses, v.HeldUses, v.Version)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update voucher: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "version conflict")
		return ErrVersionConflict
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
