package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/pkg/database"
	"github.com/prohmpiriya/ticket-engine/pkg/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const uniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL with pgxpool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

const ticketColumns = `id, ticket_type_id, event_id, order_id, buyer_id, price_paid::text, token, state, redeemed_at, issued_at, version`

func (s *PostgresStore) Insert(ctx context.Context, tickets []*domain.Ticket) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.insert")
	defer span.End()
	span.SetAttributes(attribute.Int("count", len(tickets)))

	query := `
		INSERT INTO tickets (
			id, ticket_type_id, event_id, order_id, buyer_id,
			price_paid, token, state, issued_at, version
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, 1)
		ON CONFLICT (id) DO NOTHING
	`

	err := database.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, t := range tickets {
			batch.Queue(query, t.ID, t.TicketTypeID, t.EventID, t.OrderID, t.BuyerID,
				t.PricePaid.String(), t.Token, string(t.State), t.IssuedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			span.SetStatus(codes.Error, "duplicate token")
			return domain.ErrDuplicateToken
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to insert tickets: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		t          domain.Ticket
		price      string
		state      string
		redeemedAt *time.Time
	)
	if err := row.Scan(&t.ID, &t.TicketTypeID, &t.EventID, &t.OrderID, &t.BuyerID,
		&price, &t.Token, &state, &redeemedAt, &t.IssuedAt, &t.Version); err != nil {
		return nil, err
	}
	var err error
	if t.PricePaid, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("corrupt price_paid: %w", err)
	}
	t.State = domain.TicketState(state)
	t.RedeemedAt = redeemedAt
	return &t, nil
}

func (s *PostgresStore) getOne(ctx context.Context, spanName, where, arg string) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, spanName)
	defer span.End()

	t, err := scanTicket(s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrTicketNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	span.SetAttributes(attribute.String("ticket_id", t.ID))
	span.SetStatus(codes.Ok, "")
	return t, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	return s.getOne(ctx, "repo.postgres.ticket.get_by_id", "id = $1", id)
}

func (s *PostgresStore) GetByToken(ctx context.Context, token string) (*domain.Ticket, error) {
	return s.getOne(ctx, "repo.postgres.ticket.get_by_token", "token = $1", token)
}

func (s *PostgresStore) CompareAndSwap(ctx context.Context, t *domain.Ticket) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.cas")
	defer span.End()
	span.SetAttributes(attribute.String("ticket_id", t.ID), attribute.Int64("expected_version", t.Version))

	tag, err := s.pool.Exec(ctx, `
		UPDATE tickets
		SET state = $2, redeemed_at = $3, version = version + 1
		WHERE id = $1 AND version = $4
	`, t.ID, string(t.State), t.RedeemedAt, t.Version)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "version conflict")
		return ErrVersionConflict
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *PostgresStore) list(ctx context.Context, spanName, column, value string) ([]*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, spanName)
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE `+column+` = $1 ORDER BY issued_at, id`, value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var out []*domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tickets: %w", err)
	}
	span.SetAttributes(attribute.Int("count", len(out)))
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (s *PostgresStore) ListByOrder(ctx context.Context, orderID string) ([]*domain.Ticket, error) {
	return s.list(ctx, "repo.postgres.ticket.list_by_order", "order_id", orderID)
}

func (s *PostgresStore) ListByBuyer(ctx context.Context, buyerID string) ([]*domain.Ticket, error) {
	return s.list(ctx, "repo.postgres.ticket.list_by_buyer", "buyer_id", buyerID)
}
