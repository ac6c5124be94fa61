package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/pkg/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresCatalogRepository implements CatalogRepository using PostgreSQL
type PostgresCatalogRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalogRepository creates a new PostgresCatalogRepository
func NewPostgresCatalogRepository(pool *pgxpool.Pool) *PostgresCatalogRepository {
	return &PostgresCatalogRepository{pool: pool}
}

var _ CatalogRepository = (*PostgresCatalogRepository)(nil)

func (r *PostgresCatalogRepository) UpsertEvent(ctx context.Context, event *domain.Event) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.event.upsert")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", event.ID))

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	status := event.Status
	if status == "" {
		status = "published"
	}

	query := `
		INSERT INTO events (id, name, venue, starts_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			venue = EXCLUDED.venue,
			starts_at = EXCLUDED.starts_at,
			status = EXCLUDED.status
	`
	var startsAt *time.Time
	if !event.StartsAt.IsZero() {
		startsAt = &event.StartsAt
	}
	if _, err := r.pool.Exec(ctx, query, event.ID, event.Name, event.Venue, startsAt, status, event.CreatedAt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to upsert event: %w", err)
	}
	event.Status = status
	span.SetStatus(codes.Ok, "")
	return nil
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var (
		e        domain.Event
		startsAt *time.Time
	)
	if err := row.Scan(&e.ID, &e.Name, &e.Venue, &startsAt, &e.Status, &e.CreatedAt); err != nil {
		return nil, err
	}
	if startsAt != nil {
		e.StartsAt = *startsAt
	}
	return &e, nil
}

func (r *PostgresCatalogRepository) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.event.get")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", id))

	row := r.pool.QueryRow(ctx, `
		SELECT id, name, venue, starts_at, status, created_at
		FROM events WHERE id = $1
	`, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrEventNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return e, nil
}

func (r *PostgresCatalogRepository) ListEvents(ctx context.Context) ([]*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.event.list")
	defer span.End()

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, venue, starts_at, status, created_at
		FROM events ORDER BY id
	`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	span.SetAttributes(attribute.Int("count", len(events)))
	span.SetStatus(codes.Ok, "")
	return events, nil
}

func (r *PostgresCatalogRepository) UpsertTicketType(ctx context.Context, tt *domain.TicketType) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket_type.upsert")
	defer span.End()
	span.SetAttributes(attribute.String("ticket_type_id", tt.ID), attribute.String("event_id", tt.EventID))

	now := time.Now()
	query := `
		INSERT INTO ticket_types (id, event_id, label, unit_price, currency, capacity, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE SET
			label = EXCLUDED.label,
			unit_price = EXCLUDED.unit_price,
			currency = EXCLUDED.currency,
			capacity = EXCLUDED.capacity,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`
	err := r.pool.QueryRow(ctx, query,
		tt.ID, tt.EventID, tt.Label, tt.UnitPrice.StringFixed(2), tt.Currency, tt.Capacity, now,
	).Scan(&tt.CreatedAt, &tt.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			span.SetStatus(codes.Error, "event not found")
			return domain.ErrEventNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to upsert ticket type: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

const ticketTypeColumns = `id, event_id, label, unit_price::text, currency, capacity, created_at, updated_at`

func scanTicketType(row pgx.Row) (*domain.TicketType, error) {
	var (
		tt    domain.TicketType
		price string
	)
	if err := row.Scan(&tt.ID, &tt.EventID, &tt.Label, &price, &tt.Currency, &tt.Capacity, &tt.CreatedAt, &tt.UpdatedAt); err != nil {
		return nil, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("corrupt unit price for %s: %w", tt.ID, err)
	}
	tt.UnitPrice = p
	return &tt, nil
}

func (r *PostgresCatalogRepository) GetTicketType(ctx context.Context, id string) (*domain.TicketType, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket_type.get")
	defer span.End()
	span.SetAttributes(attribute.String("ticket_type_id", id))

	tt, err := scanTicketType(r.pool.QueryRow(ctx, `SELECT `+ticketTypeColumns+` FROM ticket_types WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrTicketTypeNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get ticket type: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return tt, nil
}

func (r *PostgresCatalogRepository) queryTicketTypes(ctx context.Context, query string, args ...interface{}) ([]*domain.TicketType, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ticket types: %w", err)
	}
	defer rows.Close()

	var out []*domain.TicketType
	for rows.Next() {
		tt, err := scanTicketType(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket type: %w", err)
		}
		out = append(out, tt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ticket types: %w", err)
	}
	return out, nil
}

func (r *PostgresCatalogRepository) ListTicketTypes(ctx context.Context, eventID string) ([]*domain.TicketType, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket_type.list")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))

	out, err := r.queryTicketTypes(ctx, `SELECT `+ticketTypeColumns+` FROM ticket_types WHERE event_id = $1 ORDER BY id`, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (r *PostgresCatalogRepository) ListAllTicketTypes(ctx context.Context) ([]*domain.TicketType, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket_type.list_all")
	defer span.End()

	out, err := r.queryTicketTypes(ctx, `SELECT `+ticketTypeColumns+` FROM ticket_types ORDER BY id`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (r *PostgresCatalogRepository) UpdateCapacity(ctx context.Context, id string, capacity int) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket_type.update_capacity")
	defer span.End()
	span.SetAttributes(attribute.String("ticket_type_id", id), attribute.Int("capacity", capacity))

	tag, err := r.pool.Exec(ctx, `UPDATE ticket_types SET capacity = $2, updated_at = now() WHERE id = $1`, id, capacity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update capacity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "not found")
		return domain.ErrTicketTypeNotFound
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
