package crdb

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/bus-ticket-reservations/internal/domain"
	"github.com/robertarktes/bus-ticket-reservations/internal/observability"
	"golang.org/x/sync/errgroup"
)

const (
	SerializationFailureCode = "40001"
)

// Schema for the ticket ledger. The partial unique index is the durable
// half of the dual seat guard: at most one pending/confirmed ticket per
// (schedule, seat) can ever exist, whatever the lock store is doing.
const Schema = `
CREATE TABLE IF NOT EXISTS tickets (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL,
	schedule_id UUID NOT NULL,
	seat_no TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('pending', 'confirmed', 'cancelled', 'expired')),
	passenger_json JSONB NOT NULL,
	payment_json JSONB NOT NULL,
	cancellation_json JSONB,
	pickup_json JSONB,
	dropoff_json JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS tickets_active_seat
	ON tickets (schedule_id, seat_no)
	WHERE status IN ('pending', 'confirmed');
CREATE INDEX IF NOT EXISTS tickets_pending_expiry
	ON tickets (expires_at)
	WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS tickets_by_user
	ON tickets (user_id, created_at DESC);
CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id UUID NOT NULL,
	event_type TEXT NOT NULL,
	payload_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ,
	status TEXT NOT NULL DEFAULT 'NEW',
	dedupe_key TEXT NOT NULL
);
`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, Schema)
	return err
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	err = fn(tx)
	if err == nil {
		// Serialization conflicts often only surface at commit.
		err = tx.Commit(ctx)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}
	return nil
}

// CreateTicket inserts a pending ticket. The conditional insert rides the
// partial unique index: losing to an existing non-terminal ticket reports
// ErrSeatConflict without raising a constraint violation.
func (r *Repository) CreateTicket(ctx context.Context, tx pgx.Tx, t domain.Ticket) error {
	passenger, payment, cancellation, pickup, dropoff, err := marshalTicketDocs(t)
	if err != nil {
		return err
	}

	result, err := tx.Exec(ctx, `
		INSERT INTO tickets (id, user_id, schedule_id, seat_no, status,
			passenger_json, payment_json, cancellation_json, pickup_json, dropoff_json,
			created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (schedule_id, seat_no) WHERE status IN ('pending', 'confirmed') DO NOTHING
	`, t.ID, t.UserID, t.ScheduleID, t.SeatNumber, t.Status,
		passenger, payment, cancellation, pickup, dropoff,
		t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrSeatConflict
	}
	return nil
}

// GetOwnedForUpdate fetches a ticket by id and owner, restricted to the
// given statuses, locking the row. Absent, foreign and wrong-status tickets
// all come back as ErrNotFound.
func (r *Repository) GetOwnedForUpdate(ctx context.Context, tx pgx.Tx, id, userID uuid.UUID, statuses ...domain.TicketStatus) (*domain.Ticket, error) {
	if len(statuses) == 0 {
		return nil, errors.New("at least one status required")
	}
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE id = $1 AND user_id = $2 AND status = ANY($3)
		FOR UPDATE
	`, id, userID, statusStrings(statuses))
	return scanTicket(row)
}

// UpdateTicket persists the mutable ticket fields (status, payment,
// cancellation) inside the caller's transaction.
func (r *Repository) UpdateTicket(ctx context.Context, tx pgx.Tx, t domain.Ticket) error {
	_, payment, cancellation, _, _, err := marshalTicketDocs(t)
	if err != nil {
		return err
	}
	result, err := tx.Exec(ctx, `
		UPDATE tickets
		SET status = $2, payment_json = $3, cancellation_json = $4
		WHERE id = $1
	`, t.ID, t.Status, payment, cancellation)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) GetTicket(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets WHERE id = $1
	`, id)
	return scanTicket(row)
}

// ListUserTickets pages through a user's tickets, newest first. Items and
// the total count are fetched concurrently.
func (r *Repository) ListUserTickets(ctx context.Context, userID uuid.UUID, status domain.TicketStatus, page, limit int) ([]domain.Ticket, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	filter := `user_id = $1`
	args := []interface{}{userID}
	if status != "" {
		filter += ` AND status = $2`
		args = append(args, status)
	}

	var (
		tickets []domain.Ticket
		total   int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		listArgs := append(append([]interface{}{}, args...), limit, (page-1)*limit)
		rows, err := r.pool.Query(gctx, `
			SELECT `+ticketColumns+`
			FROM tickets WHERE `+filter+`
			ORDER BY created_at DESC
			LIMIT $`+strconv.Itoa(len(args)+1)+` OFFSET $`+strconv.Itoa(len(args)+2),
			listArgs...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTicket(rows)
			if err != nil {
				return err
			}
			tickets = append(tickets, *t)
		}
		return rows.Err()
	})
	g.Go(func() error {
		return r.pool.QueryRow(gctx, `SELECT count(*) FROM tickets WHERE `+filter, args...).Scan(&total)
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return tickets, total, nil
}

// GetExpiredPending returns pending tickets whose hold window lapsed at or
// before now, oldest first, for the reconciliation sweep.
func (r *Repository) GetExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

// MarkExpired flips a pending ticket to expired. The status guard makes the
// sweep safe against a confirmation that slipped in between query and update.
func (r *Repository) MarkExpired(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE tickets SET status = 'expired' WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const ticketColumns = `id, user_id, schedule_id, seat_no, status,
	passenger_json, payment_json, cancellation_json, pickup_json, dropoff_json,
	created_at, expires_at`

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		t            domain.Ticket
		passenger    []byte
		payment      []byte
		cancellation []byte
		pickup       []byte
		dropoff      []byte
	)
	err := row.Scan(&t.ID, &t.UserID, &t.ScheduleID, &t.SeatNumber, &t.Status,
		&passenger, &payment, &cancellation, &pickup, &dropoff,
		&t.CreatedAt, &t.ExpiresAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(passenger, &t.Passenger); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payment, &t.Payment); err != nil {
		return nil, err
	}
	if cancellation != nil {
		t.Cancellation = &domain.CancellationInfo{}
		if err := json.Unmarshal(cancellation, t.Cancellation); err != nil {
			return nil, err
		}
	}
	if pickup != nil {
		t.Pickup = &domain.StopPoint{}
		if err := json.Unmarshal(pickup, t.Pickup); err != nil {
			return nil, err
		}
	}
	if dropoff != nil {
		t.Dropoff = &domain.StopPoint{}
		if err := json.Unmarshal(dropoff, t.Dropoff); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func marshalTicketDocs(t domain.Ticket) (passenger, payment, cancellation, pickup, dropoff []byte, err error) {
	if passenger, err = json.Marshal(t.Passenger); err != nil {
		return
	}
	if payment, err = json.Marshal(t.Payment); err != nil {
		return
	}
	if t.Cancellation != nil {
		if cancellation, err = json.Marshal(t.Cancellation); err != nil {
			return
		}
	}
	if t.Pickup != nil {
		if pickup, err = json.Marshal(t.Pickup); err != nil {
			return
		}
	}
	if t.Dropoff != nil {
		if dropoff, err = json.Marshal(t.Dropoff); err != nil {
			return
		}
	}
	return
}

func statusStrings(statuses []domain.TicketStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
