package expiry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/bus-ticket-reservations/internal/domain"
	"github.com/robertarktes/bus-ticket-reservations/internal/observability"
)

type TicketLedger interface {
	GetExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error)
	GetTicket(ctx context.Context, id uuid.UUID) (*domain.Ticket, error)
	MarkExpired(ctx context.Context, id uuid.UUID) error
}

type SeatReleaser interface {
	ReleaseSeat(ctx context.Context, scheduleID uuid.UUID, seatNumber string) error
}

type LockReleaser interface {
	Release(ctx context.Context, scheduleID uuid.UUID, seatNumber string, ticketID uuid.UUID) error
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Worker is the expiry reconciler: it flips lapsed pending tickets to
// expired and performs the compensation the raw expiry mechanism does not do
// on its own, freeing the catalog seat flag and clearing any residual lock.
// The lock's own TTL self-clears at the same horizon, so a delayed sweep
// degrades availability of the seat listing, never correctness.
type Worker struct {
	tickets   TicketLedger
	schedules SeatReleaser
	locks     LockReleaser
	events    EventPublisher
	logger    observability.Logger
	batchSize int
}

func NewWorker(tickets TicketLedger, schedules SeatReleaser, locks LockReleaser, events EventPublisher, logger observability.Logger) *Worker {
	return &Worker{
		tickets:   tickets,
		schedules: schedules,
		locks:     locks,
		events:    events,
		logger:    logger,
		batchSize: 100,
	}
}

func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := w.Sweep(ctx, now.UTC()); err != nil {
				w.logger.WithError(err).Error("expiry sweep failed")
			}
		}
	}
}

// Sweep reconciles every pending ticket whose hold window lapsed at or
// before now.
func (w *Worker) Sweep(ctx context.Context, now time.Time) error {
	tickets, err := w.tickets.GetExpiredPending(ctx, now, w.batchSize)
	if err != nil {
		return err
	}
	for _, t := range tickets {
		if err := w.expireWithRetry(ctx, t); err != nil {
			w.logger.WithError(err).WithField("ticket_id", t.ID).Error("failed to expire ticket after retries")
		}
	}
	return nil
}

func (w *Worker) expireWithRetry(ctx context.Context, t domain.Ticket) error {
	const maxRetries = 3
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		lastErr = w.expire(ctx, t)
		if lastErr == nil || errors.Is(lastErr, context.Canceled) {
			return lastErr
		}
	}
	return errors.Wrapf(lastErr, "after %d retries", maxRetries)
}

func (w *Worker) expire(ctx context.Context, t domain.Ticket) error {
	err := w.tickets.MarkExpired(ctx, t.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// The ticket is no longer pending. Either a confirmation or a
		// cancellation slipped in between, or an earlier attempt already
		// flipped it and then failed partway through the compensation. Only
		// the first case is done; the second must finish releasing.
		cur, getErr := w.tickets.GetTicket(ctx, t.ID)
		if getErr != nil {
			return getErr
		}
		if cur.Status != domain.TicketExpired {
			return nil
		}
	case err != nil:
		return err
	default:
		observability.TicketsExpired.Inc()
	}

	if err := w.schedules.ReleaseSeat(ctx, t.ScheduleID, t.SeatNumber); err != nil {
		return err
	}
	if err := w.locks.Release(ctx, t.ScheduleID, t.SeatNumber, t.ID); err != nil {
		// The lock TTL clears it at the same horizon anyway.
		w.logger.WithError(err).WithField("ticket_id", t.ID).Warn("residual lock release failed")
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"ticket_id":   t.ID,
		"schedule_id": t.ScheduleID,
		"seat_no":     t.SeatNumber,
	})
	msg := amqp.Publishing{
		MessageId:   uuid.New().String(),
		ContentType: "application/json",
		Body:        payload,
	}
	if err := w.events.Publish(ctx, "ticket.expired", msg); err != nil {
		observability.RabbitPublishRetries.Inc()
		return err
	}
	return nil
}
