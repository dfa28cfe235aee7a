package reservation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/bus-ticket-reservations/internal/adapters/crdb"
	"github.com/robertarktes/bus-ticket-reservations/internal/domain"
	"github.com/robertarktes/bus-ticket-reservations/internal/observability"
)

// TicketStore is the durable ticket ledger. The partial uniqueness guard on
// active (schedule, seat) pairs lives here.
type TicketStore interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	CreateTicket(ctx context.Context, tx pgx.Tx, t domain.Ticket) error
	GetOwnedForUpdate(ctx context.Context, tx pgx.Tx, id, userID uuid.UUID, statuses ...domain.TicketStatus) (*domain.Ticket, error)
	UpdateTicket(ctx context.Context, tx pgx.Tx, t domain.Ticket) error
	GetTicket(ctx context.Context, id uuid.UUID) (*domain.Ticket, error)
	ListUserTickets(ctx context.Context, userID uuid.UUID, status domain.TicketStatus, page, limit int) ([]domain.Ticket, int, error)
	InsertOutbox(ctx context.Context, tx pgx.Tx, record crdb.OutboxRecord) error
}

// ScheduleStore is the schedule catalog holding the embedded per-seat
// availability flags.
type ScheduleStore interface {
	Create(ctx context.Context, s domain.Schedule) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
	HoldSeat(ctx context.Context, scheduleID uuid.UUID, seatNumber string) error
	ReleaseSeat(ctx context.Context, scheduleID uuid.UUID, seatNumber string) error
}

// SeatLocker is the ephemeral first-writer-wins claim on a (schedule, seat)
// pair. Errors from it are store failures, never "seat is free".
type SeatLocker interface {
	Acquire(ctx context.Context, scheduleID uuid.UUID, seatNumber string, ticketID uuid.UUID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, scheduleID uuid.UUID, seatNumber string, ticketID uuid.UUID) error
}

// Auditor records ticket lifecycle steps out of band.
type Auditor interface {
	LogTicket(ctx context.Context, action string, t domain.Ticket) error
}

type Service struct {
	tickets   TicketStore
	schedules ScheduleStore
	locks     SeatLocker
	audit     Auditor
	logger    observability.Logger
	holdTTL   time.Duration
}

func NewService(tickets TicketStore, schedules ScheduleStore, locks SeatLocker, audit Auditor, logger observability.Logger, holdTTL time.Duration) *Service {
	if holdTTL <= 0 {
		holdTTL = domain.DefaultHoldWindow
	}
	return &Service{
		tickets:   tickets,
		schedules: schedules,
		locks:     locks,
		audit:     audit,
		logger:    logger,
		holdTTL:   holdTTL,
	}
}

type CreateReservationInput struct {
	ScheduleID uuid.UUID
	SeatNumber string
	UserID     uuid.UUID
	Passenger  domain.PassengerInfo
	Payment    domain.PaymentInfo
	Pickup     *domain.StopPoint
	Dropoff    *domain.StopPoint
}

// CreateReservation runs the seat-claim protocol: durable conditional insert,
// then the atomic lock, then the catalog seat flag, all inside one ledger
// transaction. Either every guard is in place when it returns, or none is.
func (s *Service) CreateReservation(ctx context.Context, in CreateReservationInput) (*domain.Ticket, error) {
	sched, err := s.schedules.Get(ctx, in.ScheduleID)
	if err != nil {
		return nil, err
	}
	if !sched.Bookable() {
		return nil, domain.ErrNotFound
	}
	if _, ok := sched.Seat(in.SeatNumber); !ok {
		return nil, domain.ErrInvalidSeat
	}

	if in.Payment.Amount == 0 {
		in.Payment.Amount = sched.Price
	}
	ticket := domain.NewTicket(in.UserID, in.ScheduleID, in.SeatNumber, in.Passenger, in.Payment, in.Pickup, in.Dropoff, s.holdTTL)

	var lockHeld, seatHeld bool
	err = s.tickets.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.tickets.CreateTicket(ctx, tx, ticket); err != nil {
			return err
		}

		ok, err := s.locks.Acquire(ctx, ticket.ScheduleID, ticket.SeatNumber, ticket.ID, s.holdTTL)
		if err != nil {
			// Lock store down: fail closed, the rollback removes the ticket.
			return errors.Wrap(err, "seat lock store")
		}
		if !ok {
			observability.SeatLockFailures.Inc()
			return domain.ErrSeatLocked
		}
		lockHeld = true

		if err := s.schedules.HoldSeat(ctx, ticket.ScheduleID, ticket.SeatNumber); err != nil {
			return err
		}
		seatHeld = true

		return s.tickets.InsertOutbox(ctx, tx, crdb.NewTicketEvent(ticket.ID, "ticket.created", ticketPayload(ticket)))
	})
	if err != nil {
		// The ledger rolled back; undo whatever side effects went through.
		s.compensate(ctx, ticket, lockHeld, seatHeld)
		observability.ReservationsTotal.WithLabelValues(resultLabel(err)).Inc()
		return nil, err
	}

	observability.ReservationsTotal.WithLabelValues("created").Inc()
	if s.audit != nil {
		if err := s.audit.LogTicket(ctx, "ticket.created", ticket); err != nil {
			s.logger.WithError(err).Warn("audit log failed")
		}
	}
	return &ticket, nil
}

// ConfirmPayment moves an owned pending ticket to confirmed. The hold window
// is re-checked explicitly: a lapsed ticket is rejected even when the sweep
// has not flipped it yet.
func (s *Service) ConfirmPayment(ctx context.Context, ticketID, userID uuid.UUID, transactionID string) (*domain.Ticket, error) {
	var ticket *domain.Ticket
	err := s.tickets.WithTx(ctx, func(tx pgx.Tx) error {
		t, err := s.tickets.GetOwnedForUpdate(ctx, tx, ticketID, userID, domain.TicketPending)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if t.HoldLapsed(now) {
			return domain.ErrExpired
		}
		if !t.Status.CanTransitionTo(domain.TicketConfirmed) {
			return domain.ErrInvalidState
		}

		t.Status = domain.TicketConfirmed
		t.Payment.Status = domain.PaymentCompleted
		t.Payment.TransactionID = transactionID
		t.Payment.PaidAt = &now

		if err := s.tickets.UpdateTicket(ctx, tx, *t); err != nil {
			return err
		}
		if err := s.tickets.InsertOutbox(ctx, tx, crdb.NewTicketEvent(t.ID, "ticket.confirmed", ticketPayload(*t))); err != nil {
			return err
		}
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The durable record is now the sole source of truth for the seat;
	// the ephemeral claim is no longer needed.
	if err := s.locks.Release(ctx, ticket.ScheduleID, ticket.SeatNumber, ticket.ID); err != nil {
		s.logger.WithError(err).WithField("ticket_id", ticket.ID).Warn("seat lock release failed, TTL will clear it")
	}
	if s.audit != nil {
		if err := s.audit.LogTicket(ctx, "ticket.confirmed", *ticket); err != nil {
			s.logger.WithError(err).Warn("audit log failed")
		}
	}
	return ticket, nil
}

// CancelTicket cancels an owned pending or confirmed ticket, frees the seat
// and drops the lock. Both releases are idempotent: the lock may have
// TTL-expired and the seat may already have been reconciled.
func (s *Service) CancelTicket(ctx context.Context, ticketID, userID uuid.UUID, reason string) (*domain.Ticket, error) {
	if reason == "" {
		reason = "user cancelled"
	}

	var ticket *domain.Ticket
	err := s.tickets.WithTx(ctx, func(tx pgx.Tx) error {
		t, err := s.tickets.GetOwnedForUpdate(ctx, tx, ticketID, userID, domain.TicketPending, domain.TicketConfirmed)
		if err != nil {
			return err
		}
		if !t.Status.CanTransitionTo(domain.TicketCancelled) {
			return domain.ErrInvalidState
		}

		t.Status = domain.TicketCancelled
		t.Cancellation = &domain.CancellationInfo{
			CancelledAt: time.Now().UTC(),
			Reason:      reason,
		}

		if err := s.tickets.UpdateTicket(ctx, tx, *t); err != nil {
			return err
		}
		if err := s.tickets.InsertOutbox(ctx, tx, crdb.NewTicketEvent(t.ID, "ticket.cancelled", ticketPayload(*t))); err != nil {
			return err
		}
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The sweep only reconciles pending tickets, so a cancelled ticket's
	// seat flag has no other path back to available.
	if err := s.releaseSeatWithRetry(ctx, ticket.ScheduleID, ticket.SeatNumber); err != nil {
		s.logger.WithError(err).WithField("ticket_id", ticket.ID).Error("seat release failed after retries")
	}
	if err := s.locks.Release(ctx, ticket.ScheduleID, ticket.SeatNumber, ticket.ID); err != nil {
		s.logger.WithError(err).WithField("ticket_id", ticket.ID).Warn("seat lock release failed, TTL will clear it")
	}
	if s.audit != nil {
		if err := s.audit.LogTicket(ctx, "ticket.cancelled", *ticket); err != nil {
			s.logger.WithError(err).Warn("audit log failed")
		}
	}
	return ticket, nil
}

// ListMyTickets pages through the caller's tickets, optionally filtered by
// status, newest first.
func (s *Service) ListMyTickets(ctx context.Context, userID uuid.UUID, status domain.TicketStatus, page, limit int) ([]domain.Ticket, int, error) {
	return s.tickets.ListUserTickets(ctx, userID, status, page, limit)
}

func (s *Service) compensate(ctx context.Context, t domain.Ticket, lockHeld, seatHeld bool) {
	if seatHeld {
		if err := s.releaseSeatWithRetry(ctx, t.ScheduleID, t.SeatNumber); err != nil {
			s.logger.WithError(err).WithField("ticket_id", t.ID).Error("seat flag compensation failed")
		}
	}
	if lockHeld {
		if err := s.locks.Release(ctx, t.ScheduleID, t.SeatNumber, t.ID); err != nil {
			s.logger.WithError(err).WithField("ticket_id", t.ID).Warn("lock compensation failed, TTL will clear it")
		}
	}
}

func (s *Service) releaseSeatWithRetry(ctx context.Context, scheduleID uuid.UUID, seatNumber string) error {
	const maxRetries = 3
	var err error
	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * 100 * time.Millisecond):
			}
		}
		if err = s.schedules.ReleaseSeat(ctx, scheduleID, seatNumber); err == nil {
			return nil
		}
	}
	return errors.Wrapf(err, "after %d retries", maxRetries)
}

func ticketPayload(t domain.Ticket) []byte {
	payload, _ := json.Marshal(map[string]interface{}{
		"ticket_id":   t.ID,
		"schedule_id": t.ScheduleID,
		"seat_no":     t.SeatNumber,
		"status":      t.Status,
	})
	return payload
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrSeatConflict):
		return "seat_conflict"
	case errors.Is(err, domain.ErrSeatLocked):
		return "seat_locked"
	case errors.Is(err, domain.ErrSerializationFailure):
		return "serialization_failure"
	default:
		return "error"
	}
}
