package expiry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/bus-ticket-reservations/internal/domain"
	"github.com/robertarktes/bus-ticket-reservations/internal/expiry"
	"github.com/robertarktes/bus-ticket-reservations/internal/observability"
)

type fakeLedger struct {
	mu      sync.Mutex
	tickets map[uuid.UUID]domain.Ticket
}

func newFakeLedger(tickets ...domain.Ticket) *fakeLedger {
	f := &fakeLedger{tickets: make(map[uuid.UUID]domain.Ticket)}
	for _, t := range tickets {
		f.tickets[t.ID] = t
	}
	return f
}

func (f *fakeLedger) GetExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Ticket
	for _, t := range f.tickets {
		if t.Status == domain.TicketPending && !t.ExpiresAt.After(now) {
			out = append(out, t)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeLedger) GetTicket(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := t
	return &cp, nil
}

func (f *fakeLedger) MarkExpired(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok || t.Status != domain.TicketPending {
		return domain.ErrNotFound
	}
	t.Status = domain.TicketExpired
	f.tickets[id] = t
	return nil
}

func (f *fakeLedger) status(id uuid.UUID) domain.TicketStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tickets[id].Status
}

type releaseCall struct {
	scheduleID uuid.UUID
	seatNumber string
}

type fakeSeats struct {
	mu       sync.Mutex
	released []releaseCall
	failures int
}

func (f *fakeSeats) ReleaseSeat(ctx context.Context, scheduleID uuid.UUID, seatNumber string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("catalog unavailable")
	}
	f.released = append(f.released, releaseCall{scheduleID, seatNumber})
	return nil
}

type fakeLocks struct {
	mu       sync.Mutex
	released []uuid.UUID
}

func (f *fakeLocks) Release(ctx context.Context, scheduleID uuid.UUID, seatNumber string, ticketID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, ticketID)
	return nil
}

type fakeEvents struct {
	mu        sync.Mutex
	published []string
}

func (f *fakeEvents) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, key)
	return nil
}

func pendingTicket(expiresAt time.Time) domain.Ticket {
	return domain.Ticket{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		ScheduleID: uuid.New(),
		SeatNumber: "3C",
		Status:     domain.TicketPending,
		CreatedAt:  expiresAt.Add(-domain.DefaultHoldWindow),
		ExpiresAt:  expiresAt,
	}
}

func TestSweep_ExpiresLapsedPending(t *testing.T) {
	now := time.Now().UTC()
	lapsed := pendingTicket(now.Add(-time.Minute))
	fresh := pendingTicket(now.Add(time.Minute))
	ledger := newFakeLedger(lapsed, fresh)
	seats := &fakeSeats{}
	locks := &fakeLocks{}
	events := &fakeEvents{}

	w := expiry.NewWorker(ledger, seats, locks, events, observability.NewLogger())
	if err := w.Sweep(context.Background(), now); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if got := ledger.status(lapsed.ID); got != domain.TicketExpired {
		t.Errorf("lapsed ticket status = %s, want expired", got)
	}
	if got := ledger.status(fresh.ID); got != domain.TicketPending {
		t.Errorf("fresh ticket status = %s, want pending", got)
	}
	if len(seats.released) != 1 || seats.released[0] != (releaseCall{lapsed.ScheduleID, lapsed.SeatNumber}) {
		t.Errorf("seat releases = %v, want exactly the lapsed seat", seats.released)
	}
	if len(locks.released) != 1 || locks.released[0] != lapsed.ID {
		t.Errorf("lock releases = %v, want [%v]", locks.released, lapsed.ID)
	}
	if len(events.published) != 1 || events.published[0] != "ticket.expired" {
		t.Errorf("events = %v, want [ticket.expired]", events.published)
	}
}

func TestSweep_FinishesCompensationAfterTransientReleaseFailure(t *testing.T) {
	now := time.Now().UTC()
	lapsed := pendingTicket(now.Add(-time.Minute))
	ledger := newFakeLedger(lapsed)
	seats := &fakeSeats{failures: 1}
	locks := &fakeLocks{}
	events := &fakeEvents{}

	// The first attempt flips the status but fails to free the seat. The
	// retry re-enters with the ticket no longer pending and must still
	// release the seat and publish, not mistake its own flip for a
	// concurrent confirmation.
	w := expiry.NewWorker(ledger, seats, locks, events, observability.NewLogger())
	if err := w.Sweep(context.Background(), now); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if got := ledger.status(lapsed.ID); got != domain.TicketExpired {
		t.Errorf("status = %s, want expired", got)
	}
	if len(seats.released) != 1 {
		t.Errorf("seat releases = %v, want the lapsed seat freed on retry", seats.released)
	}
	if len(events.published) != 1 || events.published[0] != "ticket.expired" {
		t.Errorf("events = %v, want [ticket.expired]", events.published)
	}
}

func TestSweep_SkipsTicketConfirmedInBetween(t *testing.T) {
	now := time.Now().UTC()
	lapsed := pendingTicket(now.Add(-time.Minute))
	ledger := newFakeLedger(lapsed)
	seats := &fakeSeats{}
	locks := &fakeLocks{}
	events := &fakeEvents{}

	w := expiry.NewWorker(ledger, seats, locks, events, observability.NewLogger())

	// Confirm the ticket between the query and the flip.
	confirmed := lapsed
	confirmed.Status = domain.TicketConfirmed
	ledger.tickets[lapsed.ID] = confirmed

	if err := w.Sweep(context.Background(), now); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := ledger.status(lapsed.ID); got != domain.TicketConfirmed {
		t.Errorf("status = %s, want confirmed to survive", got)
	}
	if len(seats.released) != 0 {
		t.Errorf("seat releases = %v, want none", seats.released)
	}
	if len(events.published) != 0 {
		t.Errorf("events = %v, want none", events.published)
	}
}

func TestSweep_TerminalStateSticks(t *testing.T) {
	now := time.Now().UTC()
	lapsed := pendingTicket(now.Add(-time.Minute))
	ledger := newFakeLedger(lapsed)
	w := expiry.NewWorker(ledger, &fakeSeats{}, &fakeLocks{}, &fakeEvents{}, observability.NewLogger())

	if err := w.Sweep(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	// A later sweep over the same horizon finds nothing pending.
	seats := &fakeSeats{}
	events := &fakeEvents{}
	w2 := expiry.NewWorker(ledger, seats, &fakeLocks{}, events, observability.NewLogger())
	if err := w2.Sweep(context.Background(), now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if got := ledger.status(lapsed.ID); got != domain.TicketExpired {
		t.Errorf("status = %s, want expired", got)
	}
	if len(seats.released) != 0 || len(events.published) != 0 {
		t.Error("second sweep must be a no-op")
	}
}

func TestSweep_BatchLimit(t *testing.T) {
	now := time.Now().UTC()
	var tickets []domain.Ticket
	for i := 0; i < 150; i++ {
		tickets = append(tickets, pendingTicket(now.Add(-time.Minute)))
	}
	ledger := newFakeLedger(tickets...)
	events := &fakeEvents{}
	w := expiry.NewWorker(ledger, &fakeSeats{}, &fakeLocks{}, events, observability.NewLogger())

	if err := w.Sweep(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	if len(events.published) != 100 {
		t.Errorf("first sweep expired %d, want batch of 100", len(events.published))
	}
	if err := w.Sweep(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	if len(events.published) != 150 {
		t.Errorf("after second sweep expired %d, want all 150", len(events.published))
	}
}
