package domain_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/bus-ticket-reservations/internal/domain"
)

func TestTicketStatus_CanTransitionTo(t *testing.T) {
	allowed := map[domain.TicketStatus][]domain.TicketStatus{
		domain.TicketPending:   {domain.TicketConfirmed, domain.TicketCancelled, domain.TicketExpired},
		domain.TicketConfirmed: {domain.TicketCancelled},
		domain.TicketCancelled: {},
		domain.TicketExpired:   {},
	}
	all := []domain.TicketStatus{domain.TicketPending, domain.TicketConfirmed, domain.TicketCancelled, domain.TicketExpired}

	for from, nexts := range allowed {
		ok := map[domain.TicketStatus]bool{}
		for _, n := range nexts {
			ok[n] = true
		}
		for _, to := range all {
			got := from.CanTransitionTo(to)
			if got != ok[to] {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, ok[to])
			}
		}
	}
}

func TestTicketStatus_Active(t *testing.T) {
	if !domain.TicketPending.Active() || !domain.TicketConfirmed.Active() {
		t.Error("pending and confirmed must occupy the seat")
	}
	if domain.TicketCancelled.Active() || domain.TicketExpired.Active() {
		t.Error("cancelled and expired must not occupy the seat")
	}
	if !domain.TicketCancelled.Terminal() || !domain.TicketExpired.Terminal() {
		t.Error("cancelled and expired are terminal")
	}
	if domain.TicketConfirmed.Terminal() {
		t.Error("confirmed is not terminal, it can still be cancelled")
	}
}

func TestNewTicket(t *testing.T) {
	before := time.Now().UTC()
	tk := domain.NewTicket(uuid.New(), uuid.New(), "12A",
		domain.PassengerInfo{FirstName: "An", LastName: "Nguyen", Phone: "0900000000", Email: "an@example.com"},
		domain.PaymentInfo{Method: "momo", Amount: 150000, Status: domain.PaymentCompleted},
		nil, nil, domain.DefaultHoldWindow)

	if tk.Status != domain.TicketPending {
		t.Errorf("new ticket status = %s, want pending", tk.Status)
	}
	if tk.Payment.Status != domain.PaymentPending {
		t.Errorf("payment status = %s, want pending regardless of input", tk.Payment.Status)
	}
	want := tk.CreatedAt.Add(domain.DefaultHoldWindow)
	if !tk.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want created_at + hold window", tk.ExpiresAt)
	}
	if tk.HoldLapsed(before) {
		t.Error("fresh ticket must not be lapsed")
	}
	if !tk.HoldLapsed(tk.ExpiresAt.Add(time.Second)) {
		t.Error("ticket past expires_at must be lapsed")
	}
}

func TestGenerateSeats(t *testing.T) {
	seats := domain.GenerateSeats(8, "2-2")
	if len(seats) != 8 {
		t.Fatalf("got %d seats, want 8", len(seats))
	}
	wantNumbers := []string{"1A", "1B", "1C", "1D", "2A", "2B", "2C", "2D"}
	for i, s := range seats {
		if s.Number != wantNumbers[i] {
			t.Errorf("seat %d number = %s, want %s", i, s.Number, wantNumbers[i])
		}
		if !s.Available {
			t.Errorf("seat %s must start available", s.Number)
		}
		wantClass := domain.SeatNormal
		if i < 4 {
			wantClass = domain.SeatVIP
		}
		if s.Class != wantClass {
			t.Errorf("seat %s class = %s, want %s", s.Number, s.Class, wantClass)
		}
	}
}

func TestGenerateSeats_OddCapacityAndBadLayout(t *testing.T) {
	seats := domain.GenerateSeats(5, "2-1")
	if len(seats) != 5 {
		t.Fatalf("got %d seats, want 5", len(seats))
	}
	if last := seats[4].Number; last != "2B" {
		t.Errorf("last seat = %s, want 2B", last)
	}

	// Unparseable layout falls back to 4 columns per row.
	seats = domain.GenerateSeats(4, "bogus")
	if len(seats) != 4 || seats[3].Number != "1D" {
		t.Errorf("fallback layout wrong: %+v", seats)
	}

	if domain.GenerateSeats(0, "2-2") != nil {
		t.Error("zero capacity must yield no seats")
	}
}
