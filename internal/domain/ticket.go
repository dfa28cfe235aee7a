package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultHoldWindow is how long a pending ticket reserves its seat before
// auto-expiry.
const DefaultHoldWindow = 5 * time.Minute

type TicketStatus string

const (
	TicketPending   TicketStatus = "pending"
	TicketConfirmed TicketStatus = "confirmed"
	TicketCancelled TicketStatus = "cancelled"
	TicketExpired   TicketStatus = "expired"
)

// Active reports whether the ticket still occupies its seat.
func (s TicketStatus) Active() bool {
	return s == TicketPending || s == TicketConfirmed
}

// Terminal reports whether no further transition is permitted.
func (s TicketStatus) Terminal() bool {
	return s == TicketCancelled || s == TicketExpired
}

// CanTransitionTo encodes the ticket state machine: pending may confirm,
// cancel, or expire; confirmed may only cancel. Nothing re-enters pending.
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	switch s {
	case TicketPending:
		return next == TicketConfirmed || next == TicketCancelled || next == TicketExpired
	case TicketConfirmed:
		return next == TicketCancelled
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type PassengerInfo struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
}

type PaymentInfo struct {
	Method        string        `json:"method"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Amount        float64       `json:"amount"`
	Status        PaymentStatus `json:"status"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
}

type CancellationInfo struct {
	CancelledAt time.Time `json:"cancelled_at"`
	Reason      string    `json:"reason"`
}

// StopPoint is a snapshot of a pickup or dropoff stop taken at booking time,
// so later route edits do not rewrite history.
type StopPoint struct {
	Name          string `json:"name"`
	Address       string `json:"address"`
	EstimatedTime int    `json:"estimated_time"` // minutes from departure
}

type Ticket struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	ScheduleID   uuid.UUID
	SeatNumber   string
	Status       TicketStatus
	Passenger    PassengerInfo
	Payment      PaymentInfo
	Cancellation *CancellationInfo
	Pickup       *StopPoint
	Dropoff      *StopPoint
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// NewTicket builds a pending ticket whose hold window starts now.
func NewTicket(userID, scheduleID uuid.UUID, seatNumber string, passenger PassengerInfo, payment PaymentInfo, pickup, dropoff *StopPoint, holdWindow time.Duration) Ticket {
	now := time.Now().UTC()
	payment.Status = PaymentPending
	return Ticket{
		ID:         uuid.New(),
		UserID:     userID,
		ScheduleID: scheduleID,
		SeatNumber: seatNumber,
		Status:     TicketPending,
		Passenger:  passenger,
		Payment:    payment,
		Pickup:     pickup,
		Dropoff:    dropoff,
		CreatedAt:  now,
		ExpiresAt:  now.Add(holdWindow),
	}
}

// HoldLapsed reports whether the hold window has passed at the given instant.
func (t Ticket) HoldLapsed(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
