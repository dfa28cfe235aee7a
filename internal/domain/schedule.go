package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ScheduleStatus string

const (
	ScheduleActive    ScheduleStatus = "active"
	ScheduleInactive  ScheduleStatus = "inactive"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

type SeatClass string

const (
	SeatNormal SeatClass = "normal"
	SeatVIP    SeatClass = "vip"
)

type Seat struct {
	Number    string
	Available bool
	Class     SeatClass
}

type Schedule struct {
	ID            uuid.UUID
	RouteID       uuid.UUID
	BusinessID    uuid.UUID
	DepartureTime time.Time
	ArrivalTime   time.Time
	Price         float64
	VehicleType   string // sitting or sleeping
	Capacity      int
	SeatLayout    string // e.g. "2-2"
	Seats         []Seat
	Status        ScheduleStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Seat returns the seat record for the given number, if it exists on this
// schedule.
func (s *Schedule) Seat(number string) (Seat, bool) {
	for _, seat := range s.Seats {
		if seat.Number == number {
			return seat, true
		}
	}
	return Seat{}, false
}

// Bookable reports whether the schedule accepts new reservations.
func (s *Schedule) Bookable() bool {
	return s.Status == ScheduleActive
}

// GenerateSeats derives a seat map from capacity and a layout string such as
// "2-2" (two seats, aisle, two seats). Seat numbers are row-major "1A".."NX";
// the first row is VIP, the rest normal.
func GenerateSeats(capacity int, layout string) []Seat {
	if capacity <= 0 {
		return nil
	}

	colsPerRow := 0
	for _, part := range strings.Split(layout, "-") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err == nil {
			colsPerRow += n
		}
	}
	if colsPerRow <= 0 {
		colsPerRow = 4
	}

	seats := make([]Seat, 0, capacity)
	for row := 1; len(seats) < capacity; row++ {
		for col := 0; col < colsPerRow && len(seats) < capacity; col++ {
			class := SeatNormal
			if row == 1 {
				class = SeatVIP
			}
			seats = append(seats, Seat{
				Number:    strconv.Itoa(row) + string(rune('A'+col)),
				Available: true,
				Class:     class,
			})
		}
	}
	return seats
}
