package reservation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/bus-ticket-reservations/internal/domain"
)

type CreateScheduleInput struct {
	RouteID       uuid.UUID
	BusinessID    uuid.UUID
	DepartureTime time.Time
	ArrivalTime   time.Time
	Price         float64
	VehicleType   string
	Capacity      int
	SeatLayout    string
	Seats         []domain.Seat
}

// CreateSchedule registers a schedule in the catalog. When no explicit seat
// list is supplied the seat map is derived from capacity and layout.
func (s *Service) CreateSchedule(ctx context.Context, in CreateScheduleInput) (*domain.Schedule, error) {
	seats := in.Seats
	if len(seats) == 0 {
		seats = domain.GenerateSeats(in.Capacity, in.SeatLayout)
	}

	sched := domain.Schedule{
		ID:            uuid.New(),
		RouteID:       in.RouteID,
		BusinessID:    in.BusinessID,
		DepartureTime: in.DepartureTime,
		ArrivalTime:   in.ArrivalTime,
		Price:         in.Price,
		VehicleType:   in.VehicleType,
		Capacity:      in.Capacity,
		SeatLayout:    in.SeatLayout,
		Seats:         seats,
		Status:        domain.ScheduleActive,
	}
	if err := s.schedules.Create(ctx, sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (s *Service) GetSchedule(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	return s.schedules.Get(ctx, id)
}
