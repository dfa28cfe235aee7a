package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/bus-ticket-reservations/internal/domain"
	"github.com/robertarktes/bus-ticket-reservations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type ScheduleRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewScheduleRepository(db *mongo.Database, logger observability.Logger) *ScheduleRepository {
	return &ScheduleRepository{
		coll:   db.Collection("schedules"),
		logger: logger,
	}
}

type ScheduleDoc struct {
	ID            uuid.UUID `bson:"_id"`
	RouteID       uuid.UUID `bson:"route_id"`
	BusinessID    uuid.UUID `bson:"business_id"`
	DepartureTime time.Time `bson:"departure_time"`
	ArrivalTime   time.Time `bson:"arrival_time"`
	Price         float64   `bson:"price"`
	VehicleType   string    `bson:"vehicle_type"`
	Capacity      int       `bson:"capacity"`
	SeatLayout    string    `bson:"seat_layout"`
	Seats         []SeatDoc `bson:"seats"`
	Status        string    `bson:"status"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

type SeatDoc struct {
	Number    string `bson:"seat_number"`
	Available bool   `bson:"is_available"`
	Class     string `bson:"seat_type"`
}

func (r *ScheduleRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "departure_time", Value: 1}, {Key: "route_id", Value: 1}}},
		{Keys: bson.D{{Key: "business_id", Value: 1}, {Key: "status", Value: 1}}},
	})
	return err
}

func (r *ScheduleRepository) Create(ctx context.Context, s domain.Schedule) error {
	doc := toDoc(s)
	doc.CreatedAt = time.Now().UTC()
	doc.UpdatedAt = doc.CreatedAt
	_, err := r.coll.InsertOne(ctx, doc)
	if err != nil {
		r.logger.WithError(err).Error("failed to create schedule")
		return err
	}
	return nil
}

func (r *ScheduleRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	var doc ScheduleDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		r.logger.WithError(err).Error("failed to get schedule")
		return nil, err
	}
	s := fromDoc(doc)
	return &s, nil
}

// HoldSeat atomically flips one seat to unavailable, matching only while the
// seat still reads available. Whole-document read-modify-write is a lost
// update under concurrent bookings of different seats, so the filter and the
// positional $set go to the server in one command.
func (r *ScheduleRepository) HoldSeat(ctx context.Context, scheduleID uuid.UUID, seatNumber string) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{
			"_id":   scheduleID,
			"seats": bson.M{"$elemMatch": bson.M{"seat_number": seatNumber, "is_available": true}},
		},
		bson.M{"$set": bson.M{
			"seats.$.is_available": false,
			"updated_at":           time.Now().UTC(),
		}},
	)
	if err != nil {
		r.logger.WithError(err).Error("failed to hold seat")
		return err
	}
	if result.MatchedCount == 0 {
		return domain.ErrSeatConflict
	}
	return nil
}

// ReleaseSeat flips one seat back to available. A seat that is already
// available (or a schedule since deleted) is not an error: release runs from
// cancellation and from the expiry sweep and must be idempotent.
func (r *ScheduleRepository) ReleaseSeat(ctx context.Context, scheduleID uuid.UUID, seatNumber string) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{
			"_id":   scheduleID,
			"seats": bson.M{"$elemMatch": bson.M{"seat_number": seatNumber, "is_available": false}},
		},
		bson.M{"$set": bson.M{
			"seats.$.is_available": true,
			"updated_at":           time.Now().UTC(),
		}},
	)
	if err != nil {
		r.logger.WithError(err).Error("failed to release seat")
		return err
	}
	return nil
}

func toDoc(s domain.Schedule) ScheduleDoc {
	seats := make([]SeatDoc, len(s.Seats))
	for i, seat := range s.Seats {
		seats[i] = SeatDoc{Number: seat.Number, Available: seat.Available, Class: string(seat.Class)}
	}
	return ScheduleDoc{
		ID:            s.ID,
		RouteID:       s.RouteID,
		BusinessID:    s.BusinessID,
		DepartureTime: s.DepartureTime,
		ArrivalTime:   s.ArrivalTime,
		Price:         s.Price,
		VehicleType:   s.VehicleType,
		Capacity:      s.Capacity,
		SeatLayout:    s.SeatLayout,
		Seats:         seats,
		Status:        string(s.Status),
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func fromDoc(doc ScheduleDoc) domain.Schedule {
	seats := make([]domain.Seat, len(doc.Seats))
	for i, seat := range doc.Seats {
		seats[i] = domain.Seat{Number: seat.Number, Available: seat.Available, Class: domain.SeatClass(seat.Class)}
	}
	return domain.Schedule{
		ID:            doc.ID,
		RouteID:       doc.RouteID,
		BusinessID:    doc.BusinessID,
		DepartureTime: doc.DepartureTime,
		ArrivalTime:   doc.ArrivalTime,
		Price:         doc.Price,
		VehicleType:   doc.VehicleType,
		Capacity:      doc.Capacity,
		SeatLayout:    doc.SeatLayout,
		Seats:         seats,
		Status:        domain.ScheduleStatus(doc.Status),
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
}
