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

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    uuid.UUID `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error {
	log := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.WithError(err).Error("failed to insert audit log")
		return err
	}
	return nil
}

// LogTicket records a ticket lifecycle step, e.g. "ticket.confirmed".
func (a *AuditLogger) LogTicket(ctx context.Context, action string, t domain.Ticket) error {
	data := map[string]interface{}{
		"ticket_id":   t.ID,
		"schedule_id": t.ScheduleID,
		"seat_no":     t.SeatNumber,
		"status":      string(t.Status),
		"expires_at":  t.ExpiresAt.Format(time.RFC3339),
	}
	return a.LogEvent(ctx, action, t.UserID, data)
}
