package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SeatLock is the ephemeral half of the seat guard: a set-once key per
// (schedule, seat) whose value is the ticket holding the claim and whose TTL
// is the hold window. First writer wins; the key is never refreshed.
type SeatLock struct {
	client *redis.Client
}

func NewSeatLock(client *redis.Client) *SeatLock {
	return &SeatLock{client: client}
}

func (l *SeatLock) Client() *redis.Client {
	return l.client
}

func lockKey(scheduleID uuid.UUID, seatNumber string) string {
	return "seatlock:" + scheduleID.String() + ":" + seatNumber
}

// Acquire claims (scheduleID, seatNumber) for ticketID. Returns false when
// another ticket already holds the key. An error means the lock store itself
// failed; callers must treat that as a rejection, not as an open seat.
func (l *SeatLock) Acquire(ctx context.Context, scheduleID uuid.UUID, seatNumber string, ticketID uuid.UUID, ttl time.Duration) (bool, error) {
	res := l.client.SetNX(ctx, lockKey(scheduleID, seatNumber), ticketID.String(), ttl)
	return res.Val(), res.Err()
}

// releaseScript deletes the key only while ticketID still holds it, so a
// ticket whose lock already TTL-expired cannot delete a successor's claim.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Release clears the claim held by ticketID. A key that is absent or held by
// someone else is left alone; both cases return nil, release is idempotent.
func (l *SeatLock) Release(ctx context.Context, scheduleID uuid.UUID, seatNumber string, ticketID uuid.UUID) error {
	return releaseScript.Run(ctx, l.client, []string{lockKey(scheduleID, seatNumber)}, ticketID.String()).Err()
}

// Holder returns the ticket currently holding the claim, or uuid.Nil when
// the key is absent.
func (l *SeatLock) Holder(ctx context.Context, scheduleID uuid.UUID, seatNumber string) (uuid.UUID, error) {
	val, err := l.client.Get(ctx, lockKey(scheduleID, seatNumber)).Result()
	if err == redis.Nil {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(val)
}
