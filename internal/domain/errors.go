package domain

import "errors"

var (
	// ErrNotFound covers absent schedules and tickets, and tickets that
	// exist but are not owned by the caller or not in the expected status.
	// The cases are deliberately indistinguishable.
	ErrNotFound = errors.New("not found")

	// ErrInvalidSeat is returned when the seat number does not exist on
	// the schedule's seat map.
	ErrInvalidSeat = errors.New("invalid seat")

	// ErrSeatConflict is returned when a non-terminal ticket already
	// claims the (schedule, seat) pair.
	ErrSeatConflict = errors.New("seat conflict")

	// ErrSeatLocked is returned when the ephemeral seat lock is held by
	// another in-flight reservation.
	ErrSeatLocked = errors.New("seat locked")

	// ErrExpired is returned when the hold window lapsed before payment
	// confirmation.
	ErrExpired = errors.New("hold expired")

	// ErrInvalidState is returned for a status transition the ticket
	// state machine does not permit.
	ErrInvalidState = errors.New("invalid state transition")

	ErrSerializationFailure = errors.New("serialization failure")
)
