package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/bus-ticket-reservations/internal/config"
	"github.com/robertarktes/bus-ticket-reservations/internal/domain"
	"github.com/robertarktes/bus-ticket-reservations/internal/idempotency"
	"github.com/robertarktes/bus-ticket-reservations/internal/reservation"
)

// ReservationService is what the handlers need from the reservation core.
type ReservationService interface {
	CreateReservation(ctx context.Context, in reservation.CreateReservationInput) (*domain.Ticket, error)
	ConfirmPayment(ctx context.Context, ticketID, userID uuid.UUID, transactionID string) (*domain.Ticket, error)
	CancelTicket(ctx context.Context, ticketID, userID uuid.UUID, reason string) (*domain.Ticket, error)
	ListMyTickets(ctx context.Context, userID uuid.UUID, status domain.TicketStatus, page, limit int) ([]domain.Ticket, int, error)
	CreateSchedule(ctx context.Context, in reservation.CreateScheduleInput) (*domain.Schedule, error)
	GetSchedule(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
}

type Handlers struct {
	cfg     *config.Config
	service ReservationService
	idemp   *idempotency.Idempotency
}

func NewHandlers(cfg *config.Config, service ReservationService, idemp *idempotency.Idempotency) *Handlers {
	return &Handlers{cfg: cfg, service: service, idemp: idemp}
}

type envelope struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Message    string      `json:"message,omitempty"`
	Pagination interface{} `json:"pagination,omitempty"`
}

type ticketResponse struct {
	ID           uuid.UUID                `json:"id"`
	UserID       uuid.UUID                `json:"user_id"`
	ScheduleID   uuid.UUID                `json:"schedule_id"`
	SeatNumber   string                   `json:"seat_number"`
	Status       domain.TicketStatus      `json:"status"`
	Passenger    domain.PassengerInfo     `json:"passenger_info"`
	Payment      domain.PaymentInfo       `json:"payment_info"`
	Cancellation *domain.CancellationInfo `json:"cancellation_info,omitempty"`
	Pickup       *domain.StopPoint        `json:"pickup_point,omitempty"`
	Dropoff      *domain.StopPoint        `json:"dropoff_point,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
	ExpiresAt    time.Time                `json:"expires_at"`
}

func toTicketResponse(t domain.Ticket) ticketResponse {
	return ticketResponse{
		ID:           t.ID,
		UserID:       t.UserID,
		ScheduleID:   t.ScheduleID,
		SeatNumber:   t.SeatNumber,
		Status:       t.Status,
		Passenger:    t.Passenger,
		Payment:      t.Payment,
		Cancellation: t.Cancellation,
		Pickup:       t.Pickup,
		Dropoff:      t.Dropoff,
		CreatedAt:    t.CreatedAt,
		ExpiresAt:    t.ExpiresAt,
	}
}

func (h *Handlers) CreateTicket(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Success: false, Message: "missing identity"})
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if existing, err := h.idemp.Get(r.Context(), key); err == nil && existing != nil {
		replay(w, existing)
		return
	}

	var req struct {
		ScheduleID uuid.UUID            `json:"schedule_id"`
		SeatNumber string               `json:"seat_number"`
		Passenger  domain.PassengerInfo `json:"passenger_info"`
		Payment    domain.PaymentInfo   `json:"payment_info"`
		Pickup     *domain.StopPoint    `json:"pickup_point"`
		Dropoff    *domain.StopPoint    `json:"dropoff_point"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "invalid request body"})
		return
	}

	ticket, err := h.service.CreateReservation(r.Context(), reservation.CreateReservationInput{
		ScheduleID: req.ScheduleID,
		SeatNumber: req.SeatNumber,
		UserID:     userID,
		Passenger:  req.Passenger,
		Payment:    req.Payment,
		Pickup:     req.Pickup,
		Dropoff:    req.Dropoff,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	data := mustJSON(envelope{Success: true, Data: toTicketResponse(*ticket)})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(data)

	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Success: false, Message: "missing identity"})
		return
	}
	ticketID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "invalid ticket id"})
		return
	}

	var req struct {
		TransactionID string `json:"transaction_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "invalid request body"})
		return
	}

	ticket, err := h.service.ConfirmPayment(r.Context(), ticketID, userID, req.TransactionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: toTicketResponse(*ticket)})
}

func (h *Handlers) CancelTicket(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Success: false, Message: "missing identity"})
		return
	}
	ticketID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "invalid ticket id"})
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional for cancellation.
	json.NewDecoder(r.Body).Decode(&req)

	ticket, err := h.service.CancelTicket(r.Context(), ticketID, userID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: toTicketResponse(*ticket)})
}

func (h *Handlers) ListMyTickets(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Success: false, Message: "missing identity"})
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	status := domain.TicketStatus(r.URL.Query().Get("status"))

	tickets, total, err := h.service.ListMyTickets(r.Context(), userID, status, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]ticketResponse, len(tickets))
	for i, t := range tickets {
		items[i] = toTicketResponse(t)
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	totalPages := (total + limit - 1) / limit
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data:    items,
		Pagination: map[string]int{
			"page":        page,
			"limit":       limit,
			"total":       total,
			"total_pages": totalPages,
		},
	})
}

func (h *Handlers) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Success: false, Message: "missing identity"})
		return
	}

	var req struct {
		RouteID       uuid.UUID `json:"route_id"`
		DepartureTime time.Time `json:"departure_time"`
		ArrivalTime   time.Time `json:"arrival_time"`
		Price         float64   `json:"price"`
		VehicleType   string    `json:"vehicle_type"`
		Capacity      int       `json:"capacity"`
		SeatLayout    string    `json:"seat_layout"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "invalid request body"})
		return
	}

	sched, err := h.service.CreateSchedule(r.Context(), reservation.CreateScheduleInput{
		RouteID:       req.RouteID,
		BusinessID:    userID,
		DepartureTime: req.DepartureTime,
		ArrivalTime:   req.ArrivalTime,
		Price:         req.Price,
		VehicleType:   req.VehicleType,
		Capacity:      req.Capacity,
		SeatLayout:    req.SeatLayout,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: sched})
}

func (h *Handlers) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "invalid schedule id"})
		return
	}
	sched, err := h.service.GetSchedule(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: sched})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func writeError(w http.ResponseWriter, err error) {
	var status int
	var msg string
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrInvalidSeat):
		status, msg = http.StatusBadRequest, "seat not found on this schedule"
	case errors.Is(err, domain.ErrSeatConflict):
		status, msg = http.StatusConflict, "seat is already reserved or booked"
	case errors.Is(err, domain.ErrSeatLocked):
		status, msg = http.StatusConflict, "seat is being reserved by another request"
	case errors.Is(err, domain.ErrExpired):
		status, msg = http.StatusGone, "reservation hold expired"
	case errors.Is(err, domain.ErrInvalidState):
		status, msg = http.StatusUnprocessableEntity, "ticket state does not permit this operation"
	case errors.Is(err, domain.ErrSerializationFailure):
		status, msg = http.StatusConflict, "conflict, try again"
	default:
		status, msg = http.StatusInternalServerError, "internal error"
	}
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func mustJSON(v interface{}) []byte {
	data, _ := json.Marshal(v)
	return data
}

func replay(w http.ResponseWriter, resp *idempotency.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	w.Write(resp.Result)
}
