package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/bus-ticket-reservations/internal/idempotency"
	"github.com/robertarktes/bus-ticket-reservations/internal/observability"
	"github.com/robertarktes/bus-ticket-reservations/internal/ratelimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *ratelimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(IdentityMiddleware)
	r.Use(RateLimitMiddleware(rl))
	r.Use(IdempotencyMiddleware(idemp))

	r.Post("/v1/tickets", h.CreateTicket)
	r.Get("/v1/tickets", h.ListMyTickets)
	r.Put("/v1/tickets/{id}/confirm", h.ConfirmPayment)
	r.Put("/v1/tickets/{id}/cancel", h.CancelTicket)
	r.Post("/v1/schedules", h.CreateSchedule)
	r.Get("/v1/schedules/{id}", h.GetSchedule)
	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
