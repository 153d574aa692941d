// Package api exposes parties, spins and the dish catalog over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dinner-roulette/internal/auth"
	"dinner-roulette/internal/dish"
	"dinner-roulette/internal/logging"
	"dinner-roulette/internal/party"
)

// DishLister reads the dish catalog.
type DishLister interface {
	List(ctx context.Context) ([]dish.Dish, error)
	ListByCategory(ctx context.Context, c dish.Category) ([]dish.Dish, error)
}

// Subscriber upgrades a request into a room subscription.
type Subscriber interface {
	ServeWS(w http.ResponseWriter, r *http.Request, room, memberID string) error
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	parties *party.Service
	dishes  DishLister
	tokens  *auth.Issuer
	hub     Subscriber
}

// NewServer creates a new Server.
func NewServer(parties *party.Service, dishes DishLister, tokens *auth.Issuer, hub Subscriber) *Server {
	return &Server{parties: parties, dishes: dishes, tokens: tokens, hub: hub}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/dishes", s.listDishes)
	r.Post("/spin", s.soloSpin)

	r.Route("/parties", func(r chi.Router) {
		r.Post("/", s.createParty)

		r.Route("/{code}", func(r chi.Router) {
			r.Post("/join", s.joinParty)
			r.Get("/constraints", s.constraints)
			r.Get("/spins", s.history)
			r.Get("/ws", s.subscribe)

			r.Group(func(r chi.Router) {
				r.Use(s.requireMember)
				r.Delete("/members/me", s.leaveParty)
				r.Post("/close", s.closeParty)
				r.Put("/preferences", s.submitPreferences)
				r.Post("/spin", s.spin)
				r.Post("/chat", s.chat)
			})
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logging.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
