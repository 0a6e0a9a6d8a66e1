package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/execution-hub/exchange-withdraw/internal/application/session"
	"github.com/execution-hub/exchange-withdraw/internal/domain/exchange"
	"github.com/execution-hub/exchange-withdraw/internal/domain/journal"
	"github.com/execution-hub/exchange-withdraw/internal/infrastructure/sse"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	registry       *session.Registry
	journal        journal.Repository
	bus            exchange.MessageChannel
	streams        *sse.Hub
	metrics        http.Handler
	relayTokenHash string
	logger         zerolog.Logger
}

// NewServer builds the API. journalRepo and metricsHandler may be nil. An
// empty relayTokenHash leaves the message relay endpoint unauthenticated.
func NewServer(
	registry *session.Registry,
	journalRepo journal.Repository,
	bus exchange.MessageChannel,
	streams *sse.Hub,
	metricsHandler http.Handler,
	relayTokenHash string,
	logger zerolog.Logger,
) *Server {
	return &Server{
		registry:       registry,
		journal:        journalRepo,
		bus:            bus,
		streams:        streams,
		metrics:        metricsHandler,
		relayTokenHash: relayTokenHash,
		logger:         logger.With().Str("service", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		timeout := middleware.Timeout(30 * time.Second)

		r.With(timeout).Post("/flows", s.createFlow)
		r.Route("/flows/{flowId}", func(r chi.Router) {
			r.Use(s.loadFlow)

			// Streams outlive the request timeout.
			r.Get("/events", s.streamEvents)

			r.Group(func(r chi.Router) {
				r.Use(timeout)
				r.Get("/", s.getFlow)
				r.Delete("/", s.deleteFlow)
				r.Get("/journal", s.getJournal)

				r.Post("/exchanges", s.loadExchanges)
				r.Post("/oauth", s.startOAuth)
				r.Post("/wallet", s.loadWallet)
				r.Post("/quote", s.requestQuote)
				r.Post("/withdrawal", s.executeWithdrawal)
				r.Post("/withdrawal/2fa", s.submit2FA)
				r.Post("/withdrawal/sms", s.submitSMS)
				r.Post("/withdrawal/retry", s.retryWithdrawal)
				r.Post("/cancel", s.cancelFlow)
			})
		})

		r.With(timeout, s.requireRelayToken).Post("/messages/{topic}", s.publishMessage)
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

// decodeBody decodes an optional JSON body. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"flows":  s.registry.Len(),
	})
}
