// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
	"github.com/JakeFAU/boxoffice-crawler/internal/config"
	"github.com/JakeFAU/boxoffice-crawler/internal/metrics"
	"github.com/JakeFAU/boxoffice-crawler/internal/schedule"
)

const (
	maxEventBytes  = 64 << 10
	requestTimeout = 60 * time.Second
	readyTimeout   = 3 * time.Second
)

// StateReader exposes the schedule document.
type StateReader interface {
	State(ctx context.Context) (schedule.State, error)
}

// EventPublisher sends a validated envelope to a topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, env boxoffice.Envelope) (string, error)
}

// MovieReader loads canonical movie records.
type MovieReader interface {
	Load(ctx context.Context, movieID string) (*boxoffice.Movie, error)
}

// SnapshotReader loads stored ranking snapshots.
type SnapshotReader interface {
	Snapshot(ctx context.Context, d civil.Date) ([]boxoffice.RankingRow, error)
}

// Router picks the topic that carries events of a type.
type Router func(t boxoffice.EventType) string

// Check reports whether a downstream dependency is usable.
type Check func(ctx context.Context) error

// Deps are the components the handlers read from. Nil members make their
// routes answer 503.
type Deps struct {
	State    StateReader
	Events   EventPublisher
	Route    Router
	Movies   MovieReader
	Rankings SnapshotReader
	Ready    map[string]Check
}

// Server wires HTTP handlers to the schedule, bus and stores.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/schedule", s.getSchedule)
		r.Post("/events", s.postEvent)
		r.Get("/movies/{movie_id}", s.getMovie)
		r.Get("/rankings/{date}", s.getRanking)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	failed := map[string]string{}
	for name, check := range s.deps.Ready {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// getSchedule serves the state document as stored, the same view a DEBUG
// event logs.
func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	if s.deps.State == nil {
		writeError(w, http.StatusServiceUnavailable, "schedule unavailable")
		return
	}
	state, err := s.deps.State.State(r.Context())
	if errors.Is(err, schedule.ErrStateNotInitialized) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("read schedule failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read schedule")
		return
	}
	body, err := schedule.EncodeState(state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode schedule")
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(body))
}

func (s *Server) postEvent(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil || s.deps.Route == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus unavailable")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	env, err := boxoffice.DecodeEnvelope(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	topic := s.deps.Route(env.EventType)
	id, err := s.deps.Events.Publish(r.Context(), topic, env)
	if err != nil {
		s.logger.Error("publish event failed",
			zap.String("event_type", string(env.EventType)),
			zap.String("topic", topic),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "failed to publish event")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": id, "topic": topic})
}

type movieResponse struct {
	Movie        json.RawMessage `json:"movie"`
	GrossRevenue int64           `json:"gross_revenue"`
	Provisional  bool            `json:"provisional"`
}

func (s *Server) getMovie(w http.ResponseWriter, r *http.Request) {
	if s.deps.Movies == nil {
		writeError(w, http.StatusServiceUnavailable, "movie store unavailable")
		return
	}
	id := chi.URLParam(r, "movie_id")
	movie, err := s.deps.Movies.Load(r.Context(), id)
	if errors.Is(err, boxoffice.ErrNotFound) {
		writeError(w, http.StatusNotFound, "movie not found")
		return
	}
	if err != nil {
		s.logger.Error("load movie failed", zap.String("movie_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load movie")
		return
	}
	body, err := boxoffice.EncodeMovie(movie)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode movie")
		return
	}
	writeJSON(w, http.StatusOK, movieResponse{
		Movie:        body,
		GrossRevenue: movie.GrossRevenue(),
		// Nothing marks a run as finished, so every total is provisional.
		Provisional: true,
	})
}

func (s *Server) getRanking(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rankings == nil {
		writeError(w, http.StatusServiceUnavailable, "ranking store unavailable")
		return
	}
	d, err := civil.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	rows, err := s.deps.Rankings.Snapshot(r.Context(), d)
	if errors.Is(err, boxoffice.ErrNotFound) {
		writeError(w, http.StatusNotFound, "ranking not found")
		return
	}
	if err != nil {
		s.logger.Error("load ranking failed", zap.Stringer("date", d), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load ranking")
		return
	}
	body, err := boxoffice.EncodeSnapshot(rows)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode ranking")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": d, "rows": json.RawMessage(body)})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.String("request_id", reqID),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
