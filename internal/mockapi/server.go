// Package mockapi is an in-memory stand-in for the travel-plan backend.
//
// It reproduces the REST contract the load scenarios exercise: server-assigned
// UUIDs, optimistic versioning starting at 0 with 409 on mismatch, 404 on
// missing resources, 400 "Validation error" bodies, paged listing, cascade
// delete of locations and a plain-text "UP" health endpoint. It is used by the
// harness tests and by "travelerload mock" for local rehearsals.
package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mrfox365/traveler-api/internal/model"
)

// ShutdownTimeout bounds Stop
const ShutdownTimeout = 5 * time.Second

// Options tune the fake backend
type Options struct {
	// Latency is added to every request before it is handled
	Latency time.Duration
	Logger  *zap.Logger
}

// Server serves a Store over HTTP
type Server struct {
	store      *Store
	opts       Options
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a server over an empty store
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		store:  NewStore(),
		opts:   opts,
		logger: logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	if s.opts.Latency > 0 {
		r.Use(s.delay)
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api/travel-plans", func(r chi.Router) {
		r.Get("/", s.handleListPlans)
		r.Post("/", s.handleCreatePlan)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetPlan)
			r.Put("/", s.handleUpdatePlan)
			r.Delete("/", s.handleDeletePlan)
			r.Get("/locations", s.handleListLocations)
			r.Post("/locations", s.handleAddLocation)
		})
	})

	r.Route("/api/locations/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetLocation)
		r.Put("/", s.handleUpdateLocation)
		r.Delete("/", s.handleDeleteLocation)
	})

	return r
}

// Handler returns the router, for httptest servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// Store returns the backing store
func (s *Server) Store() *Store {
	return s.store
}

// Start listens on addr and serves in the background
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("mock server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("mock backend listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("mock request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) delay(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(s.opts.Latency):
		case <-r.Context().Done():
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("UP"))
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("size"))

	writeJSON(w, http.StatusOK, s.store.ListPlans(page, size, q.Get("sort")))
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req model.PlanRequest
	if !decodeBody(w, r, &req) {
		return
	}

	plan, err := s.store.CreatePlan(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	plan, err := s.store.GetPlan(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req model.PlanRequest
	if !decodeBody(w, r, &req) {
		return
	}

	plan, err := s.store.UpdatePlan(id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := s.store.DeletePlan(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	locs, err := s.store.ListLocations(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, locs)
}

func (s *Server) handleAddLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body createLocationBody
	if !decodeBody(w, r, &body) {
		return
	}

	loc, err := s.store.AddLocation(id, body.request())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loc)
}

func (s *Server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	loc, err := s.store.GetLocation(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req model.LocationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	loc, err := s.store.UpdateLocation(id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) handleDeleteLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteLocation(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pathID rejects ids that are not UUIDs with 400, like the backend's UUID path binding
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if !model.IsUUID(id) {
		writeJSON(w, http.StatusBadRequest, model.ErrorBody{
			Status:  http.StatusBadRequest,
			Error:   "Validation error",
			Message: fmt.Sprintf("invalid id %q", id),
		})
		return "", false
	}
	return id, true
}

// createLocationBody binds arrival and departure strictly, with mandatory milliseconds.
// Updates accept any ISO-8601 instant.
type createLocationBody struct {
	model.LocationRequest
	ArrivalDate   *strictTimestamp `json:"arrivalDate,omitempty"`
	DepartureDate *strictTimestamp `json:"departureDate,omitempty"`
}

func (b createLocationBody) request() model.LocationRequest {
	req := b.LocationRequest
	req.ArrivalDate = b.ArrivalDate.timestamp()
	req.DepartureDate = b.DepartureDate.timestamp()
	return req
}

type strictTimestamp struct {
	model.Timestamp
}

func (t *strictTimestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := model.ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Timestamp = parsed
	return nil
}

func (t *strictTimestamp) timestamp() *model.Timestamp {
	if t == nil {
		return nil
	}
	ts := t.Timestamp
	return &ts
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, model.ErrorBody{
			Status:  http.StatusBadRequest,
			Error:   "Validation error",
			Message: "Malformed JSON request: " + err.Error(),
		})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	var fieldErr *FieldError

	switch {
	case errors.As(err, &fieldErr):
		writeJSON(w, http.StatusBadRequest, model.ErrorBody{
			Status:   http.StatusBadRequest,
			Error:    "Validation error",
			Messages: fieldErr.Fields,
		})
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, model.ErrorBody{
			Status:  http.StatusNotFound,
			Error:   http.StatusText(http.StatusNotFound),
			Message: err.Error(),
		})
	case errors.Is(err, ErrConflict):
		writeJSON(w, http.StatusConflict, model.ErrorBody{
			Status:  http.StatusConflict,
			Error:   http.StatusText(http.StatusConflict),
			Message: "Conflict: " + err.Error() + ". Please refresh.",
		})
	default:
		writeJSON(w, http.StatusInternalServerError, model.ErrorBody{
			Status:  http.StatusInternalServerError,
			Error:   http.StatusText(http.StatusInternalServerError),
			Message: "An unexpected error occurred.",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
