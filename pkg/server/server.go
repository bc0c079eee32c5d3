// Package server exposes the policy ledger and the live event stream over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yousef-elgarch1/secureflow/pkg/engine"
	"github.com/yousef-elgarch1/secureflow/pkg/events"
	"github.com/yousef-elgarch1/secureflow/pkg/generator"
	"github.com/yousef-elgarch1/secureflow/pkg/ledger"
	"github.com/yousef-elgarch1/secureflow/pkg/logging"
	"github.com/yousef-elgarch1/secureflow/pkg/orchestrator"
	"github.com/yousef-elgarch1/secureflow/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

// Runner executes a pipeline batch.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Manifest, error)
}

type Option func(*Server)

// WithRunner enables POST /api/runs.
func WithRunner(r Runner) Option {
	return func(s *Server) { s.runner = r }
}

type Server struct {
	runner  Runner
	ledger  *ledger.Ledger
	broker  *events.Broker
	metrics *telemetry.Metrics
	router  chi.Router
	now     func() time.Time
	// heartbeat keeps idle SSE connections open through proxies.
	heartbeat time.Duration
}

// New wires the routes. broker and metrics may be nil; the matching
// endpoints then answer 404.
func New(l *ledger.Ledger, broker *events.Broker, metrics *telemetry.Metrics, opts ...Option) *Server {
	s := &Server{
		ledger:    l,
		broker:    broker,
		metrics:   metrics,
		now:       time.Now,
		heartbeat: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/policies", s.handleListPolicies)
		r.Get("/policies/{id}", s.handleGetPolicy)
		r.Post("/policies/{id}/status", s.handleTransition)
		r.Post("/policies/{id}/assign", s.handleAssign)
		r.Get("/stats", s.handleStats)
		r.Get("/dashboard", s.handleDashboard)
		if s.broker != nil {
			r.Get("/events", s.handleEvents)
		}
		if s.runner != nil {
			r.Post("/runs", s.handleRun)
		}
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
	s.router = r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Infof("serving policy api on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debugf("%s %s -> %d (%s)", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f ledger.Filter
	if v := q.Get("status"); v != "" {
		st, err := ledger.ParseStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		f.Status = st
	}
	if v := q.Get("category"); v != "" {
		c, err := engine.ParseCategory(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		f.Category = c
	}
	if v := q.Get("severity"); v != "" {
		f.Severity = engine.NormalizeSeverity(v)
	}
	f.AssignedTo = q.Get("assignee")
	if q.Get("overdue") == "true" {
		f.OverdueAt = s.now()
	}

	entries, err := s.ledger.List(f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"policies": entries, "count": len(entries)})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	e, err := s.ledger.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type transitionRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
	Note   string `json:"note"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	to, err := ledger.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.ledger.Transition(id, to, req.Actor, req.Note); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.respondWithEntry(w, id)
}

type assignRequest struct {
	Assignee string `json:"assignee"`
	Actor    string `json:"actor"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.ledger.Assign(id, req.Assignee, req.Actor); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.respondWithEntry(w, id)
}

func (s *Server) respondWithEntry(w http.ResponseWriter, id string) {
	e, err := s.ledger.Get(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.ledger.Dashboard(s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type runReport struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	// Payload is the report itself, or a JSON string holding it (ZAP XML).
	Payload json.RawMessage `json:"payload"`
}

type runRequest struct {
	Profile        string      `json:"profile"`
	MaxPerCategory int         `json:"max_per_category"`
	Reports        []runReport `json:"reports"`
}

// handleRun runs a batch synchronously and answers with its manifest.
// Progress is visible on /api/events meanwhile.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	req := orchestrator.Request{
		Profile:        generator.ParseExpertise(body.Profile),
		MaxPerCategory: body.MaxPerCategory,
	}
	for i, rep := range body.Reports {
		c, err := engine.ParseCategory(rep.Category)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("report %d: %w", i, err))
			return
		}
		payload := []byte(rep.Payload)
		var text string
		if err := json.Unmarshal(rep.Payload, &text); err == nil {
			payload = []byte(text)
		}
		req.Reports = append(req.Reports, orchestrator.Report{Name: rep.Name, Category: c, Payload: payload})
	}

	m, err := s.runner.Run(r.Context(), req)
	switch {
	case errors.Is(err, orchestrator.ErrNoFindings):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, context.DeadlineExceeded) && m != nil:
		writeJSON(w, http.StatusGatewayTimeout, m)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, m)
	}
}

// handleEvents streams broker events as server-sent events. Retained history
// is replayed first so a late observer sees the current run.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	ch, cancel := s.broker.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var lastSeq uint64
	for _, ev := range s.broker.Recent() {
		if err := writeEvent(w, ev); err != nil {
			return
		}
		lastSeq = ev.Seq
	}
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			// already replayed from history
			if ev.Seq <= lastSeq {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Phase, data)
	return err
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrActorRequired):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warnf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
