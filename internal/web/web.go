// Package web serves the agenda page and a small read-only API over the
// current store snapshot. Handlers only read; the syncer is the only writer.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"icsagenda/internal/ics"
	appLog "icsagenda/internal/log"
	"icsagenda/internal/metrics"
	"icsagenda/internal/model"
	"icsagenda/internal/store"
)

//go:embed templates/*.html
var templatesFS embed.FS

// pollInterval is how often the agenda page asks for /api/last-update.
const pollInterval = 60 * time.Second

const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	// Location is the display timezone used to decide which events are past.
	Location *time.Location
	// MaxEvents caps the agenda page; the API always returns everything.
	MaxEvents int
	// Metrics, when set, is served on /metrics.
	Metrics *metrics.Metrics
	// Title is the agenda page heading.
	Title string
}

// Server provides the HTTP handlers.
type Server struct {
	store     *store.Store
	freshness store.Freshness
	opts      Options
	now       func() time.Time
	router    chi.Router
	templates *template.Template
}

// NewServer constructs a new Server.
func NewServer(st *store.Store, opts Options) (*Server, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Title == "" {
		opts.Title = "MY AGENDA"
	}

	s := &Server{
		store:     st,
		freshness: store.NewFreshness(st),
		opts:      opts,
		now:       time.Now,
		templates: tmpl,
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)

	r.Get("/", s.handleAgenda)
	r.Get("/health", s.handleHealth)
	r.Get("/calendar.ics", s.handleCalendar)
	r.Route("/api", func(r chi.Router) {
		r.Get("/last-update", s.handleLastUpdate)
		r.Get("/events", s.handleEvents)
	})
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}

	s.router = r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type agendaPage struct {
	Title      string
	Days       []agendaDay
	LastUpdate string
	PollMillis int64
}

func (s *Server) handleAgenda(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()
	now := s.now().In(s.opts.Location)

	page := agendaPage{
		Title:      s.opts.Title,
		Days:       upcoming(snap.Events, now, s.opts.Location, s.opts.MaxEvents),
		LastUpdate: store.FormatStamp(snap.LastModified),
		PollMillis: pollInterval.Milliseconds(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "agenda.html", page); err != nil {
		appLog.Error("render agenda failed", err)
	}
}

type lastUpdateResponse struct {
	LastUpdate string `json:"last_update"`
}

func (s *Server) handleLastUpdate(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, lastUpdateResponse{LastUpdate: s.freshness.String()})
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	LastUpdate string        `json:"last_update"`
	Timezone   string        `json:"timezone"`
	Events     []model.Event `json:"events"`
}

// handleEvents returns the whole current snapshot. The stamp and the events
// come from the same snapshot.
func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()
	writeJSON(w, http.StatusOK, eventsResponse{
		LastUpdate: store.FormatStamp(snap.LastModified),
		Timezone:   s.opts.Location.String(),
		Events:     snap.Events,
	})
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Last-Modified", snap.LastModified.UTC().Format(http.TimeFormat))
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write([]byte(ics.Export(snap.Events, s.opts.Location, snap.LastModified)))
}

// requestLogger logs one debug line per request through the app logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		began := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"took", time.Since(began).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}
