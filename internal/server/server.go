// Package server exposes health, audit and recent-event views over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/events"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/health"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/logging"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/metrics"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/registry"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/services"
)

const defaultEventLimit = 100

type Server struct {
	r       *chi.Mux
	reg     *registry.Registry
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
}

func New(reg *registry.Registry, bus *events.Bus, m *metrics.Metrics, logger *zap.SugaredLogger) *Server {
	s := &Server{
		r:       chi.NewRouter(),
		reg:     reg,
		bus:     bus,
		metrics: m,
		logger:  logging.OrNop(logger),
	}
	s.r.Use(middleware.RequestID)
	s.r.Use(s.logRequests)
	s.r.Use(middleware.Recoverer)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })
	s.r.Get("/status", s.getStatus)
	s.r.Post("/audit", s.postAudit)
	s.r.Post("/audit/{service}", s.postAudit)
	s.r.Get("/events", s.getEvents)
	s.r.Get("/events/{service}", s.getEvents)
	if s.metrics != nil {
		s.r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
}

func (s *Server) Handler() http.Handler { return s.r }

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("status server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debugw("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, health.Summarize(r.Context(), s.reg.All()))
}

type auditResponse struct {
	Results []schema.AuditResult    `json:"results"`
	Totals  map[schema.Severity]int `json:"totals"`
}

func (s *Server) postAudit(w http.ResponseWriter, r *http.Request) {
	adapters, ok := s.selectAdapters(w, r)
	if !ok {
		return
	}
	results := health.AuditAll(r.Context(), adapters, s.logger)
	writeJSON(w, http.StatusOK, auditResponse{Results: results, Totals: health.Totals(results)})
}

// logReader covers firewall and intrusion-prevention adapters.
type logReader interface {
	RecentEvents(ctx context.Context, limit int) []schema.Event
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	name := chi.URLParam(r, "service")
	if name == "" {
		writeJSON(w, http.StatusOK, s.bus.Recent(limit))
		return
	}

	a, err := s.reg.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var out []schema.Event
	switch v := a.(type) {
	case services.Monitor:
		out = v.GetRecentEvents(limit)
	case logReader:
		out = v.RecentEvents(r.Context(), limit)
	default:
		writeError(w, http.StatusBadRequest, name+" does not produce events")
		return
	}
	if out == nil {
		out = []schema.Event{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) selectAdapters(w http.ResponseWriter, r *http.Request) ([]services.Adapter, bool) {
	name := chi.URLParam(r, "service")
	if name == "" {
		return s.reg.All(), true
	}
	a, err := s.reg.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return []services.Adapter{a}, true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
