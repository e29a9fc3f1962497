// Package api is the HTTP submission boundary: it accepts report requests,
// hands them to a dispatcher and serves report records for polling.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/renovation-report/internal/classify"
	"github.com/sells-group/renovation-report/internal/dispatch"
	"github.com/sells-group/renovation-report/internal/freshness"
	"github.com/sells-group/renovation-report/internal/metrics"
	"github.com/sells-group/renovation-report/internal/model"
	"github.com/sells-group/renovation-report/internal/store"
)

const (
	maxBodyBytes    = 1 << 16
	defaultPageSize = 50
	maxPageSize     = 200
)

// Options configure the HTTP server.
type Options struct {
	CORSOrigins   []string
	FreshnessDays int
}

// Server serves the report API.
type Server struct {
	store      store.Store
	classifier *classify.Classifier
	cache      *freshness.Cache
	dispatcher dispatch.Dispatcher
	opts       Options
	validate   *validator.Validate
}

// New creates a server. cache may be nil to disable freshness reuse.
func New(st store.Store, classifier *classify.Classifier, cache *freshness.Cache, d dispatch.Dispatcher, opts Options) *Server {
	return &Server{
		store:      st,
		classifier: classifier,
		cache:      cache,
		dispatcher: d,
		opts:       opts,
		validate:   validator.New(),
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/reports", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rep, err := s.store.GetReport(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		zap.L().Error("api: get report", zap.String("report_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load report")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ReportFilter{Limit: defaultPageSize}
	if v := q.Get("status"); v != "" {
		st, ok := parseStatus(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "status must be one of pending, processing, completed, failed")
			return
		}
		filter.Status = st
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	reports, err := s.store.ListReports(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list reports", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list reports")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports, "count": len(reports)})
}

func parseStatus(v string) (model.ReportStatus, bool) {
	switch st := model.ReportStatus(v); st {
	case model.StatusPending, model.StatusProcessing, model.StatusCompleted, model.StatusFailed:
		return st, true
	}
	return "", false
}

// instrument counts requests by route pattern and logs them.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
