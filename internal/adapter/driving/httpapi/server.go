package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
	"github.com/diillson/cloud-finops-engine/internal/shared/types"
)

// ReportService monta um relatório agregado.
type ReportService interface {
	GetReport(ctx context.Context, req entity.ReportRequest) (*entity.AggregatedReport, error)
}

// CacheEvictor invalida relatórios em cache.
type CacheEvictor interface {
	EvictAccount(ctx context.Context, accountID string) ([]string, error)
	EvictAll(ctx context.Context) error
}

// HealthChecker verifica uma dependência externa.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type dependency struct {
	name  string
	check HealthChecker
}

const healthTimeout = 2 * time.Second

// Server expõe o Aggregator via HTTP.
type Server struct {
	reports  ReportService
	cache    CacheEvictor
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
	origins  []string
	deps     []dependency
}

// NewServer cria o servidor. gatherer pode ser nil, desativando /metrics.
func NewServer(reports ReportService, cache CacheEvictor, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	return &Server{reports: reports, cache: cache, gatherer: gatherer, logger: logger}
}

// WithAllowedOrigins habilita CORS para as origens informadas.
func (s *Server) WithAllowedOrigins(origins []string) *Server {
	s.origins = origins
	return s
}

// WithDependency inclui check no /healthz sob name. Uma dependência fora do ar
// aparece como degraded sem derrubar o health do engine.
func (s *Server) WithDependency(name string, check HealthChecker) *Server {
	s.deps = append(s.deps, dependency{name: name, check: check})
	return s
}

// Router monta as rotas da API.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", s.Health).Methods(http.MethodGet)
	if s.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/reports/{accountId}", s.GetReport).Methods(http.MethodGet)
	api.HandleFunc("/cache/{accountId}", s.EvictAccount).Methods(http.MethodDelete)
	api.HandleFunc("/cache", s.EvictAll).Methods(http.MethodDelete)

	router.Use(s.requestIDMiddleware)
	router.Use(s.loggingMiddleware)
	router.Use(s.recoveryMiddleware)

	if len(s.origins) == 0 {
		return router
	}
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	})
	return c.Handler(router)
}

// Run serve em addr até ctx ser cancelado e então encerra com graceful shutdown.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down http api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Health handles GET /healthz
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "ok"}
	if len(s.deps) == 0 {
		respondJSON(w, http.StatusOK, body)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	deps := make(map[string]string, len(s.deps))
	for _, dep := range s.deps {
		if err := dep.check.Health(ctx); err != nil {
			s.logger.Warn().Err(err).Str("dependency", dep.name).Msg("dependency unhealthy")
			deps[dep.name] = "degraded"
			body["status"] = "degraded"
			continue
		}
		deps[dep.name] = "ok"
	}
	body["dependencies"] = deps
	respondJSON(w, http.StatusOK, body)
}

// GetReport handles GET /api/v1/reports/{accountId}
func (s *Server) GetReport(w http.ResponseWriter, r *http.Request) {
	req, err := parseReportRequest(mux.Vars(r)["accountId"], r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	report, err := s.reports.GetReport(r.Context(), req)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// EvictAccount handles DELETE /api/v1/cache/{accountId}
func (s *Server) EvictAccount(w http.ResponseWriter, r *http.Request) {
	prefixes, err := s.cache.EvictAccount(r.Context(), mux.Vars(r)["accountId"])
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"evicted": prefixes})
}

// EvictAll handles DELETE /api/v1/cache
func (s *Server) EvictAll(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.EvictAll(r.Context()); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseReportRequest(accountID string, r *http.Request) (entity.ReportRequest, error) {
	q := r.URL.Query()
	req := entity.ReportRequest{
		AccountID:  accountID,
		ReportType: entity.ReportType(strings.ToLower(q.Get("type"))),
		GroupBy:    entity.Dimension(strings.ToUpper(q.Get("groupBy"))),
		TagKey:     q.Get("tagKey"),
	}

	var err error
	if req.Days, err = intParam(q.Get("days"), "days"); err != nil {
		return req, err
	}
	if req.Periods, err = intParam(q.Get("periods"), "periods"); err != nil {
		return req, err
	}
	if v := q.Get("forceRefresh"); v != "" {
		if req.ForceRefresh, err = strconv.ParseBool(v); err != nil {
			return req, types.InvalidRequestf("forceRefresh must be a boolean, got %q", v)
		}
	}
	return req, nil
}

func intParam(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, types.InvalidRequestf("%s must be an integer, got %q", name, v)
	}
	return n, nil
}

// statusOf mapeia erros do domínio para status HTTP.
func statusOf(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	event := s.logger.Warn()
	if status >= http.StatusInternalServerError {
		event = s.logger.Error()
	}
	event.Err(err).Str("path", r.URL.Path).Str("request_id", w.Header().Get("X-Request-ID")).Int("status", status).Msg("request failed")

	respondJSON(w, status, map[string]string{
		"error": err.Error(),
		"class": string(types.ClassOf(err)),
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Middleware

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error().Interface("panic", v).Str("path", r.URL.Path).Msg("recovered from panic")
				respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
