// Package http serves the public hazard API next to the health, readiness,
// and metrics endpoints.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/report"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReportService accepts and queries community reports.
type ReportService interface {
	Submit(ctx context.Context, sub domain.Submission) (report.Receipt, error)
	Nearby(center domain.Location, radiusKm float64, limit int) ([]domain.Report, error)
}

// FireQuery reads stored fire detections.
type FireQuery interface {
	Nearby(center domain.Location, radiusKm float64) []domain.FireDetection
	ByState(name string) []domain.FireDetection
	History(site string) []domain.FireDetection
}

// RiskAssessor produces risk assessments for a location.
type RiskAssessor interface {
	Assess(ctx context.Context, loc domain.Location, analysisType string) (domain.RiskAssessment, error)
}

// WeatherReader returns current weather for a location.
type WeatherReader interface {
	Current(ctx context.Context, loc *domain.Location) (domain.WeatherSnapshot, error)
}

// AlertReader lists open alerts around a location.
type AlertReader interface {
	Current(center domain.Location, radiusKm float64) ([]domain.Alert, error)
}

// CrisisReader exposes the crisis state of partition cells.
type CrisisReader interface {
	State(cell string) domain.CrisisState
	States() []domain.CrisisState
}

// FamilyService stores family groups.
type FamilyService interface {
	Save(ctx context.Context, code string, g domain.FamilyGroup) (domain.FamilyGroup, error)
	Get(ctx context.Context, code string) (domain.FamilyGroup, error)
}

// Services are the collaborators behind the public API.
type Services struct {
	Reports ReportService
	Fires   FireQuery
	Risk    RiskAssessor
	Weather WeatherReader
	Alerts  AlertReader
	Crisis  CrisisReader
	Family  FamilyService
}

// Server exposes the public API plus /healthz, /readyz, and /metrics.
type Server struct {
	httpServer *http.Server
	svc        Services
	logger     *slog.Logger
}

// NewServer creates an HTTP server. API routes are served both under /api
// and at the root.
func NewServer(addr string, svc Services, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		svc:    svc,
		logger: logger,
	}

	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", s.routes)
	s.routes(r)

	return s
}

func (s *Server) routes(r chi.Router) {
	r.Post("/community-report", s.handleSubmitReport)
	r.Post("/community/report", s.handleSubmitReport)
	r.Get("/community-reports", s.handleListReports)
	r.Get("/community/reports", s.handleListReports)

	r.Get("/fire-data/nearby", s.handleFiresNearby)
	r.Get("/fire-data/state", s.handleFiresByState)
	r.Get("/fire-data/history", s.handleFireHistory)

	r.Post("/ai-analysis", s.handleAnalyze)
	r.Post("/ai-analysis/analyze", s.handleAnalyze)

	r.Get("/weather/current", s.handleWeather)
	r.Get("/alerts/current", s.handleAlerts)
	r.Get("/crisis/state", s.handleCrisisState)
	r.Get("/crisis/states", s.handleCrisisStates)

	r.Put("/family-groups/{groupCode}", s.handleSaveFamilyGroup)
	r.Get("/family-groups/{groupCode}", s.handleGetFamilyGroup)
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
