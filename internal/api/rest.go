package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/miradorstack/blackbox/internal/config"
	"github.com/miradorstack/blackbox/internal/models"
	"github.com/miradorstack/blackbox/internal/utils"
)

const maxBodyBytes = 1 << 20

// Backend is what the REST gateway needs from the incident service.
type Backend interface {
	IngestJSON(ctx context.Context, data []byte) (models.IngestResult, error)
	ListEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error)
	ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error)
	Detail(ctx context.Context, id int64) (models.IncidentDetail, error)
	Resolve(ctx context.Context, id int64) (models.Incident, error)
	Health(ctx context.Context) error
}

// StatusDocument is served on GET /.
type StatusDocument struct {
	Service string `json:"service"`
	Status  string `json:"status"`
	Purpose string `json:"purpose"`
}

// ResolveResponse is returned by PATCH /incidents/{id}/resolve.
type ResolveResponse struct {
	Status     string `json:"status"`
	IncidentID int64  `json:"incident_id"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Gateway serves the JSON HTTP API.
type Gateway struct {
	r       *chi.Mux
	backend Backend
	logger  *slog.Logger
	origins []string
}

// NewGateway builds the chi router over backend.
func NewGateway(backend Backend, logger *slog.Logger, corsOrigins []string) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{r: chi.NewRouter(), backend: backend, logger: logger, origins: corsOrigins}

	g.r.Use(middleware.RequestID)
	g.r.Use(middleware.Recoverer)
	g.r.Use(g.accessLog)
	g.r.Use(g.cors)

	g.routes()
	return g
}

func (g *Gateway) routes() {
	g.r.Get("/", g.getStatus)
	g.r.Get("/healthz", g.getHealth)

	g.r.Post("/events", g.postEvent)
	g.r.Get("/events", g.getEvents)

	g.r.Get("/incidents", g.getIncidents)
	g.r.Get("/incidents/{id}", g.getIncident)
	g.r.Patch("/incidents/{id}/resolve", g.resolveIncident)
}

// Handler exposes the router.
func (g *Gateway) Handler() http.Handler { return g.r }

func (g *Gateway) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusDocument{
		Service: "BLACKBOX",
		Status:  "operational",
		Purpose: "incident reasoning platform",
	})
}

func (g *Gateway) getHealth(w http.ResponseWriter, r *http.Request) {
	if err := g.backend.Health(r.Context()); err != nil {
		g.logger.Warn("health check failed", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) postEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("read body: %v", err))
		return
	}
	result, err := g.backend.IngestJSON(r.Context(), body)
	if err != nil {
		g.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result.Event)
}

func (g *Gateway) getEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.EventFilter{
		Service:     q.Get("service"),
		Environment: q.Get("environment"),
		Level:       models.Level(q.Get("level")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("limit %q must be a non-negative integer", raw))
			return
		}
		filter.Limit = limit
	}
	events, err := g.backend.ListEvents(r.Context(), filter)
	if err != nil {
		g.fail(w, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (g *Gateway) getIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.IncidentFilter{
		Status:      models.Status(q.Get("status")),
		Environment: q.Get("environment"),
	}
	incidents, err := g.backend.ListIncidents(r.Context(), filter)
	if err != nil {
		g.fail(w, err)
		return
	}
	if incidents == nil {
		incidents = []models.Incident{}
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (g *Gateway) getIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := incidentID(w, r)
	if !ok {
		return
	}
	detail, err := g.backend.Detail(r.Context(), id)
	if err != nil {
		g.fail(w, err)
		return
	}
	if detail.Timeline == nil {
		detail.Timeline = []models.TimelineEntry{}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (g *Gateway) resolveIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := incidentID(w, r)
	if !ok {
		return
	}
	inc, err := g.backend.Resolve(r.Context(), id)
	if err != nil {
		g.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResolveResponse{Status: string(inc.Status), IncidentID: inc.ID})
}

func incidentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("incident id %q must be an integer", raw))
		return 0, false
	}
	return id, true
}

// fail maps the error taxonomy onto HTTP status codes.
func (g *Gateway) fail(w http.ResponseWriter, err error) {
	switch {
	case utils.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case utils.IsValidation(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		g.logger.Error("request failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (g *Gateway) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		g.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (g *Gateway) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := g.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if origin != "*" {
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) allowedOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	for _, o := range g.origins {
		if o == "*" {
			return "*"
		}
		if strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, errorResponse{Detail: detail})
}

// HTTPServer runs the gateway with graceful shutdown.
type HTTPServer struct {
	srv      *http.Server
	listener net.Listener
}

// NewHTTPServer binds handler to cfg.HTTPAddress.
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) (*HTTPServer, error) {
	lis, err := net.Listen("tcp", cfg.HTTPAddress)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddress, err)
	}
	return &HTTPServer{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
		listener: lis,
	}, nil
}

// Start serves until Shutdown; a clean shutdown returns nil.
func (s *HTTPServer) Start() error {
	if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, closing outright when ctx expires.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		_ = s.srv.Close()
		return err
	}
	return nil
}

// Address exposes the bound listener address.
func (s *HTTPServer) Address() string { return s.listener.Addr().String() }
