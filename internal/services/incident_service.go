package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/blackbox/internal/engine"
	"github.com/miradorstack/blackbox/internal/metrics"
	"github.com/miradorstack/blackbox/internal/models"
	"github.com/miradorstack/blackbox/internal/store"
	"github.com/miradorstack/blackbox/internal/utils"
)

// EventDecoder turns raw JSON ingest payloads into validated events.
type EventDecoder interface {
	DecodeEvent(data []byte) (models.NewEvent, error)
}

// IncidentService is the transport-neutral facade shared by the gRPC
// service, the REST gateway and the NATS subscriber.
type IncidentService struct {
	logger    *slog.Logger
	store     store.Store
	engine    *engine.Engine
	decoder   EventDecoder
	latencies *utils.LatencyTracker
}

// NewIncidentService wires the facade. decoder may be nil when no JSON
// surface is exposed.
func NewIncidentService(logger *slog.Logger, st store.Store, eng *engine.Engine, decoder EventDecoder) *IncidentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IncidentService{
		logger:    logger,
		store:     st,
		engine:    eng,
		decoder:   decoder,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Ingest validates, persists and then runs detection and correlation for ev
// before returning.
func (s *IncidentService) Ingest(ctx context.Context, ev models.NewEvent) (models.IngestResult, error) {
	ev = ev.Normalize()
	if err := ev.Validate(); err != nil {
		return models.IngestResult{}, err
	}

	start := time.Now()
	result, err := s.ingest(ctx, ev)
	duration := time.Since(start)
	metrics.ObserveIngest(duration, string(ev.Level), err != nil)
	if err != nil {
		s.logger.Error("ingest failed",
			slog.String("service", ev.Service),
			slog.String("environment", ev.Environment),
			slog.Any("error", err))
		return result, err
	}

	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("ingest latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}
	return result, nil
}

func (s *IncidentService) ingest(ctx context.Context, ev models.NewEvent) (models.IngestResult, error) {
	stored, err := s.store.AppendEvent(ctx, ev)
	if err != nil {
		return models.IngestResult{}, fmt.Errorf("append event: %w", err)
	}
	result := models.IngestResult{Event: stored}

	processed, err := s.engine.Process(ctx, stored)
	if err != nil {
		return result, fmt.Errorf("process event %d: %w", stored.ID, err)
	}
	result.Opened = processed.Opened
	result.Correlations = processed.Correlations
	return result, nil
}

// IngestJSON decodes a JSON payload and ingests it.
func (s *IncidentService) IngestJSON(ctx context.Context, data []byte) (models.IngestResult, error) {
	if s.decoder == nil {
		return models.IngestResult{}, errors.New("services: no event decoder configured")
	}
	ev, err := s.decoder.DecodeEvent(data)
	if err != nil {
		return models.IngestResult{}, err
	}
	return s.Ingest(ctx, ev)
}

// ListEvents is a read-only diagnostic listing, newest first.
func (s *IncidentService) ListEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	if filter.Level != "" && !filter.Level.Valid() {
		return nil, utils.Invalid("services.ListEvents", fmt.Sprintf("unknown level %q", filter.Level))
	}
	return s.store.ListEvents(ctx, filter)
}

// ListIncidents returns incidents by start_time descending.
func (s *IncidentService) ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, utils.Invalid("services.ListIncidents", fmt.Sprintf("unknown status %q", filter.Status))
	}
	return s.store.ListIncidents(ctx, filter)
}

// Detail returns the incident with its timeline and root-cause summary.
func (s *IncidentService) Detail(ctx context.Context, id int64) (models.IncidentDetail, error) {
	return s.engine.Detail(ctx, id)
}

// Resolve closes an incident manually.
func (s *IncidentService) Resolve(ctx context.Context, id int64) (models.Incident, error) {
	return s.engine.Resolve(ctx, id)
}

// Health reports whether the backing store is reachable.
func (s *IncidentService) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// LatencyP95 returns the current p95 ingest latency.
func (s *IncidentService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}
