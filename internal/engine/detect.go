package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/miradorstack/blackbox/internal/models"
	"github.com/miradorstack/blackbox/internal/utils"
)

// detectKey length-prefixes the service so ("a:b", "c") and ("a", "b:c")
// never share a lock.
func detectKey(service, environment string) string {
	return fmt.Sprintf("detect:%d:%s:%s", len(service), service, environment)
}

// DetectIncident opens an incident when the error count for service in
// environment over [now-DetectionWindow, now] reaches ErrorThreshold and no
// incident is already open for the pair. It returns nil when nothing was
// opened.
func (e *Engine) DetectIncident(ctx context.Context, service, environment string) (*models.Incident, error) {
	release, err := e.locker.Acquire(ctx, detectKey(service, environment))
	if err != nil {
		return nil, fmt.Errorf("acquire detection lock: %w", err)
	}
	defer release()

	now := e.now().UTC()
	windowStart := now.Add(-e.cfg.DetectionWindow)

	count, err := e.store.CountErrors(ctx, service, environment, windowStart, now)
	if err != nil {
		return nil, fmt.Errorf("count errors: %w", err)
	}
	if count < e.cfg.ErrorThreshold {
		return nil, nil
	}

	candidate := models.Incident{
		PrimaryService: service,
		Environment:    environment,
		StartTime:      windowStart,
		Severity:       e.severity(count),
		Status:         models.StatusOpen,
	}
	inc, created, err := e.store.CreateIncidentIfNoneOpen(ctx, candidate)
	if utils.IsConflict(err) {
		e.logger.Debug("incident creation lost race",
			slog.String("service", service), slog.String("environment", environment))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}
	if !created {
		return nil, nil
	}

	e.recorder.IncidentOpened(string(inc.Severity))
	e.logger.Info("incident opened",
		slog.Int64("incident_id", inc.ID),
		slog.String("service", service),
		slog.String("environment", environment),
		slog.String("severity", string(inc.Severity)),
		slog.Int("error_count", count))
	return &inc, nil
}

func (e *Engine) severity(count int) models.Severity {
	if count >= e.cfg.HighSeverityThreshold {
		return models.SeverityHigh
	}
	return models.SeverityMedium
}
